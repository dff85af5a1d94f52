package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"linguachat/internal/config"
	"linguachat/internal/domain"
	"linguachat/internal/history"
	"linguachat/internal/storage"

	"github.com/spf13/cobra"
)

// Archive entries for slot contents are named after their key.
const slotEntrySuffix = ".slot"

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of conversations and config",
		Long: `Creates a compressed .tar.gz archive containing the stored conversation
collection, its metadata and the configuration file. Works with every storage
backend. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if outputPath == "" {
				backupDir := filepath.Join(cfg.General.DataDir, "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("linguachat-backup-%s.tar.gz", ts))
			}

			slot, err := storage.Open(cfg.Storage, logger)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			defer slot.Close()

			entries, err := collectEntries(cmd.Context(), slot, cfgPath)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (no stored conversations and no config at %s)", cfgPath)
			}

			if err := createTarGz(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Entries included: %d\n", len(entries))
			for _, e := range entries {
				fmt.Printf("  - %s (%s)\n", e.name, humanSize(int64(len(e.data))))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <dataDir>/backups/linguachat-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file]",
		Short: "Restore conversations and config from a backup archive",
		Long: `Restores the conversation collection, its metadata and the configuration
file from a .tar.gz archive created by 'linguachat backup'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: linguachat restore <file.tar.gz>")
			}

			cfgPath := resolveConfigPath()
			entries, err := readTarGz(inputPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			// The archived config decides where conversations go.
			for _, e := range entries {
				if !isSlotEntry(e.name) {
					if err := restoreConfig(cfgPath, e, force); err != nil {
						return err
					}
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			slot, err := storage.Open(cfg.Storage, logger)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			defer slot.Close()

			keys := history.DefaultKeys()
			if !force {
				existing, err := slot.Read(cmd.Context(), keys.Collection)
				if err != nil {
					return fmt.Errorf("read storage: %w", err)
				}
				if len(existing) > 0 {
					fmt.Printf("WARNING: This will overwrite the stored conversations in %s.\n", storageLocation(cfg))
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored := 0
			for _, e := range entries {
				if !isSlotEntry(e.name) {
					continue
				}
				key := strings.TrimSuffix(e.name, slotEntrySuffix)
				if err := slot.Write(cmd.Context(), key, e.data); err != nil {
					return fmt.Errorf("write %s: %w", key, err)
				}
				restored++
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Slots restored: %d\n", restored)
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

type archiveEntry struct {
	name string
	data []byte
}

func isSlotEntry(name string) bool {
	return strings.HasSuffix(name, slotEntrySuffix)
}

// collectEntries reads both history slots and the config file.
func collectEntries(ctx context.Context, slot domain.Slot, cfgPath string) ([]archiveEntry, error) {
	var entries []archiveEntry
	keys := history.DefaultKeys()
	for _, key := range []string{keys.Collection, keys.Metadata} {
		data, err := slot.Read(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if data == nil {
			continue
		}
		entries = append(entries, archiveEntry{name: key + slotEntrySuffix, data: data})
	}

	if data, err := os.ReadFile(cfgPath); err == nil {
		entries = append(entries, archiveEntry{name: filepath.Base(cfgPath), data: data})
	}
	return entries, nil
}

func restoreConfig(cfgPath string, e archiveEntry, force bool) error {
	if filepath.Ext(e.name) != filepath.Ext(cfgPath) {
		logger.Warn("skipping archived config with a different format", "entry", e.name, "config", cfgPath)
		return nil
	}
	if _, err := os.Stat(cfgPath); err == nil && !force {
		fmt.Printf("WARNING: This will overwrite %s.\n", cfgPath)
		fmt.Printf("Use --force to skip this warning.\n")
		return fmt.Errorf("restore aborted (use --force to proceed)")
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(cfgPath, e.data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	// Reject an archive whose config this build cannot load.
	if _, err := config.Load(cfgPath); err != nil {
		return fmt.Errorf("restored config is invalid: %w", err)
	}
	return nil
}

// createTarGz writes entries into a .tar.gz archive.
func createTarGz(outputPath string, entries []archiveEntry) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	now := time.Now()
	for _, e := range entries {
		header := &tar.Header{
			Name:    e.name,
			Mode:    0o600,
			Size:    int64(len(e.data)),
			ModTime: now,
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("add %s: %w", e.name, err)
		}
		if _, err := tarWriter.Write(e.data); err != nil {
			return fmt.Errorf("add %s: %w", e.name, err)
		}
	}
	return nil
}

// readTarGz loads every regular file of a backup archive into memory.
func readTarGz(archivePath string) ([]archiveEntry, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var entries []archiveEntry

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tarReader)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", header.Name, err)
		}
		entries = append(entries, archiveEntry{name: filepath.Base(header.Name), data: data})
	}
	return entries, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
