package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"linguachat/internal/config"
	"linguachat/internal/storage"

	"github.com/spf13/cobra"
)

const doctorProbeKey = "linguachat.doctor"

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your linguachat installation",
		Long: `Verifies that the configuration, data directory, storage backend and
translation providers are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("linguachat doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'linguachat init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Data directory
			if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
				printFail("Data directory", err.Error())
				failed++
			} else {
				printPass("Data directory", cfg.General.DataDir)
				passed++
			}

			// 4. Storage round trip
			if err := checkStorage(cmd.Context(), cfg); err != nil {
				printFail("Storage", err.Error())
				failed++
			} else {
				printPass("Storage", cfg.Storage.Backend+" "+storageLocation(cfg))
				passed++
			}
			if cfg.Storage.Backend == storage.BackendMemory {
				printWarn("Storage", "memory backend keeps nothing after exit")
				warned++
			}

			// 5. Providers
			providerCount := 0
			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				providerCount++
				if p.Kind == "openai" && resolvedKey(p.APIKey) == "" {
					printWarn("Provider: "+name, "enabled but no API key configured")
					warned++
				} else {
					printPass("Provider: "+name, "configured")
					passed++
				}
			}
			if providerCount == 0 {
				printFail("Providers", "no providers enabled")
				failed++
			}

			// 6. Translator reachable
			a, err := openApp(cfg, appOptions{Translator: true})
			if err == nil {
				if a.translator == nil {
					printFail("Translator", "no enabled translation provider")
					failed++
				} else {
					ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
					if err := a.translator.Healthy(ctx); err != nil {
						printWarn("Translator", fmt.Sprintf("%s unreachable: %v", a.translator.Name(), err))
						warned++
					} else {
						printPass("Translator", a.translator.Name())
						passed++
					}
					cancel()
				}
				a.Close()
			}

			// 7. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					printWarn("Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
					warned++
				} else {
					printPass("Metrics addr", cfg.Metrics.Addr+" available")
					passed++
				}
			}

			// 8. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running linguachat.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nlinguachat should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! linguachat is ready to run.\n")
			}
			return nil
		},
	}
}

// checkStorage writes, reads back and removes a probe key.
func checkStorage(parent context.Context, cfg *config.Config) error {
	slot, err := storage.Open(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer slot.Close()

	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()

	probe := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := slot.Write(ctx, doctorProbeKey, probe); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	got, err := slot.Read(ctx, doctorProbeKey)
	if err != nil {
		return fmt.Errorf("not readable: %w", err)
	}
	if !bytes.Equal(got, probe) {
		return fmt.Errorf("read back %d bytes, wrote %d", len(got), len(probe))
	}
	if err := slot.Remove(ctx, doctorProbeKey); err != nil {
		return fmt.Errorf("cannot remove probe: %w", err)
	}
	return nil
}

func resolvedKey(s string) string {
	s = config.ExpandEnvVars(s)
	if len(s) >= 2 && s[0] == '$' && s[1] == '{' {
		return ""
	}
	return s
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
