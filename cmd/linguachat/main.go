package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"linguachat/internal/channel"
	"linguachat/internal/chat"
	"linguachat/internal/config"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "linguachat",
		Short:         "linguachat: multilingual chat history with cached translations",
		Long:          "linguachat keeps chat conversations on disk and shows them in any language, translating each message once.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.linguachat/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(listCmd())
	root.AddCommand(showCmd())
	root.AddCommand(translateCmd())
	root.AddCommand(renameCmd())
	root.AddCommand(deleteCmd())
	root.AddCommand(clearCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file, falling back to defaults when it is
// missing. A file that exists but fails to parse or validate is an error.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if _, statErr := os.Stat(cfgPath); errors.Is(statErr, os.ErrNotExist) {
			logger.Warn("config not found, using defaults", "path", cfgPath)
			cfg = config.Defaults()
			cfg.General.DataDir = config.ExpandPath(cfg.General.DataDir)
			cfg.Storage.Path = config.ExpandPath(cfg.Storage.Path)
			return cfg, nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupLogging replaces the package logger according to cfg. The returned
// function closes the log file, if one was opened.
func setupLogging(cfg *config.Config) (func(), error) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { f.Close() }
	}

	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closeFn, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "dataDir", dataDir)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	var convID, lang string
	var noSpinner bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			if cmd.Flags().Changed("lang") {
				cfg.General.Language = lang
			}

			// Graceful shutdown on signals
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(cfg, appOptions{Responder: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Metrics.Enabled {
				srv := serveMetrics(cfg.Metrics.Addr, a)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			session := a.NewSession()
			if convID != "" {
				if err := session.Load(ctx, convID); err != nil {
					if errors.Is(err, chat.ErrNotFound) {
						return fmt.Errorf("no conversation with id %s", convID)
					}
					return err
				}
				session.SwitchLanguage(ctx)
			}

			cli := channel.NewCLI(channel.CLIConfig{
				Session:  session,
				Store:    a.store,
				Language: a.lang,
				Logger:   logger,
				Spinner:  !noSpinner,
			})
			if convID != "" {
				fmt.Printf("Loaded conversation %s.\n", convID)
			}
			return cli.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&convID, "id", "", "resume a stored conversation")
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "display language (overrides general.language)")
	cmd.Flags().BoolVar(&noSpinner, "no-spinner", false, "do not animate while waiting")
	return cmd
}

// serveMetrics exposes /metrics in the background until Shutdown.
func serveMetrics(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "addr", addr, "err", err)
		}
	}()
	logger.Info("metrics endpoint started", "addr", addr)
	return srv
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show storage and translator status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg, appOptions{Translator: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			fmt.Printf("Config:        %s\n", cfgPath)
			fmt.Printf("Storage:       %s %s\n", cfg.Storage.Backend, storageLocation(cfg))
			fmt.Printf("Conversations: %d\n", len(a.store.List(ctx)))
			lang := cfg.General.Language
			if lang == "" {
				lang = "(original)"
			}
			fmt.Printf("Language:      %s\n", lang)

			if a.translator == nil {
				fmt.Printf("Translator:    none configured\n")
				return nil
			}
			if err := a.translator.Healthy(ctx); err != nil {
				fmt.Printf("Translator:    %s (unhealthy: %v)\n", a.translator.Name(), err)
			} else {
				fmt.Printf("Translator:    %s (healthy)\n", a.translator.Name())
			}
			return nil
		},
	}
}

func storageLocation(cfg *config.Config) string {
	switch cfg.Storage.Backend {
	case "redis":
		return cfg.Storage.RedisURL
	case "memory":
		return "(not persisted)"
	default:
		return cfg.Storage.Path
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. translation.batchSize)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.language fr)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
