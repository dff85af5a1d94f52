package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for linguachat.
type Config struct {
	General     GeneralConfig             `json:"general" yaml:"general"`
	Storage     StorageConfig             `json:"storage" yaml:"storage"`
	Translation TranslationConfig         `json:"translation" yaml:"translation"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Assistant   AssistantConfig           `json:"assistant" yaml:"assistant"`
	Metrics     MetricsConfig             `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
	Language string `json:"language" yaml:"language"`                   // display language code; "" shows original text
}

type StorageConfig struct {
	Backend              string `json:"backend" yaml:"backend"` // "sqlite" | "bolt" | "redis" | "memory"
	Path                 string `json:"path,omitempty" yaml:"path,omitempty"`
	RedisURL             string `json:"redisUrl,omitempty" yaml:"redisUrl,omitempty"`
	KeyPrefix            string `json:"keyPrefix,omitempty" yaml:"keyPrefix,omitempty"`
	MaxConversationBytes int    `json:"maxConversationBytes" yaml:"maxConversationBytes"`
}

type TranslationConfig struct {
	Provider      string   `json:"provider" yaml:"provider"`
	FailoverChain []string `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty"` // provider failover order
	MaxConcurrent int      `json:"maxConcurrent" yaml:"maxConcurrent"`
	BatchSize     int      `json:"batchSize" yaml:"batchSize"`
	MemoSize      int      `json:"memoSize" yaml:"memoSize"` // 0 = no text-level memo
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Kind            string `json:"kind" yaml:"kind"` // "openai" | "libretranslate"
	APIBase         string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel    string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty" yaml:"rateLimitPerMinute,omitempty"`
	TimeoutSeconds  int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
}

// AssistantConfig selects the generative-text provider used by the chat REPL.
type AssistantConfig struct {
	Provider     string `json:"provider,omitempty" yaml:"provider,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// DefaultConfigDir returns the default config directory (~/.linguachat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".linguachat"
	}
	return filepath.Join(home, ".linguachat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Storage.Backend {
	case "sqlite", "bolt":
		if cfg.Storage.Path == "" {
			errs = append(errs, fmt.Sprintf("storage.path is required for the %s backend", cfg.Storage.Backend))
		}
	case "redis":
		if cfg.Storage.RedisURL == "" {
			errs = append(errs, "storage.redisUrl is required for the redis backend")
		}
	case "memory":
	default:
		errs = append(errs, "storage.backend must be one of: sqlite, bolt, redis, memory")
	}
	if cfg.Storage.MaxConversationBytes < 1 {
		errs = append(errs, "storage.maxConversationBytes must be >= 1")
	}

	if cfg.Translation.MaxConcurrent < 1 || cfg.Translation.MaxConcurrent > 32 {
		errs = append(errs, "translation.maxConcurrent must be between 1 and 32")
	}
	if cfg.Translation.BatchSize < 1 || cfg.Translation.BatchSize > 100 {
		errs = append(errs, "translation.batchSize must be between 1 and 100")
	}
	if cfg.Translation.MemoSize < 0 {
		errs = append(errs, "translation.memoSize must be >= 0")
	}

	if cfg.Translation.Provider != "" {
		if _, ok := cfg.Providers[cfg.Translation.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("translation.provider references unknown provider: %s", cfg.Translation.Provider))
		}
	}
	for _, provName := range cfg.Translation.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("translation.failoverChain references unknown provider: %s", provName))
		}
	}
	if cfg.Assistant.Provider != "" {
		pc, ok := cfg.Providers[cfg.Assistant.Provider]
		if !ok {
			errs = append(errs, fmt.Sprintf("assistant.provider references unknown provider: %s", cfg.Assistant.Provider))
		} else if pc.Kind != "openai" {
			errs = append(errs, fmt.Sprintf("assistant.provider %s must be an openai provider", cfg.Assistant.Provider))
		}
	}

	for name, pc := range cfg.Providers {
		switch pc.Kind {
		case "openai", "libretranslate":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s: kind must be openai or libretranslate", name))
		}
		if pc.Enabled && pc.Kind == "libretranslate" && pc.APIBase == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required for libretranslate", name))
		}
		if pc.RateLimitPerMin < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: rateLimitPerMinute must be >= 0", name))
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
