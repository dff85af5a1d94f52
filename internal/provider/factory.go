package provider

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"linguachat/internal/config"
	"linguachat/internal/domain"
)

// Constructor builds a translator from a provider config entry.
type Constructor func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Translator

// Factory creates and caches translators from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]Constructor // by kind
	cache        map[string]domain.Translator
	mu           sync.RWMutex
}

// NewFactory creates a factory with the built-in kinds registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Translator),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) the constructor for a kind.
func (f *Factory) RegisterConstructor(kind string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Translator {
		return NewOpenAI(OpenAIConfig{
			Name:            name,
			APIKey:          resolveSecret(pc.APIKey),
			APIBase:         pc.APIBase,
			Model:           pc.DefaultModel,
			Timeout:         secondsOrDefault(pc.TimeoutSeconds),
			RateLimitPerMin: pc.RateLimitPerMin,
			Logger:          logger,
		})
	}
	f.constructors["libretranslate"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Translator {
		return NewLibreTranslate(LibreTranslateConfig{
			Name:            name,
			APIBase:         pc.APIBase,
			APIKey:          resolveSecret(pc.APIKey),
			Timeout:         secondsOrDefault(pc.TimeoutSeconds),
			RateLimitPerMin: pc.RateLimitPerMin,
			Logger:          logger,
		})
	}
}

// resolveSecret expands ${VAR} references. A reference to an unset variable
// counts as no secret.
func resolveSecret(s string) string {
	s = config.ExpandEnvVars(s)
	if strings.Contains(s, "${") {
		return ""
	}
	return s
}

// Get returns the named translator. Instances are cached so every caller
// shares one rate limiter per backend.
func (f *Factory) Get(name string) (domain.Translator, error) {
	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	ctor, found := f.constructors[pc.Kind]
	if !found {
		return nil, fmt.Errorf("provider %s: no constructor registered for kind %q", name, pc.Kind)
	}

	t := ctor(name, pc, f.logger)
	f.cache[name] = t
	return t, nil
}

// Translator assembles the configured translation stack: the primary
// provider, then the failover chain, wrapped in the text memo when enabled.
func (f *Factory) Translator() (domain.Translator, error) {
	names := append([]string{f.cfg.Translation.Provider}, f.cfg.Translation.FailoverChain...)
	seen := make(map[string]bool, len(names))
	var chain []domain.Translator
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		t, err := f.Get(name)
		if err != nil {
			f.logger.Warn("translator unavailable, skipping", "provider", name, "err", err)
			continue
		}
		chain = append(chain, t)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no enabled translation provider configured")
	}

	var t domain.Translator = chain[0]
	if len(chain) > 1 {
		t = NewFailoverTranslator(chain, f.logger)
	}
	if f.cfg.Translation.MemoSize > 0 {
		memo, err := NewMemo(t, f.cfg.Translation.MemoSize)
		if err != nil {
			return nil, err
		}
		t = memo
	}
	return t, nil
}

// Responder returns the assistant backend, or nil when none is configured.
func (f *Factory) Responder() (*OpenAI, error) {
	name := f.cfg.Assistant.Provider
	if name == "" {
		return nil, nil
	}
	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	if pc.Kind != "openai" {
		return nil, fmt.Errorf("assistant provider %s must be of kind openai", name)
	}
	return NewOpenAI(OpenAIConfig{
		Name:            name,
		APIKey:          resolveSecret(pc.APIKey),
		APIBase:         pc.APIBase,
		Model:           pc.DefaultModel,
		SystemPrompt:    f.cfg.Assistant.SystemPrompt,
		Timeout:         secondsOrDefault(pc.TimeoutSeconds),
		RateLimitPerMin: pc.RateLimitPerMin,
		Logger:          f.logger,
	}), nil
}
