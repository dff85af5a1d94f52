package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.linguachat",
			LogLevel: "info",
			Language: "",
		},
		Storage: StorageConfig{
			Backend:              "sqlite",
			Path:                 "~/.linguachat/linguachat.db",
			KeyPrefix:            "linguachat:",
			MaxConversationBytes: 500_000,
		},
		Translation: TranslationConfig{
			Provider:      "openai",
			MaxConcurrent: 3,
			BatchSize:     8,
			MemoSize:      512,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:        true,
				Kind:           "openai",
				APIBase:        "https://api.openai.com/v1",
				APIKey:         "${OPENAI_API_KEY}",
				DefaultModel:   "gpt-4o-mini",
				TimeoutSeconds: 60,
			},
			"libretranslate": {
				Enabled:         false,
				Kind:            "libretranslate",
				APIBase:         "http://localhost:5000",
				RateLimitPerMin: 60,
				TimeoutSeconds:  30,
			},
		},
		Assistant: AssistantConfig{
			Provider:     "openai",
			SystemPrompt: "You are a concise, friendly personal assistant.",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}
