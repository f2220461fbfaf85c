package config

// Config is the root configuration for wabot.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Persona   PersonaConfig   `json:"persona"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Batching  BatchingConfig  `json:"batching"`
	Services  ServicesConfig  `json:"services"`
}

// AgentConfig holds default reply-generation parameters.
type AgentConfig struct {
	Model        string  `json:"model"`
	MaxTokens    int     `json:"maxTokens"`
	Temperature  float64 `json:"temperature"`
	MemoryWindow int     `json:"memoryWindow"`
}

// PersonaConfig selects the character the bot speaks as. File points to a
// persona JSON; empty means the built-in default.
type PersonaConfig struct {
	Name string `json:"name"`
	File string `json:"file,omitempty"`
}

// ChannelsConfig holds all channel configurations.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// WhatsAppConfig holds WhatsApp channel settings. DBPath is the sqlite file
// storing the paired device's crypto state.
type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled"`
	DBPath    string   `json:"dbPath"`
	AllowFrom []string `json:"allowFrom"`
}

// ProvidersConfig holds LLM provider settings. API keys may come from the
// config file or from the environment; environment wins.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic" envPrefix:"ANTHROPIC_"`
	OpenAI     ProviderConfig `json:"openai" envPrefix:"OPENAI_"`
	OpenRouter ProviderConfig `json:"openrouter" envPrefix:"OPENROUTER_"`
	Ollama     ProviderConfig `json:"ollama" envPrefix:"OLLAMA_"`
}

// ProviderConfig holds a single LLM provider's credentials.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" env:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" env:"API_BASE"`
}

// BatchingConfig holds the message-batching timing policy in milliseconds.
// Zero values fall back to the engine defaults.
type BatchingConfig struct {
	TypingTimeoutMS  int `json:"typingTimeoutMs"`
	MaxWaitMS        int `json:"maxWaitMs"`
	MinWaitMS        int `json:"minWaitMs"`
	InitialDelayMS   int `json:"initialDelayMs"`
	TypingFallbackMS int `json:"typingFallbackMs"`
	GraceWindowMS    int `json:"graceWindowMs"`

	GroupMinWaitMS       int `json:"groupMinWaitMs"`
	GroupMaxWaitMS       int `json:"groupMaxWaitMs"`
	GroupTypingTimeoutMS int `json:"groupTypingTimeoutMs"`
	MaxBatchSize         int `json:"maxBatchSize"`

	ProcessingDelayMS int `json:"processingDelayMs"`
}

// ServicesConfig holds auxiliary service configurations.
type ServicesConfig struct {
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// HeartbeatConfig holds re-engagement settings: after SilenceHours without
// traffic in an allowed chat, the bot sends one opener.
type HeartbeatConfig struct {
	Enabled      bool `json:"enabled"`
	IntervalS    int  `json:"intervalSeconds"`
	SilenceHours int  `json:"silenceHours"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:        "anthropic/claude-sonnet-4-5",
			MaxTokens:    1024,
			Temperature:  0.8,
			MemoryWindow: 50,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				DBPath: "~/.wabot/whatsapp.db",
			},
		},
		Batching: BatchingConfig{
			TypingTimeoutMS:  3000,
			MaxWaitMS:        20000,
			MinWaitMS:        1500,
			InitialDelayMS:   2000,
			TypingFallbackMS: 10000,
			GraceWindowMS:    800,

			GroupMinWaitMS:       4000,
			GroupMaxWaitMS:       30000,
			GroupTypingTimeoutMS: 5000,
			MaxBatchSize:         10,

			ProcessingDelayMS: 1500,
		},
		Services: ServicesConfig{
			Heartbeat: HeartbeatConfig{
				IntervalS:    1800,
				SilenceHours: 24,
			},
			Metrics: MetricsConfig{
				Addr: "127.0.0.1:9090",
			},
		},
	}
}

// ProviderMatch holds a matched provider config and its name.
type ProviderMatch struct {
	Name   string
	Config *ProviderConfig
}

// GetProvider returns the first provider with credentials, matching the
// configured model by keyword first. Ollama matches on its base URL since it
// needs no API key.
func (c *Config) GetProvider() *ProviderMatch {
	model := c.Agent.Model

	providers := []struct {
		name     string
		keywords []string
		config   *ProviderConfig
		usable   bool
	}{
		{"anthropic", []string{"anthropic", "claude"}, &c.Providers.Anthropic, c.Providers.Anthropic.APIKey != ""},
		{"openai", []string{"openai", "gpt"}, &c.Providers.OpenAI, c.Providers.OpenAI.APIKey != ""},
		{"openrouter", []string{"openrouter"}, &c.Providers.OpenRouter, c.Providers.OpenRouter.APIKey != ""},
		{"ollama", []string{"ollama"}, &c.Providers.Ollama, c.Providers.Ollama.APIBase != ""},
	}

	for _, p := range providers {
		for _, kw := range p.keywords {
			if containsIgnoreCase(model, kw) && p.usable {
				return &ProviderMatch{Name: p.name, Config: p.config}
			}
		}
	}

	for _, p := range providers {
		if p.usable {
			return &ProviderMatch{Name: p.name, Config: p.config}
		}
	}

	return nil
}

// WhatsAppDBPath returns the expanded sqlite path for the WhatsApp device
// store.
func (c *Config) WhatsAppDBPath() string {
	return expandHome(c.Channels.WhatsApp.DBPath)
}
