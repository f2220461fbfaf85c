package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"wabot/internal/config"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Batching.MaxBatchSize != 10 {
		t.Errorf("maxBatchSize = %d, want default 10", cfg.Batching.MaxBatchSize)
	}
	if cfg.Agent.Model == "" {
		t.Error("default model is empty")
	}
}

func TestLoadFromOverridesDefaults(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(tmp, []byte(`{
		"agent":{"model":"gpt-4.1","maxTokens":512},
		"batching":{"minWaitMs":500,"maxBatchSize":5},
		"channels":{"whatsapp":{"enabled":true,"dbPath":"/tmp/wa.db","allowFrom":["111@s.whatsapp.net"]}}
	}`), 0o644)

	cfg, err := config.LoadFrom(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Model != "gpt-4.1" {
		t.Errorf("model = %q", cfg.Agent.Model)
	}
	if cfg.Batching.MinWaitMS != 500 {
		t.Errorf("minWaitMs = %d, want 500", cfg.Batching.MinWaitMS)
	}
	// Untouched keys keep their defaults.
	if cfg.Batching.TypingTimeoutMS != 3000 {
		t.Errorf("typingTimeoutMs = %d, want default 3000", cfg.Batching.TypingTimeoutMS)
	}
	if len(cfg.Channels.WhatsApp.AllowFrom) != 1 {
		t.Errorf("allowFrom = %v", cfg.Channels.WhatsApp.AllowFrom)
	}
}

func TestLoadFromRejectsUnknownKeys(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(tmp, []byte(`{"agent":{"model":"x"},"debouncing":{"minWaitMs":1}}`), 0o644)

	if _, err := config.LoadFrom(tmp); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestValidateRejectsInvalid(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(tmp, []byte(`{
		"agent":{"temperature":3.5},
		"batching":{"minWaitMs":5000,"maxWaitMs":1000},
		"channels":{"whatsapp":{"enabled":true,"dbPath":""}}
	}`), 0o644)

	_, err := config.LoadFrom(tmp)
	if err == nil {
		t.Fatal("expected validation error")
	}
	t.Log(err)
}

func TestEnvOverridesProviderKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")

	tmp := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(tmp, []byte(`{"providers":{"anthropic":{"apiKey":"sk-from-file"}}}`), 0o644)

	cfg, err := config.LoadFrom(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-from-env" {
		t.Errorf("apiKey = %q, want the environment value", cfg.Providers.Anthropic.APIKey)
	}
}

func TestGetProviderMatchesModelKeyword(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-openai"
	cfg.Providers.Anthropic.APIKey = "sk-anthropic"

	cfg.Agent.Model = "gpt-4.1-mini"
	if m := cfg.GetProvider(); m == nil || m.Name != "openai" {
		t.Errorf("provider for gpt model = %+v, want openai", m)
	}

	cfg.Agent.Model = "claude-sonnet-4-5"
	if m := cfg.GetProvider(); m == nil || m.Name != "anthropic" {
		t.Errorf("provider for claude model = %+v, want anthropic", m)
	}
}

func TestGetProviderOllamaNeedsNoKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Model = "ollama/llama3.1"
	cfg.Providers.Ollama.APIBase = "http://localhost:11434"

	if m := cfg.GetProvider(); m == nil || m.Name != "ollama" {
		t.Errorf("provider = %+v, want ollama", m)
	}
}

func TestBatchingToBatch(t *testing.T) {
	b := config.DefaultConfig().Batching.ToBatch()
	if b.TypingTimeout != 3*time.Second {
		t.Errorf("TypingTimeout = %v", b.TypingTimeout)
	}
	if b.GroupMaxWait != 30*time.Second {
		t.Errorf("GroupMaxWait = %v", b.GroupMaxWait)
	}
	if b.MaxBatchSize != 10 {
		t.Errorf("MaxBatchSize = %d", b.MaxBatchSize)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Model = "claude-sonnet-4-5"
	cfg.Channels.WhatsApp.AllowFrom = []string{"111@s.whatsapp.net"}

	tmp := filepath.Join(t.TempDir(), "config.json")
	if err := config.SaveTo(cfg, tmp); err != nil {
		t.Fatal(err)
	}
	saved, err := config.LoadFrom(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Agent.Model != cfg.Agent.Model {
		t.Errorf("model = %q after round trip", saved.Agent.Model)
	}
	if len(saved.Channels.WhatsApp.AllowFrom) != 1 {
		t.Errorf("allowFrom lost after round trip: %v", saved.Channels.WhatsApp.AllowFrom)
	}
}
