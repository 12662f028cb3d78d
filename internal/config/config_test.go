package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XAI_API_KEY", "xai-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider != "grok" || cfg.LLMModel != "grok-4-fast" || cfg.SummaryModel != "grok-4-fast" {
		t.Fatalf("unexpected model defaults: %#v", cfg)
	}
	if cfg.ChatTemperature != 1.02 || cfg.ChatMaxTokens != 600 || cfg.ChatResponseReserve != 450 {
		t.Fatalf("unexpected chat defaults: %#v", cfg)
	}
	if len(cfg.ChatStop) != 3 || cfg.ChatStop[0] != "User:" {
		t.Fatalf("unexpected stop sequences: %#v", cfg.ChatStop)
	}
	if cfg.SummaryWindow != 7 || cfg.MaxSummaryLength != 1024 || cfg.StreamInterval != 200*time.Millisecond {
		t.Fatalf("unexpected summary defaults: %#v", cfg)
	}
	if !cfg.EnforceQuota {
		t.Fatalf("expected quota enforced by default")
	}

	params := cfg.ChatParams()
	if params.Temperature == nil || *params.Temperature != 1.02 || params.Model != "grok-4-fast" {
		t.Fatalf("unexpected chat params: %#v", params)
	}
	if summary := cfg.SummaryParams(); *summary.Temperature != 0.4 || summary.MaxTokens != 900 {
		t.Fatalf("unexpected summary params: %#v", summary)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "OpenRouter")
	t.Setenv("OPENROUTER_API_KEY", "or-test")
	t.Setenv("LLM_MODEL", "x-ai/grok-4")
	t.Setenv("SUMMARY_MODEL", "google/gemini-flash")
	t.Setenv("CHAT_TOKEN_BUDGET", "3000")
	t.Setenv("STREAM_INTERVAL", "350ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider != "openrouter" || cfg.APIKey() != "or-test" {
		t.Fatalf("unexpected provider: %#v", cfg)
	}
	if cfg.SummaryModel != "google/gemini-flash" || cfg.ChatTokenBudget != 3000 || cfg.StreamInterval != 350*time.Millisecond {
		t.Fatalf("unexpected overrides: %#v", cfg)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "her.yaml")
	if err := os.WriteFile(path, []byte("llm_provider: gemini\ngoogle_api_key: g-test\nsummary_window: 9\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provider != "gemini" || cfg.APIKey() != "g-test" || cfg.SummaryWindow != 9 {
		t.Fatalf("unexpected file config: %#v", cfg)
	}
}

func TestLoadRequiresProviderKey(t *testing.T) {
	t.Setenv("XAI_API_KEY", "")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestValidateRanges(t *testing.T) {
	cfg := &Config{Provider: "mistral", LLMModel: "m", ChatTemperature: 3, ChatTopP: 0.9, SummaryWindow: 7, MaxSummaryLength: 1, StreamInterval: time.Second}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown LLM_PROVIDER") || !strings.Contains(err.Error(), "CHAT_TEMPERATURE") {
		t.Fatalf("expected validation errors, got %v", err)
	}
}
