// Package config loads configuration from environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/easeaico/her-engine/internal/llm"
	"github.com/easeaico/her-engine/internal/models"
)

// Config holds runtime settings.
type Config struct {
	DatabaseURL string
	CatalogPath string
	ListenAddr  string
	LogLevel    string

	Provider         string
	LLMModel         string
	LLMBaseURL       string
	XAIAPIKey        string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	GoogleAPIKey     string
	EmbeddingModel   string

	DriverPrompt        string
	FixedWindow         bool
	EnforceQuota        bool
	ChatTemperature     float64
	ChatTopP            float64
	ChatMaxTokens       int
	ChatStop            []string
	ChatTokenBudget     int
	ChatResponseReserve int

	SummaryModel       string
	SummaryTemperature float64
	SummaryTopP        float64
	SummaryMaxTokens   int
	SummaryWindow      int
	MaxSummaryLength   int

	StreamInterval time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CATALOG_PATH", "configs/catalog.yaml")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LLM_PROVIDER", models.ProviderGrok)
	v.SetDefault("LLM_MODEL", "grok-4-fast")
	v.SetDefault("EMBEDDING_MODEL", "text-embedding-004")
	v.SetDefault("ENFORCE_QUOTA", true)
	v.SetDefault("CHAT_TEMPERATURE", 1.02)
	v.SetDefault("CHAT_TOP_P", 0.9)
	v.SetDefault("CHAT_MAX_TOKENS", 600)
	v.SetDefault("CHAT_STOP", []string{"User:", "\nUser", "\nПользователь"})
	// 0 或更小表示不限制 prompt 预算
	v.SetDefault("CHAT_TOKEN_BUDGET", 0)
	v.SetDefault("CHAT_RESPONSE_RESERVE", 450)
	v.SetDefault("SUMMARY_TEMPERATURE", 0.4)
	v.SetDefault("SUMMARY_TOP_P", 0.9)
	v.SetDefault("SUMMARY_MAX_TOKENS", 900)
	v.SetDefault("SUMMARY_WINDOW", 7)
	v.SetDefault("MAX_SUMMARY_LENGTH", 1024)
	v.SetDefault("STREAM_INTERVAL", 200*time.Millisecond)
}

// Load reads env vars (and CONFIG_FILE when set), applies defaults, and validates.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Info("config file loaded", "path", path)
	}

	cfg := &Config{
		DatabaseURL:         v.GetString("DATABASE_URL"),
		CatalogPath:         v.GetString("CATALOG_PATH"),
		ListenAddr:          v.GetString("LISTEN_ADDR"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		Provider:            strings.ToLower(strings.TrimSpace(v.GetString("LLM_PROVIDER"))),
		LLMModel:            v.GetString("LLM_MODEL"),
		LLMBaseURL:          v.GetString("LLM_BASE_URL"),
		XAIAPIKey:           v.GetString("XAI_API_KEY"),
		OpenAIAPIKey:        v.GetString("OPENAI_API_KEY"),
		OpenRouterAPIKey:    v.GetString("OPENROUTER_API_KEY"),
		GoogleAPIKey:        v.GetString("GOOGLE_API_KEY"),
		EmbeddingModel:      v.GetString("EMBEDDING_MODEL"),
		DriverPrompt:        v.GetString("DRIVER_PROMPT"),
		FixedWindow:         v.GetBool("FIXED_WINDOW"),
		EnforceQuota:        v.GetBool("ENFORCE_QUOTA"),
		ChatTemperature:     v.GetFloat64("CHAT_TEMPERATURE"),
		ChatTopP:            v.GetFloat64("CHAT_TOP_P"),
		ChatMaxTokens:       v.GetInt("CHAT_MAX_TOKENS"),
		ChatStop:            v.GetStringSlice("CHAT_STOP"),
		ChatTokenBudget:     v.GetInt("CHAT_TOKEN_BUDGET"),
		ChatResponseReserve: v.GetInt("CHAT_RESPONSE_RESERVE"),
		SummaryModel:        v.GetString("SUMMARY_MODEL"),
		SummaryTemperature:  v.GetFloat64("SUMMARY_TEMPERATURE"),
		SummaryTopP:         v.GetFloat64("SUMMARY_TOP_P"),
		SummaryMaxTokens:    v.GetInt("SUMMARY_MAX_TOKENS"),
		SummaryWindow:       v.GetInt("SUMMARY_WINDOW"),
		MaxSummaryLength:    v.GetInt("MAX_SUMMARY_LENGTH"),
		StreamInterval:      v.GetDuration("STREAM_INTERVAL"),
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = cfg.LLMModel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case models.ProviderGrok, models.ProviderOpenAI, models.ProviderOpenRouter, models.ProviderGemini:
		if c.APIKey() == "" {
			errs = append(errs, fmt.Errorf("API key for provider %q is required", c.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.Provider))
	}
	if c.LLMModel == "" {
		errs = append(errs, errors.New("LLM_MODEL is required"))
	}
	if c.ChatTemperature < 0 || c.ChatTemperature > 2 {
		errs = append(errs, fmt.Errorf("CHAT_TEMPERATURE %.2f out of range [0,2]", c.ChatTemperature))
	}
	if c.ChatTopP <= 0 || c.ChatTopP > 1 {
		errs = append(errs, fmt.Errorf("CHAT_TOP_P %.2f out of range (0,1]", c.ChatTopP))
	}
	if c.SummaryWindow <= 0 {
		errs = append(errs, errors.New("SUMMARY_WINDOW must be positive"))
	}
	if c.MaxSummaryLength <= 0 {
		errs = append(errs, errors.New("MAX_SUMMARY_LENGTH must be positive"))
	}
	if c.StreamInterval <= 0 {
		errs = append(errs, errors.New("STREAM_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// APIKey returns the key of the configured provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case models.ProviderOpenAI:
		return c.OpenAIAPIKey
	case models.ProviderOpenRouter:
		return c.OpenRouterAPIKey
	case models.ProviderGemini:
		return c.GoogleAPIKey
	default:
		return c.XAIAPIKey
	}
}

// ChatParams are the default sampling settings of reply generation.
func (c *Config) ChatParams() llm.SamplingParams {
	return llm.SamplingParams{
		Model:       c.LLMModel,
		Temperature: llm.Float(c.ChatTemperature),
		TopP:        llm.Float(c.ChatTopP),
		MaxTokens:   c.ChatMaxTokens,
		Stop:        c.ChatStop,
	}
}

// SummaryParams are the sampling settings of summarization.
func (c *Config) SummaryParams() llm.SamplingParams {
	return llm.SamplingParams{
		Model:       c.SummaryModel,
		Temperature: llm.Float(c.SummaryTemperature),
		TopP:        llm.Float(c.SummaryTopP),
		MaxTokens:   c.SummaryMaxTokens,
	}
}

// SlogLevel maps LOG_LEVEL to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
