// Package config loads runtime settings from defaults, an optional config
// file (NEWSPIPE_CONFIG) and environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const configPathEnv = "NEWSPIPE_CONFIG"

// ProviderConfig holds credentials for one text-generation provider.
type ProviderConfig struct {
	Name       string
	APIKey     string
	Model      string
	BaseURL    string
	DailyLimit int // 0 = unlimited
}

type Config struct {
	// App settings
	Env              string // "production" enables trigger auth
	Debug            bool
	HTTPAddr         string
	CronSecret       string
	AllowedOrigins   []string
	PipelineSchedule string // optional in-process cron spec for serve mode

	// Storage
	DatabaseURL   string
	StoreFile     string // JSON file store used when DatabaseURL is empty
	RetryAttempts int
	RetryDelay    time.Duration

	// Feeds
	SourcesPath      string
	FetchTimeout     time.Duration
	FetchConcurrency int
	UserAgent        string

	// Enhancement
	ProviderOrder    []string
	Providers        map[string]ProviderConfig
	ProviderTimeout  time.Duration
	MaxAIRequests    int // total daily budget across providers (0 = unlimited)
	FullTextTimeout  time.Duration
	FullTextMaxChars int
	EnhanceDelay     time.Duration
	CacheTTL         time.Duration

	// Backlog
	BacklogBatchSize int
	BacklogPause     time.Duration

	// Retention
	RetentionCap   int
	RetentionExtra int

	// Telegram run reports (optional)
	TelegramToken  string
	TelegramChatID string
}

var providerDefaults = map[string]ProviderConfig{
	"groq":    {Name: "groq", Model: "llama-3.3-70b-versatile", BaseURL: "https://api.groq.com/openai/v1"},
	"gemini":  {Name: "gemini", Model: "gemini-1.5-flash"},
	"mistral": {Name: "mistral", Model: "mistral-small-latest", BaseURL: "https://api.mistral.ai/v1"},
	"cohere":  {Name: "cohere", Model: "command-r-08-2024", BaseURL: "https://api.cohere.ai/compatibility/v1"},
	"openai":  {Name: "openai", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("debug", false)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("allowed_origins", "*")

	v.SetDefault("store_file", "data/articles.json")
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_delay", "2s")

	v.SetDefault("sources_path", "configs/sources.yaml")
	v.SetDefault("fetch_timeout", "12s")
	v.SetDefault("fetch_concurrency", 4)
	v.SetDefault("user_agent", "newspipe/1.0 (+https://github.com/deusflow/newspipe)")

	v.SetDefault("ai_providers", "groq,gemini,mistral,cohere,openai")
	v.SetDefault("provider_timeout", "30s")
	v.SetDefault("max_ai_requests", 0)
	v.SetDefault("fulltext_timeout", "10s")
	v.SetDefault("fulltext_max_chars", 2000)
	v.SetDefault("enhance_delay", "2s")
	v.SetDefault("cache_ttl", "24h")

	v.SetDefault("backlog_batch_size", 3)
	v.SetDefault("backlog_pause", "1500ms")

	v.SetDefault("retention_cap", 500)
	v.SetDefault("retention_extra", 50)
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := os.Getenv(configPathEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Env:              v.GetString("app_env"),
		Debug:            v.GetBool("debug"),
		HTTPAddr:         v.GetString("http_addr"),
		CronSecret:       v.GetString("cron_secret"),
		AllowedOrigins:   splitList(v.GetString("allowed_origins")),
		PipelineSchedule: v.GetString("pipeline_schedule"),

		DatabaseURL:   v.GetString("database_url"),
		StoreFile:     v.GetString("store_file"),
		RetryAttempts: v.GetInt("retry_attempts"),
		RetryDelay:    v.GetDuration("retry_delay"),

		SourcesPath:      v.GetString("sources_path"),
		FetchTimeout:     v.GetDuration("fetch_timeout"),
		FetchConcurrency: v.GetInt("fetch_concurrency"),
		UserAgent:        v.GetString("user_agent"),

		ProviderOrder:    splitList(v.GetString("ai_providers")),
		Providers:        map[string]ProviderConfig{},
		ProviderTimeout:  v.GetDuration("provider_timeout"),
		MaxAIRequests:    v.GetInt("max_ai_requests"),
		FullTextTimeout:  v.GetDuration("fulltext_timeout"),
		FullTextMaxChars: v.GetInt("fulltext_max_chars"),
		EnhanceDelay:     v.GetDuration("enhance_delay"),
		CacheTTL:         v.GetDuration("cache_ttl"),

		BacklogBatchSize: v.GetInt("backlog_batch_size"),
		BacklogPause:     v.GetDuration("backlog_pause"),

		RetentionCap:   v.GetInt("retention_cap"),
		RetentionExtra: v.GetInt("retention_extra"),

		TelegramToken:  v.GetString("telegram_token"),
		TelegramChatID: v.GetString("telegram_chat_id"),
	}

	// <NAME>_API_KEY, <NAME>_MODEL, <NAME>_BASE_URL, <NAME>_DAILY_LIMIT
	for name, def := range providerDefaults {
		p := def
		if key := v.GetString(name + "_api_key"); key != "" {
			p.APIKey = key
		}
		if model := v.GetString(name + "_model"); model != "" {
			p.Model = model
		}
		if base := v.GetString(name + "_base_url"); base != "" {
			p.BaseURL = base
		}
		p.DailyLimit = v.GetInt(name + "_daily_limit")
		cfg.Providers[name] = p
	}

	return cfg, cfg.Validate()
}

// IsProduction reports whether trigger auth should be enforced.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// EnabledProviders returns configured providers in priority order.
// Providers without an API key are omitted.
func (c *Config) EnabledProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, name := range c.ProviderOrder {
		p, ok := c.Providers[name]
		if !ok || p.APIKey == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.RetentionCap <= 0 {
		return fmt.Errorf("RETENTION_CAP must be > 0")
	}
	if c.RetentionExtra < 0 {
		return fmt.Errorf("RETENTION_EXTRA must be >= 0")
	}
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("FETCH_CONCURRENCY must be > 0")
	}
	if c.BacklogBatchSize <= 0 {
		return fmt.Errorf("BACKLOG_BATCH_SIZE must be > 0")
	}
	if c.FullTextMaxChars <= 0 {
		return fmt.Errorf("FULLTEXT_MAX_CHARS must be > 0")
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	for _, name := range c.ProviderOrder {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("unknown AI provider %q in AI_PROVIDERS", name)
		}
	}
	return nil
}
