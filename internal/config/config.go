// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	DB        DBConfig          `mapstructure:"db"`
	HTTP      HTTPConfig        `mapstructure:"http"`
	Analysis  AnalysisConfig    `mapstructure:"analysis"`
	Telegram  TelegramConfig    `mapstructure:"telegram"`
	Pipeline  PipelineConfig    `mapstructure:"pipeline"`
	Districts []notice.District `mapstructure:"districts"`
}

// ServerConfig controls the ops HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store for local runs.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// HTTPConfig configures the district fetcher: client behavior, retry
// budget, and the anonymizing proxy used as the fallback transport.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	UserAgent        string  `mapstructure:"user_agent"`
	ProxyURL         string  `mapstructure:"proxy_url"`
	HostRPS          float64 `mapstructure:"host_rps"`
	HostBurst        int     `mapstructure:"host_burst"`
}

// AnalysisConfig points at the OpenAI-compatible extraction service.
type AnalysisConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// TelegramConfig configures delivery channels. TestMode routes every message
// to the consolidated channel so real subscribers are untouched.
type TelegramConfig struct {
	BotToken       string `mapstructure:"bot_token"`
	ConsolidatedID string `mapstructure:"consolidated_channel_id"`
	OpsID          string `mapstructure:"ops_channel_id"`
	TestMode       bool   `mapstructure:"test_mode"`
}

// PipelineConfig governs one run and the serve-mode schedule.
type PipelineConfig struct {
	CollectConcurrency int  `mapstructure:"collect_concurrency"`
	AnalyzeConcurrency int  `mapstructure:"analyze_concurrency"`
	MaxPages           int  `mapstructure:"max_pages"`
	DeadlineMinutes    int  `mapstructure:"deadline_minutes"`
	IntervalMinutes    int  `mapstructure:"interval_minutes"`
	IncludeNeedsReview bool `mapstructure:"include_needs_review"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOTICEPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; noticepipe/1.0)")
	v.SetDefault("http.host_rps", 2)
	v.SetDefault("http.host_burst", 1)
	v.SetDefault("analysis.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("analysis.model", "gpt-4o-mini")
	v.SetDefault("analysis.timeout_seconds", 30)
	v.SetDefault("pipeline.collect_concurrency", 4)
	v.SetDefault("pipeline.analyze_concurrency", 2)
	v.SetDefault("pipeline.max_pages", 2)
	v.SetDefault("pipeline.deadline_minutes", 20)
	v.SetDefault("pipeline.interval_minutes", 60)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Pipeline.CollectConcurrency <= 0 {
		return fmt.Errorf("pipeline.collect_concurrency must be > 0")
	}
	if c.Pipeline.AnalyzeConcurrency <= 0 {
		return fmt.Errorf("pipeline.analyze_concurrency must be > 0")
	}
	if c.Pipeline.MaxPages <= 0 {
		return fmt.Errorf("pipeline.max_pages must be > 0")
	}
	if c.Pipeline.IntervalMinutes <= 0 {
		return fmt.Errorf("pipeline.interval_minutes must be > 0")
	}
	for i, d := range c.Districts {
		if d.Code == "" || d.BaseURL == "" {
			return fmt.Errorf("districts[%d]: code and base_url are required", i)
		}
	}
	return nil
}

// HTTPTimeout returns the fetcher's per-request timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RunDeadline returns the per-run budget, zero meaning unlimited.
func (c Config) RunDeadline() time.Duration {
	return time.Duration(c.Pipeline.DeadlineMinutes) * time.Minute
}

// Interval returns the serve-mode gap between run starts.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Pipeline.IntervalMinutes) * time.Minute
}

// RunContext converts the pipeline section into per-invocation knobs.
func (c Config) RunContext(mode notice.RunMode) notice.RunContext {
	return notice.RunContext{
		Mode:               mode,
		Deadline:           c.RunDeadline(),
		CollectConcurrency: c.Pipeline.CollectConcurrency,
		AnalyzeConcurrency: c.Pipeline.AnalyzeConcurrency,
		IncludeNeedsReview: c.Pipeline.IncludeNeedsReview,
	}
}
