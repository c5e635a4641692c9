package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// ORACLE_SENTINEL_TELEGRAM_BOT_TOKEN.
const EnvPrefix = "ORACLE_SENTINEL"

// Config represents the complete application configuration
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Estimator  EstimatorConfig  `mapstructure:"estimator"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	GammaAPIURL       string        `mapstructure:"gamma_api_url"`
	MarketLimit       int           `mapstructure:"market_limit"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxRetryTime      time.Duration `mapstructure:"max_retry_time"`
}

// EstimatorConfig holds the chat completion API configuration
type EstimatorConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	AnalysisModel string        `mapstructure:"analysis_model"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Temperature   float32       `mapstructure:"temperature"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds the ledger database location
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// AgentConfig locates the self-tuned agent configuration document
type AgentConfig struct {
	ConfigPath string `mapstructure:"config_path"`
	BackupDir  string `mapstructure:"backup_dir"`
}

// JobsConfig holds scheduling and per-job tuning
type JobsConfig struct {
	LockDir              string        `mapstructure:"lock_dir"`
	ScanInterval         time.Duration `mapstructure:"scan_interval"`
	SnapshotInterval     time.Duration `mapstructure:"snapshot_interval"`
	ResolveInterval      time.Duration `mapstructure:"resolve_interval"`
	ReanalyzeInterval    time.Duration `mapstructure:"reanalyze_interval"`
	ImproveInterval      time.Duration `mapstructure:"improve_interval"`
	AutoApply            bool          `mapstructure:"auto_apply"`
	MinTimeToClose       time.Duration `mapstructure:"min_time_to_close"`
	MaxSignalsPerScan    int           `mapstructure:"max_signals_per_scan"`
	ReanalyzeWindowStart time.Duration `mapstructure:"reanalyze_window_start"`
	ReanalyzeWindowEnd   time.Duration `mapstructure:"reanalyze_window_end"`
	TrendDays            int           `mapstructure:"trend_days"`
	PostmortemBatch      int           `mapstructure:"postmortem_batch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. An empty
// path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.market_limit", 20)
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.requests_per_second", 5.0)
	v.SetDefault("polymarket.max_retry_time", "30s")

	v.SetDefault("estimator.api_key", "")
	v.SetDefault("estimator.base_url", "https://api.openai.com/v1")
	v.SetDefault("estimator.model", "gpt-4o-mini")
	v.SetDefault("estimator.analysis_model", "")
	v.SetDefault("estimator.max_tokens", 1500)
	v.SetDefault("estimator.temperature", 0.3)
	v.SetDefault("estimator.timeout", "60s")

	// Secrets are usually supplied through the environment
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("storage.db_path", "./data/oracle_sentinel.db")

	v.SetDefault("agent.config_path", "./config/agent_config.json")
	v.SetDefault("agent.backup_dir", "./config/backups")

	v.SetDefault("jobs.lock_dir", "./data/locks")
	v.SetDefault("jobs.scan_interval", "4h")
	v.SetDefault("jobs.snapshot_interval", "30m")
	v.SetDefault("jobs.resolve_interval", "1h")
	v.SetDefault("jobs.reanalyze_interval", "1h")
	v.SetDefault("jobs.improve_interval", "24h")
	v.SetDefault("jobs.auto_apply", true)
	v.SetDefault("jobs.min_time_to_close", "6h")
	v.SetDefault("jobs.max_signals_per_scan", 0) // 0 = no cap
	v.SetDefault("jobs.reanalyze_window_start", "5h")
	v.SetDefault("jobs.reanalyze_window_end", "6h")
	v.SetDefault("jobs.trend_days", 7)
	v.SetDefault("jobs.postmortem_batch", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.MarketLimit < 1 || c.Polymarket.MarketLimit > 500 {
		return fmt.Errorf("polymarket.market_limit must be between 1 and 500")
	}
	if c.Polymarket.Timeout <= 0 {
		return fmt.Errorf("polymarket.timeout must be positive")
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		return fmt.Errorf("polymarket.requests_per_second must be positive")
	}

	if c.Estimator.Model == "" {
		return fmt.Errorf("estimator.model is required")
	}
	if c.Estimator.MaxTokens < 1 {
		return fmt.Errorf("estimator.max_tokens must be at least 1")
	}
	if c.Estimator.Temperature < 0 || c.Estimator.Temperature > 2 {
		return fmt.Errorf("estimator.temperature must be between 0 and 2")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Agent.ConfigPath == "" {
		return fmt.Errorf("agent.config_path is required")
	}
	if c.Agent.BackupDir == "" {
		return fmt.Errorf("agent.backup_dir is required")
	}

	if c.Jobs.LockDir == "" {
		return fmt.Errorf("jobs.lock_dir is required")
	}
	intervals := map[string]time.Duration{
		"jobs.scan_interval":      c.Jobs.ScanInterval,
		"jobs.snapshot_interval":  c.Jobs.SnapshotInterval,
		"jobs.resolve_interval":   c.Jobs.ResolveInterval,
		"jobs.reanalyze_interval": c.Jobs.ReanalyzeInterval,
		"jobs.improve_interval":   c.Jobs.ImproveInterval,
	}
	for key, d := range intervals {
		if d < time.Minute {
			return fmt.Errorf("%s must be at least 1 minute", key)
		}
	}
	if c.Jobs.MinTimeToClose < 0 {
		return fmt.Errorf("jobs.min_time_to_close must not be negative")
	}
	if c.Jobs.MaxSignalsPerScan < 0 {
		return fmt.Errorf("jobs.max_signals_per_scan must not be negative")
	}
	if c.Jobs.ReanalyzeWindowStart <= 0 || c.Jobs.ReanalyzeWindowEnd <= c.Jobs.ReanalyzeWindowStart {
		return fmt.Errorf("jobs.reanalyze_window_end must be after a positive jobs.reanalyze_window_start")
	}
	if c.Jobs.TrendDays < 2 {
		return fmt.Errorf("jobs.trend_days must be at least 2")
	}
	if c.Jobs.PostmortemBatch < 1 {
		return fmt.Errorf("jobs.postmortem_batch must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
