package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/tge-sentinel/internal/resilience"
	"github.com/sells-group/tge-sentinel/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      store.Config     `yaml:"store" mapstructure:"store"`
	Lexicon    LexiconConfig    `yaml:"lexicon" mapstructure:"lexicon"`
	Matcher    MatcherConfig    `yaml:"matcher" mapstructure:"matcher"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Health     HealthConfig     `yaml:"health" mapstructure:"health"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// LexiconConfig points at an optional lexicon YAML file. An empty path uses
// the built-in lexicon.
type LexiconConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MatcherConfig configures alerting on match results.
type MatcherConfig struct {
	AlertThreshold int `yaml:"alert_threshold" mapstructure:"alert_threshold"`
}

// DedupConfig configures the exact and fuzzy seen-sets.
type DedupConfig struct {
	MaxEntries      int     `yaml:"max_entries" mapstructure:"max_entries"`
	RetentionDays   int     `yaml:"retention_days" mapstructure:"retention_days"`
	FuzzyThreshold  float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	FuzzyMinTokens  int     `yaml:"fuzzy_min_tokens" mapstructure:"fuzzy_min_tokens"`
	FuzzyMaxWords   int     `yaml:"fuzzy_max_words" mapstructure:"fuzzy_max_words"`
	FuzzyMaxAgeDays int     `yaml:"fuzzy_max_age_days" mapstructure:"fuzzy_max_age_days"`
	FuzzyScanLimit  int     `yaml:"fuzzy_scan_limit" mapstructure:"fuzzy_scan_limit"`
}

// HealthConfig configures the per-source circuit breaker and ranking.
type HealthConfig struct {
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int     `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	MinAttempts      int     `yaml:"min_attempts" mapstructure:"min_attempts"`
	NeutralScore     float64 `yaml:"neutral_score" mapstructure:"neutral_score"`
	SuccessWeight    float64 `yaml:"success_weight" mapstructure:"success_weight"`
	YieldWeight      float64 `yaml:"yield_weight" mapstructure:"yield_weight"`
}

// PipelineConfig configures the polling driver.
type PipelineConfig struct {
	Concurrency       int               `yaml:"concurrency" mapstructure:"concurrency"`
	FetchRatePerSec   float64           `yaml:"fetch_rate_per_sec" mapstructure:"fetch_rate_per_sec"`
	FetchBurst        int               `yaml:"fetch_burst" mapstructure:"fetch_burst"`
	CycleIntervalSecs int               `yaml:"cycle_interval_secs" mapstructure:"cycle_interval_secs"`
	FetchTimeoutSecs  int               `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	FeedsDir          string            `yaml:"feeds_dir" mapstructure:"feeds_dir"`
	NamespaceBySource map[string]string `yaml:"namespace_by_source" mapstructure:"namespace_by_source"`
}

// CheckpointConfig configures periodic state persistence.
type CheckpointConfig struct {
	IntervalSecs          int         `yaml:"interval_secs" mapstructure:"interval_secs"`
	FailureAlertThreshold int         `yaml:"failure_alert_threshold" mapstructure:"failure_alert_threshold"`
	Retry                 RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig holds retry settings in config-friendly units.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Policy converts r to a retry policy. Unset values keep the resilience
// defaults; a negative jitter fraction disables jitter.
func (r RetryConfig) Policy() resilience.RetryConfig {
	p := resilience.DefaultRetryConfig()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	if r.Multiplier > 0 {
		p.Multiplier = r.Multiplier
	}
	switch {
	case r.JitterFraction < 0:
		p.JitterFraction = 0
	case r.JitterFraction > 0:
		p.JitterFraction = r.JitterFraction
	}
	return p
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	Enabled                    bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs          int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	WebhookURL                 string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckpointFailureThreshold int     `yaml:"checkpoint_failure_threshold" mapstructure:"checkpoint_failure_threshold"`
	DegradedSourceRatio        float64 `yaml:"degraded_source_ratio" mapstructure:"degraded_source_ratio"`
	MinSources                 int     `yaml:"min_sources" mapstructure:"min_sources"`
}

// NotifyConfig configures where alerts are delivered.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	StoreAlerts bool   `yaml:"store_alerts" mapstructure:"store_alerts"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.dsn", "tge-sentinel.db")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.key_prefix", "tge:")
	v.SetDefault("store.redis.max_alerts", 1000)
	v.SetDefault("matcher.alert_threshold", 70)
	v.SetDefault("dedup.max_entries", 50000)
	v.SetDefault("dedup.retention_days", 90)
	v.SetDefault("dedup.fuzzy_threshold", 0.85)
	v.SetDefault("dedup.fuzzy_min_tokens", 20)
	v.SetDefault("dedup.fuzzy_max_words", 200)
	v.SetDefault("dedup.fuzzy_max_age_days", 30)
	v.SetDefault("dedup.fuzzy_scan_limit", 1000)
	v.SetDefault("health.failure_threshold", 3)
	v.SetDefault("health.cooldown_secs", 3600)
	v.SetDefault("health.min_attempts", 5)
	v.SetDefault("health.neutral_score", 0.5)
	v.SetDefault("health.success_weight", 0.3)
	v.SetDefault("health.yield_weight", 0.7)
	v.SetDefault("pipeline.concurrency", 8)
	v.SetDefault("pipeline.fetch_rate_per_sec", 2.0)
	v.SetDefault("pipeline.fetch_burst", 1)
	v.SetDefault("pipeline.cycle_interval_secs", 300)
	v.SetDefault("pipeline.fetch_timeout_secs", 30)
	v.SetDefault("pipeline.feeds_dir", "feeds")
	v.SetDefault("checkpoint.interval_secs", 60)
	v.SetDefault("checkpoint.failure_alert_threshold", 3)
	v.SetDefault("checkpoint.retry.max_attempts", 3)
	v.SetDefault("checkpoint.retry.initial_backoff_ms", 500)
	v.SetDefault("checkpoint.retry.max_backoff_ms", 10000)
	v.SetDefault("checkpoint.retry.multiplier", 2.0)
	v.SetDefault("checkpoint.retry.jitter_fraction", 0.25)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.checkpoint_failure_threshold", 3)
	v.SetDefault("monitoring.degraded_source_ratio", 0.5)
	v.SetDefault("monitoring.min_sources", 3)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate rejects inconsistent settings. Mode names the command being run
// and adds its own requirements on top of the shared checks.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverPostgres, store.DriverRedis:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, postgres, redis", c.Store.Driver))
	}
	if c.Store.Driver == store.DriverPostgres && c.Store.DSN == "" {
		errs = append(errs, "store.dsn is required for postgres")
	}
	if c.Matcher.AlertThreshold < 0 || c.Matcher.AlertThreshold > 100 {
		errs = append(errs, "matcher.alert_threshold must be between 0 and 100")
	}
	if c.Dedup.FuzzyThreshold <= 0 || c.Dedup.FuzzyThreshold > 1 {
		errs = append(errs, "dedup.fuzzy_threshold must be in (0, 1]")
	}
	if c.Dedup.MaxEntries < 0 || c.Dedup.RetentionDays < 0 {
		errs = append(errs, "dedup.max_entries and dedup.retention_days must be >= 0")
	}
	if c.Dedup.RetentionDays > 0 && c.Dedup.FuzzyMaxAgeDays > c.Dedup.RetentionDays {
		errs = append(errs, "dedup.fuzzy_max_age_days must not exceed dedup.retention_days")
	}
	if c.Health.SuccessWeight < 0 || c.Health.YieldWeight < 0 {
		errs = append(errs, "health weights must be >= 0")
	}
	if c.Health.NeutralScore < 0 || c.Health.NeutralScore > 1 {
		errs = append(errs, "health.neutral_score must be between 0 and 1")
	}
	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 64 {
		errs = append(errs, "pipeline.concurrency must be between 1 and 64")
	}
	if c.Pipeline.FetchRatePerSec < 0 {
		errs = append(errs, "pipeline.fetch_rate_per_sec must be >= 0")
	}
	if c.Monitoring.DegradedSourceRatio < 0 || c.Monitoring.DegradedSourceRatio > 1 {
		errs = append(errs, "monitoring.degraded_source_ratio must be between 0 and 1")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not json or console", c.Log.Format))
	}

	switch mode {
	case "classify", "scan", "sources", "migrate":
	case "watch":
		if c.Pipeline.FeedsDir == "" {
			errs = append(errs, "pipeline.feeds_dir is required")
		}
		if c.Pipeline.CycleIntervalSecs <= 0 {
			errs = append(errs, "pipeline.cycle_interval_secs must be > 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
