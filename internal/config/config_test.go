package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/tge-sentinel/internal/resilience"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "tge-sentinel.db", cfg.Store.DSN)
	assert.Equal(t, "tge:", cfg.Store.Redis.KeyPrefix)
	assert.Equal(t, 70, cfg.Matcher.AlertThreshold)
	assert.Equal(t, 50000, cfg.Dedup.MaxEntries)
	assert.Equal(t, 90, cfg.Dedup.RetentionDays)
	assert.InDelta(t, 0.85, cfg.Dedup.FuzzyThreshold, 0.001)
	assert.Equal(t, 20, cfg.Dedup.FuzzyMinTokens)
	assert.Equal(t, 3, cfg.Health.FailureThreshold)
	assert.Equal(t, 3600, cfg.Health.CooldownSecs)
	assert.InDelta(t, 0.7, cfg.Health.YieldWeight, 0.001)
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.Equal(t, 60, cfg.Checkpoint.IntervalSecs)
	assert.Equal(t, 3, cfg.Checkpoint.Retry.MaxAttempts)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, cfg.Validate("scan"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: redis
  redis:
    addr: cache:6379
matcher:
  alert_threshold: 80
pipeline:
  concurrency: 4
  namespace_by_source:
    x-monad: social
    blog-feed: news
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "cache:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 80, cfg.Matcher.AlertThreshold)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Equal(t, map[string]string{"x-monad": "social", "blog-feed": "news"}, cfg.Pipeline.NamespaceBySource)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 90, cfg.Dedup.RetentionDays)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TGE_STORE_DRIVER", "postgres")
	t.Setenv("TGE_LOG_LEVEL", "warn")
	t.Setenv("TGE_MATCHER_ALERT_THRESHOLD", "65")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 65, cfg.Matcher.AlertThreshold)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Matcher.AlertThreshold = 70
	cfg.Dedup.MaxEntries = 50000
	cfg.Dedup.RetentionDays = 90
	cfg.Dedup.FuzzyThreshold = 0.85
	cfg.Dedup.FuzzyMaxAgeDays = 30
	cfg.Health.NeutralScore = 0.5
	cfg.Health.SuccessWeight = 0.3
	cfg.Health.YieldWeight = 0.7
	cfg.Pipeline.Concurrency = 8
	cfg.Pipeline.FeedsDir = "feeds"
	cfg.Pipeline.CycleIntervalSecs = 300
	cfg.Monitoring.DegradedSourceRatio = 0.5
	cfg.Server.Port = 8080
	cfg.Log.Format = "json"
	return cfg
}

func TestValidate_Modes(t *testing.T) {
	for _, mode := range []string{"classify", "scan", "watch", "sources", "serve", "migrate"} {
		assert.NoError(t, validDefaults().Validate(mode), mode)
	}

	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		mutate func(*Config)
		want   string
	}{
		{"driver", "scan", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"postgres dsn", "scan", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn is required"},
		{"threshold", "scan", func(c *Config) { c.Matcher.AlertThreshold = 101 }, "alert_threshold"},
		{"fuzzy zero", "scan", func(c *Config) { c.Dedup.FuzzyThreshold = 0 }, "fuzzy_threshold"},
		{"fuzzy age", "scan", func(c *Config) { c.Dedup.FuzzyMaxAgeDays = 120 }, "fuzzy_max_age_days"},
		{"weights", "scan", func(c *Config) { c.Health.YieldWeight = -1 }, "health weights"},
		{"neutral", "scan", func(c *Config) { c.Health.NeutralScore = 2 }, "neutral_score"},
		{"concurrency", "scan", func(c *Config) { c.Pipeline.Concurrency = 0 }, "pipeline.concurrency"},
		{"log format", "scan", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"watch feeds", "watch", func(c *Config) { c.Pipeline.FeedsDir = "" }, "feeds_dir is required"},
		{"serve port", "serve", func(c *Config) { c.Server.Port = 0 }, "server.port must be > 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Matcher.AlertThreshold = -1
	cfg.Pipeline.Concurrency = 100

	err := cfg.Validate("scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert_threshold")
	assert.Contains(t, err.Error(), "pipeline.concurrency")
}

func TestRetryConfig_Policy(t *testing.T) {
	p := RetryConfig{MaxAttempts: 5, InitialBackoffMs: 250, MaxBackoffMs: 4000, Multiplier: 3, JitterFraction: -1}.Policy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, 4*time.Second, p.MaxBackoff)
	assert.InDelta(t, 3.0, p.Multiplier, 1e-9)
	assert.Zero(t, p.JitterFraction)

	assert.Equal(t, resilience.DefaultRetryConfig(), RetryConfig{}.Policy())
}
