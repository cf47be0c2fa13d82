package main

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tge-sentinel/internal/checkpoint"
	"github.com/sells-group/tge-sentinel/internal/config"
	"github.com/sells-group/tge-sentinel/internal/dedup"
	"github.com/sells-group/tge-sentinel/internal/health"
	"github.com/sells-group/tge-sentinel/internal/lexicon"
	"github.com/sells-group/tge-sentinel/internal/matcher"
	"github.com/sells-group/tge-sentinel/internal/metrics"
	"github.com/sells-group/tge-sentinel/internal/monitoring"
	"github.com/sells-group/tge-sentinel/internal/pipeline"
	"github.com/sells-group/tge-sentinel/internal/resilience"
	"github.com/sells-group/tge-sentinel/internal/store"
)

// detectorEnv holds everything the scan, watch and serve commands share.
type detectorEnv struct {
	Store        store.Store
	Lexicon      *lexicon.Lexicon
	Matcher      *matcher.Matcher
	Namespaces   *dedup.Namespaces
	Tracker      *health.Tracker
	Checkpointer *checkpoint.Checkpointer
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
}

// Close releases resources held by the environment.
func (e *detectorEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initDetector validates cfg for mode, opens and migrates the store, and
// restores the last checkpoint. Callers should defer env.Close().
func initDetector(ctx context.Context, c *config.Config, mode string) (*detectorEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	lex, err := loadLexicon(c.Lexicon)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	namespaces := dedup.NewNamespaces(dedupConfig(c.Dedup))
	tracker := health.NewTracker(healthConfig(c.Health, m))
	cp := checkpoint.New(st, namespaces, tracker, checkpointConfig(c.Checkpoint)).WithMetrics(m)

	env := &detectorEnv{
		Store:        st,
		Lexicon:      lex,
		Matcher:      matcher.New(lex),
		Namespaces:   namespaces,
		Tracker:      tracker,
		Checkpointer: cp,
		Registry:     reg,
		Metrics:      m,
	}

	if err := cp.Restore(ctx); err != nil {
		env.Close()
		return nil, err
	}

	zap.L().Info("detector initialized",
		zap.String("store", c.Store.Driver),
		zap.Int("organizations", len(lex.Organizations)),
		zap.Strings("namespaces", namespaces.Names()),
	)
	return env, nil
}

// finalCheckpoint flushes state before a batch command exits. A failed
// flush is logged and counted by the checkpointer but not returned, since
// the alerts have already been emitted.
func (e *detectorEnv) finalCheckpoint(ctx context.Context) bool {
	if err := e.Checkpointer.Flush(ctx); err != nil {
		zap.L().Error("final checkpoint failed, state from this run is not persisted",
			zap.Int("consecutive_failures", e.Checkpointer.ConsecutiveFailures()),
			zap.Error(err),
		)
		return false
	}
	return true
}

// newPipeline builds a pipeline over env emitting to out plus any
// configured webhook and store sinks.
func (e *detectorEnv) newPipeline(c *config.Config, fetcher pipeline.Fetcher, out io.Writer) *pipeline.Pipeline {
	return pipeline.New(e.Matcher, e.Namespaces, e.Tracker, fetcher, e.sinks(c, out), pipelineConfig(c)).
		WithMetrics(e.Metrics)
}

func (e *detectorEnv) sinks(c *config.Config, out io.Writer) pipeline.Sink {
	var sinks pipeline.MultiSink
	if out != nil {
		sinks = append(sinks, pipeline.NewJSONLSink(out))
	}
	if c.Notify.WebhookURL != "" {
		timeout := time.Duration(c.Notify.TimeoutSecs) * time.Second
		sinks = append(sinks, pipeline.NewWebhookSink(c.Notify.WebhookURL, timeout, resilience.DefaultRetryConfig()))
	}
	if c.Notify.StoreAlerts {
		sinks = append(sinks, pipeline.NewStoreSink(e.Store))
	}
	return sinks
}

// newChecker builds the background monitoring checker for env.
func (e *detectorEnv) newChecker(c *config.Config) *monitoring.Checker {
	collector := monitoring.NewCollector(e.Namespaces, e.Tracker, e.Checkpointer)
	return monitoring.NewChecker(collector, monitoring.NewAlerter(c.Monitoring), c.Monitoring).
		WithMetrics(e.Metrics)
}

func loadLexicon(c config.LexiconConfig) (*lexicon.Lexicon, error) {
	if c.Path == "" {
		return lexicon.Default(), nil
	}
	lex, err := lexicon.LoadFile(c.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "load lexicon %s", c.Path)
	}
	return lex, nil
}

func dedupConfig(c config.DedupConfig) dedup.Config {
	return dedup.Config{
		MaxEntries:     c.MaxEntries,
		Retention:      days(c.RetentionDays),
		FuzzyThreshold: c.FuzzyThreshold,
		FuzzyMinTokens: c.FuzzyMinTokens,
		FuzzyMaxWords:  c.FuzzyMaxWords,
		FuzzyMaxAge:    days(c.FuzzyMaxAgeDays),
		FuzzyScanLimit: c.FuzzyScanLimit,
	}
}

func healthConfig(c config.HealthConfig, m *metrics.Metrics) health.Config {
	return health.Config{
		FailureThreshold: c.FailureThreshold,
		Cooldown:         time.Duration(c.CooldownSecs) * time.Second,
		MinAttempts:      c.MinAttempts,
		NeutralScore:     c.NeutralScore,
		SuccessWeight:    c.SuccessWeight,
		YieldWeight:      c.YieldWeight,
		OnStateChange: func(sourceID string, from, to health.State) {
			m.ObserveCircuitTransition(to.String())
			zap.L().Info("source circuit changed",
				zap.String("source", sourceID),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
}

func checkpointConfig(c config.CheckpointConfig) checkpoint.Config {
	return checkpoint.Config{
		Interval:              time.Duration(c.IntervalSecs) * time.Second,
		FailureAlertThreshold: c.FailureAlertThreshold,
		Retry:                 c.Retry.Policy(),
	}
}

func pipelineConfig(c *config.Config) pipeline.Config {
	p := c.Pipeline
	return pipeline.Config{
		AlertThreshold:    c.Matcher.AlertThreshold,
		Concurrency:       p.Concurrency,
		FetchRate:         rate.Limit(p.FetchRatePerSec),
		FetchBurst:        p.FetchBurst,
		FetchTimeout:      time.Duration(p.FetchTimeoutSecs) * time.Second,
		NamespaceBySource: p.NamespaceBySource,
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
