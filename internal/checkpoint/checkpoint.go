// Package checkpoint periodically persists deduplicator and source health
// state to a store and restores it on startup. In-memory state is
// authoritative; a failed flush is logged and retried on the next tick.
package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tge-sentinel/internal/dedup"
	"github.com/sells-group/tge-sentinel/internal/health"
	"github.com/sells-group/tge-sentinel/internal/metrics"
	"github.com/sells-group/tge-sentinel/internal/resilience"
	"github.com/sells-group/tge-sentinel/internal/store"
)

// Config controls flush cadence and failure reporting.
type Config struct {
	// Interval between periodic flushes. Default: 60s.
	Interval time.Duration

	// FailureAlertThreshold is the number of consecutive failed flushes
	// after which Healthy reports false. Default: 3.
	FailureAlertThreshold int

	// Retry applies to each batch write.
	Retry resilience.RetryConfig

	// FinalFlushTimeout bounds the flush performed when Run stops.
	// Default: 30s.
	FinalFlushTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.FailureAlertThreshold <= 0 {
		c.FailureAlertThreshold = 3
	}
	if c.FinalFlushTimeout <= 0 {
		c.FinalFlushTimeout = 30 * time.Second
	}
	return c
}

// Checkpointer writes snapshots of every dedup namespace and of the source
// tracker to a Store.
type Checkpointer struct {
	store      store.Store
	namespaces *dedup.Namespaces
	tracker    *health.Tracker
	cfg        Config
	metrics    *metrics.Metrics

	flushMu sync.Mutex // serializes flushes

	mu        sync.Mutex
	failures  int
	lastFlush time.Time
	lastErr   error
}

// New creates a Checkpointer. tracker may be nil for commands that do not
// poll sources.
func New(st store.Store, namespaces *dedup.Namespaces, tracker *health.Tracker, cfg Config) *Checkpointer {
	return &Checkpointer{
		store:      st,
		namespaces: namespaces,
		tracker:    tracker,
		cfg:        cfg.withDefaults(),
	}
}

// WithMetrics attaches Prometheus metrics.
func (c *Checkpointer) WithMetrics(m *metrics.Metrics) *Checkpointer {
	c.metrics = m
	return c
}

// Restore loads every stored namespace and all source records.
func (c *Checkpointer) Restore(ctx context.Context) error {
	names, err := c.store.Namespaces(ctx)
	if err != nil {
		return eris.Wrap(err, "checkpoint: list namespaces")
	}

	restored := 0
	for _, name := range names {
		entries, err := c.store.LoadSeen(ctx, name)
		if err != nil {
			return eris.Wrapf(err, "checkpoint: load seen %s", name)
		}
		c.namespaces.Get(name).Restore(entries)
		restored += len(entries)
	}

	sources := 0
	if c.tracker != nil {
		records, err := c.store.LoadSources(ctx)
		if err != nil {
			return eris.Wrap(err, "checkpoint: load sources")
		}
		c.tracker.Restore(records)
		sources = len(records)
	}

	zap.L().Info("checkpoint: state restored",
		zap.Int("namespaces", len(names)),
		zap.Int("seen_entries", restored),
		zap.Int("sources", sources),
	)
	return nil
}

// Flush evicts expired entries, then writes one batch per namespace and one
// batch of source records. Transient store errors are retried.
func (c *Checkpointer) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	start := time.Now()
	err := c.flush(ctx)
	c.metrics.ObserveCheckpoint(time.Since(start), err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	if err != nil {
		c.failures++
		zap.L().Warn("checkpoint: flush failed",
			zap.Int("consecutive_failures", c.failures),
			zap.String("class", resilience.ClassifyError(err)),
			zap.Error(err),
		)
		if c.failures == c.cfg.FailureAlertThreshold {
			zap.L().Error("checkpoint: persistence unhealthy",
				zap.Int("consecutive_failures", c.failures),
			)
		}
		return err
	}
	c.failures = 0
	c.lastFlush = time.Now()
	return nil
}

func (c *Checkpointer) flush(ctx context.Context) error {
	retry := c.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("checkpoint", "flush")

	c.namespaces.EvictAll()
	for _, name := range c.namespaces.Names() {
		entries := c.namespaces.Get(name).Snapshot()
		c.metrics.SetSeenEntries(name, len(entries))
		err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return c.store.SaveSeen(ctx, name, entries)
		})
		if err != nil {
			return eris.Wrapf(err, "checkpoint: save seen %s", name)
		}
	}

	if c.tracker == nil {
		return nil
	}
	records := c.tracker.Snapshot()
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		return c.store.SaveSources(ctx, records)
	})
	if err != nil {
		return eris.Wrap(err, "checkpoint: save sources")
	}
	return nil
}

// Run flushes every Interval until ctx is cancelled, then flushes once more
// with a fresh deadline.
func (c *Checkpointer) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "checkpoint"))
	log.Info("starting checkpointer", zap.Duration("interval", c.cfg.Interval))

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FinalFlushTimeout)
			if err := c.Flush(finalCtx); err == nil {
				log.Info("checkpointer stopped after final flush")
			}
			cancel()
			return
		case <-ticker.C:
			_ = c.Flush(ctx)
		}
	}
}

// ConsecutiveFailures returns the number of flushes that failed since the
// last success.
func (c *Checkpointer) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Healthy reports whether fewer than FailureAlertThreshold flushes have
// failed in a row.
func (c *Checkpointer) Healthy() bool {
	return c.ConsecutiveFailures() < c.cfg.FailureAlertThreshold
}

// LastFlush returns the time of the last successful flush and the error of
// the most recent attempt.
func (c *Checkpointer) LastFlush() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFlush, c.lastErr
}
