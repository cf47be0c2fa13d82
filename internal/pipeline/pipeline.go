// Package pipeline drives polling cycles: rank sources, fetch items,
// classify, deduplicate and emit alerts.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/tge-sentinel/internal/dedup"
	"github.com/sells-group/tge-sentinel/internal/health"
	"github.com/sells-group/tge-sentinel/internal/matcher"
	"github.com/sells-group/tge-sentinel/internal/metrics"
	"github.com/sells-group/tge-sentinel/internal/model"
	"github.com/sells-group/tge-sentinel/internal/resilience"
	"github.com/sells-group/tge-sentinel/internal/textprep"
)

// Fetcher returns the current items of one source.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID string) ([]model.CandidateItem, error)
}

// Sink receives alerts for new matches.
type Sink interface {
	Emit(ctx context.Context, alert model.Alert) error
}

// Config controls classification and polling.
type Config struct {
	// AlertThreshold is the minimum confidence score for an alert. Default: 70.
	AlertThreshold int

	// Concurrency bounds parallel classification. Default: 8.
	Concurrency int

	// FetchRate paces fetches across all sources. Zero disables pacing.
	FetchRate  rate.Limit
	FetchBurst int

	// FetchTimeout bounds a single Fetch call. Zero means no timeout.
	FetchTimeout time.Duration

	// NamespaceBySource maps source IDs to dedup namespaces. Unmapped
	// sources use dedup.DefaultNamespace.
	NamespaceBySource map[string]string
}

func (c Config) withDefaults() Config {
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = 70
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.FetchBurst <= 0 {
		c.FetchBurst = 1
	}
	return c
}

// Summary counts what Process or RunCycle did.
type Summary struct {
	Seen       int `json:"seen"`
	Matched    int `json:"matched"`
	Duplicates int `json:"duplicates"`
	Emitted    int `json:"emitted"`
	EmitErrors int `json:"emit_errors"`

	// Yield counts new matches per source. Process keys it by each item's
	// SourceID; RunCycle keys it by the polled source.
	Yield map[string]int `json:"yield"`

	// Cycle-only counters.
	Polled  int `json:"polled,omitempty"`
	Skipped int `json:"skipped,omitempty"`
	Failed  int `json:"failed,omitempty"`
}

// add merges the counters of o, which came from polling sourceID, and
// credits every new match in o to sourceID regardless of the source IDs
// the items carry.
func (s *Summary) add(sourceID string, o Summary) {
	s.Seen += o.Seen
	s.Matched += o.Matched
	s.Duplicates += o.Duplicates
	s.Emitted += o.Emitted
	s.EmitErrors += o.EmitErrors
	if s.Yield == nil {
		s.Yield = make(map[string]int)
	}
	s.Yield[sourceID] += o.newMatches()
}

func (s Summary) newMatches() int {
	return s.Matched - s.Duplicates
}

// Pipeline wires the matcher, deduplicator and source tracker to a fetcher
// and a sink.
type Pipeline struct {
	matcher    *matcher.Matcher
	namespaces *dedup.Namespaces
	tracker    *health.Tracker
	fetcher    Fetcher
	sink       Sink
	cfg        Config
	limiter    *rate.Limiter
	metrics    *metrics.Metrics

	nowFunc func() time.Time
	newID   func() string
}

// New creates a Pipeline. fetcher and tracker may be nil when only Process
// is used.
func New(m *matcher.Matcher, namespaces *dedup.Namespaces, tracker *health.Tracker, fetcher Fetcher, sink Sink, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	limit := cfg.FetchRate
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Pipeline{
		matcher:    m,
		namespaces: namespaces,
		tracker:    tracker,
		fetcher:    fetcher,
		sink:       sink,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, cfg.FetchBurst),
		nowFunc:    time.Now,
		newID:      uuid.NewString,
	}
}

// WithMetrics attaches Prometheus metrics.
func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// Namespace returns the dedup namespace for sourceID.
func (p *Pipeline) Namespace(sourceID string) string {
	if ns, ok := p.cfg.NamespaceBySource[sourceID]; ok && ns != "" {
		return ns
	}
	return dedup.DefaultNamespace
}

// Process classifies items concurrently, then deduplicates and emits
// alertable matches in input order. Sink errors are logged and counted;
// only cancellation aborts processing.
func (p *Pipeline) Process(ctx context.Context, items []model.CandidateItem) (Summary, error) {
	prepared := make([]model.CandidateItem, len(items))
	results := make([]model.MatchResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			prepared[i] = textprep.Prepare(items[i])
			results[i] = p.matcher.Classify(prepared[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, eris.Wrap(err, "pipeline: classify")
	}

	sum := Summary{Yield: make(map[string]int)}
	for i, res := range results {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "pipeline: process")
		}
		sum.Seen++
		p.metrics.ObserveClassification(string(res.Strategy))
		if !res.Alertable(p.cfg.AlertThreshold) {
			continue
		}
		sum.Matched++
		p.metrics.ObserveMatch(string(res.PriorityLevel))

		item := prepared[i]
		ns := p.Namespace(item.SourceID)
		decision := p.namespaces.Get(ns).Check(item)
		if !decision.IsNew() {
			sum.Duplicates++
			p.metrics.ObserveDuplicate(string(decision.Kind))
			zap.L().Debug("pipeline: duplicate suppressed",
				zap.String("source", item.SourceID),
				zap.String("kind", string(decision.Kind)),
				zap.Float64("similarity", decision.Similarity),
			)
			continue
		}
		sum.Yield[item.SourceID]++

		alert := model.Alert{
			ID:         p.newID(),
			Namespace:  ns,
			Item:       item,
			Result:     res,
			DetectedAt: p.nowFunc().UTC(),
		}
		if err := p.sink.Emit(ctx, alert); err != nil {
			sum.EmitErrors++
			zap.L().Error("pipeline: emit alert",
				zap.String("alert_id", alert.ID),
				zap.String("source", item.SourceID),
				zap.Error(err),
			)
			continue
		}
		sum.Emitted++
		p.metrics.ObserveAlert(ns)
	}
	return sum, nil
}

// RunCycle polls every available source once, in ranked order, and records
// each fetch outcome with the tracker.
func (p *Pipeline) RunCycle(ctx context.Context, sourceIDs []string) (Summary, error) {
	if p.fetcher == nil || p.tracker == nil {
		return Summary{}, eris.New("pipeline: run cycle requires a fetcher and a tracker")
	}
	log := zap.L().With(zap.String("component", "pipeline.cycle"))

	ranked := p.tracker.RankForNextCycle(sourceIDs)
	total := Summary{Yield: make(map[string]int)}
	total.Skipped = len(uniqueIDs(sourceIDs)) - len(ranked)

	for _, id := range ranked {
		if err := p.limiter.Wait(ctx); err != nil {
			return total, eris.Wrap(err, "pipeline: wait for fetch slot")
		}

		items, err := p.fetch(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return total, eris.Wrap(ctx.Err(), "pipeline: run cycle")
			}
			total.Failed++
			class := resilience.ClassifyError(err)
			p.tracker.RecordOutcome(id, false, 0)
			p.metrics.ObserveSourceOutcome(false, class)
			log.Warn("source fetch failed",
				zap.String("source", id),
				zap.String("class", class),
				zap.Error(err),
			)
			continue
		}

		sum, err := p.Process(ctx, items)
		if err != nil {
			return total, err
		}
		total.Polled++
		total.add(id, sum)
		p.tracker.RecordOutcome(id, true, sum.newMatches())
		p.metrics.ObserveSourceOutcome(true, "")
	}

	open, tracked := p.tracker.Counts()
	p.metrics.SetOpenSources(open)
	log.Info("cycle complete",
		zap.Int("polled", total.Polled),
		zap.Int("skipped", total.Skipped),
		zap.Int("failed", total.Failed),
		zap.Int("seen", total.Seen),
		zap.Int("emitted", total.Emitted),
		zap.Int("open_sources", open),
		zap.Int("tracked_sources", tracked),
	)
	return total, nil
}

func (p *Pipeline) fetch(ctx context.Context, sourceID string) ([]model.CandidateItem, error) {
	if p.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
	}
	items, err := p.fetcher.Fetch(ctx, sourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: fetch %s", sourceID)
	}
	for i := range items {
		if items[i].SourceID == "" {
			items[i].SourceID = sourceID
		}
	}
	return items, nil
}

// Run calls RunCycle immediately and then every interval until ctx is
// cancelled. sources is called before each cycle so the source list can
// change between cycles.
func (p *Pipeline) Run(ctx context.Context, sources func() ([]string, error), interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log := zap.L().With(zap.String("component", "pipeline"))
	log.Info("starting poll loop", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ids, err := sources()
		if err != nil {
			log.Error("pipeline: list sources", zap.Error(err))
		} else if _, err := p.RunCycle(ctx, ids); err != nil && ctx.Err() == nil {
			log.Error("pipeline: cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			log.Info("poll loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func uniqueIDs(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
