// Package store persists checkpoint state (SeenSet entries, SourceRecords)
// and emitted alerts. In-memory state stays authoritative; a store is only
// read on startup and written by the checkpointer.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tge-sentinel/internal/model"
)

// Store defines the persistence interface for detection state.
type Store interface {
	// SeenSet, one row set per dedup namespace.
	SaveSeen(ctx context.Context, namespace string, entries []model.SeenEntry) error
	LoadSeen(ctx context.Context, namespace string) ([]model.SeenEntry, error)
	Namespaces(ctx context.Context) ([]string, error)

	// Source health. SaveSources replaces every stored record.
	SaveSources(ctx context.Context, records []model.SourceRecord) error
	LoadSources(ctx context.Context) ([]model.SourceRecord, error)
	DeleteSource(ctx context.Context, sourceID string) error

	// Alerts, newest first on read. Saving an existing ID is a no-op.
	SaveAlerts(ctx context.Context, alerts []AlertRecord) error
	ListAlerts(ctx context.Context, limit int) ([]AlertRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// AlertRecord is the stored, flattened form of a model.Alert. Payload holds
// the full alert JSON.
type AlertRecord struct {
	ID            string          `json:"id"`
	Namespace     string          `json:"namespace"`
	SourceID      string          `json:"source_id"`
	Title         string          `json:"title"`
	URL           string          `json:"url,omitempty"`
	Organizations []string        `json:"organizations"`
	Strategy      string          `json:"strategy"`
	Score         int             `json:"score"`
	DetectedAt    time.Time       `json:"detected_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewAlertRecord flattens a for storage.
func NewAlertRecord(a model.Alert) (AlertRecord, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return AlertRecord{}, eris.Wrap(err, "store: marshal alert")
	}
	orgs := a.Result.MatchedOrganizations
	if orgs == nil {
		orgs = []string{}
	}
	return AlertRecord{
		ID:            a.ID,
		Namespace:     a.Namespace,
		SourceID:      a.Item.SourceID,
		Title:         a.Item.Title,
		URL:           a.Item.URL,
		Organizations: orgs,
		Strategy:      string(a.Result.Strategy),
		Score:         a.Result.ConfidenceScore,
		DetectedAt:    a.DetectedAt.UTC(),
		Payload:       payload,
	}, nil
}

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Driver string      `yaml:"driver" mapstructure:"driver"`
	DSN    string      `yaml:"dsn" mapstructure:"dsn"`
	Pool   *PoolConfig `yaml:"pool" mapstructure:"pool"`
	Redis  RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return NewSQLite(cfg.DSN)
	case DriverPostgres:
		return NewPostgres(ctx, cfg.DSN, cfg.Pool)
	case DriverRedis:
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

const defaultAlertLimit = 100

func alertLimit(limit int) int {
	if limit <= 0 {
		return defaultAlertLimit
	}
	return limit
}

func unixNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}

func fromUnixNano(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(0, *v).UTC()
	return &t
}

// ErrNotFound is returned when a record to delete does not exist.
var ErrNotFound = eris.New("store: not found")
