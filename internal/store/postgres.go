package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tge-sentinel/internal/db"
	"github.com/sells-group/tge-sentinel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS seen_entries (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	seen_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS source_health (
	source_id            TEXT PRIMARY KEY,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	circuit_open_until   TIMESTAMPTZ,
	success_count        INTEGER NOT NULL DEFAULT 0,
	failure_count        INTEGER NOT NULL DEFAULT 0,
	yield_count          INTEGER NOT NULL DEFAULT 0,
	last_success_at      TIMESTAMPTZ,
	last_failure_at      TIMESTAMPTZ,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	namespace     TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	organizations TEXT[] NOT NULL DEFAULT '{}',
	strategy      TEXT NOT NULL,
	score         INTEGER NOT NULL,
	detected_at   TIMESTAMPTZ NOT NULL,
	payload       JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_seen_entries_seen_at ON seen_entries(namespace, seen_at);
CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at DESC);
`

var (
	seenColumns   = []string{"namespace", "key", "seen_at"}
	sourceColumns = []string{
		"source_id", "consecutive_failures", "circuit_open_until", "success_count",
		"failure_count", "yield_count", "last_success_at", "last_failure_at", "updated_at",
	}
	alertColumns = []string{
		"id", "namespace", "source_id", "title", "url", "organizations",
		"strategy", "score", "detected_at", "payload",
	}
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveSeen(ctx context.Context, namespace string, entries []model.SeenEntry) error {
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{namespace, e.Key, e.SeenAt.UTC()}
	}
	_, err := db.ReplaceRows(ctx, s.pool, db.ReplaceConfig{
		Table:      "seen_entries",
		Columns:    seenColumns,
		Scope:      "namespace",
		ScopeValue: namespace,
	}, rows)
	return eris.Wrapf(err, "postgres: save seen %s", namespace)
}

func (s *PostgresStore) LoadSeen(ctx context.Context, namespace string) ([]model.SeenEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, seen_at FROM seen_entries WHERE namespace = $1 ORDER BY seen_at, key`,
		namespace,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load seen %s", namespace)
	}
	defer rows.Close()

	var entries []model.SeenEntry
	for rows.Next() {
		var e model.SeenEntry
		if err := rows.Scan(&e.Key, &e.SeenAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan seen")
		}
		e.SeenAt = e.SeenAt.UTC()
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate seen")
}

func (s *PostgresStore) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT namespace FROM seen_entries ORDER BY namespace`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list namespaces")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, eris.Wrap(err, "postgres: scan namespace")
		}
		out = append(out, ns)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate namespaces")
}

func (s *PostgresStore) SaveSources(ctx context.Context, records []model.SourceRecord) error {
	now := time.Now().UTC()
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			r.SourceID, r.ConsecutiveFailures, r.CircuitOpenUntil, r.SuccessCount,
			r.FailureCount, r.YieldCount, r.LastSuccessAt, r.LastFailureAt, now,
		}
	}
	_, err := db.ReplaceRows(ctx, s.pool, db.ReplaceConfig{
		Table:   "source_health",
		Columns: sourceColumns,
	}, rows)
	return eris.Wrap(err, "postgres: save sources")
}

func (s *PostgresStore) LoadSources(ctx context.Context) ([]model.SourceRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT source_id, consecutive_failures, circuit_open_until,
		success_count, failure_count, yield_count, last_success_at, last_failure_at
		FROM source_health ORDER BY source_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load sources")
	}
	defer rows.Close()

	var out []model.SourceRecord
	for rows.Next() {
		var r model.SourceRecord
		if err := rows.Scan(&r.SourceID, &r.ConsecutiveFailures, &r.CircuitOpenUntil,
			&r.SuccessCount, &r.FailureCount, &r.YieldCount, &r.LastSuccessAt, &r.LastFailureAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sources")
}

func (s *PostgresStore) DeleteSource(ctx context.Context, sourceID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM source_health WHERE source_id = $1`, sourceID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete source %s", sourceID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "source %s", sourceID)
	}
	return nil
}

func (s *PostgresStore) SaveAlerts(ctx context.Context, alerts []AlertRecord) error {
	rows := make([][]any, len(alerts))
	for i, a := range alerts {
		rows[i] = []any{
			a.ID, a.Namespace, a.SourceID, a.Title, a.URL, a.Organizations,
			a.Strategy, a.Score, a.DetectedAt.UTC(), string(a.Payload),
		}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "alerts",
		Columns:      alertColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{},
	}, rows)
	return eris.Wrap(err, "postgres: save alerts")
}

func (s *PostgresStore) ListAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, namespace, source_id, title, url, organizations,
		strategy, score, detected_at, payload FROM alerts ORDER BY detected_at DESC, id LIMIT $1`,
		alertLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var (
			a       AlertRecord
			payload []byte
		)
		if err := rows.Scan(&a.ID, &a.Namespace, &a.SourceID, &a.Title, &a.URL, &a.Organizations,
			&a.Strategy, &a.Score, &a.DetectedAt, &payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		a.DetectedAt = a.DetectedAt.UTC()
		a.Payload = json.RawMessage(payload)
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate alerts")
}
