package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/tge-sentinel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as UTC unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "tge-sentinel.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS seen_entries (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	seen_at   INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS source_health (
	source_id            TEXT PRIMARY KEY,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	circuit_open_until   INTEGER,
	success_count        INTEGER NOT NULL DEFAULT 0,
	failure_count        INTEGER NOT NULL DEFAULT 0,
	yield_count          INTEGER NOT NULL DEFAULT 0,
	last_success_at      INTEGER,
	last_failure_at      INTEGER,
	updated_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	namespace     TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	organizations TEXT NOT NULL DEFAULT '[]',
	strategy      TEXT NOT NULL,
	score         INTEGER NOT NULL,
	detected_at   INTEGER NOT NULL,
	payload       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_seen_entries_seen_at ON seen_entries(namespace, seen_at);
CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSeen(ctx context.Context, namespace string, entries []model.SeenEntry) error {
	return s.inTx(ctx, "save seen", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM seen_entries WHERE namespace = ?`, namespace); err != nil {
			return eris.Wrapf(err, "sqlite: clear seen %s", namespace)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO seen_entries (namespace, key, seen_at) VALUES (?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare seen insert")
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, namespace, e.Key, e.SeenAt.UTC().UnixNano()); err != nil {
				return eris.Wrapf(err, "sqlite: insert seen %s", namespace)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadSeen(ctx context.Context, namespace string) ([]model.SeenEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, seen_at FROM seen_entries WHERE namespace = ? ORDER BY seen_at, key`,
		namespace,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load seen %s", namespace)
	}
	defer rows.Close()

	var entries []model.SeenEntry
	for rows.Next() {
		var (
			e  model.SeenEntry
			ns int64
		)
		if err := rows.Scan(&e.Key, &ns); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan seen")
		}
		e.SeenAt = time.Unix(0, ns).UTC()
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate seen")
}

func (s *SQLiteStore) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM seen_entries ORDER BY namespace`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list namespaces")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan namespace")
		}
		out = append(out, ns)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate namespaces")
}

func (s *SQLiteStore) SaveSources(ctx context.Context, records []model.SourceRecord) error {
	now := time.Now().UTC().UnixNano()
	return s.inTx(ctx, "save sources", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM source_health`); err != nil {
			return eris.Wrap(err, "sqlite: clear sources")
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO source_health
			(source_id, consecutive_failures, circuit_open_until, success_count, failure_count, yield_count, last_success_at, last_failure_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare source insert")
		}
		defer stmt.Close()
		for _, r := range records {
			if _, err := stmt.ExecContext(ctx,
				r.SourceID, r.ConsecutiveFailures, unixNano(r.CircuitOpenUntil),
				r.SuccessCount, r.FailureCount, r.YieldCount,
				unixNano(r.LastSuccessAt), unixNano(r.LastFailureAt), now,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert source %s", r.SourceID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadSources(ctx context.Context) ([]model.SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, consecutive_failures, circuit_open_until,
		success_count, failure_count, yield_count, last_success_at, last_failure_at
		FROM source_health ORDER BY source_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load sources")
	}
	defer rows.Close()

	var out []model.SourceRecord
	for rows.Next() {
		var (
			r                           model.SourceRecord
			openUntil, lastOK, lastFail sql.NullInt64
		)
		if err := rows.Scan(&r.SourceID, &r.ConsecutiveFailures, &openUntil,
			&r.SuccessCount, &r.FailureCount, &r.YieldCount, &lastOK, &lastFail); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		r.CircuitOpenUntil = nullTime(openUntil)
		r.LastSuccessAt = nullTime(lastOK)
		r.LastFailureAt = nullTime(lastFail)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sources")
}

func (s *SQLiteStore) DeleteSource(ctx context.Context, sourceID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM source_health WHERE source_id = ?`, sourceID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete source %s", sourceID)
	}
	return checkRowsAffected(res, "source", sourceID)
}

func (s *SQLiteStore) SaveAlerts(ctx context.Context, alerts []AlertRecord) error {
	if len(alerts) == 0 {
		return nil
	}
	return s.inTx(ctx, "save alerts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO alerts
			(id, namespace, source_id, title, url, organizations, strategy, score, detected_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare alert insert")
		}
		defer stmt.Close()
		for _, a := range alerts {
			orgs, err := json.Marshal(a.Organizations)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal organizations")
			}
			if _, err := stmt.ExecContext(ctx,
				a.ID, a.Namespace, a.SourceID, a.Title, a.URL, string(orgs),
				a.Strategy, a.Score, a.DetectedAt.UTC().UnixNano(), string(a.Payload),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert alert %s", a.ID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, namespace, source_id, title, url, organizations,
		strategy, score, detected_at, payload FROM alerts ORDER BY detected_at DESC, id LIMIT ?`,
		alertLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts")
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var (
			a             AlertRecord
			orgs, payload string
			detected      int64
		)
		if err := rows.Scan(&a.ID, &a.Namespace, &a.SourceID, &a.Title, &a.URL, &orgs,
			&a.Strategy, &a.Score, &detected, &payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		if err := json.Unmarshal([]byte(orgs), &a.Organizations); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal organizations for alert %s", a.ID)
		}
		a.DetectedAt = time.Unix(0, detected).UTC()
		a.Payload = json.RawMessage(payload)
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate alerts")
}

func (s *SQLiteStore) inTx(ctx context.Context, action string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin tx", action)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit", action)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	return fromUnixNano(&v.Int64)
}
