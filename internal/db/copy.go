// Package db provides shared PostgreSQL helpers for bulk copy, replace and
// upsert of checkpoint rows.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into table using the COPY protocol.
func CopyFrom(ctx context.Context, c Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := c.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// ReplaceConfig scopes a ReplaceRows call.
type ReplaceConfig struct {
	Table   string
	Columns []string
	// Scope is an optional column; when set only rows where Scope equals
	// ScopeValue are replaced.
	Scope      string
	ScopeValue any
}

// ReplaceRows atomically swaps the rows of table (or of one scope within
// it) for rows: DELETE then COPY inside one transaction.
func ReplaceRows(ctx context.Context, pool Pool, cfg ReplaceConfig, rows [][]any) (int64, error) {
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx)

	deleteSQL := fmt.Sprintf("DELETE FROM %s", sanitizeTable(cfg.Table))
	var args []any
	if cfg.Scope != "" {
		deleteSQL += fmt.Sprintf(" WHERE %s = $1", pgx.Identifier{cfg.Scope}.Sanitize())
		args = append(args, cfg.ScopeValue)
	}
	if _, err := tx.Exec(ctx, deleteSQL, args...); err != nil {
		return 0, eris.Wrapf(err, "db: replace: delete from %s", cfg.Table)
	}

	n, err := CopyFrom(ctx, tx, cfg.Table, cfg.Columns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	return n, nil
}

func identifier(table string) pgx.Identifier {
	return pgx.Identifier(splitTable(table))
}
