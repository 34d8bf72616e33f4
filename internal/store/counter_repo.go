package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CounterRepo handles persistent named counters. The ingest counter
// survives across short-lived hook invocations so the periodic batch
// trigger fires even when no single process sees all the events.
type CounterRepo struct{}

// Increment adds one to the named counter and returns the new value.
func (r *CounterRepo) Increment(ctx context.Context, db *sql.DB, name string) (int64, error) {
	const q = `INSERT INTO ingest_counters (name, value) VALUES (?, 1)
ON CONFLICT(name) DO UPDATE SET value = value + 1
RETURNING value`

	var n int64
	if err := db.QueryRowContext(ctx, q, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	return n, nil
}

// Reset zeroes the named counter.
func (r *CounterRepo) Reset(ctx context.Context, db *sql.DB, name string) error {
	const q = `INSERT INTO ingest_counters (name, value) VALUES (?, 0)
ON CONFLICT(name) DO UPDATE SET value = 0`

	if _, err := db.ExecContext(ctx, q, name); err != nil {
		return fmt.Errorf("reset counter %s: %w", name, err)
	}
	return nil
}
