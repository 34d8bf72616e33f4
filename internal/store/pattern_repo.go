package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
)

// PatternRepo handles persistence for pattern aggregates.
type PatternRepo struct{}

// Get retrieves one aggregate, or ErrNotFound.
func (r *PatternRepo) Get(ctx context.Context, db *sql.DB, class domain.Class, identity string) (*domain.PatternRecord, error) {
	const q = `SELECT class, identity, occurrence_count, sessions_seen, first_seen, last_seen, examples_json, version
FROM patterns WHERE class = ? AND identity = ?`

	return scanPattern(db.QueryRowContext(ctx, q, string(class), identity))
}

// CreateTx inserts a fresh aggregate within a transaction.
func (r *PatternRepo) CreateTx(ctx context.Context, tx *sql.Tx, rec domain.PatternRecord) error {
	examples, err := json.Marshal(rec.Examples)
	if err != nil {
		return fmt.Errorf("marshal examples: %w", err)
	}

	const q = `INSERT INTO patterns (class, identity, occurrence_count, sessions_seen, first_seen, last_seen, examples_json, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		string(rec.Class), rec.Identity,
		rec.OccurrenceCount, rec.SessionsSeen,
		rec.FirstSeen.Unix(), rec.LastSeen.Unix(),
		string(examples), rec.Version,
	)
	if err != nil {
		return fmt.Errorf("create pattern: %w", err)
	}
	return nil
}

// UpdateTx updates an aggregate with optimistic locking: the write succeeds
// only if the stored version still matches rec.Version.
func (r *PatternRepo) UpdateTx(ctx context.Context, tx *sql.Tx, rec domain.PatternRecord) error {
	examples, err := json.Marshal(rec.Examples)
	if err != nil {
		return fmt.Errorf("marshal examples: %w", err)
	}

	const q = `UPDATE patterns SET
		occurrence_count = ?,
		sessions_seen = ?,
		last_seen = ?,
		examples_json = ?,
		version = version + 1
	WHERE class = ? AND identity = ? AND version = ?`

	res, err := tx.ExecContext(ctx, q,
		rec.OccurrenceCount, rec.SessionsSeen,
		rec.LastSeen.Unix(), string(examples),
		string(rec.Class), rec.Identity, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update pattern: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// MarkSessionTx records that a session contributed to an aggregate. Returns
// true if this is the first event from that session.
func (r *PatternRepo) MarkSessionTx(ctx context.Context, tx *sql.Tx, class domain.Class, identity, sessionID string) (bool, error) {
	const q = `INSERT OR IGNORE INTO pattern_sessions (class, identity, session_id) VALUES (?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, string(class), identity, sessionID)
	if err != nil {
		return false, fmt.Errorf("mark session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n > 0, nil
}

// List returns all aggregates ordered by class then identity.
func (r *PatternRepo) List(ctx context.Context, db *sql.DB) ([]domain.PatternRecord, error) {
	const q = `SELECT class, identity, occurrence_count, sessions_seen, first_seen, last_seen, examples_json, version
FROM patterns ORDER BY class, identity`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []domain.PatternRecord
	for rows.Next() {
		rec, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeleteOlderThan prunes aggregates whose last_seen is before cutoff,
// together with their session presence rows. Returns the number of
// aggregates removed.
func (r *PatternRepo) DeleteOlderThan(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const sel = `SELECT class, identity FROM patterns WHERE last_seen < ?`
	rows, err := tx.QueryContext(ctx, sel, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("select stale patterns: %w", err)
	}

	type key struct{ class, identity string }
	var stale []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.class, &k.identity); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stale pattern: %w", err)
		}
		stale = append(stale, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, k := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pattern_sessions WHERE class = ? AND identity = ?`, k.class, k.identity); err != nil {
			return 0, fmt.Errorf("delete pattern sessions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM patterns WHERE class = ? AND identity = ?`, k.class, k.identity); err != nil {
			return 0, fmt.Errorf("delete pattern: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}
	return int64(len(stale)), nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*domain.PatternRecord, error) {
	var rec domain.PatternRecord
	var class, examples string
	var firstSeen, lastSeen int64

	err := row.Scan(&class, &rec.Identity, &rec.OccurrenceCount, &rec.SessionsSeen,
		&firstSeen, &lastSeen, &examples, &rec.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan pattern: %w", err)
	}

	rec.Class = domain.Class(class)
	rec.FirstSeen = time.Unix(firstSeen, 0).UTC()
	rec.LastSeen = time.Unix(lastSeen, 0).UTC()
	if err := json.Unmarshal([]byte(examples), &rec.Examples); err != nil {
		return nil, fmt.Errorf("unmarshal examples: %w", err)
	}
	return &rec, nil
}
