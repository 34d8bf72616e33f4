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

// CommandRepo handles persistence for command candidates.
type CommandRepo struct{}

// Get retrieves one command candidate by id, or ErrNotFound.
func (r *CommandRepo) Get(ctx context.Context, db *sql.DB, id string) (*domain.CommandCandidate, error) {
	row := db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM command_candidates WHERE id = ?`, id)
	return scanCommand(row)
}

// GetByName retrieves a command candidate by its command name, or
// ErrNotFound. Used for collision checks before approval.
func (r *CommandRepo) GetByName(ctx context.Context, db *sql.DB, name string) (*domain.CommandCandidate, error) {
	row := db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM command_candidates WHERE command_name = ?`, name)
	return scanCommand(row)
}

// Upsert inserts a command candidate or refreshes an existing one.
func (r *CommandRepo) Upsert(ctx context.Context, db *sql.DB, cmd domain.CommandCandidate) error {
	ids, err := json.Marshal(cmd.SourcePatternIDs)
	if err != nil {
		return fmt.Errorf("marshal source pattern ids: %w", err)
	}

	const q = `INSERT INTO command_candidates (id, command_name, body, scope, category, source_pattern_ids, confidence, status, created_at, decided_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	body = excluded.body,
	source_pattern_ids = excluded.source_pattern_ids,
	confidence = excluded.confidence,
	status = excluded.status,
	decided_at = excluded.decided_at`

	_, err = db.ExecContext(ctx, q,
		cmd.ID, cmd.CommandName, cmd.Body, string(cmd.Scope), string(cmd.Category),
		string(ids), cmd.Confidence, string(cmd.Status),
		cmd.CreatedAt.Unix(), nullableUnix(cmd.DecidedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert command: %w", err)
	}
	return nil
}

// UpdateStatus transitions a command candidate's status.
func (r *CommandRepo) UpdateStatus(ctx context.Context, db *sql.DB, id string, status domain.Status, decidedAt time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE command_candidates SET status = ?, decided_at = ? WHERE id = ?`,
		string(status), decidedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("update command status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatus returns command candidates in the given status, oldest first.
func (r *CommandRepo) ListByStatus(ctx context.Context, db *sql.DB, status domain.Status) ([]domain.CommandCandidate, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+commandColumns+` FROM command_candidates WHERE status = ? ORDER BY created_at, id`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var out []domain.CommandCandidate
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cmd)
	}
	return out, rows.Err()
}

// ListAll returns every command candidate regardless of status.
func (r *CommandRepo) ListAll(ctx context.Context, db *sql.DB) ([]domain.CommandCandidate, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+commandColumns+` FROM command_candidates ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list all commands: %w", err)
	}
	defer rows.Close()

	var out []domain.CommandCandidate
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cmd)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of command candidates in the status.
func (r *CommandRepo) CountByStatus(ctx context.Context, db *sql.DB, status domain.Status) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_candidates WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count commands: %w", err)
	}
	return n, nil
}

// Delete removes a command candidate. Used only for pending-cap eviction.
func (r *CommandRepo) Delete(ctx context.Context, db *sql.DB, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM command_candidates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete command: %w", err)
	}
	return nil
}

const commandColumns = `id, command_name, body, scope, category, source_pattern_ids, confidence, status, created_at, decided_at`

func scanCommand(row rowScanner) (*domain.CommandCandidate, error) {
	var cmd domain.CommandCandidate
	var scope, category, status, ids string
	var createdAt int64
	var decidedAt sql.NullInt64

	err := row.Scan(&cmd.ID, &cmd.CommandName, &cmd.Body, &scope, &category, &ids,
		&cmd.Confidence, &status, &createdAt, &decidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan command: %w", err)
	}

	cmd.Scope = domain.Scope(scope)
	cmd.Category = domain.Category(category)
	cmd.Status = domain.Status(status)
	cmd.CreatedAt = time.Unix(createdAt, 0).UTC()
	if decidedAt.Valid {
		t := time.Unix(decidedAt.Int64, 0).UTC()
		cmd.DecidedAt = &t
	}
	if err := json.Unmarshal([]byte(ids), &cmd.SourcePatternIDs); err != nil {
		return nil, fmt.Errorf("unmarshal source pattern ids: %w", err)
	}
	return &cmd, nil
}
