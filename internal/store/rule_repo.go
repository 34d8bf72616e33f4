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

// RuleRepo handles persistence for governed rules.
type RuleRepo struct{}

// Get retrieves one rule by id, or ErrNotFound.
func (r *RuleRepo) Get(ctx context.Context, db *sql.DB, id string) (*domain.Rule, error) {
	row := db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	return scanRule(row)
}

// Upsert inserts a rule or, when the id exists, refreshes its confidence,
// provenance, and status.
func (r *RuleRepo) Upsert(ctx context.Context, db *sql.DB, rule domain.Rule) error {
	ids, err := json.Marshal(rule.SourcePatternIDs)
	if err != nil {
		return fmt.Errorf("marshal source pattern ids: %w", err)
	}

	const q = `INSERT INTO rules (id, text, scope, category, source_pattern_ids, confidence, status, created_at, decided_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	source_pattern_ids = excluded.source_pattern_ids,
	confidence = excluded.confidence,
	status = excluded.status,
	decided_at = excluded.decided_at`

	_, err = db.ExecContext(ctx, q,
		rule.ID, rule.Text, string(rule.Scope), string(rule.Category),
		string(ids), rule.Confidence, string(rule.Status),
		rule.CreatedAt.Unix(), nullableUnix(rule.DecidedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

// UpdateStatus transitions a rule's status and stamps the decision time.
func (r *RuleRepo) UpdateStatus(ctx context.Context, db *sql.DB, id string, status domain.Status, decidedAt time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE rules SET status = ?, decided_at = ? WHERE id = ?`,
		string(status), decidedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("update rule status: %w", err)
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

// ListByStatus returns rules in the given status, oldest first.
func (r *RuleRepo) ListByStatus(ctx context.Context, db *sql.DB, status domain.Status) ([]domain.Rule, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE status = ? ORDER BY created_at, id`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// ListAll returns every rule, oldest first.
func (r *RuleRepo) ListAll(ctx context.Context, db *sql.DB) ([]domain.Rule, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of rules in the given status.
func (r *RuleRepo) CountByStatus(ctx context.Context, db *sql.DB, status domain.Status) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rules: %w", err)
	}
	return n, nil
}

// Delete removes a rule outright. Used only for pending-cap eviction;
// decided rules are never deleted, they are superseded.
func (r *RuleRepo) Delete(ctx context.Context, db *sql.DB, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

const ruleColumns = `id, text, scope, category, source_pattern_ids, confidence, status, created_at, decided_at`

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var scope, category, status, ids string
	var createdAt int64
	var decidedAt sql.NullInt64

	err := row.Scan(&rule.ID, &rule.Text, &scope, &category, &ids,
		&rule.Confidence, &status, &createdAt, &decidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan rule: %w", err)
	}

	rule.Scope = domain.Scope(scope)
	rule.Category = domain.Category(category)
	rule.Status = domain.Status(status)
	rule.CreatedAt = time.Unix(createdAt, 0).UTC()
	if decidedAt.Valid {
		t := time.Unix(decidedAt.Int64, 0).UTC()
		rule.DecidedAt = &t
	}
	if err := json.Unmarshal([]byte(ids), &rule.SourcePatternIDs); err != nil {
		return nil, fmt.Errorf("unmarshal source pattern ids: %w", err)
	}
	return &rule, nil
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
