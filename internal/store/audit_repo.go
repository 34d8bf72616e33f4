package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
)

// AuditRepo appends to and reads the governance audit log. Entries are
// never updated or deleted: rejected and superseded items keep their
// history for audit.
type AuditRepo struct{}

// Append records one governance action.
func (r *AuditRepo) Append(ctx context.Context, db *sql.DB, itemID, itemType, action, detail string) error {
	const q = `INSERT INTO audit_log (id, item_id, item_type, action, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q, uuid.NewString(), itemID, itemType, action, detail, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// ListByItem returns the audit trail for one item, oldest first.
func (r *AuditRepo) ListByItem(ctx context.Context, db *sql.DB, itemID string) ([]domain.AuditRecord, error) {
	const q = `SELECT id, item_id, item_type, action, detail, created_at FROM audit_log WHERE item_id = ? ORDER BY created_at, id`
	rows, err := db.QueryContext(ctx, q, itemID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.ItemID, &rec.ItemType, &rec.Action, &rec.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
