package database

import (
	"context"
	"database/sql"
	"fmt"

	"skynet/internal/models"
)

func nullableJSON(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// InsertAuditEntry appends one record to the audit trail.
func (db *DB) InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO audit_logs
		(id, action, entity, entity_id, user_id, tenant_id, before_state, after_state, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Entity, e.EntityID, e.ActorID, e.TenantID,
		nullableJSON(e.BeforeState), nullableJSON(e.AfterState), e.CorrelationID, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns the newest audit records of a tenant.
func (db *DB) ListAuditEntries(ctx context.Context, tenantID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT id, action, entity, entity_id, user_id, tenant_id, before_state, after_state, correlation_id, created_at
		FROM audit_logs WHERE tenant_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			e             models.AuditEntry
			before, after sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Entity, &e.EntityID, &e.ActorID, &e.TenantID,
			&before, &after, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if before.Valid {
			e.BeforeState = []byte(before.String)
		}
		if after.Valid {
			e.AfterState = []byte(after.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
