package state

import (
	"context"
	"time"
)

// InsertAudit appends a workflow audit row.
func (s *Store) InsertAudit(ctx context.Context, rec *AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_audit (session_id, step, kind, tool, rule, result, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Step, string(rec.Kind), rec.Tool, rec.Rule,
		rec.Result, rec.Detail, rec.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// ListAudit returns audit rows for a session, newest first. kind filters
// when non-empty.
func (s *Store) ListAudit(ctx context.Context, sessionID string, kind AuditKind) ([]AuditRecord, error) {
	query := `SELECT id, session_id, step, kind, tool, rule, result, detail, created_at
		FROM workflow_audit WHERE session_id = ?`
	args := []any{sessionID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var kindStr, createdAt string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Step, &kindStr,
			&rec.Tool, &rec.Rule, &rec.Result, &rec.Detail, &createdAt); err != nil {
			return nil, err
		}
		rec.Kind = AuditKind(kindStr)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
