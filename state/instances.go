package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertInstance creates or updates a workflow instance keyed by
// (session_id, workflow_name).
func (s *Store) UpsertInstance(ctx context.Context, inst *WorkflowInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	variables, err := marshalJSON(inst.Variables, "{}")
	if err != nil {
		return fmt.Errorf("marshal instance variables: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, session_id, workflow_name, enabled, priority, current_step, variables, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, workflow_name) DO UPDATE SET
			enabled = excluded.enabled,
			priority = excluded.priority,
			current_step = excluded.current_step,
			variables = excluded.variables,
			updated_at = excluded.updated_at`,
		inst.ID, inst.SessionID, inst.WorkflowName, inst.Enabled, inst.Priority,
		inst.CurrentStep, variables,
		inst.CreatedAt.Format(time.RFC3339Nano), inst.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// GetInstance returns the instance for a (session, workflow) pair, or nil.
func (s *Store) GetInstance(ctx context.Context, sessionID, workflowName string) (*WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, workflow_name, enabled, priority, current_step, variables, created_at, updated_at
		FROM workflow_instances WHERE session_id = ? AND workflow_name = ?`,
		sessionID, workflowName)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return inst, err
}

// ListInstances returns all instances for a session ordered by priority.
func (s *Store) ListInstances(ctx context.Context, sessionID string) ([]*WorkflowInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, workflow_name, enabled, priority, current_step, variables, created_at, updated_at
		FROM workflow_instances WHERE session_id = ?
		ORDER BY priority, workflow_name`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// SetInstanceEnabled toggles one workflow for a session.
func (s *Store) SetInstanceEnabled(ctx context.Context, sessionID, workflowName string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances SET enabled = ?, updated_at = ?
		WHERE session_id = ? AND workflow_name = ?`,
		enabled, time.Now().UTC().Format(time.RFC3339Nano), sessionID, workflowName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q/%q", ErrSessionNotFound, sessionID, workflowName)
	}
	return nil
}

func scanInstance(row rowScanner) (*WorkflowInstance, error) {
	var inst WorkflowInstance
	var variables, createdAt, updatedAt string
	err := row.Scan(&inst.ID, &inst.SessionID, &inst.WorkflowName, &inst.Enabled,
		&inst.Priority, &inst.CurrentStep, &variables, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(variables), &inst.Variables); err != nil {
		return nil, fmt.Errorf("decode instance variables: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		inst.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		inst.UpdatedAt = t
	}
	return &inst, nil
}
