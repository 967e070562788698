package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetState returns the state row for a session, or nil when none exists.
func (s *Store) GetState(ctx context.Context, sessionID string) (*WorkflowState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, workflow_name, step, step_entered_at,
		       step_action_count, total_action_count, observations,
		       reflection_pending, context_injected, variables, task_list,
		       current_task_index, files_modified_this_task, approval_pending,
		       approval_condition_id, approval_prompt, approval_requested_at,
		       approval_timeout_seconds, disabled, disabled_reason,
		       initial_step, created_at, updated_at
		FROM workflow_states WHERE session_id = ?`, sessionID)

	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

// SaveState upserts the full state row keyed by session ID.
func (s *Store) SaveState(ctx context.Context, st *WorkflowState) error {
	st.UpdatedAt = time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.UpdatedAt
	}

	observations, err := marshalJSON(st.Observations, "[]")
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}
	variables, err := marshalJSON(st.Variables, "{}")
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	taskList, err := marshalJSON(st.TaskList, "[]")
	if err != nil {
		return fmt.Errorf("marshal task list: %w", err)
	}
	files, err := marshalJSON(st.FilesModifiedThisTask, "[]")
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_states (
			session_id, workflow_name, step, step_entered_at,
			step_action_count, total_action_count, observations,
			reflection_pending, context_injected, variables, task_list,
			current_task_index, files_modified_this_task, approval_pending,
			approval_condition_id, approval_prompt, approval_requested_at,
			approval_timeout_seconds, disabled, disabled_reason,
			initial_step, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			workflow_name = excluded.workflow_name,
			step = excluded.step,
			step_entered_at = excluded.step_entered_at,
			step_action_count = excluded.step_action_count,
			total_action_count = excluded.total_action_count,
			observations = excluded.observations,
			reflection_pending = excluded.reflection_pending,
			context_injected = excluded.context_injected,
			variables = excluded.variables,
			task_list = excluded.task_list,
			current_task_index = excluded.current_task_index,
			files_modified_this_task = excluded.files_modified_this_task,
			approval_pending = excluded.approval_pending,
			approval_condition_id = excluded.approval_condition_id,
			approval_prompt = excluded.approval_prompt,
			approval_requested_at = excluded.approval_requested_at,
			approval_timeout_seconds = excluded.approval_timeout_seconds,
			disabled = excluded.disabled,
			disabled_reason = excluded.disabled_reason,
			initial_step = excluded.initial_step,
			updated_at = excluded.updated_at`,
		st.SessionID, st.WorkflowName, nullString(st.Step), nullTime(st.StepEnteredAt),
		st.StepActionCount, st.TotalActionCount, observations,
		st.ReflectionPending, st.ContextInjected, variables, taskList,
		st.CurrentTaskIndex, files, st.ApprovalPending,
		st.ApprovalConditionID, st.ApprovalPrompt, nullTime(st.ApprovalRequestedAt),
		st.ApprovalTimeoutSeconds, st.Disabled, st.DisabledReason,
		st.InitialStep, st.CreatedAt.Format(time.RFC3339Nano), st.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// MergeVariables folds updates into the session's variables JSON inside one
// immediate transaction. Returns false (without error) when the session has
// no state row.
func (s *Store) MergeVariables(ctx context.Context, sessionID string, updates map[string]any) (bool, error) {
	if len(updates) == 0 {
		return true, nil
	}
	err := s.withVariables(ctx, sessionID, func(vars map[string]any) error {
		for k, v := range updates {
			vars[k] = v
		}
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		s.logger.Warn("merge_variables: session not found", "session_id", sessionID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateOrchestrationLists atomically appends to and/or replaces the
// orchestration list variables (spawned_agents, completed_agents,
// failed_agents).
func (s *Store) UpdateOrchestrationLists(ctx context.Context, sessionID string, appends, replaces map[string][]any) error {
	return s.withVariables(ctx, sessionID, func(vars map[string]any) error {
		for key, items := range appends {
			existing, _ := vars[key].([]any)
			vars[key] = append(existing, items...)
		}
		for key, items := range replaces {
			vars[key] = items
		}
		return nil
	})
}

// CheckAndReserveSlots checks orchestration capacity and reserves up to
// requested slots in the _reserved_slots counter, all in one transaction.
// Callers MUST release granted slots with ReleaseReservedSlots when the
// spawn completes or fails.
func (s *Store) CheckAndReserveSlots(ctx context.Context, sessionID string, maxConcurrent, requested int) (int, error) {
	granted := 0
	err := s.withVariables(ctx, sessionID, func(vars map[string]any) error {
		spawned := len(listVar(vars, "spawned_agents"))
		completed := len(listVar(vars, "completed_agents"))
		failed := len(listVar(vars, "failed_agents"))
		reserved := intVar(vars, ReservedSlotsVar)

		active := spawned - completed - failed + reserved
		if active < 0 {
			active = 0
		}
		available := maxConcurrent - active
		if available <= 0 {
			return nil
		}
		granted = requested
		if granted > available {
			granted = available
		}
		vars[ReservedSlotsVar] = reserved + granted
		return nil
	})
	return granted, err
}

// ReleaseReservedSlots returns previously reserved slots to the pool.
func (s *Store) ReleaseReservedSlots(ctx context.Context, sessionID string, n int) error {
	if n <= 0 {
		return nil
	}
	return s.withVariables(ctx, sessionID, func(vars map[string]any) error {
		reserved := intVar(vars, ReservedSlotsVar) - n
		if reserved < 0 {
			reserved = 0
		}
		vars[ReservedSlotsVar] = reserved
		return nil
	})
}

// DeleteState clears the step workflow for a session: step fields are
// reset and the workflow name becomes the __ended__ sentinel, but lifecycle
// variables are preserved.
func (s *Store) DeleteState(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_states SET
			workflow_name = ?,
			step = NULL,
			step_entered_at = NULL,
			step_action_count = 0,
			approval_pending = 0,
			approval_condition_id = '',
			approval_prompt = '',
			approval_requested_at = NULL,
			approval_timeout_seconds = 0,
			initial_step = '',
			updated_at = ?
		WHERE session_id = ?`,
		EndedWorkflow, time.Now().UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	return nil
}

// withVariables runs fn over the decoded variables JSON inside an immediate
// transaction and writes the result back. This is the single code path for
// every variables mutation.
func (s *Store) withVariables(ctx context.Context, sessionID string, fn func(map[string]any) error) error {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT variables FROM workflow_states WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return err
	}

	vars := make(map[string]any)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &vars); err != nil {
			return fmt.Errorf("decode variables: %w", err)
		}
	}
	if err := fn(vars); err != nil {
		return err
	}

	encoded, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("encode variables: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE workflow_states SET variables = ?, updated_at = ? WHERE session_id = ?`,
		string(encoded), time.Now().UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func listVar(vars map[string]any, key string) []any {
	l, _ := vars[key].([]any)
	return l
}

func intVar(vars map[string]any, key string) int {
	switch v := vars[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*WorkflowState, error) {
	var (
		st                      WorkflowState
		step                    sql.NullString
		stepEnteredAt           sql.NullString
		approvalRequestedAt     sql.NullString
		observations, variables string
		taskList, filesModified string
		createdAt, updatedAt    string
	)
	err := row.Scan(&st.SessionID, &st.WorkflowName, &step, &stepEnteredAt,
		&st.StepActionCount, &st.TotalActionCount, &observations,
		&st.ReflectionPending, &st.ContextInjected, &variables, &taskList,
		&st.CurrentTaskIndex, &filesModified, &st.ApprovalPending,
		&st.ApprovalConditionID, &st.ApprovalPrompt, &approvalRequestedAt,
		&st.ApprovalTimeoutSeconds, &st.Disabled, &st.DisabledReason,
		&st.InitialStep, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	st.Step = step.String
	st.StepEnteredAt = parseNullTime(stepEnteredAt)
	st.ApprovalRequestedAt = parseNullTime(approvalRequestedAt)

	if err := json.Unmarshal([]byte(observations), &st.Observations); err != nil {
		return nil, fmt.Errorf("decode observations: %w", err)
	}
	if err := json.Unmarshal([]byte(variables), &st.Variables); err != nil {
		return nil, fmt.Errorf("decode variables: %w", err)
	}
	if err := json.Unmarshal([]byte(taskList), &st.TaskList); err != nil {
		return nil, fmt.Errorf("decode task list: %w", err)
	}
	if err := json.Unmarshal([]byte(filesModified), &st.FilesModifiedThisTask); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	if st.Variables == nil {
		st.Variables = make(map[string]any)
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		st.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		st.UpdatedAt = t
	}
	return &st, nil
}

func marshalJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
