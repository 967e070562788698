package state

import (
	"context"
	"encoding/json"
	"fmt"
)

// SetSessionVariable stores a session variable written by the agent-facing
// set_variable tool. These override workflow state variables at evaluation
// time, keeping the agent's writes authoritative.
func (s *Store) SetSessionVariable(ctx context.Context, sessionID, name string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode session variable %q: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_variables (session_id, name, value)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id, name) DO UPDATE SET value = excluded.value`,
		sessionID, name, string(encoded))
	return err
}

// SessionVariables returns all session variables for a session.
func (s *Store) SessionVariables(ctx context.Context, sessionID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM session_variables WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vars := make(map[string]any)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("decode session variable %q: %w", name, err)
		}
		vars[name] = value
	}
	return vars, rows.Err()
}

// DeleteSessionVariables removes all session variables for a session.
func (s *Store) DeleteSessionVariables(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_variables WHERE session_id = ?`, sessionID)
	return err
}
