package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/gobby/definition"
)

// SaveRule upserts a named rule at a tier. projectID scopes project-tier
// rules; pass "" for user and bundled tiers.
func (s *Store) SaveRule(ctx context.Context, name string, tier RuleTier, projectID string, rule *definition.RuleDefinition) error {
	encoded, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule %q: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (name, tier, definition, project_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name, tier, project_id) DO UPDATE SET definition = excluded.definition`,
		name, string(tier), string(encoded), projectID)
	return err
}

// GetRule resolves a named rule through the tier order: project (scoped to
// projectID) shadows user shadows bundled. Returns nil when no tier has it.
func (s *Store) GetRule(ctx context.Context, name, projectID string) (*definition.RuleDefinition, error) {
	lookups := []struct {
		tier    RuleTier
		project string
	}{
		{TierProject, projectID},
		{TierUser, ""},
		{TierBundled, ""},
	}
	for _, l := range lookups {
		if l.tier == TierProject && l.project == "" {
			continue
		}
		var raw string
		err := s.db.QueryRowContext(ctx,
			`SELECT definition FROM rules WHERE name = ? AND tier = ? AND project_id = ?`,
			name, string(l.tier), l.project).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rule definition.RuleDefinition
		if err := json.Unmarshal([]byte(raw), &rule); err != nil {
			return nil, fmt.Errorf("decode rule %q: %w", name, err)
		}
		return &rule, nil
	}
	return nil, nil
}
