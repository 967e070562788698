// Package audit records the workflow decision trail: tool calls, rule
// evaluations, step transitions, and approval outcomes. Records go to the
// state store for querying and, optionally, to a JSON-lines writer for
// log shipping.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/gobby/state"
)

// Sink persists audit records. *state.Store satisfies it.
type Sink interface {
	InsertAudit(ctx context.Context, rec *state.AuditRecord) error
}

// Trail writes audit records to a sink and optionally mirrors each record
// as one JSON line. It is safe for concurrent use.
type Trail struct {
	mu     sync.Mutex
	sink   Sink
	writer io.Writer
	logger *slog.Logger
}

// NewTrail creates a Trail over a sink. w may be nil to disable the
// JSON-lines mirror.
func NewTrail(sink Sink, w io.Writer, logger *slog.Logger) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{sink: sink, writer: w, logger: logger}
}

type line struct {
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id"`
	Step      string          `json:"step,omitempty"`
	Kind      state.AuditKind `json:"kind"`
	Tool      string          `json:"tool,omitempty"`
	Rule      string          `json:"rule,omitempty"`
	Result    string          `json:"result,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// Record persists one audit record. Failures are logged, never returned:
// the trail must not block workflow evaluation.
func (t *Trail) Record(ctx context.Context, rec *state.AuditRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if t.sink != nil {
		if err := t.sink.InsertAudit(ctx, rec); err != nil {
			t.logger.Error("audit insert failed", "kind", rec.Kind, "error", err)
		}
	}
	if t.writer == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.Marshal(line{
		Timestamp: rec.CreatedAt,
		SessionID: rec.SessionID,
		Step:      rec.Step,
		Kind:      rec.Kind,
		Tool:      rec.Tool,
		Rule:      rec.Rule,
		Result:    rec.Result,
		Detail:    rec.Detail,
	})
	if err != nil {
		t.logger.Error("failed to marshal audit record", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := t.writer.Write(data); err != nil {
		t.logger.Error("failed to write audit record", "error", err)
	}
}

// ToolCall records a tool invocation and the decision it received.
func (t *Trail) ToolCall(ctx context.Context, sessionID, step, tool, decision, detail string) {
	t.Record(ctx, &state.AuditRecord{
		SessionID: sessionID,
		Step:      step,
		Kind:      state.AuditToolCall,
		Tool:      tool,
		Result:    decision,
		Detail:    detail,
	})
}

// RuleEval records a rule evaluation outcome for a tool call.
func (t *Trail) RuleEval(ctx context.Context, sessionID, step, rule, tool, result, detail string) {
	t.Record(ctx, &state.AuditRecord{
		SessionID: sessionID,
		Step:      step,
		Kind:      state.AuditRuleEval,
		Rule:      rule,
		Tool:      tool,
		Result:    result,
		Detail:    detail,
	})
}

// Transition records a step transition. Result is "from->to".
func (t *Trail) Transition(ctx context.Context, sessionID, from, to, detail string) {
	t.Record(ctx, &state.AuditRecord{
		SessionID: sessionID,
		Step:      from,
		Kind:      state.AuditTransition,
		Result:    from + "->" + to,
		Detail:    detail,
	})
}

// Approval records an approval lifecycle event (requested, granted,
// rejected, timeout).
func (t *Trail) Approval(ctx context.Context, sessionID, step, conditionID, result string) {
	t.Record(ctx, &state.AuditRecord{
		SessionID: sessionID,
		Step:      step,
		Kind:      state.AuditApproval,
		Rule:      conditionID,
		Result:    result,
	})
}
