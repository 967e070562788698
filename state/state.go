// Package state persists per-session workflow state in SQLite. It is the
// only writer for workflow_states; every mutation of the variables JSON goes
// through an immediate-mode transaction so concurrent hook events on one
// session cannot lose updates.
package state

import "time"

// Sentinel workflow names. LifecycleWorkflow marks a state row that only
// stores lifecycle variables (no active step workflow); EndedWorkflow marks
// a cleared step workflow whose lifecycle variables persist.
const (
	LifecycleWorkflow = "__lifecycle__"
	EndedWorkflow     = "__ended__"
)

// ReservedSlotsVar is the variables key holding the orchestration slot
// reservation counter.
const ReservedSlotsVar = "_reserved_slots"

// WorkflowState is the persisted runtime state of one session's workflow.
type WorkflowState struct {
	SessionID              string
	WorkflowName           string
	Step                   string
	StepEnteredAt          *time.Time
	StepActionCount        int
	TotalActionCount       int
	Observations           []any
	ReflectionPending      bool
	ContextInjected        bool
	Variables              map[string]any
	TaskList               []any
	CurrentTaskIndex       int
	FilesModifiedThisTask  []string
	ApprovalPending        bool
	ApprovalConditionID    string
	ApprovalPrompt         string
	ApprovalRequestedAt    *time.Time
	ApprovalTimeoutSeconds int
	Disabled               bool
	DisabledReason         string
	InitialStep            string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewWorkflowState returns a state row for a session with initialized
// containers.
func NewWorkflowState(sessionID, workflowName string) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		SessionID:    sessionID,
		WorkflowName: workflowName,
		Variables:    make(map[string]any),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsSentinel reports whether the row carries no active step workflow.
func (s *WorkflowState) IsSentinel() bool {
	return s.WorkflowName == LifecycleWorkflow || s.WorkflowName == EndedWorkflow
}

// Var returns a variable value, or nil.
func (s *WorkflowState) Var(name string) any {
	if s.Variables == nil {
		return nil
	}
	return s.Variables[name]
}

// SetVar assigns a variable in memory. Persistence happens through the
// store's merge path.
func (s *WorkflowState) SetVar(name string, value any) {
	if s.Variables == nil {
		s.Variables = make(map[string]any)
	}
	s.Variables[name] = value
}

// WorkflowInstance is the optional multi-workflow variant keyed by
// (session_id, workflow_name), used for per-workflow enable/disable.
type WorkflowInstance struct {
	ID           string
	SessionID    string
	WorkflowName string
	Enabled      bool
	Priority     int
	CurrentStep  string
	Variables    map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuditKind classifies workflow audit rows.
type AuditKind string

const (
	AuditToolCall   AuditKind = "tool_call"
	AuditRuleEval   AuditKind = "rule_eval"
	AuditTransition AuditKind = "transition"
	AuditApproval   AuditKind = "approval"
)

// AuditRecord is one audit trail row.
type AuditRecord struct {
	ID        int64
	SessionID string
	Step      string
	Kind      AuditKind
	Tool      string
	Rule      string
	Result    string
	Detail    string
	CreatedAt time.Time
}

// RuleTier orders the DB-backed rule store: project rules shadow user rules
// shadow bundled rules.
type RuleTier string

const (
	TierProject RuleTier = "project"
	TierUser    RuleTier = "user"
	TierBundled RuleTier = "bundled"
)
