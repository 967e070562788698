package action

import "context"

// Session statuses written by actions.
const (
	SessionStatusActive       = "active"
	SessionStatusCompleted    = "completed"
	SessionStatusHandoffReady = "handoff_ready"
)

// Session is the subset of session metadata actions read and write.
type Session struct {
	ID              string
	ExternalID      string
	ParentID        string
	ProjectID       string
	Title           string
	Status          string
	Summary         string
	CompactMarkdown string
}

// SessionManager is the session store handle consumed by actions.
type SessionManager interface {
	Get(ctx context.Context, id string) (*Session, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateSummary(ctx context.Context, id, markdown string) error
	UpdateTitle(ctx context.Context, id, title string) error
	UpdateCompactMarkdown(ctx context.Context, id, markdown string) error
	FindByExternalID(ctx context.Context, externalID string) (*Session, error)
}

// Task is the task record actions create and inspect.
type Task struct {
	ID          string
	Ref         string
	Title       string
	Description string
	Status      string
	Priority    int
	ParentID    string
}

// TaskManager is the task store handle consumed by actions and detection
// helpers. GetTask accepts either a UUID or a numeric ref.
type TaskManager interface {
	GetTask(ctx context.Context, ref string) (*Task, error)
	CreateTask(ctx context.Context, task *Task) (*Task, error)
	LinkTaskToSession(ctx context.Context, taskID, sessionID string) error
}

// MCPProxy proxies tool calls to named MCP servers.
type MCPProxy interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error)
}

// LLMService is the text-generation handle.
type LLMService interface {
	GenerateText(ctx context.Context, prompt, model string) (string, error)
	GenerateSummary(ctx context.Context, content, template string) (string, error)
}

// Memory is one recallable memory entry.
type Memory struct {
	ID         string
	ProjectID  string
	Content    string
	Importance int
	Tags       []string
}

// MemoryManager is the memory store handle.
type MemoryManager interface {
	Recall(ctx context.Context, projectID string, minImportance int) ([]Memory, error)
	Remember(ctx context.Context, m Memory) error
	ContentExists(ctx context.Context, content, projectID string) (bool, error)
}

// Turn is one transcript turn.
type Turn struct {
	Role    string
	Content string
}

// TranscriptSource reads session transcripts.
type TranscriptSource interface {
	RecentTurns(ctx context.Context, sessionID string, n int) ([]Turn, error)
}

// SkillLearner extracts reusable skills from a session transcript.
type SkillLearner interface {
	LearnFromTranscript(ctx context.Context, sessionID string) error
}

// StopRegistry exposes pending stop signals.
type StopRegistry interface {
	HasPendingSignal(sessionID string) bool
}

// SessionSpawner starts a child assistant session with an initial prompt.
type SessionSpawner interface {
	SpawnSession(ctx context.Context, prompt, workflow, source string) (sessionID string, err error)
}
