// Package hook defines the event and response types exchanged with the
// assistant-side hook transport, plus a bounded synchronous facade over the
// engine for transports that cannot wait indefinitely.
package hook

import "strings"

// EventType identifies a lifecycle or tool-call notification from the
// assistant transport.
type EventType string

const (
	SessionStart EventType = "session_start"
	SessionEnd   EventType = "session_end"
	BeforeAgent  EventType = "before_agent"
	AfterAgent   EventType = "after_agent"
	BeforeTool   EventType = "before_tool"
	AfterTool    EventType = "after_tool"
	Stop         EventType = "stop"
	Notification EventType = "notification"
	PreCompact   EventType = "pre_compact"
)

// Event is a single hook notification. Data and Metadata carry the
// assistant-native payload after transport normalization.
type Event struct {
	Type      EventType      `json:"event_type"`
	Source    string         `json:"source,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CWD       string         `json:"cwd,omitempty"`
	MachineID string         `json:"machine_id,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
}

// SessionID returns the platform session identifier from event metadata.
func (e *Event) SessionID() string {
	return e.metaString("_platform_session_id")
}

// ParentSessionID returns the parent session identifier, if any.
func (e *Event) ParentSessionID() string {
	return e.metaString("_parent_session_id")
}

// ToolName returns data.tool_name for tool events.
func (e *Event) ToolName() string {
	return e.dataString("tool_name")
}

// MCPServer returns the MCP server name for MCP tool-call events. It falls
// back to parsing Claude-style mcp__server__tool names.
func (e *Event) MCPServer() string {
	if s := e.dataString("mcp_server"); s != "" {
		return s
	}
	server, _ := SplitMCPToolName(e.ToolName())
	return server
}

// MCPTool returns the MCP tool name for MCP tool-call events.
func (e *Event) MCPTool() string {
	if s := e.dataString("mcp_tool"); s != "" {
		return s
	}
	_, tool := SplitMCPToolName(e.ToolName())
	return tool
}

// IsMCPToolCall reports whether this event describes a call routed to an MCP
// server rather than a native tool.
func (e *Event) IsMCPToolCall() bool {
	return e.MCPServer() != ""
}

// Prompt returns the user prompt carried by agent events.
func (e *Event) Prompt() string {
	return e.dataString("prompt")
}

func (e *Event) dataString(key string) string {
	if e.Data == nil {
		return ""
	}
	s, _ := e.Data[key].(string)
	return s
}

func (e *Event) metaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}

// SplitMCPToolName splits a transport-mangled MCP tool name of the form
// "mcp__server__tool" into its server and tool parts. Returns empty strings
// for non-MCP names.
func SplitMCPToolName(name string) (server, tool string) {
	if !strings.HasPrefix(name, "mcp__") {
		return "", ""
	}
	rest := strings.TrimPrefix(name, "mcp__")
	idx := strings.Index(rest, "__")
	if idx < 0 {
		return rest, ""
	}
	return rest[:idx], rest[idx+2:]
}
