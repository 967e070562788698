package hook

// Decision is the engine's verdict on a hook event.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionBlock  Decision = "block"
	DecisionDeny   Decision = "deny"
	DecisionAsk    Decision = "ask"
	DecisionModify Decision = "modify"
)

// Response is returned to the hook transport for every event.
type Response struct {
	Decision      Decision       `json:"decision"`
	Reason        string         `json:"reason,omitempty"`
	Context       string         `json:"context,omitempty"`
	SystemMessage string         `json:"system_message,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Allow returns a permissive response.
func Allow() *Response {
	return &Response{Decision: DecisionAllow}
}

// Block returns a blocking response with the given reason.
func Block(reason string) *Response {
	return &Response{Decision: DecisionBlock, Reason: reason}
}

// IsBlocking reports whether the response stops the event.
func (r *Response) IsBlocking() bool {
	return r.Decision == DecisionBlock || r.Decision == DecisionDeny
}

// AppendContext appends content to the injected context, separating entries
// with a blank line.
func (r *Response) AppendContext(content string) {
	if content == "" {
		return
	}
	if r.Context == "" {
		r.Context = content
		return
	}
	r.Context += "\n\n" + content
}

// MergeFrom folds another response into this one: contexts accumulate, the
// last non-empty system message wins, and a blocking decision is sticky.
func (r *Response) MergeFrom(other *Response) {
	if other == nil {
		return
	}
	r.AppendContext(other.Context)
	if other.SystemMessage != "" {
		r.SystemMessage = other.SystemMessage
	}
	if other.IsBlocking() && !r.IsBlocking() {
		r.Decision = other.Decision
		r.Reason = other.Reason
	}
	if r.Decision == DecisionAllow && other.Decision == DecisionModify {
		r.Decision = DecisionModify
	}
}
