package action

import (
	"context"
	"fmt"
	"strings"
)

// actionCallLLM renders a prompt, calls the configured LLM provider, and
// stores the result in a variable.
func actionCallLLM(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	if ac.LLM == nil {
		return nil, fmt.Errorf("llm service not available")
	}
	prompt, err := requireStringParam(params, "prompt")
	if err != nil {
		return nil, err
	}
	into, err := requireStringParam(params, "into")
	if err != nil {
		return nil, err
	}
	rendered, err := ac.Renderer.Render(prompt, ac.RenderContext())
	if err != nil {
		return nil, err
	}
	text, err := ac.LLM.GenerateText(ctx, rendered, stringParam(params, "model"))
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}
	result := &Result{}
	result.SetVar(into, text)
	return result, nil
}

// actionSynthesizeTitle reads recent transcript turns, prompts the LLM for a
// short title, and sets it on the session.
func actionSynthesizeTitle(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	if ac.LLM == nil || ac.Transcript == nil || ac.Sessions == nil {
		return nil, fmt.Errorf("llm, transcript, and session collaborators required")
	}
	turns, err := ac.Transcript.RecentTurns(ctx, ac.SessionID, intParam(params, "turns", 6))
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if len(turns) == 0 {
		return nil, nil
	}
	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	prompt := "Write a concise title (max 8 words) for this coding session. " +
		"Reply with the title only.\n\n" + b.String()
	title, err := ac.LLM.GenerateText(ctx, prompt, stringParam(params, "model"))
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}
	title = strings.TrimSpace(strings.Trim(title, `"`))
	if title == "" {
		return nil, nil
	}
	if err := ac.Sessions.UpdateTitle(ctx, ac.SessionID, title); err != nil {
		return nil, err
	}
	result := &Result{}
	result.SetVar("session_title", title)
	return result, nil
}

// actionGenerateSummary produces a session summary via the LLM and persists
// it on the session.
func actionGenerateSummary(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	summary, err := generateSessionSummary(ctx, ac, params)
	if err != nil || summary == "" {
		return nil, err
	}
	result := &Result{}
	result.SetVar("session_summary", summary)
	return result, nil
}

// actionGenerateHandoff produces a summary and flips the session status to
// handoff_ready.
func actionGenerateHandoff(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	summary, err := generateSessionSummary(ctx, ac, params)
	if err != nil {
		return nil, err
	}
	if err := ac.Sessions.UpdateStatus(ctx, ac.SessionID, SessionStatusHandoffReady); err != nil {
		return nil, err
	}
	result := &Result{}
	result.SetVar("session_summary", summary)
	return result, nil
}

func generateSessionSummary(ctx context.Context, ac *Context, params map[string]any) (string, error) {
	if ac.LLM == nil || ac.Transcript == nil || ac.Sessions == nil {
		return "", fmt.Errorf("llm, transcript, and session collaborators required")
	}
	turns, err := ac.Transcript.RecentTurns(ctx, ac.SessionID, intParam(params, "turns", 50))
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	summary, err := ac.LLM.GenerateSummary(ctx, b.String(), stringParam(params, "template"))
	if err != nil {
		return "", fmt.Errorf("llm summary: %w", err)
	}
	if err := ac.Sessions.UpdateSummary(ctx, ac.SessionID, summary); err != nil {
		return "", err
	}
	return summary, nil
}

// actionExtractHandoffContext parses the transcript and workflow state into
// a compact markdown continuation context and persists it on the session.
func actionExtractHandoffContext(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	if ac.Transcript == nil || ac.Sessions == nil {
		return nil, fmt.Errorf("transcript and session collaborators required")
	}
	turns, err := ac.Transcript.RecentTurns(ctx, ac.SessionID, intParam(params, "turns", 20))
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Continuation Context\n\n")
	if ac.State != nil {
		fmt.Fprintf(&b, "Workflow: %s, step: %s\n\n", ac.State.WorkflowName, ac.State.Step)
		if len(ac.State.FilesModifiedThisTask) > 0 {
			b.WriteString("## Files modified\n")
			for _, f := range ac.State.FilesModifiedThisTask {
				fmt.Fprintf(&b, "- %s\n", f)
			}
			b.WriteString("\n")
		}
	}
	if len(turns) > 0 {
		b.WriteString("## Recent activity\n")
		for _, turn := range turns {
			content := turn.Content
			if len(content) > 200 {
				content = content[:200] + "…"
			}
			fmt.Fprintf(&b, "- **%s**: %s\n", turn.Role, content)
		}
	}

	markdown := b.String()
	if err := ac.Sessions.UpdateCompactMarkdown(ctx, ac.SessionID, markdown); err != nil {
		return nil, err
	}
	result := &Result{}
	result.SetVar("handoff_context_extracted", true)
	return result, nil
}
