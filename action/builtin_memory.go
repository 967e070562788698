package action

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// actionMemoryInject recalls memories for the project and injects them as
// context.
func actionMemoryInject(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	if ac.Memory == nil {
		return nil, fmt.Errorf("memory manager not available")
	}
	memories, err := ac.Memory.Recall(ctx, ac.ProjectID, intParam(params, "min_importance", 0))
	if err != nil {
		return nil, fmt.Errorf("recall memories: %w", err)
	}
	if len(memories) == 0 {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString("## Memories\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s\n", m.Content)
	}
	return &Result{InjectContext: b.String()}, nil
}

// actionMemoryExtract asks the LLM to extract durable memories from the
// session summary and stores the ones not already known.
func actionMemoryExtract(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	if ac.Memory == nil || ac.LLM == nil {
		return nil, fmt.Errorf("memory manager and llm service required")
	}
	summary, _ := ac.State.Var("session_summary").(string)
	if summary == "" {
		return nil, nil
	}
	prompt := "Extract up to 5 durable facts worth remembering from this session summary. " +
		"Reply with one fact per line, no numbering.\n\n" + summary
	text, err := ac.LLM.GenerateText(ctx, prompt, stringParam(params, "model"))
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}

	stored := 0
	for _, line := range strings.Split(text, "\n") {
		content := strings.TrimSpace(strings.TrimPrefix(line, "-"))
		if content == "" {
			continue
		}
		exists, err := ac.Memory.ContentExists(ctx, content, ac.ProjectID)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		m := Memory{
			ProjectID:  ac.ProjectID,
			Content:    content,
			Importance: intParam(params, "importance", 5),
		}
		if err := ac.Memory.Remember(ctx, m); err != nil {
			return nil, err
		}
		stored++
	}
	result := &Result{}
	result.SetVar("memories_extracted", stored)
	return result, nil
}

// memorySyncFile is the on-disk round-trip format for memory import/export.
type memorySyncFile struct {
	Memories []Memory `json:"memories"`
}

func memorySyncPath(ac *Context, params map[string]any) string {
	if p := stringParam(params, "path"); p != "" {
		return filepath.Join(ac.ProjectPath, p)
	}
	return filepath.Join(ac.ProjectPath, ".gobby", "memories.json")
}

// actionMemorySyncImport loads memories from the project's sync file into
// the memory store, skipping duplicates.
func actionMemorySyncImport(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	if ac.Memory == nil {
		return nil, fmt.Errorf("memory manager not available")
	}
	data, err := os.ReadFile(memorySyncPath(ac, params))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read memory sync file: %w", err)
	}
	var file memorySyncFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse memory sync file: %w", err)
	}

	imported := 0
	for _, m := range file.Memories {
		if m.ProjectID == "" {
			m.ProjectID = ac.ProjectID
		}
		exists, err := ac.Memory.ContentExists(ctx, m.Content, m.ProjectID)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		if err := ac.Memory.Remember(ctx, m); err != nil {
			return nil, err
		}
		imported++
	}
	result := &Result{}
	result.SetVar("memories_imported", imported)
	return result, nil
}

// actionMemorySyncExport writes the project's memories to the sync file.
func actionMemorySyncExport(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	if ac.Memory == nil {
		return nil, fmt.Errorf("memory manager not available")
	}
	memories, err := ac.Memory.Recall(ctx, ac.ProjectID, 0)
	if err != nil {
		return nil, fmt.Errorf("recall memories: %w", err)
	}
	data, err := json.MarshalIndent(memorySyncFile{Memories: memories}, "", "  ")
	if err != nil {
		return nil, err
	}
	path := memorySyncPath(ac, params)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write memory sync file: %w", err)
	}
	result := &Result{}
	result.SetVar("memories_exported", len(memories))
	return result, nil
}
