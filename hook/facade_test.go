package hook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type processorFunc func(ctx context.Context, event *Event) (*Response, error)

func (f processorFunc) ProcessEvent(ctx context.Context, event *Event) (*Response, error) {
	return f(ctx, event)
}

func TestFacadePassesThroughResponse(t *testing.T) {
	f := NewFacade(processorFunc(func(context.Context, *Event) (*Response, error) {
		return Block("not now"), nil
	}))
	resp := f.Handle(context.Background(), &Event{Type: BeforeTool})
	assert.Equal(t, DecisionBlock, resp.Decision)
	assert.Equal(t, "not now", resp.Reason)
}

func TestFacadeFailsOpenOnError(t *testing.T) {
	f := NewFacade(processorFunc(func(context.Context, *Event) (*Response, error) {
		return nil, errors.New("db locked")
	}))
	resp := f.Handle(context.Background(), &Event{Type: BeforeTool})
	assert.Equal(t, DecisionAllow, resp.Decision)
}

func TestFacadeFailsOpenOnNilResponse(t *testing.T) {
	f := NewFacade(processorFunc(func(context.Context, *Event) (*Response, error) {
		return nil, nil
	}))
	resp := f.Handle(context.Background(), &Event{Type: AfterTool})
	assert.Equal(t, DecisionAllow, resp.Decision)
}

func TestFacadeFailsOpenOnTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := NewFacade(processorFunc(func(ctx context.Context, _ *Event) (*Response, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return Block("too late"), nil
	}), WithTimeout(20*time.Millisecond))

	start := time.Now()
	resp := f.Handle(context.Background(), &Event{Type: BeforeTool})
	assert.Equal(t, DecisionAllow, resp.Decision)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestResponseMergeFrom(t *testing.T) {
	r := Allow()
	r.MergeFrom(&Response{Context: "A"})
	r.MergeFrom(&Response{Context: "B", SystemMessage: "msg"})
	assert.Equal(t, "A\n\nB", r.Context)
	assert.Equal(t, "msg", r.SystemMessage)
	assert.Equal(t, DecisionAllow, r.Decision)

	r.MergeFrom(Block("stop"))
	assert.True(t, r.IsBlocking())
	assert.Equal(t, "stop", r.Reason)

	// blocking is sticky
	r.MergeFrom(Allow())
	assert.True(t, r.IsBlocking())
}

func TestSplitMCPToolName(t *testing.T) {
	server, tool := SplitMCPToolName("mcp__gobby-tasks__claim_task")
	assert.Equal(t, "gobby-tasks", server)
	assert.Equal(t, "claim_task", tool)

	server, tool = SplitMCPToolName("Bash")
	assert.Empty(t, server)
	assert.Empty(t, tool)

	server, tool = SplitMCPToolName("mcp__lonely")
	assert.Equal(t, "lonely", server)
	assert.Empty(t, tool)
}
