package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/gobby/state"
)

type memorySink struct {
	records []*state.AuditRecord
}

func (m *memorySink) InsertAudit(_ context.Context, rec *state.AuditRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func TestTrailRecordsToSinkAndWriter(t *testing.T) {
	sink := &memorySink{}
	var buf bytes.Buffer
	trail := NewTrail(sink, &buf, nil)

	trail.ToolCall(context.Background(), "sess-1", "implement", "Bash", "block", "blocked in step 'implement'")

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, state.AuditToolCall, rec.Kind)
	assert.Equal(t, "Bash", rec.Tool)
	assert.Equal(t, "block", rec.Result)
	assert.False(t, rec.CreatedAt.IsZero())

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "tool_call", got["kind"])
	assert.Equal(t, "sess-1", got["session_id"])
}

func TestTrailTransitionResult(t *testing.T) {
	sink := &memorySink{}
	trail := NewTrail(sink, nil, nil)

	trail.Transition(context.Background(), "sess-1", "a", "b", "")

	require.Len(t, sink.records, 1)
	assert.Equal(t, "a->b", sink.records[0].Result)
	assert.Equal(t, state.AuditTransition, sink.records[0].Kind)
}

func TestTrailNilWriterDoesNotPanic(t *testing.T) {
	trail := NewTrail(nil, nil, nil)
	trail.Approval(context.Background(), "sess-1", "plan", "go", "granted")
}
