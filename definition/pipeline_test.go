package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineValidateForwardRefs(t *testing.T) {
	tests := []struct {
		name    string
		p       PipelineDefinition
		wantErr error
	}{
		{
			name: "earlier reference allowed",
			p: PipelineDefinition{
				Name: "ok",
				Steps: []PipelineStep{
					{ID: "build", Exec: "make"},
					{ID: "test", Exec: "run $build.output"},
				},
			},
		},
		{
			name: "forward reference rejected",
			p: PipelineDefinition{
				Name: "fwd",
				Steps: []PipelineStep{
					{ID: "first", Exec: "run $second.output"},
					{ID: "second", Exec: "make"},
				},
			},
			wantErr: ErrPipelineForwardRef,
		},
		{
			name: "self reference rejected",
			p: PipelineDefinition{
				Name: "self",
				Steps: []PipelineStep{
					{ID: "only", Exec: "run $only.status"},
				},
			},
			wantErr: ErrPipelineForwardRef,
		},
		{
			name: "unknown reference rejected",
			p: PipelineDefinition{
				Name: "ghost",
				Steps: []PipelineStep{
					{ID: "a", Exec: "run $nope.output"},
				},
			},
			wantErr: ErrPipelineForwardRef,
		},
		{
			name: "condition references checked too",
			p: PipelineDefinition{
				Name: "cond",
				Steps: []PipelineStep{
					{ID: "a", Exec: "make", Condition: "$later.approved"},
					{ID: "later", Prompt: "review"},
				},
			},
			wantErr: ErrPipelineForwardRef,
		},
		{
			name: "duplicate ids rejected",
			p: PipelineDefinition{
				Name: "dup",
				Steps: []PipelineStep{
					{ID: "a", Exec: "x"},
					{ID: "a", Exec: "y"},
				},
			},
			wantErr: ErrDuplicatePipelineStep,
		},
		{
			name: "zero execution modes rejected",
			p: PipelineDefinition{
				Name:  "none",
				Steps: []PipelineStep{{ID: "a"}},
			},
			wantErr: ErrPipelineExecMode,
		},
		{
			name: "multiple execution modes rejected",
			p: PipelineDefinition{
				Name:  "both",
				Steps: []PipelineStep{{ID: "a", Exec: "x", Prompt: "y"}},
			},
			wantErr: ErrPipelineExecMode,
		},
		{
			name: "outputs may reference any step",
			p: PipelineDefinition{
				Name: "out",
				Steps: []PipelineStep{
					{ID: "a", Exec: "x"},
					{ID: "b", Exec: "y"},
				},
				Outputs: map[string]string{"result": "$b.output"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
