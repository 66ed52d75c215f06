package commands

import (
	"strings"
	"testing"

	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommands_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr string
	}{
		{"create graph", CreateGraphCommand{Graph: "g1"}, ""},
		{"create graph missing name", CreateGraphCommand{}, "graph is required"},
		{"create graph path traversal", CreateGraphCommand{Graph: "../etc"}, "graph must start"},
		{"create graph with slash", CreateGraphCommand{Graph: "a/b"}, "graph must start"},
		{"create graph dotted", CreateGraphCommand{Graph: "notes.v2"}, ""},
		{"add node", AddNodeCommand{Graph: "g1", ID: "a", Label: "Topic A", Type: "topic"}, ""},
		{"add node missing id", AddNodeCommand{Graph: "g1", Label: "A", Type: "topic"}, "id is required"},
		{"add node missing label", AddNodeCommand{Graph: "g1", ID: "a", Type: "topic"}, "label is required"},
		{"add node bad type", AddNodeCommand{Graph: "g1", ID: "a", Label: "A", Type: "page"}, "type must be one of"},
		{"add node long id", AddNodeCommand{Graph: "g1", ID: strings.Repeat("x", 257), Label: "A", Type: "item"}, "id must be at most 256"},
		{"add edge without label", AddEdgeCommand{Graph: "g1", From: "a", To: "b"}, ""},
		{"add edge missing to", AddEdgeCommand{Graph: "g1", From: "a"}, "to is required"},
		{"set content empty", SetNodeContentCommand{Graph: "g1", NodeID: "a"}, ""},
		{"set content missing node", SetNodeContentCommand{Graph: "g1", Content: "x"}, "node_id is required"},
		{"remove node", RemoveNodeCommand{Graph: "g1", NodeID: "a"}, ""},
		{"remove edge missing from", RemoveEdgeCommand{Graph: "g1", To: "b"}, "from is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, pkgerrors.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCommands_Operation(t *testing.T) {
	op := AddNodeCommand{Graph: "g1", ID: "a", Label: "Topic A", Type: "topic"}.Operation()
	assert.Equal(t, versioning.OpAddNode, op.Kind)
	assert.Equal(t, "a", op.NodeID.String())

	op = RemoveEdgeCommand{Graph: "g1", From: "a", To: "b"}.Operation()
	assert.Equal(t, versioning.Operation{Kind: versioning.OpRemoveEdge, From: "a", To: "b"}, op)

	assert.Equal(t, "g1", SetNodeContentCommand{Graph: "g1"}.GraphName())
}
