package aggregates

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/Eashwar-S/knowledge-map/domain/core/entities"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAddNode(t *testing.T, g *Graph, id, label string, nodeType entities.NodeType) *Graph {
	t.Helper()
	next, _, err := g.AddNode(entities.NodeID(id), label, nodeType)
	require.NoError(t, err)
	return next
}

func mustAddEdge(t *testing.T, g *Graph, from, to, label string) *Graph {
	t.Helper()
	next, _, err := g.AddEdge(entities.NodeID(from), entities.NodeID(to), label)
	require.NoError(t, err)
	return next
}

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph("g1")

	next, node, err := g.AddNode("a", "Topic A", entities.NodeTypeTopic)
	require.NoError(t, err)

	assert.Equal(t, entities.Node{ID: "a", Label: "Topic A", Type: entities.NodeTypeTopic, Content: ""}, node)
	assert.Equal(t, 1, next.NodeCount())
	assert.Equal(t, 0, g.NodeCount(), "receiver must not change")
}

func TestGraph_AddNode_DuplicateLeavesDocumentUnchanged(t *testing.T) {
	g := mustAddNode(t, NewGraph("g1"), "a", "Topic A", entities.NodeTypeTopic)
	before := g.Checksum()

	next, _, err := g.AddNode("a", "Other", entities.NodeTypeItem)

	require.Error(t, err)
	assert.Nil(t, next)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDuplicateID))
	assert.Contains(t, err.Error(), `"a"`)
	assert.Equal(t, before, g.Checksum())
}

func TestGraph_AddEdge(t *testing.T) {
	g := NewGraph("g1")
	g = mustAddNode(t, g, "a", "Topic A", entities.NodeTypeTopic)
	g = mustAddNode(t, g, "b", "Block B", entities.NodeTypeBlock)

	tests := []struct {
		name     string
		from, to string
		wantErr  bool
		unknown  string
	}{
		{name: "both endpoints present", from: "a", to: "b"},
		{name: "self loop", from: "a", to: "a"},
		{name: "unknown source", from: "x", to: "b", wantErr: true, unknown: "x"},
		{name: "unknown target", from: "a", to: "y", wantErr: true, unknown: "y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, edge, err := g.AddEdge(entities.NodeID(tt.from), entities.NodeID(tt.to), "contains")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnknownNode))
				appErr := pkgerrors.GetAppError(err)
				require.NotNil(t, appErr)
				assert.Equal(t, tt.unknown, appErr.Details["node_id"])
				assert.Equal(t, 0, g.EdgeCount())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, entities.Edge{From: entities.NodeID(tt.from), To: entities.NodeID(tt.to), Label: "contains"}, edge)
			assert.Equal(t, 1, next.EdgeCount())
		})
	}
}

func TestGraph_AddEdge_AllowsParallelEdges(t *testing.T) {
	g := NewGraph("g1")
	g = mustAddNode(t, g, "a", "A", entities.NodeTypeTopic)
	g = mustAddNode(t, g, "b", "B", entities.NodeTypeBlock)
	g = mustAddEdge(t, g, "a", "b", "contains")
	g = mustAddEdge(t, g, "a", "b", "contains")
	g = mustAddEdge(t, g, "a", "b", "refers")

	assert.Equal(t, 3, g.EdgeCount())
}

func TestGraph_SetNodeContent(t *testing.T) {
	g := mustAddNode(t, NewGraph("g1"), "a", "Topic A", entities.NodeTypeTopic)

	next, node, err := g.SetNodeContent("a", "some notes")
	require.NoError(t, err)
	assert.Equal(t, "some notes", node.Content)
	assert.Equal(t, "Topic A", node.Label)
	assert.Equal(t, entities.NodeTypeTopic, node.Type)

	original, _ := g.Node("a")
	assert.Equal(t, "", original.Content)

	_, _, err = g.SetNodeContent("missing", "x")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeNodeNotFound))

	cleared, node, err := next.SetNodeContent("a", "")
	require.NoError(t, err)
	assert.Equal(t, "", node.Content)
	assert.Equal(t, 1, cleared.NodeCount())
}

func TestGraph_RemoveNode_CascadesExactlyIncidentEdges(t *testing.T) {
	g := NewGraph("g1")
	for _, id := range []string{"a", "b", "c"} {
		g = mustAddNode(t, g, id, id, entities.NodeTypeItem)
	}
	g = mustAddEdge(t, g, "a", "b", "ab")
	g = mustAddEdge(t, g, "b", "c", "bc")
	g = mustAddEdge(t, g, "c", "a", "ca")
	g = mustAddEdge(t, g, "c", "c", "cc")

	next, cascaded, removed := g.RemoveNode("a")

	require.True(t, removed)
	assert.Equal(t, []entities.Edge{
		{From: "a", To: "b", Label: "ab"},
		{From: "c", To: "a", Label: "ca"},
	}, cascaded)
	assert.Equal(t, []entities.Edge{
		{From: "b", To: "c", Label: "bc"},
		{From: "c", To: "c", Label: "cc"},
	}, next.Edges())
	assert.False(t, next.HasNode("a"))
	assert.NoError(t, next.Validate())
	assert.Equal(t, 3, g.NodeCount(), "receiver must not change")
}

func TestGraph_RemoveNode_AbsentIsIdentity(t *testing.T) {
	g := mustAddNode(t, NewGraph("g1"), "a", "A", entities.NodeTypeTopic)

	next, cascaded, removed := g.RemoveNode("zzz")

	assert.False(t, removed)
	assert.Empty(t, cascaded)
	assert.Same(t, g, next)
}

func TestGraph_RemoveEdge_IgnoresLabel(t *testing.T) {
	g := NewGraph("g1")
	g = mustAddNode(t, g, "a", "A", entities.NodeTypeTopic)
	g = mustAddNode(t, g, "b", "B", entities.NodeTypeBlock)
	g = mustAddEdge(t, g, "a", "b", "contains")
	g = mustAddEdge(t, g, "b", "a", "back")
	g = mustAddEdge(t, g, "a", "b", "refers")

	next, removed := g.RemoveEdge("a", "b")
	assert.Len(t, removed, 2)
	assert.Equal(t, []entities.Edge{{From: "b", To: "a", Label: "back"}}, next.Edges())

	same, removed := next.RemoveEdge("a", "b")
	assert.Empty(t, removed)
	assert.Same(t, next, same)
}

func TestGraph_JSONRoundTrip(t *testing.T) {
	g := NewGraph("g1")
	g = mustAddNode(t, g, "b", "Block B", entities.NodeTypeBlock)
	g = mustAddNode(t, g, "a", "Topic A", entities.NodeTypeTopic)
	g, _, _ = g.SetNodeContent("a", "line one\nline \"two\" ✓")
	g = mustAddEdge(t, g, "a", "b", "contains")
	g = mustAddEdge(t, g, "b", "a", "")

	data, err := json.Marshal(g)
	require.NoError(t, err)

	var decoded Graph
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.True(t, g.Equal(&decoded))
	assert.Equal(t, g.Checksum(), decoded.Checksum())
	assert.Equal(t, entities.NodeID("b"), decoded.Nodes()[0].ID, "insertion order preserved")
}

func TestGraph_EmptyEncodesAsArrays(t *testing.T) {
	data, err := json.Marshal(NewGraph("empty"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"empty","nodes":[],"edges":[]}`, string(data))
}

func TestGraph_UnmarshalRejectsBrokenDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"duplicate node", `{"name":"g","nodes":[{"id":"a"},{"id":"a"}],"edges":[]}`},
		{"dangling edge", `{"name":"g","nodes":[{"id":"a"}],"edges":[{"from":"a","to":"b"}]}`},
		{"empty id", `{"name":"g","nodes":[{"id":""}],"edges":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Graph
			assert.Error(t, json.Unmarshal([]byte(tt.doc), &g))
		})
	}
}

// Random mutation sequences must keep every edge pointing at live nodes.
func TestGraph_ReferentialIntegrityUnderRandomMutations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	g := NewGraph("fuzz")
	ids := []entities.NodeID{"n0", "n1", "n2", "n3", "n4", "n5"}

	for step := 0; step < 2000; step++ {
		a := ids[rng.Intn(len(ids))]
		b := ids[rng.Intn(len(ids))]
		switch rng.Intn(5) {
		case 0:
			if next, _, err := g.AddNode(a, string(a), entities.NodeTypeItem); err == nil {
				g = next
			}
		case 1:
			if next, _, err := g.AddEdge(a, b, fmt.Sprintf("e%d", step)); err == nil {
				g = next
			}
		case 2:
			g, _, _ = g.RemoveNode(a)
		case 3:
			g, _ = g.RemoveEdge(a, b)
		case 4:
			if next, _, err := g.SetNodeContent(a, "x"); err == nil {
				g = next
			}
		}
		require.NoError(t, g.Validate(), "step %d", step)
	}
}
