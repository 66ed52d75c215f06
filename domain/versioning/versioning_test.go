package versioning

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	"github.com/Eashwar-S/knowledge-map/domain/core/entities"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// commitAll applies ops in order and returns the history they would produce
func commitAll(t *testing.T, graphName string, ops []Operation) (*aggregates.Graph, []HistoryRecord) {
	t.Helper()
	g := aggregates.NewGraph(graphName)
	var records []HistoryRecord
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, op := range ops {
		next, change, err := Apply(g, op)
		require.NoError(t, err, "op %d", i)
		g = next
		records = append(records, NewHistoryRecord(op, change, g, uint64(i+1), at.Add(time.Duration(i)*time.Second)))
	}
	return g, records
}

func scenarioOps() []Operation {
	return []Operation{
		{Kind: OpCreateGraph},
		{Kind: OpAddNode, NodeID: "a", Label: "Topic A", NodeType: entities.NodeTypeTopic},
		{Kind: OpAddNode, NodeID: "b", Label: "Block B", NodeType: entities.NodeTypeBlock},
		{Kind: OpAddEdge, From: "a", To: "b", Label: "contains"},
		{Kind: OpRemoveNode, NodeID: "a"},
	}
}

func TestApply_Summaries(t *testing.T) {
	g := aggregates.NewGraph("g1")
	g, _, _ = g.AddNode("a", "Topic A", entities.NodeTypeTopic)
	g, _, _ = g.AddNode("b", "Block B", entities.NodeTypeBlock)
	g, _, _ = g.AddEdge("a", "b", "contains")

	tests := []struct {
		name    string
		op      Operation
		summary string
		changed bool
	}{
		{"create", Operation{Kind: OpCreateGraph}, "Created new graph g1", false},
		{"add node", Operation{Kind: OpAddNode, NodeID: "c", Label: "Item C", NodeType: entities.NodeTypeItem}, "Added node c (Item C) in graph g1", true},
		{"add edge", Operation{Kind: OpAddEdge, From: "b", To: "a"}, "Added edge from b to a in graph g1", true},
		{"add labeled edge", Operation{Kind: OpAddEdge, From: "b", To: "a", Label: "back"}, "Added edge from b to a (back) in graph g1", true},
		{"set content", Operation{Kind: OpSetNodeContent, NodeID: "a", Content: "n"}, "Updated note for node a in graph g1", true},
		{"remove node", Operation{Kind: OpRemoveNode, NodeID: "a"}, "Deleted node a from graph g1 with 1 incident edge(s)", true},
		{"remove absent node", Operation{Kind: OpRemoveNode, NodeID: "zz"}, "Deleted node zz from graph g1 (no changes)", false},
		{"remove edge", Operation{Kind: OpRemoveEdge, From: "a", To: "b"}, "Deleted edge from a to b from graph g1", true},
		{"remove absent edge", Operation{Kind: OpRemoveEdge, From: "b", To: "a"}, "Deleted edge from b to a from graph g1 (no changes)", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, change, err := Apply(g, tt.op)
			require.NoError(t, err)
			require.NotNil(t, next)
			assert.Equal(t, tt.summary, change.Summary)
			assert.Equal(t, tt.changed, change.Changed)
		})
	}
}

func TestApply_StructuralFailures(t *testing.T) {
	g := aggregates.NewGraph("g1")
	g, _, _ = g.AddNode("a", "A", entities.NodeTypeTopic)

	tests := []struct {
		name    string
		op      Operation
		errType pkgerrors.ErrorType
	}{
		{"duplicate", Operation{Kind: OpAddNode, NodeID: "a", Label: "again", NodeType: entities.NodeTypeItem}, pkgerrors.ErrorTypeDuplicateID},
		{"unknown endpoint", Operation{Kind: OpAddEdge, From: "a", To: "b"}, pkgerrors.ErrorTypeUnknownNode},
		{"missing node content", Operation{Kind: OpSetNodeContent, NodeID: "b", Content: "x"}, pkgerrors.ErrorTypeNodeNotFound},
		{"unknown kind", Operation{Kind: "rename"}, pkgerrors.ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, _, err := Apply(g, tt.op)
			require.Error(t, err)
			assert.Nil(t, next)
			assert.True(t, pkgerrors.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestNewHistoryRecord(t *testing.T) {
	g, records := commitAll(t, "g1", scenarioOps())

	require.Len(t, records, 5)
	last := records[4]
	assert.Equal(t, uint64(5), last.Sequence)
	assert.Equal(t, last.Sequence, last.Version.Version)
	assert.Equal(t, g.Checksum(), last.Version.Checksum)
	assert.Equal(t, "g1", last.GraphName)
	assert.NotEmpty(t, last.ID)
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestHistoryRecord_JSONKeepsEmptyContent(t *testing.T) {
	rec := HistoryRecord{Sequence: 3, GraphName: "g", Operation: Operation{Kind: OpSetNodeContent, NodeID: "a"}}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded HistoryRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rec, decoded)
}

func TestReplay_RebuildsScenario(t *testing.T) {
	g, records := commitAll(t, "g1", scenarioOps())

	result, err := Replay("g1", records)
	require.NoError(t, err)

	assert.True(t, result.Complete())
	assert.Equal(t, 5, result.Applied)
	assert.Equal(t, uint64(5), result.LastSequence)
	assert.True(t, g.Equal(result.Graph))
	assert.Equal(t, []entities.Node{{ID: "b", Label: "Block B", Type: entities.NodeTypeBlock}}, result.Graph.Nodes())
	assert.Empty(t, result.Graph.Edges())
}

func TestReplay_EmptyLog(t *testing.T) {
	result, err := Replay("fresh", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Graph.NodeCount())
	assert.True(t, result.Complete())
}

func TestReplay_ReportsGaps(t *testing.T) {
	_, records := commitAll(t, "g1", scenarioOps())
	// drop addNode(b): the edge a->b can no longer apply
	withGap := append(append([]HistoryRecord{}, records[:2]...), records[3:]...)

	result, err := Replay("g1", withGap)
	require.NoError(t, err)

	assert.Equal(t, []uint64{3}, result.Gaps)
	assert.Contains(t, result.Divergent, uint64(4))
	assert.False(t, result.Complete())
}

func TestReplay_RejectsForeignOrUnorderedRecords(t *testing.T) {
	_, records := commitAll(t, "g1", scenarioOps())

	_, err := Replay("other", records)
	assert.Error(t, err)

	swapped := []HistoryRecord{records[1], records[0]}
	_, err = Replay("g1", swapped)
	assert.Error(t, err)
}
