package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Eashwar-S/knowledge-map/application/commands"
	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	"github.com/Eashwar-S/knowledge-map/domain/core/entities"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	"github.com/Eashwar-S/knowledge-map/infrastructure/persistence/memory"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingMetrics struct {
	mu              sync.Mutex
	outcomes        map[string]int
	conflicts       int
	historyFailures int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: make(map[string]int)}
}

func (m *recordingMetrics) RecordMutation(operation, outcome string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[operation+"/"+outcome]++
}

func (m *recordingMetrics) RecordConflict(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *recordingMetrics) RecordHistoryFailure(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyFailures++
}

// conflictingStore reports a version conflict on the first n CompareAndSet calls
type conflictingStore struct {
	ports.SnapshotStore
	remaining atomic.Int64
}

func (s *conflictingStore) CompareAndSet(ctx context.Context, graphName string, expected uint64, next *aggregates.Graph) (uint64, error) {
	if s.remaining.Add(-1) >= 0 {
		return 0, pkgerrors.NewVersionConflictError(graphName, expected)
	}
	return s.SnapshotStore.CompareAndSet(ctx, graphName, expected, next)
}

type failingStore struct {
	ports.SnapshotStore
}

func (failingStore) CompareAndSet(context.Context, string, uint64, *aggregates.Graph) (uint64, error) {
	return 0, errors.New("disk full")
}

type mockHistoryLog struct {
	mock.Mock
}

func (m *mockHistoryLog) Append(ctx context.Context, record versioning.HistoryRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockHistoryLog) List(ctx context.Context, graphName string) ([]versioning.HistoryRecord, error) {
	args := m.Called(ctx, graphName)
	return args.Get(0).([]versioning.HistoryRecord), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, record versioning.HistoryRecord) error {
	return m.Called(ctx, record).Error(0)
}

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    maxRetries,
		BaseDelay:     50 * time.Microsecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
		JitterFactor:  0.5,
	}
}

type fixture struct {
	svc       *GraphService
	snapshots *memory.SnapshotStore
	history   *memory.HistoryLog
	metrics   *recordingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		snapshots: memory.NewSnapshotStore(),
		history:   memory.NewHistoryLog(),
		metrics:   newRecordingMetrics(),
	}
	f.svc = NewGraphService(f.snapshots, f.history, nil, f.metrics, zap.NewNop(), fastPolicy(100))

	var tick int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	f.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	return f
}

func TestGraphService_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.CreateGraph(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", res.GraphName)

	a, err := f.svc.AddNode(ctx, "g1", "a", "Topic A", "topic")
	require.NoError(t, err)
	assert.Equal(t, entities.Node{ID: "a", Label: "Topic A", Type: entities.NodeTypeTopic, Content: ""}, a)

	_, err = f.svc.AddNode(ctx, "g1", "b", "Block B", "block")
	require.NoError(t, err)

	edge, err := f.svc.AddEdge(ctx, "g1", "a", "b", "contains")
	require.NoError(t, err)
	assert.Equal(t, entities.Edge{From: "a", To: "b", Label: "contains"}, edge)

	_, err = f.svc.RemoveNode(ctx, "g1", "a")
	require.NoError(t, err)

	snap, err := f.svc.ReadGraph(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []entities.Node{{ID: "b", Label: "Block B", Type: entities.NodeTypeBlock}}, snap.Graph.Nodes())
	assert.Empty(t, snap.Graph.Edges())
	assert.Equal(t, uint64(5), snap.Version)

	records, err := f.svc.History(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, records, 5)

	wantKinds := []versioning.OperationKind{
		versioning.OpCreateGraph, versioning.OpAddNode, versioning.OpAddNode, versioning.OpAddEdge, versioning.OpRemoveNode,
	}
	for i, rec := range records {
		assert.Equal(t, wantKinds[i], rec.Operation.Kind)
		assert.Equal(t, uint64(i+1), rec.Sequence)
		if i > 0 {
			assert.True(t, rec.Timestamp.After(records[i-1].Timestamp))
		}
	}
	assert.Equal(t, "Deleted node a from graph g1 with 1 incident edge(s)", records[4].Summary)
	assert.Equal(t, snap.Graph.Checksum(), records[4].Version.Checksum)

	report, err := f.svc.Verify(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, report.Match)
	assert.Equal(t, 5, report.Records)
}

func TestGraphService_DuplicateIDLeavesGraphAndHistoryUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.AddNode(ctx, "g1", "a", "Topic A", "topic")
	require.NoError(t, err)
	before, _ := f.svc.ReadGraph(ctx, "g1")

	_, err = f.svc.AddNode(ctx, "g1", "a", "Other", "item")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeDuplicateID))

	after, _ := f.svc.ReadGraph(ctx, "g1")
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, before.Graph.Equal(after.Graph))

	records, _ := f.svc.History(ctx, "g1")
	assert.Len(t, records, 1)
	assert.Equal(t, 1, f.metrics.outcomes["add_node/rejected"])
}

func TestGraphService_UnknownNodeLeavesGraphAndHistoryUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.AddNode(ctx, "g1", "a", "Topic A", "topic")
	require.NoError(t, err)

	_, err = f.svc.AddEdge(ctx, "g1", "a", "ghost", "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnknownNode))
	assert.Contains(t, err.Error(), "ghost")

	snap, _ := f.svc.ReadGraph(ctx, "g1")
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, 0, snap.Graph.EdgeCount())

	records, _ := f.svc.History(ctx, "g1")
	assert.Len(t, records, 1)
}

func TestGraphService_SetNodeContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SetNodeContent(ctx, "g1", "a", "note")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeNodeNotFound))

	_, err = f.svc.AddNode(ctx, "g1", "a", "Topic A", "topic")
	require.NoError(t, err)

	res, err := f.svc.SetNodeContent(ctx, "g1", "a", "note")
	require.NoError(t, err)
	require.NotNil(t, res.Node)
	assert.Equal(t, "note", res.Node.Content)
	assert.Equal(t, "Updated note for node a in graph g1", res.Record.Summary)
}

func TestGraphService_NoOpRemovesAreRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.RemoveNode(ctx, "g1", "missing")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, uint64(1), res.Version)

	res, err = f.svc.RemoveEdge(ctx, "g1", "x", "y")
	require.NoError(t, err)
	assert.False(t, res.Changed)

	records, err := f.svc.History(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Contains(t, records[0].Summary, "(no changes)")
	assert.Contains(t, records[1].Summary, "(no changes)")
}

func TestGraphService_ValidationHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name string
		run  func() error
	}{
		{"missing id", func() error { _, err := f.svc.AddNode(ctx, "g1", "", "A", "topic"); return err }},
		{"bad type", func() error { _, err := f.svc.AddNode(ctx, "g1", "a", "A", "page"); return err }},
		{"bad graph name", func() error { _, err := f.svc.CreateGraph(ctx, "../etc"); return err }},
		{"missing edge endpoint", func() error { _, err := f.svc.AddEdge(ctx, "g1", "a", "", "x"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.True(t, pkgerrors.IsValidation(err), "got %v", err)
		})
	}

	names, err := f.svc.ListGraphs(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = f.svc.ReadGraph(ctx, "a/b")
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestGraphService_ReadGraphDefaultsAndCreates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.EnsureDefaultGraph(ctx))

	snap, err := f.svc.ReadGraph(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultGraphName, snap.Graph.Name())
	assert.Equal(t, uint64(0), snap.Version)

	_, err = f.svc.ReadGraph(ctx, "other")
	require.NoError(t, err)

	names, err := f.svc.ListGraphs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "other"}, names)

	records, err := f.svc.History(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, records, "reads never write history")
}

func TestGraphService_ConcurrentAddsOnOneGraphLoseNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const n = 50

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.AddNode(ctx, "g1", fmt.Sprintf("n%02d", i), "node", "item")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := f.svc.ReadGraph(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, n, snap.Graph.NodeCount())
	assert.Equal(t, uint64(n), snap.Version)

	records, err := f.svc.History(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, records, n)
	for i, rec := range records {
		assert.Equal(t, uint64(i+1), rec.Sequence)
	}

	report, err := f.svc.Verify(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, report.Match, "history replays to the snapshot: %+v", report)
}

func TestGraphService_DifferentGraphsDoNotInterfere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	graphs := []string{"g1", "g2", "g3", "g4"}

	var wg sync.WaitGroup
	for _, g := range graphs {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(g string, i int) {
				defer wg.Done()
				_, err := f.svc.AddNode(ctx, g, fmt.Sprintf("%s-%d", g, i), "node", "topic")
				assert.NoError(t, err)
			}(g, i)
		}
	}
	wg.Wait()

	for _, g := range graphs {
		snap, err := f.svc.ReadGraph(ctx, g)
		require.NoError(t, err)
		assert.Equal(t, 10, snap.Graph.NodeCount(), g)
		for _, n := range snap.Graph.Nodes() {
			assert.Contains(t, n.ID.String(), g+"-")
		}
	}
}

func TestGraphService_RetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := &conflictingStore{SnapshotStore: memory.NewSnapshotStore()}
	store.remaining.Store(2)
	metrics := newRecordingMetrics()
	svc := NewGraphService(store, memory.NewHistoryLog(), nil, metrics, zap.NewNop(), fastPolicy(5))

	res, err := svc.Mutate(ctx, addNode("g1", "a"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, metrics.conflicts)
	assert.Equal(t, uint64(1), res.Version)
}

func TestGraphService_ConflictAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := &conflictingStore{SnapshotStore: memory.NewSnapshotStore()}
	store.remaining.Store(1000)
	history := memory.NewHistoryLog()
	metrics := newRecordingMetrics()
	svc := NewGraphService(store, history, nil, metrics, zap.NewNop(), fastPolicy(3))

	_, err := svc.Mutate(ctx, addNode("g1", "a"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
	assert.Equal(t, 4, metrics.conflicts)
	assert.Equal(t, 1, metrics.outcomes["add_node/conflict"])

	records, _ := history.List(ctx, "g1")
	assert.Empty(t, records)
}

func TestGraphService_SnapshotWriteFailureIsSurfaced(t *testing.T) {
	ctx := context.Background()
	history := memory.NewHistoryLog()
	svc := NewGraphService(failingStore{memory.NewSnapshotStore()}, history, nil, nil, zap.NewNop(), fastPolicy(3))

	_, err := svc.Mutate(ctx, addNode("g1", "a"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsIO(err))
	assert.Contains(t, err.Error(), "disk full")

	records, _ := history.List(ctx, "g1")
	assert.Empty(t, records)
}

func TestGraphService_HistoryFailureDoesNotFailTheCaller(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.ErrorLevel)
	history := new(mockHistoryLog)
	history.On("Append", mock.Anything, mock.Anything).Return(errors.New("log unavailable"))
	history.On("List", mock.Anything, "g1").Return([]versioning.HistoryRecord{}, nil)
	metrics := newRecordingMetrics()
	snapshots := memory.NewSnapshotStore()
	svc := NewGraphService(snapshots, history, nil, metrics, zap.New(core), fastPolicy(3))

	node, err := svc.AddNode(ctx, "g1", "a", "Topic A", "topic")
	require.NoError(t, err)
	assert.Equal(t, entities.NodeID("a"), node.ID)

	snap, _ := snapshots.Get(ctx, "g1")
	assert.True(t, snap.Graph.HasNode("a"))
	assert.Equal(t, 1, metrics.historyFailures)

	entries := logs.FilterMessage("History append failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "g1", entries[0].ContextMap()["graph"])
	assert.Equal(t, uint64(1), entries[0].ContextMap()["sequence"])

	report, err := svc.Verify(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, report.Match)
	assert.Equal(t, []uint64{1}, report.Gaps)
	history.AssertExpectations(t)
}

func TestGraphService_PublishesCommittedRecords(t *testing.T) {
	ctx := context.Background()
	publisher := new(mockPublisher)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(rec versioning.HistoryRecord) bool {
		return rec.GraphName == "g1" && rec.Sequence == 1
	})).Return(errors.New("bus down")).Once()
	svc := NewGraphService(memory.NewSnapshotStore(), memory.NewHistoryLog(), publisher, nil, zap.NewNop(), fastPolicy(3))

	_, err := svc.AddNode(ctx, "g1", "a", "A", "topic")
	require.NoError(t, err)
	publisher.AssertExpectations(t)
}

func TestGraphService_CancelledContextLeavesGraphUntouched(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.AddNode(ctx, "g1", "a", "A", "topic")
	require.ErrorIs(t, err, context.Canceled)

	snap, err := f.svc.ReadGraph(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.Version)
}

func TestGraphService_SetRetryPolicy(t *testing.T) {
	f := newFixture(t)

	f.svc.SetRetryPolicy(RetryPolicy{MaxRetries: -3, BaseDelay: time.Millisecond})
	got := f.svc.RetryPolicy()
	assert.Equal(t, 0, got.MaxRetries)
	assert.Equal(t, time.Millisecond, got.MaxDelay)
	assert.Equal(t, 2.0, got.BackoffFactor)
}

func TestRetryPolicy_DelayIsCapped(t *testing.T) {
	p := RetryPolicy{BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, BackoffFactor: 2, JitterFactor: 0.2}
	for attempt := 0; attempt < 10; attempt++ {
		d := p.delay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
}

func TestRetryPolicy_DelayAtLargeAttemptsStaysNearCap(t *testing.T) {
	exact := RetryPolicy{BaseDelay: 2 * time.Millisecond, MaxDelay: 250 * time.Millisecond, BackoffFactor: 2}
	jittered := exact
	jittered.JitterFactor = 0.5

	for _, attempt := range []int{40, 64, 1000, 10000, math.MaxInt32} {
		assert.Equal(t, 250*time.Millisecond, exact.delay(attempt), "attempt %d", attempt)

		d := jittered.delay(attempt)
		assert.GreaterOrEqual(t, d, 125*time.Millisecond, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 250*time.Millisecond, "attempt %d", attempt)
	}
}

func addNode(graph, id string) commands.AddNodeCommand {
	return commands.AddNodeCommand{Graph: graph, ID: id, Label: id, Type: "item"}
}

type unsupportedCommand struct{}

func (unsupportedCommand) GraphName() string { return "g1" }
func (unsupportedCommand) Validate() error   { return nil }
func (unsupportedCommand) Operation() versioning.Operation {
	return versioning.Operation{Kind: "rename_graph"}
}

func TestGraphService_RejectionLogLevels(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	metrics := newRecordingMetrics()
	svc := NewGraphService(memory.NewSnapshotStore(), memory.NewHistoryLog(), nil, metrics, zap.New(core), fastPolicy(3))

	_, err := svc.AddNode(ctx, "g1", "a", "A", "topic")
	require.NoError(t, err)
	_, err = svc.AddNode(ctx, "g1", "a", "A", "topic")
	require.Error(t, err)

	_, err = svc.Mutate(ctx, unsupportedCommand{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	rejected := logs.FilterMessage("Mutation rejected").All()
	require.Len(t, rejected, 2)
	assert.Equal(t, zapcore.DebugLevel, rejected[0].Level, "duplicate id is a structural rejection")
	assert.Equal(t, zapcore.WarnLevel, rejected[1].Level)
	assert.Equal(t, 1, metrics.outcomes["add_node/rejected"])
	assert.Equal(t, 1, metrics.outcomes["rename_graph/rejected"])
}
