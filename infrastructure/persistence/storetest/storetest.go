// Package storetest holds the behaviour every SnapshotStore and HistoryLog
// backend must share. Backend packages run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	"github.com/Eashwar-S/knowledge-map/domain/core/entities"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SampleGraph builds a small document exercising every field
func SampleGraph(t *testing.T, name string) *aggregates.Graph {
	t.Helper()
	g := aggregates.NewGraph(name)
	var err error
	g, _, err = g.AddNode("b", "Block B", entities.NodeTypeBlock)
	require.NoError(t, err)
	g, _, err = g.AddNode("a", "Topic A", entities.NodeTypeTopic)
	require.NoError(t, err)
	g, _, err = g.AddNode("i", "Item \"quoted\" ✓", entities.NodeTypeItem)
	require.NoError(t, err)
	g, _, err = g.SetNodeContent("a", "first line\nsecond line\t<tab>")
	require.NoError(t, err)
	g, _, err = g.AddEdge("a", "b", "contains")
	require.NoError(t, err)
	g, _, err = g.AddEdge("a", "b", "")
	require.NoError(t, err)
	g, _, err = g.AddEdge("i", "a", "refers")
	require.NoError(t, err)
	return g
}

// Record builds a history record for graphName at sequence
func Record(graphName string, sequence uint64) versioning.HistoryRecord {
	return versioning.HistoryRecord{
		ID:        fmt.Sprintf("rec-%s-%d", graphName, sequence),
		Sequence:  sequence,
		GraphName: graphName,
		Operation: versioning.Operation{
			Kind:     versioning.OpAddNode,
			NodeID:   entities.NodeID(fmt.Sprintf("n%d", sequence)),
			Label:    "Node",
			NodeType: entities.NodeTypeItem,
		},
		Summary:   fmt.Sprintf("Added node n%d (Node) in graph %s", sequence, graphName),
		Timestamp: time.Date(2024, 5, 1, 12, 0, int(sequence), 123456789, time.UTC),
		Version:   versioning.VersionRef{Version: sequence, Checksum: fmt.Sprintf("sum-%d", sequence)},
	}
}

// RunSnapshotStoreTests runs the SnapshotStore contract. newStore must
// return an empty store for every call.
func RunSnapshotStoreTests(t *testing.T, newStore func(t *testing.T) ports.SnapshotStore) {
	ctx := context.Background()

	t.Run("Get creates an empty graph at version zero", func(t *testing.T) {
		store := newStore(t)

		snap, err := store.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), snap.Version)
		assert.Equal(t, "g1", snap.Graph.Name())
		assert.Equal(t, 0, snap.Graph.NodeCount())
		assert.Equal(t, 0, snap.Graph.EdgeCount())

		again, err := store.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), again.Version)

		names, err := store.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"g1"}, names)
	})

	t.Run("CompareAndSet advances the version", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "g1")
		require.NoError(t, err)

		doc := SampleGraph(t, "g1")
		version, err := store.CompareAndSet(ctx, "g1", 0, doc)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), version)

		snap, err := store.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), snap.Version)
		assert.True(t, doc.Equal(snap.Graph), "stored document must round-trip exactly")

		next, _, removed := doc.RemoveNode("a")
		require.True(t, removed)
		version, err = store.CompareAndSet(ctx, "g1", 1, next)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), version)
	})

	t.Run("CompareAndSet with a stale version conflicts", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "g1")
		require.NoError(t, err)

		doc := SampleGraph(t, "g1")
		_, err = store.CompareAndSet(ctx, "g1", 0, doc)
		require.NoError(t, err)

		_, err = store.CompareAndSet(ctx, "g1", 0, aggregates.NewGraph("g1"))
		require.Error(t, err)
		assert.True(t, pkgerrors.IsVersionConflict(err), "got %v", err)

		_, err = store.CompareAndSet(ctx, "g1", 7, aggregates.NewGraph("g1"))
		assert.True(t, pkgerrors.IsVersionConflict(err), "got %v", err)

		snap, err := store.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), snap.Version)
		assert.True(t, doc.Equal(snap.Graph))
	})

	t.Run("CompareAndSet at zero creates an unread graph", func(t *testing.T) {
		store := newStore(t)

		version, err := store.CompareAndSet(ctx, "fresh", 0, SampleGraph(t, "fresh"))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), version)

		snap, err := store.Get(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, 3, snap.Graph.NodeCount())
	})

	t.Run("graphs are isolated", func(t *testing.T) {
		store := newStore(t)
		for _, name := range []string{"beta", "alpha"} {
			_, err := store.Get(ctx, name)
			require.NoError(t, err)
		}

		_, err := store.CompareAndSet(ctx, "alpha", 0, SampleGraph(t, "alpha"))
		require.NoError(t, err)

		beta, err := store.Get(ctx, "beta")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), beta.Version)
		assert.Equal(t, 0, beta.Graph.NodeCount())

		names, err := store.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "beta"}, names)
	})

	t.Run("exactly one concurrent writer wins a version", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "race")
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
			others    []error
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				doc, _, err := aggregates.NewGraph("race").AddNode(entities.NodeID(fmt.Sprintf("w%d", i)), "writer", entities.NodeTypeItem)
				if err != nil {
					panic(err)
				}
				_, err = store.CompareAndSet(ctx, "race", 0, doc)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case pkgerrors.IsVersionConflict(err):
					conflicts++
				default:
					others = append(others, err)
				}
			}(i)
		}
		wg.Wait()

		assert.Empty(t, others)
		assert.Equal(t, 1, wins)
		assert.Equal(t, writers-1, conflicts)

		snap, err := store.Get(ctx, "race")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), snap.Version)
		assert.Equal(t, 1, snap.Graph.NodeCount())
	})
}

// RunHistoryLogTests runs the HistoryLog contract. newLog must return an
// empty log for every call.
func RunHistoryLogTests(t *testing.T, newLog func(t *testing.T) ports.HistoryLog) {
	ctx := context.Background()

	t.Run("empty graph has no records", func(t *testing.T) {
		log := newLog(t)
		records, err := log.List(ctx, "nothing")
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("List orders by sequence and keeps every field", func(t *testing.T) {
		log := newLog(t)
		for _, seq := range []uint64{3, 1, 2, 10} {
			require.NoError(t, log.Append(ctx, Record("g1", seq)))
		}

		records, err := log.List(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, records, 4)

		var seqs []uint64
		for _, r := range records {
			seqs = append(seqs, r.Sequence)
		}
		assert.Equal(t, []uint64{1, 2, 3, 10}, seqs)

		want := Record("g1", 2)
		got := records[1]
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
		got.Timestamp = want.Timestamp
		assert.Equal(t, want, got)
	})

	t.Run("a taken sequence is rejected", func(t *testing.T) {
		log := newLog(t)
		require.NoError(t, log.Append(ctx, Record("g1", 1)))

		dup := Record("g1", 1)
		dup.Summary = "rewritten"
		err := log.Append(ctx, dup)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ports.ErrDuplicateRecord), "got %v", err)

		records, err := log.List(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, Record("g1", 1).Summary, records[0].Summary)
	})

	t.Run("graphs are isolated", func(t *testing.T) {
		log := newLog(t)
		require.NoError(t, log.Append(ctx, Record("g1", 1)))
		require.NoError(t, log.Append(ctx, Record("g2", 1)))
		require.NoError(t, log.Append(ctx, Record("g1", 2)))
		// prefix of another graph name must not leak into it
		require.NoError(t, log.Append(ctx, Record("g10", 1)))

		g1, err := log.List(ctx, "g1")
		require.NoError(t, err)
		assert.Len(t, g1, 2)

		g2, err := log.List(ctx, "g2")
		require.NoError(t, err)
		require.Len(t, g2, 1)
		assert.Equal(t, "g2", g2[0].GraphName)
	})

	t.Run("concurrent appends to distinct sequences all land", func(t *testing.T) {
		log := newLog(t)
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for seq := uint64(1); seq <= 20; seq++ {
			wg.Add(1)
			go func(seq uint64) {
				defer wg.Done()
				errs <- log.Append(ctx, Record("busy", seq))
			}(seq)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		records, err := log.List(ctx, "busy")
		require.NoError(t, err)
		require.Len(t, records, 20)
		for i, r := range records {
			assert.Equal(t, uint64(i+1), r.Sequence)
		}
	})
}
