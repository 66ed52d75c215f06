// Package memory keeps snapshots and history in process memory. It backs
// tests and local development; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"
)

// SnapshotStore is an in-memory ports.SnapshotStore
type SnapshotStore struct {
	mu     sync.RWMutex
	graphs map[string]ports.Snapshot
}

// NewSnapshotStore creates an empty store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{graphs: make(map[string]ports.Snapshot)}
}

// Get returns the current snapshot, creating an empty graph on first access
func (s *SnapshotStore) Get(ctx context.Context, graphName string) (ports.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return ports.Snapshot{}, err
	}

	s.mu.RLock()
	snap, ok := s.graphs[graphName]
	s.mu.RUnlock()
	if ok {
		return snap, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.graphs[graphName]; ok {
		return snap, nil
	}
	snap = ports.Snapshot{Graph: aggregates.NewGraph(graphName), Version: 0}
	s.graphs[graphName] = snap
	return snap, nil
}

// CompareAndSet swaps the document if the version still matches
func (s *SnapshotStore) CompareAndSet(ctx context.Context, graphName string, expected uint64, next *aggregates.Graph) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.graphs[graphName]
	if (!ok && expected != 0) || (ok && current.Version != expected) {
		return 0, pkgerrors.NewVersionConflictError(graphName, expected)
	}

	s.graphs[graphName] = ports.Snapshot{Graph: next, Version: expected + 1}
	return expected + 1, nil
}

// Names lists the stored graphs
func (s *SnapshotStore) Names(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.graphs))
	for name := range s.graphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// HistoryLog is an in-memory ports.HistoryLog
type HistoryLog struct {
	mu      sync.RWMutex
	records map[string][]versioning.HistoryRecord
}

// NewHistoryLog creates an empty log
func NewHistoryLog() *HistoryLog {
	return &HistoryLog{records: make(map[string][]versioning.HistoryRecord)}
}

// Append inserts a record keeping each graph's records sorted by sequence
func (l *HistoryLog) Append(ctx context.Context, record versioning.HistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.records[record.GraphName]
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Sequence >= record.Sequence })
	if i < len(recs) && recs[i].Sequence == record.Sequence {
		return pkgerrors.NewIOError("append history", ports.DuplicateRecordError(record.GraphName, record.Sequence))
	}

	recs = append(recs, versioning.HistoryRecord{})
	copy(recs[i+1:], recs[i:])
	recs[i] = record
	l.records[record.GraphName] = recs
	return nil
}

// List returns a copy of the graph's records ordered by sequence
func (l *HistoryLog) List(ctx context.Context, graphName string) ([]versioning.HistoryRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]versioning.HistoryRecord, len(l.records[graphName]))
	copy(out, l.records[graphName])
	return out, nil
}
