// Package file stores each graph as one JSON document on disk and its
// history as a JSON-lines log next to it:
//
//	<dir>/graphs/<graph>.json    {"version": N, "graph": {...}}
//	<dir>/history/<graph>.jsonl  one HistoryRecord per line
//
// Documents are replaced with write-to-temp-then-rename, so a reader sees
// either the old or the new file and never a partial one.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

const (
	graphsDir  = "graphs"
	historyDir = "history"
	graphExt   = ".json"
	historyExt = ".jsonl"
	filePerm   = 0o644
	dirPerm    = 0o755
)

type snapshotFile struct {
	Version uint64           `json:"version"`
	Graph   *aggregates.Graph `json:"graph"`
}

// keyedMutex hands out one mutex per graph name
type keyedMutex struct {
	m sync.Map
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.m.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SnapshotStore keeps one JSON file per graph
type SnapshotStore struct {
	dir    string
	locks  keyedMutex
	logger *zap.Logger
}

// NewSnapshotStore creates the store rooted at dataDir
func NewSnapshotStore(dataDir string, logger *zap.Logger) (*SnapshotStore, error) {
	dir := filepath.Join(dataDir, graphsDir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create graphs dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{dir: dir, logger: logger}, nil
}

func (s *SnapshotStore) path(graphName string) string {
	return filepath.Join(s.dir, graphName+graphExt)
}

func (s *SnapshotStore) read(graphName string) (ports.Snapshot, bool, error) {
	data, err := os.ReadFile(s.path(graphName))
	if errors.Is(err, fs.ErrNotExist) {
		return ports.Snapshot{}, false, nil
	}
	if err != nil {
		return ports.Snapshot{}, false, pkgerrors.NewIOError("read snapshot", err)
	}

	var sf snapshotFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return ports.Snapshot{}, false, pkgerrors.NewIOError("decode snapshot", fmt.Errorf("%s: %w", s.path(graphName), err))
	}
	if sf.Graph == nil {
		sf.Graph = aggregates.NewGraph(graphName)
	}
	return ports.Snapshot{Graph: sf.Graph, Version: sf.Version}, true, nil
}

func (s *SnapshotStore) write(graphName string, snap ports.Snapshot) error {
	data, err := json.Marshal(snapshotFile{Version: snap.Version, Graph: snap.Graph})
	if err != nil {
		return pkgerrors.NewIOError("encode snapshot", err)
	}
	if err := renameio.WriteFile(s.path(graphName), data, filePerm); err != nil {
		return pkgerrors.NewIOError("write snapshot", err)
	}
	return nil
}

// Get reads the graph's file, creating an empty one on first access
func (s *SnapshotStore) Get(ctx context.Context, graphName string) (ports.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return ports.Snapshot{}, err
	}

	snap, ok, err := s.read(graphName)
	if err != nil || ok {
		return snap, err
	}

	unlock := s.locks.lock(graphName)
	defer unlock()

	if snap, ok, err := s.read(graphName); err != nil || ok {
		return snap, err
	}
	snap = ports.Snapshot{Graph: aggregates.NewGraph(graphName), Version: 0}
	if err := s.write(graphName, snap); err != nil {
		return ports.Snapshot{}, err
	}
	s.logger.Debug("Created graph file", zap.String("graph", graphName), zap.String("path", s.path(graphName)))
	return snap, nil
}

// CompareAndSet replaces the file if its version still equals expected.
// The per-graph mutex only spans the version check and the rename.
func (s *SnapshotStore) CompareAndSet(ctx context.Context, graphName string, expected uint64, next *aggregates.Graph) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	unlock := s.locks.lock(graphName)
	defer unlock()

	current, ok, err := s.read(graphName)
	if err != nil {
		return 0, err
	}
	if (ok && current.Version != expected) || (!ok && expected != 0) {
		return 0, pkgerrors.NewVersionConflictError(graphName, expected)
	}

	if err := s.write(graphName, ports.Snapshot{Graph: next, Version: expected + 1}); err != nil {
		return 0, err
	}
	return expected + 1, nil
}

// Names lists the graph files
func (s *SnapshotStore) Names(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, pkgerrors.NewIOError("list graphs", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, graphExt) || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, graphExt))
	}
	sort.Strings(names)
	return names, nil
}
