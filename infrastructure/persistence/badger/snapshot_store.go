package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	dgbadger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	graphPrefix   = "graph/"
	historyPrefix = "history/"

	// concurrent first reads of the same graph race to create it
	createAttempts = 3
)

type snapshotValue struct {
	Version uint64            `json:"version"`
	Graph   *aggregates.Graph `json:"graph"`
}

func graphKey(graphName string) []byte {
	return []byte(graphPrefix + graphName)
}

// SnapshotStore implements ports.SnapshotStore on top of badger
// transactions. Badger's optimistic conflict detection backs the version
// check: two transactions that read the same key cannot both commit.
type SnapshotStore struct {
	db     *DB
	logger *zap.Logger
}

// NewSnapshotStore creates a store on db
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db, logger: db.logger}
}

func readSnapshot(txn *dgbadger.Txn, graphName string) (ports.Snapshot, bool, error) {
	item, err := txn.Get(graphKey(graphName))
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return ports.Snapshot{}, false, nil
	}
	if err != nil {
		return ports.Snapshot{}, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return ports.Snapshot{}, false, err
	}
	var v snapshotValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return ports.Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", graphName, err)
	}
	if v.Graph == nil {
		v.Graph = aggregates.NewGraph(graphName)
	}
	return ports.Snapshot{Graph: v.Graph, Version: v.Version}, true, nil
}

func writeSnapshot(txn *dgbadger.Txn, graphName string, snap ports.Snapshot) error {
	raw, err := json.Marshal(snapshotValue{Version: snap.Version, Graph: snap.Graph})
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", graphName, err)
	}
	return txn.Set(graphKey(graphName), raw)
}

// Get returns the graph, creating an empty one at version 0 when absent
func (s *SnapshotStore) Get(ctx context.Context, graphName string) (ports.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ports.Snapshot{}, err
		}

		var snap ports.Snapshot
		err := s.db.db.Update(func(txn *dgbadger.Txn) error {
			current, ok, err := readSnapshot(txn, graphName)
			if err != nil {
				return err
			}
			if ok {
				snap = current
				return nil
			}
			snap = ports.Snapshot{Graph: aggregates.NewGraph(graphName), Version: 0}
			return writeSnapshot(txn, graphName, snap)
		})
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, dgbadger.ErrConflict) {
			return ports.Snapshot{}, pkgerrors.NewIOError("get snapshot", err)
		}
		lastErr = err
	}
	return ports.Snapshot{}, pkgerrors.NewIOError("get snapshot", lastErr)
}

// CompareAndSet stores next at expected+1 if the stored version is expected
func (s *SnapshotStore) CompareAndSet(ctx context.Context, graphName string, expected uint64, next *aggregates.Graph) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	err := s.db.db.Update(func(txn *dgbadger.Txn) error {
		current, ok, err := readSnapshot(txn, graphName)
		if err != nil {
			return err
		}
		if (ok && current.Version != expected) || (!ok && expected != 0) {
			return pkgerrors.NewVersionConflictError(graphName, expected)
		}
		return writeSnapshot(txn, graphName, ports.Snapshot{Graph: next, Version: expected + 1})
	})
	switch {
	case err == nil:
		return expected + 1, nil
	case pkgerrors.IsVersionConflict(err):
		return 0, err
	case errors.Is(err, dgbadger.ErrConflict):
		s.logger.Debug("Badger transaction conflict", zap.String("graph", graphName), zap.Uint64("expected", expected))
		return 0, pkgerrors.NewVersionConflictError(graphName, expected)
	default:
		return 0, pkgerrors.NewIOError("compare and set snapshot", err)
	}
}

// Names scans the graph key prefix
func (s *SnapshotStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(graphPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), graphPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.NewIOError("list graphs", err)
	}
	sort.Strings(names)
	return names, nil
}
