// Package redis keeps graph snapshots and history in Redis.
//
//	<prefix>graph:<name>    snapshot JSON {"version": N, "graph": {...}}
//	<prefix>graphs          set of graph names
//	<prefix>history:<name>  hash of sequence -> HistoryRecord JSON
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces every key the stores write
const DefaultKeyPrefix = "knowledge-map:"

type keys struct {
	prefix string
}

func (k keys) graph(name string) string   { return k.prefix + "graph:" + name }
func (k keys) names() string              { return k.prefix + "graphs" }
func (k keys) history(name string) string { return k.prefix + "history:" + name }

type snapshotValue struct {
	Version uint64            `json:"version"`
	Graph   *aggregates.Graph `json:"graph"`
}

// SnapshotStore implements ports.SnapshotStore with WATCH/MULTI: the
// transaction aborts if the key changed after it was read.
type SnapshotStore struct {
	client *redis.Client
	keys   keys
	logger *zap.Logger
}

// NewSnapshotStore creates a store. An empty prefix uses DefaultKeyPrefix.
func NewSnapshotStore(client *redis.Client, prefix string, logger *zap.Logger) *SnapshotStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{client: client, keys: keys{prefix: prefix}, logger: logger}
}

func decodeSnapshot(graphName string, raw []byte) (ports.Snapshot, error) {
	var v snapshotValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return ports.Snapshot{}, pkgerrors.NewIOError("decode snapshot", fmt.Errorf("%s: %w", graphName, err))
	}
	if v.Graph == nil {
		v.Graph = aggregates.NewGraph(graphName)
	}
	return ports.Snapshot{Graph: v.Graph, Version: v.Version}, nil
}

// Get reads the snapshot, creating it at version 0 with SETNX when absent
func (s *SnapshotStore) Get(ctx context.Context, graphName string) (ports.Snapshot, error) {
	key := s.keys.graph(graphName)

	raw, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		return decodeSnapshot(graphName, raw)
	}
	if !errors.Is(err, redis.Nil) {
		return ports.Snapshot{}, wrapErr(ctx, "read snapshot", err)
	}

	empty := ports.Snapshot{Graph: aggregates.NewGraph(graphName), Version: 0}
	data, err := json.Marshal(snapshotValue{Version: 0, Graph: empty.Graph})
	if err != nil {
		return ports.Snapshot{}, pkgerrors.NewIOError("encode snapshot", err)
	}
	created, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return ports.Snapshot{}, wrapErr(ctx, "create graph", err)
	}
	if err := s.client.SAdd(ctx, s.keys.names(), graphName).Err(); err != nil {
		return ports.Snapshot{}, wrapErr(ctx, "register graph", err)
	}
	if created {
		return empty, nil
	}

	// another client created it between GET and SETNX
	raw, err = s.client.Get(ctx, key).Bytes()
	if err != nil {
		return ports.Snapshot{}, wrapErr(ctx, "read snapshot", err)
	}
	return decodeSnapshot(graphName, raw)
}

// CompareAndSet writes next at expected+1 inside a watched transaction
func (s *SnapshotStore) CompareAndSet(ctx context.Context, graphName string, expected uint64, next *aggregates.Graph) (uint64, error) {
	key := s.keys.graph(graphName)
	data, err := json.Marshal(snapshotValue{Version: expected + 1, Graph: next})
	if err != nil {
		return 0, pkgerrors.NewIOError("encode snapshot", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expected != 0 {
				return pkgerrors.NewVersionConflictError(graphName, expected)
			}
		case err != nil:
			return err
		default:
			current, err := decodeSnapshot(graphName, raw)
			if err != nil {
				return err
			}
			if current.Version != expected {
				return pkgerrors.NewVersionConflictError(graphName, expected)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.keys.names(), graphName)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return expected + 1, nil
	case pkgerrors.IsAppError(err):
		return 0, err
	case errors.Is(err, redis.TxFailedErr):
		s.logger.Debug("Redis transaction aborted", zap.String("graph", graphName), zap.Uint64("expected", expected))
		return 0, pkgerrors.NewVersionConflictError(graphName, expected)
	default:
		return 0, wrapErr(ctx, "compare and set snapshot", err)
	}
}

// Names returns the registered graph names
func (s *SnapshotStore) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.keys.names()).Result()
	if err != nil {
		return nil, wrapErr(ctx, "list graphs", err)
	}
	sort.Strings(names)
	return names, nil
}

// HistoryLog implements ports.HistoryLog with one hash per graph. HSETNX
// refuses a sequence that is already present.
type HistoryLog struct {
	client *redis.Client
	keys   keys
}

// NewHistoryLog creates a log. An empty prefix uses DefaultKeyPrefix.
func NewHistoryLog(client *redis.Client, prefix string) *HistoryLog {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &HistoryLog{client: client, keys: keys{prefix: prefix}}
}

// Append stores the record under its sequence
func (l *HistoryLog) Append(ctx context.Context, record versioning.HistoryRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return pkgerrors.NewIOError("encode history record", err)
	}
	field := strconv.FormatUint(record.Sequence, 10)
	ok, err := l.client.HSetNX(ctx, l.keys.history(record.GraphName), field, raw).Result()
	if err != nil {
		return wrapErr(ctx, "append history", err)
	}
	if !ok {
		return pkgerrors.NewIOError("append history", ports.DuplicateRecordError(record.GraphName, record.Sequence))
	}
	return nil
}

// List reads the whole hash and sorts it by sequence
func (l *HistoryLog) List(ctx context.Context, graphName string) ([]versioning.HistoryRecord, error) {
	entries, err := l.client.HGetAll(ctx, l.keys.history(graphName)).Result()
	if err != nil {
		return nil, wrapErr(ctx, "list history", err)
	}

	records := make([]versioning.HistoryRecord, 0, len(entries))
	for field, raw := range entries {
		var rec versioning.HistoryRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, pkgerrors.NewIOError("decode history record", fmt.Errorf("%s/%s: %w", graphName, field, err))
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Sequence < records[j].Sequence })
	return records, nil
}

func wrapErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return pkgerrors.NewIOError(op, err)
}
