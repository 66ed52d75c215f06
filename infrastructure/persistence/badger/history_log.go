package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	dgbadger "github.com/dgraph-io/badger/v4"
)

func historyGraphPrefix(graphName string) []byte {
	return []byte(historyPrefix + graphName + "/")
}

func historyKey(graphName string, sequence uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", historyPrefix, graphName, sequence))
}

// HistoryLog implements ports.HistoryLog with one key per record
type HistoryLog struct {
	db *DB
}

// NewHistoryLog creates a log on db
func NewHistoryLog(db *DB) *HistoryLog {
	return &HistoryLog{db: db}
}

// Append stores the record unless its sequence is already taken
func (l *HistoryLog) Append(ctx context.Context, record versioning.HistoryRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return pkgerrors.NewIOError("encode history record", err)
	}
	key := historyKey(record.GraphName, record.Sequence)
	duplicate := ports.DuplicateRecordError(record.GraphName, record.Sequence)

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := l.db.db.Update(func(txn *dgbadger.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				return duplicate
			}
			if !errors.Is(err, dgbadger.ErrKeyNotFound) {
				return err
			}
			return txn.Set(key, raw)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, dgbadger.ErrConflict):
			// a concurrent writer touched the same key; re-read decides
			lastErr = err
			continue
		default:
			return pkgerrors.NewIOError("append history", err)
		}
	}
	return pkgerrors.NewIOError("append history", lastErr)
}

// List returns the graph's records in sequence order
func (l *HistoryLog) List(ctx context.Context, graphName string) ([]versioning.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := []versioning.HistoryRecord{}
	err := l.db.db.View(func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		prefix := historyGraphPrefix(graphName)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec versioning.HistoryRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.NewIOError("list history", err)
	}
	return records, nil
}
