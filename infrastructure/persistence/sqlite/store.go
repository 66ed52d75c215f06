// Package sqlite keeps graph snapshots and history in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS graphs (
	name    TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	doc     JSON NOT NULL
);

CREATE TABLE IF NOT EXISTS history (
	graph_name TEXT NOT NULL,
	sequence   INTEGER NOT NULL,
	record_id  TEXT NOT NULL,
	ts         DATETIME NOT NULL,
	record     JSON NOT NULL,
	PRIMARY KEY (graph_name, sequence)
);
`

// DB manages the SQLite connection and schema
type DB struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens the database at path, enables WAL mode and creates the tables.
// Writes go through a single connection, so SQLite's writer lock is never
// contended from inside the process.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	logger.Debug("Opened sqlite store", zap.String("path", path))
	return &DB{db: db, logger: logger}, nil
}

// Close closes the underlying connection
func (d *DB) Close() error {
	return d.db.Close()
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// SnapshotStore implements ports.SnapshotStore. The version check is the
// WHERE clause of the UPDATE.
type SnapshotStore struct {
	d *DB
}

// NewSnapshotStore creates a store on d
func NewSnapshotStore(d *DB) *SnapshotStore {
	return &SnapshotStore{d: d}
}

func emptyDoc(graphName string) ([]byte, error) {
	return json.Marshal(aggregates.NewGraph(graphName))
}

// Get inserts an empty graph at version 0 if needed, then reads it
func (s *SnapshotStore) Get(ctx context.Context, graphName string) (ports.Snapshot, error) {
	doc, err := emptyDoc(graphName)
	if err != nil {
		return ports.Snapshot{}, pkgerrors.NewIOError("encode snapshot", err)
	}
	if _, err := s.d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO graphs (name, version, doc) VALUES (?, 0, ?)`, graphName, doc); err != nil {
		return ports.Snapshot{}, wrapErr(ctx, "create graph", err)
	}

	var (
		version uint64
		raw     []byte
	)
	err = s.d.db.QueryRowContext(ctx,
		`SELECT version, doc FROM graphs WHERE name = ?`, graphName).Scan(&version, &raw)
	if err != nil {
		return ports.Snapshot{}, wrapErr(ctx, "read snapshot", err)
	}

	g := &aggregates.Graph{}
	if err := json.Unmarshal(raw, g); err != nil {
		return ports.Snapshot{}, pkgerrors.NewIOError("decode snapshot", fmt.Errorf("%s: %w", graphName, err))
	}
	return ports.Snapshot{Graph: g, Version: version}, nil
}

// CompareAndSet updates the row only when its version equals expected
func (s *SnapshotStore) CompareAndSet(ctx context.Context, graphName string, expected uint64, next *aggregates.Graph) (uint64, error) {
	doc, err := json.Marshal(next)
	if err != nil {
		return 0, pkgerrors.NewIOError("encode snapshot", err)
	}
	empty, err := emptyDoc(graphName)
	if err != nil {
		return 0, pkgerrors.NewIOError("encode snapshot", err)
	}

	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr(ctx, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if expected == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO graphs (name, version, doc) VALUES (?, 0, ?)`, graphName, empty); err != nil {
			return 0, wrapErr(ctx, "create graph", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE graphs SET version = ?, doc = ? WHERE name = ? AND version = ?`,
		expected+1, doc, graphName, expected)
	if err != nil {
		return 0, wrapErr(ctx, "update snapshot", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(ctx, "update snapshot", err)
	}
	if n == 0 {
		return 0, pkgerrors.NewVersionConflictError(graphName, expected)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapErr(ctx, "commit snapshot", err)
	}
	return expected + 1, nil
}

// Names lists every graph row
func (s *SnapshotStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.d.db.QueryContext(ctx, `SELECT name FROM graphs ORDER BY name`)
	if err != nil {
		return nil, wrapErr(ctx, "list graphs", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapErr(ctx, "list graphs", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(ctx, "list graphs", err)
	}
	return names, nil
}

// HistoryLog implements ports.HistoryLog. The primary key on
// (graph_name, sequence) rejects a second record for the same slot.
type HistoryLog struct {
	d *DB
}

// NewHistoryLog creates a log on d
func NewHistoryLog(d *DB) *HistoryLog {
	return &HistoryLog{d: d}
}

// Append inserts the record
func (l *HistoryLog) Append(ctx context.Context, record versioning.HistoryRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return pkgerrors.NewIOError("encode history record", err)
	}
	_, err = l.d.db.ExecContext(ctx,
		`INSERT INTO history (graph_name, sequence, record_id, ts, record) VALUES (?, ?, ?, ?, ?)`,
		record.GraphName, record.Sequence, record.ID, record.Timestamp.UTC().Format(time.RFC3339Nano), raw)
	if isConstraintViolation(err) {
		return pkgerrors.NewIOError("append history", ports.DuplicateRecordError(record.GraphName, record.Sequence))
	}
	if err != nil {
		return wrapErr(ctx, "append history", err)
	}
	return nil
}

// List returns the graph's records by ascending sequence
func (l *HistoryLog) List(ctx context.Context, graphName string) ([]versioning.HistoryRecord, error) {
	rows, err := l.d.db.QueryContext(ctx,
		`SELECT record FROM history WHERE graph_name = ? ORDER BY sequence`, graphName)
	if err != nil {
		return nil, wrapErr(ctx, "list history", err)
	}
	defer rows.Close()

	records := []versioning.HistoryRecord{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapErr(ctx, "list history", err)
		}
		var rec versioning.HistoryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, pkgerrors.NewIOError("decode history record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(ctx, "list history", err)
	}
	return records, nil
}

// wrapErr passes context errors through untouched
func wrapErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return pkgerrors.NewIOError(op, err)
}
