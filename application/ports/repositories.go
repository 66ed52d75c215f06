package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
)

// Snapshot is the current document of a graph together with its version
type Snapshot struct {
	Graph   *aggregates.Graph
	Version uint64
}

// SnapshotStore maps a graph name to its current document.
// This is a port in hexagonal architecture; implementations live under
// infrastructure/persistence.
type SnapshotStore interface {
	// Get returns the current snapshot. A graph that does not exist yet is
	// created empty at version 0 and persisted before Get returns.
	Get(ctx context.Context, graphName string) (Snapshot, error)

	// CompareAndSet replaces the document only if the stored version still
	// equals expected, returning the new version (expected+1). A stale
	// expected version fails with a VERSION_CONFLICT AppError. The write is
	// durable before CompareAndSet returns and readers never observe a
	// partially written document.
	CompareAndSet(ctx context.Context, graphName string, expected uint64, next *aggregates.Graph) (uint64, error)

	// Names lists the stored graph names in ascending order
	Names(ctx context.Context) ([]string, error)
}

// HistoryLog is the append-only log of committed mutations
type HistoryLog interface {
	// Append stores a record. A record whose (graph, sequence) is already
	// present is rejected; records are never updated or deleted.
	Append(ctx context.Context, record versioning.HistoryRecord) error

	// List returns the records of one graph ordered by sequence
	List(ctx context.Context, graphName string) ([]versioning.HistoryRecord, error)
}

// ErrDuplicateRecord is wrapped by HistoryLog.Append when the (graph,
// sequence) slot is already taken.
var ErrDuplicateRecord = errors.New("history record already exists")

// DuplicateRecordError builds the error HistoryLog implementations return
// for an occupied slot.
func DuplicateRecordError(graphName string, sequence uint64) error {
	return fmt.Errorf("%w: graph %q sequence %d", ErrDuplicateRecord, graphName, sequence)
}

// ChangePublisher announces committed mutations to other systems
type ChangePublisher interface {
	Publish(ctx context.Context, record versioning.HistoryRecord) error
}

// Mutation outcomes reported to MetricsRecorder
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
)

// MetricsRecorder receives mutation telemetry
type MetricsRecorder interface {
	RecordMutation(operation, outcome string, attempts int, duration time.Duration)
	RecordConflict(operation string)
	RecordHistoryFailure(graphName string)
}
