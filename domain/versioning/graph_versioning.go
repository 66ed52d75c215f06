package versioning

import (
	"time"

	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"

	"github.com/google/uuid"
)

// VersionRef points at the snapshot a mutation produced. Version is the
// per-graph counter (0 is the empty document created on first access);
// Checksum identifies the content.
type VersionRef struct {
	Version  uint64 `json:"version"`
	Checksum string `json:"checksum"`
}

// RefOf builds the reference for a committed document
func RefOf(g *aggregates.Graph, version uint64) VersionRef {
	return VersionRef{Version: version, Checksum: g.Checksum()}
}

// HistoryRecord is the immutable log entry for one committed mutation.
// Sequence equals Version.Version, so per graph the log order is the
// commit order and a missing sequence number is a visible gap.
type HistoryRecord struct {
	ID        string     `json:"id"`
	Sequence  uint64     `json:"sequence"`
	GraphName string     `json:"graph_name"`
	Operation Operation  `json:"operation"`
	Summary   string     `json:"summary"`
	Timestamp time.Time  `json:"timestamp"`
	Version   VersionRef `json:"version"`
}

// NewHistoryRecord creates the record for a document committed at version
func NewHistoryRecord(op Operation, change Change, committed *aggregates.Graph, version uint64, at time.Time) HistoryRecord {
	return HistoryRecord{
		ID:        uuid.New().String(),
		Sequence:  version,
		GraphName: committed.Name(),
		Operation: op,
		Summary:   change.Summary,
		Timestamp: at.UTC(),
		Version:   RefOf(committed, version),
	}
}
