package versioning

import (
	"fmt"

	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
)

// ReplayResult is the document rebuilt from a history log
type ReplayResult struct {
	Graph   *aggregates.Graph
	Applied int
	// Gaps lists sequence numbers missing from the log.
	Gaps []uint64
	// Divergent lists sequences whose recorded checksum differs from the
	// replayed document. Records after a gap usually diverge.
	Divergent []uint64
	// LastSequence is the highest sequence seen, 0 for an empty log.
	LastSequence uint64
}

// Complete reports whether the log had neither gaps nor divergence
func (r *ReplayResult) Complete() bool {
	return len(r.Gaps) == 0 && len(r.Divergent) == 0
}

// Replay rebuilds graphName from the empty document by applying records in
// sequence order. records must be ordered by Sequence as HistoryLog.List
// returns them. A record that does not apply cleanly fails the replay,
// unless an earlier gap explains it.
func Replay(graphName string, records []HistoryRecord) (*ReplayResult, error) {
	result := &ReplayResult{Graph: aggregates.NewGraph(graphName)}
	expected := uint64(1)

	for _, rec := range records {
		if rec.GraphName != graphName {
			return nil, fmt.Errorf("replay %q: record %d belongs to graph %q", graphName, rec.Sequence, rec.GraphName)
		}
		if rec.Sequence < expected {
			return nil, fmt.Errorf("replay %q: record %d out of order (expected >= %d)", graphName, rec.Sequence, expected)
		}
		for missing := expected; missing < rec.Sequence; missing++ {
			result.Gaps = append(result.Gaps, missing)
		}

		expected = rec.Sequence + 1
		result.LastSequence = rec.Sequence

		next, _, err := Apply(result.Graph, rec.Operation)
		if err != nil {
			if len(result.Gaps) > 0 {
				// The missing records may have created what this one needs.
				result.Divergent = append(result.Divergent, rec.Sequence)
				continue
			}
			return nil, fmt.Errorf("replay %q: record %d (%s): %w", graphName, rec.Sequence, rec.Operation.Kind, err)
		}
		result.Graph = next
		result.Applied++

		if rec.Version.Checksum != "" && rec.Version.Checksum != next.Checksum() {
			result.Divergent = append(result.Divergent, rec.Sequence)
		}
	}

	return result, nil
}
