package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Eashwar-S/knowledge-map/application/commands"
	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/core/entities"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"
	"github.com/Eashwar-S/knowledge-map/pkg/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultGraphName is read when a caller names no graph
const DefaultGraphName = "default"

// MutationResult describes a committed mutation
type MutationResult struct {
	GraphName string
	Version   uint64
	Node      *entities.Node
	Edge      *entities.Edge
	Changed   bool
	Record    versioning.HistoryRecord
	Attempts  int
}

// VerifyReport compares the current snapshot with the document rebuilt
// from the history log.
type VerifyReport struct {
	GraphName        string   `json:"graph_name"`
	SnapshotVersion  uint64   `json:"snapshot_version"`
	SnapshotChecksum string   `json:"snapshot_checksum"`
	ReplayChecksum   string   `json:"replay_checksum"`
	Records          int      `json:"records"`
	Gaps             []uint64 `json:"gaps,omitempty"`
	Divergent        []uint64 `json:"divergent,omitempty"`
	Match            bool     `json:"match"`
}

// GraphService runs the mutation protocol: validate the command, apply it
// to the current document, compare-and-set the new snapshot and append the
// history record. Conflicting writers are resolved by re-reading and
// retrying, never by locking.
type GraphService struct {
	snapshots    ports.SnapshotStore
	history      ports.HistoryLog
	publisher    ports.ChangePublisher
	metrics      ports.MetricsRecorder
	logger       *zap.Logger
	tracer       trace.Tracer
	defaultGraph string
	now          func() time.Time

	mu     sync.RWMutex
	policy RetryPolicy
}

// NewGraphService creates a new graph service. publisher and metrics may be nil.
func NewGraphService(
	snapshots ports.SnapshotStore,
	history ports.HistoryLog,
	publisher ports.ChangePublisher,
	metrics ports.MetricsRecorder,
	logger *zap.Logger,
	policy RetryPolicy,
) *GraphService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &GraphService{
		snapshots:    snapshots,
		history:      history,
		publisher:    publisher,
		metrics:      metrics,
		logger:       logger,
		tracer:       otel.Tracer("knowledge-map/graph-service"),
		defaultGraph: DefaultGraphName,
		now:          time.Now,
		policy:       policy.normalized(),
	}
}

// WithDefaultGraph changes the graph used when a read names none
func (s *GraphService) WithDefaultGraph(name string) *GraphService {
	if name != "" {
		s.defaultGraph = name
	}
	return s
}

// SetRetryPolicy replaces the retry policy. Safe for concurrent use.
func (s *GraphService) SetRetryPolicy(policy RetryPolicy) {
	s.mu.Lock()
	s.policy = policy.normalized()
	s.mu.Unlock()
	s.logger.Info("Mutation retry policy updated",
		zap.Int("max_retries", policy.MaxRetries),
		zap.Duration("base_delay", policy.BaseDelay),
		zap.Duration("max_delay", policy.MaxDelay),
	)
}

// RetryPolicy returns the current retry policy
func (s *GraphService) RetryPolicy() RetryPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Mutate validates cmd and commits it to its graph
func (s *GraphService) Mutate(ctx context.Context, cmd commands.Command) (*MutationResult, error) {
	op := cmd.Operation()
	kind := string(op.Kind)
	graphName := cmd.GraphName()
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "GraphService.Mutate", trace.WithAttributes(
		attribute.String("graph", graphName),
		attribute.String("operation", kind),
	))
	defer span.End()

	fail := func(outcome string, attempts int, err error) (*MutationResult, error) {
		s.metrics.RecordMutation(kind, outcome, attempts, time.Since(start))
		span.SetAttributes(attribute.Int("attempts", attempts))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}

	if err := cmd.Validate(); err != nil {
		return fail(ports.OutcomeRejected, 0, err)
	}

	policy := s.RetryPolicy()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fail(ports.OutcomeError, attempt-1, err)
		}

		snap, err := s.snapshots.Get(ctx, graphName)
		if err != nil {
			return fail(ports.OutcomeError, attempt, asIOError("get snapshot", err))
		}

		next, change, err := versioning.Apply(snap.Graph, op)
		if err != nil {
			// structural rejections are ordinary client outcomes; anything
			// else means the command and the document disagree
			level := zapcore.WarnLevel
			if pkgerrors.IsStructural(err) {
				level = zapcore.DebugLevel
			}
			s.logger.Log(level, "Mutation rejected",
				zap.String("graph", graphName),
				zap.String("operation", kind),
				zap.Error(err),
			)
			return fail(ports.OutcomeRejected, attempt, err)
		}

		version, err := s.snapshots.CompareAndSet(ctx, graphName, snap.Version, next)
		if err == nil {
			record := versioning.NewHistoryRecord(op, change, next, version, s.now())
			s.afterCommit(ctx, record)

			s.metrics.RecordMutation(kind, ports.OutcomeCommitted, attempt, time.Since(start))
			span.SetAttributes(attribute.Int("attempts", attempt), attribute.Int64("version", int64(version)))
			s.logger.Info("Mutation committed",
				zap.String("graph", graphName),
				zap.String("operation", kind),
				zap.Uint64("version", version),
				zap.Int("attempts", attempt),
				zap.String("summary", change.Summary),
			)

			return &MutationResult{
				GraphName: graphName,
				Version:   version,
				Node:      change.Node,
				Edge:      change.Edge,
				Changed:   change.Changed,
				Record:    record,
				Attempts:  attempt,
			}, nil
		}

		if !pkgerrors.IsVersionConflict(err) {
			return fail(ports.OutcomeError, attempt, asIOError("compare and set snapshot", err))
		}

		s.metrics.RecordConflict(kind)
		if attempt > policy.MaxRetries {
			s.logger.Warn("Mutation retries exhausted",
				zap.String("graph", graphName),
				zap.String("operation", kind),
				zap.Int("attempts", attempt),
			)
			return fail(ports.OutcomeConflict, attempt, pkgerrors.NewConflictError(graphName, attempt).WithCause(err))
		}

		s.logger.Debug("Version conflict, retrying",
			zap.String("graph", graphName),
			zap.String("operation", kind),
			zap.Uint64("read_version", snap.Version),
			zap.Int("attempt", attempt),
		)
		if err := sleep(ctx, policy.delay(attempt-1)); err != nil {
			return fail(ports.OutcomeError, attempt, err)
		}
	}
}

// afterCommit appends the history record and notifies the publisher.
// The snapshot is already committed, so neither step may fail the caller,
// and neither is abandoned when the caller goes away.
func (s *GraphService) afterCommit(ctx context.Context, record versioning.HistoryRecord) {
	ctx = context.WithoutCancel(ctx)

	if err := s.history.Append(ctx, record); err != nil {
		appErr := pkgerrors.NewHistoryAppendError(record.GraphName, record.Sequence, err)
		s.metrics.RecordHistoryFailure(record.GraphName)
		trace.SpanFromContext(ctx).RecordError(appErr)
		s.logger.Error("History append failed",
			zap.String("graph", record.GraphName),
			zap.Uint64("sequence", record.Sequence),
			zap.String("summary", record.Summary),
			zap.Error(err),
		)
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, record); err != nil {
		s.logger.Warn("Change notification failed",
			zap.String("graph", record.GraphName),
			zap.Uint64("sequence", record.Sequence),
			zap.Error(err),
		)
	}
}

func asIOError(operation string, err error) error {
	if pkgerrors.IsAppError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return pkgerrors.NewIOError(operation, err)
}

func (s *GraphService) resolveName(graphName string) (string, error) {
	if graphName == "" {
		graphName = s.defaultGraph
	}
	if !utils.IsValidGraphName(graphName) {
		return "", pkgerrors.NewValidationError(fmt.Sprintf("invalid graph name %q", graphName))
	}
	return graphName, nil
}

// ReadGraph returns the current document, creating it empty on first read.
// An empty name reads the default graph.
func (s *GraphService) ReadGraph(ctx context.Context, graphName string) (ports.Snapshot, error) {
	name, err := s.resolveName(graphName)
	if err != nil {
		return ports.Snapshot{}, err
	}

	ctx, span := s.tracer.Start(ctx, "GraphService.ReadGraph", trace.WithAttributes(attribute.String("graph", name)))
	defer span.End()

	snap, err := s.snapshots.Get(ctx, name)
	if err != nil {
		span.RecordError(err)
		return ports.Snapshot{}, asIOError("get snapshot", err)
	}
	return snap, nil
}

// EnsureDefaultGraph creates the default graph if it does not exist yet
func (s *GraphService) EnsureDefaultGraph(ctx context.Context) error {
	snap, err := s.ReadGraph(ctx, "")
	if err != nil {
		return err
	}
	s.logger.Info("Default graph ready",
		zap.String("graph", snap.Graph.Name()),
		zap.Uint64("version", snap.Version),
		zap.Int("nodes", snap.Graph.NodeCount()),
	)
	return nil
}

// CreateGraph records an explicit creation. Creating an existing graph is
// accepted and recorded.
func (s *GraphService) CreateGraph(ctx context.Context, graphName string) (*MutationResult, error) {
	return s.Mutate(ctx, commands.CreateGraphCommand{Graph: graphName})
}

// AddNode adds a node and returns it
func (s *GraphService) AddNode(ctx context.Context, graphName, id, label, nodeType string) (entities.Node, error) {
	res, err := s.Mutate(ctx, commands.AddNodeCommand{Graph: graphName, ID: id, Label: label, Type: nodeType})
	if err != nil {
		return entities.Node{}, err
	}
	return *res.Node, nil
}

// AddEdge adds an edge and returns it
func (s *GraphService) AddEdge(ctx context.Context, graphName, from, to, label string) (entities.Edge, error) {
	res, err := s.Mutate(ctx, commands.AddEdgeCommand{Graph: graphName, From: from, To: to, Label: label})
	if err != nil {
		return entities.Edge{}, err
	}
	return *res.Edge, nil
}

// SetNodeContent replaces a node's note
func (s *GraphService) SetNodeContent(ctx context.Context, graphName, nodeID, content string) (*MutationResult, error) {
	return s.Mutate(ctx, commands.SetNodeContentCommand{Graph: graphName, NodeID: nodeID, Content: content})
}

// RemoveNode removes a node and its edges; an absent node is a recorded no-op
func (s *GraphService) RemoveNode(ctx context.Context, graphName, nodeID string) (*MutationResult, error) {
	return s.Mutate(ctx, commands.RemoveNodeCommand{Graph: graphName, NodeID: nodeID})
}

// RemoveEdge removes all edges from -> to; none matching is a recorded no-op
func (s *GraphService) RemoveEdge(ctx context.Context, graphName, from, to string) (*MutationResult, error) {
	return s.Mutate(ctx, commands.RemoveEdgeCommand{Graph: graphName, From: from, To: to})
}

// ListGraphs returns the names of all stored graphs
func (s *GraphService) ListGraphs(ctx context.Context) ([]string, error) {
	names, err := s.snapshots.Names(ctx)
	if err != nil {
		return nil, asIOError("list graphs", err)
	}
	return names, nil
}

// History returns the history records of a graph in commit order
func (s *GraphService) History(ctx context.Context, graphName string) ([]versioning.HistoryRecord, error) {
	name, err := s.resolveName(graphName)
	if err != nil {
		return nil, err
	}
	records, err := s.history.List(ctx, name)
	if err != nil {
		return nil, asIOError("list history", err)
	}
	return records, nil
}

// Verify replays the history of a graph and compares the result with the
// current snapshot. Records newer than the snapshot read are ignored.
func (s *GraphService) Verify(ctx context.Context, graphName string) (*VerifyReport, error) {
	snap, err := s.ReadGraph(ctx, graphName)
	if err != nil {
		return nil, err
	}
	name := snap.Graph.Name()

	records, err := s.History(ctx, name)
	if err != nil {
		return nil, err
	}
	upTo := records[:0:0]
	for _, rec := range records {
		if rec.Sequence <= snap.Version {
			upTo = append(upTo, rec)
		}
	}

	replayed, err := versioning.Replay(name, upTo)
	if err != nil {
		return nil, pkgerrors.NewInternalError("history replay failed").WithCause(err)
	}

	gaps := replayed.Gaps
	for missing := replayed.LastSequence + 1; missing <= snap.Version; missing++ {
		gaps = append(gaps, missing)
	}

	report := &VerifyReport{
		GraphName:        name,
		SnapshotVersion:  snap.Version,
		SnapshotChecksum: snap.Graph.Checksum(),
		ReplayChecksum:   replayed.Graph.Checksum(),
		Records:          replayed.Applied,
		Gaps:             gaps,
		Divergent:        replayed.Divergent,
	}
	report.Match = report.SnapshotChecksum == report.ReplayChecksum && len(gaps) == 0 && len(replayed.Divergent) == 0
	return report, nil
}

type noopMetrics struct{}

func (noopMetrics) RecordMutation(string, string, int, time.Duration) {}
func (noopMetrics) RecordConflict(string)                             {}
func (noopMetrics) RecordHistoryFailure(string)                       {}
