package decorators

import (
	"context"
	"time"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/core/aggregates"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"go.uber.org/zap"
)

// LoggingConfig controls what the logging decorators write
type LoggingConfig struct {
	SlowThreshold time.Duration // calls slower than this log at Warn
}

// DefaultLoggingConfig returns the defaults
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{SlowThreshold: 500 * time.Millisecond}
}

type opLogger struct {
	logger *zap.Logger
	config LoggingConfig
}

func (l opLogger) done(op string, start time.Time, err error, fields ...zap.Field) {
	elapsed := time.Since(start)
	fields = append(fields, zap.String("operation", op), zap.Duration("duration", elapsed))

	switch {
	case err != nil && pkgerrors.IsVersionConflict(err):
		// expected under contention
		l.logger.Debug("Store call lost a version race", append(fields, zap.Error(err))...)
	case err != nil:
		l.logger.Warn("Store call failed", append(fields, zap.Error(err))...)
	case l.config.SlowThreshold > 0 && elapsed > l.config.SlowThreshold:
		l.logger.Warn("Slow store call", fields...)
	default:
		l.logger.Debug("Store call completed", fields...)
	}
}

// LoggingSnapshotStore logs every SnapshotStore call with its duration
type LoggingSnapshotStore struct {
	inner ports.SnapshotStore
	log   opLogger
}

// NewLoggingSnapshotStore wraps inner
func NewLoggingSnapshotStore(inner ports.SnapshotStore, logger *zap.Logger, config LoggingConfig) *LoggingSnapshotStore {
	return &LoggingSnapshotStore{inner: inner, log: opLogger{logger: logger.Named("snapshot_store"), config: config}}
}

func (s *LoggingSnapshotStore) Get(ctx context.Context, graphName string) (ports.Snapshot, error) {
	start := time.Now()
	snap, err := s.inner.Get(ctx, graphName)
	s.log.done("get", start, err, zap.String("graph", graphName), zap.Uint64("version", snap.Version))
	return snap, err
}

func (s *LoggingSnapshotStore) CompareAndSet(ctx context.Context, graphName string, expected uint64, next *aggregates.Graph) (uint64, error) {
	start := time.Now()
	version, err := s.inner.CompareAndSet(ctx, graphName, expected, next)
	s.log.done("compare_and_set", start, err,
		zap.String("graph", graphName),
		zap.Uint64("expected", expected),
		zap.Int("nodes", next.NodeCount()),
		zap.Int("edges", next.EdgeCount()),
	)
	return version, err
}

func (s *LoggingSnapshotStore) Names(ctx context.Context) ([]string, error) {
	start := time.Now()
	names, err := s.inner.Names(ctx)
	s.log.done("names", start, err, zap.Int("count", len(names)))
	return names, err
}

// LoggingHistoryLog logs every HistoryLog call with its duration
type LoggingHistoryLog struct {
	inner ports.HistoryLog
	log   opLogger
}

// NewLoggingHistoryLog wraps inner
func NewLoggingHistoryLog(inner ports.HistoryLog, logger *zap.Logger, config LoggingConfig) *LoggingHistoryLog {
	return &LoggingHistoryLog{inner: inner, log: opLogger{logger: logger.Named("history_log"), config: config}}
}

func (l *LoggingHistoryLog) Append(ctx context.Context, record versioning.HistoryRecord) error {
	start := time.Now()
	err := l.inner.Append(ctx, record)
	l.log.done("append", start, err,
		zap.String("graph", record.GraphName),
		zap.Uint64("sequence", record.Sequence),
		zap.String("kind", string(record.Operation.Kind)),
	)
	return err
}

func (l *LoggingHistoryLog) List(ctx context.Context, graphName string) ([]versioning.HistoryRecord, error) {
	start := time.Now()
	records, err := l.inner.List(ctx, graphName)
	l.log.done("list", start, err, zap.String("graph", graphName), zap.Int("count", len(records)))
	return records, err
}
