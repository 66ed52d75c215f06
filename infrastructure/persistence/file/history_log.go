package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"go.uber.org/zap"
)

// HistoryLog appends records to one JSON-lines file per graph. Appends for
// the same graph are serialized; the file is fsynced before Append returns.
type HistoryLog struct {
	dir    string
	locks  keyedMutex
	logger *zap.Logger
}

// NewHistoryLog creates the log rooted at dataDir
func NewHistoryLog(dataDir string, logger *zap.Logger) (*HistoryLog, error) {
	dir := filepath.Join(dataDir, historyDir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryLog{dir: dir, logger: logger}, nil
}

func (l *HistoryLog) path(graphName string) string {
	return filepath.Join(l.dir, graphName+historyExt)
}

// Append writes the record as one line
func (l *HistoryLog) Append(ctx context.Context, record versioning.HistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(record)
	if err != nil {
		return pkgerrors.NewIOError("encode history record", err)
	}
	line = append(line, '\n')

	unlock := l.locks.lock(record.GraphName)
	defer unlock()

	existing, terminated, err := l.read(record.GraphName)
	if err != nil {
		return err
	}
	if !terminated {
		line = append([]byte{'\n'}, line...)
	}
	for _, r := range existing {
		if r.Sequence == record.Sequence {
			return pkgerrors.NewIOError("append history", ports.DuplicateRecordError(record.GraphName, record.Sequence))
		}
	}

	f, err := os.OpenFile(l.path(record.GraphName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return pkgerrors.NewIOError("open history", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return pkgerrors.NewIOError("write history", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return pkgerrors.NewIOError("sync history", err)
	}
	if err := f.Close(); err != nil {
		return pkgerrors.NewIOError("close history", err)
	}
	return nil
}

// List reads the graph's records ordered by sequence
func (l *HistoryLog) List(ctx context.Context, graphName string) ([]versioning.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, _, err := l.read(graphName)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Sequence < records[j].Sequence })
	return records, nil
}

// read parses the log file. A line that does not decode, such as one torn
// by a crash during an append, is skipped with a warning and shows up as a
// gap in the sequence.
func (l *HistoryLog) read(graphName string) ([]versioning.HistoryRecord, bool, error) {
	data, err := os.ReadFile(l.path(graphName))
	if errors.Is(err, fs.ErrNotExist) {
		return []versioning.HistoryRecord{}, true, nil
	}
	if err != nil {
		return nil, false, pkgerrors.NewIOError("read history", err)
	}

	records := []versioning.HistoryRecord{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec versioning.HistoryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			l.logger.Warn("Skipping unreadable history line",
				zap.String("graph", graphName),
				zap.Int("line", lineNo),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, pkgerrors.NewIOError("scan history", err)
	}
	return records, len(data) == 0 || data[len(data)-1] == '\n', nil
}
