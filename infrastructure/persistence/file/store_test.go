package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/infrastructure/persistence/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSnapshotStore(t *testing.T) {
	storetest.RunSnapshotStoreTests(t, func(t *testing.T) ports.SnapshotStore {
		s, err := NewSnapshotStore(t.TempDir(), zap.NewNop())
		require.NoError(t, err)
		return s
	})
}

func TestHistoryLog(t *testing.T) {
	storetest.RunHistoryLogTests(t, func(t *testing.T) ports.HistoryLog {
		l, err := NewHistoryLog(t.TempDir(), zap.NewNop())
		require.NoError(t, err)
		return l
	})
}

func TestSnapshotStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewSnapshotStore(dir, nil)
	require.NoError(t, err)
	doc := storetest.SampleGraph(t, "g1")
	_, err = first.CompareAndSet(ctx, "g1", 0, doc)
	require.NoError(t, err)

	second, err := NewSnapshotStore(dir, nil)
	require.NoError(t, err)
	snap, err := second.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version)
	assert.True(t, doc.Equal(snap.Graph))

	raw, err := os.ReadFile(filepath.Join(dir, graphsDir, "g1"+graphExt))
	require.NoError(t, err)
	var sf struct {
		Version uint64          `json:"version"`
		Graph   json.RawMessage `json:"graph"`
	}
	require.NoError(t, json.Unmarshal(raw, &sf))
	assert.Equal(t, uint64(1), sf.Version)
	assert.Contains(t, string(sf.Graph), `"name":"g1"`)
}

func TestSnapshotStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSnapshotStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, graphsDir, "bad"+graphExt), []byte("{not json"), 0o644))

	_, err = store.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode snapshot")
}

func TestSnapshotStore_NamesSkipsStrayFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewSnapshotStore(dir, nil)
	require.NoError(t, err)

	_, err = store.Get(ctx, "kept")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, graphsDir, ".kept.json123"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, graphsDir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, graphsDir, "sub.json"), 0o755))

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, names)
}

func TestHistoryLog_TornLine(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	core, logs := observer.New(zapcore.WarnLevel)
	log, err := NewHistoryLog(dir, zap.New(core))
	require.NoError(t, err)

	require.NoError(t, log.Append(ctx, storetest.Record("g1", 1)))

	// simulate a crash halfway through the second append
	path := filepath.Join(dir, historyDir, "g1"+historyExt)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"rec-g1-2","sequence":2,"gra`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := log.List(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].Sequence)
	assert.Equal(t, 1, logs.FilterMessage("Skipping unreadable history line").Len())

	// the next append starts on a fresh line
	require.NoError(t, log.Append(ctx, storetest.Record("g1", 3)))
	records, err = log.List(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(1), records[0].Sequence)
	assert.Equal(t, uint64(3), records[1].Sequence)
}

func TestHistoryLog_CancelledContext(t *testing.T) {
	log, err := NewHistoryLog(t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, log.Append(ctx, storetest.Record("g1", 1)), context.Canceled)
	_, err = log.List(ctx, "g1")
	assert.ErrorIs(t, err, context.Canceled)
}
