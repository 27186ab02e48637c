package eventlog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		assert.NotNil(t, store)

		var count int
		err = store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='events'").Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		require.NoError(t, store.Close())
	})

	t.Run("invalid path", func(t *testing.T) {
		store, err := NewSQLiteStore("/invalid/path/that/does/not/exist/test.db")
		assert.Error(t, err)
		assert.Nil(t, store)
	})
}

func TestSQLiteStore_WALMode(t *testing.T) {
	store := newTestStore(t)
	var mode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLiteStore_RecordAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)

	ev1, err := store.Record(ctx, Event{Level: LevelWarning, Code: CodeGeneralWarning, Message: "first", CreatedAt: ts})
	require.NoError(t, err)
	assert.Positive(t, ev1.ID)

	ev2, err := store.Record(ctx, Event{Level: LevelError, Code: CodeStartupFailure, Message: "second",
		Output: "boom\n", CreatedAt: ts.Add(time.Second)})
	require.NoError(t, err)

	ev3, err := store.Record(ctx, Event{Code: CodeWorkerStarted, Message: "third"})
	require.NoError(t, err)
	assert.Equal(t, LevelInfo, ev3.Level, "default level")
	assert.False(t, ev3.CreatedAt.IsZero())

	events, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, ev3.ID, events[0].ID, "newest first")
	assert.Equal(t, ev2.ID, events[1].ID)
	assert.Equal(t, LevelError, events[1].Level)
	assert.Equal(t, CodeStartupFailure, events[1].Code)
	assert.Equal(t, "second", events[1].Message)
	assert.Equal(t, "boom\n", events[1].Output)
	assert.True(t, ts.Add(time.Second).Equal(events[1].CreatedAt))
	assert.Equal(t, ev1.ID, events[2].ID)

	events, err = store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ev3.ID, events[0].ID)
}

func TestSQLiteStore_EmptyDatabase(t *testing.T) {
	store := newTestStore(t)
	events, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteStore_OutputTail(t *testing.T) {
	store := newTestStore(t)
	out := strings.Repeat("a", 5000) + "end"
	ev, err := store.Record(context.Background(), Event{Code: CodeWorkerExit, Output: out})
	require.NoError(t, err)
	assert.Len(t, ev.Output, MaxOutputSize)
	assert.True(t, strings.HasSuffix(ev.Output, "end"))
}

func TestSQLiteStore_Cleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Record(ctx, Event{Code: CodeWorkerExit, Message: "old", CreatedAt: time.Now().Add(-48 * time.Hour)})
	require.NoError(t, err)
	_, err = store.Record(ctx, Event{Code: CodeWorkerExit, Message: "new"})
	require.NoError(t, err)

	removed, err := store.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	events, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].Message)
}

func TestSQLiteStore_Closed(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Record(context.Background(), Event{Code: CodeWorkerExit})
	assert.Error(t, err)
	_, err = store.List(context.Background(), 1)
	assert.Error(t, err)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("abc", 10))
	assert.Equal(t, "bc", tail("abc", 2))
	assert.Equal(t, "й", tail("xй", 3), "no split rune at the start")
	assert.Equal(t, "", tail("xй", 1))
}
