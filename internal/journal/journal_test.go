package journal

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func newTestJournal(t *testing.T) *Journal {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))

	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"), logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, j.Close())
	})

	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	base := time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, Event{OccurredAt: base, Op: "auth.signin", OK: true, Message: "signed in"}))
	require.NoError(t, j.Record(ctx, Event{
		OccurredAt: base.Add(time.Minute), Op: "drive.upload", Kind: "network_failure", Message: "offline",
	}))
	require.NoError(t, j.Record(ctx, Event{OccurredAt: base.Add(2 * time.Minute), Op: "update.check", OK: true}))

	events, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "update.check", events[0].Op)
	assert.Equal(t, "ok", events[0].Kind)
	assert.True(t, events[0].OK)

	assert.Equal(t, "drive.upload", events[1].Op)
	assert.Equal(t, "network_failure", events[1].Kind)
	assert.False(t, events[1].OK)
	assert.Equal(t, "offline", events[1].Message)
	assert.Equal(t, base.Add(time.Minute), events[1].OccurredAt)
	assert.NotEmpty(t, events[1].ID)
}

func TestRecent_DefaultLimit(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for range DefaultRecentLimit + 5 {
		require.NoError(t, j.Record(ctx, Event{Op: "backup.run", OK: true}))
	}

	events, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, DefaultRecentLimit)
}

func TestPruneBefore(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, Event{OccurredAt: now.Add(-100 * 24 * time.Hour), Op: "old"}))
	require.NoError(t, j.Record(ctx, Event{OccurredAt: now, Op: "new"}))

	n, err := j.PruneBefore(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].Op)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, Event{Op: "first"}))
	require.NoError(t, j.Close())

	j, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer j.Close()

	events, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "first", events[0].Op)
}
