package sessionstore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudferry/cloudferry/internal/cloudfile"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := New(":memory:", logger)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestPutListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{
		SessionID: "s1",
		Provider:  cloudfile.OneDrive,
		FileID:    "f1",
		FileName:  "a.txt",
		CreatedAt: time.Unix(1000, 0),
	}))
	require.NoError(t, s.Put(ctx, Entry{
		SessionID: "s2",
		Provider:  cloudfile.GoogleDrive,
		FileID:    "f2",
		FileName:  "b.txt",
		CreatedAt: time.Unix(2000, 0),
	}))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Oldest first.
	assert.Equal(t, "s1", entries[0].SessionID)
	assert.Equal(t, cloudfile.OneDrive, entries[0].Provider)
	assert.Equal(t, "f1", entries[0].FileID)
	assert.Equal(t, time.Unix(1000, 0), entries[0].CreatedAt)

	require.NoError(t, s.Delete(ctx, "s1"))

	entries, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s2", entries[0].SessionID)
}

func TestPut_Replace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{SessionID: "s1", Provider: cloudfile.OneDrive, FileID: "f1"}))
	require.NoError(t, s.Put(ctx, Entry{SessionID: "s1", Provider: cloudfile.OneDrive, FileID: "f1-updated"}))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f1-updated", entries[0].FileID)
}

func TestDelete_Absent(t *testing.T) {
	s := newTestStore(t)

	// Deleting a session that was never journaled is not an error.
	require.NoError(t, s.Delete(context.Background(), "ghost"))
}

func TestList_Empty(t *testing.T) {
	s := newTestStore(t)

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
