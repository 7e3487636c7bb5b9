package history

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/print-station/internal/queue"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	printedAt := base.Add(time.Second)
	errorAt := base.Add(2 * time.Second)

	require.NoError(t, s.Record(queue.Request{
		ID:        "a",
		NoteID:    "42",
		Payload:   map[string]interface{}{"total": 20.0},
		Status:    queue.StatusPrinted,
		CreatedAt: base,
		PrintedAt: &printedAt,
	}))
	require.NoError(t, s.Record(queue.Request{
		ID:           "b",
		NoteID:       "43",
		Status:       queue.StatusError,
		CreatedAt:    base,
		ErrorAt:      &errorAt,
		ErrorMessage: "paper out",
	}))

	recent, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, "b", recent[0].ID)
	assert.Equal(t, queue.StatusError, recent[0].Status)
	assert.Equal(t, "paper out", recent[0].ErrorMessage)
	require.NotNil(t, recent[0].ErrorAt)
	assert.True(t, errorAt.Equal(*recent[0].ErrorAt))

	assert.Equal(t, "a", recent[1].ID)
	assert.Equal(t, 20.0, recent[1].Payload["total"])
	assert.True(t, base.Equal(recent[1].CreatedAt))
}

func TestRecordRejectsPending(t *testing.T) {
	s := openTestStore(t)
	err := s.Record(queue.Request{ID: "a", Status: queue.StatusPending})
	assert.Error(t, err)
}

func TestStoreAsQueueRecorder(t *testing.T) {
	s := openTestStore(t)
	q := queue.New(queue.WithRecorder(s), queue.WithLogger(log.New(io.Discard, "", 0)))
	defer q.Close()

	first := q.Submit(map[string]interface{}{"total": 1.0}, "42")
	second := q.Submit(nil, "42")
	require.NoError(t, q.MarkPrinted(first.ID))
	require.NoError(t, q.MarkError(second.ID, "offline"))

	got, err := s.ByNote(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, queue.StatusPrinted, got[0].Status)
	assert.Equal(t, second.ID, got[1].ID)
	assert.Equal(t, "offline", got[1].ErrorMessage)
}
