package checkpoint

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"batchupload/internal/transfer"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetItem("dest", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.SaveItem(&ItemRecord{
		Destination: "dest",
		Name:        "a.txt",
		BatchID:     "b1",
		Size:        12,
		Status:      StatusFailed,
		Attempts:    3,
		LastError:   "boom",
	}))
	require.NoError(t, store.SaveItem(&ItemRecord{
		Destination: "dest",
		Name:        "a.txt",
		BatchID:     "b2",
		Size:        12,
		Status:      StatusCompleted,
		Attempts:    1,
	}))

	got, err = store.GetItem("dest", "a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b2", got.BatchID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, got.LastError)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSQLiteStore_ListsByDestination(t *testing.T) {
	store := newTestStore(t)

	save := func(dest, name string, status ItemStatus) {
		require.NoError(t, store.SaveItem(&ItemRecord{Destination: dest, Name: name, BatchID: "b", Status: status}))
	}
	save("one", "a", StatusCompleted)
	save("one", "b", StatusFailed)
	save("one", "c", StatusCancelled)
	save("two", "a", StatusFailed)
	save("two", "d", StatusCompleted)

	names, err := store.SucceededNames("one")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}}, names)

	failed, err := store.ListFailedItems("one")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].Name)

	names, err = store.SucceededNames("three")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSQLiteStore_ConcurrentWrites(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.SaveItem(&ItemRecord{
				Destination: "dest",
				Name:        fmt.Sprintf("item-%02d", i),
				BatchID:     "b",
				Status:      StatusCompleted,
			}))
		}(i)
	}
	wg.Wait()

	names, err := store.SucceededNames("dest")
	require.NoError(t, err)
	assert.Len(t, names, 20)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveItem(&ItemRecord{Destination: "d", Name: "x", BatchID: "b", Status: StatusCompleted}))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.GetItem("d", "x")
	assert.ErrorIs(t, err, errStoreClosed)

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	names, err := store.SucceededNames("d")
	require.NoError(t, err)
	assert.Contains(t, names, "x")
}

func TestJournal_RecordsOutcomes(t *testing.T) {
	store := newTestStore(t)
	j := NewJournal(store, "dest", zap.NewNop())

	j.OnItemStart("b1", "a")
	rec, err := store.GetItem("dest", "a")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, rec.Status)

	j.OnRetry("b1", transfer.RetryEvent{Name: "a", Attempt: 1, Err: errors.New("flaky")})
	rec, err = store.GetItem("dest", "a")
	require.NoError(t, err)
	assert.Equal(t, "flaky", rec.LastError)

	j.OnOutcome("b1", transfer.Outcome{Name: "a", Status: transfer.StatusSuccess, Attempts: 2, Size: 5})
	j.OnOutcome("b1", transfer.Outcome{Name: "b", Status: transfer.StatusFailed, Attempts: 3, Err: errors.New("boom")})
	j.OnOutcome("b1", transfer.Outcome{Name: "c", Status: transfer.StatusCancelled, Err: transfer.ErrCancelled})

	names, err := j.SucceededNames()
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}}, names)

	rec, err = store.GetItem("dest", "b")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.LastError)
	assert.Equal(t, 3, rec.Attempts)

	rec, err = store.GetItem("dest", "c")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)
}

func TestJournal_WriteFailureIsLogged(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	core, logs := observer.New(zapcore.WarnLevel)
	j := NewJournal(store, "dest", zap.New(core))

	j.OnOutcome("b1", transfer.Outcome{Name: "a", Status: transfer.StatusSuccess})

	entries := logs.FilterMessage("Failed to journal item").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ContextMap()["name"])
}
