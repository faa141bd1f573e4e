package history

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLog(t *testing.T) *Log {
	t.Helper()
	return NewLog(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLog_AppendAndTail(t *testing.T) {
	log := setupTestLog(t)
	dir := t.TempDir()

	for i := 0; i < 5; i++ {
		err := log.Append(dir, Record{Task: fmt.Sprintf("task %d", i), Result: "ok"})
		require.NoError(t, err)
	}

	records := log.Tail(dir, 3)
	require.Len(t, records, 3)
	assert.Equal(t, "task 2", records[0].Task)
	assert.Equal(t, "task 4", records[2].Task)
	for _, r := range records {
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.Date.IsZero())
	}
}

func TestLog_Tail_Missing(t *testing.T) {
	log := setupTestLog(t)
	assert.Empty(t, log.Tail(filepath.Join(t.TempDir(), "nope"), 10))
}

func TestLog_Append_CorruptFileSelfHeals(t *testing.T) {
	log := setupTestLog(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("garbage"), 0o644))

	require.NoError(t, log.Append(dir, Record{Task: "fresh", Result: "ok"}))

	records := log.Tail(dir, 0)
	require.Len(t, records, 1)
	assert.Equal(t, "fresh", records[0].Task)
}

func TestLog_ConcurrentAppends_SameWorker(t *testing.T) {
	log := setupTestLog(t)
	dir := t.TempDir()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, log.Append(dir, Record{Task: fmt.Sprintf("t%d", i)}))
		}(i)
	}
	wg.Wait()

	// Per-path serialization means no append is lost.
	assert.Len(t, log.Tail(dir, 0), 10)
}
