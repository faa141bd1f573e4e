package contextdoc

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(t.TempDir(), logger)
}

func TestStore_Load_Missing(t *testing.T) {
	store := setupTestStore(t)

	doc := store.Load("nonexistent")
	require.NotNil(t, doc)
	assert.Empty(t, doc)
}

func TestStore_Load_Corrupt(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "w1.json"), []byte("???"), 0o644))

	doc := store.Load("w1")
	assert.Empty(t, doc)
}

func TestStore_SaveStampsUpdated(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.Save("w1", map[string]any{"last_task": "ping"}))

	doc := store.Load("w1")
	assert.Equal(t, "ping", doc["last_task"])
	assert.NotEmpty(t, doc[UpdatedKey])
}

func TestStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Save("w1", map[string]any{"k": "v"}))

	require.NoError(t, store.Delete("w1"))
	assert.Empty(t, store.Load("w1"))

	// Deleting again is not an error.
	assert.NoError(t, store.Delete("w1"))
}

func TestMerge_FirstSeenWins(t *testing.T) {
	a := map[string]any{"x": 1}
	b := map[string]any{"x": 2, "y": 3}

	merged := Merge(a, b)
	assert.Equal(t, map[string]any{"x": 1, "y": 3}, merged)

	// Order matters: B first flips the winner for x.
	merged = Merge(b, a)
	assert.Equal(t, map[string]any{"x": 2, "y": 3}, merged)
}

func TestMerge_Empty(t *testing.T) {
	assert.Empty(t, Merge())
	assert.Empty(t, Merge(map[string]any{}, nil))
}
