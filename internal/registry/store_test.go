package registry

import (
	"encoding/json"
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

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(filepath.Join(t.TempDir(), "workers.json"), logger)
}

func TestStore_Load_MissingFile(t *testing.T) {
	store := setupTestStore(t)

	reg, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, reg)

	// The backing file was initialized to a valid empty collection.
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestStore_Load_CorruptFile(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))

	reg, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, reg)

	// Self-healed: the file is reset to an empty, parsable collection.
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var parsed Registry
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Empty(t, parsed)
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := setupTestStore(t)

	reg, err := Registry{}.AddWorker(&Record{Name: "Strategist", Owner: "alice", Namespace: "demo"})
	require.NoError(t, err)
	require.NoError(t, store.Save(reg))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	rec, err := loaded.Worker("alice", "strategist")
	require.NoError(t, err)
	assert.Equal(t, "demo", rec.Namespace)
}

func TestStore_ConcurrentSaves_AlwaysParsable(t *testing.T) {
	store := setupTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg := Registry{{Name: fmt.Sprintf("w%d", i), Slug: fmt.Sprintf("w%d", i), Owner: "alice", Namespace: "root"}}
			assert.NoError(t, store.Save(reg))
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var parsed Registry
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Len(t, parsed, 1)
}

func TestStore_Update_ReadModifyWrite(t *testing.T) {
	store := setupTestStore(t)

	// N concurrent updates each append one worker; holding the lock across
	// the full cycle means none of them is lost.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(func(reg Registry) (Registry, error) {
				return reg.AddWorker(&Record{Name: fmt.Sprintf("worker %d", i), Owner: "alice"})
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	reg, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, reg.Workers("alice"), 10)
}

func TestStore_Update_ErrorAbandonsWrite(t *testing.T) {
	store := setupTestStore(t)

	reg, err := Registry{}.AddWorker(&Record{Name: "keep", Owner: "alice"})
	require.NoError(t, err)
	require.NoError(t, store.Save(reg))

	_, err = store.Update(func(reg Registry) (Registry, error) {
		return nil, fmt.Errorf("boom")
	})
	require.Error(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, loaded.Workers("alice"), 1)
}
