package seed

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fleet-coordinator/internal/contextdoc"
	"github.com/2389/fleet-coordinator/internal/dispatch"
	"github.com/2389/fleet-coordinator/internal/history"
	"github.com/2389/fleet-coordinator/internal/invoke"
	"github.com/2389/fleet-coordinator/internal/registry"
)

func setupOrchestrator(t *testing.T) (*dispatch.Orchestrator, *registry.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dataDir := t.TempDir()

	reg := registry.NewStore(filepath.Join(dataDir, "workers.json"), logger)
	handlers := invoke.NewHandlerRegistry()
	orch := dispatch.New(dispatch.Config{
		Registry: reg,
		Contexts: contextdoc.NewStore(filepath.Join(dataDir, "context"), logger),
		History:  history.NewLog(logger),
		Router: &invoke.Router{
			Local:  invoke.NewLocal(handlers, 0, logger),
			Remote: invoke.NewRemote(0, logger),
		},
		Handlers:   handlers,
		Logger:     logger,
		WorkersDir: filepath.Join(dataDir, "workers"),
	})
	return orch, reg
}

func TestRun_SeedsConnectedTeam(t *testing.T) {
	orch, store := setupOrchestrator(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, Run(context.Background(), orch, logger))

	reg, err := store.Load()
	require.NoError(t, err)
	workers := reg.NamespaceWorkers(Owner, Namespace)
	require.Len(t, workers, 3)

	strategist, err := reg.Worker(Owner, "strategist")
	require.NoError(t, err)
	assert.Contains(t, strategist.Connections, "copywriter")

	// Seeded workers are locally dispatchable.
	res, err := orch.DispatchOne(context.Background(), Owner, "strategist", "plan the launch")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Contains(t, res.Result, "plan the launch")
}

func TestRun_Idempotent(t *testing.T) {
	orch, store := setupOrchestrator(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, Run(context.Background(), orch, logger))
	require.NoError(t, Run(context.Background(), orch, logger))

	reg, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, reg.NamespaceWorkers(Owner, Namespace), 3)
}
