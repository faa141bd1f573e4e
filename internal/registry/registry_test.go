package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Strategist", "strategist"},
		{"spaces and symbols", "  Lead Copy/Writer!  ", "lead_copy_writer_"},
		{"keeps dashes and underscores", "team-lead_2", "team-lead_2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestRegistry_AddWorker(t *testing.T) {
	reg := Registry{}

	reg, err := reg.AddWorker(&Record{Name: "Strategist", Owner: "alice", Namespace: "demo"})
	require.NoError(t, err)

	// Worker plus the auto-created namespace marker.
	require.Len(t, reg, 2)
	assert.True(t, reg[0].IsNamespace)
	assert.Equal(t, "demo", reg[0].Namespace)

	rec, err := reg.Worker("alice", "strategist")
	require.NoError(t, err)
	assert.Equal(t, "Strategist", rec.Name)
	assert.Equal(t, StatusCreated, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestRegistry_AddWorker_DuplicateSlug(t *testing.T) {
	reg := Registry{}
	reg, err := reg.AddWorker(&Record{Name: "Strategist", Owner: "alice"})
	require.NoError(t, err)

	_, err = reg.AddWorker(&Record{Name: "strategist", Owner: "alice"})
	assert.ErrorIs(t, err, ErrDuplicateSlug)

	// Same slug under another owner is fine.
	_, err = reg.AddWorker(&Record{Name: "Strategist", Owner: "bob"})
	assert.NoError(t, err)
}

func TestRegistry_Worker_OwnerMismatch(t *testing.T) {
	reg := Registry{}
	reg, err := reg.AddWorker(&Record{Name: "Strategist", Owner: "alice"})
	require.NoError(t, err)

	_, err = reg.Worker("bob", "strategist")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = reg.Worker("bob", "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_NamespaceWorkers_Order(t *testing.T) {
	reg := Registry{}
	var err error
	for _, name := range []string{"alpha", "beta", "gamma"} {
		reg, err = reg.AddWorker(&Record{Name: name, Owner: "alice", Namespace: "demo"})
		require.NoError(t, err)
	}
	reg, err = reg.AddWorker(&Record{Name: "other", Owner: "alice", Namespace: "ops"})
	require.NoError(t, err)

	members := reg.NamespaceWorkers("alice", "demo")
	require.Len(t, members, 3)

	// Registry order is insertion order; context merges depend on it.
	var slugs []string
	for _, m := range members {
		slugs = append(slugs, m.Slug)
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, slugs)
}

func TestRegistry_RemoveNamespace(t *testing.T) {
	reg := Registry{}
	reg, err := reg.AddWorker(&Record{Name: "alpha", Owner: "alice", Namespace: "demo"})
	require.NoError(t, err)

	_, err = reg.RemoveNamespace("alice", "demo")
	assert.ErrorIs(t, err, ErrNamespaceNotEmpty)

	reg, _, err = reg.RemoveWorker("alice", "alpha")
	require.NoError(t, err)

	reg, err = reg.RemoveNamespace("alice", "demo")
	require.NoError(t, err)
	assert.False(t, reg.HasNamespace("alice", "demo"))

	_, err = reg.RemoveNamespace("alice", "demo")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_EmptyNamespaceStaysVisible(t *testing.T) {
	reg := Registry{}.AddNamespace("alice", "staging")

	assert.Equal(t, []string{"staging"}, reg.Namespaces("alice"))
	assert.Empty(t, reg.NamespaceWorkers("alice", "staging"))

	// Idempotent.
	reg = reg.AddNamespace("alice", "staging")
	assert.Len(t, reg, 1)
}
