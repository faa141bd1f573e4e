// ABOUTME: Seeds a demo namespace with a small connected team of local workers.
// ABOUTME: Idempotent; used to exercise dispatch without any external workers.

package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/fleet-coordinator/internal/dispatch"
	"github.com/2389/fleet-coordinator/internal/invoke"
	"github.com/2389/fleet-coordinator/internal/registry"
)

// Owner is the owner id the demo team is registered under.
const Owner = "demo"

// Namespace is the demo team's namespace.
const Namespace = "studio"

type member struct {
	name        string
	role        string
	teamBias    float64
	connections []string
}

var team = []member{
	{
		name:        "Strategist",
		role:        "You set direction. Turn every task into a short plan with one clear priority.",
		teamBias:    0.7,
		connections: []string{"copywriter", "designer"},
	},
	{
		name:        "Copywriter",
		role:        "You write the words. Answer every task with tight, concrete copy.",
		teamBias:    0.4,
		connections: []string{"strategist"},
	},
	{
		name:        "Designer",
		role:        "You think in layouts and contrast. Describe what the result should look like.",
		teamBias:    0.3,
		connections: []string{"strategist"},
	},
}

// Run registers the demo team if it is not already present. Each member gets
// an in-process handler that answers in its role's voice, so single and
// namespace dispatch work out of the box.
func Run(ctx context.Context, orch *dispatch.Orchestrator, logger *slog.Logger) error {
	for _, m := range team {
		_, err := orch.RegisterWorker(ctx, dispatch.RegisterWorkerParams{
			Owner:       Owner,
			Name:        m.name,
			Namespace:   Namespace,
			Role:        m.role,
			TeamBias:    m.teamBias,
			Connections: m.connections,
			Handler:     demoHandler(m.name),
		})
		if err != nil {
			if errors.Is(err, registry.ErrDuplicateSlug) {
				logger.Debug("demo worker already seeded", "worker", m.name)
				continue
			}
			return fmt.Errorf("seeding %s: %w", m.name, err)
		}
		logger.Info("seeded demo worker", "worker", m.name, "namespace", Namespace)
	}
	return nil
}

func demoHandler(name string) invoke.TaskHandler {
	return invoke.TaskHandlerFunc(func(ctx context.Context, task string) (string, error) {
		// Echo the head of the task so write-back and history have
		// something recognizable to record.
		head := strings.TrimSpace(task)
		if i := strings.Index(head, "\n\n"); i > 0 {
			head = head[:i]
		}
		return fmt.Sprintf("[%s] taking this on: %s", name, head), nil
	})
}
