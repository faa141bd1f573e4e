// ABOUTME: Builds the enriched task a worker receives during namespace dispatch.
// ABOUTME: Combines the worker's role manifest, the merged team context, and the team-bias directive.

package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/2389/fleet-coordinator/internal/registry"
)

// Mode selects the framing of a broadcast dispatch.
type Mode string

// Broadcast modes.
const (
	ModeTask       Mode = "task"
	ModeTeamThink  Mode = "team_think"
	ModeBrainstorm Mode = "brainstorm"
)

// ParseMode maps a request string to a Mode, defaulting to ModeTask.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeTeamThink, ModeBrainstorm:
		return Mode(s)
	default:
		return ModeTask
	}
}

func (m Mode) label() string {
	switch m {
	case ModeTeamThink:
		return "TeamThink"
	case ModeBrainstorm:
		return "Brainstorm"
	default:
		return "GroupTask"
	}
}

// contextKeys returns the per-mode keys written into the worker's context
// document after a broadcast.
func (m Mode) contextKeys(task, result string) map[string]any {
	switch m {
	case ModeTeamThink:
		return map[string]any{"teamthink_topic": task, "teamthink_result": result}
	case ModeBrainstorm:
		return map[string]any{"brainstorm_topic": task, "brainstorm_result": result}
	default:
		return map[string]any{"last_group_task": task, "last_group_result": result}
	}
}

const manifestName = "worker.toml"

// manifest is the optional per-worker file describing its role. Read-only
// inspection here; the coordinator never generates worker logic.
type manifest struct {
	Name string `toml:"name"`
	Role string `toml:"role"`
}

// roleText reads the worker's role from its manifest, if the worker has a
// local directory with one. Missing or broken manifests mean no role text.
func roleText(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(path, manifestName))
	if err != nil {
		return ""
	}
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return ""
	}
	return strings.TrimSpace(m.Role)
}

// writeManifest stores a worker's role manifest in its data directory.
func writeManifest(dir, name, role string) error {
	data, err := toml.Marshal(manifest{Name: name, Role: role})
	if err != nil {
		return fmt.Errorf("encoding worker manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("writing worker manifest: %w", err)
	}
	return nil
}

// buildEnrichedTask assembles the text a namespace member is invoked with:
// mode framing, the member's own role, the merged team context, and a
// directive weighting role against team context by the member's team bias.
func buildEnrichedTask(mode Mode, rec *registry.Record, task, teamContext string) string {
	var b strings.Builder

	switch mode {
	case ModeTeamThink:
		fmt.Fprintf(&b, "Topic for collective reflection:\n%s\n\n", task)
		fmt.Fprintf(&b, "You are %s. Think out loud and offer your own contribution.\n\n", rec.Slug)
	case ModeBrainstorm:
		fmt.Fprintf(&b, "Brainstorm topic:\n%s\n\n", task)
		fmt.Fprintf(&b, "You are %s. Generate ideas drawing on the team's knowledge and your specialty.\n\n", rec.Slug)
	default:
		fmt.Fprintf(&b, "Task:\n%s\n\n", task)
	}

	if role := roleText(rec.Path); role != "" {
		fmt.Fprintf(&b, "Your role:\n%s\n\n", role)
	}

	fmt.Fprintf(&b, "Team context:\n%s\n\n", teamContext)
	fmt.Fprintf(&b,
		"Answer with your role and the shared team context in mind, weighting the team context at %.2f (0 = rely only on your role, 1 = rely only on the team context).",
		rec.TeamBias,
	)
	return b.String()
}
