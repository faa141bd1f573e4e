// ABOUTME: Location-transparent invocation of workers: shared Result type and routing policy.
// ABOUTME: Routing prefers a live local path, falls back to the remote URL, else refuses.

package invoke

import (
	"context"
	"errors"
	"os"

	"github.com/2389/fleet-coordinator/internal/registry"
)

// ErrNoRoute is returned when a worker has neither a usable local path nor a
// remote URL.
var ErrNoRoute = errors.New("no route to worker")

// ErrNoHandler indicates a local worker without a registered task handler.
// It is reported inside a Result, never as a crash.
var ErrNoHandler = errors.New("no task handler registered")

// Source labels for Result.Source.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Result is the outcome of invoking one worker. Invocation failures are
// captured here rather than propagated; only routing itself can fail hard.
type Result struct {
	OK     bool   `json:"ok"`
	Source string `json:"source,omitempty"`
	Status int    `json:"status,omitempty"` // HTTP status for remote calls
	Result string `json:"result,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Invoker invokes a worker with a task. Implementations never return an
// error for a failed invocation; they capture it in the Result.
type Invoker interface {
	Invoke(ctx context.Context, rec *registry.Record, task string) Result
}

// Router applies the routing policy in front of the two invokers: a worker
// whose local path exists on disk is invoked in-process, otherwise its remote
// URL is used, otherwise ErrNoRoute.
type Router struct {
	Local  *Local
	Remote *Remote
}

// Invoke routes and invokes. The only hard error is ErrNoRoute.
func (r *Router) Invoke(ctx context.Context, rec *registry.Record, task string) (Result, error) {
	if rec.Path != "" {
		if _, err := os.Stat(rec.Path); err == nil {
			return r.Local.Invoke(ctx, rec, task), nil
		}
	}
	if rec.URL != "" {
		return r.Remote.Invoke(ctx, rec, task), nil
	}
	return Result{}, ErrNoRoute
}
