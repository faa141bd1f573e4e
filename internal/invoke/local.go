// ABOUTME: In-process invocation of local workers through registered TaskHandlers.
// ABOUTME: Handlers are declared at registration time; calls are bounded by a timeout and panic-safe.

package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/fleet-coordinator/internal/registry"
)

// DefaultLocalTimeout bounds a single local handler call so one misbehaving
// worker cannot stall a batch dispatch indefinitely.
const DefaultLocalTimeout = 30 * time.Second

// TaskHandler is the declared capability a local worker implements. It is
// checked when the handler is registered, not rediscovered on every call.
type TaskHandler interface {
	HandleTask(ctx context.Context, task string) (string, error)
}

// TaskHandlerFunc adapts a function to the TaskHandler interface.
type TaskHandlerFunc func(ctx context.Context, task string) (string, error)

// HandleTask calls f.
func (f TaskHandlerFunc) HandleTask(ctx context.Context, task string) (string, error) {
	return f(ctx, task)
}

// HandlerRegistry maps workers to their in-process task handlers. Keys are
// owner-qualified (Record.ContextKey): slugs are only unique per owner, and a
// bare-slug key would let one owner's worker shadow another's.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]TaskHandler)}
}

// Register binds a handler to an owner-qualified worker id. A nil handler is
// rejected here so a missing capability surfaces at registration, not
// mid-dispatch.
func (hr *HandlerRegistry) Register(id string, h TaskHandler) error {
	if h == nil {
		return fmt.Errorf("worker %q: nil task handler", id)
	}
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.handlers[id] = h
	return nil
}

// Unregister removes the id's handler, if any.
func (hr *HandlerRegistry) Unregister(id string) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	delete(hr.handlers, id)
}

// Lookup returns the handler bound to the owner-qualified worker id.
func (hr *HandlerRegistry) Lookup(id string) (TaskHandler, bool) {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	h, ok := hr.handlers[id]
	return h, ok
}

// Local invokes workers in-process via the handler registry.
type Local struct {
	handlers *HandlerRegistry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewLocal creates a local invoker. A non-positive timeout falls back to
// DefaultLocalTimeout.
func NewLocal(handlers *HandlerRegistry, timeout time.Duration, logger *slog.Logger) *Local {
	if timeout <= 0 {
		timeout = DefaultLocalTimeout
	}
	return &Local{handlers: handlers, timeout: timeout, logger: logger}
}

// Invoke calls the worker's registered handler with the task. A handler that
// returns an error, panics, or overruns the timeout yields an error Result;
// the process never crashes on a worker's behalf.
func (l *Local) Invoke(ctx context.Context, rec *registry.Record, task string) Result {
	handler, ok := l.handlers.Lookup(rec.ContextKey())
	if !ok {
		l.logger.Warn("local worker has no task handler", "worker", rec.Slug, "path", rec.Path)
		return Result{OK: false, Source: SourceLocal, Err: ErrNoHandler.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("handler panicked: %v", p)}
			}
		}()
		res, err := handler.HandleTask(ctx, task)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			l.logger.Warn("local invocation failed", "worker", rec.Slug, "error", out.err)
			return Result{OK: false, Source: SourceLocal, Err: out.err.Error()}
		}
		return Result{OK: true, Source: SourceLocal, Result: out.result}
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("handler exceeded %s timeout", l.timeout)
		}
		l.logger.Warn("local invocation aborted", "worker", rec.Slug, "error", err)
		return Result{OK: false, Source: SourceLocal, Err: err.Error()}
	}
}
