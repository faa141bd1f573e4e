// ABOUTME: Resolves dispatch targets, fans out invocations, and writes results back to the stores.
// ABOUTME: Per-worker failures land in result slots; only persistence and resolution fail the call.

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/fleet-coordinator/internal/contextdoc"
	"github.com/2389/fleet-coordinator/internal/history"
	"github.com/2389/fleet-coordinator/internal/invoke"
	"github.com/2389/fleet-coordinator/internal/metrics"
	"github.com/2389/fleet-coordinator/internal/registry"
)

// DefaultMaxConcurrency caps how many workers of one namespace are invoked at
// once. Namespaces hold tens of workers, not thousands; the cap keeps a large
// one from flooding outbound connections.
const DefaultMaxConcurrency = 8

// WorkerResult is one worker's slot in a namespace dispatch result.
type WorkerResult struct {
	Worker string `json:"worker"`
	OK     bool   `json:"ok"`
	Source string `json:"source,omitempty"`
	Result string `json:"result,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Config wires an Orchestrator.
type Config struct {
	Registry *registry.Store
	Contexts *contextdoc.Store
	History  *history.Log
	Router   *invoke.Router
	Handlers *invoke.HandlerRegistry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// WorkersDir is where worker data directories are created; worker
	// deletion only removes directories underneath it.
	WorkersDir string

	// MaxConcurrency bounds namespace fan-out; 0 means DefaultMaxConcurrency.
	MaxConcurrency int
}

// Orchestrator coordinates worker resolution, invocation, and write-back.
type Orchestrator struct {
	registry *registry.Store
	contexts *contextdoc.Store
	history  *history.Log
	router   *invoke.Router
	handlers *invoke.HandlerRegistry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	workersDir     string
	maxConcurrency int
}

// New creates an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = DefaultMaxConcurrency
	}
	return &Orchestrator{
		registry:       cfg.Registry,
		contexts:       cfg.Contexts,
		history:        cfg.History,
		router:         cfg.Router,
		handlers:       cfg.Handlers,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		workersDir:     cfg.WorkersDir,
		maxConcurrency: maxConc,
	}
}

// DispatchOne invokes a single worker with the task. The raw result is
// returned unmodified; on success the worker's last-task snapshot is
// persisted. Hard failures are NotFound/AccessDenied, NoRoute, and a failed
// registry write.
func (o *Orchestrator) DispatchOne(ctx context.Context, owner, slug, task string) (invoke.Result, error) {
	start := time.Now()

	reg, err := o.registry.Load()
	if err != nil {
		return invoke.Result{}, err
	}
	rec, err := reg.Worker(owner, slug)
	if err != nil {
		return invoke.Result{}, err
	}

	res, err := o.router.Invoke(ctx, rec, task)
	if err != nil {
		o.metrics.ObserveDispatch(string(ModeTask), false, time.Since(start))
		return invoke.Result{}, fmt.Errorf("worker %q: %w", slug, err)
	}
	o.metrics.ObserveInvocation(res.Source, res.OK)

	o.logger.Info("dispatched task",
		"owner", owner,
		"worker", slug,
		"source", res.Source,
		"ok", res.OK,
	)

	if res.OK {
		_, err = o.registry.Update(func(reg registry.Registry) (registry.Registry, error) {
			if cur, err := reg.Worker(owner, slug); err == nil {
				cur.LastTask = &registry.LastTask{Task: task, Result: res.Result}
			}
			return reg, nil
		})
		if err != nil {
			return invoke.Result{}, fmt.Errorf("persisting dispatch result: %w", err)
		}
	}

	o.metrics.ObserveDispatch(string(ModeTask), res.OK, time.Since(start))
	return res, nil
}

// HandleWebhook routes an inbound webhook delivery to the named worker. The
// caller arrives without an owner identity, so the lookup matches the first
// worker with the slug regardless of owner.
func (o *Orchestrator) HandleWebhook(ctx context.Context, slug, task string) (invoke.Result, error) {
	reg, err := o.registry.Load()
	if err != nil {
		return invoke.Result{}, err
	}

	var rec *registry.Record
	for _, candidate := range reg {
		if candidate.Slug == slug && !candidate.IsNamespace {
			rec = candidate
			break
		}
	}
	if rec == nil {
		return invoke.Result{}, fmt.Errorf("worker %q: %w", slug, registry.ErrNotFound)
	}

	res, err := o.router.Invoke(ctx, rec, task)
	if err != nil {
		return invoke.Result{}, fmt.Errorf("worker %q: %w", slug, err)
	}
	o.metrics.ObserveInvocation(res.Source, res.OK)
	o.logger.Info("handled webhook", "worker", slug, "source", res.Source, "ok", res.OK)
	return res, nil
}

// DispatchNamespace broadcasts the task to every worker of the owner's
// namespace. The returned slice holds exactly one slot per worker, in
// registry order, whether its invocation succeeded or not.
func (o *Orchestrator) DispatchNamespace(ctx context.Context, owner, namespace, task string) ([]WorkerResult, error) {
	return o.broadcast(ctx, owner, namespace, task, ModeTask)
}

// TeamThink broadcasts a topic for collective reflection across a namespace.
func (o *Orchestrator) TeamThink(ctx context.Context, owner, namespace, topic string) ([]WorkerResult, error) {
	return o.broadcast(ctx, owner, namespace, topic, ModeTeamThink)
}

// Brainstorm broadcasts an idea-generation topic across a namespace.
func (o *Orchestrator) Brainstorm(ctx context.Context, owner, namespace, topic string) ([]WorkerResult, error) {
	return o.broadcast(ctx, owner, namespace, topic, ModeBrainstorm)
}

func (o *Orchestrator) broadcast(ctx context.Context, owner, namespace, task string, mode Mode) ([]WorkerResult, error) {
	start := time.Now()

	reg, err := o.registry.Load()
	if err != nil {
		return nil, err
	}
	members := reg.NamespaceWorkers(owner, namespace)
	if len(members) == 0 {
		return nil, fmt.Errorf("namespace %q has no workers: %w", namespace, registry.ErrNotFound)
	}

	// Blend every member's context in registry order; first-seen-wins keeps
	// merges reproducible for a fixed registry.
	colleagues := make([]string, len(members))
	docs := make([]map[string]any, len(members))
	for i, rec := range members {
		colleagues[i] = rec.Slug
		docs[i] = o.contexts.Load(rec.ContextKey())
	}
	merged := contextdoc.Merge(docs...)
	teamContext, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding team context: %w", err)
	}

	results := make([]WorkerResult, len(members))
	var g errgroup.Group
	g.SetLimit(o.maxConcurrency)
	for i, rec := range members {
		i, rec := i, rec
		g.Go(func() error {
			results[i] = o.runMember(ctx, rec, task, string(teamContext), colleagues, mode)
			return nil
		})
	}
	_ = g.Wait()

	// One registry write for the whole batch.
	allOK := true
	_, err = o.registry.Update(func(reg registry.Registry) (registry.Registry, error) {
		for i, res := range results {
			if !res.OK {
				allOK = false
				continue
			}
			if cur, err := reg.Worker(owner, members[i].Slug); err == nil {
				cur.LastTask = &registry.LastTask{Task: task, Result: res.Result}
			}
		}
		return reg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("persisting dispatch results: %w", err)
	}

	// The batch counts as ok only when every member slot succeeded.
	o.metrics.ObserveDispatch(string(mode), allOK, time.Since(start))
	o.logger.Info("namespace dispatch complete",
		"owner", owner,
		"namespace", namespace,
		"mode", string(mode),
		"workers", len(members),
		"elapsed", time.Since(start),
	)
	return results, nil
}

// runMember executes one worker's pipeline: enrich, invoke, record history,
// update context. Every failure is captured in the returned slot so siblings
// are never cancelled or delayed.
func (o *Orchestrator) runMember(ctx context.Context, rec *registry.Record, task, teamContext string, colleagues []string, mode Mode) WorkerResult {
	enriched := buildEnrichedTask(mode, rec, task, teamContext)

	res, err := o.router.Invoke(ctx, rec, enriched)
	if err != nil {
		o.metrics.ObserveInvocation("", false)
		return WorkerResult{Worker: rec.Slug, Err: err.Error()}
	}
	o.metrics.ObserveInvocation(res.Source, res.OK)
	if !res.OK {
		return WorkerResult{Worker: rec.Slug, Source: res.Source, Err: res.Err}
	}

	// History is best-effort: losing one record is not worth failing the
	// worker's slot over.
	if rec.Path != "" {
		err := o.history.Append(rec.Path, history.Record{
			Task:   fmt.Sprintf("%s: %s", mode.label(), task),
			Result: res.Result,
		})
		if err != nil {
			o.logger.Warn("history append failed", "worker", rec.Slug, "error", err)
		}
	}

	doc := o.contexts.Load(rec.ContextKey())
	for k, v := range mode.contextKeys(task, res.Result) {
		doc[k] = v
	}
	doc["colleague_contexts"] = colleagues
	if err := o.contexts.Save(rec.ContextKey(), doc); err != nil {
		o.logger.Warn("context save failed", "worker", rec.Slug, "error", err)
	}

	return WorkerResult{Worker: rec.Slug, OK: true, Source: res.Source, Result: res.Result}
}

// RegisterWorkerParams describes a worker to register.
type RegisterWorkerParams struct {
	Owner       string
	Name        string
	Namespace   string
	URL         string
	Role        string
	TeamBias    float64
	Connections []string

	// Handler, when set, is bound to the worker's slug and a local data
	// directory is created for it under WorkersDir.
	Handler invoke.TaskHandler
}

// RegisterWorker adds a worker to the registry, creating its namespace marker
// and, for local workers, its data directory and role manifest. Duplicate
// slugs within the owner's fleet are rejected.
func (o *Orchestrator) RegisterWorker(ctx context.Context, params RegisterWorkerParams) (*registry.Record, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if params.TeamBias < 0 || params.TeamBias > 1 {
		return nil, fmt.Errorf("team bias %.2f is outside [0, 1]", params.TeamBias)
	}
	slug := registry.Slugify(name)

	rec := &registry.Record{
		Name:        name,
		Slug:        slug,
		Namespace:   params.Namespace,
		Owner:       params.Owner,
		URL:         strings.TrimSpace(params.URL),
		TeamBias:    params.TeamBias,
		Connections: params.Connections,
	}

	if params.Handler != nil {
		dir := filepath.Join(o.workersDir, params.Owner, slug)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating worker directory: %w", err)
		}
		rec.Path = dir
		rec.Status = registry.StatusReady
		if params.Role != "" {
			if err := writeManifest(dir, name, params.Role); err != nil {
				return nil, err
			}
		}
	}

	_, err := o.registry.Update(func(reg registry.Registry) (registry.Registry, error) {
		return reg.AddWorker(rec)
	})
	if err != nil {
		return nil, err
	}

	if params.Handler != nil {
		if err := o.handlers.Register(rec.ContextKey(), params.Handler); err != nil {
			return nil, err
		}
	}

	o.logger.Info("registered worker",
		"owner", params.Owner,
		"worker", slug,
		"namespace", rec.Namespace,
		"local", params.Handler != nil,
	)
	return rec, nil
}

// DeleteWorker removes the worker from the registry together with its context
// document, history, and handler binding. Local data directories are only
// removed when they live under the coordinator's workers directory.
func (o *Orchestrator) DeleteWorker(ctx context.Context, owner, slug string) error {
	var removed *registry.Record
	_, err := o.registry.Update(func(reg registry.Registry) (registry.Registry, error) {
		var err error
		reg, removed, err = reg.RemoveWorker(owner, slug)
		return reg, err
	})
	if err != nil {
		return err
	}

	o.handlers.Unregister(removed.ContextKey())
	if err := o.contexts.Delete(removed.ContextKey()); err != nil {
		o.logger.Warn("context delete failed", "worker", slug, "error", err)
	}
	if removed.Path != "" && o.ownsPath(removed.Path) {
		if err := os.RemoveAll(removed.Path); err != nil {
			o.logger.Warn("worker directory delete failed", "worker", slug, "error", err)
		}
	}

	o.logger.Info("deleted worker", "owner", owner, "worker", slug)
	return nil
}

// CreateNamespace makes sure a namespace marker exists for the owner.
func (o *Orchestrator) CreateNamespace(ctx context.Context, owner, namespace string) error {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return fmt.Errorf("namespace name is required")
	}
	_, err := o.registry.Update(func(reg registry.Registry) (registry.Registry, error) {
		return reg.AddNamespace(owner, namespace), nil
	})
	return err
}

// DeleteNamespace removes an empty namespace.
func (o *Orchestrator) DeleteNamespace(ctx context.Context, owner, namespace string) error {
	_, err := o.registry.Update(func(reg registry.Registry) (registry.Registry, error) {
		return reg.RemoveNamespace(owner, namespace)
	})
	return err
}

// Cleanup prunes the owner's workers whose local directory vanished and which
// have no remote URL to fall back to. Their context documents go with them.
// Returns how many records were removed.
func (o *Orchestrator) Cleanup(ctx context.Context, owner string) (int, error) {
	var pruned []*registry.Record
	_, err := o.registry.Update(func(reg registry.Registry) (registry.Registry, error) {
		out := reg[:0:0]
		for _, r := range reg {
			if !r.IsNamespace && r.Owner == owner && r.URL == "" && r.Path != "" {
				if _, err := os.Stat(r.Path); os.IsNotExist(err) {
					pruned = append(pruned, r)
					continue
				}
			}
			out = append(out, r)
		}
		return out, nil
	})
	if err != nil {
		return 0, err
	}

	for _, r := range pruned {
		o.handlers.Unregister(r.ContextKey())
		if err := o.contexts.Delete(r.ContextKey()); err != nil {
			o.logger.Warn("context delete failed", "worker", r.Slug, "error", err)
		}
	}
	if len(pruned) > 0 {
		o.logger.Info("cleanup removed stale workers", "owner", owner, "removed", len(pruned))
	}
	return len(pruned), nil
}

func (o *Orchestrator) ownsPath(path string) bool {
	if o.workersDir == "" {
		return false
	}
	rel, err := filepath.Rel(o.workersDir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
