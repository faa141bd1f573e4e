// ABOUTME: Typed worker and namespace records plus the in-memory registry collection.
// ABOUTME: All mutations validate ownership and slug uniqueness before touching the collection.

package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested worker or namespace does not exist.
var ErrNotFound = errors.New("not found")

// ErrAccessDenied is returned when a record exists but belongs to another owner.
var ErrAccessDenied = errors.New("access denied")

// ErrDuplicateSlug is returned when registering a worker whose slug is already
// taken within the owner's fleet.
var ErrDuplicateSlug = errors.New("slug already registered")

// ErrNamespaceNotEmpty is returned when deleting a namespace that still
// contains workers.
var ErrNamespaceNotEmpty = errors.New("namespace not empty")

// DefaultNamespace is where workers land when no namespace is given.
const DefaultNamespace = "root"

// Worker status labels. Advisory only; nothing in the coordinator branches on them.
const (
	StatusCreated = "created"
	StatusReady   = "ready"
)

// LastTask is the most recent task/result snapshot for a worker, overwritten
// on every invocation.
type LastTask struct {
	Task   string `json:"task"`
	Result string `json:"result"`
}

// Record is a single registry entry: either a worker or, when IsNamespace is
// set, a marker that keeps an empty namespace visible.
type Record struct {
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Namespace   string    `json:"namespace"`
	IsNamespace bool      `json:"is_namespace,omitempty"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`

	// Placement: a local data directory, a remote webhook base URL, or both.
	// An existing local path wins when routing an invocation.
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`

	Status      string   `json:"status,omitempty"`
	Connections []string `json:"connections,omitempty"`

	// TeamBias weighs personal role against team context during namespace
	// dispatch: 0 = pure role, 1 = pure team context.
	TeamBias float64 `json:"team_bias,omitempty"`

	LastTask *LastTask `json:"last_task,omitempty"`
}

// ContextKey returns the owner-qualified identifier under which the worker's
// context document is stored.
func (r *Record) ContextKey() string {
	return r.Owner + "__" + r.Slug
}

// Registry is the full ordered collection of worker records and namespace
// markers. Order is insertion order and is load-bearing: context merges for
// namespace dispatch walk workers in registry order.
type Registry []*Record

var slugPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Slugify derives a stable slug from a display name.
func Slugify(name string) string {
	return strings.ToLower(slugPattern.ReplaceAllString(strings.TrimSpace(name), "_"))
}

// Worker finds the owner's worker with the given slug. A slug that exists only
// under a different owner yields ErrAccessDenied so callers can distinguish
// "never heard of it" from "not yours".
func (reg Registry) Worker(owner, slug string) (*Record, error) {
	foreign := false
	for _, r := range reg {
		if r.IsNamespace || r.Slug != slug {
			continue
		}
		if r.Owner == owner {
			return r, nil
		}
		foreign = true
	}
	if foreign {
		return nil, fmt.Errorf("worker %q: %w", slug, ErrAccessDenied)
	}
	return nil, fmt.Errorf("worker %q: %w", slug, ErrNotFound)
}

// Workers returns all of the owner's workers in registry order.
func (reg Registry) Workers(owner string) []*Record {
	var out []*Record
	for _, r := range reg {
		if !r.IsNamespace && r.Owner == owner {
			out = append(out, r)
		}
	}
	return out
}

// NamespaceWorkers returns the owner's workers in the given namespace, in
// registry order.
func (reg Registry) NamespaceWorkers(owner, namespace string) []*Record {
	var out []*Record
	for _, r := range reg {
		if !r.IsNamespace && r.Owner == owner && r.Namespace == namespace {
			out = append(out, r)
		}
	}
	return out
}

// Namespaces returns the owner's namespace names, sorted by marker insertion
// order. Empty namespaces stay visible through their markers.
func (reg Registry) Namespaces(owner string) []string {
	var out []string
	for _, r := range reg {
		if r.IsNamespace && r.Owner == owner {
			out = append(out, r.Namespace)
		}
	}
	return out
}

// HasNamespace reports whether the owner has a marker for the namespace.
func (reg Registry) HasNamespace(owner, namespace string) bool {
	for _, r := range reg {
		if r.IsNamespace && r.Owner == owner && r.Namespace == namespace {
			return true
		}
	}
	return false
}

// AddWorker appends a worker record, rejecting duplicate slugs within the
// owner's fleet and creating the namespace marker if it is missing.
func (reg Registry) AddWorker(rec *Record) (Registry, error) {
	if rec.Slug == "" {
		rec.Slug = Slugify(rec.Name)
	}
	if rec.Slug == "" {
		return reg, fmt.Errorf("worker name %q produces an empty slug", rec.Name)
	}
	if rec.Namespace == "" {
		rec.Namespace = DefaultNamespace
	}
	for _, r := range reg {
		if !r.IsNamespace && r.Owner == rec.Owner &&
			(r.Slug == rec.Slug || strings.EqualFold(r.Name, rec.Name)) {
			return reg, fmt.Errorf("worker %q: %w", rec.Slug, ErrDuplicateSlug)
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusCreated
	}
	if !reg.HasNamespace(rec.Owner, rec.Namespace) {
		reg = append(reg, namespaceMarker(rec.Owner, rec.Namespace))
	}
	return append(reg, rec), nil
}

// AddNamespace appends a namespace marker. Adding an existing namespace is a
// no-op so callers can treat it as idempotent.
func (reg Registry) AddNamespace(owner, namespace string) Registry {
	if namespace == "" || reg.HasNamespace(owner, namespace) {
		return reg
	}
	return append(reg, namespaceMarker(owner, namespace))
}

// RemoveWorker deletes the owner's worker and returns the removed record so
// the caller can clean up its context and history documents.
func (reg Registry) RemoveWorker(owner, slug string) (Registry, *Record, error) {
	rec, err := reg.Worker(owner, slug)
	if err != nil {
		return reg, nil, err
	}
	out := reg[:0:0]
	for _, r := range reg {
		if r != rec {
			out = append(out, r)
		}
	}
	return out, rec, nil
}

// RemoveNamespace deletes the owner's namespace marker. It refuses when the
// namespace still contains workers.
func (reg Registry) RemoveNamespace(owner, namespace string) (Registry, error) {
	if !reg.HasNamespace(owner, namespace) {
		return reg, fmt.Errorf("namespace %q: %w", namespace, ErrNotFound)
	}
	if n := len(reg.NamespaceWorkers(owner, namespace)); n > 0 {
		return reg, fmt.Errorf("namespace %q has %d workers: %w", namespace, n, ErrNamespaceNotEmpty)
	}
	out := reg[:0:0]
	for _, r := range reg {
		if r.IsNamespace && r.Owner == owner && r.Namespace == namespace {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func namespaceMarker(owner, namespace string) *Record {
	return &Record{
		Name:        namespace,
		Slug:        "namespace_" + namespace + "_" + owner,
		Namespace:   namespace,
		IsNamespace: true,
		Owner:       owner,
		CreatedAt:   time.Now().UTC(),
	}
}
