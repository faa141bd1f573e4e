// ABOUTME: Durable file-backed storage for the worker registry.
// ABOUTME: Atomic replace on save, bounded retries, and self-healing loads of corrupt files.

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrWriteFailed is returned when the atomic replace of the registry file
// keeps failing after all retries.
var ErrWriteFailed = errors.New("registry write failed")

const (
	saveRetries    = 3
	saveRetryDelay = 50 * time.Millisecond
)

// Store persists the registry as a single JSON document. Every save rewrites
// the whole collection via a temp file and rename; the store mutex spans
// serialize+replace so concurrent savers never interleave.
//
// Load and Save alone do not make read-modify-write cycles atomic. Mutating
// callers must go through Update, which holds the lock across the full cycle.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a registry store backed by the given file path.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the registry document. A missing file is initialized to an empty
// collection; an unparsable file is logged, reset to empty, and reported as
// empty. Corruption self-heals rather than failing the caller, at the cost of
// silently dropping whatever the corrupt file held.
func (s *Store) Load() (Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Registry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		if err := s.saveLocked(Registry{}); err != nil {
			return nil, fmt.Errorf("initializing registry file: %w", err)
		}
		return Registry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		s.logger.Warn("registry file is corrupt, resetting to empty",
			"path", s.path,
			"error", err,
		)
		if err := s.saveLocked(Registry{}); err != nil {
			return nil, fmt.Errorf("resetting corrupt registry file: %w", err)
		}
		return Registry{}, nil
	}
	if reg == nil {
		reg = Registry{}
	}
	return reg, nil
}

// Save atomically replaces the registry document with the given collection.
func (s *Store) Save(reg Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(reg)
}

// Update runs fn against the current registry and persists its result, holding
// the store lock across the whole read-modify-write cycle. This is the only
// safe way for concurrent dispatches to mutate the registry. Returning an
// error from fn abandons the update without writing.
func (s *Store) Update(fn func(Registry) (Registry, error)) (Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	updated, err := fn(reg)
	if err != nil {
		return nil, err
	}
	if err := s.saveLocked(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) saveLocked(reg Registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing registry temp file: %w", err)
	}

	// The rename can transiently fail on some filesystems while the target
	// is held open; retry a few times before surfacing.
	var renameErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		if renameErr = os.Rename(tmpPath, s.path); renameErr == nil {
			return nil
		}
		time.Sleep(saveRetryDelay)
	}
	return fmt.Errorf("%w: replacing %s after %d attempts: %v",
		ErrWriteFailed, s.path, saveRetries, renameErr)
}
