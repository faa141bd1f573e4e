// ABOUTME: Per-worker persisted context documents and the team-context merge.
// ABOUTME: One flat JSON object per worker id; merge is first-seen-wins across documents.

package contextdoc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// UpdatedKey is the reserved timestamp key stamped on every save.
const UpdatedKey = "_updated"

// Store keeps one JSON context document per worker id under a directory.
// Documents for different workers are independent resources; no cross-worker
// locking is needed.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a context store rooted at dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Load returns the worker's context document. A missing or unparsable
// document yields an empty map, never an error; a parse failure is logged.
func (s *Store) Load(workerID string) map[string]any {
	data, err := os.ReadFile(s.docPath(workerID))
	if err != nil {
		return map[string]any{}
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("context document is corrupt, treating as empty",
			"worker", workerID,
			"error", err,
		)
		return map[string]any{}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc
}

// Save writes the worker's context document atomically, stamping UpdatedKey
// with the current time.
func (s *Store) Save(workerID string, doc map[string]any) error {
	if doc == nil {
		doc = map[string]any{}
	}
	doc[UpdatedKey] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding context for %s: %w", workerID, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating context directory: %w", err)
	}

	path := s.docPath(workerID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing context temp file for %s: %w", workerID, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing context file for %s: %w", workerID, err)
	}
	return nil
}

// Delete removes the worker's context document. Missing documents are fine.
func (s *Store) Delete(workerID string) error {
	err := os.Remove(s.docPath(workerID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting context for %s: %w", workerID, err)
	}
	return nil
}

func (s *Store) docPath(workerID string) string {
	return filepath.Join(s.dir, workerID+".json")
}

// Merge unions keys across documents with first-seen-wins on collisions: the
// first document in input order that defines a key keeps its value. Stability
// over recency. Callers must pass documents in a deterministic order (registry
// order) for reproducible merges.
func Merge(docs ...map[string]any) map[string]any {
	merged := map[string]any{}
	for _, doc := range docs {
		for k, v := range doc {
			if _, seen := merged[k]; !seen {
				merged[k] = v
			}
		}
	}
	return merged
}
