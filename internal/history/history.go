// ABOUTME: Append-only per-worker history of task/result pairs.
// ABOUTME: One JSON file per worker, writes serialized per file, corrupt files treated as empty.

package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const fileName = "history.json"

// Record is one task/result pair in a worker's history.
type Record struct {
	ID     string    `json:"id"`
	Date   time.Time `json:"date"`
	Task   string    `json:"task"`
	Result string    `json:"result"`
}

// Log appends history records to per-worker files. Writes for the same worker
// are serialized through a per-path lock; different workers never block each
// other.
type Log struct {
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLog creates a history log.
func NewLog(logger *slog.Logger) *Log {
	return &Log{
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Append adds a record to the history file under workerPath. A zero Date is
// filled with the current time and a missing ID is generated. Unparsable
// existing content is logged and treated as an empty sequence.
func (l *Log) Append(workerPath string, rec Record) error {
	if rec.Date.IsZero() {
		rec.Date = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	lock := l.pathLock(workerPath)
	lock.Lock()
	defer lock.Unlock()

	records := l.read(workerPath)
	records = append(records, rec)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history for %s: %w", workerPath, err)
	}
	if err := os.MkdirAll(workerPath, 0o755); err != nil {
		return fmt.Errorf("creating worker directory: %w", err)
	}

	path := filepath.Join(workerPath, fileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing history temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing history file: %w", err)
	}
	return nil
}

// Tail returns the last n records of the worker's history, oldest first.
// Missing or corrupt history yields an empty slice.
func (l *Log) Tail(workerPath string, n int) []Record {
	lock := l.pathLock(workerPath)
	lock.Lock()
	defer lock.Unlock()

	records := l.read(workerPath)
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records
}

func (l *Log) read(workerPath string) []Record {
	data, err := os.ReadFile(filepath.Join(workerPath, fileName))
	if err != nil {
		return nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		l.logger.Warn("history file is corrupt, treating as empty",
			"path", workerPath,
			"error", err,
		)
		return nil
	}
	return records
}

func (l *Log) pathLock(workerPath string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[workerPath]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[workerPath] = lock
	}
	return lock
}
