// Package trace keeps an on-disk journal of run events, one JSON envelope
// per line, so that finished runs can be inspected and replayed.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/log"
)

// Journal is an event.Sink appending events to a JSONL file per run.
// Write failures are logged and never reach the emitter.
type Journal struct {
	dir         string
	maxFileSize int64
	maxFiles    int
	logger      *log.Logger

	mu     sync.Mutex
	files  map[string]*os.File
	counts map[string]int
	errors int
}

// Config contains journal configuration
type Config struct {
	// Dir is the directory for journal files (default: .loom/journal)
	Dir string `mapstructure:"dir" json:"dir" yaml:"dir"`

	// MaxFileSize is the size in bytes after which a journal is rotated (default: 10MB)
	MaxFileSize int64 `mapstructure:"max_file_size" json:"max_file_size" yaml:"max_file_size"`

	// MaxFiles is the number of rotated files kept per run (default: 5)
	MaxFiles int `mapstructure:"max_files" json:"max_files" yaml:"max_files"`

	// Enabled controls whether events are journaled
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns default journal configuration
func DefaultConfig() Config {
	return Config{
		Dir:         filepath.Join(".loom", "journal"),
		MaxFileSize: 10 * 1024 * 1024,
		MaxFiles:    5,
		Enabled:     true,
	}
}

// NewJournal creates the journal directory and returns a journal writing
// into it.
func NewJournal(cfg Config, logger *log.Logger) (*Journal, error) {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultConfig().MaxFileSize
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultConfig().MaxFiles
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &Journal{
		dir:         cfg.Dir,
		maxFileSize: cfg.MaxFileSize,
		maxFiles:    cfg.MaxFiles,
		logger:      log.OrDiscard(logger),
		files:       make(map[string]*os.File),
		counts:      make(map[string]int),
	}, nil
}

// Path returns the journal file of a run.
func (j *Journal) Path(runID string) string {
	return Path(j.dir, runID)
}

// Path returns the journal file of a run inside dir.
func Path(dir, runID string) string {
	if runID == "" {
		runID = "planning"
	}
	return filepath.Join(dir, fmt.Sprintf("run_%s.jsonl", runID))
}

// Emit implements event.Sink.
func (j *Journal) Emit(e event.Envelope) {
	line, err := json.Marshal(e)
	if err != nil {
		j.fail(e.RunID, fmt.Errorf("failed to serialize event: %w", err))
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := j.file(e.RunID)
	if err != nil {
		j.failLocked(e.RunID, err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		j.failLocked(e.RunID, fmt.Errorf("failed to write event: %w", err))
		return
	}

	// Sync to disk periodically
	j.counts[e.RunID]++
	if j.counts[e.RunID]%10 == 0 || e.Kind() == event.KindRunCompleted {
		if err := f.Sync(); err != nil {
			j.logger.ForRun(e.RunID).Warn("failed to sync journal", "error", err)
		}
	}
}

// Errors returns how many events could not be written.
func (j *Journal) Errors() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.errors
}

// Close syncs and closes every open journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var first error
	for runID, f := range j.files {
		if err := f.Sync(); err != nil && first == nil {
			first = err
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(j.files, runID)
	}
	return first
}

// file returns the open journal of runID, rotating it when it grew past
// the size limit. Callers hold j.mu.
func (j *Journal) file(runID string) (*os.File, error) {
	path := j.Path(runID)
	f, ok := j.files[runID]
	if ok {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if info.Size() < j.maxFileSize {
			return f, nil
		}
		if err := j.rotate(runID, f, path); err != nil {
			return nil, fmt.Errorf("journal rotation failed: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 -- path built from the journal dir
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	j.files[runID] = f
	return f, nil
}

func (j *Journal) rotate(runID string, f *os.File, path string) error {
	delete(j.files, runID)
	if err := f.Close(); err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102_150405.000000")
	rotated := filepath.Join(j.dir, fmt.Sprintf("run_%s_%s.jsonl", runID, timestamp))
	if err := os.Rename(path, rotated); err != nil {
		return err
	}

	if err := j.cleanup(runID); err != nil {
		j.logger.ForRun(runID).Warn("failed to clean up rotated journals", "error", err)
	}
	return nil
}

// cleanup keeps only the most recent maxFiles rotated journals of a run.
func (j *Journal) cleanup(runID string) error {
	files, err := rotated(j.dir, runID)
	if err != nil {
		return err
	}
	if len(files) <= j.maxFiles {
		return nil
	}
	for _, f := range files[:len(files)-j.maxFiles] {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) fail(runID string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failLocked(runID, err)
}

func (j *Journal) failLocked(runID string, err error) {
	j.errors++
	j.logger.ForRun(runID).Warn("event not journaled", "error", err)
}

// rotated lists the rotated journals of a run, oldest first.
func rotated(dir, runID string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("run_%s_*.jsonl", runID)))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
