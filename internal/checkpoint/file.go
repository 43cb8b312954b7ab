package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/loom/internal/errors"
)

// StateFileName is the checkpoint file inside a workspace state directory.
const StateFileName = "state.json"

// FileStore buffers records in memory and writes them as one JSON object,
// keyed by node id, on Flush. Writes go to a temp file that is renamed
// over the previous checkpoint.
type FileStore struct {
	table
	path string
}

// OpenFileStore loads the checkpoint at path, or starts empty if it does
// not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{table: newTable(), path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(errors.ErrCodeStoreRead, fmt.Sprintf("failed to read checkpoint %s", path), err)
	}

	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreCorrupt, fmt.Sprintf("checkpoint %s is not valid JSON", path), err).
			WithSuggestion("Move the file aside to start from an empty execution history")
	}
	for id, rec := range records {
		if rec.NodeID == "" {
			rec.NodeID = id
		}
		if rec.NodeID != id {
			return nil, errors.New(errors.ErrCodeStoreCorrupt, fmt.Sprintf("checkpoint %s: key %s holds record for %s", path, id, rec.NodeID))
		}
		s.records[id] = rec
	}
	return s, nil
}

// Path returns the checkpoint file path.
func (s *FileStore) Path() string {
	return s.path
}

// Flush writes all records if anything changed since the last flush.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return &errors.PersistenceError{Op: "marshal checkpoint", Path: s.path, Cause: err}
	}
	if err := writeAtomic(s.path, data); err != nil {
		return &errors.PersistenceError{Op: "write checkpoint", Path: s.path, Cause: err}
	}
	s.dirty = false
	return nil
}

// Close flushes pending records.
func (s *FileStore) Close() error {
	return s.Flush()
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}
