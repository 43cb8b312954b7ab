// Package checkpoint persists execution state across runs: one record per
// node, plus per-run checkpoints used to resume interrupted runs.
package checkpoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/loom/internal/domain"
	"github.com/felixgeelhaar/loom/internal/graph"
)

// Record is the last known outcome of one node. It is written only after
// the node's execution terminated.
type Record struct {
	NodeID            string       `json:"node_id"`
	LastStatus        graph.Status `json:"last_status"`
	LastFingerprint   string       `json:"last_fingerprint"`
	OutputFingerprint string       `json:"output_fingerprint,omitempty"`
	LastDurationMs    int64        `json:"last_duration_ms"`
	LastExecutedAt    time.Time    `json:"last_executed_at"`
	Error             string       `json:"error,omitempty"`
	Attempts          int          `json:"attempts"`
}

// Validate checks that a record can be stored.
func (r Record) Validate() error {
	if err := domain.NodeID(r.NodeID).Validate(); err != nil {
		return err
	}
	if !r.LastStatus.IsTerminal() {
		return fmt.Errorf("record for %s has non-terminal status %q", r.NodeID, r.LastStatus)
	}
	return nil
}

// Reader is the read side of a Store.
type Reader interface {
	Get(nodeID string) (Record, bool, error)
	Snapshot() (map[string]Record, error)
}

// Store holds execution records keyed by node id. Implementations make
// each Put atomic per record, so concurrent readers never see a torn one.
type Store interface {
	Reader
	Put(rec Record) error
	Delete(nodeID string) error
	// Flush persists buffered records. The scheduler calls it once per wave.
	Flush() error
	Close() error
}

// table is the in-memory record map shared by the memory and file stores.
type table struct {
	mu      sync.RWMutex
	records map[string]Record
	dirty   bool
}

func newTable() table {
	return table{records: make(map[string]Record)}
}

func (t *table) Get(nodeID string) (Record, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[nodeID]
	return rec, ok, nil
}

func (t *table) Snapshot() (map[string]Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Record, len(t.records))
	for k, v := range t.records {
		out[k] = v
	}
	return out, nil
}

func (t *table) Put(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.NodeID] = rec
	t.dirty = true
	return nil
}

func (t *table) Delete(nodeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[nodeID]; ok {
		delete(t.records, nodeID)
		t.dirty = true
	}
	return nil
}

// MemoryStore keeps records in memory only.
type MemoryStore struct {
	table
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{table: newTable()}
}

// Flush is a no-op.
func (s *MemoryStore) Flush() error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Durations returns the last recorded duration per node, for weighting
// critical path analysis with history.
func Durations(r Reader) (map[string]int64, error) {
	snap, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(snap))
	for id, rec := range snap {
		out[id] = rec.LastDurationMs
	}
	return out, nil
}
