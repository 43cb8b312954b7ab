package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/graph"
)

// Run status values.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// RunState is the checkpoint of one engine run: where it stopped and the
// status of every node at that point.
type RunState struct {
	Version   string               `json:"version"`
	RunID     string               `json:"run_id"`
	Goal      string               `json:"goal,omitempty"`
	StartedAt time.Time            `json:"started_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Status    string               `json:"status"`
	Wave      int                  `json:"wave"`
	Waves     int                  `json:"waves"`
	Nodes     map[string]NodeState `json:"nodes"`
	Metadata  map[string]string    `json:"metadata,omitempty"`
}

// NodeState is the status of one node within a run.
type NodeState struct {
	Status      graph.Status `json:"status"`
	Wave        int          `json:"wave,omitempty"`
	StartedAt   time.Time    `json:"started_at,omitempty"`
	CompletedAt time.Time    `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
	Attempts    int          `json:"attempts"`
	SkipReason  string       `json:"skip_reason,omitempty"`
}

// NewRunState creates the checkpoint for a new run.
func NewRunState(runID, goal string) *RunState {
	now := time.Now()
	return &RunState{
		Version:   "1.0",
		RunID:     runID,
		Goal:      goal,
		StartedAt: now,
		UpdatedAt: now,
		Status:    RunRunning,
		Nodes:     make(map[string]NodeState),
		Metadata:  make(map[string]string),
	}
}

// UpdateNode records a status transition of a node.
func (s *RunState) UpdateNode(nodeID string, status graph.Status, err error) {
	ns := s.Nodes[nodeID]
	now := time.Now()

	if status == graph.StatusRunning && ns.Status != graph.StatusRunning {
		ns.StartedAt = now
		ns.Attempts++
	}
	if status.IsTerminal() {
		ns.CompletedAt = now
	}
	if err != nil {
		ns.Error = err.Error()
	} else if status == graph.StatusComplete {
		ns.Error = ""
	}
	ns.Status = status

	s.Nodes[nodeID] = ns
	s.UpdatedAt = now
}

// MarkSkipped records a node served from cache.
func (s *RunState) MarkSkipped(nodeID, reason string) {
	s.Nodes[nodeID] = NodeState{Status: graph.StatusComplete, SkipReason: reason}
	s.UpdatedAt = time.Now()
}

// NodesWithStatus returns the ids of nodes in status, sorted.
func (s *RunState) NodesWithStatus(status graph.Status) []string {
	var ids []string
	for id, ns := range s.Nodes {
		if ns.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Progress returns the fraction of nodes that are complete (0.0 to 1.0).
func (s *RunState) Progress() float64 {
	if len(s.Nodes) == 0 {
		return 0.0
	}
	return float64(len(s.NodesWithStatus(graph.StatusComplete))) / float64(len(s.Nodes))
}

// SetMetadata sets a metadata key-value pair
func (s *RunState) SetMetadata(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[key] = value
	s.UpdatedAt = time.Now()
}

// Manager stores run checkpoints as one JSON file per run.
type Manager struct {
	dir string
}

// NewManager creates a manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

func (m *Manager) path(runID string) string {
	return filepath.Join(m.dir, runID+".json")
}

// Save persists a run checkpoint atomically.
func (m *Manager) Save(state *RunState) error {
	if state == nil {
		return fmt.Errorf("run state is nil")
	}
	state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &errors.PersistenceError{Op: "marshal run checkpoint", Path: m.path(state.RunID), Cause: err}
	}
	if err := writeAtomic(m.path(state.RunID), data); err != nil {
		return &errors.PersistenceError{Op: "write run checkpoint", Path: m.path(state.RunID), Cause: err}
	}
	return nil
}

// Load reads a run checkpoint.
func (m *Manager) Load(runID string) (*RunState, error) {
	data, err := os.ReadFile(m.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(m.path(runID))
		}
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "failed to read run checkpoint", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreCorrupt, fmt.Sprintf("run checkpoint %s is not valid JSON", runID), err)
	}
	if state.Nodes == nil {
		state.Nodes = make(map[string]NodeState)
	}
	return &state, nil
}

// Exists checks if a checkpoint exists for the given run ID
func (m *Manager) Exists(runID string) bool {
	_, err := os.Stat(m.path(runID))
	return err == nil
}

// Delete removes a run checkpoint.
func (m *Manager) Delete(runID string) error {
	if err := os.Remove(m.path(runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete run checkpoint: %w", err)
	}
	return nil
}

// List returns all run IDs, oldest first by modification time.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read run checkpoint directory: %w", err)
	}

	type run struct {
		id  string
		mod time.Time
	}
	var runs []run
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		runs = append(runs, run{id: strings.TrimSuffix(name, ".json"), mod: info.ModTime()})
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].mod.Before(runs[j].mod) })

	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}

// Latest returns the most recently written run checkpoint, or nil.
func (m *Manager) Latest() (*RunState, error) {
	ids, err := m.List()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return m.Load(ids[len(ids)-1])
}
