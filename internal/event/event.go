// Package event defines the closed set of progress events the engine emits
// and the sinks that receive them.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/loom/internal/graph"
)

// Kind identifies an event type on the wire.
type Kind string

const (
	KindCandidateScored   Kind = "candidate_scored"
	KindCandidateRejected Kind = "candidate_rejected"
	KindPlanSelected      Kind = "plan_selected"
	KindPlanRefined       Kind = "plan_refined"
	KindRunStarted        Kind = "run_started"
	KindWaveStarted       Kind = "wave_started"
	KindWaveCompleted     Kind = "wave_completed"
	KindNodeStatus        Kind = "node_status"
	KindNodeSkipped       Kind = "node_skipped"
	KindNodeReviewed      Kind = "node_reviewed"
	KindCheckpoint        Kind = "checkpoint"
	KindRefinementRound   Kind = "refinement_round"
	KindRunCompleted      Kind = "run_completed"
)

// Event is implemented only by the types in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// CandidateScored reports the metrics of one scored plan candidate.
type CandidateScored struct {
	CandidateID       string  `json:"candidate_id"`
	Score             float64 `json:"score"`
	Depth             int     `json:"depth"`
	Width             int     `json:"width"`
	EstimatedWaves    int     `json:"estimated_waves"`
	FileConflicts     int     `json:"file_conflicts"`
	ParallelismFactor float64 `json:"parallelism_factor"`
	BalanceFactor     float64 `json:"balance_factor"`
}

// CandidateRejected reports a candidate excluded from selection.
type CandidateRejected struct {
	CandidateID string `json:"candidate_id"`
	Reason      string `json:"reason"`
}

// PlanSelected reports the winning candidate.
type PlanSelected struct {
	CandidateID string  `json:"candidate_id"`
	Score       float64 `json:"score"`
	Reason      string  `json:"reason"`
	Candidates  int     `json:"candidates"`
}

// PlanRefined reports one plan-level refinement round.
type PlanRefined struct {
	Round    int      `json:"round"`
	Feedback []string `json:"feedback,omitempty"`
	OldScore float64  `json:"old_score"`
	NewScore float64  `json:"new_score"`
	Improved bool     `json:"improved"`
}

// RunStarted opens a run.
type RunStarted struct {
	Goal      string `json:"goal,omitempty"`
	Nodes     int    `json:"nodes"`
	ToExecute int    `json:"to_execute"`
	ToSkip    int    `json:"to_skip"`
	Waves     int    `json:"waves"`
}

// WaveStarted reports the nodes dispatched in a wave.
type WaveStarted struct {
	Wave  int      `json:"wave"`
	Nodes []string `json:"nodes"`
}

// WaveCompleted reports a drained wave.
type WaveCompleted struct {
	Wave      int           `json:"wave"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Blocked   int           `json:"blocked"`
	Duration  time.Duration `json:"duration"`
}

// NodeStatus is emitted on every node status transition.
type NodeStatus struct {
	NodeID   string        `json:"node_id"`
	Status   graph.Status  `json:"status"`
	Progress int           `json:"progress"`
	Wave     int           `json:"wave,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// NodeSkipped reports a node served from the execution history.
type NodeSkipped struct {
	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

// NodeReviewed reports the risk gate's verdict for a node.
type NodeReviewed struct {
	NodeID      string          `json:"node_id"`
	Level       graph.RiskLevel `json:"level"`
	Approved    bool            `json:"approved"`
	AutoApplied bool            `json:"auto_applied"`
	Reason      string          `json:"reason"`
}

// Checkpoint reports a store flush after a wave.
type Checkpoint struct {
	Wave    int    `json:"wave"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// RefinementRound reports one round of the refinement loop.
type RefinementRound struct {
	Round    int      `json:"round"`
	Score    float64  `json:"score"`
	State    string   `json:"state"`
	Issues   []string `json:"issues,omitempty"`
	Affected []string `json:"affected,omitempty"`
}

// RunCompleted closes a run.
type RunCompleted struct {
	Status    string        `json:"status"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Blocked   int           `json:"blocked"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

func (CandidateScored) Kind() Kind   { return KindCandidateScored }
func (CandidateRejected) Kind() Kind { return KindCandidateRejected }
func (PlanSelected) Kind() Kind      { return KindPlanSelected }
func (PlanRefined) Kind() Kind       { return KindPlanRefined }
func (RunStarted) Kind() Kind        { return KindRunStarted }
func (WaveStarted) Kind() Kind       { return KindWaveStarted }
func (WaveCompleted) Kind() Kind     { return KindWaveCompleted }
func (NodeStatus) Kind() Kind        { return KindNodeStatus }
func (NodeSkipped) Kind() Kind       { return KindNodeSkipped }
func (NodeReviewed) Kind() Kind      { return KindNodeReviewed }
func (Checkpoint) Kind() Kind        { return KindCheckpoint }
func (RefinementRound) Kind() Kind   { return KindRefinementRound }
func (RunCompleted) Kind() Kind      { return KindRunCompleted }

func (CandidateScored) sealed()   {}
func (CandidateRejected) sealed() {}
func (PlanSelected) sealed()      {}
func (PlanRefined) sealed()       {}
func (RunStarted) sealed()        {}
func (WaveStarted) sealed()       {}
func (WaveCompleted) sealed()     {}
func (NodeStatus) sealed()        {}
func (NodeSkipped) sealed()       {}
func (NodeReviewed) sealed()      {}
func (Checkpoint) sealed()        {}
func (RefinementRound) sealed()   {}
func (RunCompleted) sealed()      {}

var decoders = map[Kind]func(json.RawMessage) (Event, error){
	KindCandidateScored:   decodeAs[CandidateScored],
	KindCandidateRejected: decodeAs[CandidateRejected],
	KindPlanSelected:      decodeAs[PlanSelected],
	KindPlanRefined:       decodeAs[PlanRefined],
	KindRunStarted:        decodeAs[RunStarted],
	KindWaveStarted:       decodeAs[WaveStarted],
	KindWaveCompleted:     decodeAs[WaveCompleted],
	KindNodeStatus:        decodeAs[NodeStatus],
	KindNodeSkipped:       decodeAs[NodeSkipped],
	KindNodeReviewed:      decodeAs[NodeReviewed],
	KindCheckpoint:        decodeAs[Checkpoint],
	KindRefinementRound:   decodeAs[RefinementRound],
	KindRunCompleted:      decodeAs[RunCompleted],
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Envelope carries an event with its identity and timestamp.
type Envelope struct {
	ID    string    `json:"id"`
	RunID string    `json:"run_id,omitempty"`
	Time  time.Time `json:"time"`
	Event Event     `json:"-"`
}

// Kind returns the kind of the wrapped event.
func (e Envelope) Kind() Kind {
	if e.Event == nil {
		return ""
	}
	return e.Event.Kind()
}

type wireEnvelope struct {
	ID    string          `json:"id"`
	RunID string          `json:"run_id,omitempty"`
	Time  time.Time       `json:"time"`
	Kind  Kind            `json:"kind"`
	Data  json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Event == nil {
		return nil, fmt.Errorf("event %s has no payload", e.ID)
	}
	data, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{ID: e.ID, RunID: e.RunID, Time: e.Time, Kind: e.Event.Kind(), Data: data})
}

// UnmarshalJSON implements json.Unmarshaler. Unknown kinds are rejected.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decode, ok := decoders[w.Kind]
	if !ok {
		return fmt.Errorf("unknown event kind %q", w.Kind)
	}
	ev, err := decode(w.Data)
	if err != nil {
		return fmt.Errorf("decode %s event: %w", w.Kind, err)
	}
	*e = Envelope{ID: w.ID, RunID: w.RunID, Time: w.Time, Event: ev}
	return nil
}

// Decode parses one JSON encoded envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
