package graph

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a node within a run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReady    Status = "ready"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusBlocked  Status = "blocked"
)

// IsTerminal reports whether a node in this status has finished executing.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReady, StatusRunning, StatusComplete, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// Effort is a coarse estimate of a node's size.
type Effort string

const (
	EffortTrivial Effort = "trivial"
	EffortSmall   Effort = "small"
	EffortMedium  Effort = "medium"
	EffortLarge   Effort = "large"
)

// Minutes maps effort to an estimated duration in minutes. Unknown or
// empty effort counts as medium.
func (e Effort) Minutes() float64 {
	switch e {
	case EffortTrivial:
		return 1
	case EffortSmall:
		return 2
	case EffortLarge:
		return 8
	default:
		return 4
	}
}

// Valid reports whether e is empty or a known effort.
func (e Effort) Valid() bool {
	switch e {
	case "", EffortTrivial, EffortSmall, EffortMedium, EffortLarge:
		return true
	}
	return false
}

// TaskType categorizes what a node does. Risk assessment keys off it.
type TaskType string

const (
	TaskCreate        TaskType = "create"
	TaskWire          TaskType = "wire"
	TaskVerify        TaskType = "verify"
	TaskRefactor      TaskType = "refactor"
	TaskValidator     TaskType = "validator"
	TaskWorkflow      TaskType = "workflow"
	TaskHeuristic     TaskType = "heuristic"
	TaskDocumentation TaskType = "documentation"
	TaskFormatting    TaskType = "formatting"
	TaskDelete        TaskType = "delete"
)

// RiskLevel controls whether a node's result may be applied without review.
type RiskLevel string

const (
	RiskTrivial  RiskLevel = "trivial"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders levels from trivial (0) to critical (4). Unknown levels
// rank -1.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskTrivial:
		return 0
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return -1
}

// EdgeType describes the relationship carried by an edge.
type EdgeType string

const (
	EdgeData        EdgeType = "data"
	EdgeIntegration EdgeType = "integration"
)

// Verification tracks whether an integration edge has been checked.
type Verification string

const (
	VerificationPending  Verification = "pending"
	VerificationVerified Verification = "verified"
	VerificationMissing  Verification = "missing"
)

// Node is one unit of work.
type Node struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title,omitempty" yaml:"title,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	Status   Status  `json:"status,omitempty" yaml:"status,omitempty"`
	Progress int     `json:"progress,omitempty" yaml:"progress,omitempty"`
	Priority float64 `json:"priority,omitempty" yaml:"priority,omitempty"`
	Effort   Effort  `json:"effort,omitempty" yaml:"effort,omitempty"`

	TaskType TaskType `json:"task_type,omitempty" yaml:"task_type,omitempty"`

	// Writes lists the files or artifacts the node writes.
	Writes []string `json:"writes,omitempty" yaml:"writes,omitempty"`
	// Modules lists the modules the node touches.
	Modules         []string `json:"modules,omitempty" yaml:"modules,omitempty"`
	Deletes         bool     `json:"deletes,omitempty" yaml:"deletes,omitempty"`
	ChangesContract bool     `json:"changes_contract,omitempty" yaml:"changes_contract,omitempty"`
	NewFile         bool     `json:"new_file,omitempty" yaml:"new_file,omitempty"`

	// Command and Inputs describe the work for command executors and feed
	// the default fingerprint.
	Command []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Inputs  map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Fingerprint string    `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Risk        RiskLevel `json:"risk,omitempty" yaml:"risk,omitempty"`
}

// Edge links a dependency (Source) to its dependent (Target).
type Edge struct {
	Source       string       `json:"source" yaml:"source"`
	Target       string       `json:"target" yaml:"target"`
	Type         EdgeType     `json:"type,omitempty" yaml:"type,omitempty"`
	Verification Verification `json:"verification,omitempty" yaml:"verification,omitempty"`
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.Source, e.Target)
}

type edgeKey struct {
	source, target string
}

func (n Node) clone() Node {
	c := n
	c.DependsOn = append([]string(nil), n.DependsOn...)
	c.Writes = append([]string(nil), n.Writes...)
	c.Modules = append([]string(nil), n.Modules...)
	c.Command = append([]string(nil), n.Command...)
	if n.Inputs != nil {
		c.Inputs = make(map[string]string, len(n.Inputs))
		for k, v := range n.Inputs {
			c.Inputs[k] = v
		}
	}
	return c
}
