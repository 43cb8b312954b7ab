package exec

import "time"

// Runner names.
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// Step is one process invocation derived from a node.
type Step struct {
	ID      string
	Runner  string   // "local" or "docker"
	Image   string   // Docker image name
	Cmd     []string // Command and arguments
	Workdir string   // Working directory path
	Env     map[string]string
	Network string // Network mode
	CPU     string // CPU limit
	Mem     string // Memory limit
}

// Result is the outcome of a step.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// RunManifest is the audit record of one node execution.
type RunManifest struct {
	Timestamp         time.Time         `json:"timestamp"`
	NodeID            string            `json:"node_id"`
	Runner            string            `json:"runner"`
	Image             string            `json:"image,omitempty"`
	Command           []string          `json:"command"`
	Env               map[string]string `json:"env,omitempty"`
	ExitCode          int               `json:"exit_code"`
	Duration          string            `json:"duration"`
	InputFingerprint  string            `json:"input_fingerprint,omitempty"`
	OutputFingerprint string            `json:"output_fingerprint,omitempty"`
	OutputHashes      map[string]string `json:"output_hashes"`
}
