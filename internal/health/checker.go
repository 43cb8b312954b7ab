// Package health runs preflight checks of the dependencies a run needs: a
// writable .loom directory, a readable execution history and, when the
// execution policy requires it, a reachable Docker daemon.
//
//	manager := health.NewManager()
//	manager.AddChecker(health.NewDirChecker("runs-dir", ".loom/runs"))
//	manager.AddChecker(health.NewDockerChecker("alpine:latest"))
//
//	results := manager.Check(ctx)
//	if manager.OverallStatus(results) == health.StatusUnhealthy {
//		...
//	}
package health

import (
	"context"
	"time"
)

// Checker verifies one dependency.
type Checker interface {
	// Name is lowercase with hyphens, e.g. "docker-daemon".
	Name() string

	// Check must respect the context deadline.
	Check(ctx context.Context) *Result
}

// Status represents the health check status.
type Status string

const (
	// StatusHealthy indicates the checked component is fully operational.
	StatusHealthy Status = "healthy"

	// StatusDegraded indicates runs work with reduced functionality, for
	// example without history so every node re-runs.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy indicates runs will fail.
	StatusUnhealthy Status = "unhealthy"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Result represents the result of a health check.
type Result struct {
	Status  Status         `json:"status" yaml:"status"`
	Message string         `json:"message" yaml:"message"`
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	Latency time.Duration  `json:"latency" yaml:"latency"`
}

// NewResult creates a new health check result with the given status and message.
func NewResult(status Status, message string) *Result {
	return &Result{
		Status:  status,
		Message: message,
		Details: make(map[string]any),
	}
}

// WithDetail adds a detail to the result and returns the result for chaining.
func (r *Result) WithDetail(key string, value any) *Result {
	r.Details[key] = value
	return r
}

// WithLatency sets the latency and returns the result for chaining.
func (r *Result) WithLatency(latency time.Duration) *Result {
	r.Latency = latency
	return r
}

// Healthy creates a healthy result with the given message.
func Healthy(message string) *Result {
	return NewResult(StatusHealthy, message)
}

// Degraded creates a degraded result with the given message.
func Degraded(message string) *Result {
	return NewResult(StatusDegraded, message)
}

// Unhealthy creates an unhealthy result with the given message.
func Unhealthy(message string) *Result {
	return NewResult(StatusUnhealthy, message)
}
