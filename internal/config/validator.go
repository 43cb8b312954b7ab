package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/felixgeelhaar/loom/internal/engine"
	"github.com/felixgeelhaar/loom/internal/plan"
	"github.com/felixgeelhaar/loom/internal/refine"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config key (e.g., "scheduling.concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the accepted log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the accepted log formats
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// ValidStoreBackends returns the accepted store backends
func ValidStoreBackends() []string {
	return []string{StoreFile, StoreBadger}
}

// Validate checks the Config and returns every problem found
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	errs = append(errs, c.validateLog()...)
	errs = append(errs, c.validatePlanning()...)
	errs = append(errs, c.validateScoring()...)
	errs = append(errs, c.validateScheduling()...)
	errs = append(errs, c.validateRefinement()...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateExec()...)
	errs = append(errs, c.validateJournal()...)
	errs = append(errs, c.validateTelemetry()...)
	errs = append(errs, c.validateMetrics()...)
	errs = append(errs, c.validateHooks()...)
	return errs
}

func (c *Config) validateLog() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: "must be one of " + strings.Join(ValidLogLevels(), ", "),
		})
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Log.Format)) {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Value:   c.Log.Format,
			Message: "must be one of " + strings.Join(ValidLogFormats(), ", "),
		})
	}
	return errs
}

func (c *Config) validatePlanning() []ValidationError {
	var errs []ValidationError
	if c.Planning.Candidates < 1 {
		errs = append(errs, ValidationError{
			Field:   "planning.candidates",
			Value:   c.Planning.Candidates,
			Message: "must be at least 1",
		})
	}
	if _, err := plan.ParseStrategy(c.Planning.Strategy); err != nil {
		errs = append(errs, ValidationError{
			Field:   "planning.strategy",
			Value:   c.Planning.Strategy,
			Message: "must be one of prompting, temperature, constraints, mixed",
		})
	}
	if c.Planning.RefinementRounds < 0 {
		errs = append(errs, ValidationError{
			Field:   "planning.refinement_rounds",
			Value:   c.Planning.RefinementRounds,
			Message: "must not be negative",
		})
	}
	return errs
}

func (c *Config) validateScoring() []ValidationError {
	if err := c.Scoring.Weights.Validate(); err != nil {
		return []ValidationError{{
			Field:   "scoring.weights",
			Value:   c.Scoring.Weights,
			Message: err.Error(),
		}}
	}
	return nil
}

func (c *Config) validateScheduling() []ValidationError {
	var errs []ValidationError
	if c.Scheduling.Concurrency < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduling.concurrency",
			Value:   c.Scheduling.Concurrency,
			Message: "must be at least 1",
		})
	}
	if c.Scheduling.NodeTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduling.node_timeout",
			Value:   c.Scheduling.NodeTimeout,
			Message: "must not be negative",
		})
	}
	if _, err := engine.ParseBlockedPolicy(c.Scheduling.BlockedPolicy); err != nil {
		errs = append(errs, ValidationError{
			Field:   "scheduling.blocked_policy",
			Value:   c.Scheduling.BlockedPolicy,
			Message: "must be auto_retry or manual",
		})
	}
	if c.Scheduling.BottleneckThreshold < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduling.bottleneck_threshold",
			Value:   c.Scheduling.BottleneckThreshold,
			Message: "must be at least 1",
		})
	}
	return errs
}

func (c *Config) validateRefinement() []ValidationError {
	var errs []ValidationError
	if c.Refinement.Threshold < 0 || c.Refinement.Threshold > refine.MaxScore {
		errs = append(errs, ValidationError{
			Field:   "refinement.threshold",
			Value:   c.Refinement.Threshold,
			Message: fmt.Sprintf("must be between 0 and %.0f", refine.MaxScore),
		})
	}
	if c.Refinement.MaxRounds < 0 {
		errs = append(errs, ValidationError{
			Field:   "refinement.max_rounds",
			Value:   c.Refinement.MaxRounds,
			Message: "must not be negative",
		})
	}
	return errs
}

func (c *Config) validateStore() []ValidationError {
	if !slices.Contains(ValidStoreBackends(), c.Store.Backend) {
		return []ValidationError{{
			Field:   "store.backend",
			Value:   c.Store.Backend,
			Message: "must be one of " + strings.Join(ValidStoreBackends(), ", "),
		}}
	}
	return nil
}

func (c *Config) validateExec() []ValidationError {
	var errs []ValidationError
	pol := c.Exec.Policy
	if !pol.AllowLocal && !pol.Docker.Required {
		errs = append(errs, ValidationError{
			Field:   "exec.policy",
			Value:   "allow_local=false",
			Message: "disallowing local execution requires docker.required",
		})
	}
	if pol.Docker.Required && pol.Docker.Image == "" && len(pol.Docker.ImageAllowlist) == 0 {
		errs = append(errs, ValidationError{
			Field:   "exec.policy.docker.image",
			Value:   pol.Docker.Image,
			Message: "required docker execution needs a default image or an allowlist",
		})
	}
	return errs
}

func (c *Config) validateJournal() []ValidationError {
	var errs []ValidationError
	if c.Journal.MaxFileSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "journal.max_file_size",
			Value:   c.Journal.MaxFileSize,
			Message: "must not be negative",
		})
	}
	if c.Journal.MaxFiles < 0 {
		errs = append(errs, ValidationError{
			Field:   "journal.max_files",
			Value:   c.Journal.MaxFiles,
			Message: "must not be negative",
		})
	}
	return errs
}

func (c *Config) validateTelemetry() []ValidationError {
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return []ValidationError{{
			Field:   "telemetry.sample_rate",
			Value:   c.Telemetry.SampleRate,
			Message: "must be between 0.0 and 1.0",
		}}
	}
	return nil
}

func (c *Config) validateMetrics() []ValidationError {
	if !c.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
		return []ValidationError{{
			Field:   "metrics.addr",
			Value:   c.Metrics.Addr,
			Message: "must be host:port",
		}}
	}
	return nil
}

func (c *Config) validateHooks() []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(c.Hooks))
	for i, h := range c.Hooks {
		field := fmt.Sprintf("hooks[%d]", i)
		if err := h.Validate(); err != nil {
			errs = append(errs, ValidationError{Field: field, Value: h.Name, Message: err.Error()})
			continue
		}
		if seen[h.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Value: h.Name, Message: "duplicate hook name"})
		}
		seen[h.Name] = true
	}
	return errs
}
