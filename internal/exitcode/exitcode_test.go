package exitcode

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/felixgeelhaar/loom/internal/errors"
)

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected int
	}{
		{"Success", Success, 0},
		{"GeneralError", GeneralError, 1},
		{"UsageError", UsageError, 2},
		{"PolicyViolation", PolicyViolation, 3},
		{"RunFailed", RunFailed, 4},
		{"ConfigError", ConfigError, 5},
		{"PlanError", PlanError, 6},
		{"StoreError", StoreError, 7},
		{"Cancelled", Cancelled, 130},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.expected {
				t.Errorf("Exit code %s = %d, want %d", tt.name, tt.code, tt.expected)
			}
		})
	}
}

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "nil error returns success",
			err:      nil,
			expected: Success,
		},
		{
			name:     "cancelled context",
			err:      fmt.Errorf("run aborted: %w", context.Canceled),
			expected: Cancelled,
		},
		{
			name:     "risk gate denial",
			err:      errors.New(errors.ErrCodeExecDenied, "node b not approved"),
			expected: PolicyViolation,
		},
		{
			name:     "execution policy violation",
			err:      stderrors.New("policy violation: image not in allowlist: evil:latest"),
			expected: PolicyViolation,
		},
		{
			name:     "wrapped execution error",
			err:      fmt.Errorf("run: %w", &errors.ExecutionError{NodeID: "a", Cause: stderrors.New("boom")}),
			expected: RunFailed,
		},
		{
			name:     "timeout",
			err:      &errors.TimeoutError{NodeID: "a", Timeout: time.Second},
			expected: RunFailed,
		},
		{
			name:     "cycle",
			err:      &errors.CycleError{Path: []string{"a", "b", "a"}},
			expected: PlanError,
		},
		{
			name:     "no candidate",
			err:      errors.NewNoCandidateError("goal", []string{"candidate-1: cycle"}),
			expected: PlanError,
		},
		{
			name:     "invalid configuration",
			err:      errors.NewConfigInvalidError("concurrency must be positive"),
			expected: ConfigError,
		},
		{
			name:     "invalid policy file",
			err:      errors.New(errors.ErrCodePolicyInvalid, "bad policy"),
			expected: ConfigError,
		},
		{
			name:     "store failure",
			err:      &errors.PersistenceError{Path: "state.json", Cause: stderrors.New("disk full")},
			expected: StoreError,
		},
		{
			name:     "unknown flag",
			err:      stderrors.New("unknown flag: --foo"),
			expected: UsageError,
		},
		{
			name:     "wrong argument count",
			err:      stderrors.New("accepts 1 arg(s), received 0"),
			expected: UsageError,
		},
		{
			name:     "io code",
			err:      errors.NewFileNotFoundError("plan.yaml"),
			expected: GeneralError,
		},
		{
			name:     "plain error",
			err:      stderrors.New("something went wrong"),
			expected: GeneralError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineExitCode(tt.err); got != tt.expected {
				t.Errorf("DetermineExitCode(%v) = %d, want %d", tt.err, got, tt.expected)
			}
		})
	}
}

func TestGetExitCodeDescription(t *testing.T) {
	for _, code := range []int{Success, GeneralError, UsageError, PolicyViolation, RunFailed, ConfigError, PlanError, StoreError, Cancelled} {
		if GetExitCodeDescription(code) == "Unknown error" {
			t.Errorf("code %d has no description", code)
		}
	}
	if got := GetExitCodeDescription(99); got != "Unknown error" {
		t.Errorf("GetExitCodeDescription(99) = %q", got)
	}
}
