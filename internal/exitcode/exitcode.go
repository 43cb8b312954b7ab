package exitcode

import (
	"context"
	stderrors "errors"
	"os"
	"strings"

	"github.com/felixgeelhaar/loom/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// PolicyViolation indicates a risk gate or execution policy refusal
	PolicyViolation = 3

	// RunFailed indicates that the run finished with failed or blocked nodes
	RunFailed = 4

	// ConfigError indicates invalid configuration or policy files
	ConfigError = 5

	// PlanError indicates that no valid plan could be produced or loaded
	PlanError = 6

	// StoreError indicates the execution history could not be read or written
	StoreError = 7

	// Cancelled indicates the run was interrupted
	Cancelled = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps the code of the first coded error in err's chain
// to an exit code. Uncoded errors fall back to message inspection for the
// usage errors cobra produces.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}
	if stderrors.Is(err, context.Canceled) {
		return Cancelled
	}

	if code, ok := errors.CodeOf(err); ok {
		return fromCode(code)
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "policy violation") {
		return PolicyViolation
	}
	if strings.Contains(errMsg, "invalid flag") || strings.Contains(errMsg, "unknown command") ||
		strings.Contains(errMsg, "unknown flag") || strings.Contains(errMsg, "unknown shorthand flag") {
		return UsageError
	}
	if strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "missing argument") ||
		strings.Contains(errMsg, "accepts") && strings.Contains(errMsg, "arg(s)") {
		return UsageError
	}

	// Default to general error
	return GeneralError
}

func fromCode(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeExecDenied:
		return PolicyViolation
	case errors.ErrCodeExecCancelled:
		return Cancelled
	case errors.ErrCodeConfigInvalid, errors.ErrCodeConfigNotFound, errors.ErrCodePolicyInvalid:
		return ConfigError
	}

	switch prefix(code) {
	case "EXEC":
		return RunFailed
	case "PLAN", "GRAPH", "REFINE":
		return PlanError
	case "STORE":
		return StoreError
	case "CONFIG":
		return ConfigError
	}
	return GeneralError
}

func prefix(code errors.ErrorCode) string {
	s := string(code)
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case PolicyViolation:
		return "Policy violation"
	case RunFailed:
		return "Run finished with failed or blocked nodes"
	case ConfigError:
		return "Configuration error"
	case PlanError:
		return "Plan error"
	case StoreError:
		return "Execution history error"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown error"
	}
}
