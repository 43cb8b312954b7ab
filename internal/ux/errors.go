package ux

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/loom/internal/errors"
)

// ErrorWithSuggestion wraps an error with a recovery hint for the CLI.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v\n\n💡 Suggestion: %s", e.Err, e.Suggestion)
}

func (e *ErrorWithSuggestion) Unwrap() error { return e.Err }

// NewErrorWithSuggestion returns nil for a nil err.
func NewErrorWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{Err: err, Suggestion: suggestion}
}

var codeHints = map[errors.ErrorCode]string{
	errors.ErrCodeGraphCycle:  "Remove one of the depends_on entries along the cycle, then run 'loom validate'",
	errors.ErrCodeExecTimeout: "Raise the node timeout or scheduling.node_timeout in loom.yaml",
	errors.ErrCodeExecFailed:  "Fix the failing node, then run 'loom retry <node>'",
	errors.ErrCodeStoreWrite:  "Check that the .loom directory is writable",
}

// messageHint matches when the error text contains every one of its parts.
type messageHint struct {
	parts      []string
	suggestion string
}

// First match wins, so narrower hints come first.
var messageHints = []messageHint{
	{[]string{"no such file or directory", "policy.yaml"}, "Remove risk.policy_file from loom.yaml to use the built-in risk policy"},
	{[]string{"no such file or directory", "plan"}, "Pass an existing plan file with --plan"},
	{[]string{"permission denied", "/var/run/docker.sock"}, "Add your user to the docker group: sudo usermod -aG docker $USER (then logout/login)"},
	{[]string{"docker", "daemon"}, "Start Docker Desktop or Docker daemon, then try again"},
	{[]string{"permission denied"}, "Check file permissions and ensure you have access to the required files/directories"},
	{[]string{"policy violation"}, "Adjust exec.policy in loom.yaml or run the node with an allowed runner and image"},
	{[]string{"Cannot acquire directory lock"}, "Another loom process holds the execution history; wait for it to finish"},
}

// EnhanceError adds a suggestion to errors that carry none. Coded errors
// with their own suggestions pass through unchanged.
func EnhanceError(err error) error {
	if err == nil {
		return nil
	}

	var le *errors.LoomError
	if stderrors.As(err, &le) && len(le.Suggestions) > 0 {
		return err
	}
	if code, ok := errors.CodeOf(err); ok {
		if hint, ok := codeHints[code]; ok {
			return NewErrorWithSuggestion(err, hint)
		}
	}

	msg := err.Error()
	for _, h := range messageHints {
		if containsAll(msg, h.parts) {
			return NewErrorWithSuggestion(err, h.suggestion)
		}
	}
	if strings.Contains(msg, "failed to") {
		return NewErrorWithSuggestion(err, "Next steps: "+SuggestNextSteps())
	}
	return err
}

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

// FormatError enhances err and prefixes it with context.
func FormatError(err error, context string) error {
	if err == nil {
		return nil
	}
	enhanced := EnhanceError(err)
	if context == "" {
		return enhanced
	}
	return fmt.Errorf("%s: %w", context, enhanced)
}
