package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Graph errors (GRAPH-001 to GRAPH-099)
	ErrCodeGraphCycle         ErrorCode = "GRAPH-001"
	ErrCodeGraphSelfLoop      ErrorCode = "GRAPH-002"
	ErrCodeGraphDuplicateEdge ErrorCode = "GRAPH-003"
	ErrCodeGraphUnknownNode   ErrorCode = "GRAPH-004"
	ErrCodeGraphDuplicateNode ErrorCode = "GRAPH-005"
	ErrCodeGraphInvalidNode   ErrorCode = "GRAPH-006"

	// Plan errors (PLAN-001 to PLAN-099)
	ErrCodePlanNoCandidate    ErrorCode = "PLAN-001"
	ErrCodePlanGeneration     ErrorCode = "PLAN-002"
	ErrCodePlanScoring        ErrorCode = "PLAN-003"
	ErrCodePlanInvalidWeights ErrorCode = "PLAN-004"
	ErrCodePlanNotFound       ErrorCode = "PLAN-005"

	// Execution errors (EXEC-001 to EXEC-099)
	ErrCodeExecFailed    ErrorCode = "EXEC-001"
	ErrCodeExecTimeout   ErrorCode = "EXEC-002"
	ErrCodeExecCancelled ErrorCode = "EXEC-003"
	ErrCodeExecBlocked   ErrorCode = "EXEC-004"
	ErrCodeExecDenied    ErrorCode = "EXEC-005"

	// Store errors (STORE-001 to STORE-099)
	ErrCodeStoreWrite   ErrorCode = "STORE-001"
	ErrCodeStoreRead    ErrorCode = "STORE-002"
	ErrCodeStoreCorrupt ErrorCode = "STORE-003"

	// Refinement errors (REFINE-001 to REFINE-099)
	ErrCodeRefineJudge ErrorCode = "REFINE-001"
	ErrCodeRefinePatch ErrorCode = "REFINE-002"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid  ErrorCode = "CONFIG-001"
	ErrCodeConfigNotFound ErrorCode = "CONFIG-002"
	ErrCodePolicyInvalid  ErrorCode = "CONFIG-003"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeDirectoryFailed ErrorCode = "IO-004"
	ErrCodeFileUnmarshal   ErrorCode = "IO-005"
	ErrCodeFileMarshal     ErrorCode = "IO-006"
)

// LoomError is an error with a code, suggestions, and an optional documentation link
type LoomError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *LoomError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)

	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			fmt.Fprintf(&b, "\n  • %s", suggestion)
		}
	}

	if e.DocsURL != "" {
		fmt.Fprintf(&b, "\n\nDocumentation: %s", e.DocsURL)
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *LoomError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the code of the error
func (e *LoomError) ErrorCode() ErrorCode {
	return e.Code
}

// New creates a new LoomError
func New(code ErrorCode, message string) *LoomError {
	return &LoomError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new LoomError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *LoomError {
	return &LoomError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *LoomError) WithSuggestion(suggestion string) *LoomError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *LoomError) WithSuggestions(suggestions ...string) *LoomError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *LoomError) WithDocs(url string) *LoomError {
	e.DocsURL = url
	return e
}

// NewNoCandidateError reports that no plan candidate survived scoring.
// Each diagnostic names one candidate and why it was rejected.
func NewNoCandidateError(goal string, diagnostics []string) *LoomError {
	msg := "no valid plan candidate"
	if goal != "" {
		msg = fmt.Sprintf("no valid plan candidate for goal %q", goal)
	}
	if len(diagnostics) > 0 {
		msg += ":\n  - " + strings.Join(diagnostics, "\n  - ")
	}
	return New(ErrCodePlanNoCandidate, msg).
		WithSuggestion("Run 'loom validate --plan <file>' on each candidate plan").
		WithSuggestion("Increase --candidates or switch the variance strategy").
		WithDocs("https://github.com/felixgeelhaar/loom#planning")
}

// NewPlanNotFoundError creates a plan file not found error
func NewPlanNotFoundError(path string) *LoomError {
	return New(ErrCodePlanNotFound, fmt.Sprintf("plan file not found: %s", path)).
		WithSuggestion("Save a selected plan with 'loom plan --plan <variants> --out <file>'").
		WithSuggestion("Check if the file path is correct")
}

// NewInvalidWeightsError creates a scoring weights error
func NewInvalidWeightsError(details string) *LoomError {
	return New(ErrCodePlanInvalidWeights, fmt.Sprintf("invalid scoring weights: %s", details)).
		WithSuggestion("Set non-negative values under scoring.weights in loom.yaml").
		WithDocs("https://github.com/felixgeelhaar/loom#scoring")
}

// NewConfigInvalidError creates a configuration validation error
func NewConfigInvalidError(details string) *LoomError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", details)).
		WithSuggestion("Run 'loom validate --config <file>' to see validation errors")
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *LoomError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *LoomError {
	return Wrap(ErrCodeFileUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}
