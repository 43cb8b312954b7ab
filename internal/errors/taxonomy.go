package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Coded is implemented by every error in this package.
type Coded interface {
	error
	ErrorCode() ErrorCode
}

// CycleError reports that a graph is not acyclic. It is fatal for the
// candidate that contains the cycle.
type CycleError struct {
	// Path lists the node ids forming the cycle, first id repeated at the end.
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("[%s] dependency cycle detected", ErrCodeGraphCycle)
	}
	return fmt.Sprintf("[%s] dependency cycle detected: %s", ErrCodeGraphCycle, strings.Join(e.Path, " -> "))
}

// ErrorCode returns GRAPH-001.
func (e *CycleError) ErrorCode() ErrorCode { return ErrCodeGraphCycle }

// ScoringError marks a candidate as unscorable. The candidate is excluded
// from selection but the run continues.
type ScoringError struct {
	CandidateID string
	Reason      string
	Cause       error
}

func (e *ScoringError) Error() string {
	msg := fmt.Sprintf("[%s] candidate %s cannot be scored: %s", ErrCodePlanScoring, e.CandidateID, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ScoringError) Unwrap() error { return e.Cause }

// ErrorCode returns PLAN-003.
func (e *ScoringError) ErrorCode() ErrorCode { return ErrCodePlanScoring }

// ExecutionError is a per-node execution failure.
type ExecutionError struct {
	NodeID string
	Cause  error
}

func (e *ExecutionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("[%s] node %s failed", ErrCodeExecFailed, e.NodeID)
	}
	return fmt.Sprintf("[%s] node %s failed: %v", ErrCodeExecFailed, e.NodeID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// ErrorCode returns EXEC-001.
func (e *ExecutionError) ErrorCode() ErrorCode { return ErrCodeExecFailed }

// TimeoutError is a per-node failure caused by exceeding the node timeout.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("[%s] node %s exceeded timeout of %s", ErrCodeExecTimeout, e.NodeID, e.Timeout)
}

// ErrorCode returns EXEC-002.
func (e *TimeoutError) ErrorCode() ErrorCode { return ErrCodeExecTimeout }

// PersistenceError is a checkpoint or store write failure.
type PersistenceError struct {
	Op    string
	Path  string
	Cause error
}

func (e *PersistenceError) Error() string {
	target := e.Op
	if e.Path != "" {
		target += " " + e.Path
	}
	return fmt.Sprintf("[%s] %s: %v", ErrCodeStoreWrite, target, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// ErrorCode returns STORE-001.
func (e *PersistenceError) ErrorCode() ErrorCode { return ErrCodeStoreWrite }

// CodeOf returns the code of the first coded error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var coded Coded
	if stderrors.As(err, &coded) {
		return coded.ErrorCode(), true
	}
	return "", false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if coded, ok := err.(Coded); ok && coded.ErrorCode() == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}
