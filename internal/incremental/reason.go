// Package incremental decides, for each run, which nodes can be served from
// the execution history and which must run again.
package incremental

import (
	"fmt"
)

// SkipReason explains a skip or execute decision. The string values are a
// stable public vocabulary: they appear in checkpoints, events and CLI output.
type SkipReason string

const (
	ReasonUnchangedSuccess  SkipReason = "unchanged_success"
	ReasonNoCache           SkipReason = "no_cache"
	ReasonHashChanged       SkipReason = "hash_changed"
	ReasonPreviousFailed    SkipReason = "previous_failed"
	ReasonForceRerun        SkipReason = "force_rerun"
	ReasonDependencyChanged SkipReason = "dependency_changed"
)

var reasons = []SkipReason{
	ReasonUnchangedSuccess,
	ReasonNoCache,
	ReasonHashChanged,
	ReasonPreviousFailed,
	ReasonForceRerun,
	ReasonDependencyChanged,
}

// Reasons returns every known reason.
func Reasons() []SkipReason {
	return append([]SkipReason(nil), reasons...)
}

// ParseSkipReason rejects values outside the vocabulary.
func ParseSkipReason(s string) (SkipReason, error) {
	for _, r := range reasons {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown skip reason %q", s)
}

// String returns the wire value.
func (r SkipReason) String() string {
	return string(r)
}

// MarshalText implements encoding.TextMarshaler.
func (r SkipReason) MarshalText() ([]byte, error) {
	if _, err := ParseSkipReason(string(r)); err != nil {
		return nil, err
	}
	return []byte(r), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *SkipReason) UnmarshalText(text []byte) error {
	parsed, err := ParseSkipReason(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Skips reports whether the reason means the node is served from cache.
func (r SkipReason) Skips() bool {
	return r == ReasonUnchangedSuccess
}
