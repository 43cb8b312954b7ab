package domain

import (
	"fmt"
	"regexp"
)

// NodeID identifies a graph node. It must stay stable across runs of the
// same plan because execution records are keyed by it.
type NodeID string

var (
	// nodeIDPattern allows letters, digits and the separators _ . : -
	// Must start with a letter or digit.
	nodeIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

	// maxNodeIDLength is the maximum allowed length for a node ID
	maxNodeIDLength = 128
)

// NewNodeID creates a new NodeID value object with validation
func NewNodeID(value string) (NodeID, error) {
	id := NodeID(value)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks if the node ID is valid
func (n NodeID) Validate() error {
	s := string(n)

	if s == "" {
		return fmt.Errorf("node ID cannot be empty")
	}

	if len(s) > maxNodeIDLength {
		return fmt.Errorf("node ID %q exceeds maximum length of %d characters", s, maxNodeIDLength)
	}

	if !nodeIDPattern.MatchString(s) {
		return fmt.Errorf("node ID %q must start with a letter or digit and contain only letters, digits, '_', '.', ':' or '-'", s)
	}

	return nil
}

// String returns the string representation
func (n NodeID) String() string {
	return string(n)
}
