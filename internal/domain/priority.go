package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Priority is a scheduling priority in [0.0, 1.0]; higher runs earlier
// when a wave has to be split into sub-batches.
type Priority float64

// Label priorities accepted in plan files alongside plain numbers.
const (
	PriorityP0 Priority = 1.0 // Critical - must have
	PriorityP1 Priority = 0.6 // Important - should have
	PriorityP2 Priority = 0.3 // Nice to have - could have
)

// NewPriority creates a new Priority value object with validation
func NewPriority(value float64) (Priority, error) {
	p := Priority(value)
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return p, nil
}

// ParsePriority accepts either a label (P0, P1, P2) or a number in [0,1].
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return 0, nil
	case "P0":
		return PriorityP0, nil
	case "P1":
		return PriorityP1, nil
	case "P2":
		return PriorityP2, nil
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid priority %q: must be P0, P1, P2 or a number between 0 and 1", s)
	}
	return NewPriority(v)
}

// Validate checks if the priority is valid
func (p Priority) Validate() error {
	v := float64(p)
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("invalid priority %v: must be between 0 and 1", v)
	}
	return nil
}

// Float returns the priority as a float64
func (p Priority) Float() float64 {
	return float64(p)
}

// IsHigherThan checks if this priority is higher than another
func (p Priority) IsHigherThan(other Priority) bool {
	return p > other
}
