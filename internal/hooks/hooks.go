// Package hooks runs user commands and webhooks when a run finishes or a
// node fails. Hooks are configured in loom.yaml and receive events through
// a Sink attached to the engine's event dispatcher.
package hooks

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Trigger is a run lifecycle moment that can fire hooks.
type Trigger string

const (
	TriggerRunCompleted Trigger = "on_run_completed"
	TriggerRunFailed    Trigger = "on_run_failed"
	TriggerNodeFailed   Trigger = "on_node_failed"
	TriggerNodeBlocked  Trigger = "on_node_blocked"
)

// Triggers lists every valid trigger.
var Triggers = []Trigger{TriggerRunCompleted, TriggerRunFailed, TriggerNodeFailed, TriggerNodeBlocked}

// DefaultTimeout bounds a hook that does not set its own timeout.
const DefaultTimeout = 30 * time.Second

// Payload describes what fired a hook.
type Payload struct {
	Trigger   Trigger   `json:"trigger"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Blocked   int       `json:"blocked,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hook is one configured action.
type Hook interface {
	Name() string
	Triggers() []Trigger
	Execute(ctx context.Context, p Payload) error
}

// Config is the loom.yaml form of a hook.
//
//	hooks:
//	  - name: notify
//	    type: webhook
//	    on: [on_run_failed]
//	    url: https://example.com/loom
type Config struct {
	Name    string            `mapstructure:"name" json:"name" yaml:"name"`
	Type    string            `mapstructure:"type" json:"type" yaml:"type"`
	On      []Trigger         `mapstructure:"on" json:"on" yaml:"on"`
	Command []string          `mapstructure:"command" json:"command,omitempty" yaml:"command,omitempty"`
	URL     string            `mapstructure:"url" json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout time.Duration     `mapstructure:"timeout" json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate checks the fields every hook type needs.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("hook name is required")
	}
	if len(c.On) == 0 {
		return fmt.Errorf("hook %s: at least one trigger is required", c.Name)
	}
	for _, t := range c.On {
		if !slices.Contains(Triggers, t) {
			return fmt.Errorf("hook %s: unknown trigger %q", c.Name, t)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("hook %s: timeout must not be negative", c.Name)
	}
	switch c.Type {
	case "script":
		if len(c.Command) == 0 {
			return fmt.Errorf("hook %s: command is required", c.Name)
		}
	case "webhook":
		if c.URL == "" {
			return fmt.Errorf("hook %s: url is required", c.Name)
		}
	default:
		return fmt.Errorf("hook %s: unknown type %q", c.Name, c.Type)
	}
	return nil
}

// Result records one hook execution.
type Result struct {
	Hook     string        `json:"hook"`
	Trigger  Trigger       `json:"trigger"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
