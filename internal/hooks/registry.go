package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Factory creates a hook from its configuration.
type Factory func(cfg Config) (Hook, error)

// maxConcurrency limits hooks running for one trigger.
const maxConcurrency = 4

// Registry holds the hooks for each trigger.
type Registry struct {
	mu        sync.RWMutex
	hooks     map[Trigger][]Hook
	timeouts  map[string]time.Duration
	factories map[string]Factory
}

// NewRegistry creates a registry with the script and webhook factories.
func NewRegistry() *Registry {
	return &Registry{
		hooks:    make(map[Trigger][]Hook),
		timeouts: make(map[string]time.Duration),
		factories: map[string]Factory{
			"script":  NewScriptHook,
			"webhook": NewWebhookHook,
		},
	}
}

// Load validates and registers every configured hook.
func Load(configs []Config) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range configs {
		if err := r.RegisterFromConfig(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a hook for each of its triggers.
func (r *Registry) Register(hook Hook, timeout time.Duration) error {
	if hook == nil {
		return fmt.Errorf("hook cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range hook.Triggers() {
		r.hooks[t] = append(r.hooks[t], hook)
	}
	r.timeouts[hook.Name()] = timeout
	return nil
}

// RegisterFromConfig creates a hook with the factory for cfg.Type and
// registers it.
func (r *Registry) RegisterFromConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown hook type: %s", cfg.Type)
	}

	hook, err := factory(cfg)
	if err != nil {
		return fmt.Errorf("failed to create hook %s: %w", cfg.Name, err)
	}
	return r.Register(hook, cfg.Timeout)
}

// Len returns the number of registered hooks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.timeouts)
}

// Fire runs every hook registered for p.Trigger, each under its own
// timeout, and returns their results in registration order.
func (r *Registry) Fire(ctx context.Context, p Payload) []Result {
	r.mu.RLock()
	hooks := append([]Hook(nil), r.hooks[p.Trigger]...)
	timeouts := make([]time.Duration, len(hooks))
	for i, h := range hooks {
		timeouts[i] = r.timeouts[h.Name()]
	}
	r.mu.RUnlock()

	if len(hooks) == 0 {
		return nil
	}

	results := make([]Result, len(hooks))
	var eg errgroup.Group
	eg.SetLimit(maxConcurrency)
	for i, h := range hooks {
		i, h := i, h
		eg.Go(func() error {
			hookCtx, cancel := context.WithTimeout(ctx, timeouts[i])
			defer cancel()

			start := time.Now()
			err := h.Execute(hookCtx, p)
			results[i] = Result{
				Hook:     h.Name(),
				Trigger:  p.Trigger,
				Success:  err == nil,
				Duration: time.Since(start),
			}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
