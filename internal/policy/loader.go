package policy

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/graph"
)

// DefaultMaxAutoApply is the per-run auto-apply cap used when none is set.
const DefaultMaxAutoApply = 10

// LoadPolicy reads a Policy from a YAML file and validates it.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(path)
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, errors.Wrap(errors.ErrCodePolicyInvalid, "unmarshal policy", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// DefaultPolicy returns a policy that auto-applies low-risk nodes and
// protects nothing.
func DefaultPolicy() *Policy {
	return &Policy{
		Version: "1",
		Risk: RiskPolicy{
			ProtectedModules: []string{},
			AutoApply: AutoApplyPolicy{
				Enabled:   true,
				MaxPerRun: DefaultMaxAutoApply,
			},
		},
	}
}

// SavePolicy writes a Policy to a YAML file.
func SavePolicy(policy *Policy, path string) error {
	data, err := yaml.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create policy directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write policy file: %w", err)
	}

	return nil
}

// Validate checks patterns, the auto-apply cap and overrides.
func (p *Policy) Validate() error {
	if p.Risk.AutoApply.MaxPerRun < 0 {
		return errors.New(errors.ErrCodePolicyInvalid,
			fmt.Sprintf("risk.auto_apply.max_per_run must not be negative, got %d", p.Risk.AutoApply.MaxPerRun))
	}
	for _, pattern := range p.Risk.ProtectedModules {
		if _, err := path.Match(pattern, ""); err != nil {
			return errors.Wrap(errors.ErrCodePolicyInvalid,
				fmt.Sprintf("invalid protected module pattern %q", pattern), err)
		}
	}
	for taskType, level := range p.Risk.Overrides {
		if !validLevel(graph.RiskLevel(level)) {
			return errors.New(errors.ErrCodePolicyInvalid,
				fmt.Sprintf("override for %q has unknown risk level %q", taskType, level)).
				WithSuggestion("Use one of trivial, low, medium, high, critical")
		}
	}
	return nil
}

func validLevel(l graph.RiskLevel) bool {
	switch l {
	case graph.RiskTrivial, graph.RiskLow, graph.RiskMedium, graph.RiskHigh, graph.RiskCritical:
		return true
	}
	return false
}
