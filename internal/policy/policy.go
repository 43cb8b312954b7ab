// Package policy assesses the risk of plan nodes and decides which of them
// may be applied without human review.
package policy

// Policy is the risk policy file.
type Policy struct {
	Version string     `yaml:"version,omitempty" json:"version,omitempty"`
	Risk    RiskPolicy `yaml:"risk" json:"risk"`
}

// RiskPolicy configures risk assessment and the auto-apply gate.
type RiskPolicy struct {
	// ProtectedModules are glob patterns. A node whose modules or write
	// targets match one of them is always critical.
	ProtectedModules []string        `yaml:"protected_modules,omitempty" json:"protected_modules,omitempty"`
	AutoApply        AutoApplyPolicy `yaml:"auto_apply" json:"auto_apply"`
	// Overrides raises the level of individual task types, keyed by task
	// type. An override below the level the rules assign is ignored.
	Overrides map[string]string `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// AutoApplyPolicy bounds how many low-risk nodes may bypass review per run.
type AutoApplyPolicy struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	MaxPerRun int  `yaml:"max_per_run" json:"max_per_run"`
}
