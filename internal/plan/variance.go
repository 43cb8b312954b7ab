// Package plan generates competing execution plans for a goal, scores their
// structure and selects a winner.
package plan

import (
	"fmt"
	"strings"
)

// Strategy selects how variance is introduced between candidates.
type Strategy string

const (
	StrategyPrompting   Strategy = "prompting"
	StrategyTemperature Strategy = "temperature"
	StrategyConstraints Strategy = "constraints"
	StrategyMixed       Strategy = "mixed"
)

// Prompt styles used by StrategyPrompting.
const (
	StyleParallelFirst = "parallel_first"
	StyleMinimal       = "minimal"
	StyleThorough      = "thorough"
	StyleBalanced      = "balanced"
	StyleDefault       = "default"
)

var (
	promptStyles = []string{StyleParallelFirst, StyleMinimal, StyleThorough, StyleBalanced, StyleDefault}
	temperatures = []float64{0.2, 0.3, 0.4, 0.5, 0.6}
	constraints  = []string{"max_depth=2", "min_leaves=3", "no_shared_writes", "max_width=4", ""}
)

// ParseStrategy validates a strategy name. The empty string means prompting.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyPrompting:
		return StrategyPrompting, nil
	case StrategyTemperature:
		return StrategyTemperature, nil
	case StrategyConstraints:
		return StrategyConstraints, nil
	case StrategyMixed:
		return StrategyMixed, nil
	}
	return "", fmt.Errorf("unknown variance strategy %q (want prompting, temperature, constraints or mixed)", s)
}

// VarianceConfig is the generation setting of one candidate.
type VarianceConfig struct {
	Index       int      `json:"index" yaml:"index"`
	Strategy    Strategy `json:"strategy" yaml:"strategy"`
	PromptStyle string   `json:"prompt_style,omitempty" yaml:"prompt_style,omitempty"`
	Temperature float64  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Constraint  string   `json:"constraint,omitempty" yaml:"constraint,omitempty"`
}

func (v VarianceConfig) String() string {
	parts := []string{string(v.Strategy)}
	if v.PromptStyle != "" {
		parts = append(parts, "style="+v.PromptStyle)
	}
	if v.Temperature != 0 {
		parts = append(parts, fmt.Sprintf("temperature=%.1f", v.Temperature))
	}
	if v.Constraint != "" {
		parts = append(parts, "constraint="+v.Constraint)
	}
	return strings.Join(parts, " ")
}

// VarianceConfigs returns count configurations for the strategy. Settings
// cycle when count exceeds the number of distinct values.
func VarianceConfigs(strategy Strategy, count int) ([]VarianceConfig, error) {
	if count <= 0 {
		return nil, fmt.Errorf("candidate count must be positive, got %d", count)
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if strategy == "" {
		strategy = StrategyPrompting
	}

	configs := make([]VarianceConfig, count)
	for i := range configs {
		c := VarianceConfig{Index: i, Strategy: strategy}
		switch strategy {
		case StrategyPrompting:
			c.PromptStyle = promptStyles[i%len(promptStyles)]
		case StrategyTemperature:
			c.Temperature = temperatures[i%len(temperatures)]
		case StrategyConstraints:
			c.PromptStyle = StyleDefault
			c.Constraint = constraints[i%len(constraints)]
		case StrategyMixed:
			c.PromptStyle = promptStyles[i%len(promptStyles)]
			c.Temperature = temperatures[(i/len(promptStyles))%len(temperatures)]
		}
		configs[i] = c
	}
	return configs, nil
}
