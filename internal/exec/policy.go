package exec

import (
	"fmt"
	"strings"
)

// Policy constrains how node commands may run.
type Policy struct {
	AllowLocal bool         `mapstructure:"allow_local" json:"allow_local" yaml:"allow_local"`
	Docker     DockerPolicy `mapstructure:"docker" json:"docker" yaml:"docker"`
}

// DockerPolicy constrains container execution.
type DockerPolicy struct {
	Required       bool     `mapstructure:"required" json:"required" yaml:"required"`
	Image          string   `mapstructure:"image" json:"image,omitempty" yaml:"image,omitempty"`
	ImageAllowlist []string `mapstructure:"image_allowlist" json:"image_allowlist,omitempty" yaml:"image_allowlist,omitempty"`
	Network        string   `mapstructure:"network" json:"network,omitempty" yaml:"network,omitempty"`
	CPULimit       string   `mapstructure:"cpu_limit" json:"cpu_limit,omitempty" yaml:"cpu_limit,omitempty"`
	MemLimit       string   `mapstructure:"mem_limit" json:"mem_limit,omitempty" yaml:"mem_limit,omitempty"`
}

// DefaultPolicy allows local execution and runs containers without network.
func DefaultPolicy() Policy {
	return Policy{
		AllowLocal: true,
		Docker: DockerPolicy{
			Image:   "alpine:latest",
			Network: "none",
		},
	}
}

// EnforcePolicy validates a step against policy constraints
func EnforcePolicy(step Step, pol Policy) error {
	if !pol.AllowLocal && step.Runner != RunnerDocker {
		return fmt.Errorf("policy violation: local execution not allowed (Docker-only enforced)")
	}
	if pol.Docker.Required && step.Runner != RunnerDocker {
		return fmt.Errorf("policy violation: Docker execution required")
	}

	if step.Runner == RunnerDocker {
		return enforceDockerPolicy(step, pol.Docker)
	}
	return nil
}

// enforceDockerPolicy validates Docker-specific constraints
func enforceDockerPolicy(step Step, dockerPolicy DockerPolicy) error {
	if len(dockerPolicy.ImageAllowlist) > 0 {
		allowed := false
		for _, allowedImage := range dockerPolicy.ImageAllowlist {
			if matchesImagePattern(step.Image, allowedImage) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("policy violation: image not in allowlist: %s", step.Image)
		}
	}

	if step.Network != "" && dockerPolicy.Network != "" && step.Network != dockerPolicy.Network {
		return fmt.Errorf("policy violation: network mode '%s' not allowed (required: '%s')",
			step.Network, dockerPolicy.Network)
	}
	return nil
}

// matchesImagePattern checks if an image matches a pattern.
// Supports exact match and trailing wildcard patterns.
func matchesImagePattern(image, pattern string) bool {
	if image == pattern {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(image, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
