package exec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// RunDocker executes a step in a Docker container with security constraints
func RunDocker(ctx context.Context, step Step) (*Result, error) {
	return run(ctx, "docker", buildDockerArgs(step), "", nil)
}

// RunLocal executes a step as a child process of loom.
func RunLocal(ctx context.Context, step Step) (*Result, error) {
	if len(step.Cmd) == 0 {
		return nil, fmt.Errorf("step %s has no command", step.ID)
	}
	env := make([]string, 0, len(step.Env))
	for key, value := range step.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	return run(ctx, step.Cmd[0], step.Cmd[1:], step.Workdir, env)
}

func run(ctx context.Context, name string, args []string, dir string, env []string) (*Result, error) {
	startTime := time.Now()

	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- commands come from the plan file
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			// Command failed to start or was killed by the context
			return nil, fmt.Errorf("failed to execute %s: %w", name, err)
		}
	}

	return &Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
	}, nil
}

// buildDockerArgs constructs the Docker command arguments with security constraints
func buildDockerArgs(step Step) []string {
	args := []string{
		"run",
		"--rm", // Remove container after exit
	}

	// Network configuration
	if step.Network != "" {
		args = append(args, "--network", step.Network)
	}

	// Resource limits
	if step.CPU != "" {
		args = append(args, "--cpus", step.CPU)
	}
	if step.Mem != "" {
		args = append(args, "--memory", step.Mem)
	}

	// Security constraints
	args = append(args,
		"--read-only",         // Read-only root filesystem
		"--pids-limit", "256", // Limit number of processes
		"--cap-drop", "ALL",   // Drop all capabilities
	)

	// Working directory mount
	if step.Workdir != "" {
		args = append(args,
			"-v", fmt.Sprintf("%s:/workspace", step.Workdir),
			"-w", "/workspace",
		)
	}

	// Environment variables
	for _, key := range sortedKeys(step.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", key, step.Env[key]))
	}

	args = append(args, step.Image)
	args = append(args, step.Cmd...)

	return args
}

// ImagePresent reports whether image exists in the local Docker image
// cache. A missing image is pulled by the first node that uses it.
func ImagePresent(ctx context.Context, image string) (bool, error) {
	cmd := exec.CommandContext(ctx, "docker", "image", "inspect", "--format", "{{.Id}}", image) // #nosec G204 -- image comes from loom.yaml
	out, err := cmd.CombinedOutput()
	if err == nil {
		return true, nil
	}
	if strings.Contains(strings.ToLower(string(out)), "no such image") {
		return false, nil
	}
	return false, fmt.Errorf("inspect image %s: %w: %s", image, err, strings.TrimSpace(string(out)))
}
