package exec

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestBuildDockerArgs(t *testing.T) {
	security := []string{"--read-only", "--pids-limit", "256", "--cap-drop", "ALL"}
	with := func(parts ...[]string) []string {
		var out []string
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	tests := []struct {
		name string
		step Step
		want []string
	}{
		{
			name: "basic step",
			step: Step{Image: "alpine:latest", Cmd: []string{"echo", "hello"}},
			want: with([]string{"run", "--rm"}, security, []string{"alpine:latest", "echo", "hello"}),
		},
		{
			name: "network and limits",
			step: Step{Image: "alpine:latest", Cmd: []string{"true"}, Network: "none", CPU: "2", Mem: "1g"},
			want: with(
				[]string{"run", "--rm", "--network", "none", "--cpus", "2", "--memory", "1g"},
				security,
				[]string{"alpine:latest", "true"},
			),
		},
		{
			name: "workdir and sorted environment",
			step: Step{
				Image:   "golang:1.22",
				Cmd:     []string{"go", "test", "./..."},
				Workdir: "/project",
				Env:     map[string]string{"GOOS": "linux", "GOARCH": "amd64"},
			},
			want: with(
				[]string{"run", "--rm"},
				security,
				[]string{"-v", "/project:/workspace", "-w", "/workspace"},
				[]string{"-e", "GOARCH=amd64", "-e", "GOOS=linux"},
				[]string{"golang:1.22", "go", "test", "./..."},
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildDockerArgs(tt.step)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("buildDockerArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunLocal(t *testing.T) {
	ctx := context.Background()

	t.Run("captures output and environment", func(t *testing.T) {
		res, err := RunLocal(ctx, Step{
			ID:  "echo",
			Cmd: []string{"sh", "-c", "echo $GREETING; echo oops >&2"},
			Env: map[string]string{"GREETING": "hello"},
		})
		if err != nil {
			t.Fatalf("RunLocal() error = %v", err)
		}
		if res.ExitCode != 0 {
			t.Errorf("ExitCode = %d, want 0", res.ExitCode)
		}
		if strings.TrimSpace(res.Stdout) != "hello" {
			t.Errorf("Stdout = %q, want hello", res.Stdout)
		}
		if strings.TrimSpace(res.Stderr) != "oops" {
			t.Errorf("Stderr = %q, want oops", res.Stderr)
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		res, err := RunLocal(ctx, Step{ID: "fail", Cmd: []string{"sh", "-c", "exit 3"}})
		if err != nil {
			t.Fatalf("RunLocal() error = %v", err)
		}
		if res.ExitCode != 3 {
			t.Errorf("ExitCode = %d, want 3", res.ExitCode)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		if _, err := RunLocal(ctx, Step{ID: "missing", Cmd: []string{"loom-no-such-binary"}}); err == nil {
			t.Error("RunLocal() expected error for missing binary")
		}
	})

	t.Run("no command", func(t *testing.T) {
		if _, err := RunLocal(ctx, Step{ID: "empty"}); err == nil {
			t.Error("RunLocal() expected error for empty command")
		}
	})

	t.Run("context cancels the process", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		if _, err := RunLocal(ctx, Step{ID: "sleep", Cmd: []string{"sleep", "5"}}); err == nil {
			t.Error("RunLocal() expected error after cancellation")
		}
		if time.Since(start) > 2*time.Second {
			t.Error("RunLocal() did not stop on cancellation")
		}
	})
}
