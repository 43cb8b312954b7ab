// Package exec runs node commands as local processes or in Docker
// containers and records an audit manifest per execution.
package exec

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/felixgeelhaar/loom/internal/fingerprint"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/log"
	"github.com/felixgeelhaar/loom/internal/schedule"
)

// InputEnvPrefix prefixes the environment variables carrying node inputs.
const InputEnvPrefix = "LOOM_INPUT_"

// Executor runs the command of a node. Nodes without a command complete
// without running anything.
type Executor struct {
	Runner      string
	Policy      Policy
	Workdir     string
	Env         map[string]string
	ManifestDir string
	DryRun      bool
	Logger      *log.Logger
}

// NewExecutor creates an executor with the default policy.
func NewExecutor(runner, workdir string) *Executor {
	if runner == "" {
		runner = RunnerLocal
	}
	return &Executor{Runner: runner, Policy: DefaultPolicy(), Workdir: workdir}
}

// Execute implements schedule.Executor. A non-zero exit code fails the
// node with the last line of stderr. The output fingerprint covers stdout
// and every file the node declares in Writes.
func (e *Executor) Execute(ctx context.Context, n graph.Node) (schedule.Result, error) {
	logger := log.OrDiscard(e.Logger).ForNode(n.ID)
	if len(n.Command) == 0 {
		return schedule.Result{Output: "no command", Fingerprint: fingerprint.Bytes(nil)}, nil
	}

	step := e.createStep(n)
	if err := EnforcePolicy(step, e.Policy); err != nil {
		return schedule.Result{}, err
	}

	if e.DryRun {
		logger.Info("dry run", "runner", step.Runner, "command", strings.Join(step.Cmd, " "))
		return schedule.Result{Output: "dry run: " + strings.Join(step.Cmd, " ")}, nil
	}

	var (
		res *Result
		err error
	)
	if step.Runner == RunnerDocker {
		res, err = RunDocker(ctx, step)
	} else {
		res, err = RunLocal(ctx, step)
	}
	if err != nil {
		return schedule.Result{}, err
	}

	manifest := CreateManifest(step, res)
	for _, w := range n.Writes {
		if err := manifest.AddOutputHash(w, e.resolve(w)); err != nil {
			logger.Warn("output not hashed", "path", w, "error", err)
		}
	}
	manifest.InputFingerprint, _ = fingerprint.Node(n)
	manifest.OutputFingerprint = outputFingerprint(res.Stdout, manifest.OutputHashes)

	if e.ManifestDir != "" {
		if path, err := SaveManifest(manifest, e.ManifestDir); err != nil {
			logger.Warn("failed to save manifest", "error", err)
		} else {
			logger.Debug("manifest saved", "path", path)
		}
	}

	out := schedule.Result{Output: res.Stdout, Fingerprint: manifest.OutputFingerprint}
	if res.ExitCode != 0 {
		return out, fmt.Errorf("exit code %d: %s", res.ExitCode, lastLine(res.Stderr))
	}
	logger.Debug("command completed", "duration", res.Duration)
	return out, nil
}

// createStep converts a node to an execution step
func (e *Executor) createStep(n graph.Node) Step {
	step := Step{
		ID:      n.ID,
		Runner:  e.Runner,
		Cmd:     n.Command,
		Workdir: e.Workdir,
		Env:     make(map[string]string, len(e.Env)+len(n.Inputs)),
	}
	for k, v := range e.Env {
		step.Env[k] = v
	}
	for k, v := range n.Inputs {
		step.Env[envName(k)] = v
	}

	if step.Runner == RunnerDocker {
		step.Image = e.Policy.Docker.Image
		if img, ok := n.Inputs["image"]; ok && img != "" {
			step.Image = img
		}
		step.CPU = e.Policy.Docker.CPULimit
		step.Mem = e.Policy.Docker.MemLimit
		step.Network = e.Policy.Docker.Network
	}
	return step
}

func (e *Executor) resolve(path string) string {
	if filepath.IsAbs(path) || e.Workdir == "" {
		return path
	}
	return filepath.Join(e.Workdir, path)
}

// envName maps an input key to its environment variable.
func envName(key string) string {
	var b strings.Builder
	b.WriteString(InputEnvPrefix)
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func outputFingerprint(stdout string, files map[string]string) string {
	var b strings.Builder
	b.WriteString(stdout)
	for _, name := range sortedKeys(files) {
		fmt.Fprintf(&b, "\x00%s=%s", name, files[name])
	}
	return fingerprint.Bytes([]byte(b.String()))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
