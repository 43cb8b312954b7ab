package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/loom/internal/engine"
	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/hooks"
	"github.com/felixgeelhaar/loom/internal/log"
	"github.com/felixgeelhaar/loom/internal/plan"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultValidates(t *testing.T) {
	assert.Empty(t, Default().Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Scheduling.Concurrency)
	assert.Equal(t, "auto_retry", cfg.Scheduling.BlockedPolicy)
	assert.Equal(t, 5, cfg.Planning.Candidates)
	assert.Equal(t, plan.DefaultWeights(), cfg.Scoring.Weights)
	assert.Equal(t, 8.0, cfg.Refinement.Threshold)
	assert.Equal(t, 2, cfg.Refinement.MaxRounds)
	assert.Equal(t, StoreFile, cfg.Store.Backend)
	assert.True(t, cfg.Exec.Policy.AllowLocal)
	assert.True(t, cfg.Journal.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
planning:
  candidates: 3
  strategy: mixed
scoring:
  weights:
    parallelism: 1
    balance: 1
    depth: 1
    conflicts: 1
scheduling:
  concurrency: 8
  node_timeout: 90s
  blocked_policy: manual
store:
  backend: badger
exec:
  policy:
    allow_local: false
    docker:
      required: true
      image: golang:1.22
      image_allowlist: ["golang:*", "alpine:*"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Planning.Candidates)
	assert.Equal(t, "mixed", cfg.Planning.Strategy)
	assert.Equal(t, plan.Weights{Parallelism: 1, Balance: 1, Depth: 1, Conflicts: 1}, cfg.Scoring.Weights)
	assert.Equal(t, 8, cfg.Scheduling.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Scheduling.NodeTimeout)
	assert.Equal(t, "manual", cfg.Scheduling.BlockedPolicy)
	assert.Equal(t, StoreBadger, cfg.Store.Backend)
	assert.False(t, cfg.Exec.Policy.AllowLocal)
	assert.Equal(t, []string{"golang:*", "alpine:*"}, cfg.Exec.Policy.Docker.ImageAllowlist)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 1, cfg.Planning.RefinementRounds)
	assert.Equal(t, "none", cfg.Exec.Policy.Docker.Network)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "scheduling:\n  concurrency: 8\n")
	t.Setenv("LOOM_SCHEDULING_CONCURRENCY", "2")
	t.Setenv("LOOM_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Scheduling.Concurrency)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigNotFound))
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "scheduling: [unclosed\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeFileUnmarshal))
}

func TestLoadInvalid(t *testing.T) {
	path := writeConfig(t, `
scheduling:
  concurrency: 0
  blocked_policy: sometimes
store:
  backend: postgres
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))

	var verrs ValidationErrors
	require.True(t, stderrors.As(err, &verrs))
	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"scheduling.concurrency", "scheduling.blocked_policy", "store.backend"}, fields)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"no candidates", func(c *Config) { c.Planning.Candidates = 0 }, "planning.candidates"},
		{"strategy", func(c *Config) { c.Planning.Strategy = "random" }, "planning.strategy"},
		{"negative weight", func(c *Config) { c.Scoring.Weights.Depth = -1 }, "scoring.weights"},
		{"negative timeout", func(c *Config) { c.Scheduling.NodeTimeout = -time.Second }, "scheduling.node_timeout"},
		{"threshold", func(c *Config) { c.Refinement.Threshold = 11 }, "refinement.threshold"},
		{"max rounds", func(c *Config) { c.Refinement.MaxRounds = -1 }, "refinement.max_rounds"},
		{"no runner", func(c *Config) { c.Exec.Policy.AllowLocal = false }, "exec.policy"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate"},
		{"metrics addr", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = "9464"
		}, "metrics.addr"},
		{"hook without command", func(c *Config) {
			c.Hooks = []hooks.Config{{Name: "notify", Type: "script", On: []hooks.Trigger{hooks.TriggerRunFailed}}}
		}, "hooks[0]"},
		{"duplicate hook", func(c *Config) {
			h := hooks.Config{Name: "notify", Type: "script", On: []hooks.Trigger{hooks.TriggerRunFailed}, Command: []string{"true"}}
			c.Hooks = []hooks.Config{h, h}
		}, "hooks[1].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1, errs.Error())
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: "x", Message: "worse"},
	}
	assert.Equal(t, "a: bad (got: 1)", errs[0].Error())
	assert.Contains(t, errs.Error(), "2 validation errors")
	assert.Contains(t, errs.Error(), "2. b: worse (got: x)")
	assert.Empty(t, ValidationErrors(nil).Error())
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".loom", FileName)

	cfg := Default()
	cfg.Scheduling.Concurrency = 6
	cfg.Scheduling.NodeTimeout = 5 * time.Minute
	cfg.Risk.PolicyFile = "policy.yaml"
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, loaded.Scheduling.Concurrency)
	assert.Equal(t, 5*time.Minute, loaded.Scheduling.NodeTimeout)
	assert.Equal(t, "policy.yaml", loaded.Risk.PolicyFile)
	assert.Equal(t, cfg.Scoring, loaded.Scoring)
	assert.Equal(t, cfg.Refinement, loaded.Refinement)
	assert.Equal(t, cfg.Telemetry, loaded.Telemetry)
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.Planning.Strategy = "temperature"
	cfg.Scheduling.BlockedPolicy = "manual"
	cfg.Scheduling.NodeTimeout = time.Minute

	ec, err := cfg.Engine()
	require.NoError(t, err)
	assert.Equal(t, plan.StrategyTemperature, ec.Planning.Strategy)
	assert.Equal(t, engine.BlockedManual, ec.BlockedPolicy)
	assert.Equal(t, time.Minute, ec.Scheduling.NodeTimeout)
	assert.Equal(t, cfg.Scheduling.Concurrency, ec.Scheduling.Concurrency)
	assert.Equal(t, cfg.Refinement, ec.Refinement)

	cfg.Planning.Strategy = "random"
	_, err = cfg.Engine()
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"

	lc := cfg.Logger(os.Stdout)
	assert.Equal(t, log.LevelDebug, lc.Level)
	assert.Equal(t, log.FormatJSON, lc.Format)
}

func TestResolve(t *testing.T) {
	cfg := Default()
	cfg.Resolve(".loom")
	assert.Equal(t, filepath.Join(".loom", "history.json"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(".loom", "journal"), cfg.Journal.Dir)

	cfg = Default()
	cfg.Store.Backend = StoreBadger
	cfg.Journal.Dir = "/var/log/loom"
	cfg.Resolve(".loom")
	assert.Equal(t, filepath.Join(".loom", "history.db"), cfg.Store.Path)
	assert.Equal(t, "/var/log/loom", cfg.Journal.Dir)
}

func TestLoadHooks(t *testing.T) {
	path := writeConfig(t, `
hooks:
  - name: notify
    type: webhook
    on: [on_run_failed, on_node_blocked]
    url: http://localhost:8080/loom
    timeout: 5s
  - name: page
    type: script
    on: [on_node_failed]
    command: ["./page.sh", "--urgent"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Hooks, 2)
	assert.Equal(t, []hooks.Trigger{hooks.TriggerRunFailed, hooks.TriggerNodeBlocked}, cfg.Hooks[0].On)
	assert.Equal(t, 5*time.Second, cfg.Hooks[0].Timeout)
	assert.Equal(t, []string{"./page.sh", "--urgent"}, cfg.Hooks[1].Command)
}
