// Package config loads loom.yaml using Viper. Values come from built-in
// defaults, the config file and LOOM_ environment variables, in increasing
// order of precedence.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/loom/internal/analysis"
	"github.com/felixgeelhaar/loom/internal/engine"
	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/exec"
	"github.com/felixgeelhaar/loom/internal/hooks"
	"github.com/felixgeelhaar/loom/internal/log"
	"github.com/felixgeelhaar/loom/internal/plan"
	"github.com/felixgeelhaar/loom/internal/refine"
	"github.com/felixgeelhaar/loom/internal/schedule"
	"github.com/felixgeelhaar/loom/internal/telemetry"
	"github.com/felixgeelhaar/loom/internal/trace"
)

// FileName is the name of the configuration file inside the .loom directory.
const FileName = "loom.yaml"

// EnvPrefix prefixes environment overrides, e.g. LOOM_SCHEDULING_CONCURRENCY.
const EnvPrefix = "LOOM"

// Store backends.
const (
	StoreFile   = "file"
	StoreBadger = "badger"
)

// Config holds the loom configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log" json:"log" yaml:"log"`
	Planning   PlanningConfig   `mapstructure:"planning" json:"planning" yaml:"planning"`
	Scoring    ScoringConfig    `mapstructure:"scoring" json:"scoring" yaml:"scoring"`
	Scheduling SchedulingConfig `mapstructure:"scheduling" json:"scheduling" yaml:"scheduling"`
	Refinement refine.Config    `mapstructure:"refinement" json:"refinement" yaml:"refinement"`
	Risk       RiskConfig       `mapstructure:"risk" json:"risk" yaml:"risk"`
	Store      StoreConfig      `mapstructure:"store" json:"store" yaml:"store"`
	Exec       ExecConfig       `mapstructure:"exec" json:"exec" yaml:"exec"`
	Journal    trace.Config     `mapstructure:"journal" json:"journal" yaml:"journal"`
	Telemetry  telemetry.Config `mapstructure:"telemetry" json:"telemetry" yaml:"telemetry"`
	Metrics    MetricsConfig    `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Hooks      []hooks.Config   `mapstructure:"hooks" json:"hooks,omitempty" yaml:"hooks,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

// PlanningConfig holds candidate generation settings.
type PlanningConfig struct {
	Candidates       int    `mapstructure:"candidates" json:"candidates" yaml:"candidates"`
	Strategy         string `mapstructure:"strategy" json:"strategy" yaml:"strategy"`
	RefinementRounds int    `mapstructure:"refinement_rounds" json:"refinement_rounds" yaml:"refinement_rounds"`
}

// ScoringConfig holds the plan score weights.
type ScoringConfig struct {
	Weights plan.Weights `mapstructure:"weights" json:"weights" yaml:"weights"`
}

// SchedulingConfig holds wave scheduling settings.
type SchedulingConfig struct {
	Concurrency         int           `mapstructure:"concurrency" json:"concurrency" yaml:"concurrency"`
	NodeTimeout         time.Duration `mapstructure:"node_timeout" json:"node_timeout" yaml:"node_timeout"`
	InterruptInFlight   bool          `mapstructure:"interrupt_in_flight" json:"interrupt_in_flight" yaml:"interrupt_in_flight"`
	BlockedPolicy       string        `mapstructure:"blocked_policy" json:"blocked_policy" yaml:"blocked_policy"`
	BottleneckThreshold int           `mapstructure:"bottleneck_threshold" json:"bottleneck_threshold" yaml:"bottleneck_threshold"`
}

// RiskConfig points at an optional risk policy file.
type RiskConfig struct {
	// PolicyFile is loaded with policy.LoadPolicy. Empty uses the built-in policy.
	PolicyFile string `mapstructure:"policy_file" json:"policy_file" yaml:"policy_file"`
}

// StoreConfig selects the execution history backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" json:"backend" yaml:"backend"`
	// Path defaults to history.json or history.db under the .loom directory.
	Path       string `mapstructure:"path" json:"path" yaml:"path"`
	SyncWrites bool   `mapstructure:"sync_writes" json:"sync_writes" yaml:"sync_writes"`
}

// ExecConfig holds command executor settings.
type ExecConfig struct {
	Policy exec.Policy `mapstructure:"policy" json:"policy" yaml:"policy"`
	DryRun bool        `mapstructure:"dry_run" json:"dry_run" yaml:"dry_run"`
	// Manifests writes a run manifest per executed command.
	Manifests bool `mapstructure:"manifests" json:"manifests" yaml:"manifests"`
}

// MetricsConfig controls the Prometheus endpoint served during runs.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" json:"addr" yaml:"addr"`
}

// Default returns the configuration used when no file and no environment
// overrides exist.
func Default() *Config {
	opts := plan.DefaultOptions()
	journal := trace.DefaultConfig()
	journal.Dir = ""

	return &Config{
		Log: LogConfig{Level: "warn", Format: "text"},
		Planning: PlanningConfig{
			Candidates:       opts.Candidates,
			Strategy:         string(opts.Strategy),
			RefinementRounds: opts.RefinementRounds,
		},
		Scoring: ScoringConfig{Weights: plan.DefaultWeights()},
		Scheduling: SchedulingConfig{
			Concurrency:         schedule.DefaultConcurrency,
			BlockedPolicy:       string(engine.BlockedAutoRetry),
			BottleneckThreshold: analysis.DefaultBottleneckThreshold,
		},
		Refinement: refine.DefaultConfig(),
		Store:      StoreConfig{Backend: StoreFile},
		Exec: ExecConfig{
			Policy:    exec.DefaultPolicy(),
			Manifests: true,
		},
		Journal:   journal,
		Telemetry: telemetry.DefaultConfig(),
		Metrics:   MetricsConfig{Addr: "127.0.0.1:9464"},
	}
}

// setDefaults registers every key with viper so environment overrides
// apply even when the file omits the key.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("planning.candidates", d.Planning.Candidates)
	v.SetDefault("planning.strategy", d.Planning.Strategy)
	v.SetDefault("planning.refinement_rounds", d.Planning.RefinementRounds)

	v.SetDefault("scoring.weights.parallelism", d.Scoring.Weights.Parallelism)
	v.SetDefault("scoring.weights.balance", d.Scoring.Weights.Balance)
	v.SetDefault("scoring.weights.depth", d.Scoring.Weights.Depth)
	v.SetDefault("scoring.weights.conflicts", d.Scoring.Weights.Conflicts)

	v.SetDefault("scheduling.concurrency", d.Scheduling.Concurrency)
	v.SetDefault("scheduling.node_timeout", d.Scheduling.NodeTimeout)
	v.SetDefault("scheduling.interrupt_in_flight", d.Scheduling.InterruptInFlight)
	v.SetDefault("scheduling.blocked_policy", d.Scheduling.BlockedPolicy)
	v.SetDefault("scheduling.bottleneck_threshold", d.Scheduling.BottleneckThreshold)

	v.SetDefault("refinement.threshold", d.Refinement.Threshold)
	v.SetDefault("refinement.max_rounds", d.Refinement.MaxRounds)

	v.SetDefault("risk.policy_file", d.Risk.PolicyFile)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.sync_writes", d.Store.SyncWrites)

	v.SetDefault("exec.policy.allow_local", d.Exec.Policy.AllowLocal)
	v.SetDefault("exec.policy.docker.required", d.Exec.Policy.Docker.Required)
	v.SetDefault("exec.policy.docker.image", d.Exec.Policy.Docker.Image)
	v.SetDefault("exec.policy.docker.image_allowlist", d.Exec.Policy.Docker.ImageAllowlist)
	v.SetDefault("exec.policy.docker.network", d.Exec.Policy.Docker.Network)
	v.SetDefault("exec.policy.docker.cpu_limit", d.Exec.Policy.Docker.CPULimit)
	v.SetDefault("exec.policy.docker.mem_limit", d.Exec.Policy.Docker.MemLimit)
	v.SetDefault("exec.dry_run", d.Exec.DryRun)
	v.SetDefault("exec.manifests", d.Exec.Manifests)

	v.SetDefault("journal.dir", d.Journal.Dir)
	v.SetDefault("journal.max_file_size", d.Journal.MaxFileSize)
	v.SetDefault("journal.max_files", d.Journal.MaxFiles)
	v.SetDefault("journal.enabled", d.Journal.Enabled)

	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.service_version", d.Telemetry.ServiceVersion)
	v.SetDefault("telemetry.environment", d.Telemetry.Environment)
	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
	v.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Load reads configuration from path and the environment. An empty path
// loads defaults and environment overrides only; a path that does not
// exist is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.New(errors.ErrCodeConfigNotFound, fmt.Sprintf("config file not found: %s", path)).
					WithSuggestion("Run 'loom config init' to write the default configuration")
			}
			return nil, errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("failed to stat config file: %s", path), err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewFileUnmarshalError(path, "yaml", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to decode configuration", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		le := errors.NewConfigInvalidError(errs.Error())
		le.Cause = errs
		return nil, le
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML, creating the parent directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("failed to create directory for %s", path), err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to encode configuration", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to write config file: %s", path), err)
	}
	return nil
}

// Engine converts the configuration into engine settings.
func (c *Config) Engine() (engine.Config, error) {
	strategy, err := plan.ParseStrategy(c.Planning.Strategy)
	if err != nil {
		return engine.Config{}, errors.NewConfigInvalidError(err.Error())
	}
	blocked, err := engine.ParseBlockedPolicy(c.Scheduling.BlockedPolicy)
	if err != nil {
		return engine.Config{}, err
	}

	cfg := engine.Config{
		Planning: plan.Options{
			Candidates:       c.Planning.Candidates,
			Strategy:         strategy,
			RefinementRounds: c.Planning.RefinementRounds,
		},
		Weights: c.Scoring.Weights,
		Scheduling: schedule.Config{
			Concurrency:       c.Scheduling.Concurrency,
			NodeTimeout:       c.Scheduling.NodeTimeout,
			InterruptInFlight: c.Scheduling.InterruptInFlight,
		},
		BlockedPolicy:       blocked,
		BottleneckThreshold: c.Scheduling.BottleneckThreshold,
		Refinement:          c.Refinement,
	}
	return cfg, cfg.Validate()
}

// Logger returns the logger configuration, writing to w.
func (c *Config) Logger(w io.Writer) log.Config {
	return log.FromSettings(c.Log.Level, c.Log.Format, w)
}

// Resolve fills paths left empty with their locations under loomDir.
func (c *Config) Resolve(loomDir string) {
	if c.Store.Path == "" {
		name := "history.json"
		if c.Store.Backend == StoreBadger {
			name = "history.db"
		}
		c.Store.Path = filepath.Join(loomDir, name)
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = filepath.Join(loomDir, "journal")
	}
}
