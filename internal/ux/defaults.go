package ux

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoomDirName is the project directory holding loom state.
const LoomDirName = ".loom"

// PathDefaults provides smart defaults for common file paths
type PathDefaults struct {
	LoomDir string
}

// NewPathDefaults creates a new PathDefaults with sensible defaults
func NewPathDefaults() *PathDefaults {
	return &PathDefaults{
		LoomDir: LoomDirName,
	}
}

// ConfigFile returns the default path to loom.yaml
func (pd *PathDefaults) ConfigFile() string {
	return filepath.Join(pd.LoomDir, "loom.yaml")
}

// PlanFile returns the default path to plan.yaml
func (pd *PathDefaults) PlanFile() string {
	return "plan.yaml"
}

// PolicyFile returns the default path to the risk policy
func (pd *PathDefaults) PolicyFile() string {
	return filepath.Join(pd.LoomDir, "policy.yaml")
}

// HistoryFile returns the default path of the JSON execution history
func (pd *PathDefaults) HistoryFile() string {
	return filepath.Join(pd.LoomDir, "history.json")
}

// HistoryDB returns the default directory of the badger execution history
func (pd *PathDefaults) HistoryDB() string {
	return filepath.Join(pd.LoomDir, "history.db")
}

// RunsDir returns the default run checkpoint directory
func (pd *PathDefaults) RunsDir() string {
	return filepath.Join(pd.LoomDir, "runs")
}

// ManifestDir returns the default command manifest directory
func (pd *PathDefaults) ManifestDir() string {
	return filepath.Join(pd.LoomDir, "manifests")
}

// JournalDir returns the default event journal directory
func (pd *PathDefaults) JournalDir() string {
	return filepath.Join(pd.LoomDir, "journal")
}

// ValidateLoomSetup checks if the .loom directory is initialized
func (pd *PathDefaults) ValidateLoomSetup() error {
	if _, err := os.Stat(pd.LoomDir); os.IsNotExist(err) {
		return fmt.Errorf("%s directory not found. Run 'loom run --plan <file>' to create it", pd.LoomDir)
	}
	return nil
}

// ValidateRequiredFile checks if a required file exists and provides helpful error
func ValidateRequiredFile(path string, fileType string, creationCommand string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%s not found at: %s\n\nRun '%s' to create it", fileType, path, creationCommand)
	} else if err != nil {
		return fmt.Errorf("error accessing %s: %w", path, err)
	}
	return nil
}

// SuggestNextSteps provides contextual next steps based on what exists
func SuggestNextSteps() string {
	defaults := NewPathDefaults()

	_, hasLoom := os.Stat(defaults.LoomDir)
	_, hasPlan := os.Stat(defaults.PlanFile())
	_, hasRuns := os.Stat(defaults.RunsDir())

	if os.IsNotExist(hasPlan) {
		return "Write a plan file and check it with 'loom validate --plan plan.yaml'"
	}

	if os.IsNotExist(hasLoom) || os.IsNotExist(hasRuns) {
		return "Preview the schedule with 'loom analyze --plan plan.yaml', then 'loom run --plan plan.yaml'"
	}

	return "Inspect the last run with 'loom status' or re-run incrementally with 'loom run --plan plan.yaml'"
}
