package ux

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DiscoverLoomDir searches for the .loom directory.
// Priority: current dir -> parent dirs -> git root
func DiscoverLoomDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Search the current and parent directories
	dir := cwd
	for {
		loomPath := filepath.Join(dir, LoomDirName)
		if info, err := os.Stat(loomPath); err == nil && info.IsDir() {
			return loomPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	// Try git root explicitly
	if gitRoot, err := getGitRoot(); err == nil {
		loomPath := filepath.Join(gitRoot, LoomDirName)
		if _, err := os.Stat(loomPath); err == nil {
			return loomPath, nil
		}
	}

	// Fallback to current directory (will be created if needed)
	return filepath.Join(cwd, LoomDirName), nil
}

// DiscoverConfigFile searches for a config file in multiple locations
func DiscoverConfigFile(filename string) (string, error) {
	// Try these locations in order:
	// 1. .loom/<filename>
	// 2. ./<filename> and parent directories up to git root
	// 3. ~/.loom/<filename>

	loomDir, err := DiscoverLoomDir()
	if err == nil {
		configPath := filepath.Join(loomDir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Stop at git root
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		configPath := filepath.Join(homeDir, LoomDirName, filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	// Not found - return expected location in .loom dir
	if loomDir != "" {
		return filepath.Join(loomDir, filename), nil
	}
	return filepath.Join(cwd, LoomDirName, filename), nil
}

// getGitRoot returns the git repository root directory
func getGitRoot() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// EnsureLoomDir creates the .loom directory layout under dir.
func EnsureLoomDir(dir string) error {
	for _, sub := range []string{"", "runs", "manifests", "journal"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0750); err != nil {
			return err
		}
	}
	return nil
}

// NewPathDefaultsWithDiscovery creates PathDefaults rooted at the discovered
// .loom directory.
func NewPathDefaultsWithDiscovery() *PathDefaults {
	dir, err := DiscoverLoomDir()
	if err != nil {
		return NewPathDefaults()
	}
	return &PathDefaults{LoomDir: dir}
}
