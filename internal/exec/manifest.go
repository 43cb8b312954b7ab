package exec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/loom/internal/fingerprint"
)

// CreateManifest creates a run manifest for audit purposes
func CreateManifest(step Step, result *Result) *RunManifest {
	return &RunManifest{
		Timestamp:    time.Now(),
		NodeID:       step.ID,
		Runner:       step.Runner,
		Image:        step.Image,
		Command:      step.Cmd,
		Env:          step.Env,
		ExitCode:     result.ExitCode,
		Duration:     result.Duration.String(),
		OutputHashes: make(map[string]string),
	}
}

// SaveManifest writes a run manifest to dir and returns its path.
func SaveManifest(manifest *RunManifest, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create manifest directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.json",
		manifest.Timestamp.Format("20060102_150405.000000000"),
		manifest.NodeID)
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// HashFile computes the content fingerprint of a file.
func HashFile(path string) (string, error) {
	file, err := os.Open(path) // #nosec G304 -- paths come from node write lists
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	hash, err := fingerprint.Reader(file)
	if err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hash, nil
}

// AddOutputHash records the fingerprint of an output file. Missing files
// are recorded with an empty hash.
func (m *RunManifest) AddOutputHash(name, path string) error {
	hash, err := HashFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.OutputHashes[name] = ""
			return nil
		}
		return err
	}
	m.OutputHashes[name] = hash
	return nil
}
