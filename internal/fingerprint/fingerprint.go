// Package fingerprint computes blake3 content fingerprints over canonical
// JSON, so that equal inputs always hash equally across runs and machines.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/felixgeelhaar/loom/internal/graph"
)

// Func computes the fingerprint of a node's inputs.
type Func func(n graph.Node) (string, error)

// Canonicalize returns the canonical JSON encoding of the inputs that
// determine a node's output. Status, progress, priority and previous
// fingerprints are excluded; they do not change what a node produces.
func Canonicalize(n graph.Node) ([]byte, error) {
	deps := append([]string(nil), n.DependsOn...)
	sort.Strings(deps)
	writes := append([]string(nil), n.Writes...)
	sort.Strings(writes)
	modules := append([]string(nil), n.Modules...)
	sort.Strings(modules)

	data := map[string]interface{}{
		"id":               n.ID,
		"title":            n.Title,
		"description":      n.Description,
		"task_type":        string(n.TaskType),
		"effort":           string(n.Effort),
		"depends_on":       deps,
		"writes":           writes,
		"modules":          modules,
		"deletes":          n.Deletes,
		"changes_contract": n.ChangesContract,
		"new_file":         n.NewFile,
	}
	if len(n.Command) > 0 {
		data["command"] = n.Command
	}
	if len(n.Inputs) > 0 {
		data["inputs"] = n.Inputs
	}

	// encoding/json writes map keys in sorted order.
	return json.Marshal(data)
}

// Node is the default Func.
func Node(n graph.Node) (string, error) {
	canonical, err := Canonicalize(n)
	if err != nil {
		return "", fmt.Errorf("canonicalize node %s: %w", n.ID, err)
	}
	return Bytes(canonical), nil
}

// Bytes returns the hex blake3 digest of data.
func Bytes(data []byte) string {
	hasher := blake3.New()
	_, _ = hasher.Write(data)
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Reader returns the hex blake3 digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	hasher := blake3.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
