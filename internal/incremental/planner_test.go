package incremental

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/fingerprint"
	"github.com/felixgeelhaar/loom/internal/graph"
)

func diamond(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.Build([]graph.Node{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"A"}},
		{ID: "D", DependsOn: []string{"B", "C"}},
		{ID: "E", DependsOn: []string{"D"}},
	}, nil)
	require.NoError(t, err)
	return g
}

// recordAll stores a successful record with the current fingerprint of every node.
func recordAll(t *testing.T, g *graph.Graph, store checkpoint.Store) {
	t.Helper()
	for _, n := range g.Nodes() {
		fp, err := fingerprint.Node(n)
		require.NoError(t, err)
		require.NoError(t, store.Put(checkpoint.Record{
			NodeID:          n.ID,
			LastStatus:      graph.StatusComplete,
			LastFingerprint: fp,
			LastExecutedAt:  time.Now(),
		}))
	}
}

func TestFreshRunExecutesEverything(t *testing.T) {
	g := diamond(t)
	plan, err := NewPlanner(checkpoint.NewMemoryStore(), nil).Compute(g, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, plan.ToExecute)
	assert.Empty(t, plan.ToSkip)
	for _, d := range plan.Decisions {
		assert.Equal(t, ReasonNoCache, d.Reason)
	}
	assert.Zero(t, plan.SkipPercentage())
}

func TestUnchangedRunSkipsEverything(t *testing.T) {
	g := diamond(t)
	store := checkpoint.NewMemoryStore()
	recordAll(t, g, store)

	plan, err := NewPlanner(store, nil).Compute(g, Options{})
	require.NoError(t, err)

	assert.Empty(t, plan.ToExecute)
	assert.Len(t, plan.ToSkip, 5)
	for id, d := range plan.Decisions {
		assert.True(t, d.Skip, id)
		assert.Equal(t, ReasonUnchangedSuccess, d.Reason, id)
		assert.Equal(t, d.CurrentFingerprint, d.PreviousFingerprint, id)
	}
	assert.Equal(t, 100.0, plan.SkipPercentage())
}

func TestChangedFingerprintPropagates(t *testing.T) {
	g := diamond(t)
	store := checkpoint.NewMemoryStore()
	recordAll(t, g, store)

	require.NoError(t, g.Update("C", func(n *graph.Node) {
		n.Inputs = map[string]string{"schema": "v2"}
	}))

	plan, err := NewPlanner(store, nil).Compute(g, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"C", "D", "E"}, plan.ToExecute)
	assert.Equal(t, []string{"A", "B"}, plan.ToSkip)
	assert.Equal(t, ReasonHashChanged, plan.Decisions["C"].Reason)
	assert.NotEqual(t, plan.Decisions["C"].CurrentFingerprint, plan.Decisions["C"].PreviousFingerprint)
	assert.Equal(t, ReasonDependencyChanged, plan.Decisions["D"].Reason)
	assert.Equal(t, ReasonDependencyChanged, plan.Decisions["E"].Reason)
	assert.InDelta(t, 40.0, plan.SkipPercentage(), 1e-9)
}

func TestRulePriority(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, g *graph.Graph, s checkpoint.Store)
		opts   Options
		node   string
		reason SkipReason
	}{
		{
			name: "missing record",
			setup: func(t *testing.T, g *graph.Graph, s checkpoint.Store) {
				require.NoError(t, s.Delete("B"))
			},
			node:   "B",
			reason: ReasonNoCache,
		},
		{
			name: "dependency dominates local failure",
			setup: func(t *testing.T, g *graph.Graph, s checkpoint.Store) {
				require.NoError(t, s.Delete("A"))
				rec, _, _ := s.Get("B")
				rec.LastStatus = graph.StatusFailed
				require.NoError(t, s.Put(rec))
			},
			node:   "B",
			reason: ReasonDependencyChanged,
		},
		{
			name: "previous failure",
			setup: func(t *testing.T, g *graph.Graph, s checkpoint.Store) {
				rec, _, _ := s.Get("B")
				rec.LastStatus = graph.StatusFailed
				rec.LastFingerprint = "stale"
				require.NoError(t, s.Put(rec))
			},
			node:   "B",
			reason: ReasonPreviousFailed,
		},
		{
			name: "hash change dominates force",
			setup: func(t *testing.T, g *graph.Graph, s checkpoint.Store) {
				rec, _, _ := s.Get("A")
				rec.LastFingerprint = "stale"
				require.NoError(t, s.Put(rec))
			},
			opts:   Options{ForceAll: true},
			node:   "A",
			reason: ReasonHashChanged,
		},
		{
			name:   "forced node",
			opts:   Options{Force: map[string]bool{"B": true}},
			node:   "B",
			reason: ReasonForceRerun,
		},
		{
			name:   "forced globally",
			opts:   Options{ForceAll: true},
			node:   "A",
			reason: ReasonForceRerun,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := diamond(t)
			store := checkpoint.NewMemoryStore()
			recordAll(t, g, store)
			if tt.setup != nil {
				tt.setup(t, g, store)
			}

			plan, err := NewPlanner(store, nil).Compute(g, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, plan.Decisions[tt.node].Reason)
			assert.True(t, plan.Executes(tt.node))
		})
	}
}

func TestForcedNodeInvalidatesDescendants(t *testing.T) {
	g := diamond(t)
	store := checkpoint.NewMemoryStore()
	recordAll(t, g, store)

	plan, err := NewPlanner(store, nil).Compute(g, Options{Force: map[string]bool{"B": true}})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "C"}, plan.ToSkip)
	assert.Equal(t, ReasonDependencyChanged, plan.Decisions["D"].Reason)
	counts := plan.CountByReason()
	assert.Equal(t, 1, counts[ReasonForceRerun])
	assert.Equal(t, 2, counts[ReasonDependencyChanged])
}

func TestCustomFingerprintError(t *testing.T) {
	g := diamond(t)
	failing := func(n graph.Node) (string, error) { return "", fmt.Errorf("unreadable input") }

	_, err := NewPlanner(checkpoint.NewMemoryStore(), failing).Compute(g, Options{})
	assert.ErrorContains(t, err, "unreadable input")
}

func TestSkipReasonVocabulary(t *testing.T) {
	want := []string{"unchanged_success", "no_cache", "hash_changed", "previous_failed", "force_rerun", "dependency_changed"}
	for i, r := range Reasons() {
		assert.Equal(t, want[i], r.String())
		parsed, err := ParseSkipReason(want[i])
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
	}

	_, err := ParseSkipReason("previous_incomplete")
	assert.Error(t, err)

	var d Decision
	assert.Error(t, json.Unmarshal([]byte(`{"reason":"bogus"}`), &d))
	_, err = json.Marshal(Decision{Reason: "bogus"})
	assert.Error(t, err)
}

// TestPlanner_UnchangedSubgraphAlwaysSkips tests that a complete node with an
// unchanged fingerprint whose dependencies all skip is always skipped, and
// that any executing dependency forces execution.
func TestPlanner_UnchangedSubgraphAlwaysSkips(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 15).Draw(t, "nodes")
		nodes := make([]graph.Node, n)
		for i := range nodes {
			nodes[i] = graph.Node{ID: fmt.Sprintf("n%d", i)}
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(t, fmt.Sprintf("dep_%d_%d", j, i)) {
					nodes[i].DependsOn = append(nodes[i].DependsOn, nodes[j].ID)
				}
			}
		}
		g, err := graph.Build(nodes, nil)
		if err != nil {
			t.Fatal(err)
		}

		store := checkpoint.NewMemoryStore()
		for _, node := range g.Nodes() {
			state := rapid.SampledFrom([]string{"missing", "ok", "failed", "stale"}).Draw(t, "state_"+node.ID)
			if state == "missing" {
				continue
			}
			fp, _ := fingerprint.Node(node)
			rec := checkpoint.Record{NodeID: node.ID, LastStatus: graph.StatusComplete, LastFingerprint: fp}
			switch state {
			case "failed":
				rec.LastStatus = graph.StatusFailed
			case "stale":
				rec.LastFingerprint = "stale"
			}
			if err := store.Put(rec); err != nil {
				t.Fatal(err)
			}
		}

		plan, err := NewPlanner(store, nil).Compute(g, Options{})
		if err != nil {
			t.Fatal(err)
		}

		for _, node := range g.Nodes() {
			d := plan.Decisions[node.ID]
			rec, ok, _ := store.Get(node.ID)
			depsSkip := true
			for _, dep := range node.DependsOn {
				if plan.Executes(dep) {
					depsSkip = false
				}
			}
			unchanged := ok && rec.LastStatus == graph.StatusComplete && rec.LastFingerprint == d.CurrentFingerprint

			if unchanged && depsSkip && (!d.Skip || d.Reason != ReasonUnchangedSuccess) {
				t.Fatalf("%s should skip with unchanged_success, got %s", node.ID, d.Reason)
			}
			if !depsSkip && d.Skip {
				t.Fatalf("%s skipped although a dependency executes", node.ID)
			}
		}
	})
}
