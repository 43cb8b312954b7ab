package plan

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/graph"
)

func TestVarianceConfigs(t *testing.T) {
	prompting, err := VarianceConfigs(StrategyPrompting, 5)
	require.NoError(t, err)
	styles := make([]string, len(prompting))
	for i, c := range prompting {
		styles[i] = c.PromptStyle
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, []string{"parallel_first", "minimal", "thorough", "balanced", "default"}, styles)

	temperature, err := VarianceConfigs(StrategyTemperature, 5)
	require.NoError(t, err)
	temps := make([]float64, len(temperature))
	for i, c := range temperature {
		temps[i] = c.Temperature
	}
	assert.Equal(t, []float64{0.2, 0.3, 0.4, 0.5, 0.6}, temps)

	three, err := VarianceConfigs(StrategyMixed, 3)
	require.NoError(t, err)
	assert.Len(t, three, 3)
	assert.Equal(t, "mixed style=parallel_first temperature=0.2", three[0].String())

	constrained, err := VarianceConfigs(StrategyConstraints, 2)
	require.NoError(t, err)
	assert.Equal(t, "max_depth=2", constrained[0].Constraint)

	_, err = VarianceConfigs(StrategyPrompting, 0)
	assert.Error(t, err)
	_, err = VarianceConfigs("random", 2)
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Temperature ")
	require.NoError(t, err)
	assert.Equal(t, StrategyTemperature, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyPrompting, s)
}

// sharedProvider returns the same graph instance for every draft.
func sharedProvider(g *graph.Graph) Provider {
	return ProviderFunc(func(context.Context, string, VarianceConfig) (*graph.Graph, error) {
		return g, nil
	})
}

func TestGenerateProducesExactCount(t *testing.T) {
	g, err := graph.Build([]graph.Node{{ID: "A"}, {ID: "B", DependsOn: []string{"A"}}}, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	p := ProviderFunc(func(_ context.Context, goal string, v VarianceConfig) (*graph.Graph, error) {
		calls.Add(1)
		assert.Equal(t, "ship", goal)
		return g, nil
	})

	candidates, err := NewGenerator(p, WithParallelism(2)).Generate(context.Background(), "ship", 4, StrategyPrompting)
	require.NoError(t, err)
	require.Len(t, candidates, 4)
	assert.Equal(t, int32(4), calls.Load())
	for i, c := range candidates {
		assert.Equal(t, candidateID(i), c.ID)
		assert.Equal(t, i, c.Variance.Index)
		assert.False(t, c.Rejected())
		assert.Nil(t, c.Score)
	}
}

func TestGenerateDoesNotShareNodes(t *testing.T) {
	g, err := graph.Build([]graph.Node{{ID: "A"}}, nil)
	require.NoError(t, err)

	candidates, err := NewGenerator(sharedProvider(g)).Generate(context.Background(), "", 2, StrategyTemperature)
	require.NoError(t, err)

	require.NoError(t, candidates[0].Graph.SetStatus("A", graph.StatusRunning))
	other, _ := candidates[1].Graph.Node("A")
	source, _ := g.Node("A")
	assert.Equal(t, graph.StatusPending, other.Status)
	assert.Equal(t, graph.StatusPending, source.Status)
}

func TestGenerateRejectsFailedDrafts(t *testing.T) {
	p := ProviderFunc(func(_ context.Context, _ string, v VarianceConfig) (*graph.Graph, error) {
		switch v.Index {
		case 0:
			return graph.Build([]graph.Node{
				{ID: "A", DependsOn: []string{"B"}},
				{ID: "B", DependsOn: []string{"A"}},
			}, nil)
		case 1:
			return nil, fmt.Errorf("model unavailable")
		case 2:
			return nil, nil
		}
		return graph.Build([]graph.Node{{ID: "A"}}, nil)
	})

	candidates, err := NewGenerator(p).Generate(context.Background(), "goal", 4, StrategyPrompting)
	require.NoError(t, err)
	require.Len(t, candidates, 4)

	var cycle *errors.CycleError
	assert.True(t, stderrors.As(candidates[0].Err, &cycle))
	assert.True(t, errors.HasCode(candidates[1].Err, errors.ErrCodePlanGeneration))
	assert.Contains(t, candidates[1].Rejection, "model unavailable")
	assert.True(t, candidates[2].Rejected())
	assert.False(t, candidates[3].Rejected())
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGenerator(sharedProvider(graph.New())).Generate(ctx, "", 3, StrategyPrompting)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateInvalidRequest(t *testing.T) {
	_, err := NewGenerator(sharedProvider(graph.New())).Generate(context.Background(), "", 0, StrategyPrompting)
	assert.True(t, errors.HasCode(err, errors.ErrCodePlanGeneration))
}

// randomDrafts draws one random dependency list per candidate, some of
// which contain cycles. Drawing happens up front on the test goroutine.
func randomDrafts(t *rapid.T, count int) Provider {
	drafts := make([][]graph.Node, count)
	for c := range drafts {
		n := rapid.IntRange(1, 8).Draw(t, fmt.Sprintf("nodes_%d", c))
		nodes := make([]graph.Node, n)
		for i := range nodes {
			nodes[i].ID = fmt.Sprintf("n%d", i)
		}
		for i := range nodes {
			for j := range nodes {
				if i != j && rapid.IntRange(0, 9).Draw(t, fmt.Sprintf("edge_%d_%d_%d", c, i, j)) == 0 {
					nodes[i].DependsOn = append(nodes[i].DependsOn, nodes[j].ID)
				}
			}
		}
		drafts[c] = nodes
	}
	return ProviderFunc(func(_ context.Context, _ string, v VarianceConfig) (*graph.Graph, error) {
		return graph.Build(drafts[v.Index], nil)
	})
}

// TestGenerate_CandidatesAreAcyclic tests that every accepted candidate has
// a topological order and every cyclic draft is rejected.
func TestGenerate_CandidatesAreAcyclic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 5).Draw(t, "count")
		strategy := rapid.SampledFrom([]Strategy{StrategyPrompting, StrategyTemperature, StrategyConstraints, StrategyMixed}).Draw(t, "strategy")

		candidates, err := NewGenerator(randomDrafts(t, count)).Generate(context.Background(), "goal", count, strategy)
		if err != nil {
			t.Fatal(err)
		}
		if len(candidates) != count {
			t.Fatalf("expected %d candidates, got %d", count, len(candidates))
		}
		for _, c := range candidates {
			if c.Rejected() {
				if !errors.HasCode(c.Err, errors.ErrCodeGraphCycle) {
					t.Fatalf("%s rejected for an unexpected reason: %v", c.ID, c.Err)
				}
				continue
			}
			if _, err := c.Graph.TopologicalOrder(); err != nil {
				t.Fatalf("%s has no topological order: %v", c.ID, err)
			}
		}
	})
}
