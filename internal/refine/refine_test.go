package refine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/fingerprint"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/schedule"
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

// counting records every executed node.
type counting struct {
	mu    sync.Mutex
	calls []string
}

func (c *counting) Execute(_ context.Context, n graph.Node) (schedule.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, n.ID)
	return schedule.Result{Output: "ok"}, nil
}

func (c *counting) reset() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.calls
	c.calls = nil
	return out
}

// scores returns a judge that replays the given judgements in order.
func scores(js ...Judgement) (Judge, *int) {
	calls := 0
	return JudgeFunc(func(_ context.Context, a Artifact) (Judgement, error) {
		calls++
		if a.Round > len(js) {
			return js[len(js)-1], nil
		}
		return js[a.Round-1], nil
	}), &calls
}

func executed(t *testing.T, exec *counting) (*graph.Graph, *schedule.Runner, *schedule.Report) {
	t.Helper()
	g := diamond(t)
	runner := schedule.NewRunner(exec, schedule.Config{Concurrency: 2})
	waves, err := schedule.ComputeWaves(g, nil, 2, nil)
	require.NoError(t, err)
	rep, err := runner.Run(context.Background(), g, waves)
	require.NoError(t, err)
	require.True(t, rep.Succeeded())
	exec.reset()
	return g, runner, rep
}

func TestPatcherApply(t *testing.T) {
	g := diamond(t)
	for _, id := range g.IDs() {
		require.NoError(t, g.SetStatus(id, graph.StatusComplete))
	}
	before, _ := g.Node("B")
	fpBefore, err := fingerprint.Node(before)
	require.NoError(t, err)

	p, err := Patcher{}.Apply(g, 1, []string{
		"B: handle empty input",
		"add an integration test",
		"   ",
		"unknown: becomes a new node",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, p.Modified)
	assert.Equal(t, []string{"refine-r1-1", "refine-r1-2"}, p.Added)
	assert.Equal(t, []string{"B", "D", "E", "refine-r1-1", "refine-r1-2"}, p.Affected)

	after, _ := g.Node("B")
	assert.Equal(t, graph.StatusPending, after.Status)
	assert.Equal(t, "handle empty input", after.Inputs["refine.r1.1"])
	fpAfter, err := fingerprint.Node(after)
	require.NoError(t, err)
	assert.NotEqual(t, fpBefore, fpAfter)

	added, ok := g.Node("refine-r1-1")
	require.True(t, ok)
	assert.Equal(t, []string{"E"}, g.Dependencies(added.ID))

	// Nodes outside the affected set keep their status.
	for _, id := range []string{"A", "C"} {
		n, _ := g.Node(id)
		assert.Equal(t, graph.StatusComplete, n.Status, id)
	}
}

func TestLoopAcceptsAboveThreshold(t *testing.T) {
	exec := &counting{}
	g, runner, rep := executed(t, exec)
	judge, calls := scores(Judgement{Score: 9})

	out, err := NewLoop(judge, runner, DefaultConfig()).Refine(context.Background(), "goal", g, rep)
	require.NoError(t, err)

	assert.Equal(t, StateAccept, out.State)
	assert.Equal(t, 1, *calls)
	assert.Zero(t, out.Refinements)
	assert.Empty(t, exec.reset())
}

func TestLoopRerunsAffectedSubgraphOnly(t *testing.T) {
	exec := &counting{}
	g, runner, rep := executed(t, exec)
	waves := len(rep.Waves)
	judge, _ := scores(
		Judgement{Score: 5, Issues: []string{"C: tighten validation"}},
		Judgement{Score: 9},
	)
	rec := &event.Recorder{}

	loop := NewLoop(judge, runner, DefaultConfig(), WithEvents(event.NewEmitter(rec, "run-1")))
	out, err := loop.Refine(context.Background(), "goal", g, rep)
	require.NoError(t, err)

	assert.Equal(t, StateAccept, out.State)
	assert.Equal(t, 9.0, out.Score)
	assert.Equal(t, 1, out.Refinements)
	require.Len(t, out.Rounds, 2)
	assert.Equal(t, StateRefine, out.Rounds[0].State)
	assert.Equal(t, []string{"C", "D", "E"}, out.Rounds[0].Patch.Affected)

	// A and B are unaffected ancestors or siblings and never run again.
	assert.ElementsMatch(t, []string{"C", "D", "E"}, exec.reset())

	assert.Len(t, rep.Waves, waves+3)
	assert.Equal(t, waves+1, rep.Nodes["C"].Wave)
	assert.True(t, rep.Succeeded())

	rounds := rec.OfKind(event.KindRefinementRound)
	require.Len(t, rounds, 2)
	assert.Equal(t, string(StateRefine), rounds[0].(event.RefinementRound).State)
	assert.Equal(t, string(StateAccept), rounds[1].(event.RefinementRound).State)
}

func TestLoopStopsAtMaxRounds(t *testing.T) {
	exec := &counting{}
	g, runner, rep := executed(t, exec)
	judge, calls := scores(
		Judgement{Score: 2, Issues: []string{"first"}},
		Judgement{Score: 3, Issues: []string{"second"}},
		Judgement{Score: 4, Issues: []string{"third"}},
	)

	out, err := NewLoop(judge, runner, Config{Threshold: 8, MaxRounds: 2}).Refine(context.Background(), "goal", g, rep)
	require.NoError(t, err)

	assert.Equal(t, StateAccept, out.State)
	assert.Equal(t, 2, out.Refinements)
	assert.Equal(t, 3, *calls)
	assert.True(t, g.Has("refine-r1-1"))
	assert.True(t, g.Has("refine-r2-1"))
	assert.False(t, g.Has("refine-r3-1"))
}

func TestLoopAcceptsWithRegression(t *testing.T) {
	exec := &counting{}
	g, runner, rep := executed(t, exec)
	judge, _ := scores(
		Judgement{Score: 5, Issues: []string{"E: add docs"}},
		Judgement{Score: 4, Issues: []string{"E: more docs"}},
		Judgement{Score: 4, Issues: []string{"E: even more docs"}},
	)

	out, err := NewLoop(judge, runner, Config{Threshold: 8, MaxRounds: 5}).Refine(context.Background(), "goal", g, rep)
	require.NoError(t, err)

	assert.Equal(t, StateAcceptWithRegression, out.State)
	assert.Equal(t, 2, out.Refinements)
	require.Len(t, out.Rounds, 3)
	assert.False(t, out.Rounds[1].Improved)
	assert.False(t, out.Rounds[2].Improved)
}

func TestLoopWithoutIssuesAccepts(t *testing.T) {
	exec := &counting{}
	g, runner, rep := executed(t, exec)
	judge, _ := scores(Judgement{Score: 3})

	out, err := NewLoop(judge, runner, DefaultConfig()).Refine(context.Background(), "goal", g, rep)
	require.NoError(t, err)
	assert.Equal(t, StateAccept, out.State)
	assert.Zero(t, out.Refinements)
}

func TestLoopJudgeErrors(t *testing.T) {
	tests := []struct {
		name  string
		judge Judge
	}{
		{
			name: "judge fails",
			judge: JudgeFunc(func(context.Context, Artifact) (Judgement, error) {
				return Judgement{}, fmt.Errorf("model unavailable")
			}),
		},
		{
			name: "score out of range",
			judge: JudgeFunc(func(context.Context, Artifact) (Judgement, error) {
				return Judgement{Score: 11}, nil
			}),
		},
		{
			name: "score is NaN",
			judge: JudgeFunc(func(context.Context, Artifact) (Judgement, error) {
				return Judgement{Score: math.NaN()}, nil
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &counting{}
			g, runner, rep := executed(t, exec)
			_, err := NewLoop(tt.judge, runner, DefaultConfig()).Refine(context.Background(), "goal", g, rep)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeRefineJudge))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Threshold: 12}.Validate())
	assert.Error(t, Config{Threshold: 5, MaxRounds: -1}.Validate())
}
