package schedule

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/fingerprint"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/policy"
)

// scripted is an executor whose behavior is chosen per node id.
type scripted struct {
	mu      sync.Mutex
	calls   []string
	actions map[string]func(ctx context.Context) (Result, error)
}

func newScripted() *scripted {
	return &scripted{actions: make(map[string]func(ctx context.Context) (Result, error))}
}

func (s *scripted) on(id string, fn func(ctx context.Context) (Result, error)) *scripted {
	s.actions[id] = fn
	return s
}

func (s *scripted) Execute(ctx context.Context, n graph.Node) (Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, n.ID)
	fn := s.actions[n.ID]
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return Result{Output: "ok " + n.ID, Fingerprint: "out-" + n.ID}, nil
}

func (s *scripted) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func fail(msg string) func(context.Context) (Result, error) {
	return func(context.Context) (Result, error) {
		return Result{}, fmt.Errorf("%s", msg)
	}
}

// flakyStore fails the first failures flushes.
type flakyStore struct {
	*checkpoint.MemoryStore
	failures int
	flushes  int
}

func (s *flakyStore) Flush() error {
	s.flushes++
	if s.flushes <= s.failures {
		return fmt.Errorf("disk full")
	}
	return nil
}

func runDiamond(t *testing.T, exec Executor, opts ...Option) (*graph.Graph, *Report, error) {
	t.Helper()
	g := diamond(t)
	waves, err := ComputeWaves(g, nil, 2, nil)
	require.NoError(t, err)
	rep, err := NewRunner(exec, Config{Concurrency: 2}, opts...).Run(context.Background(), g, waves)
	return g, rep, err
}

func TestRunnerCompletesDiamond(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := &event.Recorder{}
	exec := newScripted()

	g, rep, err := runDiamond(t, exec, WithStore(store), WithEvents(event.NewEmitter(rec, "run-1")))
	require.NoError(t, err)

	assert.Equal(t, checkpoint.RunCompleted, rep.Status)
	assert.True(t, rep.Succeeded())
	assert.Len(t, rep.Completed, 5)
	assert.Empty(t, rep.Failed)
	assert.Len(t, rep.Waves, 4)
	assert.Equal(t, "ok D", rep.Nodes["D"].Output)
	assert.Equal(t, "out-D", rep.Nodes["D"].Fingerprint)
	assert.Equal(t, 3, rep.Nodes["D"].Wave)

	for _, n := range g.Nodes() {
		assert.Equal(t, graph.StatusComplete, n.Status, n.ID)
		assert.Equal(t, 100, n.Progress, n.ID)

		want, err := fingerprint.Node(n)
		require.NoError(t, err)
		r, ok, err := store.Get(n.ID)
		require.NoError(t, err)
		require.True(t, ok, n.ID)
		assert.Equal(t, want, r.LastFingerprint, "records carry the input fingerprint")
		assert.Equal(t, "out-"+n.ID, r.OutputFingerprint)
		assert.Equal(t, want, n.Fingerprint)
		assert.Equal(t, 1, r.Attempts)
	}

	assert.Len(t, rec.OfKind(event.KindWaveStarted), 4)
	assert.Len(t, rec.OfKind(event.KindWaveCompleted), 4)
	assert.Len(t, rec.OfKind(event.KindCheckpoint), 4)
	assert.Len(t, rec.OfKind(event.KindNodeStatus), 10, "running and complete per node")
	for _, env := range rec.Events() {
		assert.Equal(t, "run-1", env.RunID)
	}
}

func TestRunnerWaitsForPreviousWave(t *testing.T) {
	var mu sync.Mutex
	done := map[string]bool{}
	exec := ExecutorFunc(func(_ context.Context, n graph.Node) (Result, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, dep := range n.DependsOn {
			if !done[dep] {
				return Result{}, fmt.Errorf("%s started before %s finished", n.ID, dep)
			}
		}
		done[n.ID] = true
		return Result{}, nil
	})

	_, rep, err := runDiamond(t, exec)
	require.NoError(t, err)
	assert.Empty(t, rep.Failed)
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	nodes := make([]graph.Node, 8)
	for i := range nodes {
		nodes[i] = graph.Node{ID: fmt.Sprintf("n%d", i)}
	}
	g, err := graph.Build(nodes, nil)
	require.NoError(t, err)

	var inFlight, peak int32
	exec := ExecutorFunc(func(context.Context, graph.Node) (Result, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return Result{}, nil
	})

	// One unsplit wave; the pool alone must enforce the cap.
	waves, err := ComputeWaves(g, nil, 0, nil)
	require.NoError(t, err)
	require.Len(t, waves, 1)

	rep, err := NewRunner(exec, Config{Concurrency: 3}).Run(context.Background(), g, waves)
	require.NoError(t, err)
	assert.Len(t, rep.Completed, 8)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestRunnerFailureBlocksDescendants(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	exec := newScripted().on("B", fail("compile error"))

	g, rep, err := runDiamond(t, exec, WithStore(store))
	require.NoError(t, err, "node failures do not fail the run")

	assert.Equal(t, checkpoint.RunFailed, rep.Status)
	assert.Equal(t, []string{"B"}, rep.Failed)
	assert.ElementsMatch(t, []string{"A", "C"}, rep.Completed)
	assert.Equal(t, []string{"D", "E"}, rep.Blocked)
	assert.Equal(t, "B", rep.Nodes["D"].BlockedBy)
	assert.NotContains(t, exec.executed(), "D")

	var execErr *errors.ExecutionError
	require.True(t, stderrors.As(rep.Nodes["B"].Err, &execErr))
	assert.Equal(t, "B", execErr.NodeID)
	assert.Contains(t, rep.Nodes["B"].Error, "compile error")

	b, _ := g.Node("B")
	d, _ := g.Node("D")
	assert.Equal(t, graph.StatusFailed, b.Status)
	assert.Equal(t, graph.StatusBlocked, d.Status)

	r, ok, _ := store.Get("B")
	require.True(t, ok)
	assert.Equal(t, graph.StatusFailed, r.LastStatus)
	assert.Contains(t, r.Error, "compile error")
	_, ok, _ = store.Get("D")
	assert.False(t, ok, "blocked nodes never ran and have no record")
}

func TestRunnerReportedFailure(t *testing.T) {
	exec := newScripted().on("A", func(context.Context) (Result, error) {
		return Result{Status: graph.StatusFailed, Output: "exit 2"}, nil
	})

	_, rep, err := runDiamond(t, exec)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, rep.Failed)
	assert.Equal(t, "exit 2", rep.Nodes["A"].Output)
	assert.Len(t, rep.Blocked, 4)
}

func TestRunnerNodeTimeout(t *testing.T) {
	tests := []struct {
		name string
		node graph.Node
		cfg  Config
		exec func(ctx context.Context) (Result, error)
	}{
		{
			name: "node timeout honored by executor",
			node: graph.Node{ID: "slow", Timeout: 20 * time.Millisecond},
			exec: func(ctx context.Context) (Result, error) {
				<-ctx.Done()
				return Result{}, ctx.Err()
			},
		},
		{
			name: "default timeout with executor ignoring ctx",
			node: graph.Node{ID: "slow"},
			cfg:  Config{NodeTimeout: 20 * time.Millisecond},
			exec: func(context.Context) (Result, error) {
				time.Sleep(300 * time.Millisecond)
				return Result{}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := graph.Build([]graph.Node{tt.node}, nil)
			require.NoError(t, err)
			exec := newScripted().on("slow", tt.exec)

			start := time.Now()
			rep, err := NewRunner(exec, tt.cfg).Run(context.Background(), g, []Wave{{Index: 1, Nodes: []string{"slow"}}})
			require.NoError(t, err)
			assert.Less(t, time.Since(start), 250*time.Millisecond)

			var timeout *errors.TimeoutError
			require.True(t, stderrors.As(rep.Nodes["slow"].Err, &timeout), "got %v", rep.Nodes["slow"].Err)
			assert.Equal(t, 20*time.Millisecond, timeout.Timeout)
		})
	}
}

func TestRunnerRecoversExecutorPanic(t *testing.T) {
	exec := newScripted().on("C", func(context.Context) (Result, error) {
		panic("nil map")
	})

	_, rep, err := runDiamond(t, exec)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, rep.Failed)
	assert.Contains(t, rep.Nodes["C"].Error, "executor panic")
}

func TestRunnerCancellationFinishesWave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &flakyStore{MemoryStore: checkpoint.NewMemoryStore()}
	exec := newScripted().on("A", func(nodeCtx context.Context) (Result, error) {
		cancel()
		time.Sleep(10 * time.Millisecond)
		if nodeCtx.Err() != nil {
			return Result{}, fmt.Errorf("in-flight node was interrupted")
		}
		return Result{}, nil
	})

	g := diamond(t)
	waves, err := ComputeWaves(g, nil, 2, nil)
	require.NoError(t, err)

	rep, err := NewRunner(exec, Config{Concurrency: 2}, WithStore(store)).Run(ctx, g, waves)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeExecCancelled))

	assert.True(t, rep.Cancelled)
	assert.Equal(t, checkpoint.RunCancelled, rep.Status)
	assert.Equal(t, []string{"A"}, rep.Completed)
	assert.Equal(t, []string{"A"}, exec.executed(), "no new wave starts after cancellation")
	assert.Equal(t, 1, store.flushes, "checkpoint written before returning")

	_, ok, _ := store.Get("A")
	assert.True(t, ok)
}

func TestRunnerInterruptInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := newScripted().on("A", func(nodeCtx context.Context) (Result, error) {
		cancel()
		<-nodeCtx.Done()
		return Result{}, nodeCtx.Err()
	})

	g := diamond(t)
	waves, err := ComputeWaves(g, nil, 2, nil)
	require.NoError(t, err)

	rep, err := NewRunner(exec, Config{InterruptInFlight: true}).Run(ctx, g, waves)
	assert.True(t, errors.HasCode(err, errors.ErrCodeExecCancelled))
	assert.Equal(t, []string{"A"}, rep.Failed)
	assert.True(t, errors.HasCode(rep.Nodes["A"].Err, errors.ErrCodeExecCancelled))
}

func TestRunnerRiskGate(t *testing.T) {
	p := policy.DefaultPolicy()
	p.Risk.ProtectedModules = []string{"core/**"}

	var reviewed []string
	var mu sync.Mutex
	reviewer := policy.ReviewerFunc(func(_ context.Context, n graph.Node, a policy.Assessment) (bool, error) {
		mu.Lock()
		reviewed = append(reviewed, n.ID)
		mu.Unlock()
		return a.Level != graph.RiskCritical, nil
	})

	g, err := graph.Build([]graph.Node{
		{ID: "docs", TaskType: graph.TaskDocumentation},
		{ID: "kernel", Modules: []string{"core/scheduler"}},
		{ID: "api", DependsOn: []string{"docs"}},
		{ID: "wire", DependsOn: []string{"kernel"}},
	}, nil)
	require.NoError(t, err)
	waves, err := ComputeWaves(g, nil, 2, nil)
	require.NoError(t, err)

	rec := &event.Recorder{}
	exec := newScripted()
	rep, err := NewRunner(exec, Config{Concurrency: 2},
		WithAuthorizer(policy.NewAuthorizer(p, reviewer)),
		WithEvents(event.NewEmitter(rec, "run-gate")),
	).Run(context.Background(), g, waves)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"docs", "api"}, rep.Completed)
	assert.Equal(t, []string{"kernel", "wire"}, rep.Blocked)
	assert.NotContains(t, exec.executed(), "kernel")
	assert.Equal(t, []string{"kernel", "api"}, reviewed, "trivial nodes are auto-applied")

	require.NotNil(t, rep.Nodes["kernel"].Verdict)
	assert.Equal(t, graph.RiskCritical, rep.Nodes["kernel"].Verdict.Level)

	var autoApplied, denied int
	for _, ev := range rec.OfKind(event.KindNodeReviewed) {
		r := ev.(event.NodeReviewed)
		if r.AutoApplied {
			autoApplied++
		}
		if !r.Approved {
			denied++
		}
	}
	assert.Equal(t, 1, autoApplied)
	assert.Equal(t, 1, denied)
}

func TestRunnerCheckpointRetry(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		warnings int
	}{
		{"first flush fails, retry succeeds", 1, 0},
		{"every flush fails", 100, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &flakyStore{MemoryStore: checkpoint.NewMemoryStore(), failures: tt.failures}
			_, rep, err := runDiamond(t, newScripted(), WithStore(store))
			require.NoError(t, err, "persistence failures never stop the run")
			assert.Len(t, rep.Completed, 5)
			require.Len(t, rep.Warnings, tt.warnings)
			for _, w := range rep.Warnings {
				var perr *errors.PersistenceError
				assert.True(t, stderrors.As(w, &perr))
			}
		})
	}
}

func TestRunnerAttemptsAccumulate(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	for i := 0; i < 3; i++ {
		_, _, err := runDiamond(t, newScripted(), WithStore(store))
		require.NoError(t, err)
	}
	r, _, _ := store.Get("E")
	assert.Equal(t, 3, r.Attempts)
}

func TestRunnerAfterWaveHook(t *testing.T) {
	var seen []int
	hook := func(_ context.Context, w WaveReport) error {
		seen = append(seen, w.Index)
		if w.Index == 2 {
			return fmt.Errorf("state file locked")
		}
		return nil
	}

	_, rep, err := runDiamond(t, newScripted(), WithAfterWave(hook))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
	assert.Len(t, rep.Warnings, 1)
}

func TestReportMerge(t *testing.T) {
	_, first, err := runDiamond(t, newScripted().on("B", fail("flaky")))
	require.NoError(t, err)
	require.Equal(t, checkpoint.RunFailed, first.Status)

	g, err := graph.Build([]graph.Node{
		{ID: "B"},
		{ID: "D", DependsOn: []string{"B"}},
		{ID: "E", DependsOn: []string{"D"}},
	}, nil)
	require.NoError(t, err)
	waves, err := ComputeWaves(g, nil, 2, nil)
	require.NoError(t, err)
	retry, err := NewRunner(newScripted(), Config{}).Run(context.Background(), g, waves)
	require.NoError(t, err)

	first.Merge(retry)
	assert.Equal(t, checkpoint.RunCompleted, first.Status)
	assert.Len(t, first.Completed, 5)
	assert.Empty(t, first.Failed)
	assert.Empty(t, first.Blocked)
	assert.Len(t, first.Waves, 7)
	assert.Equal(t, 5, first.Nodes["B"].Wave)
}

func TestReportMergeClearsCancellation(t *testing.T) {
	first := NewReport()
	first.node("A").Status = graph.StatusComplete
	first.Completed = []string{"A"}
	first.Cancelled = true
	first.Status = first.status()
	require.Equal(t, checkpoint.RunCancelled, first.Status)

	resumed := NewReport()
	resumed.node("B").Status = graph.StatusComplete
	resumed.Completed = []string{"B"}
	resumed.Status = resumed.status()

	first.Merge(resumed)
	assert.False(t, first.Cancelled)
	assert.Equal(t, checkpoint.RunCompleted, first.Status)
	assert.ElementsMatch(t, []string{"A", "B"}, first.Completed)

	interrupted := NewReport()
	interrupted.Cancelled = true
	first.Merge(interrupted)
	assert.Equal(t, checkpoint.RunCancelled, first.Status)
}
