package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/graph"
)

const samplePlan = `
version: "1"
goal: Build the billing API
tasks:
  - id: schema
    title: Define schema
    effort: small
    task_type: create
    writes: [schema/billing.sql]
  - id: api
    title: Implement endpoints
    depends_on: [schema]
    priority: 0.9
    timeout: 30s
    writes: [internal/api/billing.go]
  - id: docs
    depends_on: [api]
    task_type: documentation
edges:
  - source: schema
    target: api
    type: integration
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadPlanFileYAML(t *testing.T) {
	f, err := LoadPlanFile(writeFile(t, "plan.yaml", samplePlan))
	require.NoError(t, err)
	assert.Equal(t, "Build the billing API", f.Goal)
	assert.Empty(t, f.Validate())

	g, err := f.Graph()
	require.NoError(t, err)
	assert.Equal(t, []string{"schema", "api", "docs"}, g.IDs())

	api, _ := g.Node("api")
	assert.Equal(t, 30*time.Second, api.Timeout)
	assert.Equal(t, 0.9, api.Priority)

	e, ok := g.Edge("schema", "api")
	require.True(t, ok)
	assert.Equal(t, graph.EdgeIntegration, e.Type)
	assert.Equal(t, graph.VerificationPending, e.Verification)
}

func TestLoadPlanFileJSON(t *testing.T) {
	f, err := LoadPlanFile(writeFile(t, "plan.json", `{"goal":"g","tasks":[{"id":"A"},{"id":"B","depends_on":["A"]}]}`))
	require.NoError(t, err)
	g, err := f.Graph()
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, g.Dependencies("B"))
}

func TestLoadPlanFileErrors(t *testing.T) {
	_, err := LoadPlanFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.HasCode(err, errors.ErrCodePlanNotFound))

	_, err = LoadPlanFile(writeFile(t, "bad.json", `{"tasks": [`))
	assert.True(t, errors.HasCode(err, errors.ErrCodeFileUnmarshal))

	_, err = LoadPlanFile(writeFile(t, "bad.yaml", "tasks: {"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeFileUnmarshal))
}

func TestPlanFileValidate(t *testing.T) {
	f := &PlanFile{Candidates: []Variant{
		{Name: "ok", Tasks: []graph.Node{{ID: "A"}}},
		{Name: "cyclic", Tasks: []graph.Node{{ID: "A", DependsOn: []string{"B"}}, {ID: "B", DependsOn: []string{"A"}}}},
		{Name: "dangling", Tasks: []graph.Node{{ID: "A", DependsOn: []string{"missing"}}}},
		{Name: "empty"},
		{Name: "ok", Tasks: []graph.Node{{ID: "A"}}},
	}}

	problems := f.Validate()
	require.Len(t, problems, 4)
	assert.Equal(t, "cyclic", problems[0].Variant)
	assert.Equal(t, string(errors.ErrCodeGraphCycle), problems[0].Code)
	assert.Equal(t, string(errors.ErrCodeGraphUnknownNode), problems[1].Code)
	assert.Equal(t, "variant has no tasks", problems[2].Error)
	assert.Equal(t, "duplicate variant name", problems[3].Error)

	assert.Len(t, (&PlanFile{}).Validate(), 1)
}

func TestSavePlanFileRoundTrip(t *testing.T) {
	g, err := graph.Build([]graph.Node{
		{ID: "A", Writes: []string{"a.go"}},
		{ID: "B", DependsOn: []string{"A"}, Effort: graph.EffortLarge},
	}, nil)
	require.NoError(t, err)

	for _, name := range []string{"plan.yaml", "plan.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out", name)
			require.NoError(t, SavePlanFile(FromGraph("goal", g), path))

			loaded, err := LoadPlanFile(path)
			require.NoError(t, err)
			assert.Equal(t, "goal", loaded.Goal)
			rebuilt, err := loaded.Graph()
			require.NoError(t, err)
			assert.Equal(t, g.Nodes(), rebuilt.Nodes())
		})
	}
}

func TestFileProviderCyclesVariants(t *testing.T) {
	p := NewFileProvider(&PlanFile{Candidates: []Variant{
		{Name: "one", Tasks: []graph.Node{{ID: "A"}}},
		{Name: "two", Tasks: []graph.Node{{ID: "A"}, {ID: "B"}}},
	}})

	sizes := make([]int, 3)
	for i := range sizes {
		g, err := p.Draft(context.Background(), "", VarianceConfig{Index: i})
		require.NoError(t, err)
		sizes[i] = g.Len()
	}
	assert.Equal(t, []int{1, 2, 1}, sizes)
}
