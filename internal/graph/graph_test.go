package graph

import (
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/loom/internal/errors"
)

// diamond builds A->B, A->C, B->D, C->D, D->E.
func diamond(t *testing.T) *Graph {
	t.Helper()
	g, err := Build([]Node{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"A"}},
		{ID: "D", DependsOn: []string{"B", "C"}},
		{ID: "E", DependsOn: []string{"D"}},
	}, nil)
	require.NoError(t, err)
	return g
}

func TestBuildDiamond(t *testing.T) {
	g := diamond(t)

	assert.Equal(t, 5, g.Len())
	assert.Equal(t, []string{"A"}, g.Roots())
	assert.Equal(t, []string{"E"}, g.Sinks())
	assert.Equal(t, []string{"B", "C"}, g.Dependencies("D"))
	assert.Len(t, g.Edges(), 5)

	n, ok := g.Node("D")
	require.True(t, ok)
	assert.Equal(t, StatusPending, n.Status)
	assert.Equal(t, []string{"B", "C"}, n.DependsOn)
}

func TestBuildAnyOrder(t *testing.T) {
	g, err := Build([]Node{
		{ID: "deploy", DependsOn: []string{"build"}},
		{ID: "build", DependsOn: []string{"fetch"}},
		{ID: "fetch"},
	}, nil)
	require.NoError(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "build", "deploy"}, order)
}

func TestBuildRejectsCycle(t *testing.T) {
	_, err := Build([]Node{
		{ID: "a", DependsOn: []string{"c"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}, nil)

	var cycle *errors.CycleError
	require.True(t, stderrors.As(err, &cycle), "expected CycleError, got %v", err)
	require.NotEmpty(t, cycle.Path)
	assert.Equal(t, cycle.Path[0], cycle.Path[len(cycle.Path)-1], "cycle path should close on itself")
	assert.Len(t, cycle.Path, 4)
}

func TestBuildEdgeAnnotations(t *testing.T) {
	g, err := Build([]Node{
		{ID: "api"},
		{ID: "client", DependsOn: []string{"api"}},
		{ID: "docs"},
	}, []Edge{
		{Source: "api", Target: "client", Type: EdgeIntegration},
		{Source: "client", Target: "docs", Type: EdgeData},
	})
	require.NoError(t, err)

	e, ok := g.Edge("api", "client")
	require.True(t, ok)
	assert.Equal(t, EdgeIntegration, e.Type)
	assert.Equal(t, VerificationPending, e.Verification)
	assert.Equal(t, []string{"client"}, g.Dependencies("docs"))
}

func TestAddNodeValidation(t *testing.T) {
	tests := []struct {
		name string
		node Node
		code errors.ErrorCode
	}{
		{"self dependency", Node{ID: "x", DependsOn: []string{"x"}}, errors.ErrCodeGraphSelfLoop},
		{"unknown dependency", Node{ID: "x", DependsOn: []string{"ghost"}}, errors.ErrCodeGraphUnknownNode},
		{"duplicate dependency", Node{ID: "x", DependsOn: []string{"A", "A"}}, errors.ErrCodeGraphDuplicateEdge},
		{"duplicate node", Node{ID: "A"}, errors.ErrCodeGraphDuplicateNode},
		{"invalid id", Node{ID: "-bad"}, errors.ErrCodeGraphInvalidNode},
		{"invalid priority", Node{ID: "x", Priority: 1.5}, errors.ErrCodeGraphInvalidNode},
		{"invalid effort", Node{ID: "x", Effort: "huge"}, errors.ErrCodeGraphInvalidNode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			require.NoError(t, g.AddNode(Node{ID: "A"}))

			err := g.AddNode(tt.node)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "expected %s, got %v", tt.code, err)
		})
	}
}

func TestAddEdge(t *testing.T) {
	g := diamond(t)

	t.Run("self loop", func(t *testing.T) {
		err := g.AddEdge(Edge{Source: "B", Target: "B"})
		assert.True(t, errors.HasCode(err, errors.ErrCodeGraphSelfLoop))
	})

	t.Run("duplicate", func(t *testing.T) {
		err := g.AddEdge(Edge{Source: "A", Target: "B"})
		assert.True(t, errors.HasCode(err, errors.ErrCodeGraphDuplicateEdge))
	})

	t.Run("cycle", func(t *testing.T) {
		err := g.AddEdge(Edge{Source: "E", Target: "A"})
		var cycle *errors.CycleError
		require.True(t, stderrors.As(err, &cycle))
		assert.Equal(t, "E", cycle.Path[0])
		assert.Equal(t, "E", cycle.Path[len(cycle.Path)-1])
		assert.Contains(t, cycle.Path, "A")
		assert.NoError(t, g.Validate(), "rejected edge must not be inserted")
	})

	t.Run("shortcut accepted", func(t *testing.T) {
		require.NoError(t, g.AddEdge(Edge{Source: "A", Target: "E", Type: EdgeIntegration}))
		assert.Contains(t, g.Dependencies("E"), "A")
	})
}

func TestLayers(t *testing.T) {
	g := diamond(t)
	layers, err := g.Layers()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A"}, {"B", "C"}, {"D"}, {"E"}}, layers)
}

func TestTraversal(t *testing.T) {
	g := diamond(t)

	assert.Equal(t, []string{"B", "C", "D", "E"}, g.Descendants("A"))
	assert.Equal(t, []string{"D", "E"}, g.Descendants("C"))
	assert.Empty(t, g.Descendants("E"))
	assert.Equal(t, []string{"A", "B", "C"}, g.Ancestors("D"))
	assert.Empty(t, g.Ancestors("A"))
}

func TestReadySetRecomputed(t *testing.T) {
	g := diamond(t)
	assert.Equal(t, []string{"A"}, g.ReadySet())

	require.NoError(t, g.SetStatus("A", StatusComplete))
	assert.Equal(t, []string{"B", "C"}, g.ReadySet())

	require.NoError(t, g.SetStatus("B", StatusComplete))
	assert.Equal(t, []string{"C"}, g.ReadySet(), "D still waits for C")

	require.NoError(t, g.SetStatus("C", StatusRunning))
	assert.Empty(t, g.ReadySet())

	require.NoError(t, g.SetStatus("C", StatusComplete))
	assert.Equal(t, []string{"D"}, g.ReadySet())

	n, _ := g.Node("C")
	assert.Equal(t, 100, n.Progress)
}

func TestMarkFailedBlocksDescendants(t *testing.T) {
	g := diamond(t)
	require.NoError(t, g.SetStatus("A", StatusComplete))
	require.NoError(t, g.SetStatus("B", StatusComplete))

	blocked, err := g.MarkFailed("C")
	require.NoError(t, err)
	assert.Equal(t, []string{"D", "E"}, blocked)

	counts := g.CountByStatus()
	assert.Equal(t, 1, counts[StatusFailed])
	assert.Equal(t, 2, counts[StatusBlocked])
	assert.Equal(t, 2, counts[StatusComplete])
}

func TestUnblockAfterRetry(t *testing.T) {
	g := diamond(t)
	require.NoError(t, g.SetStatus("A", StatusComplete))
	require.NoError(t, g.SetStatus("B", StatusComplete))
	_, err := g.MarkFailed("C")
	require.NoError(t, err)

	assert.Empty(t, g.Unblock(), "nothing unblocks while C is failed")

	require.NoError(t, g.SetStatus("C", StatusComplete))
	assert.Equal(t, []string{"D", "E"}, g.Unblock())
	assert.Equal(t, []string{"D"}, g.ReadySet())
}

func TestBlock(t *testing.T) {
	g := diamond(t)
	changed, err := g.Block("B")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "D", "E"}, changed)
	assert.Equal(t, []string{"A"}, g.ReadySet())
}

func TestCloneIsIndependent(t *testing.T) {
	g := diamond(t)
	require.NoError(t, g.Update("A", func(n *Node) { n.Writes = []string{"a.go"} }))

	c := g.Clone()
	require.NoError(t, c.SetStatus("A", StatusComplete))
	require.NoError(t, c.Update("A", func(n *Node) { n.Writes[0] = "changed.go" }))
	require.NoError(t, c.AddNode(Node{ID: "F", DependsOn: []string{"E"}}))

	orig, _ := g.Node("A")
	assert.Equal(t, StatusPending, orig.Status)
	assert.Equal(t, []string{"a.go"}, orig.Writes)
	assert.False(t, g.Has("F"))
	assert.Equal(t, []string{"E"}, g.Sinks())
}

func TestUpdateKeepsIdentity(t *testing.T) {
	g := diamond(t)
	require.NoError(t, g.Update("D", func(n *Node) {
		n.ID = "Z"
		n.Status = StatusComplete
		n.Description = "merge results"
	}))

	n, ok := g.Node("D")
	require.True(t, ok)
	assert.Equal(t, "merge results", n.Description)
	assert.Equal(t, StatusPending, n.Status)
	assert.False(t, g.Has("Z"))
}

func TestNodeReturnsCopy(t *testing.T) {
	g := diamond(t)
	n, _ := g.Node("B")
	n.Status = StatusFailed
	n.DependsOn[0] = "nope"

	again, _ := g.Node("B")
	assert.Equal(t, StatusPending, again.Status)
	assert.Equal(t, []string{"A"}, again.DependsOn)
}

func TestDocumentRoundTrip(t *testing.T) {
	g, err := Build([]Node{
		{ID: "A", Title: "schema"},
		{ID: "B", DependsOn: []string{"A"}, Writes: []string{"api.go"}},
	}, []Edge{{Source: "A", Target: "B", Type: EdgeIntegration}})
	require.NoError(t, err)

	data, err := json.Marshal(g)
	require.NoError(t, err)

	var decoded Graph
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, g.Nodes(), decoded.Nodes())
	e, ok := decoded.Edge("A", "B")
	require.True(t, ok)
	assert.Equal(t, VerificationPending, e.Verification)

	out, err := yaml.Marshal(g)
	require.NoError(t, err)
	var fromYAML Graph
	require.NoError(t, yaml.Unmarshal(out, &fromYAML))
	assert.Equal(t, []string{"A", "B"}, fromYAML.IDs())
}

func TestDocumentRejectsCycle(t *testing.T) {
	var g Graph
	err := json.Unmarshal([]byte(`{"nodes":[{"id":"A","depends_on":["B"]},{"id":"B","depends_on":["A"]}]}`), &g)
	var cycle *errors.CycleError
	assert.True(t, stderrors.As(err, &cycle))
}
