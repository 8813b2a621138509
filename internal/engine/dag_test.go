package engine

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/pkg/schema"
)

// --- helpers ---

func node(id, typ string, next ...string) schema.NodeSpec {
	return schema.NodeSpec{ID: id, Type: typ, Config: map[string]any{}, Next: next}
}

func edge(from, to string) schema.Edge {
	return schema.Edge{From: from, To: to}
}

func assertTopological(t *testing.T, g *Graph) {
	t.Helper()
	seen := make(map[string]int, len(g.Order))
	for i, id := range g.Order {
		_, dup := seen[id]
		require.False(t, dup, "node %s ordered twice", id)
		seen[id] = i
	}
	require.Len(t, seen, len(g.Nodes))
	for _, e := range g.Edges {
		assert.Less(t, seen[e.From], seen[e.To], "edge %s -> %s out of order", e.From, e.To)
	}
}

// --- tests ---

func TestBuildGraph_Linear(t *testing.T) {
	g, err := BuildGraph(schema.NodeMap{
		node("a", "transform"),
		node("b", "transform"),
		node("c", "transform"),
	}, []schema.Edge{edge("a", "b"), edge("b", "c")})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, g.Order)
	assert.True(t, g.HasEdge("a", "b"))
	assert.False(t, g.HasEdge("a", "c"))
	assert.Equal(t, 1, g.Index("b"))
	assert.Equal(t, -1, g.Index("missing"))
}

func TestBuildGraph_TiesKeepDeclarationOrder(t *testing.T) {
	g, err := BuildGraph(schema.NodeMap{
		node("zeta", "transform"),
		node("alpha", "transform"),
		node("mid", "transform"),
		node("end", "transform"),
	}, []schema.Edge{edge("zeta", "end"), edge("alpha", "end")})
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "mid", "end"}, g.Order)
}

func TestBuildGraph_DeclarationOrderAfterUnblock(t *testing.T) {
	// c is declared before b; both become ready after a.
	g, err := BuildGraph(schema.NodeMap{
		node("a", "transform"),
		node("c", "transform"),
		node("b", "transform"),
	}, []schema.Edge{edge("a", "b"), edge("a", "c")})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c", "b"}, g.Order)
}

func TestBuildGraph_DependencyDeclaredLater(t *testing.T) {
	g, err := BuildGraph(schema.NodeMap{
		node("report", "export"),
		node("fetch", "provider"),
	}, []schema.Edge{edge("fetch", "report")})
	require.NoError(t, err)

	assert.Equal(t, []string{"fetch", "report"}, g.Order)
}

func TestBuildGraph_NextShorthand(t *testing.T) {
	g, err := BuildGraph(schema.NodeMap{
		node("b", "transform"),
		node("a", "transform", "b"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, g.Order)
	assert.True(t, g.HasEdge("a", "b"))
}

func TestBuildGraph_Cycle(t *testing.T) {
	_, err := BuildGraph(schema.NodeMap{
		node("x", "transform"),
		node("y", "transform"),
	}, []schema.Edge{edge("x", "y"), edge("y", "x")})
	require.Error(t, err)

	fe := schema.AsFlowError(err, "")
	require.NotNil(t, fe)
	assert.Equal(t, schema.ErrCodeCycleDetected, fe.Code)
	assert.Equal(t, "cycle", fe.Message)
	assert.ElementsMatch(t, []string{"x", "y"}, fe.Details["nodes"])
}

func TestBuildGraph_SelfEdgeIsCycle(t *testing.T) {
	_, err := BuildGraph(schema.NodeMap{node("x", "transform")}, []schema.Edge{edge("x", "x")})
	assert.True(t, schema.HasCode(err, schema.ErrCodeCycleDetected))
}

func TestBuildGraph_Errors(t *testing.T) {
	tests := []struct {
		name  string
		nodes schema.NodeMap
		edges []schema.Edge
		code  string
	}{
		{"no nodes", nil, nil, schema.ErrCodeGraph},
		{"empty id", schema.NodeMap{node("", "transform")}, nil, schema.ErrCodeGraph},
		{"duplicate id", schema.NodeMap{node("a", "transform"), node("a", "transform")}, nil, schema.ErrCodeGraph},
		{"missing type", schema.NodeMap{node("a", "")}, nil, schema.ErrCodeGraph},
		{"unknown source", schema.NodeMap{node("a", "transform")}, []schema.Edge{edge("ghost", "a")}, schema.ErrCodeGraph},
		{"unknown target", schema.NodeMap{node("a", "transform")}, []schema.Edge{edge("a", "ghost")}, schema.ErrCodeGraph},
		{"unknown next", schema.NodeMap{node("a", "transform", "ghost")}, nil, schema.ErrCodeGraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := BuildGraph(tt.nodes, tt.edges)
			assert.Nil(t, g)
			assert.True(t, schema.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestBuildGraph_DropsEmptyAndDuplicateEdges(t *testing.T) {
	g, err := BuildGraph(schema.NodeMap{
		node("a", "transform"),
		node("b", "transform"),
	}, []schema.Edge{edge("a", ""), edge("", "b"), edge("a", "b"), edge("a", "b")})
	require.NoError(t, err)

	assert.Equal(t, []schema.Edge{edge("a", "b")}, g.Edges)
	assert.Equal(t, []string{"a"}, g.Predecessors("b"))
	assert.Equal(t, []string{"b"}, g.Successors("a"))
}

func TestGraph_Levels(t *testing.T) {
	g, err := BuildGraph(schema.NodeMap{
		node("a", "transform"),
		node("b", "transform"),
		node("c", "transform"),
		node("d", "transform"),
	}, []schema.Edge{edge("a", "c"), edge("b", "c"), edge("c", "d")})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b"}, {"c"}, {"d"}}, g.Levels())
}

func TestBuildGraph_RandomDAGsAreTopological(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 50; round++ {
		n := 2 + rng.IntN(12)
		nodes := make(schema.NodeMap, 0, n)
		for i := 0; i < n; i++ {
			nodes = append(nodes, node(fmt.Sprintf("n%d", i), "transform"))
		}
		// Edges only go from lower to higher index, so the graph is acyclic.
		var edges []schema.Edge
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rng.IntN(3) == 0 {
					edges = append(edges, edge(nodes[i].ID, nodes[j].ID))
				}
			}
		}
		// Shuffle declaration order.
		rng.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })

		g, err := BuildGraph(nodes, edges)
		require.NoError(t, err)
		assertTopological(t, g)
	}
}
