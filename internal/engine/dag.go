package engine

import (
	"github.com/rendis/autoflow/pkg/schema"
)

// Graph is the in-memory directed acyclic graph of a workflow.
// Built once at load time, read-only afterwards.
type Graph struct {
	Nodes   map[string]schema.NodeSpec // node ID → spec
	Edges   []schema.Edge              // deduplicated, declaration order
	Order   []string                   // topological order
	preds   map[string][]string        // node ID → predecessors (declaration order)
	succs   map[string][]string        // node ID → successors (declaration order)
	index   map[string]int             // node ID → position in Order
	declIdx map[string]int             // node ID → declaration position
}

// BuildGraph validates nodes and edges and computes the execution order.
// Node `next` fields contribute edges after the explicit edge list. Edges with
// an empty endpoint are dropped; edges naming an undeclared node fail the build.
// Ties among independent nodes keep declaration order.
func BuildGraph(nodes schema.NodeMap, edges []schema.Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeGraph, "workflow has no nodes")
	}

	g := &Graph{
		Nodes:   make(map[string]schema.NodeSpec, len(nodes)),
		preds:   make(map[string][]string, len(nodes)),
		succs:   make(map[string][]string, len(nodes)),
		index:   make(map[string]int, len(nodes)),
		declIdx: make(map[string]int, len(nodes)),
	}

	// First pass: register nodes.
	for i, n := range nodes {
		if n.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "node at index %d has empty id", i)
		}
		if _, exists := g.Nodes[n.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "duplicate node id: %s", n.ID)
		}
		if n.Type == "" {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "node %s has no type", n.ID).WithNode(n.ID)
		}
		g.Nodes[n.ID] = n
		g.declIdx[n.ID] = i
	}

	// Second pass: collect edges, explicit list first, then `next` shorthand.
	all := make([]schema.Edge, 0, len(edges))
	all = append(all, edges...)
	for _, n := range nodes {
		for _, to := range n.Next {
			all = append(all, schema.Edge{From: n.ID, To: to})
		}
	}

	seen := make(map[schema.Edge]bool, len(all))
	for _, e := range all {
		if e.From == "" || e.To == "" {
			continue
		}
		if _, ok := g.Nodes[e.From]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "edge %s -> %s references unknown node: %s", e.From, e.To, e.From).
				WithDetails(map[string]any{"from": e.From, "to": e.To})
		}
		if _, ok := g.Nodes[e.To]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "edge %s -> %s references unknown node: %s", e.From, e.To, e.To).
				WithDetails(map[string]any{"from": e.From, "to": e.To})
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		g.Edges = append(g.Edges, e)
		g.succs[e.From] = append(g.succs[e.From], e.To)
		g.preds[e.To] = append(g.preds[e.To], e.From)
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(nodes))
	for id := range g.Nodes {
		inDegree[id] = len(g.preds[id])
	}

	ready := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, next := range g.succs[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = g.insertReady(ready, next)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		var stuck []string
		for _, n := range nodes {
			if inDegree[n.ID] > 0 {
				stuck = append(stuck, n.ID)
			}
		}
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "cycle").
			WithDetails(map[string]any{"nodes": stuck})
	}

	for i, id := range order {
		if _, ok := g.Nodes[id]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "ordered node %s has no definition", id)
		}
		g.index[id] = i
	}
	g.Order = order

	return g, nil
}

// insertReady keeps the ready set sorted by declaration index.
func (g *Graph) insertReady(ready []string, id string) []string {
	pos := len(ready)
	for i, r := range ready {
		if g.declIdx[r] > g.declIdx[id] {
			pos = i
			break
		}
	}
	ready = append(ready, "")
	copy(ready[pos+1:], ready[pos:])
	ready[pos] = id
	return ready
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.Order)
}

// Node returns the spec for id.
func (g *Graph) Node(id string) (schema.NodeSpec, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// HasEdge reports whether from -> to was declared.
func (g *Graph) HasEdge(from, to string) bool {
	for _, s := range g.succs[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Predecessors returns the nodes with an edge into id.
func (g *Graph) Predecessors(id string) []string {
	return append([]string(nil), g.preds[id]...)
}

// Successors returns the nodes id has an edge to.
func (g *Graph) Successors(id string) []string {
	return append([]string(nil), g.succs[id]...)
}

// Index returns the position of id in Order, or -1.
func (g *Graph) Index(id string) int {
	i, ok := g.index[id]
	if !ok {
		return -1
	}
	return i
}

// Levels groups nodes into parallel execution levels: every node's
// predecessors sit in earlier levels. The executor runs Order sequentially;
// levels are reported for analysis only.
func (g *Graph) Levels() [][]string {
	depth := make(map[string]int, len(g.Order))
	maxLevel := 0

	for _, id := range g.Order {
		d := 0
		for _, p := range g.preds[id] {
			if depth[p]+1 > d {
				d = depth[p] + 1
			}
		}
		depth[id] = d
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range g.Order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}
