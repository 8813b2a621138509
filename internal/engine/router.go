package engine

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// Router forwards node outputs to their successors strictly along graph edges.
type Router struct {
	graph  *Graph
	events *emitter
}

// newRouter creates a router over g. events may be nil.
func newRouter(g *Graph, events *emitter) *Router {
	return &Router{graph: g, events: events}
}

// Route builds the previousData bundle for target: every node in state with an
// edge into target, keyed by its id. Nodes without an edge to target are never
// included.
func (r *Router) Route(ctx context.Context, state map[string]any, target string) map[string]any {
	bundle := make(map[string]any)
	var sources []string
	for _, src := range r.graph.Predecessors(target) {
		out, ok := state[src]
		if !ok {
			continue
		}
		bundle[src] = out
		sources = append(sources, src)
	}

	if len(sources) > 0 && r.events != nil {
		r.events.emit(ctx, schema.EventDataRouting, target, map[string]any{
			"sources": sources,
			"target":  target,
			"payload": bundle,
		}, append(sources, target)...)
	}
	return bundle
}

// Handoff announces that source's output is available to its successors.
func (r *Router) Handoff(ctx context.Context, source string, output any) {
	succs := r.graph.Successors(source)
	if len(succs) == 0 || r.events == nil {
		return
	}
	r.events.emit(ctx, schema.EventDataHandoff, source, map[string]any{
		"source":     source,
		"successors": succs,
		"output":     output,
	}, succs...)
}
