package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/pkg/schema"
)

func decode(t *testing.T, doc string) *schema.WorkflowDescription {
	t.Helper()
	desc, err := schema.Decode([]byte(doc))
	require.NoError(t, err)
	return desc
}

func branchingWorkflow(t *testing.T) *schema.WorkflowDescription {
	return decode(t, `
name: orders
nodes:
  fetch:
    type: provider
    next: [check, audit]
  check:
    type: conditional
    expression: 'previousData.fetch.ok'
    then: [ship]
    else: [refund]
    next: [ship, refund]
  audit:
    type: transform
  ship:
    type: dom_action
  refund:
    type: export
`)
}

func nodeIDs(model *DiagramModel) []string {
	ids := make([]string, len(model.Nodes))
	for i, n := range model.Nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestBuild_Topology(t *testing.T) {
	model, err := Build(branchingWorkflow(t), nil)
	require.NoError(t, err)

	assert.Equal(t, "orders", model.Title)
	assert.Equal(t, []string{StartID, "fetch", "check", "audit", "ship", "refund", EndID}, nodeIDs(model))
	assert.Equal(t, [][]string{{StartID}, {"fetch"}, {"check", "audit"}, {"ship", "refund"}, {EndID}}, model.Levels)

	kinds := map[string]NodeKind{}
	for _, n := range model.Nodes {
		kinds[n.ID] = n.Kind
		assert.Nil(t, n.Status)
	}
	assert.Equal(t, NodeKindProvider, kinds["fetch"])
	assert.Equal(t, NodeKindConditional, kinds["check"])
	assert.Equal(t, NodeKindTransform, kinds["audit"])
	assert.Equal(t, NodeKindAction, kinds["ship"])
	assert.Equal(t, NodeKindExport, kinds["refund"])

	assert.Contains(t, model.Edges, Edge{From: StartID, To: "fetch"})
	assert.Contains(t, model.Edges, Edge{From: "fetch", To: "check"})
	assert.Contains(t, model.Edges, Edge{From: "check", To: "ship", Label: "then", Branch: true})
	assert.Contains(t, model.Edges, Edge{From: "check", To: "refund", Label: "else", Branch: true})
	assert.Contains(t, model.Edges, Edge{From: "audit", To: EndID})
	assert.NotContains(t, model.Edges, Edge{From: "fetch", To: EndID})
}

func TestBuild_StatusOverlay(t *testing.T) {
	run := &schema.RunRecord{
		NodeStatuses: map[string]schema.NodeStatus{
			"fetch": schema.NodeStatusCompleted,
			"check": schema.NodeStatusCompleted,
			"audit": schema.NodeStatusFailed,
			"ship":  schema.NodeStatusSkipped,
		},
		RetryCounts: map[string]int{"audit": 2},
		Errors: []schema.ErrorRecord{
			{NodeID: "audit", Message: "first"},
			{NodeID: "audit", Message: "last"},
		},
	}
	model, err := Build(branchingWorkflow(t), run)
	require.NoError(t, err)

	byID := map[string]*Node{}
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}
	require.NotNil(t, byID["audit"].Status)
	assert.Equal(t, "failed", byID["audit"].Status.Status)
	assert.Equal(t, 2, byID["audit"].Status.RetryCount)
	assert.Equal(t, "last", byID["audit"].Status.Error)
	assert.Equal(t, "skipped", byID["ship"].Status.Status)
	assert.Equal(t, "pending", byID["refund"].Status.Status)
	assert.Nil(t, byID[StartID].Status)
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(nil, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = Build(decode(t, `{"nodes": {"a": {"type": "transform", "next": "b"}, "b": {"type": "transform", "next": "a"}}}`), nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCycleDetected))
}

func TestBuild_TitleFallback(t *testing.T) {
	model, err := Build(decode(t, `{"nodes": {"a": {"type": "transform"}}, "metadata": {"name": "from-meta"}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "from-meta", model.Title)

	model, err = Build(decode(t, `{"nodes": {"a": {"type": "custom_thing"}}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "Workflow", model.Title)
	assert.Equal(t, NodeKindCustom, model.Nodes[1].Kind)
}

func TestRenderMermaid(t *testing.T) {
	run := &schema.RunRecord{NodeStatuses: map[string]schema.NodeStatus{
		"fetch": schema.NodeStatusCompleted,
		"audit": schema.NodeStatusRetrying,
	}}
	model, err := Build(branchingWorkflow(t), run)
	require.NoError(t, err)
	out := RenderMermaid(model)

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% orders")
	assert.Contains(t, out, `fetch{{"fetch"}}`)
	assert.Contains(t, out, `check{"check"}`)
	assert.Contains(t, out, `audit(["audit"])`)
	assert.Contains(t, out, `ship["ship"]`)
	assert.Contains(t, out, `refund[/"refund"/]`)
	assert.Contains(t, out, `__start__(("Start"))`)
	assert.Contains(t, out, "fetch --> check")
	assert.Contains(t, out, "check -.->|then| ship")
	assert.Contains(t, out, "check -.->|else| refund")
	assert.Contains(t, out, "class fetch completed")
	assert.Contains(t, out, "class audit retrying")
	assert.Contains(t, out, "class ship pending")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "load_user_data", mermaidSafeID("load-user.data"))
	assert.Equal(t, "a_b", mermaidSafeID("a b"))
}

func TestRenderASCII(t *testing.T) {
	run := &schema.RunRecord{
		NodeStatuses: map[string]schema.NodeStatus{"fetch": schema.NodeStatusCompleted, "audit": schema.NodeStatusFailed},
		RetryCounts:  map[string]int{"audit": 3},
	}
	model, err := Build(branchingWorkflow(t), run)
	require.NoError(t, err)
	out := RenderASCII(model)

	assert.Contains(t, out, "=== orders ===")
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "[FAIL]")
	assert.Contains(t, out, "retries: 3")
	assert.Contains(t, out, "--- branches ---")
	assert.Contains(t, out, "check ─then→ ship")
	// One connector between each of the five levels.
	assert.Equal(t, 4, strings.Count(out, "▼"))
}

func TestRenderASCII_KindMarksAndFailure(t *testing.T) {
	run := &schema.RunRecord{
		NodeStatuses: map[string]schema.NodeStatus{"fetch": schema.NodeStatusFailed},
		Errors: []schema.ErrorRecord{
			{NodeID: "fetch", Message: "provider claude unavailable after three attempts"},
		},
	}
	model, err := Build(branchingWorkflow(t), run)
	require.NoError(t, err)
	out := RenderASCII(model)

	assert.Contains(t, out, "│ * fetch")
	assert.Contains(t, out, "│ ? check")
	assert.Contains(t, out, "│ @ ship")
	assert.Contains(t, out, "│ > refund")
	assert.Contains(t, out, "│ ~ audit")
	assert.Contains(t, out, "provider claude unavailable…")
	assert.Contains(t, out, "[PEND]")

	for _, line := range strings.Split(out, "\n") {
		assert.Equal(t, strings.TrimRight(line, " "), line)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "first", truncate("first\nsecond", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
