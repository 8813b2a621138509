package nodes

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rendis/autoflow/internal/automation"
	"github.com/rendis/autoflow/internal/output"
	"github.com/rendis/autoflow/internal/providers"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProviders struct {
	last providers.Request
	resp *providers.Response
	err  error
}

func (f *fakeProviders) Generate(_ context.Context, req providers.Request) (*providers.Response, error) {
	f.last = req
	return f.resp, f.err
}

func runContext(s schema.NodeSpec, prev map[string]any, state map[string]any) *RunContext {
	return &RunContext{
		ExecutionID:  "exec-1",
		Workflow:     &schema.WorkflowDescription{Name: "wf"},
		Spec:         s,
		Input:        NewInput(s.Config, prev),
		PreviousData: prev,
		State:        state,
		Attempt:      1,
	}
}

func TestDOMAction_Request(t *testing.T) {
	r := newTestRegistry(t)
	n, err := r.Resolve(spec("login", KindDOMAction, map[string]any{
		"action":       "type",
		"target":       "tab-1",
		"selector_key": "username",
		"fallbacks":    []any{"username_alt"},
		"value":        "alice",
		"timeout":      "2s",
	}))
	require.NoError(t, err)

	an, ok := n.(AutomationNode)
	require.True(t, ok)
	req := an.AutomationRequest()
	assert.Equal(t, automation.Request{
		Target: "tab-1", Action: "type", SelectorKey: "username",
		Fallbacks: []string{"username_alt"}, Value: "alice", Timeout: 2 * time.Second,
	}, req)

	res, err := n.Execute(context.Background(), runContext(schema.NodeSpec{ID: "login"}, nil, nil))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "type", res.Output.(map[string]any)["action"])
}

func TestDOMAction_Validation(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Resolve(spec("x", KindDOMAction, nil))
	assert.ErrorContains(t, err, "requires an action")

	_, err = r.Resolve(spec("x", KindDOMAction, map[string]any{"action": "click", "timeout": true}))
	assert.Error(t, err)

	n, err := r.Resolve(spec("x", KindDOMAction, map[string]any{"action": "click", "timeout": 1500}))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, n.(AutomationNode).AutomationRequest().Timeout)
}

func TestProviderNode_PassesContext(t *testing.T) {
	r := newTestRegistry(t)
	s := spec("ask", KindProvider, map[string]any{
		"provider":  "claude",
		"fallbacks": []any{"gpt"},
		"prompt":    "summarize",
		"model":     "large",
	})
	n, err := r.Resolve(s)
	require.NoError(t, err)

	fp := &fakeProviders{resp: &providers.Response{Success: true, Provider: "gpt", Content: "short"}}
	rc := runContext(s, map[string]any{"scrape": "long text"}, nil)
	rc.Services.Providers = fp

	res, err := n.Execute(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"content": "short", "provider": "gpt"}, res.Output)
	assert.Equal(t, "claude", fp.last.Provider)
	assert.Equal(t, []string{"gpt"}, fp.last.Fallbacks)
	assert.Equal(t, "large", fp.last.Model)
	assert.Equal(t, map[string]any{"scrape": "long text"}, fp.last.Context)
}

func TestProviderNode_PromptExpression(t *testing.T) {
	r := newTestRegistry(t)
	s := spec("ask", KindProvider, map[string]any{
		"provider":          "claude",
		"prompt_expression": `"Summarize: " + .previousData.scrape`,
		"include_context":   false,
	})
	n, err := r.Resolve(s)
	require.NoError(t, err)

	fp := &fakeProviders{resp: &providers.Response{Success: true, Content: "ok"}}
	rc := runContext(s, map[string]any{"scrape": "page"}, nil)
	rc.Services.Providers = fp

	_, err = n.Execute(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, "Summarize: page", fp.last.Prompt)
	assert.Nil(t, fp.last.Context)
}

func TestProviderNode_Errors(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Resolve(spec("ask", KindProvider, map[string]any{"provider": "claude"}))
	assert.Error(t, err)

	s := spec("ask", KindProvider, map[string]any{"provider": "claude", "prompt": "x"})
	n, err := r.Resolve(s)
	require.NoError(t, err)

	_, err = n.Execute(context.Background(), runContext(s, nil, nil))
	assert.ErrorContains(t, err, "no provider manager")

	rc := runContext(s, nil, nil)
	rc.Services.Providers = &fakeProviders{err: errors.New("all down")}
	_, err = n.Execute(context.Background(), rc)
	assert.ErrorContains(t, err, "all down")
}

func TestTransformNode_JQAndExpr(t *testing.T) {
	r := newTestRegistry(t)

	jq := spec("count", KindTransform, map[string]any{"expression": ".previousData.list.items | length"})
	n, err := r.Resolve(jq)
	require.NoError(t, err)
	res, err := n.Execute(context.Background(), runContext(jq, map[string]any{"list": map[string]any{"items": []any{"a", "b"}}}, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Output)

	ex := spec("name", KindTransform, map[string]any{"language": "expr", "expression": "workflow.name + ':' + state.login.user"})
	n, err = r.Resolve(ex)
	require.NoError(t, err)
	res, err = n.Execute(context.Background(), runContext(ex, nil, map[string]any{"login": map[string]any{"user": "alice"}}))
	require.NoError(t, err)
	assert.Equal(t, "wf:alice", res.Output)
}

func TestTransformNode_Validation(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Resolve(spec("x", KindTransform, nil))
	assert.ErrorContains(t, err, "requires an expression")
	_, err = r.Resolve(spec("x", KindTransform, map[string]any{"language": "lua", "expression": "x"}))
	assert.ErrorContains(t, err, "jq or expr")
	_, err = r.Resolve(spec("x", KindTransform, map[string]any{"expression": ".["}))
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestConditionalNode_Branches(t *testing.T) {
	r := newTestRegistry(t)
	s := spec("gate", KindConditional, map[string]any{
		"expression": "previousData.check.ok",
		"then":       "publish",
		"else":       []any{"alert", "log"},
	})
	n, err := r.Resolve(s)
	require.NoError(t, err)

	b, ok := n.(Brancher)
	require.True(t, ok)
	assert.True(t, b.Branches())

	res, err := n.Execute(context.Background(), runContext(s, map[string]any{"check": map[string]any{"ok": true}}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"publish"}, res.NextNodeOverride)
	assert.Equal(t, "then", res.Output.(map[string]any)["branch"])

	res, err = n.Execute(context.Background(), runContext(s, map[string]any{"check": map[string]any{"ok": false}}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"alert", "log"}, res.NextNodeOverride)
}

func TestConditionalNode_NonBool(t *testing.T) {
	r := newTestRegistry(t)
	s := spec("gate", KindConditional, map[string]any{"expression": "'yes'"})
	n, err := r.Resolve(s)
	require.NoError(t, err)
	_, err = n.Execute(context.Background(), runContext(s, nil, nil))
	assert.ErrorContains(t, err, "want bool")
}

func TestExportNode_ExportAndRollback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "{node}.json")
	r := newTestRegistry(t)
	s := spec("save", KindExport, map[string]any{
		"handlers": []any{map[string]any{"type": "file", "path": path}},
	})
	n, err := r.Resolve(s)
	require.NoError(t, err)

	d := output.NewDispatcher()
	defer d.Close()
	rc := runContext(s, map[string]any{"summary": "done"}, nil)
	rc.Services.Exporter = d

	res, err := n.Execute(context.Background(), rc)
	require.NoError(t, err)
	out := res.Output.(map[string]any)
	assert.Equal(t, 1, out["exported"])

	written := filepath.Join(dir, "save.json")
	_, err = os.Stat(written)
	require.NoError(t, err)

	rb, ok := n.(Rollbacker)
	require.True(t, ok)
	rc.Output = res.Output
	require.NoError(t, rb.Rollback(context.Background(), rc))
	_, err = os.Stat(written)
	assert.True(t, os.IsNotExist(err))
}

func TestExportNode_SourceAndWorkflowHandlers(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t)
	s := spec("save", KindExport, map[string]any{"source": "ask"})
	n, err := r.Resolve(s)
	require.NoError(t, err)

	d := output.NewDispatcher()
	defer d.Close()
	rc := runContext(s, nil, map[string]any{"ask": "answer"})
	rc.Workflow.OutputHandlers = []schema.OutputHandler{{Type: "file", Path: filepath.Join(dir, "a.txt"), Format: "text"}}
	rc.Services.Exporter = d

	_, err = n.Execute(context.Background(), rc)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "answer\n", string(data))

	rc.State = map[string]any{}
	_, err = n.Execute(context.Background(), rc)
	assert.ErrorContains(t, err, "has no output")
}
