package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	lastReq mcp.CallToolRequest
	result  *mcp.CallToolResult
	err     error
}

func (f *fakeCaller) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func TestMCPProvider_SendsArguments(t *testing.T) {
	caller := &fakeCaller{result: mcp.NewToolResultText(`{"summary":"ok"}`)}
	p := NewMCPProvider("claude", "generate", caller)

	resp, err := p.GenerateResponse(context.Background(), Request{
		Prompt:  "summarize",
		System:  "be brief",
		Model:   "large",
		Context: map[string]any{"page": "title"},
		Options: map[string]any{"temperature": 0.2, "prompt": "ignored"},
	})
	require.NoError(t, err)

	assert.Equal(t, "generate", caller.lastReq.Params.Name)
	args := caller.lastReq.GetArguments()
	assert.Equal(t, "summarize", args["prompt"])
	assert.Equal(t, "be brief", args["system"])
	assert.Equal(t, "large", args["model"])
	assert.Equal(t, 0.2, args["temperature"])

	assert.True(t, resp.Success)
	assert.Equal(t, "claude", resp.Provider)
	assert.Equal(t, `{"summary":"ok"}`, resp.Content)
	assert.Equal(t, "ok", resp.Data["summary"])
}

func TestMCPProvider_ToolError(t *testing.T) {
	caller := &fakeCaller{result: mcp.NewToolResultError("quota exceeded")}
	p := NewMCPProvider("claude", "generate", caller)

	resp, err := p.GenerateResponse(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "quota exceeded", resp.Error)
}

func TestMCPProvider_TransportError(t *testing.T) {
	p := NewMCPProvider("claude", "generate", &fakeCaller{err: errors.New("broken pipe")})
	_, err := p.GenerateResponse(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}
