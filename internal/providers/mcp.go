package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/autoflow/pkg/schema"
)

// ToolCaller is the part of an MCP client the provider needs.
// *client.Client from mcp-go satisfies it.
type ToolCaller interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCPProvider generates responses by calling a tool on an MCP server.
type MCPProvider struct {
	name   string
	tool   string
	caller ToolCaller
}

// NewMCPProvider creates a provider that calls tool on caller.
func NewMCPProvider(name, tool string, caller ToolCaller) *MCPProvider {
	return &MCPProvider{name: name, tool: tool, caller: caller}
}

func (p *MCPProvider) Name() string { return p.name }

// GenerateResponse sends prompt, system, model, context and options as tool arguments.
// Text content blocks are concatenated into the response content.
func (p *MCPProvider) GenerateResponse(ctx context.Context, req Request) (*Response, error) {
	args := map[string]any{"prompt": req.Prompt}
	if req.System != "" {
		args["system"] = req.System
	}
	if req.Model != "" {
		args["model"] = req.Model
	}
	if len(req.Context) > 0 {
		args["context"] = req.Context
	}
	for k, v := range req.Options {
		if _, reserved := args[k]; !reserved {
			args[k] = v
		}
	}

	call := mcp.CallToolRequest{}
	call.Params.Name = p.tool
	call.Params.Arguments = args

	result, err := p.caller.CallTool(ctx, call)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "%s: call tool %s", p.name, p.tool).WithCause(err)
	}

	var parts []string
	for _, c := range result.Content {
		if text := mcp.GetTextFromContent(c); text != "" {
			parts = append(parts, text)
		}
	}
	content := strings.Join(parts, "\n")

	if result.IsError {
		return &Response{Success: false, Provider: p.name, Model: req.Model, Error: content}, nil
	}

	resp := &Response{Success: true, Provider: p.name, Model: req.Model, Content: content}
	var data map[string]any
	if json.Unmarshal([]byte(content), &data) == nil {
		resp.Data = data
	}
	return resp, nil
}
