package mcp

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoflow/internal/diagram"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/xjson"
	"github.com/rendis/autoflow/pkg/schema"
)

const defaultListLimit = 50

// handleRun executes a workflow. A failed run is still a successful tool call:
// the result carries success=false and the error.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil && s.newRunner == nil {
		return mcp.NewToolResultError("no engine configured"), nil
	}
	desc, errResult := loadWorkflow(req)
	if errResult != nil {
		return errResult, nil
	}

	runner := s.runner
	if session := server.ClientSessionFromContext(ctx); session != nil && s.newRunner != nil {
		runner = s.newRunner(NewSessionPublisher(s.mcpServer, session.SessionID()))
	}
	if runner == nil {
		runner = s.newRunner(nil)
	}

	result := runner.Run(ctx, desc)
	s.logger.Info("workflow run via mcp",
		"execution_id", result.ExecutionID,
		"workflow", result.WorkflowName,
		"success", result.Success,
	)
	return marshalResult(result)
}

// handleValidate returns the aggregated validation result.
func (s *Server) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.validator == nil {
		return mcp.NewToolResultError("no validator configured"), nil
	}
	desc, errResult := loadWorkflow(req)
	if errResult != nil {
		return errResult, nil
	}
	r := s.validator.Validate(desc)
	return marshalResult(map[string]any{
		"valid":    r.Valid(),
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}

// handleGraph builds the workflow graph and renders it.
func (s *Server) handleGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	desc, errResult := loadWorkflow(req)
	if errResult != nil {
		return errResult, nil
	}
	format := req.GetString("format", "levels")

	var run *schema.RunRecord
	if id := req.GetString("execution_id", ""); id != "" {
		if s.store == nil {
			return mcp.NewToolResultError("no run store configured"), nil
		}
		rec, err := s.store.GetRun(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
		}
		run = rec
	}

	switch format {
	case "levels":
		g, err := engine.BuildGraph(desc.Nodes, desc.Edges)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("graph build failed: %v", err)), nil
		}
		return marshalResult(map[string]any{
			"order":  g.Order,
			"levels": g.Levels(),
			"edges":  g.Edges,
		})
	case "mermaid", "ascii":
		model, err := diagram.Build(desc, run)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
		}
		if format == "mermaid" {
			return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
		}
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	default:
		return mcp.NewToolResultError("format must be levels, mermaid, or ascii"), nil
	}
}

// handleRuns fetches one run record or lists summaries.
func (s *Server) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no run store configured"), nil
	}
	if id := req.GetString("execution_id", ""); id != "" {
		rec, err := s.store.GetRun(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
		}
		return marshalResult(rec)
	}

	filter := store.RunFilter{
		WorkflowName: req.GetString("workflow_name", ""),
		Limit:        req.GetInt("limit", defaultListLimit),
	}
	if _, ok := req.GetArguments()["success"]; ok {
		success := req.GetBool("success", false)
		filter.Success = &success
	}
	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list runs failed: %v", err)), nil
	}
	if runs == nil {
		runs = []schema.RunSummary{}
	}
	return marshalResult(map[string]any{"runs": runs})
}

// loadWorkflow decodes the workflow argument, or reads the path argument.
func loadWorkflow(req mcp.CallToolRequest) (*schema.WorkflowDescription, *mcp.CallToolResult) {
	if doc := req.GetString("workflow", ""); doc != "" {
		desc, err := schema.Decode([]byte(doc))
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err))
		}
		return desc, nil
	}
	if path := req.GetString("path", ""); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("workflow file: %v", err))
		}
		desc, _, err := schema.LoadFile(path)
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err))
		}
		return desc, nil
	}
	return nil, mcp.NewToolResultError("one of workflow or path is required")
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := xjson.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
