// Package mcp exposes autoflow over the Model Context Protocol.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/pkg/schema"
)

// Runner executes a workflow to a terminal state. *engine.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, desc *schema.WorkflowDescription) *engine.ExecutionResult
}

// RunnerFactory builds a Runner that also publishes its events to events.
// It lets a run stream progress to the MCP session that started it.
type RunnerFactory func(events streaming.Publisher) Runner

// Validator reports every issue of a workflow description.
// *validation.WorkflowValidator satisfies it.
type Validator interface {
	Validate(desc *schema.WorkflowDescription) *schema.ValidationResult
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runner    Runner
	NewRunner RunnerFactory
	Validator Validator
	Store     store.Store
	Version   string
	Logger    *slog.Logger
}

// Server wraps an MCP server with autoflow tool handlers.
type Server struct {
	runner    Runner
	newRunner RunnerFactory
	validator Validator
	store     store.Store
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		runner:    deps.Runner,
		newRunner: deps.NewRunner,
		validator: deps.Validator,
		store:     deps.Store,
		logger:    logging.WithModule(deps.Logger, "mcp"),
	}

	mcpSrv := server.NewMCPServer(
		"autoflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("autoflow runs workflow graphs. Use autoflow.validate to check a workflow document, autoflow.graph to inspect its execution order, autoflow.run to execute it and autoflow.runs to read stored run records."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: graphTool(), Handler: s.handleGraph},
		{Tool: runsTool(), Handler: s.handleRuns},
	}
}

// --- Tool definitions ---

func workflowArgs() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("workflow", mcp.Description("Workflow document, JSON or YAML. Takes precedence over path")),
		mcp.WithString("path", mcp.Description("Path of a workflow file readable by the server")),
	}
}

func runTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Execute a workflow and return its execution result"),
	}, workflowArgs()...)
	return mcp.NewTool("autoflow.run", opts...)
}

func validateTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Validate a workflow and list its errors and warnings"),
	}, workflowArgs()...)
	return mcp.NewTool("autoflow.validate", opts...)
}

func graphTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Show the execution order of a workflow as levels, a Mermaid flowchart or ASCII art"),
		mcp.WithString("format",
			mcp.Enum("levels", "mermaid", "ascii"),
			mcp.Description("Output format (default: levels)"),
		),
		mcp.WithString("execution_id", mcp.Description("Overlay node statuses from this stored run")),
	}, workflowArgs()...)
	return mcp.NewTool("autoflow.graph", opts...)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("autoflow.runs",
		mcp.WithDescription("Fetch one stored run record, or list run summaries newest first"),
		mcp.WithString("execution_id", mcp.Description("Return the full record of this run")),
		mcp.WithString("workflow_name", mcp.Description("Only list runs of this workflow")),
		mcp.WithBoolean("success", mcp.Description("Only list successful (true) or failed (false) runs")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs to list (default: 50)")),
	)
}
