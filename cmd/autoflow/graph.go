package main

import (
	"context"
	"fmt"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/rendis/autoflow/internal/diagram"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/pkg/schema"
)

func newGraphCommand() *cli.Command {
	return &cli.Command{
		Name:      "graph",
		Usage:     "Show the execution order of a workflow",
		ArgsUsage: "<workflow.json|workflow.yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format (levels, mermaid, ascii)",
				Value:   "levels",
			},
			&cli.StringFlag{
				Name:  "run",
				Usage: "Overlay node statuses from a stored run",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			desc, err := loadWorkflow(command)
			if err != nil {
				return err
			}
			runID := command.String("run")
			a, err := newApp(ctx, command, needs{store: runID != ""})
			if err != nil {
				return err
			}
			defer a.Close()

			var run *schema.RunRecord
			if runID != "" {
				if err := a.requireStore(); err != nil {
					return err
				}
				if run, err = a.store.GetRun(ctx, runID); err != nil {
					return err
				}
			}

			out, err := renderGraph(desc, run, command.String("format"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(command.Root().Writer, out)
			return err
		},
	}
}

func renderGraph(desc *schema.WorkflowDescription, run *schema.RunRecord, format string) (string, error) {
	switch format {
	case "levels":
		g, err := engine.BuildGraph(desc.Nodes, desc.Edges)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for i, level := range g.Levels() {
			fmt.Fprintf(&b, "%d: %s\n", i, strings.Join(level, ", "))
		}
		fmt.Fprintf(&b, "order: %s\n", strings.Join(g.Order, " -> "))
		return b.String(), nil
	case "mermaid", "ascii":
		model, err := diagram.Build(desc, run)
		if err != nil {
			return "", err
		}
		if format == "mermaid" {
			return diagram.RenderMermaid(model), nil
		}
		return diagram.RenderASCII(model), nil
	default:
		return "", fmt.Errorf("unknown format %q (want levels, mermaid or ascii)", format)
	}
}
