package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	cli "github.com/urfave/cli/v3"

	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/internal/xjson"
	"github.com/rendis/autoflow/pkg/schema"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	faintStyle = lipgloss.NewStyle().Faint(true)
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
)

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a workflow file",
		ArgsUsage: "<workflow.json|workflow.yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "output",
				Usage: "Result format (summary, json)",
				Value: "summary",
			},
			&cli.BoolFlag{
				Name:  "events",
				Usage: "Print execution events to stderr while running",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			desc, err := loadWorkflow(command)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, command, needs{store: true, events: true, providers: true, tracing: true})
			if err != nil {
				return err
			}
			defer a.Close()

			var extra streaming.Publisher
			if command.Bool("events") {
				extra = &eventPrinter{w: command.Root().ErrWriter}
			}
			result := a.newEngine(extra).Run(ctx, desc)

			if err := printResult(command.Root().Writer, command.String("output"), result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("workflow %q ended in %s", result.WorkflowName, result.FinalState)
			}
			return nil
		},
	}
}

func printResult(w io.Writer, format string, result *engine.ExecutionResult) error {
	switch format {
	case "json":
		data, err := xjson.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "summary":
		_, err := fmt.Fprint(w, renderSummary(result))
		return err
	default:
		return fmt.Errorf("unknown output format %q (want summary or json)", format)
	}
}

// renderSummary lists node statuses in execution order followed by errors.
func renderSummary(result *engine.ExecutionResult) string {
	var out string
	status := okStyle.Render("COMPLETE")
	switch {
	case !result.Success:
		status = failStyle.Render("ERROR")
	case result.Degraded:
		status = warnStyle.Render("COMPLETE (degraded)")
	}
	out += fmt.Sprintf("%s %s\n", headStyle.Render(result.WorkflowName), status)
	out += faintStyle.Render(fmt.Sprintf("execution %s  %s", result.ExecutionID, result.EndTime.Sub(result.StartTime))) + "\n"

	for _, id := range nodeOrder(result) {
		line := fmt.Sprintf("  %-24s %s", id, styleStatus(result.NodeStatuses[id]))
		if n := result.RetryCounts[id]; n > 0 {
			line += faintStyle.Render(fmt.Sprintf("  retries: %d", n))
		}
		out += line + "\n"
	}
	if result.Error != nil {
		out += failStyle.Render("error: ") + result.Error.Error() + "\n"
	}
	return out
}

// nodeOrder returns node ids in the order the run first reached them.
func nodeOrder(result *engine.ExecutionResult) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, t := range result.Transitions {
		if t.NodeID == "" || seen[t.NodeID] {
			continue
		}
		if _, ok := result.NodeStatuses[t.NodeID]; !ok {
			continue
		}
		seen[t.NodeID] = true
		ids = append(ids, t.NodeID)
	}
	return ids
}

func styleStatus(s schema.NodeStatus) string {
	switch s {
	case schema.NodeStatusCompleted:
		return okStyle.Render(string(s))
	case schema.NodeStatusFailed:
		return failStyle.Render(string(s))
	case schema.NodeStatusRetrying, schema.NodeStatusSkipped:
		return warnStyle.Render(string(s))
	default:
		return faintStyle.Render(string(s))
	}
}

// eventPrinter writes one line per engine event.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *eventPrinter) Publish(_ context.Context, ev streaming.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := fmt.Sprintf("%s %s", faintStyle.Render(ev.Timestamp), headStyle.Render(ev.Type))
	if ev.NodeID != "" {
		line += " " + ev.NodeID
	}
	if ev.Payload != nil {
		if data, err := xjson.Marshal(ev.Payload); err == nil {
			line += " " + faintStyle.Render(string(data))
		}
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}
