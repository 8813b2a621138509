package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	cli "github.com/urfave/cli/v3"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/xjson"
	"github.com/rendis/autoflow/pkg/schema"
)

func newRunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect stored run records",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workflow", Usage: "Only runs of this workflow"},
					&cli.BoolFlag{Name: "failed", Usage: "Only failed runs"},
					&cli.BoolFlag{Name: "succeeded", Usage: "Only successful runs"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of runs", Value: 20},
					&cli.BoolFlag{Name: "json", Usage: "Print as JSON"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					filter, err := runFilter(command)
					if err != nil {
						return err
					}
					a, err := newApp(ctx, command, needs{store: true})
					if err != nil {
						return err
					}
					defer a.Close()
					if err := a.requireStore(); err != nil {
						return err
					}

					runs, err := a.store.ListRuns(ctx, filter)
					if err != nil {
						return err
					}
					return printRuns(command.Root().Writer, command.Bool("json"), runs)
				},
			},
			{
				Name:      "show",
				Usage:     "Print the full record of one run as JSON",
				ArgsUsage: "<execution-id>",
				Action: func(ctx context.Context, command *cli.Command) error {
					id := command.Args().First()
					if id == "" {
						return fmt.Errorf("execution id argument is required")
					}
					a, err := newApp(ctx, command, needs{store: true})
					if err != nil {
						return err
					}
					defer a.Close()
					if err := a.requireStore(); err != nil {
						return err
					}

					rec, err := a.store.GetRun(ctx, id)
					if err != nil {
						return err
					}
					data, err := xjson.MarshalIndent(rec, "", "  ")
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(command.Root().Writer, string(data))
					return err
				},
			},
		},
	}
}

func runFilter(command *cli.Command) (store.RunFilter, error) {
	f := store.RunFilter{
		WorkflowName: command.String("workflow"),
		Limit:        int(command.Int("limit")),
	}
	failed, succeeded := command.Bool("failed"), command.Bool("succeeded")
	switch {
	case failed && succeeded:
		return f, fmt.Errorf("--failed and --succeeded are mutually exclusive")
	case failed:
		f.Success = new(bool)
	case succeeded:
		ok := true
		f.Success = &ok
	}
	return f, nil
}

func printRuns(w io.Writer, asJSON bool, runs []schema.RunSummary) error {
	if asJSON {
		if runs == nil {
			runs = []schema.RunSummary{}
		}
		data, err := xjson.MarshalIndent(runs, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, faintStyle.Render("no runs"))
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(faintStyle).
		Headers("EXECUTION", "WORKFLOW", "STARTED", "DURATION", "STATE")
	for _, r := range runs {
		state := okStyle.Render(string(r.FinalState))
		if !r.Success {
			state = failStyle.Render(string(r.FinalState))
		}
		t.Row(
			r.ExecutionID,
			r.WorkflowName,
			r.StartTime.Local().Format(time.DateTime),
			r.EndTime.Sub(r.StartTime).Round(time.Millisecond).String(),
			state,
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
