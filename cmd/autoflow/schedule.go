package main

import (
	"context"
	"fmt"
	"io"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/pkg/schema"
)

func newScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Run workflow files on cron schedules until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "workflow",
				Usage: "Schedule this workflow file instead of the configured schedules",
			},
			&cli.StringFlag{
				Name:  "cron",
				Usage: "Cron expression for --workflow (seconds optional, @every and @daily accepted)",
			},
			&cli.BoolFlag{
				Name:  "list",
				Usage: "Print the schedules and their next run time, then exit",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			a, err := newApp(ctx, command, needs{store: true, events: true, providers: true, tracing: true})
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := scheduledJobs(a, command)
			if err != nil {
				return err
			}

			sched := scheduler.NewScheduler(workflowRunner(a.newEngine(nil)), a.logger)
			for _, job := range jobs {
				if err := sched.Add(job); err != nil {
					return err
				}
			}

			if command.Bool("list") {
				return printJobs(command.Root().Writer, sched.Jobs())
			}

			if err := sched.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return sched.Stop()
		},
	}
}

func scheduledJobs(a *app, command *cli.Command) ([]scheduler.Job, error) {
	if path := command.String("workflow"); path != "" {
		expr := command.String("cron")
		if expr == "" {
			return nil, fmt.Errorf("--cron is required with --workflow")
		}
		return []scheduler.Job{{Name: path, Cron: expr, Workflow: path}}, nil
	}
	if len(a.cfg.Schedules) == 0 {
		return nil, fmt.Errorf("no schedules configured")
	}
	jobs := make([]scheduler.Job, 0, len(a.cfg.Schedules))
	for _, s := range a.cfg.Schedules {
		jobs = append(jobs, scheduler.Job{Name: s.Name, Cron: s.Cron, Workflow: s.Workflow})
	}
	return jobs, nil
}

// workflowRunner loads the job's workflow file on every firing, so edits are
// picked up without a restart.
func workflowRunner(eng *engine.Engine) scheduler.RunnerFunc {
	return func(ctx context.Context, job scheduler.Job) error {
		desc, _, err := schema.LoadFile(job.Workflow)
		if err != nil {
			return err
		}
		result := eng.Run(ctx, desc)
		if !result.Success {
			if result.Error != nil {
				return result.Error
			}
			return fmt.Errorf("workflow %q ended in %s", result.WorkflowName, result.FinalState)
		}
		return nil
	}
}

func printJobs(w io.Writer, jobs []scheduler.JobStatus) error {
	for _, j := range jobs {
		next := "-"
		if !j.NextRunAt.IsZero() {
			next = j.NextRunAt.Local().Format(time.DateTime)
		}
		if _, err := fmt.Fprintf(w, "%-20s %-16s %s  %s\n", j.Name, j.Cron, faintStyle.Render(next), j.Workflow); err != nil {
			return err
		}
	}
	return nil
}
