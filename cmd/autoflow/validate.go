package main

import (
	"context"
	"fmt"
	"io"

	cli "github.com/urfave/cli/v3"

	"github.com/rendis/autoflow/internal/xjson"
	"github.com/rendis/autoflow/pkg/schema"
)

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check a workflow file without running it",
		ArgsUsage: "<workflow.json|workflow.yaml>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the validation result as JSON",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			desc, err := loadWorkflow(command)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, command, needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.validator.Validate(desc)
			if err := printValidation(command.Root().Writer, command.Bool("json"), result); err != nil {
				return err
			}
			if !result.Valid() {
				return fmt.Errorf("workflow has %d error(s)", len(result.Errors))
			}
			return nil
		},
	}
}

func printValidation(w io.Writer, asJSON bool, r *schema.ValidationResult) error {
	if asJSON {
		data, err := xjson.MarshalIndent(map[string]any{
			"valid":    r.Valid(),
			"errors":   r.Errors,
			"warnings": r.Warnings,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	for _, e := range r.Errors {
		fmt.Fprintf(w, "%s %s [%s] %s\n", failStyle.Render("error"), e.Path, e.Code, e.Message)
	}
	for _, e := range r.Warnings {
		fmt.Fprintf(w, "%s %s [%s] %s\n", warnStyle.Render("warning"), e.Path, e.Code, e.Message)
	}
	if r.Valid() {
		fmt.Fprintln(w, okStyle.Render("valid"))
	}
	return nil
}
