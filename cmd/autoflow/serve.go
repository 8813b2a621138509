package main

import (
	"context"

	cli "github.com/urfave/cli/v3"

	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/pkg/mcp"
)

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve-mcp",
		Usage: "Serve the autoflow tools over MCP on stdio",
		Action: func(ctx context.Context, command *cli.Command) error {
			a, err := newApp(ctx, command, needs{store: true, events: true, providers: true, tracing: true})
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(mcp.ServerDeps{
				Runner: a.newEngine(nil),
				NewRunner: func(events streaming.Publisher) mcp.Runner {
					return a.newEngine(events)
				},
				Validator: a.validator,
				Store:     a.store,
				Version:   version,
				Logger:    a.logger,
			})
			a.logger.Info("mcp server listening on stdio")
			return srv.Serve(ctx)
		},
	}
}
