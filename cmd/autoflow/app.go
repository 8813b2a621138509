package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/autoflow/internal/config"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/nodes"
	"github.com/rendis/autoflow/internal/output"
	"github.com/rendis/autoflow/internal/providers"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/internal/telemetry"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

// needs selects the collaborators a command opens.
type needs struct {
	store     bool
	events    bool
	providers bool
	tracing   bool
}

// app holds the wired collaborators of one command invocation.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	registry  *nodes.Registry
	validator *validation.WorkflowValidator

	tracer    trace.Tracer
	store     store.Store
	hub       streaming.EventHub
	exporter  *output.Dispatcher
	providers *providers.Manager

	closers []func() error
}

// newApp loads config and opens what the command needs. Callers must Close it.
func newApp(ctx context.Context, command *cli.Command, n needs) (*app, error) {
	root := command.Root()
	cfg, err := config.Load(root.String("config"), root.IsSet("config"))
	if err != nil {
		return nil, err
	}
	if v := root.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := root.String("log-format"); v != "" {
		cfg.Log.Format = v
	}

	a := &app{
		cfg:    cfg,
		logger: logging.New(root.ErrWriter, cfg.Log.Level, cfg.Log.Format),
	}

	exprs, err := expressions.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("expression engines: %w", err)
	}
	a.registry = nodes.NewRegistry(exprs)
	a.validator, err = validation.NewWorkflowValidator(a.registry)
	if err != nil {
		return nil, fmt.Errorf("workflow validator: %w", err)
	}

	if err := a.open(ctx, n); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context, n needs) error {
	if n.tracing {
		tracer, shutdown, err := telemetry.Setup(ctx, a.cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		a.tracer = tracer
		a.closers = append(a.closers, func() error { return shutdown(context.WithoutCancel(ctx)) })
	}

	if n.store {
		st, err := openStore(ctx, a.cfg.Store)
		if err != nil {
			return err
		}
		if st != nil {
			a.store = st
			a.closers = append(a.closers, st.Close)
		}
	}

	if n.events {
		switch a.cfg.Events.Backend {
		case config.EventsMemory:
			a.hub = streaming.NewMemoryHub()
		case config.EventsWatermill:
			hub := streaming.NewGoChannelHub(a.logger)
			a.hub = hub
			a.closers = append(a.closers, hub.Close)
		}
	}

	if n.providers {
		a.exporter = output.NewDispatcher(output.WithLogger(logging.WithModule(a.logger, "output")))
		a.closers = append(a.closers, func() error { a.exporter.Close(); return nil })

		if err := a.connectProviders(ctx); err != nil {
			return err
		}
	}
	return nil
}

// openStore opens the configured run store. The none driver returns nil.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreLibSQL:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		st, err := store.NewLibSQLStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		return st, nil
	case config.StoreFile:
		st, err := store.NewFileStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return st, nil
	default:
		return nil, nil
	}
}

// connectProviders starts every configured MCP server and registers it as a provider.
func (a *app) connectProviders(ctx context.Context) error {
	a.providers = providers.NewManager(a.cfg.Retry, a.cfg.Providers.Fallbacks,
		logging.WithModule(a.logger, "providers"))

	for _, srv := range a.cfg.Providers.MCP {
		env := make([]string, 0, len(srv.Env))
		for k, v := range srv.Env {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)

		c, err := client.NewStdioMCPClient(srv.Command, env, srv.Args...)
		if err != nil {
			return fmt.Errorf("provider %s: start mcp server: %w", srv.Name, err)
		}
		a.closers = append(a.closers, c.Close)

		init := mcp.InitializeRequest{}
		init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		init.Params.ClientInfo = mcp.Implementation{Name: "autoflow", Version: version}
		if _, err := c.Initialize(ctx, init); err != nil {
			return fmt.Errorf("provider %s: initialize: %w", srv.Name, err)
		}
		if err := a.providers.Register(providers.NewMCPProvider(srv.Name, srv.Tool, c)); err != nil {
			return err
		}
		a.logger.Debug("provider connected", "provider", srv.Name, "command", srv.Command)
	}
	return nil
}

// newEngine builds an engine publishing to the app hub and to extra, if set.
func (a *app) newEngine(extra streaming.Publisher) *engine.Engine {
	deps := engine.Deps{
		Registry:  a.registry,
		Validator: a.validator,
		Tracer:    a.tracer,
		Logger:    a.logger,
	}
	if a.providers != nil {
		deps.Providers = a.providers
	}
	if a.exporter != nil {
		deps.Exporter = a.exporter
	}
	if a.store != nil {
		deps.Store = a.store
	}

	var pubs streaming.Tee
	if a.hub != nil {
		pubs = append(pubs, a.hub)
	}
	if extra != nil {
		pubs = append(pubs, extra)
	}
	if len(pubs) > 0 {
		deps.Events = pubs
	}
	return engine.New(deps, a.cfg.Engine)
}

// Close releases everything opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// loadWorkflow reads a workflow file given as the first argument.
func loadWorkflow(command *cli.Command) (*schema.WorkflowDescription, error) {
	path := command.Args().First()
	if path == "" {
		return nil, fmt.Errorf("workflow file argument is required")
	}
	desc, _, err := schema.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return desc, nil
}

// requireStore fails when the config disables run storage.
func (a *app) requireStore() error {
	if a.store == nil {
		return fmt.Errorf("run store is disabled (store.driver: %s)", a.cfg.Store.Driver)
	}
	return nil
}
