package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/pkg/schema"
)

// SinkFactory builds a sink from its handler config.
type SinkFactory func(h schema.OutputHandler) (Sink, error)

// Dispatcher fans one payload out to every configured sink concurrently.
type Dispatcher struct {
	pool      *pool
	logger    *slog.Logger
	factories map[string]SinkFactory
	screen    io.Writer
	screenMu  sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency bounds concurrent deliveries. Default 4.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) { d.pool = newPool(n) }
}

// WithScreenWriter sets where screen sinks render. Default os.Stdout.
func WithScreenWriter(w io.Writer) Option {
	return func(d *Dispatcher) { d.screen = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSink registers or replaces the factory for a handler type.
func WithSink(handlerType string, f SinkFactory) Option {
	return func(d *Dispatcher) { d.factories[handlerType] = f }
}

// NewDispatcher creates a Dispatcher with the file, clipboard, screen and redis sinks.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:      newPool(4),
		logger:    logging.Discard(),
		factories: make(map[string]SinkFactory),
		screen:    os.Stdout,
	}
	d.factories[schema.OutputFile] = func(h schema.OutputHandler) (Sink, error) {
		return &FileSink{Path: h.Path, Format: h.Format, Append: h.Append}, nil
	}
	d.factories[schema.OutputClipboard] = func(h schema.OutputHandler) (Sink, error) {
		return &ClipboardSink{Format: h.Format, Command: h.Command}, nil
	}
	d.factories[schema.OutputScreen] = func(h schema.OutputHandler) (Sink, error) {
		return &ScreenSink{Title: h.Title, Format: h.Format, Writer: d.screen, mu: &d.screenMu}, nil
	}
	d.factories[schema.OutputRedis] = func(h schema.OutputHandler) (Sink, error) {
		return &RedisSink{Addr: h.Addr, Key: h.Key}, nil
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Build resolves handler configs into sinks. Unknown types are a validation error.
func (d *Dispatcher) Build(handlers []schema.OutputHandler) ([]Sink, error) {
	sinks := make([]Sink, 0, len(handlers))
	for i, h := range handlers {
		f, ok := d.factories[h.Type]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "output_handlers[%d]: unknown type %q", i, h.Type)
		}
		s, err := f(h)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "output_handlers[%d]: %v", i, err).WithCause(err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// Export delivers p to every handler and waits for all deliveries. Successful
// deliveries are returned even when others fail; failures are joined into one
// PERSISTENCE_ERROR.
func (d *Dispatcher) Export(ctx context.Context, p Payload, handlers []schema.OutputHandler) ([]Delivery, error) {
	if len(handlers) == 0 {
		return nil, nil
	}
	sinks, err := d.Build(handlers)
	if err != nil {
		return nil, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	notify := notifierFrom(ctx)
	results := make([]Delivery, len(sinks))
	errs := make([]error, len(sinks))
	var wg sync.WaitGroup

	for i, s := range sinks {
		wg.Add(1)
		task := func(ctx context.Context) error {
			del, err := s.Deliver(ctx, p)
			if err != nil {
				return err
			}
			results[i] = del
			return nil
		}
		finish := func(err error) {
			defer wg.Done()
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Type(), err)
				d.logger.Warn("output delivery failed", "sink", s.Type(), "error", err)
				return
			}
			d.logger.Debug("output delivered", "sink", s.Type(), "location", results[i].Location)
			if notify != nil {
				notify(ctx, p, results[i])
			}
		}
		if err := d.pool.submit(ctx, task, finish); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("%s: %w", s.Type(), err)
		}
	}
	wg.Wait()

	var delivered []Delivery
	for i := range sinks {
		if errs[i] == nil {
			delivered = append(delivered, results[i])
		}
	}
	if joined := errors.Join(errs...); joined != nil {
		return delivered, schema.NewErrorf(schema.ErrCodePersistence, "output dispatch failed: %v", joined).
			WithCause(joined)
	}
	return delivered, nil
}

// Metrics returns the delivery pool counters.
func (d *Dispatcher) Metrics() PoolMetrics {
	return d.pool.snapshot()
}

// Close stops accepting deliveries and waits for in-flight ones.
func (d *Dispatcher) Close() {
	d.pool.shutdown()
}
