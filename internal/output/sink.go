// Package output delivers run results to configured sinks.
package output

import (
	"context"
	"time"
)

// Payload is what a sink receives.
type Payload struct {
	ExecutionID  string    `json:"execution_id"`
	WorkflowName string    `json:"workflow_name,omitempty"`
	NodeID       string    `json:"node_id,omitempty"`
	Data         any       `json:"data"`
	CreatedAt    time.Time `json:"created_at"`
}

// Delivery records where a payload went.
type Delivery struct {
	Sink     string    `json:"sink"`
	Location string    `json:"location"`
	At       time.Time `json:"at"`
}

// Sink is one output destination.
type Sink interface {
	Type() string
	Deliver(ctx context.Context, p Payload) (Delivery, error)
}

// Notifier observes successful deliveries.
type Notifier func(ctx context.Context, p Payload, d Delivery)

type notifierKey struct{}

// WithNotifier attaches a delivery observer to ctx.
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

func notifierFrom(ctx context.Context) Notifier {
	n, _ := ctx.Value(notifierKey{}).(Notifier)
	return n
}
