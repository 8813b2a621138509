// Package streaming carries engine events to observers.
package streaming

import (
	"context"
	"errors"
)

// Event is a real-time event emitted during a run.
type Event struct {
	Type        string   `json:"type"`
	ExecutionID string   `json:"execution_id"`
	Workflow    string   `json:"workflow,omitempty"`
	NodeID      string   `json:"node_id,omitempty"`
	NodeIDs     []string `json:"node_ids,omitempty"`
	Payload     any      `json:"payload,omitempty"`
	// Timestamp is RFC 3339 with nanoseconds, UTC.
	Timestamp string `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// Publisher accepts events. The engine only needs this half.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publisher
	Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, func(), error)
}

// Tee publishes every event to each publisher and joins their errors.
type Tee []Publisher

func (t Tee) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range t {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// matchFilter returns true if the event passes the filter criteria.
func matchFilter(f EventFilter, e Event) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
