package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/autoflow/internal/streaming"
)

// emitter stamps and publishes the events of one run. Publish failures are
// logged and never affect the run.
type emitter struct {
	pub         streaming.Publisher
	executionID string
	workflow    string
	logger      *slog.Logger
	now         func() time.Time
}

func (e *emitter) emit(ctx context.Context, eventType, nodeID string, payload any, nodeIDs ...string) {
	if e.pub == nil {
		return
	}
	ev := streaming.Event{
		Type:        eventType,
		ExecutionID: e.executionID,
		Workflow:    e.workflow,
		NodeID:      nodeID,
		NodeIDs:     nodeIDs,
		Payload:     payload,
		Timestamp:   e.now().UTC().Format(time.RFC3339Nano),
	}
	if err := e.pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("event publish failed", "event_type", eventType, "error", err)
	}
}
