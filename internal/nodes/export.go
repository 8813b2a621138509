package nodes

import (
	"context"
	"errors"
	"os"

	"github.com/rendis/autoflow/internal/output"
	"github.com/rendis/autoflow/pkg/schema"
)

// exportNode sends data to output handlers mid-run. Rollback removes the files
// it wrote unless they were opened in append mode.
type exportNode struct {
	base
	handlers []schema.OutputHandler
	source   string
}

func newExportNode(spec schema.NodeSpec, _ *Env) (Node, error) {
	n := &exportNode{
		base:   base{id: spec.ID, kind: KindExport},
		source: str(spec.Config, "source"),
	}
	if raw, ok := spec.Config["handlers"]; ok {
		if err := decode(raw, &n.handlers); err != nil {
			return nil, configError(spec, "invalid handlers: %v", err)
		}
	}
	return n, nil
}

func (n *exportNode) Execute(ctx context.Context, rc *RunContext) (*schema.NodeResult, error) {
	if rc.Services.Exporter == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no exporter configured")
	}

	handlers := n.handlers
	if len(handlers) == 0 && rc.Workflow != nil {
		handlers = rc.Workflow.OutputHandlers
	}
	if len(handlers) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "export node has no handlers")
	}

	var data any = rc.PreviousData
	if n.source != "" {
		v, ok := rc.State[n.source]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNodeFailed, "export source %q has no output", n.source)
		}
		data = v
	}

	deliveries, err := rc.Services.Exporter.Export(ctx, output.Payload{
		ExecutionID:  rc.ExecutionID,
		WorkflowName: rc.WorkflowName(),
		NodeID:       n.id,
		Data:         data,
	}, handlers)
	if err != nil {
		return nil, err
	}

	var created []string
	for i, d := range deliveries {
		if d.Sink == schema.OutputFile && !appendMode(handlers, i) {
			created = append(created, d.Location)
		}
	}
	return schema.Succeeded(map[string]any{
		"exported": len(deliveries),
		"files":    created,
	}), nil
}

// appendMode looks up the handler behind delivery i. Export only returns
// without error when every handler delivered, so indexes line up.
func appendMode(handlers []schema.OutputHandler, i int) bool {
	return i < len(handlers) && handlers[i].Append
}

func (n *exportNode) Rollback(_ context.Context, rc *RunContext) error {
	out, _ := rc.Output.(map[string]any)
	var errs []error
	for _, path := range schema.StringList(out["files"]) {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
