// Package engine runs workflow graphs through the execution state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/autoflow/internal/automation"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/nodes"
	"github.com/rendis/autoflow/internal/output"
	"github.com/rendis/autoflow/internal/resilience"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/internal/telemetry"
	"github.com/rendis/autoflow/pkg/schema"
)

// RunStore persists finished runs. Satisfied by the stores in internal/store.
type RunStore interface {
	SaveRun(ctx context.Context, rec *schema.RunRecord) error
}

// DescriptionValidator checks a workflow description before the graph is built.
type DescriptionValidator interface {
	ValidateDescription(desc *schema.WorkflowDescription) error
}

// Deps are the collaborators of the engine. Only Registry is required; nil
// collaborators are replaced by inert defaults.
type Deps struct {
	Registry  *nodes.Registry
	Providers nodes.ProviderCaller
	Exporter  nodes.Exporter
	Driver    automation.Driver
	Store     RunStore
	Events    streaming.Publisher
	Validator DescriptionValidator
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// Config holds engine-wide defaults. Workflow error_handling overrides
// MaxRetries and RetryDelay per run.
type Config struct {
	MaxRetries    int           `yaml:"max_retries" validate:"gte=0"`
	RetryDelay    time.Duration `yaml:"retry_delay" validate:"gte=0"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" validate:"gte=0"`
	RetryJitter   time.Duration `yaml:"retry_jitter" validate:"gte=0"`
	ReadyTimeout  time.Duration `yaml:"ready_timeout" validate:"gte=0"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
		RetryJitter:   250 * time.Millisecond,
		ReadyTimeout:  30 * time.Second,
	}
}

// ExecutionResult is the outcome of one run. It is always returned, never a
// raw error.
type ExecutionResult struct {
	ExecutionID    string                       `json:"execution_id"`
	WorkflowName   string                       `json:"workflow_name"`
	Success        bool                         `json:"success"`
	FinalState     schema.ExecutionState        `json:"final_state"`
	Degraded       bool                         `json:"degraded,omitempty"`
	Error          *schema.FlowError            `json:"error,omitempty"`
	WorkflowErrors []schema.ErrorRecord         `json:"workflow_errors,omitempty"`
	RetryCounts    map[string]int               `json:"retry_counts"`
	Artifacts      []schema.Artifact            `json:"artifacts"`
	Transitions    []schema.Transition          `json:"transitions"`
	NodeStatuses   map[string]schema.NodeStatus `json:"node_statuses"`
	WorkflowState  map[string]any               `json:"workflow_state,omitempty"`
	FinalOutput    any                          `json:"final_output,omitempty"`
	StartTime      time.Time                    `json:"start_time"`
	EndTime        time.Time                    `json:"end_time"`
}

// Engine drives workflow runs. One Engine may serve many sequential or
// concurrent runs; each run owns its own execution context.
type Engine struct {
	deps   Deps
	config Config
	tracer trace.Tracer
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	newID func() string
}

// New creates an Engine.
func New(deps Deps, cfg Config) *Engine {
	if deps.Registry == nil {
		deps.Registry = nodes.NewRegistry(expressions.MustNewRegistry())
	}
	if deps.Driver == nil {
		deps.Driver = automation.Unsupported{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.Noop()
	}
	return &Engine{
		deps:   deps,
		config: cfg,
		tracer: tracer,
		logger: logging.WithModule(deps.Logger, "engine"),
		sleep:  resilience.WaitForBackoff,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Registry returns the node registry used to resolve node types.
func (e *Engine) Registry() *nodes.Registry {
	return e.deps.Registry
}

// Run executes desc to a terminal state.
func (e *Engine) Run(ctx context.Context, desc *schema.WorkflowDescription) *ExecutionResult {
	ec := e.newExecutionContext(desc)

	ctx = logging.WithExecutionID(ctx, ec.id)
	ctx = logging.WithWorkflow(ctx, ec.workflowName())
	ec.logger = logging.LogWith(ctx, e.logger)

	ctx, span := telemetry.StartSpan(ctx, e.tracer, "autoflow.run",
		attribute.String(telemetry.ExecutionIDKey, ec.id),
		attribute.String(telemetry.WorkflowNameKey, ec.workflowName()),
	)
	defer span.End()

	for !ec.machine.State().Terminal() {
		if err := e.step(ctx, ec); err != nil {
			// Only an invalid transition lands here.
			ec.logger.Error("state machine halted", "state", ec.machine.State(), "error", err)
			ec.err = toFlowError(err, ec.current)
			ec.machine.abort(ec.current)
		}
	}

	end := e.now()
	final := ec.machine.State()

	if final == schema.StateError && !ec.persisted && e.deps.Store != nil {
		rec := ec.record(final, end, ec.ledger.Transitions())
		if err := e.deps.Store.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
			ec.logger.Warn("failed run not persisted", "error", err)
		}
	}

	result := e.result(ec, end)
	span.SetAttributes(attribute.String(telemetry.FinalStateKey, string(final)))
	if result.Error != nil {
		telemetry.SetError(span, result.Error, attribute.String(telemetry.ErrorCodeKey, result.Error.Code))
		ec.events.emit(ctx, schema.EventExecutionFailed, result.Error.NodeID, map[string]any{
			"final_state": string(final),
			"error":       result.Error.Message,
			"code":        result.Error.Code,
		})
		ec.logger.Error("workflow failed", "error", result.Error)
	} else {
		ec.events.emit(ctx, schema.EventExecutionCompleted, "", map[string]any{
			"final_state": string(final),
			"degraded":    ec.degraded,
			"artifacts":   len(result.Artifacts),
		})
		ec.logger.Info("workflow completed", "artifacts", len(result.Artifacts), "degraded", ec.degraded)
	}
	return result
}

func (e *Engine) newExecutionContext(desc *schema.WorkflowDescription) *executionContext {
	ec := &executionContext{
		id:          e.newID(),
		desc:        desc,
		instances:   make(map[string]nodes.Node),
		state:       make(map[string]any),
		inputs:      make(map[string]map[string]any),
		retryCounts: make(map[string]int),
		consecutive: make(map[string]int),
		statuses:    make(map[string]schema.NodeStatus),
		ledger:      NewLedger(),
		machine:     NewMachine(e.now),
		services: nodes.Services{
			Providers: e.deps.Providers,
			Exporter:  e.deps.Exporter,
		},
		logger:    e.logger,
		startedAt: e.now(),
	}
	ec.machine.OnTransition(ec.ledger.RecordTransition)
	ec.events = &emitter{
		pub:         e.deps.Events,
		executionID: ec.id,
		workflow:    ec.workflowName(),
		logger:      e.logger,
		now:         e.now,
	}
	return ec
}

// step performs the work of the current state and moves to the next one.
func (e *Engine) step(ctx context.Context, ec *executionContext) error {
	switch ec.machine.State() {
	case schema.StateIdle:
		ec.events.emit(ctx, schema.EventExecutionStarted, "", map[string]any{"workflow": ec.workflowName()})
		return ec.machine.Transition(schema.StateLoadWorkflow, "")
	case schema.StateLoadWorkflow:
		return e.loadWorkflow(ctx, ec)
	case schema.StateResolveNode:
		return e.resolveNode(ctx, ec)
	case schema.StateResolveSelectors:
		return e.resolveSelectors(ctx, ec)
	case schema.StateExecuteNode:
		return e.executeNode(ctx, ec)
	case schema.StateWaitForDependency:
		return e.waitForDependency(ctx, ec)
	case schema.StatePerformAction:
		return e.performAction(ctx, ec)
	case schema.StateCaptureOutput:
		return e.captureOutput(ctx, ec)
	case schema.StateNextNode:
		return e.nextNode(ctx, ec)
	case schema.StatePersistArtifacts:
		return e.persistArtifacts(ctx, ec)
	case schema.StateRetry:
		return e.retry(ctx, ec)
	default:
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "no handler for state %s", ec.machine.State())
	}
}

func (e *Engine) loadWorkflow(ctx context.Context, ec *executionContext) error {
	if err := e.load(ec); err != nil {
		fe := toFlowError(err, "")
		ec.ledger.RecordError(schema.ErrorRecord{
			NodeID:    fe.NodeID,
			Code:      fe.Code,
			Message:   fe.Message,
			Attempt:   1,
			Timestamp: e.now(),
		})
		return ec.fail(fe)
	}

	ec.router = newRouter(ec.graph, ec.events)
	ec.cursor = 0
	for _, id := range ec.graph.Order {
		ec.statuses[id] = schema.NodeStatusPending
	}
	ec.logger.Info("workflow loaded", "nodes", ec.graph.Len(), "strategy", ec.policy.Strategy)
	return ec.machine.Transition(schema.StateResolveNode, "")
}

// load builds the graph and instantiates every node and compensation action.
func (e *Engine) load(ec *executionContext) error {
	desc := ec.desc
	if desc == nil {
		return schema.NewError(schema.ErrCodeGraph, "workflow description is nil")
	}
	if e.deps.Validator != nil {
		if err := e.deps.Validator.ValidateDescription(desc); err != nil {
			return err
		}
	}

	strategy := desc.ErrorHandling.Strategy()
	if !strategy.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown failure strategy %q", strategy)
	}
	maxRetries := e.config.MaxRetries
	if desc.ErrorHandling.MaxRetries != nil {
		maxRetries = *desc.ErrorHandling.MaxRetries
	}
	if maxRetries < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "max_retries must be >= 0, got %d", maxRetries)
	}
	baseDelay := e.config.RetryDelay
	if d, err := desc.ErrorHandling.RetryDelayDuration(); err != nil {
		return err
	} else if d > 0 {
		baseDelay = d
	}
	ec.policy = RecoveryPolicy{
		MaxRetries: maxRetries,
		Strategy:   strategy,
		Backoff: resilience.Backoff{
			Base:   baseDelay,
			Max:    e.config.MaxRetryDelay,
			Jitter: e.config.RetryJitter,
		},
	}

	g, err := BuildGraph(desc.Nodes, desc.Edges)
	if err != nil {
		return err
	}
	ec.graph = g

	for _, id := range g.Order {
		spec, _ := g.Node(id)
		n, err := e.deps.Registry.Resolve(spec)
		if err != nil {
			return err
		}
		ec.instances[id] = n
	}

	if len(desc.ErrorHandling.Compensation) > 0 && strategy != schema.StrategyCompensate {
		ec.logger.Warn("compensation actions declared but strategy is not compensate", "strategy", strategy)
	}
	for i, action := range desc.ErrorHandling.Compensation {
		spec := action.Spec(i)
		n, err := e.deps.Registry.Resolve(spec)
		if err != nil {
			return fmt.Errorf("compensation action %s: %w", spec.ID, err)
		}
		ec.compensations = append(ec.compensations, compensation{spec: spec, node: n})
	}
	return nil
}

func (e *Engine) resolveNode(ctx context.Context, ec *executionContext) error {
	if ec.cursor >= len(ec.graph.Order) {
		ec.current = ""
		return ec.machine.Transition(schema.StatePersistArtifacts, "")
	}

	ec.current = ec.graph.Order[ec.cursor]
	ec.action = automation.ActionRequest{}
	ec.actionResult = nil
	ec.output = nil
	ec.statuses[ec.current] = schema.NodeStatusRunning

	ec.events.emit(ctx, schema.EventStepStarted, ec.current, map[string]any{
		"type":    ec.nodeType(ec.current),
		"attempt": ec.consecutive[ec.current] + 1,
		"index":   ec.cursor,
	})
	return ec.machine.Transition(schema.StateResolveSelectors, ec.current)
}

func (e *Engine) resolveSelectors(ctx context.Context, ec *executionContext) error {
	auto, ok := ec.instances[ec.current].(nodes.AutomationNode)
	if !ok {
		return ec.machine.Transition(schema.StateExecuteNode, ec.current)
	}

	req := auto.AutomationRequest()
	selector, key, resolved := automation.Resolve(e.deps.Driver, req)
	if !resolved {
		fe := schema.NewErrorf(schema.ErrCodeSelector, "selector not resolved (tried: %v)", req.Keys()).
			WithNode(ec.current).
			WithDetails(map[string]any{"keys": req.Keys()})
		attempt := ec.consecutive[ec.current] + 1
		ec.ledger.RecordError(schema.ErrorRecord{
			NodeID:    ec.current,
			Code:      fe.Code,
			Message:   fe.Message,
			Class:     schema.ErrorClassSelector,
			Attempt:   attempt,
			Timestamp: e.now(),
		})
		ec.events.emit(ctx, schema.EventStepFailed, ec.current, map[string]any{
			"error":    fe.Message,
			"code":     fe.Code,
			"class":    string(schema.ErrorClassSelector),
			"attempt":  attempt,
			"retrying": false,
		})
		// Nothing changes between attempts, so the retry step is skipped.
		return e.escalate(ctx, ec, fe, schema.ErrorClassSelector, attempt, ec.policy.strategy())
	}

	if key != "" && key != req.SelectorKey {
		ec.logger.Info("selector resolved via fallback", "node_id", ec.current, "key", key)
	}
	ec.action = automation.ActionRequest{
		Target:   req.Target,
		Action:   req.Action,
		Selector: selector,
		Value:    req.Value,
		Timeout:  req.Timeout,
	}
	return ec.machine.Transition(schema.StateExecuteNode, ec.current)
}

func (e *Engine) executeNode(ctx context.Context, ec *executionContext) error {
	id := ec.current
	n := ec.instances[id]
	rc := ec.runContext(id)

	nodeCtx := logging.WithNodeID(ctx, id)
	nodeCtx, span := telemetry.StartSpan(nodeCtx, e.tracer, "autoflow.node",
		attribute.String(telemetry.NodeIDKey, id),
		attribute.String(telemetry.NodeTypeKey, n.Kind()),
		attribute.Int(telemetry.AttemptKey, rc.Attempt),
	)
	res, err := safeExecute(nodeCtx, n, rc)
	if err == nil && !res.Success {
		err = resultError(res, id)
	}
	if err != nil {
		telemetry.SetError(span, err)
		span.End()
		return e.recoverFrom(ctx, ec, err)
	}
	span.End()

	ec.output = res.Output
	ec.state[id] = res.Output
	ec.router.Handoff(ctx, id, res.Output)

	if _, ok := n.(nodes.AutomationNode); ok {
		return ec.machine.Transition(schema.StateWaitForDependency, id)
	}

	e.completeNode(ctx, ec, id, res.Output)

	if _, ok := n.(nodes.Brancher); ok && len(res.NextNodeOverride) > 0 {
		if target, ok := e.redirectTarget(ec, res.NextNodeOverride); ok {
			return e.redirect(ctx, ec, target)
		}
	}
	return ec.machine.Transition(schema.StateNextNode, id)
}

// redirectTarget picks the earliest override target ahead of the cursor.
// Targets at or behind the cursor cannot be honored without re-running nodes
// and are ignored.
func (e *Engine) redirectTarget(ec *executionContext, targets []string) (int, bool) {
	best := -1
	for _, t := range targets {
		idx := ec.graph.Index(t)
		if idx < 0 {
			ec.logger.Warn("branch target not in workflow", "node_id", ec.current, "target", t)
			continue
		}
		if idx <= ec.cursor {
			continue
		}
		if best < 0 || idx < best {
			best = idx
		}
	}
	return best, best > ec.cursor
}

func (e *Engine) redirect(ctx context.Context, ec *executionContext, target int) error {
	from := ec.current
	for i := ec.cursor + 1; i < target; i++ {
		skipped := ec.graph.Order[i]
		ec.statuses[skipped] = schema.NodeStatusSkipped
		ec.events.emit(ctx, schema.EventStepSkipped, skipped, map[string]any{"branch_from": from})
	}
	ec.cursor = target
	next := ec.graph.Order[target]
	ec.inputs[next] = ec.router.Route(ctx, ec.state, next)
	return ec.machine.Transition(schema.StateResolveNode, from)
}

func (e *Engine) waitForDependency(ctx context.Context, ec *executionContext) error {
	timeout := ec.action.Timeout
	if timeout <= 0 {
		timeout = e.config.ReadyTimeout
	}
	if err := e.deps.Driver.WaitForReady(ctx, ec.action.Target, timeout); err != nil {
		return e.recoverFrom(ctx, ec, readinessError(err, ec.action.Target, timeout))
	}
	return ec.machine.Transition(schema.StatePerformAction, ec.current)
}

func readinessError(err error, target string, timeout time.Duration) error {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewErrorf(schema.ErrCodeTimeout, "wait for target %q timed out after %s", target, timeout).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeNodeFailed, "wait for target %q: %v", target, err).WithCause(err)
}

func (e *Engine) performAction(ctx context.Context, ec *executionContext) error {
	id := ec.current
	actionCtx, span := telemetry.StartSpan(logging.WithNodeID(ctx, id), e.tracer, "autoflow.action",
		attribute.String(telemetry.NodeIDKey, id),
		attribute.String("autoflow.action.name", ec.action.Action),
	)
	res, err := e.deps.Driver.PerformAction(actionCtx, ec.action)
	if err == nil && (res == nil || !res.Success) {
		msg := "action reported failure"
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		err = schema.NewErrorf(schema.ErrCodeNodeFailed, "%s %s: %s", ec.action.Action, ec.action.Selector, msg).WithNode(id)
	}
	if err != nil {
		telemetry.SetError(span, err)
		span.End()
		return e.recoverFrom(ctx, ec, err)
	}
	span.End()

	ec.actionResult = res
	return ec.machine.Transition(schema.StateCaptureOutput, id)
}

func (e *Engine) captureOutput(ctx context.Context, ec *executionContext) error {
	id := ec.current
	out := make(map[string]any)
	if m, ok := ec.output.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	} else if ec.output != nil {
		out["output"] = ec.output
	}
	out["selector"] = ec.action.Selector
	if ec.actionResult != nil && ec.actionResult.Data != nil {
		out["result"] = ec.actionResult.Data
	}

	ec.output = out
	ec.state[id] = out
	e.completeNode(ctx, ec, id, out)
	return ec.machine.Transition(schema.StateNextNode, id)
}

// completeNode records a successful node: artifact, status, completion order.
func (e *Engine) completeNode(ctx context.Context, ec *executionContext, id string, out any) {
	spec, _ := ec.graph.Node(id)
	ec.ledger.RecordArtifact(id, ec.nodeType(id), snapshot(spec, out), e.now())
	ec.statuses[id] = schema.NodeStatusCompleted
	ec.consecutive[id] = 0
	ec.completed = append(ec.completed, id)

	ec.events.emit(ctx, schema.EventStepSucceeded, id, map[string]any{
		"type":    ec.nodeType(id),
		"output":  out,
		"retries": ec.retryCounts[id],
	})
	ec.logger.Debug("node completed", "node_id", id, "retries", ec.retryCounts[id])
}

func (e *Engine) nextNode(ctx context.Context, ec *executionContext) error {
	from := ec.current
	ec.cursor++
	if ec.cursor >= len(ec.graph.Order) {
		ec.current = ""
		return ec.machine.Transition(schema.StatePersistArtifacts, from)
	}
	next := ec.graph.Order[ec.cursor]
	ec.inputs[next] = ec.router.Route(ctx, ec.state, next)
	return ec.machine.Transition(schema.StateResolveNode, from)
}

func (e *Engine) persistArtifacts(ctx context.Context, ec *executionContext) error {
	ec.current = ""
	if err := e.persist(ctx, ec); err != nil {
		return e.recoverFrom(ctx, ec, err)
	}
	ec.persisted = true
	return ec.machine.Transition(schema.StateComplete, "")
}

// persist flushes the final output to the workflow's handlers and writes the
// run record.
func (e *Engine) persist(ctx context.Context, ec *executionContext) error {
	final := ec.finalOutput()

	if len(ec.desc.OutputHandlers) > 0 {
		if e.deps.Exporter == nil {
			return schema.NewError(schema.ErrCodePersistence, "output handlers declared but no exporter configured")
		}
		exportCtx := output.WithNotifier(ctx, func(nctx context.Context, p output.Payload, d output.Delivery) {
			eventType := schema.EventOutputExported
			if d.Sink == schema.OutputScreen {
				eventType = schema.EventOutputDisplay
			}
			ec.events.emit(nctx, eventType, p.NodeID, map[string]any{
				"sink":     d.Sink,
				"location": d.Location,
			})
		})
		_, err := e.deps.Exporter.Export(exportCtx, output.Payload{
			ExecutionID:  ec.id,
			WorkflowName: ec.workflowName(),
			Data:         final,
			CreatedAt:    e.now().UTC(),
		}, ec.desc.OutputHandlers)
		if err != nil {
			return persistenceError("export final output", err)
		}
	}

	if e.deps.Store != nil {
		end := e.now()
		transitions := append(ec.ledger.Transitions(), schema.Transition{
			From: schema.StatePersistArtifacts,
			To:   schema.StateComplete,
			At:   end.UTC(),
		})
		if err := e.deps.Store.SaveRun(ctx, ec.record(schema.StateComplete, end, transitions)); err != nil {
			return persistenceError("save run record", err)
		}
	}
	return nil
}

func persistenceError(op string, err error) error {
	if schema.HasCode(err, schema.ErrCodePersistence) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodePersistence, "%s: %v", op, err).WithCause(err)
}

func (e *Engine) retry(_ context.Context, ec *executionContext) error {
	if ec.consecutive[ec.current] > ec.policy.Limit() {
		return ec.fail(schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"retry budget of %d exceeded", ec.policy.Limit()).WithNode(ec.current))
	}
	return ec.machine.Transition(schema.StateResolveNode, ec.current)
}

func (e *Engine) result(ec *executionContext, end time.Time) *ExecutionResult {
	rec := ec.record(ec.machine.State(), end, ec.ledger.Transitions())
	state := make(map[string]any, len(ec.state))
	for k, v := range ec.state {
		state[k] = v
	}
	res := &ExecutionResult{
		ExecutionID:    ec.id,
		WorkflowName:   rec.WorkflowName,
		Success:        rec.Success,
		FinalState:     rec.FinalState,
		Degraded:       ec.degraded,
		WorkflowErrors: rec.Errors,
		RetryCounts:    rec.RetryCounts,
		Artifacts:      rec.Artifacts,
		Transitions:    rec.Transitions,
		NodeStatuses:   rec.NodeStatuses,
		WorkflowState:  state,
		FinalOutput:    rec.FinalOutput,
		StartTime:      rec.StartTime,
		EndTime:        rec.EndTime,
	}
	if !res.Success {
		res.Error = ec.err
		if res.Error == nil {
			res.Error = schema.NewError(schema.ErrCodeNodeFailed, "workflow failed")
		}
	}
	return res
}
