package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/autoflow/internal/nodes"
	"github.com/rendis/autoflow/internal/resilience"
	"github.com/rendis/autoflow/pkg/schema"
)

// selectorRetryLimit caps retries of a node, whatever the error class.
const selectorRetryLimit = 3

// selectorVocabulary marks automation failures caused by a missing or slow target.
var selectorVocabulary = []string{
	"selector",
	"element not found",
	"no such element",
	"not found",
	"timeout",
	"timed out",
}

// Classify returns the error class of a node failure. Only automation nodes
// produce selector errors.
func Classify(automation bool, err error) schema.ErrorClass {
	if !automation || err == nil {
		return schema.ErrorClassGeneral
	}
	if schema.HasCode(err, schema.ErrCodeSelector) || schema.HasCode(err, schema.ErrCodeTimeout) {
		return schema.ErrorClassSelector
	}
	msg := strings.ToLower(err.Error())
	for _, word := range selectorVocabulary {
		if strings.Contains(msg, word) {
			return schema.ErrorClassSelector
		}
	}
	return schema.ErrorClassGeneral
}

// Decision is the outcome of the recovery policy for one failure.
type Decision struct {
	ShouldRetry bool
	Delay       time.Duration
	Strategy    schema.FailureStrategy
	Class       schema.ErrorClass
}

// RecoveryPolicy decides whether a failed node is retried.
// Both error classes share one ceiling: min(3, MaxRetries).
type RecoveryPolicy struct {
	MaxRetries int
	Backoff    resilience.Backoff
	Strategy   schema.FailureStrategy
}

// Limit returns the number of retries a node gets before escalation.
func (p RecoveryPolicy) Limit() int {
	return min(selectorRetryLimit, max(p.MaxRetries, 0))
}

func (p RecoveryPolicy) strategy() schema.FailureStrategy {
	if p.Strategy == "" {
		return schema.StrategyFailFast
	}
	return p.Strategy
}

// Decide returns the decision for the attempt-th consecutive failure of a node.
// Selector errors are always worth retrying; general errors only when retryable.
func (p RecoveryPolicy) Decide(class schema.ErrorClass, attempt int, err error) Decision {
	d := Decision{Strategy: p.strategy(), Class: class}

	within := attempt <= p.Limit()
	switch class {
	case schema.ErrorClassSelector:
		d.ShouldRetry = within
	default:
		d.ShouldRetry = within && resilience.IsRetryableError(err)
	}
	if d.ShouldRetry {
		d.Delay = p.Backoff.Delay(attempt - 1)
	}
	return d
}

// recoverFrom runs the failure recovery protocol for the current node. An
// empty current node means the failure came from persisting the run.
func (e *Engine) recoverFrom(ctx context.Context, ec *executionContext, err error) error {
	nodeID := ec.current
	fe := toFlowError(err, nodeID)
	class := Classify(ec.isAutomation(nodeID), fe)

	ec.consecutive[nodeID]++
	attempt := ec.consecutive[nodeID]
	d := ec.policy.Decide(class, attempt, fe)

	ec.ledger.RecordError(schema.ErrorRecord{
		NodeID:    nodeID,
		Code:      fe.Code,
		Message:   fe.Message,
		Class:     class,
		Attempt:   attempt,
		Retrying:  d.ShouldRetry,
		Timestamp: e.now(),
	})
	ec.events.emit(ctx, schema.EventStepFailed, nodeID, map[string]any{
		"error":    fe.Message,
		"code":     fe.Code,
		"class":    string(class),
		"attempt":  attempt,
		"retrying": d.ShouldRetry,
	})
	ec.logger.Warn("node failed",
		"node_id", nodeID,
		"error", fe,
		"class", class,
		"attempt", attempt,
		"retrying", d.ShouldRetry,
	)

	if nodeID != "" {
		// A failed node's data must not be routed downstream.
		delete(ec.state, nodeID)
	}

	if d.ShouldRetry {
		if nodeID != "" {
			ec.retryCounts[nodeID]++
			ec.statuses[nodeID] = schema.NodeStatusRetrying
		}
		ec.events.emit(ctx, schema.EventStepRetrying, nodeID, map[string]any{
			"attempt":  attempt + 1,
			"delay_ms": d.Delay.Milliseconds(),
		})
		if serr := e.sleep(ctx, d.Delay); serr != nil {
			cancelled := schema.NewError(schema.ErrCodeCancelled, "run cancelled during retry backoff").
				WithNode(nodeID).WithCause(serr)
			ec.ledger.RecordError(schema.ErrorRecord{
				NodeID:    nodeID,
				Code:      cancelled.Code,
				Message:   cancelled.Message,
				Attempt:   attempt,
				Timestamp: e.now(),
			})
			return ec.fail(cancelled)
		}
		return ec.machine.Transition(schema.StateRetry, nodeID)
	}

	return e.escalate(ctx, ec, fe, class, attempt, d.Strategy)
}

// escalate applies the workflow failure strategy to a failure that will not be
// retried.
func (e *Engine) escalate(ctx context.Context, ec *executionContext, fe *schema.FlowError,
	class schema.ErrorClass, attempt int, strategy schema.FailureStrategy) error {
	nodeID := ec.current
	if nodeID != "" {
		ec.statuses[nodeID] = schema.NodeStatusFailed
	}

	summary := *fe
	summary.Details = map[string]any{
		"attempts": attempt,
		"class":    string(class),
		"strategy": string(strategy),
	}
	for k, v := range fe.Details {
		summary.Details[k] = v
	}

	switch strategy {
	case schema.StrategyContinueOnError:
		ec.degraded = true
		if nodeID == "" {
			return ec.machine.Transition(schema.StateComplete, "")
		}
		return ec.machine.Transition(schema.StateNextNode, nodeID)
	case schema.StrategyRollback:
		e.rollback(ctx, ec)
	case schema.StrategyCompensate:
		e.compensate(ctx, ec)
	}
	return ec.fail(&summary)
}

// rollback undoes completed nodes in reverse completion order. Errors are
// logged and do not stop the rollback.
func (e *Engine) rollback(ctx context.Context, ec *executionContext) {
	for i := len(ec.completed) - 1; i >= 0; i-- {
		id := ec.completed[i]
		rb, ok := ec.instances[id].(nodes.Rollbacker)
		if !ok {
			continue
		}
		rc := ec.runContext(id)
		rc.Output = ec.state[id]

		payload := map[string]any{"success": true}
		if err := rb.Rollback(ctx, rc); err != nil {
			ec.logger.Warn("rollback failed", "node_id", id, "error", err)
			payload = map[string]any{"success": false, "error": err.Error()}
		}
		ec.events.emit(ctx, schema.EventNodeRolledBack, id, payload)
	}
}

// compensate runs the declared compensation actions in order, best-effort.
// Each action sees every successful output as its previousData.
func (e *Engine) compensate(ctx context.Context, ec *executionContext) {
	for _, c := range ec.compensations {
		prev := make(map[string]any, len(ec.state))
		for k, v := range ec.state {
			prev[k] = v
		}
		rc := ec.newRunContext(c.spec, prev)

		payload := map[string]any{"name": c.spec.ID, "type": c.spec.Type, "success": true}
		res, err := safeExecute(ctx, c.node, rc)
		if err == nil && !res.Success {
			err = resultError(res, c.spec.ID)
		}
		if err != nil {
			ec.logger.Warn("compensation failed", "action", c.spec.ID, "error", err)
			payload["success"] = false
			payload["error"] = err.Error()
		}
		ec.events.emit(ctx, schema.EventCompensationExecuted, c.spec.ID, payload)
	}
}

// toFlowError normalizes any node failure into a FlowError carrying nodeID.
func toFlowError(err error, nodeID string) *schema.FlowError {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		if fe.NodeID == "" && nodeID != "" {
			cp := *fe
			cp.NodeID = nodeID
			return &cp
		}
		return fe
	}
	code := schema.ErrCodeNodeFailed
	if errors.Is(err, context.DeadlineExceeded) {
		code = schema.ErrCodeTimeout
	}
	return schema.NewError(code, err.Error()).WithNode(nodeID).WithCause(err)
}

// resultError extracts the failure of an unsuccessful NodeResult.
func resultError(res *schema.NodeResult, nodeID string) error {
	if res.Error != nil {
		return res.Error
	}
	return schema.NewError(schema.ErrCodeNodeFailed, "node reported failure").WithNode(nodeID)
}

// safeExecute runs a node and converts a panic into a failure.
func safeExecute(ctx context.Context, n nodes.Node, rc *nodes.RunContext) (res *schema.NodeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = schema.NewError(schema.ErrCodeNodeFailed, fmt.Sprintf("panic: %v", r)).WithNode(n.ID())
		}
	}()
	res, err = n.Execute(ctx, rc)
	if err == nil && res == nil {
		res = schema.Succeeded(nil)
	}
	return res, err
}
