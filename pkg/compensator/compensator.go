// Package compensator implements the reverse path of a saga (spec
// component C4): it unwinds compensable steps in strict reverse
// registration order by chaining one compensation at a time through the
// event bus, so each compensation is durable and independently
// observable rather than iterated in-process.
package compensator

import (
	"context"

	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/flowlog"
	"github.com/flowforge/flowforge/pkg/store"
)

// Compensator drives the rollback path.
type Compensator struct {
	store  *store.Store
	bus    *events.Bus
	logger flowlog.Logger
}

// New creates a Compensator wired to store and bus.
func New(st *store.Store, bus *events.Bus, logger flowlog.Logger) *Compensator {
	return &Compensator{store: st, bus: bus, logger: logger.With("component", "compensator.Compensator")}
}

// StartCompensation transitions a failed workflow to compensating and
// begins unwinding its most recently registered pending compensation.
func (c *Compensator) StartCompensation(ctx context.Context, workflowID string) error {
	wf, err := c.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf == nil {
		c.logger.Warn("startCompensation: unknown workflow", "workflow_id", workflowID)
		return nil
	}
	if wf.Status != store.WorkflowFailed {
		c.logger.Warn("startCompensation: workflow not failed", "workflow_id", workflowID, "status", string(wf.Status))
		return nil
	}

	if _, err := c.store.UpdateWorkflowStatus(ctx, workflowID, store.WorkflowCompensating, store.StatusUpdate{}); err != nil {
		return err
	}

	pending, err := c.store.GetPendingCompensations(ctx, workflowID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return c.FinishCompensation(ctx, workflowID)
	}

	head := pending[0]
	c.bus.PublishAsync(ctx, events.TopicExecuteCompensation, events.ExecuteCompensationPayload{
		WorkflowID:       workflowID,
		StepName:         head.StepName,
		CompensationName: head.CompensationName,
	})
	return nil
}

// ExecuteCompensation loads the original step's stored output and
// dispatches on the compensation's own topic.
func (c *Compensator) ExecuteCompensation(ctx context.Context, workflowID, stepName, compensationName string) error {
	wf, err := c.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf == nil {
		c.logger.Warn("executeCompensation: unknown workflow", "workflow_id", workflowID)
		return nil
	}

	stepExec, err := c.store.GetStepExecution(ctx, workflowID, stepName)
	if err != nil {
		return err
	}
	var originalOutput = wf.Context
	if stepExec != nil {
		originalOutput = stepExec.Output
	}

	c.bus.PublishAsync(ctx, events.CompensationTopic(compensationName), events.CompensationDispatchPayload{
		WorkflowID:       workflowID,
		OriginalStep:     stepName,
		CompensationStep: compensationName,
		Context:          wf.Context,
		OriginalOutput:   originalOutput,
	})
	return nil
}

// HandleCompensationCompleted records the outcome of a compensation
// handler and either continues to the next pending compensation or
// finishes the chain. A failed compensation does not stop the chain —
// best-effort rollback of everything else is preferable to abandoning it
// partway through.
func (c *Compensator) HandleCompensationCompleted(ctx context.Context, workflowID, stepName string, success bool, errInfo *events.ErrorInfo) error {
	result := store.CompensationSuccess
	msg := ""
	if !success {
		result = store.CompensationFailed
		if errInfo != nil {
			msg = errInfo.Message
		}
	}

	if _, err := c.store.MarkCompensationExecuted(ctx, workflowID, stepName, result, msg); err != nil {
		return err
	}
	if _, err := c.store.MarkStepCompensated(ctx, workflowID, stepName); err != nil {
		return err
	}

	pending, err := c.store.GetPendingCompensations(ctx, workflowID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return c.FinishCompensation(ctx, workflowID)
	}

	head := pending[0]
	c.bus.PublishAsync(ctx, events.TopicExecuteCompensation, events.ExecuteCompensationPayload{
		WorkflowID:       workflowID,
		StepName:         head.StepName,
		CompensationName: head.CompensationName,
	})
	return nil
}

// FinishCompensation transitions the instance to compensated and emits
// compensation-finished.
func (c *Compensator) FinishCompensation(ctx context.Context, workflowID string) error {
	if _, err := c.store.UpdateWorkflowStatus(ctx, workflowID, store.WorkflowCompensated, store.StatusUpdate{}); err != nil {
		return err
	}
	c.bus.PublishAsync(ctx, events.TopicCompensationFinished, events.CompensationFinishedPayload{WorkflowID: workflowID})
	return nil
}
