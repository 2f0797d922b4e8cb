// Package engine implements the event-driven engine (spec component C3):
// a pure function of persisted state plus the incoming event. An Engine
// holds no per-workflow in-process state between events; every operation
// reads what it needs from the store and writes back before emitting.
package engine

import (
	"context"
	"time"

	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/flowid"
	"github.com/flowforge/flowforge/pkg/flowlog"
	"github.com/flowforge/flowforge/pkg/mcperrors"
	"github.com/flowforge/flowforge/pkg/saga"
	"github.com/flowforge/flowforge/pkg/store"
)

const module = "engine"

// Engine drives forward execution of workflow instances by reacting to
// events and mutating persisted state, one step at a time.
type Engine struct {
	registry *saga.Registry
	store    *store.Store
	bus      *events.Bus
	logger   flowlog.Logger
}

// New creates an Engine wired to registry, store, and bus.
func New(registry *saga.Registry, st *store.Store, bus *events.Bus, logger flowlog.Logger) *Engine {
	return &Engine{registry: registry, store: st, bus: bus, logger: logger.With("component", "engine.Engine")}
}

// StartRequest is the input to StartWorkflow.
type StartRequest struct {
	Type       string
	Input      saga.Context
	WorkflowID string // optional; generated if empty
}

// StartWorkflow validates the workflow type, creates (or reuses) the
// instance, and emits execute-step for the first step.
func (e *Engine) StartWorkflow(ctx context.Context, req StartRequest) (*store.Workflow, error) {
	def, err := e.registry.Get(req.Type)
	if err != nil {
		return nil, err
	}
	if len(def.Steps) == 0 {
		return nil, mcperrors.Validation(module, "workflow definition has no steps").
			WithContext("type", req.Type)
	}

	id := req.WorkflowID
	if id == "" {
		id = flowid.Workflow(time.Now().UnixNano())
	}

	if existing, err := e.store.GetWorkflow(ctx, id); err != nil {
		return nil, err
	} else if existing != nil {
		// Idempotent start: a second call with the same id does not create
		// a duplicate instance or re-emit execute-step.
		return existing, nil
	}

	first := def.Steps[0]
	wf, err := e.store.CreateWorkflow(ctx, id, req.Type, first.Name, req.Input)
	if err != nil {
		return nil, err
	}

	e.bus.PublishAsync(ctx, events.TopicExecuteStep, events.ExecuteStepPayload{
		WorkflowID: id,
		StepName:   first.Name,
		Context:    wf.Context,
	})
	return wf, nil
}

// ExecuteStep loads the instance and step definition, records the step's
// start, and dispatches forward execution on the step's own topic —
// unless the start record already existed as completed or failed, in
// which case the stored outcome is replayed instead of re-running the
// side effect. A pre-existing running record is dispatched again.
func (e *Engine) ExecuteStep(ctx context.Context, workflowID, stepName string) error {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf == nil {
		e.logger.Warn("executeStep: unknown workflow", "workflow_id", workflowID)
		return nil
	}

	step, err := e.registry.GetStep(wf.Type, stepName)
	if err != nil {
		e.logger.Warn("executeStep: unknown step", "workflow_id", workflowID, "step", stepName)
		return nil
	}

	rec, isNew, err := e.store.RecordStepStart(ctx, workflowID, stepName, wf.Context, 1)
	if err != nil {
		return err
	}

	if !isNew {
		switch rec.Status {
		case store.StepCompleted:
			e.bus.PublishAsync(ctx, events.TopicStepCompleted, events.StepCompletedPayload{
				WorkflowID: workflowID,
				StepName:   stepName,
				Output:     rec.Output,
			})
			return nil
		case store.StepFailed:
			errInfo := events.ErrorInfo{}
			if rec.Error != nil {
				errInfo.Message = rec.Error.Message
				errInfo.Code = rec.Error.Code
			}
			e.bus.PublishAsync(ctx, events.TopicStepFailed, events.StepFailedPayload{
				WorkflowID: workflowID,
				StepName:   stepName,
				Error:      errInfo,
			})
			return nil
		}
		// status running: fall through and re-dispatch, tolerating possible
		// duplicate handler invocation (spec §5).
	}

	e.bus.PublishAsync(ctx, step.Topic, events.ExecuteStepPayload{
		WorkflowID: workflowID,
		StepName:   stepName,
		Context:    wf.Context,
	})
	return nil
}

// HandleStepCompleted records completion, registers a compensation record
// if the step is compensable, merges output into the workflow context,
// and either completes the workflow or advances to the next step.
func (e *Engine) HandleStepCompleted(ctx context.Context, workflowID, stepName string, output saga.Context) error {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf == nil {
		e.logger.Warn("handleStepCompleted: unknown workflow", "workflow_id", workflowID)
		return nil
	}

	if _, err := e.store.RecordStepComplete(ctx, workflowID, stepName, output); err != nil {
		return err
	}

	step, err := e.registry.GetStep(wf.Type, stepName)
	if err != nil {
		e.logger.Warn("handleStepCompleted: unknown step", "workflow_id", workflowID, "step", stepName)
		return nil
	}
	if step.Compensable() {
		def, err := e.registry.Get(wf.Type)
		if err != nil {
			return err
		}
		if _, err := e.store.RegisterCompensation(ctx, workflowID, stepName, step.CompensationName, def.StepIndex(stepName)); err != nil {
			return err
		}
	}

	wf, err = e.store.UpdateWorkflowContext(ctx, workflowID, output)
	if err != nil {
		return err
	}

	last, err := e.registry.IsLastStep(wf.Type, stepName)
	if err != nil {
		return err
	}
	if last {
		wf, err = e.store.UpdateWorkflowStatus(ctx, workflowID, store.WorkflowCompleted, store.StatusUpdate{})
		if err != nil {
			return err
		}
		e.bus.PublishAsync(ctx, events.TopicWorkflowCompleted, events.WorkflowCompletedPayload{WorkflowID: workflowID})
		return nil
	}

	next, err := e.registry.NextStep(wf.Type, stepName)
	if err != nil {
		return err
	}
	if next == nil {
		// IsLastStep already said otherwise; nothing more to do defensively.
		return nil
	}

	if _, err := e.store.AdvanceToStep(ctx, workflowID, next.Name, nil); err != nil {
		return err
	}

	e.bus.PublishAsync(ctx, events.TopicExecuteStep, events.ExecuteStepPayload{
		WorkflowID: workflowID,
		StepName:   next.Name,
		Context:    wf.Context,
	})
	return nil
}

// HandleStepFailed records the failure, transitions the workflow to
// failed, and emits compensate for the compensator to pick up.
func (e *Engine) HandleStepFailed(ctx context.Context, workflowID, stepName string, stepErr events.ErrorInfo) error {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf == nil {
		e.logger.Warn("handleStepFailed: unknown workflow", "workflow_id", workflowID)
		return nil
	}

	if _, err := e.store.RecordStepFailure(ctx, workflowID, stepName, store.StepError{
		Message: stepErr.Message,
		Code:    stepErr.Code,
	}); err != nil {
		return err
	}

	failedStep := stepName
	if _, err := e.store.UpdateWorkflowStatus(ctx, workflowID, store.WorkflowFailed, store.StatusUpdate{
		FailedStep: &failedStep,
		Error:      &stepErr.Message,
	}); err != nil {
		return err
	}

	e.bus.PublishAsync(ctx, events.TopicCompensate, events.CompensatePayload{WorkflowID: workflowID})
	return nil
}

// PauseWorkflow transitions a running workflow to waiting.
func (e *Engine) PauseWorkflow(ctx context.Context, workflowID string, waitingFor string) error {
	upd := store.StatusUpdate{}
	if waitingFor != "" {
		upd.ContextDelta = saga.Context{"waitingFor": waitingFor}
	}
	_, err := e.store.UpdateWorkflowStatus(ctx, workflowID, store.WorkflowWaiting, upd)
	return err
}

// ResumeWorkflow transitions a waiting workflow back to running, merges
// signal and payload into context, and re-emits execute-step for the
// current step. Resuming from any status other than waiting is a no-op.
func (e *Engine) ResumeWorkflow(ctx context.Context, workflowID, signal string, payload saga.Context) error {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf == nil {
		e.logger.Warn("resumeWorkflow: unknown workflow", "workflow_id", workflowID)
		return nil
	}
	if wf.Status != store.WorkflowWaiting {
		e.logger.Warn("resumeWorkflow: workflow not waiting", "workflow_id", workflowID, "status", string(wf.Status))
		return nil
	}

	delta := saga.Merge(saga.Context{"signal": signal}, payload)
	wf, err = e.store.UpdateWorkflowStatus(ctx, workflowID, store.WorkflowRunning, store.StatusUpdate{
		ContextDelta: delta,
	})
	if err != nil {
		return err
	}

	e.bus.PublishAsync(ctx, events.TopicExecuteStep, events.ExecuteStepPayload{
		WorkflowID: workflowID,
		StepName:   wf.CurrentStep,
		Context:    wf.Context,
	})
	return nil
}
