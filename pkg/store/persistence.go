package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/flowforge/flowforge/pkg/mcperrors"
	"github.com/flowforge/flowforge/pkg/saga"
)

const storeModule = "store"

const (
	workflowsGroup = "flowforge:workflows"
)

func stepsGroup(workflowID string) string {
	return "flowforge:steps:" + workflowID
}

func compensationsGroup(workflowID string) string {
	return "flowforge:compensations:" + workflowID
}

// allowedTransitions enumerates the workflow status transition graph from
// spec §4.3. Any (from, to) pair absent from this table is rejected
// silently by UpdateWorkflowStatus and AdvanceToStep (invariant 4).
var allowedTransitions = map[WorkflowStatus]map[WorkflowStatus]bool{
	WorkflowRunning: {
		WorkflowRunning:   true, // advance
		WorkflowWaiting:   true, // pauseWorkflow
		WorkflowCompleted: true, // last step completes
		WorkflowFailed:    true, // step fails
	},
	WorkflowWaiting: {
		WorkflowRunning: true, // resumeWorkflow
	},
	WorkflowFailed: {
		WorkflowCompensating: true, // compensator starts
	},
	WorkflowCompensating: {
		WorkflowCompensated: true, // compensator finishes
	},
}

// Store implements the guarded workflow/step/compensation operations of
// spec §4.2 on top of a KV.
type Store struct {
	kv KV
}

// New creates a Store backed by kv.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

func get[T any](ctx context.Context, kv KV, group, key string) (*T, error) {
	raw, found, err := kv.Get(ctx, group, key)
	if err != nil {
		return nil, mcperrors.Wrap(err, storeModule, "read failed")
	}
	if !found {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, mcperrors.Wrap(err, storeModule, "decode failed")
	}
	return &v, nil
}

func put(ctx context.Context, kv KV, group, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return mcperrors.Wrap(err, storeModule, "encode failed")
	}
	if err := kv.Set(ctx, group, key, raw); err != nil {
		return mcperrors.Wrap(err, storeModule, "write failed")
	}
	return nil
}

// CreateWorkflow creates a new Workflow Instance in status running, with
// currentStep set to firstStep. It fails if a record already exists at id.
func (s *Store) CreateWorkflow(ctx context.Context, id, workflowType, firstStep string, initialContext saga.Context) (*Workflow, error) {
	existing, err := get[Workflow](ctx, s.kv, workflowsGroup, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, mcperrors.Conflict(storeModule, "workflow already exists").WithContext("id", id)
	}

	now := time.Now()
	wf := &Workflow{
		ID:          id,
		Type:        workflowType,
		Status:      WorkflowRunning,
		CurrentStep: firstStep,
		Context:     initialContext.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := put(ctx, s.kv, workflowsGroup, id, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// GetWorkflow returns the instance at id, or (nil, nil) if none exists.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	return get[Workflow](ctx, s.kv, workflowsGroup, id)
}

// ListWorkflows returns every known instance, sorted by createdAt
// descending, for the GET /workflows HTTP surface.
func (s *Store) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	raws, err := s.kv.GetGroup(ctx, workflowsGroup)
	if err != nil {
		return nil, mcperrors.Wrap(err, storeModule, "read failed")
	}

	out := make([]Workflow, 0, len(raws))
	for _, raw := range raws {
		var wf Workflow
		if err := json.Unmarshal(raw, &wf); err != nil {
			return nil, mcperrors.Wrap(err, storeModule, "decode failed")
		}
		out = append(out, wf)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// StatusUpdate carries the optional fields UpdateWorkflowStatus may apply
// alongside the new status.
type StatusUpdate struct {
	CurrentStep      *string
	ClearCurrentStep bool
	ContextDelta     saga.Context
	FailedStep       *string
	Error            *string
}

// UpdateWorkflowStatus transitions a workflow to newStatus, merging context
// and applying the optional fields. Transitions outside the graph in
// allowedTransitions are rejected silently: the existing record is
// returned unchanged. currentStep is cleared to empty when newStatus is a
// terminal status (completed, compensated) and no explicit value is given.
func (s *Store) UpdateWorkflowStatus(ctx context.Context, id string, newStatus WorkflowStatus, upd StatusUpdate) (*Workflow, error) {
	wf, err := get[Workflow](ctx, s.kv, workflowsGroup, id)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, mcperrors.NotFound(storeModule, "workflow not found").WithContext("id", id)
	}

	if !allowedTransitions[wf.Status][newStatus] {
		return wf, nil
	}

	wf.Context = saga.Merge(wf.Context, upd.ContextDelta)
	if upd.FailedStep != nil {
		wf.FailedStep = *upd.FailedStep
	}
	if upd.Error != nil {
		wf.Error = *upd.Error
	}

	switch {
	case upd.CurrentStep != nil:
		wf.CurrentStep = *upd.CurrentStep
	case upd.ClearCurrentStep:
		wf.CurrentStep = ""
	case newStatus.terminal():
		wf.CurrentStep = ""
	}

	wf.Status = newStatus
	wf.UpdatedAt = time.Now()

	if err := put(ctx, s.kv, workflowsGroup, id, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// UpdateWorkflowContext merges delta into the workflow's context. It is a
// no-op (returns the unchanged record) if the workflow is terminal.
func (s *Store) UpdateWorkflowContext(ctx context.Context, id string, delta saga.Context) (*Workflow, error) {
	wf, err := get[Workflow](ctx, s.kv, workflowsGroup, id)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, mcperrors.NotFound(storeModule, "workflow not found").WithContext("id", id)
	}
	if wf.Status.terminal() {
		return wf, nil
	}

	wf.Context = saga.Merge(wf.Context, delta)
	wf.UpdatedAt = time.Now()
	if err := put(ctx, s.kv, workflowsGroup, id, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// AdvanceToStep sets currentStep=nextStep and merges contextDelta, only
// when the workflow is currently running.
func (s *Store) AdvanceToStep(ctx context.Context, id, nextStep string, contextDelta saga.Context) (*Workflow, error) {
	wf, err := get[Workflow](ctx, s.kv, workflowsGroup, id)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, mcperrors.NotFound(storeModule, "workflow not found").WithContext("id", id)
	}
	if wf.Status != WorkflowRunning {
		return wf, nil
	}

	wf.CurrentStep = nextStep
	wf.Context = saga.Merge(wf.Context, contextDelta)
	wf.UpdatedAt = time.Now()
	if err := put(ctx, s.kv, workflowsGroup, id, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// RecordStepStart idempotently creates a Step Execution in status running.
// If the record already exists, it is returned unchanged with isNew=false.
func (s *Store) RecordStepStart(ctx context.Context, workflowID, stepName string, input saga.Context, attempt int) (rec *StepExecution, isNew bool, err error) {
	group := stepsGroup(workflowID)
	existing, err := get[StepExecution](ctx, s.kv, group, stepName)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if attempt < 1 {
		attempt = 1
	}
	rec = &StepExecution{
		WorkflowID: workflowID,
		StepName:   stepName,
		Status:     StepRunning,
		Input:      input.Clone(),
		StartedAt:  time.Now(),
		Attempt:    attempt,
	}
	if err := put(ctx, s.kv, group, stepName, rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// GetStepExecution returns the step record at (workflowID, stepName), or
// (nil, nil) if none exists.
func (s *Store) GetStepExecution(ctx context.Context, workflowID, stepName string) (*StepExecution, error) {
	return get[StepExecution](ctx, s.kv, stepsGroup(workflowID), stepName)
}

// RecordStepComplete transitions a Step Execution to completed, setting
// output and completedAt. A record already in a terminal status is
// returned unchanged — this is the primary defense against replayed
// events after crash recovery (spec §4.2).
func (s *Store) RecordStepComplete(ctx context.Context, workflowID, stepName string, output saga.Context) (*StepExecution, error) {
	group := stepsGroup(workflowID)
	rec, err := get[StepExecution](ctx, s.kv, group, stepName)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, mcperrors.NotFound(storeModule, "step execution not found").
			WithContext("workflow_id", workflowID).WithContext("step", stepName)
	}
	if rec.Status.terminal() {
		return rec, nil
	}

	now := time.Now()
	rec.Status = StepCompleted
	rec.Output = output.Clone()
	rec.CompletedAt = &now
	if err := put(ctx, s.kv, group, stepName, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordStepFailure transitions a Step Execution to failed, setting error
// and completedAt. Terminal-overwrite protected, same as RecordStepComplete.
func (s *Store) RecordStepFailure(ctx context.Context, workflowID, stepName string, stepErr StepError) (*StepExecution, error) {
	group := stepsGroup(workflowID)
	rec, err := get[StepExecution](ctx, s.kv, group, stepName)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, mcperrors.NotFound(storeModule, "step execution not found").
			WithContext("workflow_id", workflowID).WithContext("step", stepName)
	}
	if rec.Status.terminal() {
		return rec, nil
	}

	now := time.Now()
	rec.Status = StepFailed
	rec.Error = &stepErr
	rec.CompletedAt = &now
	if err := put(ctx, s.kv, group, stepName, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkStepCompensated transitions a Step Execution to compensated. A
// record already in a terminal status other than completed is returned
// unchanged; only a completed step can be compensated in practice, since
// that is the only state RegisterCompensation is ever called from.
func (s *Store) MarkStepCompensated(ctx context.Context, workflowID, stepName string) (*StepExecution, error) {
	group := stepsGroup(workflowID)
	rec, err := get[StepExecution](ctx, s.kv, group, stepName)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, mcperrors.NotFound(storeModule, "step execution not found").
			WithContext("workflow_id", workflowID).WithContext("step", stepName)
	}
	if rec.Status.terminal() && rec.Status != StepCompleted {
		return rec, nil
	}

	now := time.Now()
	rec.Status = StepCompensated
	rec.CompletedAt = &now
	if err := put(ctx, s.kv, group, stepName, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RegisterCompensation idempotently creates a Compensation Record for
// (workflowID, stepName). If one already exists, it is returned unchanged.
func (s *Store) RegisterCompensation(ctx context.Context, workflowID, stepName, compensationName string, stepIndex int) (*CompensationRecord, error) {
	group := compensationsGroup(workflowID)
	existing, err := get[CompensationRecord](ctx, s.kv, group, stepName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	rec := &CompensationRecord{
		WorkflowID:       workflowID,
		StepName:         stepName,
		CompensationName: compensationName,
		StepIndex:        stepIndex,
		RegisteredAt:     time.Now(),
		Executed:         false,
	}
	if err := put(ctx, s.kv, group, stepName, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetPendingCompensations returns the not-yet-executed compensation
// records for workflowID, ordered by registeredAt descending (most
// recently registered first), with ties broken deterministically by
// StepIndex descending — a stable reverse sort so the LIFO order spec
// §4.2 requires is preserved even for same-millisecond registrations.
func (s *Store) GetPendingCompensations(ctx context.Context, workflowID string) ([]CompensationRecord, error) {
	raws, err := s.kv.GetGroup(ctx, compensationsGroup(workflowID))
	if err != nil {
		return nil, mcperrors.Wrap(err, storeModule, "read failed")
	}

	var pending []CompensationRecord
	for _, raw := range raws {
		var rec CompensationRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, mcperrors.Wrap(err, storeModule, "decode failed")
		}
		if !rec.Executed {
			pending = append(pending, rec)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].RegisteredAt.Equal(pending[j].RegisteredAt) {
			return pending[i].RegisteredAt.After(pending[j].RegisteredAt)
		}
		return pending[i].StepIndex > pending[j].StepIndex
	})
	return pending, nil
}

// MarkCompensationExecuted records the outcome of running a compensation
// handler. If the record is already executed, this is a no-op.
func (s *Store) MarkCompensationExecuted(ctx context.Context, workflowID, stepName string, result CompensationResult, execErr string) (*CompensationRecord, error) {
	group := compensationsGroup(workflowID)
	rec, err := get[CompensationRecord](ctx, s.kv, group, stepName)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, mcperrors.NotFound(storeModule, "compensation record not found").
			WithContext("workflow_id", workflowID).WithContext("step", stepName)
	}
	if rec.Executed {
		return rec, nil
	}

	now := time.Now()
	rec.Executed = true
	rec.ExecutedAt = &now
	rec.Result = result
	rec.Error = execErr
	if err := put(ctx, s.kv, group, stepName, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetWorkflowHistory returns the instance plus all step executions and
// compensation records associated with id.
func (s *Store) GetWorkflowHistory(ctx context.Context, id string) (*History, error) {
	wf, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, mcperrors.NotFound(storeModule, "workflow not found").WithContext("id", id)
	}

	stepRaws, err := s.kv.GetGroup(ctx, stepsGroup(id))
	if err != nil {
		return nil, mcperrors.Wrap(err, storeModule, "read failed")
	}
	steps := make([]StepExecution, 0, len(stepRaws))
	for _, raw := range stepRaws {
		var rec StepExecution
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, mcperrors.Wrap(err, storeModule, "decode failed")
		}
		steps = append(steps, rec)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StartedAt.Before(steps[j].StartedAt) })

	compRaws, err := s.kv.GetGroup(ctx, compensationsGroup(id))
	if err != nil {
		return nil, mcperrors.Wrap(err, storeModule, "read failed")
	}
	comps := make([]CompensationRecord, 0, len(compRaws))
	for _, raw := range compRaws {
		var rec CompensationRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, mcperrors.Wrap(err, storeModule, "decode failed")
		}
		comps = append(comps, rec)
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i].RegisteredAt.Before(comps[j].RegisteredAt) })

	return &History{Workflow: wf, Steps: steps, Compensations: comps}, nil
}
