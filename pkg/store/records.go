package store

import (
	"time"

	"github.com/flowforge/flowforge/pkg/saga"
)

// WorkflowStatus is the lifecycle status of a Workflow Instance.
type WorkflowStatus string

const (
	WorkflowRunning      WorkflowStatus = "running"
	WorkflowWaiting      WorkflowStatus = "waiting"
	WorkflowFailed       WorkflowStatus = "failed"
	WorkflowCompleted    WorkflowStatus = "completed"
	WorkflowCompensating WorkflowStatus = "compensating"
	WorkflowCompensated  WorkflowStatus = "compensated"
)

// terminal reports whether status is a workflow terminal status — one that
// must never transition further.
func (s WorkflowStatus) terminal() bool {
	return s == WorkflowCompleted || s == WorkflowCompensated
}

// StepStatus is the lifecycle status of a Step Execution.
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepRunning     StepStatus = "running"
	StepCompleted   StepStatus = "completed"
	StepFailed      StepStatus = "failed"
	StepSkipped     StepStatus = "skipped"
	StepCompensated StepStatus = "compensated"
)

// terminal reports whether status is a step terminal status.
func (s StepStatus) terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped, StepCompensated:
		return true
	default:
		return false
	}
}

// CompensationResult is the outcome recorded against a Compensation Record
// once its handler has run.
type CompensationResult string

const (
	CompensationSuccess CompensationResult = "success"
	CompensationFailed  CompensationResult = "failed"
)

// Workflow is a persistent Workflow Instance (spec §3).
type Workflow struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Status      WorkflowStatus `json:"status"`
	CurrentStep string         `json:"current_step,omitempty"`
	Context     saga.Context   `json:"context"`
	FailedStep  string         `json:"failed_step,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// StepError captures the structured failure recorded against a Step
// Execution.
type StepError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// StepExecution is the persistent runtime record of one step on one
// workflow instance (spec §3), keyed by (workflowId, stepName).
type StepExecution struct {
	WorkflowID  string         `json:"workflow_id"`
	StepName    string         `json:"step_name"`
	Status      StepStatus     `json:"status"`
	Input       saga.Context   `json:"input"`
	Output      saga.Context   `json:"output,omitempty"`
	Error       *StepError     `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Attempt     int            `json:"attempt"`
}

// CompensationRecord is the persistent record that a compensable step has
// completed and is awaiting (or has completed) rollback, keyed by
// (workflowId, stepName).
type CompensationRecord struct {
	WorkflowID       string              `json:"workflow_id"`
	StepName         string              `json:"step_name"`
	CompensationName string              `json:"compensation_name"`
	StepIndex        int                 `json:"step_index"` // position in workflow definition, breaks registeredAt ties
	RegisteredAt     time.Time           `json:"registered_at"`
	Executed         bool                `json:"executed"`
	ExecutedAt       *time.Time          `json:"executed_at,omitempty"`
	Result           CompensationResult  `json:"result,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// History is the aggregate view returned by GetWorkflowHistory: an
// instance plus all of its step executions and compensation records.
type History struct {
	Workflow      *Workflow
	Steps         []StepExecution
	Compensations []CompensationRecord
}
