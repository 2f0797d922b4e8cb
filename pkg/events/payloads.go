package events

import "github.com/flowforge/flowforge/pkg/saga"

// ErrorInfo is the JSON-shaped error payload carried on step-failed and
// compensation-completed events.
type ErrorInfo struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ExecuteStepPayload is emitted on TopicExecuteStep and on a step
// definition's own topic.
type ExecuteStepPayload struct {
	WorkflowID string       `json:"workflowId"`
	StepName   string       `json:"stepName"`
	Context    saga.Context `json:"context"`
}

// StepCompletedPayload is emitted on TopicStepCompleted.
type StepCompletedPayload struct {
	WorkflowID string       `json:"workflowId"`
	StepName   string       `json:"stepName"`
	Output     saga.Context `json:"output"`
}

// StepFailedPayload is emitted on TopicStepFailed.
type StepFailedPayload struct {
	WorkflowID string    `json:"workflowId"`
	StepName   string    `json:"stepName"`
	Error      ErrorInfo `json:"error"`
}

// CompensatePayload is emitted on TopicCompensate.
type CompensatePayload struct {
	WorkflowID string `json:"workflowId"`
}

// WorkflowCompletedPayload is emitted on TopicWorkflowCompleted.
type WorkflowCompletedPayload struct {
	WorkflowID string `json:"workflowId"`
}

// WorkflowFailedPayload is emitted on TopicWorkflowFailed.
type WorkflowFailedPayload struct {
	WorkflowID string `json:"workflowId"`
	FailedStep string `json:"failedStep"`
	Error      string `json:"error"`
}

// ExecuteCompensationPayload is emitted on TopicExecuteCompensation.
type ExecuteCompensationPayload struct {
	WorkflowID       string `json:"workflowId"`
	StepName         string `json:"stepName"`
	CompensationName string `json:"compensationName"`
}

// CompensationDispatchPayload is emitted on the per-compensation topic
// (compensate.<compensationName>).
type CompensationDispatchPayload struct {
	WorkflowID       string       `json:"workflowId"`
	OriginalStep     string       `json:"originalStep"`
	CompensationStep string       `json:"compensationStep"`
	Context          saga.Context `json:"context"`
	OriginalOutput   saga.Context `json:"originalOutput"`
}

// CompensationCompletedPayload is emitted on TopicCompensationCompleted.
type CompensationCompletedPayload struct {
	WorkflowID string     `json:"workflowId"`
	StepName   string     `json:"stepName"`
	Success    bool       `json:"success"`
	Error      *ErrorInfo `json:"error,omitempty"`
}

// CompensationFinishedPayload is emitted on TopicCompensationFinished.
type CompensationFinishedPayload struct {
	WorkflowID string `json:"workflowId"`
}
