package saga

import (
	"sync"

	"github.com/flowforge/flowforge/pkg/mcperrors"
)

const module = "saga"

// Registry is the process-wide, immutable-after-init catalog of workflow
// types and their ordered step definitions. Register must be serialized
// relative to reads during startup; once initialization is done, reads
// need no synchronization, but the mutex makes concurrent Register+read
// safe regardless.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*WorkflowDefinition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*WorkflowDefinition)}
}

// Register adds a workflow type definition to the catalog. It fails with a
// CategoryConflict error if the type is already present, and stores an
// immutable copy of the step slice so later mutation of the caller's slice
// cannot affect the registry.
func (r *Registry) Register(def WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[def.Type]; exists {
		return mcperrors.Conflict(module, "workflow type already registered").
			WithContext("type", def.Type)
	}

	steps := make([]StepDefinition, len(def.Steps))
	copy(steps, def.Steps)
	r.types[def.Type] = &WorkflowDefinition{Type: def.Type, Steps: steps}
	return nil
}

// Get returns the definition for type, or an error if unregistered.
func (r *Registry) Get(workflowType string) (*WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.types[workflowType]
	if !ok {
		return nil, mcperrors.NotFound(module, "unknown workflow type").
			WithContext("type", workflowType)
	}
	return def, nil
}

// GetStep returns the named step's definition within workflowType.
func (r *Registry) GetStep(workflowType, stepName string) (*StepDefinition, error) {
	def, err := r.Get(workflowType)
	if err != nil {
		return nil, err
	}
	for i := range def.Steps {
		if def.Steps[i].Name == stepName {
			return &def.Steps[i], nil
		}
	}
	return nil, mcperrors.NotFound(module, "unknown step").
		WithContext("type", workflowType).
		WithContext("step", stepName)
}

// FirstStep returns the first step of workflowType, or an error if the
// type is unregistered or has no steps.
func (r *Registry) FirstStep(workflowType string) (*StepDefinition, error) {
	def, err := r.Get(workflowType)
	if err != nil {
		return nil, err
	}
	if len(def.Steps) == 0 {
		return nil, mcperrors.Validation(module, "workflow definition has no steps").
			WithContext("type", workflowType)
	}
	return &def.Steps[0], nil
}

// NextStep returns the step following stepName within workflowType, or
// nil (no error) if stepName is the last step.
func (r *Registry) NextStep(workflowType, stepName string) (*StepDefinition, error) {
	def, err := r.Get(workflowType)
	if err != nil {
		return nil, err
	}
	idx := def.StepIndex(stepName)
	if idx < 0 {
		return nil, mcperrors.NotFound(module, "unknown step").
			WithContext("type", workflowType).
			WithContext("step", stepName)
	}
	if idx+1 >= len(def.Steps) {
		return nil, nil
	}
	return &def.Steps[idx+1], nil
}

// IsLastStep reports whether stepName is the final step of workflowType.
func (r *Registry) IsLastStep(workflowType, stepName string) (bool, error) {
	def, err := r.Get(workflowType)
	if err != nil {
		return false, err
	}
	idx := def.StepIndex(stepName)
	if idx < 0 {
		return false, mcperrors.NotFound(module, "unknown step").
			WithContext("type", workflowType).
			WithContext("step", stepName)
	}
	return idx == len(def.Steps)-1, nil
}

// CompensableStepsUpTo returns, in reverse order, the prefix of steps up to
// and including stepName whose definitions carry a compensation handler.
// This is a reasoning/debugging aid: the compensator itself drives off the
// persisted Compensation Records, which reflect what was actually
// executed, not what the static definition allows.
func (r *Registry) CompensableStepsUpTo(workflowType, stepName string) ([]StepDefinition, error) {
	def, err := r.Get(workflowType)
	if err != nil {
		return nil, err
	}
	idx := def.StepIndex(stepName)
	if idx < 0 {
		return nil, mcperrors.NotFound(module, "unknown step").
			WithContext("type", workflowType).
			WithContext("step", stepName)
	}

	var out []StepDefinition
	for i := idx; i >= 0; i-- {
		if def.Steps[i].Compensable() {
			out = append(out, def.Steps[i])
		}
	}
	return out, nil
}
