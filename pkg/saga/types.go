// Package saga holds the workflow type catalog: step definitions, the
// process-wide registry, and the opaque context bag steps share.
package saga

// StepDefinition describes one step of a workflow type: its name, the
// topic the engine dispatches forward execution on, and the optional
// compensation handler key used to unwind it.
type StepDefinition struct {
	// Name uniquely identifies the step within its workflow type.
	Name string
	// Topic is the event-bus topic the engine emits on to invoke this
	// step's forward handler.
	Topic string
	// CompensationName is the dispatch key for this step's rollback
	// handler. Empty means the step has no side effect to undo.
	CompensationName string
}

// Compensable reports whether this step has a registered rollback handler.
func (s StepDefinition) Compensable() bool {
	return s.CompensationName != ""
}

// WorkflowDefinition is the immutable, ordered step sequence for one
// workflow type.
type WorkflowDefinition struct {
	Type  string
	Steps []StepDefinition
}

// StepIndex returns the position of name within the definition's step
// sequence, or -1 if no such step exists. Used to break ties in
// registeredAt ordering deterministically (spec §4.2).
func (d *WorkflowDefinition) StepIndex(name string) int {
	for i, s := range d.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}
