// Package orderflow is the reference step-handler contract (spec
// component C8): a concrete order-fulfillment workflow wired to the event
// bus, with deterministic fake external collaborators standing in for
// the payment, inventory, shipment, and notification systems spec.md
// treats as out of scope.
package orderflow

import "github.com/flowforge/flowforge/pkg/saga"

// Step and compensation topics for the reference order workflow.
const (
	TopicValidateOrder    = "flowforge.step.validateOrder"
	TopicChargePayment    = "flowforge.step.chargePayment"
	TopicReserveInventory = "flowforge.step.reserveInventory"
	TopicCreateShipment   = "flowforge.step.createShipment"
	TopicNotifyUser       = "flowforge.step.notifyUser"
	TopicComplete         = "flowforge.step.complete"
)

// CompensationRefundPayment, CompensationReleaseInventory, and
// CompensationCancelShipment are the compensation dispatch keys used in
// step definitions; the event-bus topics they run on are derived by
// events.CompensationTopic.
const (
	CompensationRefundPayment    = "refundPayment"
	CompensationReleaseInventory = "releaseInventory"
	CompensationCancelShipment   = "cancelShipment"
)

// Definition returns the "order" workflow type definition described in
// spec §8: validateOrder (not compensable) -> chargePayment -> reserveInventory
// -> createShipment -> notifyUser -> complete (neither compensable; complete
// is the terminal no-op step that closes out the six-step reference
// workflow).
func Definition() saga.WorkflowDefinition {
	return saga.WorkflowDefinition{
		Type: "order",
		Steps: []saga.StepDefinition{
			{Name: "validateOrder", Topic: TopicValidateOrder},
			{Name: "chargePayment", Topic: TopicChargePayment, CompensationName: CompensationRefundPayment},
			{Name: "reserveInventory", Topic: TopicReserveInventory, CompensationName: CompensationReleaseInventory},
			{Name: "createShipment", Topic: TopicCreateShipment, CompensationName: CompensationCancelShipment},
			{Name: "notifyUser", Topic: TopicNotifyUser},
			{Name: "complete", Topic: TopicComplete},
		},
	}
}
