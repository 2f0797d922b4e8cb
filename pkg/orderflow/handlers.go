package orderflow

import (
	"context"
	"errors"

	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/flowlog"
	"github.com/flowforge/flowforge/pkg/saga"
)

var errOrderIDRequired = errors.New("validateOrder: orderId is required")

// Handlers implements the step handler contract (C6) for the reference
// order workflow: one subscriber per step topic and one per compensation
// topic, each emitting exactly one step-completed/step-failed or
// compensation-completed event per invocation.
type Handlers struct {
	bus      *events.Bus
	payment  PaymentGateway
	inv      InventoryService
	shipping ShippingService
	notifier NotificationService
	logger   flowlog.Logger
}

// NewHandlers wires handlers to their external collaborators.
func NewHandlers(bus *events.Bus, payment PaymentGateway, inv InventoryService, shipping ShippingService, notifier NotificationService, logger flowlog.Logger) *Handlers {
	return &Handlers{
		bus:      bus,
		payment:  payment,
		inv:      inv,
		shipping: shipping,
		notifier: notifier,
		logger:   logger.With("component", "orderflow.Handlers"),
	}
}

// Register subscribes every handler to its topic on the bus, using the
// basic (non-hardened) RefundPayment compensation.
func (h *Handlers) Register() {
	h.registerSteps()
	h.bus.Subscribe(events.CompensationTopic(CompensationRefundPayment), h.refundPayment)
	h.bus.Subscribe(events.CompensationTopic(CompensationReleaseInventory), h.releaseInventory)
	h.bus.Subscribe(events.CompensationTopic(CompensationCancelShipment), h.cancelShipment)
}

// RegisterWithHardenedRefund subscribes every handler the way Register
// does, except the refundPayment compensation dispatch is routed to
// hardened instead of the basic in-process refundPayment — the reference
// wiring spec §9 recommends for any compensation touching money.
func (h *Handlers) RegisterWithHardenedRefund(hardened *HardenedRefundHandler) {
	h.registerSteps()
	h.bus.Subscribe(events.CompensationTopic(CompensationRefundPayment), hardened.Handle)
	h.bus.Subscribe(events.CompensationTopic(CompensationReleaseInventory), h.releaseInventory)
	h.bus.Subscribe(events.CompensationTopic(CompensationCancelShipment), h.cancelShipment)
}

func (h *Handlers) registerSteps() {
	h.bus.Subscribe(TopicValidateOrder, h.validateOrder)
	h.bus.Subscribe(TopicChargePayment, h.chargePayment)
	h.bus.Subscribe(TopicReserveInventory, h.reserveInventory)
	h.bus.Subscribe(TopicCreateShipment, h.createShipment)
	h.bus.Subscribe(TopicNotifyUser, h.notifyUser)
	h.bus.Subscribe(TopicComplete, h.complete)
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func (h *Handlers) emitCompleted(ctx context.Context, workflowID, stepName string, output saga.Context) error {
	return h.bus.Publish(ctx, events.TopicStepCompleted, events.StepCompletedPayload{
		WorkflowID: workflowID,
		StepName:   stepName,
		Output:     output,
	})
}

func (h *Handlers) emitFailed(ctx context.Context, workflowID, stepName string, err error) error {
	return h.bus.Publish(ctx, events.TopicStepFailed, events.StepFailedPayload{
		WorkflowID: workflowID,
		StepName:   stepName,
		Error:      events.ErrorInfo{Message: err.Error()},
	})
}

func (h *Handlers) validateOrder(ctx context.Context, raw any) error {
	payload := raw.(events.ExecuteStepPayload)
	orderID := asString(payload.Context["orderId"])
	if orderID == "" {
		return h.emitFailed(ctx, payload.WorkflowID, payload.StepName, errOrderIDRequired)
	}
	return h.emitCompleted(ctx, payload.WorkflowID, payload.StepName, saga.Context{"validated": true})
}

func (h *Handlers) chargePayment(ctx context.Context, raw any) error {
	payload := raw.(events.ExecuteStepPayload)
	orderID := asString(payload.Context["orderId"])
	amount := asFloat(payload.Context["amount"])

	txn, err := h.payment.Charge(ctx, orderID, amount)
	if err != nil {
		return h.emitFailed(ctx, payload.WorkflowID, payload.StepName, err)
	}
	return h.emitCompleted(ctx, payload.WorkflowID, payload.StepName, saga.Context{"transactionId": txn})
}

func (h *Handlers) reserveInventory(ctx context.Context, raw any) error {
	payload := raw.(events.ExecuteStepPayload)
	orderID := asString(payload.Context["orderId"])
	qty := asInt(payload.Context["quantity"])

	resv, err := h.inv.Reserve(ctx, orderID, qty)
	if err != nil {
		return h.emitFailed(ctx, payload.WorkflowID, payload.StepName, err)
	}
	return h.emitCompleted(ctx, payload.WorkflowID, payload.StepName, saga.Context{"reservationId": resv})
}

func (h *Handlers) createShipment(ctx context.Context, raw any) error {
	payload := raw.(events.ExecuteStepPayload)
	orderID := asString(payload.Context["orderId"])
	weight := asFloat(payload.Context["weightKg"])

	shipmentID, err := h.shipping.CreateShipment(ctx, orderID, weight)
	if err != nil {
		return h.emitFailed(ctx, payload.WorkflowID, payload.StepName, err)
	}
	return h.emitCompleted(ctx, payload.WorkflowID, payload.StepName, saga.Context{"shipmentId": shipmentID})
}

func (h *Handlers) notifyUser(ctx context.Context, raw any) error {
	payload := raw.(events.ExecuteStepPayload)
	orderID := asString(payload.Context["orderId"])

	if err := h.notifier.Notify(ctx, orderID, "your order has shipped"); err != nil {
		return h.emitFailed(ctx, payload.WorkflowID, payload.StepName, err)
	}
	return h.emitCompleted(ctx, payload.WorkflowID, payload.StepName, saga.Context{"notified": true})
}

// complete is the terminal step: it has no external collaborator and no
// compensation, it only closes out the step-execution record so the
// workflow's six-step history is complete when the engine marks the
// instance completed.
func (h *Handlers) complete(ctx context.Context, raw any) error {
	payload := raw.(events.ExecuteStepPayload)
	return h.emitCompleted(ctx, payload.WorkflowID, payload.StepName, saga.Context{"completed": true})
}

func (h *Handlers) emitCompensationCompleted(ctx context.Context, workflowID, stepName string, success bool, compErr error) error {
	var errInfo *events.ErrorInfo
	if compErr != nil {
		errInfo = &events.ErrorInfo{Message: compErr.Error()}
	}
	return h.bus.Publish(ctx, events.TopicCompensationCompleted, events.CompensationCompletedPayload{
		WorkflowID: workflowID,
		StepName:   stepName,
		Success:    success,
		Error:      errInfo,
	})
}

func (h *Handlers) refundPayment(ctx context.Context, raw any) error {
	payload := raw.(events.CompensationDispatchPayload)
	txn := asString(payload.OriginalOutput["transactionId"])
	err := h.payment.Refund(ctx, txn)
	return h.emitCompensationCompleted(ctx, payload.WorkflowID, payload.OriginalStep, err == nil, err)
}

func (h *Handlers) releaseInventory(ctx context.Context, raw any) error {
	payload := raw.(events.CompensationDispatchPayload)
	resv := asString(payload.OriginalOutput["reservationId"])
	err := h.inv.Release(ctx, resv)
	return h.emitCompensationCompleted(ctx, payload.WorkflowID, payload.OriginalStep, err == nil, err)
}

func (h *Handlers) cancelShipment(ctx context.Context, raw any) error {
	payload := raw.(events.CompensationDispatchPayload)
	shipmentID := asString(payload.OriginalOutput["shipmentId"])
	err := h.shipping.CancelShipment(ctx, shipmentID)
	return h.emitCompensationCompleted(ctx, payload.WorkflowID, payload.OriginalStep, err == nil, err)
}
