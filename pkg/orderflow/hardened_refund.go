package orderflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/flowlog"
	"github.com/flowforge/flowforge/pkg/store"
)

// refundsGroup is the handler-owned persistence group spec §6 allows a
// handler to keep opaque to the core, keyed by idempotency key.
const refundsGroup = "flowforge:refunds"

type refundRecord struct {
	TransactionID string `json:"transactionId"`
	Done          bool   `json:"done"`
}

// HardenedRefundHandler demonstrates the at-most-once pattern spec §5
// calls out: duplicate delivery of execute-compensation (or of the
// step's own topic before it) must not charge or refund a payment
// gateway twice. It keys an idempotency record on (workflowId, stepName)
// in its own KV group, and retries the gateway call with backoff rather
// than failing the whole compensation chain on a single transient error.
type HardenedRefundHandler struct {
	kv      store.KV
	payment PaymentGateway
	bus     *events.Bus
	logger  flowlog.Logger
	timeout time.Duration
	backOff backoff.BackOff
}

// NewHardenedRefundHandler creates a HardenedRefundHandler. timeout
// bounds the whole retried call to the payment gateway. The retry policy
// defaults to backoff's standard exponential curve; tests that need to
// observe retries without waiting out real backoff delays replace
// backOff directly (unexported, same-package access only).
func NewHardenedRefundHandler(kv store.KV, payment PaymentGateway, bus *events.Bus, logger flowlog.Logger, timeout time.Duration) *HardenedRefundHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HardenedRefundHandler{
		kv:      kv,
		payment: payment,
		bus:     bus,
		logger:  logger.With("component", "orderflow.HardenedRefundHandler"),
		timeout: timeout,
		backOff: backoff.NewExponentialBackOff(),
	}
}

func idempotencyKey(workflowID, stepName string) string {
	return workflowID + ":" + stepName
}

// Handle processes one refundPayment compensation dispatch.
func (h *HardenedRefundHandler) Handle(ctx context.Context, raw any) error {
	payload := raw.(events.CompensationDispatchPayload)
	key := idempotencyKey(payload.WorkflowID, payload.OriginalStep)

	if existing, found, err := h.kv.Get(ctx, refundsGroup, key); err == nil && found {
		var rec refundRecord
		if json.Unmarshal(existing, &rec) == nil && rec.Done {
			h.logger.Debug("refund already applied, skipping gateway call", "key", key)
			return h.emitCompensationCompleted(ctx, payload.WorkflowID, payload.OriginalStep, true, nil)
		}
	}

	txn := asString(payload.OriginalOutput["transactionId"])
	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	operation := func() error {
		return h.payment.Refund(callCtx, txn)
	}

	h.backOff.Reset()
	err := backoff.Retry(operation, backoff.WithContext(h.backOff, callCtx))

	rec := refundRecord{TransactionID: txn, Done: err == nil}
	if raw, marshalErr := json.Marshal(rec); marshalErr == nil {
		_ = h.kv.Set(ctx, refundsGroup, key, raw)
	}

	return h.emitCompensationCompleted(ctx, payload.WorkflowID, payload.OriginalStep, err == nil, err)
}

func (h *HardenedRefundHandler) emitCompensationCompleted(ctx context.Context, workflowID, stepName string, success bool, compErr error) error {
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
