package orderflow

import (
	"context"
	"fmt"
)

// PaymentGateway is the out-of-scope payment collaborator spec.md leaves
// as an external system. FakePaymentGateway stands in for it with
// deterministic behavior suitable for conformance tests.
type PaymentGateway interface {
	Charge(ctx context.Context, orderID string, amount float64) (transactionID string, err error)
	Refund(ctx context.Context, transactionID string) error
}

// InventoryService stands in for the warehouse/inventory system.
type InventoryService interface {
	Reserve(ctx context.Context, orderID string, quantity int) (reservationID string, err error)
	Release(ctx context.Context, reservationID string) error
}

// ShippingService stands in for the carrier/shipment system.
type ShippingService interface {
	CreateShipment(ctx context.Context, orderID string, weightKg float64) (shipmentID string, err error)
	CancelShipment(ctx context.Context, shipmentID string) error
}

// NotificationService stands in for the customer-notification system.
type NotificationService interface {
	Notify(ctx context.Context, orderID, message string) error
}

// FakePaymentGateway declines charges of 500 or more, modeling a
// card-issuer decline on large amounts. It is not a stress-test double:
// it exists so spec §8's failure-path scenarios are reproducible without
// a real payment processor.
type FakePaymentGateway struct{}

func (FakePaymentGateway) Charge(_ context.Context, orderID string, amount float64) (string, error) {
	if amount >= 500 {
		return "", fmt.Errorf("payment declined for order %s: amount %.2f exceeds limit", orderID, amount)
	}
	return "txn_" + orderID, nil
}

func (FakePaymentGateway) Refund(_ context.Context, transactionID string) error {
	return nil
}

// FakeInventoryService declines reservations of 10 units or more,
// modeling a stock shortfall.
type FakeInventoryService struct{}

func (FakeInventoryService) Reserve(_ context.Context, orderID string, quantity int) (string, error) {
	if quantity >= 10 {
		return "", fmt.Errorf("insufficient stock for order %s: requested %d", orderID, quantity)
	}
	return "resv_" + orderID, nil
}

func (FakeInventoryService) Release(_ context.Context, reservationID string) error {
	return nil
}

// FakeShippingService declines shipments of 50kg or more, modeling a
// carrier weight limit.
type FakeShippingService struct{}

func (FakeShippingService) CreateShipment(_ context.Context, orderID string, weightKg float64) (string, error) {
	if weightKg >= 50 {
		return "", fmt.Errorf("carrier rejected shipment for order %s: weight %.1fkg over limit", orderID, weightKg)
	}
	return "ship_" + orderID, nil
}

func (FakeShippingService) CancelShipment(_ context.Context, shipmentID string) error {
	return nil
}

// FakeNotificationService always succeeds; notification failure is not
// one of the reference scenarios spec §8 requires.
type FakeNotificationService struct{}

func (FakeNotificationService) Notify(_ context.Context, orderID, message string) error {
	return nil
}
