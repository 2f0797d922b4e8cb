package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/mcperrors"
)

func orderDefinition() WorkflowDefinition {
	return WorkflowDefinition{
		Type: "order",
		Steps: []StepDefinition{
			{Name: "ValidateOrder", Topic: "order.validate"},
			{Name: "ChargePayment", Topic: "order.charge", CompensationName: "RefundPayment"},
			{Name: "ReserveInventory", Topic: "order.reserve", CompensationName: "ReleaseInventory"},
			{Name: "CreateShipment", Topic: "order.ship", CompensationName: "CancelShipment"},
			{Name: "NotifyUser", Topic: "order.notify"},
			{Name: "Complete", Topic: "order.complete"},
		},
	}
}

func TestRegisterDuplicateType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(orderDefinition()))

	err := r.Register(orderDefinition())
	require.Error(t, err)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryConflict))
}

func TestGetUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	require.Error(t, err)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryNotFound))
}

func TestFirstNextIsLastStep(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(orderDefinition()))

	first, err := r.FirstStep("order")
	require.NoError(t, err)
	assert.Equal(t, "ValidateOrder", first.Name)

	next, err := r.NextStep("order", "ValidateOrder")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "ChargePayment", next.Name)

	last, err := r.NextStep("order", "Complete")
	require.NoError(t, err)
	assert.Nil(t, last)

	isLast, err := r.IsLastStep("order", "Complete")
	require.NoError(t, err)
	assert.True(t, isLast)

	isLast, err = r.IsLastStep("order", "ValidateOrder")
	require.NoError(t, err)
	assert.False(t, isLast)
}

func TestEmptyWorkflowDefinitionHasNoFirstStep(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(WorkflowDefinition{Type: "empty"}))

	_, err := r.FirstStep("empty")
	require.Error(t, err)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryValidation))
}

func TestCompensableStepsUpToIsReverseOrdered(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(orderDefinition()))

	steps, err := r.CompensableStepsUpTo("order", "CreateShipment")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "CreateShipment", steps[0].Name)
	assert.Equal(t, "ReserveInventory", steps[1].Name)
	assert.Equal(t, "ChargePayment", steps[2].Name)
}

func TestContextMerge(t *testing.T) {
	base := Context{"a": 1, "b": 2}
	merged := Merge(base, Context{"b": 3, "c": 4})

	assert.Equal(t, Context{"a": 1, "b": 3, "c": 4}, merged)
	// base must be unmodified
	assert.Equal(t, Context{"a": 1, "b": 2}, base)
}
