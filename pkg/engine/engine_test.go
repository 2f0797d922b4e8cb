package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/flowlog"
	"github.com/flowforge/flowforge/pkg/saga"
	"github.com/flowforge/flowforge/pkg/store"
)

const stepTopic = "flowforge.step.validateOrder"
const step2Topic = "flowforge.step.chargePayment"

func testDefinition() saga.WorkflowDefinition {
	return saga.WorkflowDefinition{
		Type: "order",
		Steps: []saga.StepDefinition{
			{Name: "validateOrder", Topic: stepTopic},
			{Name: "chargePayment", Topic: step2Topic, CompensationName: "refundPayment"},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *events.Bus, *store.Store) {
	t.Helper()
	reg := saga.NewRegistry()
	require.NoError(t, reg.Register(testDefinition()))
	bus := events.NewBus(flowlog.NewTestLogger())
	st := store.New(store.NewMemory())
	return New(reg, st, bus, flowlog.NewTestLogger()), bus, st
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func TestStartWorkflowEmitsExecuteStepForFirstStep(t *testing.T) {
	e, bus, _ := newTestEngine(t)
	got := make(chan events.ExecuteStepPayload, 1)
	bus.Subscribe(events.TopicExecuteStep, func(_ context.Context, payload any) error {
		got <- payload.(events.ExecuteStepPayload)
		return nil
	})

	wf, err := e.StartWorkflow(context.Background(), StartRequest{Type: "order", Input: saga.Context{"orderId": "o1"}})
	require.NoError(t, err)
	assert.Equal(t, "validateOrder", wf.CurrentStep)

	payload := waitFor(t, got)
	assert.Equal(t, "validateOrder", payload.StepName)
	assert.Equal(t, wf.ID, payload.WorkflowID)
}

func TestStartWorkflowIsIdempotentOnExplicitID(t *testing.T) {
	e, bus, _ := newTestEngine(t)
	emitted := make(chan struct{}, 2)
	bus.Subscribe(events.TopicExecuteStep, func(_ context.Context, payload any) error {
		emitted <- struct{}{}
		return nil
	})

	wf1, err := e.StartWorkflow(context.Background(), StartRequest{Type: "order", WorkflowID: "wf-fixed"})
	require.NoError(t, err)
	<-emitted

	wf2, err := e.StartWorkflow(context.Background(), StartRequest{Type: "order", WorkflowID: "wf-fixed"})
	require.NoError(t, err)
	assert.Equal(t, wf1.ID, wf2.ID)

	select {
	case <-emitted:
		t.Fatal("second startWorkflow call re-emitted execute-step")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStartWorkflowUnknownType(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.StartWorkflow(context.Background(), StartRequest{Type: "nope"})
	require.Error(t, err)
}

func TestExecuteStepDispatchesOnStepTopic(t *testing.T) {
	e, bus, st := newTestEngine(t)
	_, err := st.CreateWorkflow(context.Background(), "wf1", "order", "validateOrder", saga.Context{"orderId": "o1"})
	require.NoError(t, err)

	got := make(chan events.ExecuteStepPayload, 1)
	bus.Subscribe(stepTopic, func(_ context.Context, payload any) error {
		got <- payload.(events.ExecuteStepPayload)
		return nil
	})

	err = e.ExecuteStep(context.Background(), "wf1", "validateOrder")
	require.NoError(t, err)

	payload := waitFor(t, got)
	assert.Equal(t, "validateOrder", payload.StepName)
}

func TestExecuteStepReplaysCompletedWithoutRedispatch(t *testing.T) {
	e, bus, st := newTestEngine(t)
	_, err := st.CreateWorkflow(context.Background(), "wf1", "order", "validateOrder", saga.Context{})
	require.NoError(t, err)
	_, _, err = st.RecordStepStart(context.Background(), "wf1", "validateOrder", saga.Context{}, 1)
	require.NoError(t, err)
	_, err = st.RecordStepComplete(context.Background(), "wf1", "validateOrder", saga.Context{"validated": true})
	require.NoError(t, err)

	sideEffect := make(chan struct{}, 1)
	bus.Subscribe(stepTopic, func(_ context.Context, payload any) error {
		sideEffect <- struct{}{}
		return nil
	})
	completed := make(chan events.StepCompletedPayload, 1)
	bus.Subscribe(events.TopicStepCompleted, func(_ context.Context, payload any) error {
		completed <- payload.(events.StepCompletedPayload)
		return nil
	})

	err = e.ExecuteStep(context.Background(), "wf1", "validateOrder")
	require.NoError(t, err)

	payload := waitFor(t, completed)
	assert.Equal(t, true, payload.Output["validated"])

	select {
	case <-sideEffect:
		t.Fatal("replayed a completed step's handler instead of reusing the stored outcome")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleStepCompletedAdvancesToNextStep(t *testing.T) {
	e, bus, st := newTestEngine(t)
	_, err := st.CreateWorkflow(context.Background(), "wf1", "order", "validateOrder", saga.Context{"orderId": "o1"})
	require.NoError(t, err)
	_, _, err = st.RecordStepStart(context.Background(), "wf1", "validateOrder", saga.Context{}, 1)
	require.NoError(t, err)

	got := make(chan events.ExecuteStepPayload, 1)
	bus.Subscribe(events.TopicExecuteStep, func(_ context.Context, payload any) error {
		got <- payload.(events.ExecuteStepPayload)
		return nil
	})

	err = e.HandleStepCompleted(context.Background(), "wf1", "validateOrder", saga.Context{"validated": true})
	require.NoError(t, err)

	payload := waitFor(t, got)
	assert.Equal(t, "chargePayment", payload.StepName)

	wf, err := st.GetWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, "chargePayment", wf.CurrentStep)
	assert.Equal(t, true, wf.Context["validated"])
}

func TestHandleStepCompletedOnLastStepCompletesWorkflow(t *testing.T) {
	e, bus, st := newTestEngine(t)
	_, err := st.CreateWorkflow(context.Background(), "wf1", "order", "chargePayment", saga.Context{})
	require.NoError(t, err)
	_, _, err = st.RecordStepStart(context.Background(), "wf1", "chargePayment", saga.Context{}, 1)
	require.NoError(t, err)

	got := make(chan events.WorkflowCompletedPayload, 1)
	bus.Subscribe(events.TopicWorkflowCompleted, func(_ context.Context, payload any) error {
		got <- payload.(events.WorkflowCompletedPayload)
		return nil
	})

	err = e.HandleStepCompleted(context.Background(), "wf1", "chargePayment", saga.Context{"transactionId": "t1"})
	require.NoError(t, err)
	waitFor(t, got)

	wf, err := st.GetWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowCompleted, wf.Status)

	comps, err := st.GetPendingCompensations(context.Background(), "wf1")
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, "refundPayment", comps[0].CompensationName)
}

func TestHandleStepFailedTransitionsAndEmitsCompensate(t *testing.T) {
	e, bus, st := newTestEngine(t)
	_, err := st.CreateWorkflow(context.Background(), "wf1", "order", "chargePayment", saga.Context{})
	require.NoError(t, err)
	_, _, err = st.RecordStepStart(context.Background(), "wf1", "chargePayment", saga.Context{}, 1)
	require.NoError(t, err)

	got := make(chan events.CompensatePayload, 1)
	bus.Subscribe(events.TopicCompensate, func(_ context.Context, payload any) error {
		got <- payload.(events.CompensatePayload)
		return nil
	})

	err = e.HandleStepFailed(context.Background(), "wf1", "chargePayment", events.ErrorInfo{Message: "card declined"})
	require.NoError(t, err)
	waitFor(t, got)

	wf, err := st.GetWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowFailed, wf.Status)
	assert.Equal(t, "chargePayment", wf.FailedStep)
	assert.Equal(t, "card declined", wf.Error)
}

func TestPauseAndResumeWorkflow(t *testing.T) {
	e, bus, st := newTestEngine(t)
	_, err := st.CreateWorkflow(context.Background(), "wf1", "order", "chargePayment", saga.Context{})
	require.NoError(t, err)

	require.NoError(t, e.PauseWorkflow(context.Background(), "wf1", "manual-review"))
	wf, err := st.GetWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowWaiting, wf.Status)

	got := make(chan events.ExecuteStepPayload, 1)
	bus.Subscribe(events.TopicExecuteStep, func(_ context.Context, payload any) error {
		got <- payload.(events.ExecuteStepPayload)
		return nil
	})

	require.NoError(t, e.ResumeWorkflow(context.Background(), "wf1", "approved", saga.Context{"approvedBy": "ops"}))
	payload := waitFor(t, got)
	assert.Equal(t, "chargePayment", payload.StepName)

	wf, err = st.GetWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowRunning, wf.Status)
	assert.Equal(t, "ops", wf.Context["approvedBy"])
}

func TestResumeWorkflowNoopWhenNotWaiting(t *testing.T) {
	e, _, st := newTestEngine(t)
	_, err := st.CreateWorkflow(context.Background(), "wf1", "order", "chargePayment", saga.Context{})
	require.NoError(t, err)

	require.NoError(t, e.ResumeWorkflow(context.Background(), "wf1", "approved", nil))

	wf, err := st.GetWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowRunning, wf.Status)
}
