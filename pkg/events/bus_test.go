package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/flowlog"
)

func newTestBus() *Bus {
	return NewBus(flowlog.NewTestLogger())
}

func TestPublishWithNoHandlersIsNoop(t *testing.T) {
	b := newTestBus()
	err := b.Publish(context.Background(), TopicExecuteStep, ExecuteStepPayload{WorkflowID: "wf1"})
	require.NoError(t, err)
}

func TestPublishFansOutToAllHandlers(t *testing.T) {
	b := newTestBus()
	var mu sync.Mutex
	var seen []string

	b.Subscribe(TopicExecuteStep, func(_ context.Context, payload any) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "a")
		return nil
	})
	b.Subscribe(TopicExecuteStep, func(_ context.Context, payload any) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "b")
		return nil
	})

	err := b.Publish(context.Background(), TopicExecuteStep, ExecuteStepPayload{WorkflowID: "wf1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, seen)
	assert.Equal(t, 2, b.HandlerCount(TopicExecuteStep))
}

func TestPublishReturnsHandlerError(t *testing.T) {
	b := newTestBus()
	wantErr := errors.New("handler blew up")
	b.Subscribe(TopicStepFailed, func(_ context.Context, payload any) error {
		return wantErr
	})

	err := b.Publish(context.Background(), TopicStepFailed, StepFailedPayload{WorkflowID: "wf1"})
	require.Error(t, err)
}

func TestPublishAsyncDoesNotBlock(t *testing.T) {
	b := newTestBus()
	done := make(chan struct{})
	b.Subscribe(TopicCompensate, func(_ context.Context, payload any) error {
		time.Sleep(20 * time.Millisecond)
		close(done)
		return nil
	})

	b.PublishAsync(context.Background(), TopicCompensate, CompensatePayload{WorkflowID: "wf1"})

	select {
	case <-done:
		t.Fatal("handler completed before PublishAsync returned control")
	default:
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestCompensationTopicNaming(t *testing.T) {
	assert.Equal(t, "compensate.refundPayment", CompensationTopic("refundPayment"))
}
