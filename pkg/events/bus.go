// Package events implements the event dispatch contract (spec component
// C5): an in-process publish/subscribe bus grounded on the teacher's
// messaging.Publisher, carrying the topic families the engine and
// compensator rely on.
package events

import (
	"context"
	"sync"

	"github.com/flowforge/flowforge/pkg/flowlog"
)

// Engine-internal topics (spec §4.5).
const (
	TopicExecuteStep       = "flowforge.execute-step"
	TopicStepCompleted     = "flowforge.step-completed"
	TopicStepFailed        = "flowforge.step-failed"
	TopicCompensate        = "flowforge.compensate"
	TopicWorkflowCompleted = "flowforge.workflow-completed"
	TopicWorkflowFailed    = "flowforge.workflow-failed"
)

// Compensator-internal topics (spec §4.5).
const (
	TopicExecuteCompensation   = "flowforge.execute-compensation"
	TopicCompensationCompleted = "flowforge.compensation-completed"
	TopicCompensationFinished  = "flowforge.compensation-finished"
)

// CompensationTopic returns the dispatch topic for a named compensation
// handler: "compensate.<compensationName>".
func CompensationTopic(compensationName string) string {
	return "compensate." + compensationName
}

// Handler processes one event delivered on a topic. A returned error is
// logged by the bus; it does not retry delivery.
type Handler func(ctx context.Context, payload any) error

// Bus is an in-process, at-least-once publish/subscribe dispatcher. It
// does not persist or order events across process restarts — durability
// is the responsibility of the persistence layer the handlers write to
// before they publish further events.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   flowlog.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger flowlog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With("component", "events.Bus"),
	}
}

// Subscribe registers handler to run for every event published on topic.
// Handlers for the same topic run concurrently and independently on
// Publish.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish delivers payload to every handler subscribed to topic, running
// them concurrently, and returns the first error encountered (if any)
// once all handlers have run.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handlers for topic", "topic", topic)
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))

	for _, h := range handlers {
		wg.Add(1)
		go func(handler Handler) {
			defer wg.Done()
			if err := handler(ctx, payload); err != nil {
				b.logger.Error("event handler failed", "topic", topic, "error", err.Error())
				errCh <- err
			}
		}(h)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// PublishAsync publishes payload on topic without waiting for handlers to
// finish. Engine and compensator operations use this for the event they
// emit as their final act, so the caller returns as soon as state is
// durably recorded.
func (b *Bus) PublishAsync(ctx context.Context, topic string, payload any) {
	go func() {
		if err := b.Publish(ctx, topic, payload); err != nil {
			b.logger.Error("async publish failed", "topic", topic, "error", err.Error())
		}
	}()
}

// HandlerCount reports how many handlers are registered for topic, for
// tests that assert wiring took effect.
func (b *Bus) HandlerCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}
