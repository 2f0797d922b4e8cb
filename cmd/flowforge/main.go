// Command flowforge runs the FlowForge durable workflow orchestrator: the
// engine and compensator wired to an event bus, a durable store, the
// reference order-fulfillment step handlers, and the thin HTTP adapter.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowforge/flowforge/pkg/compensator"
	"github.com/flowforge/flowforge/pkg/engine"
	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/flowlog"
	"github.com/flowforge/flowforge/pkg/httpapi"
	"github.com/flowforge/flowforge/pkg/orderflow"
	"github.com/flowforge/flowforge/pkg/saga"
	"github.com/flowforge/flowforge/pkg/store"
)

func main() {
	cfg := parseFlags()
	logger := flowlog.NewDefault(parseLevel(cfg.LogLevel))

	kv, closeStore, err := openStore(cfg.StorePath, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err.Error())
		os.Exit(1)
	}
	defer closeStore()

	registry := saga.NewRegistry()
	if err := registry.Register(orderflow.Definition()); err != nil {
		logger.Error("failed to register order workflow", "error", err.Error())
		os.Exit(1)
	}

	bus := events.NewBus(logger)
	st := store.New(kv)
	eng := engine.New(registry, st, bus, logger)
	comp := compensator.New(st, bus, logger)

	wireCoreTopics(bus, eng, comp)

	payment := orderflow.FakePaymentGateway{}
	handlers := orderflow.NewHandlers(bus,
		payment,
		orderflow.FakeInventoryService{},
		orderflow.FakeShippingService{},
		orderflow.FakeNotificationService{},
		logger,
	)
	hardenedRefund := orderflow.NewHardenedRefundHandler(kv, payment, bus, logger, 10*time.Second)
	handlers.RegisterWithHardenedRefund(hardenedRefund)

	server := httpapi.NewServer(eng, st, logger)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server failed", "error", err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err.Error())
	}
}

// wireCoreTopics subscribes the engine and compensator to the internal
// topics §4.5 reserves for them. Both are pure functions of persisted
// state; this is the only place that turns bus deliveries into calls.
func wireCoreTopics(bus *events.Bus, eng *engine.Engine, comp *compensator.Compensator) {
	bus.Subscribe(events.TopicExecuteStep, func(ctx context.Context, raw any) error {
		p := raw.(events.ExecuteStepPayload)
		return eng.ExecuteStep(ctx, p.WorkflowID, p.StepName)
	})
	bus.Subscribe(events.TopicStepCompleted, func(ctx context.Context, raw any) error {
		p := raw.(events.StepCompletedPayload)
		return eng.HandleStepCompleted(ctx, p.WorkflowID, p.StepName, p.Output)
	})
	bus.Subscribe(events.TopicStepFailed, func(ctx context.Context, raw any) error {
		p := raw.(events.StepFailedPayload)
		return eng.HandleStepFailed(ctx, p.WorkflowID, p.StepName, p.Error)
	})
	bus.Subscribe(events.TopicCompensate, func(ctx context.Context, raw any) error {
		p := raw.(events.CompensatePayload)
		return comp.StartCompensation(ctx, p.WorkflowID)
	})
	bus.Subscribe(events.TopicExecuteCompensation, func(ctx context.Context, raw any) error {
		p := raw.(events.ExecuteCompensationPayload)
		return comp.ExecuteCompensation(ctx, p.WorkflowID, p.StepName, p.CompensationName)
	})
	bus.Subscribe(events.TopicCompensationCompleted, func(ctx context.Context, raw any) error {
		p := raw.(events.CompensationCompletedPayload)
		return comp.HandleCompensationCompleted(ctx, p.WorkflowID, p.StepName, p.Success, p.Error)
	})
}

func openStore(path string, logger flowlog.Logger) (store.KV, func(), error) {
	if path == "" {
		return store.NewMemory(), func() {}, nil
	}
	b, err := store.OpenBolt(path, logger)
	if err != nil {
		return nil, nil, err
	}
	return b, func() { _ = b.Close() }, nil
}

func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}
