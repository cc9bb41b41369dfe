// Package main provides the resume-signal dispatcher service.
package main

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/titleworks/lientrack/pkg/engine"
	"github.com/titleworks/lientrack/pkg/eventbus"
	"github.com/titleworks/lientrack/pkg/events"
	"github.com/titleworks/lientrack/pkg/interrupts"
	"github.com/titleworks/lientrack/pkg/notifications"
	"github.com/titleworks/lientrack/pkg/orchestrator"
	"github.com/titleworks/lientrack/pkg/otelhelper"
	"github.com/titleworks/lientrack/pkg/persistence"
	"github.com/titleworks/lientrack/pkg/plan"
	"github.com/titleworks/lientrack/pkg/sla"
)

// DispatcherService drains the resume-signal queue on an interval and also
// reacts to resume-request events on the bus so freshly resolved interrupts
// do not wait for the next tick.
type DispatcherService struct {
	logger     *slog.Logger
	dispatcher *orchestrator.Dispatcher
	bus        eventbus.EventBus
	tracer     trace.Tracer
	kick       chan struct{}
}

func NewDispatcherService(
	logger *slog.Logger,
	p persistence.Persistence,
	bus eventbus.EventBus,
	templates *plan.Registry,
	orchestratorURL string,
	requestTimeout time.Duration,
	tracer trace.Tracer,
) *DispatcherService {
	notifier := notifications.NewDispatcher(logger, p, nil)
	calculator := sla.NewCalculator(sla.CalculatorConfig{})
	eng := engine.New(logger, p, templates, calculator, bus, notifier)
	escalator := interrupts.NewManager(logger, p, eng, notifier)
	client := orchestrator.NewClient(orchestratorURL, requestTimeout, logger)

	return &DispatcherService{
		logger:     logger,
		dispatcher: orchestrator.NewDispatcher(logger, p, client, escalator),
		bus:        bus,
		tracer:     tracer,
		kick:       make(chan struct{}, 1),
	}
}

// Start blocks until ctx is cancelled, draining the queue on every tick and
// on every resume-request event.
func (s *DispatcherService) Start(ctx context.Context, interval time.Duration) error {
	err := s.bus.Handle(events.TaskResumeRequested, func(_ context.Context, _ any) error {
		select {
		case s.kick <- struct{}{}:
		default:
		}

		return nil
	})
	if err != nil {
		return err
	}

	err = s.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Resume dispatcher started", "poll_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping resume dispatcher")

			return nil
		case <-ticker.C:
			s.dispatch(ctx)
		case <-s.kick:
			s.dispatch(ctx)
		}
	}
}

func (s *DispatcherService) dispatch(ctx context.Context) {
	spanCtx, span := otelhelper.StartSpan(ctx, s.tracer, "resume.dispatch")
	defer span.End()

	stats, err := s.dispatcher.DispatchOnce(spanCtx)
	if err != nil {
		otelhelper.SetError(span, err)
		s.logger.ErrorContext(spanCtx, "dispatch pass failed", "error", err)

		return
	}

	if stats.Pending > 0 {
		s.logger.InfoContext(spanCtx, "dispatch pass finished",
			"pending", stats.Pending,
			"delivered", stats.Delivered,
			"retried", stats.Retried,
			"escalated", stats.Escalated)
	}
}
