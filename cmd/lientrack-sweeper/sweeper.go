// Package main provides the cron-driven SLA sweeper service.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/titleworks/lientrack/pkg/eventbus"
	"github.com/titleworks/lientrack/pkg/notifications"
	"github.com/titleworks/lientrack/pkg/otelhelper"
	"github.com/titleworks/lientrack/pkg/persistence"
	"github.com/titleworks/lientrack/pkg/sla"
)

// Sweeper runs the SLA evaluation pass on a cron schedule. Overlapping runs
// are skipped rather than queued.
type Sweeper struct {
	logger  *slog.Logger
	tracker *sla.Tracker
	tracer  trace.Tracer
	cron    *cron.Cron
}

func NewSweeper(
	logger *slog.Logger,
	p persistence.Persistence,
	bus eventbus.EventBus,
	config sla.CalculatorConfig,
	tracer trace.Tracer,
) *Sweeper {
	dispatcher := notifications.NewDispatcher(logger, p, nil)
	tracker := sla.NewTracker(logger, p, sla.NewCalculator(config), dispatcher, bus)

	return &Sweeper{
		logger:  logger,
		tracker: tracker,
		tracer:  tracer,
	}
}

// Start schedules the sweep and blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(schedule, func() { s.sweep(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule sweep %q: %w", schedule, err)
	}

	s.logger.InfoContext(ctx, "SLA sweeper started", "schedule", schedule)
	s.cron.Start()

	<-ctx.Done()

	s.logger.Info("Stopping SLA sweeper")
	<-s.cron.Stop().Done()

	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	spanCtx, span := otelhelper.StartSpan(ctx, s.tracer, "sla.sweep")
	defer span.End()

	stats, err := s.tracker.SweepOnce(spanCtx)
	if err != nil {
		otelhelper.SetError(span, err)
		s.logger.ErrorContext(spanCtx, "SLA sweep failed", "error", err)

		return
	}

	s.logger.InfoContext(spanCtx, "SLA sweep finished",
		"scanned", stats.Scanned,
		"at_risk", stats.AtRisk,
		"breached", stats.Breached,
		"alerts", stats.Alerts,
		"errors", stats.Errors)
}
