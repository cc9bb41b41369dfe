package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/titleworks/lientrack/pkg/cmd"
	"github.com/titleworks/lientrack/pkg/log"
	"github.com/titleworks/lientrack/pkg/otelhelper"
	"github.com/titleworks/lientrack/pkg/sla"
)

func main() {
	command := &cli.Command{
		Name:                  "lientrack-sweeper",
		Usage:                 "Evaluate SLA deadlines and raise at-risk and breach alerts",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sweeper-id",
				Aliases: []string{"id"},
				Usage:   "Custom sweeper ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SWEEPER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka or gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression controlling how often the sweep runs",
				Value:   "*/5 * * * *",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "business-open-hour",
				Usage:   "Hour (UTC) the business day opens for business-hours SLA clocks",
				Value:   sla.DefaultOpenHour,
				Sources: cli.EnvVars("BUSINESS_OPEN_HOUR"),
			},
			&cli.IntFlag{
				Name:    "business-close-hour",
				Usage:   "Hour (UTC) the business day closes for business-hours SLA clocks",
				Value:   sla.DefaultCloseHour,
				Sources: cli.EnvVars("BUSINESS_CLOSE_HOUR"),
			},
			&cli.DurationFlag{
				Name:    "alert-window",
				Usage:   "How long before the deadline a task counts as at risk",
				Value:   sla.DefaultAlertWindow,
				Sources: cli.EnvVars("SLA_ALERT_WINDOW"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			tracerProvider, err := otelhelper.InitTracer(ctx, "lientrack-sweeper")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			sweeperID := command.String("sweeper-id")
			if sweeperID == "" {
				sweeperID = fmt.Sprintf("sweeper-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("lientrack-sweeper").With("sweeper_id", sweeperID)

			logger.InfoContext(ctx, "Initializing Lientrack SLA sweeper")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "lientrack-sweeper", command.StringSlice("kafka-brokers"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			sweeper := NewSweeper(
				logger,
				persistence,
				eventBus,
				sla.CalculatorConfig{
					OpenHour:    command.Int("business-open-hour"),
					CloseHour:   command.Int("business-close-hour"),
					Location:    time.UTC,
					AlertWindow: command.Duration("alert-window"),
				},
				tracerProvider.Tracer("lientrack-sweeper"),
			)

			return sweeper.Start(runCtx, command.String("schedule"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
