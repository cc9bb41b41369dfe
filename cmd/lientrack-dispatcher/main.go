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
)

func main() {
	command := &cli.Command{
		Name:                  "lientrack-dispatcher",
		Usage:                 "Deliver queued resume signals to the orchestration engine",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("DISPATCHER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "orchestrator-url",
				Usage:    "Base URL of the orchestration engine receiving resume calls",
				Required: true,
				Sources:  cli.EnvVars("ORCHESTRATOR_URL"),
			},
			&cli.DurationFlag{
				Name:    "request-timeout",
				Usage:   "Timeout for a single resume call",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("REQUEST_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often the pending queue is drained",
				Value:   15 * time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
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
				Name:    "templates-path",
				Usage:   "Directory with workflow template files layered over the built-ins",
				Value:   "",
				Sources: cli.EnvVars("TEMPLATES_PATH"),
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

			tracerProvider, err := otelhelper.InitTracer(ctx, "lientrack-dispatcher")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			dispatcherID := command.String("dispatcher-id")
			if dispatcherID == "" {
				dispatcherID = fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("lientrack-dispatcher").With("dispatcher_id", dispatcherID)

			logger.InfoContext(ctx, "Initializing Lientrack resume dispatcher")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "lientrack-dispatcher", command.StringSlice("kafka-brokers"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			templates := cmd.NewTemplateRegistry(logger, command.String("templates-path"))

			runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			service := NewDispatcherService(
				logger,
				persistence,
				eventBus,
				templates,
				command.String("orchestrator-url"),
				command.Duration("request-timeout"),
				tracerProvider.Tracer("lientrack-dispatcher"),
			)

			return service.Start(runCtx, command.Duration("poll-interval"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
