// Package main provides the Lientrack API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/titleworks/lientrack/pkg/engine"
	"github.com/titleworks/lientrack/pkg/eventbus"
	"github.com/titleworks/lientrack/pkg/interrupts"
	"github.com/titleworks/lientrack/pkg/notifications"
	"github.com/titleworks/lientrack/pkg/persistence"
	"github.com/titleworks/lientrack/pkg/plan"
	"github.com/titleworks/lientrack/pkg/sla"
	"github.com/titleworks/lientrack/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	templates   *plan.Registry
	eventBus    eventbus.EventBus
	pusher      notifications.Pusher
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	templates *plan.Registry,
	eventBus eventbus.EventBus,
	pusher notifications.Pusher,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		templates:   templates,
		eventBus:    eventBus,
		pusher:      pusher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	dispatcher := notifications.NewDispatcher(a.logger, a.persistence, a.pusher)
	calculator := sla.NewCalculator(sla.CalculatorConfig{})
	eng := engine.New(a.logger, a.persistence, a.templates, calculator, a.eventBus, dispatcher)
	manager := interrupts.NewManager(a.logger, a.persistence, eng, dispatcher)

	handlers := web.NewAPIHandlers(eng, manager, dispatcher, a.templates, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Lientrack API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
