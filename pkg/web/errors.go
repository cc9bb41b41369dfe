package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/titleworks/lientrack/pkg/engine"
	"github.com/titleworks/lientrack/pkg/interrupts"
	"github.com/titleworks/lientrack/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine, interrupt and persistence errors to HTTP
// problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsInvalidTransition(err):
		return conflict(c, "invalid_transition", err.Error())

	case engine.IsRetryExhausted(err):
		return conflict(c, "retry_exhausted", err.Error())

	case engine.IsConflict(err):
		return conflict(c, "version_conflict", err.Error())

	case errors.Is(err, interrupts.ErrAlreadyResolved):
		return conflict(c, "already_resolved", err.Error())

	case persistence.IsWorkflowAlreadyActivated(err):
		return conflict(c, "workflow_already_activated", err.Error())

	case persistence.IsOpenInterruptExists(err):
		return conflict(c, "open_interrupt_exists", err.Error())

	case engine.IsDependencyUnsatisfied(err):
		return badRequest(c, err.Error())

	case errors.Is(err, engine.ErrUnknownWorkflowType):
		return badRequest(c, err.Error())

	case errors.Is(err, engine.ErrInvalidOutputData):
		return badRequest(c, err.Error())

	case persistence.IsTaskNotFound(err):
		return notFound(c, "task not found")

	case persistence.IsInterruptNotFound(err):
		return notFound(c, "interrupt not found")

	case persistence.IsNotificationNotFound(err):
		return notFound(c, "notification not found")

	default:
		return internalError(c, err)
	}
}
