// Package web provides HTTP handlers and REST API endpoints for task
// execution tracking.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/titleworks/lientrack/pkg/engine"
	"github.com/titleworks/lientrack/pkg/interrupts"
	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/notifications"
	"github.com/titleworks/lientrack/pkg/persistence"
	"github.com/titleworks/lientrack/pkg/plan"
)

type APIHandlers struct {
	engine        *engine.Engine
	interrupts    *interrupts.Manager
	notifications *notifications.Dispatcher
	templates     *plan.Registry
	persistence   persistence.Persistence
	validator     *validator.Validate
}

func NewAPIHandlers(
	e *engine.Engine,
	interruptManager *interrupts.Manager,
	dispatcher *notifications.Dispatcher,
	templates *plan.Registry,
	p persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:        e,
		interrupts:    interruptManager,
		notifications: dispatcher,
		templates:     templates,
		persistence:   p,
		validator:     validator,
	}
}

// RegisterRoutes mounts every API endpoint on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	w := app.Group("/workflows")
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Get("/:id/tasks", h.ListWorkflowTasks)
	w.Get("/:id/status", h.GetWorkflowStatus)
	w.Get("/:id/audit", h.GetWorkflowAudit)
	w.Post("/:id/cancel", h.CancelWorkflow)

	tasks := app.Group("/tasks")
	tasks.Get("/:id", h.GetTask)
	tasks.Get("/:id/audit", h.GetTaskAudit)
	tasks.Post("/:id/status", h.TransitionTask)
	tasks.Post("/:id/retry", h.RetryTask)
	tasks.Post("/:id/interrupt", h.OpenInterrupt)

	ints := app.Group("/interrupts")
	ints.Get("/", h.ListInterrupts)
	ints.Get("/:id", h.GetInterrupt)
	ints.Post("/:id/resolve", h.ResolveInterrupt)

	users := app.Group("/users")
	users.Get("/:id/notifications", h.ListNotifications)
	users.Post("/:id/notifications/read-all", h.MarkAllNotificationsRead)

	app.Post("/notifications/:id/read", h.MarkNotificationRead)

	app.Get("/templates", h.ListTemplates)
	app.Get("/templates/:type", h.GetTemplate)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ActivateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	tasks, err := h.engine.ActivateWorkflow(c.Context(), workflowID, req.WorkflowType, req.AssignedOperator, req.Actor)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"workflow_id": workflowID,
		"tasks":       tasks,
	})
}

func (h *APIHandlers) ListWorkflowTasks(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	tasks, err := h.engine.ListWorkflowTasks(c.Context(), workflowID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflow_id": workflowID,
		"tasks":       tasks,
	})
}

func (h *APIHandlers) GetWorkflowStatus(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	status, tasks, err := h.engine.WorkflowStatus(c.Context(), workflowID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(WorkflowStatusResponse{
		WorkflowID: workflowID,
		Status:     status,
		Tasks:      tasks,
	})
}

func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req CancelWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	cancelled, err := h.engine.CancelWorkflow(c.Context(), workflowID, req.Reason, req.Actor)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(CancelWorkflowResponse{
		WorkflowID: workflowID,
		Cancelled:  cancelled,
	})
}

func (h *APIHandlers) GetTask(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	task, err := h.engine.GetTask(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) TransitionTask(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	var req TransitionTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.engine.Transition(c.Context(), id, models.TaskStatus(req.Status), engine.TransitionRequest{
		Actor:             req.Actor,
		ErrorMessage:      req.ErrorMessage,
		OutputData:        req.OutputData,
		InterruptReason:   req.InterruptReason,
		InterruptPriority: models.Priority(req.InterruptPriority),
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) RetryTask(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	var req RetryTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.engine.Retry(c.Context(), id, req.Actor)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) OpenInterrupt(c fiber.Ctx) error {
	taskID := c.Params("id")
	if taskID == "" {
		return badRequest(c, "Task ID is required")
	}

	var req OpenInterruptRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	interrupt, err := h.interrupts.Open(c.Context(), taskID, req.Reason, models.Priority(req.Priority), req.Actor)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(interrupt)
}

func (h *APIHandlers) ListInterrupts(c fiber.Ctx) error {
	status := models.InterruptStatus(c.Query("status", string(models.InterruptStatusOpen)))
	if status != models.InterruptStatusOpen && status != models.InterruptStatusResolved {
		return badRequest(c, "Invalid interrupt status filter")
	}

	items, err := h.interrupts.List(c.Context(), status)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"interrupts": items,
		"status":     status,
	})
}

func (h *APIHandlers) GetInterrupt(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Interrupt ID is required")
	}

	interrupt, err := h.interrupts.Get(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(interrupt)
}

func (h *APIHandlers) ResolveInterrupt(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Interrupt ID is required")
	}

	var req ResolveInterruptRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	interrupt, task, err := h.interrupts.Resolve(c.Context(), id, models.Resolution{
		Outcome:    models.ResolutionOutcome(req.Outcome),
		Notes:      req.Notes,
		ResolvedBy: req.ResolvedBy,
		OutputData: req.OutputData,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(ResolveInterruptResponse{
		Interrupt: interrupt,
		Task:      task,
	})
}

func (h *APIHandlers) ListNotifications(c fiber.Ctx) error {
	userID := c.Params("id")
	if userID == "" {
		return badRequest(c, "User ID is required")
	}

	unreadOnly := false

	if unreadStr := c.Query("unread"); unreadStr != "" {
		parsed, err := strconv.ParseBool(unreadStr)
		if err != nil {
			return badRequest(c, "Invalid unread filter: "+err.Error())
		}

		unreadOnly = parsed
	}

	items, err := h.notifications.ListForUser(c.Context(), userID, unreadOnly)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"notifications": items,
		"user_id":       userID,
	})
}

func (h *APIHandlers) MarkNotificationRead(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Notification ID is required")
	}

	if err := h.notifications.MarkRead(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) MarkAllNotificationsRead(c fiber.Ctx) error {
	userID := c.Params("id")
	if userID == "" {
		return badRequest(c, "User ID is required")
	}

	updated, err := h.notifications.MarkAllRead(c.Context(), userID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(MarkAllReadResponse{Updated: updated})
}

func (h *APIHandlers) GetTaskAudit(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	return h.listAudit(c, "task:"+id)
}

func (h *APIHandlers) GetWorkflowAudit(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	return h.listAudit(c, "workflow:"+id)
}

func (h *APIHandlers) listAudit(c fiber.Ctx, resourceRef string) error {
	events, err := h.persistence.Audit().ListByResource(c.Context(), resourceRef)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"resource_ref": resourceRef,
		"events":       events,
	})
}

func (h *APIHandlers) ListTemplates(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"workflow_types": h.templates.WorkflowTypes(),
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	workflowType := c.Params("type")
	if workflowType == "" {
		return badRequest(c, "Workflow type is required")
	}

	template, err := h.templates.Template(workflowType)
	if err != nil {
		return notFound(c, "Template not found")
	}

	return c.JSON(template)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Lientrack API is healthy"
	httpStatus := http.StatusOK
	repositoryCheck := "ok"

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Lientrack API is unhealthy"
		httpStatus = http.StatusInternalServerError
		repositoryCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
			"templates":  len(h.templates.WorkflowTypes()),
		},
		"timestamp": time.Now().UTC(),
	})
}
