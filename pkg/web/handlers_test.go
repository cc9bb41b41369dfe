package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titleworks/lientrack/pkg/engine"
	"github.com/titleworks/lientrack/pkg/interrupts"
	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/notifications"
	"github.com/titleworks/lientrack/pkg/persistence/memory"
	"github.com/titleworks/lientrack/pkg/plan"
	"github.com/titleworks/lientrack/pkg/sla"
	"github.com/titleworks/lientrack/pkg/web"
)

type testEnv struct {
	app        *fiber.App
	engine     *engine.Engine
	interrupts *interrupts.Manager
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.Default()
	store := memory.NewPersistence()
	templates := plan.NewRegistry(logger)
	calculator := sla.NewCalculator(sla.CalculatorConfig{})
	dispatcher := notifications.NewDispatcher(logger, store, nil)
	eng := engine.New(logger, store, templates, calculator, nil, dispatcher)
	manager := interrupts.NewManager(logger, store, eng, dispatcher)

	handlers := web.NewAPIHandlers(
		eng,
		manager,
		dispatcher,
		templates,
		store,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return &testEnv{app: app, engine: eng, interrupts: manager}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		if str, ok := body.(string); ok {
			reader = bytes.NewBufferString(str)
		} else {
			payload, err := json.Marshal(body)
			require.NoError(t, err)

			reader = bytes.NewBuffer(payload)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	var out T
	err := json.NewDecoder(resp.Body).Decode(&out)
	require.NoError(t, err)

	return out
}

func TestAPIHandlers_ActivateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful activation",
			requestBody: web.ActivateWorkflowRequest{
				WorkflowType:     "document_processing",
				AssignedOperator: "operator-1",
				Actor:            "api-test",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "unknown workflow type",
			requestBody: web.ActivateWorkflowRequest{
				WorkflowType: "mystery_processing",
				Actor:        "api-test",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - missing actor",
			requestBody: web.ActivateWorkflowRequest{
				WorkflowType: "document_processing",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestApp(t)

			resp := env.request(t, http.MethodPost, "/workflows/wf-activate/activate", tt.requestBody)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				result := decodeBody[struct {
					WorkflowID string                  `json:"workflow_id"`
					Tasks      []*models.TaskExecution `json:"tasks"`
				}](t, resp)

				assert.Equal(t, "wf-activate", result.WorkflowID)
				assert.Len(t, result.Tasks, 3)

				for _, task := range result.Tasks {
					assert.Equal(t, models.TaskStatusNotStarted, task.Status)
					assert.Equal(t, "operator-1", task.AssignedOperator)
				}
			}
		})
	}
}

func TestAPIHandlers_ActivateWorkflow_Twice(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	body := web.ActivateWorkflowRequest{
		WorkflowType: "document_processing",
		Actor:        "api-test",
	}

	resp := env.request(t, http.MethodPost, "/workflows/wf-dup/activate", body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/workflows/wf-dup/activate", body)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_TransitionTask(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	tasks, err := env.engine.ActivateWorkflow(context.Background(), "wf-transition", "document_processing", "", "api-test")
	require.NoError(t, err)

	intake := taskByType(t, tasks, "document_intake")

	resp := env.request(t, http.MethodPost, "/tasks/"+intake.ID+"/status", web.TransitionTaskRequest{
		Status: "in_progress",
		Actor:  "agent-1",
	})
	updated := decodeBody[models.TaskExecution](t, resp)

	assert.Equal(t, models.TaskStatusInProgress, updated.Status)
	assert.NotNil(t, updated.StartedAt)

	resp = env.request(t, http.MethodPost, "/tasks/"+intake.ID+"/status", web.TransitionTaskRequest{
		Status: "completed",
		Actor:  "agent-1",
		OutputData: map[string]any{
			"document_id": "doc-99",
			"page_count":  12,
		},
	})
	completed := decodeBody[models.TaskExecution](t, resp)

	assert.Equal(t, models.TaskStatusCompleted, completed.Status)
	assert.Equal(t, "doc-99", completed.OutputData["document_id"])
}

func TestAPIHandlers_TransitionTask_Errors(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	tasks, err := env.engine.ActivateWorkflow(context.Background(), "wf-transition-err", "document_processing", "", "api-test")
	require.NoError(t, err)

	intake := taskByType(t, tasks, "document_intake")
	extraction := taskByType(t, tasks, "data_extraction")

	tests := []struct {
		name           string
		taskID         string
		requestBody    any
		expectedStatus int
	}{
		{
			name:   "illegal edge rejected",
			taskID: intake.ID,
			requestBody: web.TransitionTaskRequest{
				Status: "completed",
				Actor:  "agent-1",
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name:   "unsatisfied dependency rejected",
			taskID: extraction.ID,
			requestBody: web.TransitionTaskRequest{
				Status: "in_progress",
				Actor:  "agent-1",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "unknown status rejected",
			taskID: intake.ID,
			requestBody: web.TransitionTaskRequest{
				Status: "paused",
				Actor:  "agent-1",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "task not found",
			taskID: "no-such-task",
			requestBody: web.TransitionTaskRequest{
				Status: "in_progress",
				Actor:  "agent-1",
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.request(t, http.MethodPost, "/tasks/"+tt.taskID+"/status", tt.requestBody)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestAPIHandlers_InterruptLifecycle(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	tasks, err := env.engine.ActivateWorkflow(context.Background(), "wf-interrupt", "document_processing", "operator-5", "api-test")
	require.NoError(t, err)

	intake := taskByType(t, tasks, "document_intake")

	_, err = env.engine.Transition(context.Background(), intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{Actor: "agent-1"})
	require.NoError(t, err)

	// Pause the task for review.
	resp := env.request(t, http.MethodPost, "/tasks/"+intake.ID+"/interrupt", web.OpenInterruptRequest{
		Reason:   "low OCR confidence",
		Priority: "high",
		Actor:    "agent-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	interrupt := decodeBody[models.Interrupt](t, resp)

	assert.Equal(t, models.InterruptStatusOpen, interrupt.Status)
	assert.Equal(t, models.PriorityHigh, interrupt.Priority)

	// The workflow reads as blocked while the interrupt is open.
	resp = env.request(t, http.MethodGet, "/workflows/wf-interrupt/status", nil)
	status := decodeBody[web.WorkflowStatusResponse](t, resp)
	assert.Equal(t, models.WorkflowStatusBlocked, status.Status)

	// The open interrupt shows up in the default listing.
	resp = env.request(t, http.MethodGet, "/interrupts/", nil)
	listing := decodeBody[struct {
		Interrupts []*models.Interrupt `json:"interrupts"`
	}](t, resp)
	require.Len(t, listing.Interrupts, 1)
	assert.Equal(t, interrupt.ID, listing.Interrupts[0].ID)

	// Resolve it back to automated execution.
	resp = env.request(t, http.MethodPost, "/interrupts/"+interrupt.ID+"/resolve", web.ResolveInterruptRequest{
		Outcome:    "resume",
		Notes:      "manually verified",
		ResolvedBy: "operator-5",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decodeBody[web.ResolveInterruptResponse](t, resp)

	assert.Equal(t, models.InterruptStatusResolved, resolved.Interrupt.Status)
	assert.Equal(t, models.TaskStatusInProgress, resolved.Task.Status)

	// A second resolution of the same interrupt conflicts.
	resp = env.request(t, http.MethodPost, "/interrupts/"+interrupt.ID+"/resolve", web.ResolveInterruptRequest{
		Outcome:    "resume",
		ResolvedBy: "operator-6",
	})

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_RetryTask(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	tasks, err := env.engine.ActivateWorkflow(context.Background(), "wf-retry", "document_processing", "", "api-test")
	require.NoError(t, err)

	intake := taskByType(t, tasks, "document_intake")

	_, err = env.engine.Transition(context.Background(), intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{Actor: "agent-1"})
	require.NoError(t, err)
	_, err = env.engine.Transition(context.Background(), intake.ID, models.TaskStatusFailed, engine.TransitionRequest{
		Actor:        "agent-1",
		ErrorMessage: "upstream timeout",
	})
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, "/tasks/"+intake.ID+"/retry", web.RetryTaskRequest{Actor: "operator-2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	retried := decodeBody[models.TaskExecution](t, resp)

	assert.Equal(t, models.TaskStatusNotStarted, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Empty(t, retried.ErrorMessage)
}

func TestAPIHandlers_CancelWorkflow(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	_, err := env.engine.ActivateWorkflow(context.Background(), "wf-cancel", "document_processing", "", "api-test")
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, "/workflows/wf-cancel/cancel", web.CancelWorkflowRequest{
		Reason: "order withdrawn",
		Actor:  "operator-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[web.CancelWorkflowResponse](t, resp)

	assert.Equal(t, 3, result.Cancelled)

	resp = env.request(t, http.MethodGet, "/workflows/wf-cancel/status", nil)
	status := decodeBody[web.WorkflowStatusResponse](t, resp)
	assert.Equal(t, models.WorkflowStatusBlocked, status.Status)
}

func TestAPIHandlers_Notifications(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	tasks, err := env.engine.ActivateWorkflow(context.Background(), "wf-notify", "document_processing", "operator-9", "api-test")
	require.NoError(t, err)

	intake := taskByType(t, tasks, "document_intake")

	_, err = env.engine.Transition(context.Background(), intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{Actor: "agent-1"})
	require.NoError(t, err)
	_, err = env.interrupts.Open(context.Background(), intake.ID, "needs review", models.PriorityMedium, "agent-1")
	require.NoError(t, err)

	resp := env.request(t, http.MethodGet, "/users/operator-9/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decodeBody[struct {
		Notifications []*models.Notification `json:"notifications"`
	}](t, resp)
	require.NotEmpty(t, listing.Notifications)

	types := make([]models.NotificationType, 0, len(listing.Notifications))
	for _, n := range listing.Notifications {
		types = append(types, n.Type)
	}

	assert.Contains(t, types, models.NotificationTypeInterruptOpened)

	resp = env.request(t, http.MethodPost, "/notifications/"+listing.Notifications[0].ID+"/read", nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/users/operator-9/notifications/read-all", nil)
	marked := decodeBody[web.MarkAllReadResponse](t, resp)
	assert.GreaterOrEqual(t, marked.Updated, int64(0))

	resp = env.request(t, http.MethodGet, "/users/operator-9/notifications?unread=true", nil)
	remaining := decodeBody[struct {
		Notifications []*models.Notification `json:"notifications"`
	}](t, resp)
	assert.Empty(t, remaining.Notifications)
}

func TestAPIHandlers_AuditTrail(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	tasks, err := env.engine.ActivateWorkflow(context.Background(), "wf-audit", "document_processing", "", "api-test")
	require.NoError(t, err)

	intake := taskByType(t, tasks, "document_intake")

	_, err = env.engine.Transition(context.Background(), intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{Actor: "agent-1"})
	require.NoError(t, err)

	resp := env.request(t, http.MethodGet, "/workflows/wf-audit/audit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	workflowAudit := decodeBody[struct {
		Events []*models.AuditEvent `json:"events"`
	}](t, resp)
	require.Len(t, workflowAudit.Events, 1)
	assert.Equal(t, models.AuditActionWorkflowActivated, workflowAudit.Events[0].Action)

	resp = env.request(t, http.MethodGet, "/tasks/"+intake.ID+"/audit", nil)
	taskAudit := decodeBody[struct {
		Events []*models.AuditEvent `json:"events"`
	}](t, resp)
	require.Len(t, taskAudit.Events, 1)
	assert.Equal(t, models.AuditActionTaskTransitioned, taskAudit.Events[0].Action)
	assert.Equal(t, "agent-1", taskAudit.Events[0].Actor)
}

func TestAPIHandlers_Templates(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp := env.request(t, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decodeBody[struct {
		WorkflowTypes []string `json:"workflow_types"`
	}](t, resp)

	assert.Contains(t, listing.WorkflowTypes, "document_processing")
	assert.Contains(t, listing.WorkflowTypes, "lien_processing")
	assert.Contains(t, listing.WorkflowTypes, "payoff_processing")

	resp = env.request(t, http.MethodGet, "/templates/lien_processing", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	template := decodeBody[models.WorkflowTemplate](t, resp)
	assert.Equal(t, "lien_processing", template.WorkflowType)
	assert.True(t, template.BusinessHoursOnly)

	resp = env.request(t, http.MethodGet, "/templates/unknown_processing", nil)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp := env.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	health := decodeBody[struct {
		Status string `json:"status"`
	}](t, resp)
	assert.Equal(t, "healthy", health.Status)
}

func taskByType(t *testing.T, tasks []*models.TaskExecution, taskType string) *models.TaskExecution {
	t.Helper()

	for _, task := range tasks {
		if task.TaskType == taskType {
			return task
		}
	}

	t.Fatalf("no task of type %s", taskType)

	return nil
}
