// Package orchestrator delivers resume signals back to the orchestration
// engine that runs the AI agents.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/titleworks/lientrack/pkg/persistence"
)

// PermanentError indicates the orchestration engine rejected the resume
// signal; retrying will not help.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("orchestrator rejected resume signal with status %d: %s", e.StatusCode, e.Body)
}

// Client calls the orchestration engine's resume endpoint.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates an orchestrator client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("module", "orchestrator_client"),
	}
}

type resumePayload struct {
	TaskID       string `json:"task_id"`
	WorkflowID   string `json:"workflow_id"`
	ResolutionID string `json:"resolution_id"`
}

// Resume posts the resume signal. A 2xx response means delivered; a 4xx
// response is a PermanentError; anything else is transient and retryable.
func (c *Client) Resume(ctx context.Context, signal *persistence.ResumeSignal) error {
	payload, err := json.Marshal(resumePayload{
		TaskID:       signal.TaskID,
		WorkflowID:   signal.WorkflowID,
		ResolutionID: signal.ResolutionID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal resume payload: %w", err)
	}

	url := fmt.Sprintf("%s/tasks/%s/resume", c.baseURL, signal.TaskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create resume request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", signal.ResolutionID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("resume request failed: %w", err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &PermanentError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return fmt.Errorf("orchestrator returned status %d: %s", resp.StatusCode, string(body))
}
