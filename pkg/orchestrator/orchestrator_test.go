package orchestrator_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/orchestrator"
	"github.com/titleworks/lientrack/pkg/persistence"
	"github.com/titleworks/lientrack/pkg/persistence/memory"
)

func newSignal(createdAt time.Time) *persistence.ResumeSignal {
	return &persistence.ResumeSignal{
		ID:           uuid.New().String(),
		TaskID:       uuid.New().String(),
		WorkflowID:   uuid.New().String(),
		ResolutionID: uuid.New().String(),
		CreatedAt:    createdAt,
	}
}

func TestClient_Resume(t *testing.T) {
	var gotPath, gotIdempotencyKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := orchestrator.NewClient(server.URL, time.Second, nil)
	signal := newSignal(time.Now().UTC())

	err := client.Resume(context.Background(), signal)
	require.NoError(t, err)
	assert.Equal(t, "/tasks/"+signal.TaskID+"/resume", gotPath)
	assert.Equal(t, signal.ResolutionID, gotIdempotencyKey)
}

func TestClient_Resume_PermanentOn4xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown task", http.StatusNotFound)
	}))
	defer server.Close()

	client := orchestrator.NewClient(server.URL, time.Second, nil)

	err := client.Resume(context.Background(), newSignal(time.Now().UTC()))
	require.Error(t, err)

	var permanent *orchestrator.PermanentError

	require.ErrorAs(t, err, &permanent)
	assert.Equal(t, http.StatusNotFound, permanent.StatusCode)
}

func TestClient_Resume_TransientOn5xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := orchestrator.NewClient(server.URL, time.Second, nil)

	err := client.Resume(context.Background(), newSignal(time.Now().UTC()))
	require.Error(t, err)

	var permanent *orchestrator.PermanentError

	assert.False(t, errors.As(err, &permanent))
}

type fakeDeliverer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeDeliverer) Resume(_ context.Context, _ *persistence.ResumeSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	return f.err
}

type fakeEscalator struct {
	taskIDs []string
	reasons []string
}

func (f *fakeEscalator) Escalate(_ context.Context, taskID, reason string) (*models.Interrupt, error) {
	f.taskIDs = append(f.taskIDs, taskID)
	f.reasons = append(f.reasons, reason)

	return &models.Interrupt{ID: uuid.New().String(), TaskID: taskID}, nil
}

func TestDispatchOnce_DeliversAndRetires(t *testing.T) {
	p := memory.NewPersistence()
	ctx := context.Background()

	signal := newSignal(time.Now().UTC().Add(-time.Minute))
	require.NoError(t, p.ResumeSignals().Create(ctx, signal))

	deliverer := &fakeDeliverer{}
	dispatcher := orchestrator.NewDispatcher(nil, p, deliverer, nil)

	stats, err := dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)

	pending, err := p.ResumeSignals().ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatchOnce_TransientFailureBacksOff(t *testing.T) {
	p := memory.NewPersistence()
	ctx := context.Background()

	signal := newSignal(time.Now().UTC().Add(-time.Minute))
	require.NoError(t, p.ResumeSignals().Create(ctx, signal))

	deliverer := &fakeDeliverer{err: errors.New("connection refused")}
	dispatcher := orchestrator.NewDispatcher(nil, p, deliverer, nil)

	stats, err := dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)

	// The signal stays queued with the failure recorded.
	pending, err := p.ResumeSignals().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "connection refused")

	// The next pass is inside the backoff window and skips it.
	stats, err = dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Retried)
	assert.Equal(t, 0, stats.Delivered)
	assert.Equal(t, 1, deliverer.calls)
}

func TestDispatchOnce_PermanentFailureEscalates(t *testing.T) {
	p := memory.NewPersistence()
	ctx := context.Background()

	signal := newSignal(time.Now().UTC().Add(-time.Minute))
	require.NoError(t, p.ResumeSignals().Create(ctx, signal))

	deliverer := &fakeDeliverer{err: &orchestrator.PermanentError{StatusCode: 404, Body: "unknown task"}}
	escalator := &fakeEscalator{}
	dispatcher := orchestrator.NewDispatcher(nil, p, deliverer, escalator)

	stats, err := dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Escalated)

	require.Len(t, escalator.taskIDs, 1)
	assert.Equal(t, signal.TaskID, escalator.taskIDs[0])

	// Escalated signals leave the queue; the interrupt owns follow-up.
	pending, err := p.ResumeSignals().ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
