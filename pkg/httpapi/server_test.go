package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/engine"
	"github.com/flowforge/flowforge/pkg/events"
	"github.com/flowforge/flowforge/pkg/flowlog"
	"github.com/flowforge/flowforge/pkg/saga"
	"github.com/flowforge/flowforge/pkg/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := flowlog.NewTestLogger()
	reg := saga.NewRegistry()
	require.NoError(t, reg.Register(saga.WorkflowDefinition{
		Type: "order",
		Steps: []saga.StepDefinition{
			{Name: "validateOrder", Topic: "flowforge.step.validateOrder"},
		},
	}))
	bus := events.NewBus(logger)
	st := store.New(store.NewMemory())
	eng := engine.New(reg, st, bus, logger)
	return NewServer(eng, st, logger)
}

func TestStartWorkflowReturns201(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(startWorkflowRequest{Type: "order", Input: saga.Context{"orderId": "o1"}})

	req := httptest.NewRequest(http.MethodPost, "/workflows/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp startWorkflowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.WorkflowID)
	assert.Equal(t, "order", resp.Type)
}

func TestStartWorkflowMissingTypeReturns400(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(startWorkflowRequest{})

	req := httptest.NewRequest(http.MethodPost, "/workflows/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListWorkflowsReturnsSortedByCreatedAtDescending(t *testing.T) {
	s := newTestServer(t)
	_, err := s.store.CreateWorkflow(context.Background(), "wf1", "order", "validateOrder", nil)
	require.NoError(t, err)
	_, err = s.store.CreateWorkflow(context.Background(), "wf2", "order", "validateOrder", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/workflows", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listWorkflowsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Workflows, 2)
	assert.Equal(t, "wf2", resp.Workflows[0].ID)
	assert.Equal(t, "wf1", resp.Workflows[1].ID)
}

func TestGetWorkflowUnknownReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/workflows/nope", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetWorkflowReturnsHistory(t *testing.T) {
	s := newTestServer(t)
	_, err := s.store.CreateWorkflow(context.Background(), "wf1", "order", "validateOrder", saga.Context{"orderId": "o1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/workflows/wf1", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp getWorkflowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Workflow)
	assert.Equal(t, "wf1", resp.Workflow.ID)
}

func TestSignalWorkflowResumesWaitingWorkflow(t *testing.T) {
	s := newTestServer(t)
	_, err := s.store.CreateWorkflow(context.Background(), "wf1", "order", "validateOrder", saga.Context{})
	require.NoError(t, err)
	require.NoError(t, s.engine.PauseWorkflow(context.Background(), "wf1", "manual-review"))

	body, _ := json.Marshal(signalWorkflowRequest{Signal: "approved"})
	req := httptest.NewRequest(http.MethodPost, "/workflows/wf1/signal", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	wf, err := s.store.GetWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowRunning, wf.Status)
}
