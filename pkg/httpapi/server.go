// Package httpapi is the thin HTTP adapter (spec component C7, outside
// the core per spec §1): it translates the four routes spec §6 defines
// into calls against the engine and store, and otherwise holds no
// orchestration logic of its own.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flowforge/flowforge/pkg/engine"
	"github.com/flowforge/flowforge/pkg/flowlog"
	"github.com/flowforge/flowforge/pkg/mcperrors"
	"github.com/flowforge/flowforge/pkg/saga"
	"github.com/flowforge/flowforge/pkg/store"
)

// Server wires the four FlowForge HTTP routes onto a gorilla/mux router.
type Server struct {
	engine *engine.Engine
	store  *store.Store
	logger flowlog.Logger
	router *mux.Router
}

// NewServer builds a Server and registers its routes.
func NewServer(eng *engine.Engine, st *store.Store, logger flowlog.Logger) *Server {
	s := &Server{engine: eng, store: st, logger: logger.With("component", "httpapi.Server"), router: mux.NewRouter()}
	s.routes()
	return s
}

// Router returns the underlying http.Handler for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.HandleFunc("/workflows/start", s.startWorkflow).Methods(http.MethodPost)
	s.router.HandleFunc("/workflows", s.listWorkflows).Methods(http.MethodGet)
	s.router.HandleFunc("/workflows/{id}", s.getWorkflow).Methods(http.MethodGet)
	s.router.HandleFunc("/workflows/{id}/signal", s.signalWorkflow).Methods(http.MethodPost)
}

type envelope struct {
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Error: message})
}

func statusForError(err error) int {
	switch {
	case mcperrors.IsCategory(err, mcperrors.CategoryValidation):
		return http.StatusBadRequest
	case mcperrors.IsCategory(err, mcperrors.CategoryNotFound):
		return http.StatusNotFound
	case mcperrors.IsCategory(err, mcperrors.CategoryConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type startWorkflowRequest struct {
	Type  string       `json:"type"`
	Input saga.Context `json:"input"`
}

type startWorkflowResponse struct {
	WorkflowID string `json:"workflowId"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	wf, err := s.engine.StartWorkflow(r.Context(), engine.StartRequest{Type: req.Type, Input: req.Input})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, startWorkflowResponse{
		WorkflowID: wf.ID,
		Type:       wf.Type,
		Status:     string(wf.Status),
		Message:    "workflow started",
	})
}

type listWorkflowsResponse struct {
	Workflows []store.Workflow `json:"workflows"`
	Count     int              `json:"count"`
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.store.ListWorkflows(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listWorkflowsResponse{Workflows: workflows, Count: len(workflows)})
}

type getWorkflowResponse struct {
	Workflow      *store.Workflow            `json:"workflow"`
	Steps         []store.StepExecution      `json:"steps"`
	Compensations []store.CompensationRecord `json:"compensations"`
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	hist, err := s.store.GetWorkflowHistory(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, getWorkflowResponse{
		Workflow:      hist.Workflow,
		Steps:         hist.Steps,
		Compensations: hist.Compensations,
	})
}

type signalWorkflowRequest struct {
	Signal  string       `json:"signal"`
	Payload saga.Context `json:"payload,omitempty"`
}

func (s *Server) signalWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req signalWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Signal == "" {
		writeError(w, http.StatusBadRequest, "signal is required")
		return
	}

	if err := s.engine.ResumeWorkflow(r.Context(), id, req.Signal, req.Payload); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, envelope{})
}
