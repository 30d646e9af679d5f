// Package server is a thin HTTP facade over the orchestrator and the
// dependency graph engine. It maps routes to core calls and error kinds to
// status codes; no business logic lives here. Webhook signature verification
// happens upstream; this layer receives already-verified events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/arlo/taskdeck/internal/depgraph"
	"github.com/arlo/taskdeck/internal/lifecycle"
	"github.com/arlo/taskdeck/internal/task"
)

// Server exposes the core over HTTP.
type Server struct {
	orch   *lifecycle.Orchestrator
	graph  *depgraph.Engine
	log    *slog.Logger
	server *http.Server
}

// NewServer creates a Server.
func NewServer(orch *lifecycle.Orchestrator, graph *depgraph.Engine, logger *slog.Logger) *Server {
	return &Server{orch: orch, graph: graph, log: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/tasks", s.handleCreate)
	mux.HandleFunc("GET /api/tasks", s.handleList)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleCancel)
	mux.HandleFunc("POST /api/tasks/{id}/clarify", s.handleClarify)
	mux.HandleFunc("POST /api/tasks/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /api/tasks/{id}/dependencies", s.handleAddDependency)
	mux.HandleFunc("GET /api/tasks/{id}/dependencies", s.handleGetDependencies)
	mux.HandleFunc("DELETE /api/tasks/{id}/dependencies/{depID}", s.handleRemoveDependency)
	mux.HandleFunc("GET /api/tasks/{id}/dependents", s.handleGetDependents)
	mux.HandleFunc("GET /api/graph/validate", s.handleValidateGraph)
	mux.HandleFunc("POST /webhooks/github", s.handleWebhook)

	return mux
}

// Start begins serving on addr and blocks until the listener closes.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input lifecycle.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	res, err := s.orch.Create(r.Context(), input)
	s.respond(w, res, err, http.StatusCreated)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.orch.ListTasks(r.Context())
	s.respond(w, tasks, err, http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.GetTask(r.Context(), r.PathValue("id"))
	s.respond(w, t, err, http.StatusOK)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.orch.Cancel(r.Context(), r.PathValue("id"))
	s.respond(w, map[string]string{"status": "cancelled"}, err, http.StatusOK)
}

func (s *Server) handleClarify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Answers []string `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	res, err := s.orch.Clarify(r.Context(), r.PathValue("id"), body.Answers)
	s.respond(w, res, err, http.StatusOK)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Retry(r.Context(), r.PathValue("id"))
	s.respond(w, res, err, http.StatusOK)
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var spec depgraph.DependencySpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	dep, err := s.graph.AddDependency(r.Context(), r.PathValue("id"), spec)
	s.respond(w, dep, err, http.StatusCreated)
}

func (s *Server) handleGetDependencies(w http.ResponseWriter, r *http.Request) {
	list, err := s.graph.GetDependencies(r.Context(), r.PathValue("id"))
	s.respond(w, list, err, http.StatusOK)
}

func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	err := s.graph.RemoveDependency(r.Context(), r.PathValue("id"), r.PathValue("depID"))
	s.respond(w, map[string]string{"status": "removed"}, err, http.StatusOK)
}

func (s *Server) handleGetDependents(w http.ResponseWriter, r *http.Request) {
	dependents, err := s.graph.GetDependents(r.Context(), r.PathValue("id"))
	s.respond(w, dependents, err, http.StatusOK)
}

func (s *Server) handleValidateGraph(w http.ResponseWriter, r *http.Request) {
	order, err := s.graph.ValidateGraph(r.Context())
	s.respond(w, map[string]any{"order": order}, err, http.StatusOK)
}

// webhookPayload is the pre-verified event shape handed in by the webhook
// pre-check layer.
type webhookPayload struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	PRNumber int    `json:"pr_number,omitempty"`
	PRURL    string `json:"pr_url,omitempty"`
	PRStatus string `json:"pr_status,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	status := task.Status(payload.Status)
	if !status.IsValid() {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	err := s.orch.OnExternalStatusEvent(r.Context(), payload.TaskID, status, lifecycle.ExternalEvent{
		PRNumber: payload.PRNumber,
		PRURL:    payload.PRURL,
		PRStatus: payload.PRStatus,
	})
	s.respond(w, map[string]string{"status": "ok"}, err, http.StatusOK)
}

// respond writes data as JSON, or maps the error to a status code.
func (s *Server) respond(w http.ResponseWriter, data any, err error, okStatus int) {
	if err != nil {
		code := statusCode(err)
		if code >= http.StatusInternalServerError {
			// Collaborator failures: generic message outward, precise
			// reason lives in the task's error_message field.
			s.log.Error("request failed", "error", err)
			http.Error(w, "internal error", code)
			return
		}
		http.Error(w, err.Error(), code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(okStatus)
	json.NewEncoder(w).Encode(data)
}

// statusCode maps core error kinds to HTTP status codes.
func statusCode(err error) int {
	var (
		invalidTransition *task.InvalidTransitionError
		invalidState      *task.InvalidStateError
		missingField      *task.MissingFieldError
		collaborator      *task.CollaboratorError
	)

	switch {
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrDuplicateDependency):
		return http.StatusConflict
	case errors.Is(err, task.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, task.ErrCircularDependency):
		return http.StatusUnprocessableEntity
	case errors.As(err, &invalidTransition), errors.As(err, &invalidState):
		return http.StatusConflict
	case errors.As(err, &missingField):
		return http.StatusBadRequest
	case errors.As(err, &collaborator):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
