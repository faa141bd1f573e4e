// ABOUTME: HTTP API handlers for the worker directory and task dispatch.
// ABOUTME: Maps domain errors onto status codes; all bodies are JSON.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/fleet-coordinator/internal/dispatch"
	"github.com/2389/fleet-coordinator/internal/history"
	"github.com/2389/fleet-coordinator/internal/invoke"
	"github.com/2389/fleet-coordinator/internal/registry"
)

// WorkerResponse is the JSON shape of a worker record.
type WorkerResponse struct {
	Name        string             `json:"name"`
	Slug        string             `json:"slug"`
	Namespace   string             `json:"namespace"`
	Status      string             `json:"status,omitempty"`
	URL         string             `json:"url,omitempty"`
	Local       bool               `json:"local"`
	TeamBias    float64            `json:"team_bias"`
	Connections []string           `json:"connections,omitempty"`
	LastTask    *registry.LastTask `json:"last_task,omitempty"`
}

// RegisterWorkerRequest is the JSON request body for POST /api/workers.
// Workers registered over the API are remote; local workers are bound
// in-process through their TaskHandler at startup.
type RegisterWorkerRequest struct {
	Name        string   `json:"name"`
	Namespace   string   `json:"namespace,omitempty"`
	URL         string   `json:"url,omitempty"`
	TeamBias    float64  `json:"team_bias,omitempty"`
	Connections []string `json:"connections,omitempty"`
}

// DispatchRequest is the JSON request body for POST /api/dispatch.
type DispatchRequest struct {
	Slug string `json:"slug"`
	Task string `json:"task"`
}

// DispatchNamespaceRequest is the JSON request body for POST /api/dispatch/namespace.
type DispatchNamespaceRequest struct {
	Namespace string `json:"namespace"`
	Task      string `json:"task"`
	Mode      string `json:"mode,omitempty"` // task, team_think, brainstorm
}

// DispatchNamespaceResponse is the JSON response for POST /api/dispatch/namespace.
type DispatchNamespaceResponse struct {
	Namespace string                  `json:"namespace"`
	Mode      string                  `json:"mode"`
	Results   []dispatch.WorkerResult `json:"results"`
}

// ConnectionsResponse is one worker's entry in GET /api/connections.
// Connections referencing deleted workers are pruned from the response.
type ConnectionsResponse struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Namespace   string   `json:"namespace"`
	Connections []string `json:"connections"`
}

// HistoryResponse is the JSON response for GET /api/history.
type HistoryResponse struct {
	Worker  string           `json:"worker"`
	Records []history.Record `json:"records"`
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		reg, err := s.registry.Load()
		if err != nil {
			s.sendError(w, err)
			return
		}
		namespace := r.URL.Query().Get("namespace")
		workers := reg.Workers(owner)
		response := make([]WorkerResponse, 0, len(workers))
		for _, rec := range workers {
			if namespace != "" && rec.Namespace != namespace {
				continue
			}
			response = append(response, workerResponse(rec))
		}
		s.sendJSON(w, http.StatusOK, response)

	case http.MethodPost:
		var req RegisterWorkerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			s.sendJSONError(w, http.StatusBadRequest, "name is required")
			return
		}
		if req.TeamBias < 0 || req.TeamBias > 1 {
			s.sendJSONError(w, http.StatusBadRequest, "team_bias must be between 0 and 1")
			return
		}
		rec, err := s.orch.RegisterWorker(r.Context(), dispatch.RegisterWorkerParams{
			Owner:       owner,
			Name:        req.Name,
			Namespace:   req.Namespace,
			URL:         req.URL,
			TeamBias:    req.TeamBias,
			Connections: req.Connections,
		})
		if err != nil {
			s.sendError(w, err)
			return
		}
		s.sendJSON(w, http.StatusCreated, workerResponse(rec))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleWorkerBySlug handles /api/workers/{slug} and /api/workers/{slug}/webhook.
func (s *Server) handleWorkerBySlug(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/workers/")
	slug, sub, _ := strings.Cut(rest, "/")
	if slug == "" {
		s.sendJSONError(w, http.StatusNotFound, "missing worker slug")
		return
	}

	if sub == "webhook" {
		s.handleWebhookProxy(w, r, slug)
		return
	}
	if sub != "" {
		s.sendJSONError(w, http.StatusNotFound, "unknown resource")
		return
	}

	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		reg, err := s.registry.Load()
		if err != nil {
			s.sendError(w, err)
			return
		}
		rec, err := reg.Worker(owner, slug)
		if err != nil {
			s.sendError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, workerResponse(rec))

	case http.MethodDelete:
		if err := s.orch.DeleteWorker(r.Context(), owner, slug); err != nil {
			s.sendError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]string{"deleted": slug})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleWebhookProxy handles POST /api/workers/{slug}/webhook. It accepts the
// inbound envelope a live frontend would deliver and forwards the task text to
// the worker. No owner header here: the upstream webhook caller has none.
func (s *Server) handleWebhookProxy(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "reading body")
		return
	}
	var envelope invoke.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid envelope")
		return
	}

	// Replayed deliveries get a 200 so the sender stops retrying, but the
	// task must not run twice. Failed deliveries are forgotten again so the
	// retry is not swallowed as a replay.
	key := deliveryKey(slug, envelope.Message.MessageID)
	if s.deliveries.checkAndMark(key) {
		s.logger.Debug("duplicate webhook delivery", "worker", slug, "message_id", envelope.Message.MessageID)
		s.sendJSON(w, http.StatusOK, map[string]bool{"duplicate": true})
		return
	}

	res, err := s.orch.HandleWebhook(r.Context(), slug, envelope.Message.Text)
	if err != nil {
		s.deliveries.forget(key)
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		reg, err := s.registry.Load()
		if err != nil {
			s.sendError(w, err)
			return
		}
		namespaces := reg.Namespaces(owner)
		if namespaces == nil {
			namespaces = []string{}
		}
		s.sendJSON(w, http.StatusOK, namespaces)

	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			s.sendJSONError(w, http.StatusBadRequest, "name is required")
			return
		}
		if err := s.orch.CreateNamespace(r.Context(), owner, req.Name); err != nil {
			s.sendError(w, err)
			return
		}
		s.sendJSON(w, http.StatusCreated, map[string]string{"namespace": strings.TrimSpace(req.Name)})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleNamespaceByName(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/namespaces/")
	if name == "" {
		s.sendJSONError(w, http.StatusNotFound, "missing namespace name")
		return
	}

	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.orch.DeleteNamespace(r.Context(), owner, name); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Slug == "" || req.Task == "" {
		s.sendJSONError(w, http.StatusBadRequest, "slug and task are required")
		return
	}

	res, err := s.orch.DispatchOne(r.Context(), owner, req.Slug, req.Task)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleDispatchNamespace(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req DispatchNamespaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Namespace == "" || req.Task == "" {
		s.sendJSONError(w, http.StatusBadRequest, "namespace and task are required")
		return
	}

	mode := dispatch.ParseMode(req.Mode)
	var results []dispatch.WorkerResult
	var err error
	switch mode {
	case dispatch.ModeTeamThink:
		results, err = s.orch.TeamThink(r.Context(), owner, req.Namespace, req.Task)
	case dispatch.ModeBrainstorm:
		results, err = s.orch.Brainstorm(r.Context(), owner, req.Namespace, req.Task)
	default:
		results, err = s.orch.DispatchNamespace(r.Context(), owner, req.Namespace, req.Task)
	}
	if err != nil {
		s.sendError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, DispatchNamespaceResponse{
		Namespace: req.Namespace,
		Mode:      string(mode),
		Results:   results,
	})
}

// handleHistory handles GET /api/history?slug=X&limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	slug := r.URL.Query().Get("slug")
	if slug == "" {
		s.sendJSONError(w, http.StatusBadRequest, "slug is required")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	reg, err := s.registry.Load()
	if err != nil {
		s.sendError(w, err)
		return
	}
	rec, err := reg.Worker(owner, slug)
	if err != nil {
		s.sendError(w, err)
		return
	}

	records := []history.Record{}
	if rec.Path != "" {
		records = s.history.Tail(rec.Path, limit)
	}
	s.sendJSON(w, http.StatusOK, HistoryResponse{Worker: slug, Records: records})
}

// handleConnections handles GET /api/connections, returning the owner's
// worker graph with connections to deleted workers pruned.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	reg, err := s.registry.Load()
	if err != nil {
		s.sendError(w, err)
		return
	}

	workers := reg.Workers(owner)
	valid := make(map[string]bool, len(workers))
	for _, rec := range workers {
		valid[rec.Slug] = true
	}

	response := make([]ConnectionsResponse, 0, len(workers))
	for _, rec := range workers {
		conns := []string{}
		for _, c := range rec.Connections {
			if valid[c] {
				conns = append(conns, c)
			}
		}
		response = append(response, ConnectionsResponse{
			Slug:        rec.Slug,
			Name:        rec.Name,
			Namespace:   rec.Namespace,
			Connections: conns,
		})
	}
	s.sendJSON(w, http.StatusOK, response)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	removed, err := s.orch.Cleanup(r.Context(), owner)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// owner extracts the caller's owner id. A missing header is a 401; the
// authentication layer that issues the header lives in front of this service.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if owner == "" {
		s.sendJSONError(w, http.StatusUnauthorized, fmt.Sprintf("%s header is required", OwnerHeader))
		return "", false
	}
	return owner, true
}

// sendError maps domain errors onto HTTP status codes.
func (s *Server) sendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrAccessDenied):
		s.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, registry.ErrDuplicateSlug), errors.Is(err, registry.ErrNamespaceNotEmpty):
		s.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, invoke.ErrNoRoute):
		s.sendJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func workerResponse(rec *registry.Record) WorkerResponse {
	return WorkerResponse{
		Name:        rec.Name,
		Slug:        rec.Slug,
		Namespace:   rec.Namespace,
		Status:      rec.Status,
		URL:         rec.URL,
		Local:       rec.Path != "",
		TeamBias:    rec.TeamBias,
		Connections: rec.Connections,
		LastTask:    rec.LastTask,
	}
}
