package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artisanmarket/callcenter/internal/auth"
	"github.com/artisanmarket/callcenter/internal/metrics"
	"github.com/artisanmarket/callcenter/internal/store"
	"github.com/artisanmarket/callcenter/internal/types"
)

// enqueueRequest is the JSON body for POST /api/queues/{slug}/enqueue
type enqueueRequest struct {
	Channel     string `json:"channel,omitempty"`
	CallerName  string `json:"callerName,omitempty"`
	CallerPhone string `json:"callerPhone,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Enqueue handles POST /api/queues/{slug}/enqueue
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	claims, ok := auth.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req enqueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	source := types.SourceDescriptor{
		CallerID:    claims.UserID,
		CallerRole:  claims.Role,
		Channel:     req.Channel,
		CallerName:  req.CallerName,
		CallerPhone: req.CallerPhone,
		Message:     req.Message,
	}

	assignment, err := h.engine.Enqueue(r.Context(), slug, source)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown queue", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("queue", slug).Msg("enqueue failed")
		// The assignment, if created, stays queued for caller-side retry
		http.Error(w, "enqueue failed, retry later", http.StatusBadGateway)
		return
	}

	metrics.Get().RecordEnqueue(assignment.Status)
	writeJSON(w, http.StatusCreated, assignment)
}

// createQueueRequest is the JSON body for POST /api/queues
type createQueueRequest struct {
	Slug     string   `json:"slug"`
	Name     string   `json:"name"`
	AgentIDs []string `json:"agentIds"`
}

// CreateQueue handles POST /api/queues (administrative)
func (h *Handler) CreateQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Slug == "" || req.Name == "" {
		http.Error(w, "slug and name are required", http.StatusBadRequest)
		return
	}

	queue := types.Queue{Slug: req.Slug, Name: req.Name, AgentIDs: req.AgentIDs}
	if err := h.store.PutQueue(r.Context(), queue); err != nil {
		h.logger.Error().Err(err).Str("queue", req.Slug).Msg("failed to create queue")
		http.Error(w, "failed to create queue", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, queue)
}

// GetQueue handles GET /api/queues/{slug}
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	queue, err := h.store.GetQueue(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown queue", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load queue", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

// updateMembersRequest is the JSON body for PUT /api/queues/{slug}/agents
type updateMembersRequest struct {
	AgentIDs []string `json:"agentIds"`
}

// UpdateQueueAgents handles PUT /api/queues/{slug}/agents. Queues are
// immutable except for membership.
func (h *Handler) UpdateQueueAgents(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req updateMembersRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	queue, err := h.store.GetQueue(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown queue", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load queue", http.StatusBadGateway)
		return
	}

	queue.AgentIDs = req.AgentIDs
	if err := h.store.PutQueue(r.Context(), *queue); err != nil {
		http.Error(w, "failed to update queue", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}
