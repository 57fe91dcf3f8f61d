package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artisanmarket/callcenter/internal/auth"
	"github.com/artisanmarket/callcenter/internal/presence"
	"github.com/artisanmarket/callcenter/internal/store"
	"github.com/artisanmarket/callcenter/internal/types"
)

// registerAgentRequest is the JSON body for POST /api/agents
type registerAgentRequest struct {
	ID     string     `json:"id"`
	Role   types.Role `json:"role"`
	Queues []string   `json:"queues"`
}

// RegisterAgent handles POST /api/agents (administrative)
func (h *Handler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	agent := types.Agent{ID: req.ID, Role: req.Role, Queues: req.Queues}
	if err := h.presence.Register(r.Context(), agent); err != nil {
		h.logger.Error().Err(err).Str("agent_id", req.ID).Msg("failed to register agent")
		http.Error(w, "failed to register agent", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// presenceRequest is the JSON body for PUT /api/agents/{agentId}/presence
type presenceRequest struct {
	Presence types.Presence `json:"presence"`
}

// SetPresence handles PUT /api/agents/{agentId}/presence. Agents toggle
// their own presence; admins may toggle anyone's.
func (h *Handler) SetPresence(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	claims, ok := auth.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if claims.UserID != agentID && claims.Role != types.RoleAdmin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req presenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var err error
	switch req.Presence {
	case types.PresenceOnline:
		err = h.presence.SetOnline(r.Context(), agentID)
	case types.PresenceOffline:
		err = h.presence.SetOffline(r.Context(), agentID)
	default:
		http.Error(w, "presence must be online or offline", http.StatusBadRequest)
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, presence.ErrAgentBusy):
			http.Error(w, "agent is on a call", http.StatusConflict)
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "unknown agent", http.StatusNotFound)
		default:
			h.logger.Error().Err(err).Str("agent_id", agentID).Msg("presence toggle failed")
			http.Error(w, "presence toggle failed", http.StatusBadGateway)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"agentId":  agentID,
		"presence": string(req.Presence),
	})
}

// GetAgent handles GET /api/agents/{agentId}
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	agent, err := h.store.GetAgent(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown agent", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load agent", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// balanceRequest is the JSON body for PUT /api/balances/{userId}
type balanceRequest struct {
	Units int64 `json:"units"`
}

// SetBalance handles PUT /api/balances/{userId} (administrative top-up)
func (h *Handler) SetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	var req balanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Units < 0 {
		http.Error(w, "units must be non-negative", http.StatusBadRequest)
		return
	}

	balance := types.Balance{UserID: userID, Units: req.Units}
	if err := h.store.PutBalance(r.Context(), balance); err != nil {
		http.Error(w, "failed to set balance", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// GetBalance handles GET /api/balances/{userId}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	balance, err := h.store.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no balance record", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load balance", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}
