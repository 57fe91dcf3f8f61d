package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artisanmarket/callcenter/internal/auth"
	"github.com/artisanmarket/callcenter/internal/signaling"
	"github.com/artisanmarket/callcenter/internal/store"
	"github.com/artisanmarket/callcenter/internal/types"
)

// startCallRequest is the JSON body for POST /api/calls
type startCallRequest struct {
	CalleeID       string     `json:"calleeId"`
	CalleeRole     types.Role `json:"calleeRole"`
	SDP            string     `json:"sdp"`
	ExistingCallID string     `json:"existingCallId,omitempty"`
}

// StartCall handles POST /api/calls
func (h *Handler) StartCall(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req startCallRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CalleeID == "" && req.ExistingCallID == "" {
		http.Error(w, "calleeId or existingCallId is required", http.StatusBadRequest)
		return
	}

	call, err := h.coordinator.StartCall(r.Context(), claims.UserID, claims.Role, req.CalleeID, req.CalleeRole, req.SDP, req.ExistingCallID)
	if err != nil {
		h.writeCallError(w, err, "start call failed")
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

// answerRequest is the JSON body for POST /api/calls/{callId}/answer
type answerRequest struct {
	SDP string `json:"sdp"`
}

// answerResponse distinguishes a connected call from a credit-blocked one.
// Insufficient balance is an expected outcome, not an error.
type answerResponse struct {
	Call                *types.Call `json:"call"`
	InsufficientBalance bool        `json:"insufficientBalance,omitempty"`
}

// AnswerCall handles POST /api/calls/{callId}/answer. Only the callee may
// answer.
func (h *Handler) AnswerCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	claims, ok := auth.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	current, err := h.coordinator.GetCall(r.Context(), callID)
	if err != nil {
		h.writeCallError(w, err, "load call failed")
		return
	}
	if current.CalleeID != claims.UserID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	call, insufficient, err := h.coordinator.Answer(r.Context(), callID, req.SDP)
	if err != nil {
		h.writeCallError(w, err, "answer failed")
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Call: call, InsufficientBalance: insufficient})
}

// RejectCall handles POST /api/calls/{callId}/reject. Only the callee may
// decline.
func (h *Handler) RejectCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	claims, ok := auth.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	current, err := h.coordinator.GetCall(r.Context(), callID)
	if err != nil {
		h.writeCallError(w, err, "load call failed")
		return
	}
	if current.CalleeID != claims.UserID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	call, err := h.coordinator.Reject(r.Context(), callID)
	if err != nil {
		h.writeCallError(w, err, "reject failed")
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// Hangup handles POST /api/calls/{callId}/hangup. Either participant may
// end the call; everyone else gets a 403.
func (h *Handler) Hangup(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	claims, ok := auth.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	current, err := h.coordinator.GetCall(r.Context(), callID)
	if err != nil {
		h.writeCallError(w, err, "load call failed")
		return
	}
	var side types.CallSide
	switch claims.UserID {
	case current.CallerID:
		side = types.SideCaller
	case current.CalleeID:
		side = types.SideCallee
	default:
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	call, err := h.coordinator.Hangup(r.Context(), callID, side)
	if err != nil {
		h.writeCallError(w, err, "hangup failed")
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// candidateRequest is the JSON body for POST /api/calls/{callId}/candidates
type candidateRequest struct {
	Candidate string `json:"candidate"`
}

// AddCandidate handles POST /api/calls/{callId}/candidates
func (h *Handler) AddCandidate(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	claims, ok := auth.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req candidateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	current, err := h.coordinator.GetCall(r.Context(), callID)
	if err != nil {
		h.writeCallError(w, err, "load call failed")
		return
	}
	if claims.UserID != current.CallerID && claims.UserID != current.CalleeID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if err := h.coordinator.AddCandidate(r.Context(), callID, claims.UserID, req.Candidate); err != nil {
		h.writeCallError(w, err, "candidate relay failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "relayed"})
}

// GetCall handles GET /api/calls/{callId}
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	call, err := h.coordinator.GetCall(r.Context(), callID)
	if err != nil {
		h.writeCallError(w, err, "load call failed")
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (h *Handler) writeCallError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "unknown call", http.StatusNotFound)
	case errors.Is(err, signaling.ErrCallActive):
		http.Error(w, "identity already has an active call", http.StatusConflict)
	case errors.Is(err, signaling.ErrBadState):
		http.Error(w, "call state does not allow this operation", http.StatusConflict)
	default:
		h.logger.Error().Err(err).Msg(logMsg)
		http.Error(w, "operation failed", http.StatusBadGateway)
	}
}
