package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/artisanmarket/callcenter/internal/presence"
	"github.com/artisanmarket/callcenter/internal/queueing"
	"github.com/artisanmarket/callcenter/internal/signaling"
	"github.com/artisanmarket/callcenter/internal/store"
)

// Handler provides the REST endpoints over the queueing, presence and
// signaling components
type Handler struct {
	engine      *queueing.Engine
	presence    *presence.Manager
	coordinator *signaling.Coordinator
	store       store.Store
	logger      zerolog.Logger
}

// NewHandler creates a new API handler
func NewHandler(engine *queueing.Engine, pm *presence.Manager, coord *signaling.Coordinator, st store.Store, logger zerolog.Logger) *Handler {
	return &Handler{
		engine:      engine,
		presence:    pm,
		coordinator: coord,
		store:       st,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}
