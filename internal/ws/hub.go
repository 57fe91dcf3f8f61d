package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artisanmarket/callcenter/internal/metrics"
	"github.com/artisanmarket/callcenter/internal/pubsub"
	"github.com/artisanmarket/callcenter/internal/types"
)

// Hub bridges connected clients to their identity channels on the bus.
// Each client receives the events published for its own identity
// (incoming_call, call_state, assignment); admin clients additionally get
// the presence broadcast for dashboards.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Bus the identity channels live on
	bus pubsub.Bus

	// Mutex to protect clients map
	mu sync.RWMutex

	// Logger
	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(bus pubsub.Bus, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		bus:        bus,
		logger:     logger.With().Str("component", "ws").Logger(),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			channels := []string{pubsub.UserChannel(client.userID)}
			if client.role == types.RoleAdmin {
				channels = append(channels, "presence")
			}
			sub, err := h.bus.Subscribe(context.Background(), channels...)
			if err != nil {
				h.logger.Error().Err(err).Str("user_id", client.userID).Msg("failed to subscribe client")
				client.conn.Close()
				continue
			}
			client.sub = sub

			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

			go client.bridge()
			metrics.Get().RecordFeedConnect()
			h.logger.Info().
				Str("user_id", client.userID).
				Int("total_clients", h.ClientCount()).
				Msg("feed client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				metrics.Get().RecordFeedDisconnect()
				h.logger.Info().
					Str("user_id", client.userID).
					Int("total_clients", len(h.clients)).
					Msg("feed client disconnected")
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
