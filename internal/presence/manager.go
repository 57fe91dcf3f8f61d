package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/artisanmarket/callcenter/internal/pubsub"
	"github.com/artisanmarket/callcenter/internal/store"
	"github.com/artisanmarket/callcenter/internal/types"
)

// PresenceChannel is the broadcast channel queue dashboards subscribe to
const PresenceChannel = "presence"

// ErrAgentBusy is returned when a presence toggle is rejected because the
// agent is on a call. The call must end before the toggle can succeed.
var ErrAgentBusy = errors.New("agent is busy")

// Manager owns the online/offline side of Agent.Presence. The busy side is
// owned by the assignment engine's claim and released back through here.
type Manager struct {
	store  store.Store
	bus    pubsub.Bus
	logger zerolog.Logger
}

// NewManager creates a presence manager
func NewManager(st store.Store, bus pubsub.Bus, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  st,
		bus:    bus,
		logger: logger.With().Str("component", "presence").Logger(),
	}
}

// Register creates or replaces an agent record. Administrative operation;
// new agents start offline.
func (m *Manager) Register(ctx context.Context, agent types.Agent) error {
	if agent.Presence == "" {
		agent.Presence = types.PresenceOffline
	}
	if agent.Role == "" {
		agent.Role = types.RoleAdmin
	}
	if err := m.store.PutAgent(ctx, agent); err != nil {
		return fmt.Errorf("failed to register agent: %w", err)
	}
	m.logger.Info().Str("agent_id", agent.ID).Str("role", string(agent.Role)).Msg("agent registered")
	return nil
}

// SetOnline moves an agent from offline to online. Rejected while busy.
func (m *Manager) SetOnline(ctx context.Context, agentID string) error {
	return m.toggle(ctx, agentID, types.PresenceOffline, types.PresenceOnline)
}

// SetOffline moves an agent from online to offline. Rejected while busy:
// an agent cannot leave while on a call.
func (m *Manager) SetOffline(ctx context.Context, agentID string) error {
	return m.toggle(ctx, agentID, types.PresenceOnline, types.PresenceOffline)
}

func (m *Manager) toggle(ctx context.Context, agentID string, from, to types.Presence) error {
	err := m.store.SetPresence(ctx, agentID, from, to)
	if err == nil {
		m.emit(ctx, agentID, from, to)
		return nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return err
	}

	// The guard did not hold; look at the actual state to decide whether
	// this is a no-op or a rejection.
	agent, gerr := m.store.GetAgent(ctx, agentID)
	if gerr != nil {
		return gerr
	}
	switch agent.Presence {
	case to:
		return nil // already there
	case types.PresenceBusy:
		return ErrAgentBusy
	default:
		return err
	}
}

// Release returns a busy agent to online once their call has ended.
// Never forces offline. Idempotent: releasing a non-busy agent is a no-op.
func (m *Manager) Release(ctx context.Context, agentID string) error {
	err := m.store.SetPresence(ctx, agentID, types.PresenceBusy, types.PresenceOnline)
	if errors.Is(err, store.ErrConflict) {
		m.logger.Debug().Str("agent_id", agentID).Msg("release on non-busy agent, ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	m.emit(ctx, agentID, types.PresenceBusy, types.PresenceOnline)
	return nil
}

// emit publishes the presence change to the dashboard channel and to the
// agent's own feed. Notification only; never part of state.
func (m *Manager) emit(ctx context.Context, agentID string, from, to types.Presence) {
	event := types.PresenceEvent{
		Type:     types.EventPresence,
		AgentID:  agentID,
		Previous: from,
		Current:  to,
		Occurred: time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to marshal presence event")
		return
	}
	for _, ch := range []string{PresenceChannel, pubsub.UserChannel(agentID)} {
		if err := m.bus.Publish(ctx, ch, data); err != nil {
			m.logger.Warn().Err(err).Str("channel", ch).Msg("failed to publish presence event")
		}
	}
	m.logger.Debug().
		Str("agent_id", agentID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("presence changed")
}
