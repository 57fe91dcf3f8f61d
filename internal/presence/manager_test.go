package presence

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artisanmarket/callcenter/internal/pubsub"
	"github.com/artisanmarket/callcenter/internal/store"
	"github.com/artisanmarket/callcenter/internal/types"
)

func newManager(t *testing.T) (*Manager, store.Store, *pubsub.MemoryBus) {
	t.Helper()
	st := store.NewMemoryStore()
	bus := pubsub.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	return NewManager(st, bus, zerolog.Nop()), st, bus
}

func TestRegisterDefaults(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newManager(t)

	if err := m.Register(ctx, types.Agent{ID: "a1"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	agent, err := st.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if agent.Presence != types.PresenceOffline {
		t.Errorf("new agent should start offline, got %s", agent.Presence)
	}
	if agent.Role != types.RoleAdmin {
		t.Errorf("expected default role admin, got %s", agent.Role)
	}
}

func TestToggleRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newManager(t)
	m.Register(ctx, types.Agent{ID: "a1"})

	if err := m.SetOnline(ctx, "a1"); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}
	agent, _ := st.GetAgent(ctx, "a1")
	if agent.Presence != types.PresenceOnline {
		t.Errorf("expected online, got %s", agent.Presence)
	}

	// Toggling to the state the agent is already in is a no-op
	if err := m.SetOnline(ctx, "a1"); err != nil {
		t.Errorf("repeated SetOnline should be a no-op, got %v", err)
	}

	if err := m.SetOffline(ctx, "a1"); err != nil {
		t.Fatalf("SetOffline failed: %v", err)
	}
	agent, _ = st.GetAgent(ctx, "a1")
	if agent.Presence != types.PresenceOffline {
		t.Errorf("expected offline, got %s", agent.Presence)
	}
}

func TestBusyBlocksToggle(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newManager(t)
	m.Register(ctx, types.Agent{ID: "a1"})
	m.SetOnline(ctx, "a1")

	if err := st.ClaimAgent(ctx, "a1", time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if err := m.SetOffline(ctx, "a1"); !errors.Is(err, ErrAgentBusy) {
		t.Errorf("expected ErrAgentBusy going offline while busy, got %v", err)
	}
	if err := m.SetOnline(ctx, "a1"); !errors.Is(err, ErrAgentBusy) {
		t.Errorf("expected ErrAgentBusy going online while busy, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newManager(t)
	m.Register(ctx, types.Agent{ID: "a1"})
	m.SetOnline(ctx, "a1")
	st.ClaimAgent(ctx, "a1", time.Now())

	if err := m.Release(ctx, "a1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	agent, _ := st.GetAgent(ctx, "a1")
	if agent.Presence != types.PresenceOnline {
		t.Errorf("released agent should be online, got %s", agent.Presence)
	}

	// Releasing an agent that is not busy is a no-op
	if err := m.Release(ctx, "a1"); err != nil {
		t.Errorf("repeated Release should be a no-op, got %v", err)
	}
}

func TestToggleUnknownAgent(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	if err := m.SetOnline(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPresenceEventPublished(t *testing.T) {
	ctx := context.Background()
	m, _, bus := newManager(t)
	m.Register(ctx, types.Agent{ID: "a1"})

	sub, err := bus.Subscribe(ctx, PresenceChannel)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := m.SetOnline(ctx, "a1"); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		var event types.PresenceEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			t.Fatalf("failed to decode presence event: %v", err)
		}
		if event.Type != types.EventPresence {
			t.Errorf("expected event type presence, got %s", event.Type)
		}
		if event.AgentID != "a1" || event.Current != types.PresenceOnline {
			t.Errorf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence event")
	}
}
