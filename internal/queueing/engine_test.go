package queueing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/artisanmarket/callcenter/internal/presence"
	"github.com/artisanmarket/callcenter/internal/pubsub"
	"github.com/artisanmarket/callcenter/internal/store"
	"github.com/artisanmarket/callcenter/internal/types"
)

// stubTracker stands in for the signaling coordinator
type stubTracker struct {
	mu      sync.Mutex
	tracked []types.Call
	err     error
}

func (s *stubTracker) Track(_ context.Context, call types.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tracked = append(s.tracked, call)
	return nil
}

func (s *stubTracker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

func newEngine(t *testing.T) (*Engine, store.Store, *pubsub.MemoryBus) {
	t.Helper()
	st := store.NewMemoryStore()
	bus := pubsub.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	releaser := presence.NewManager(st, bus, zerolog.Nop())
	return NewEngine(st, bus, releaser, &stubTracker{}, zerolog.Nop()), st, bus
}

func seedQueue(t *testing.T, st store.Store, slug string, agents ...types.Agent) {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		if err := st.PutAgent(ctx, a); err != nil {
			t.Fatalf("PutAgent failed: %v", err)
		}
		ids = append(ids, a.ID)
	}
	if err := st.PutQueue(ctx, types.Queue{Slug: slug, Name: slug, AgentIDs: ids}); err != nil {
		t.Fatalf("PutQueue failed: %v", err)
	}
}

func TestEnqueueAssignsOnlineAgent(t *testing.T) {
	ctx := context.Background()
	engine, st, _ := newEngine(t)
	seedQueue(t, st, "billing",
		types.Agent{ID: "a1", Role: types.RoleAdmin, Presence: types.PresenceOnline},
	)

	source := types.SourceDescriptor{CallerID: "cust-1", CallerRole: types.RoleCustomer}
	assignment, err := engine.Enqueue(ctx, "billing", source)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if assignment.Status != types.AssignmentRinging {
		t.Fatalf("expected ringing, got %s", assignment.Status)
	}
	if assignment.AgentID != "a1" {
		t.Errorf("expected agent a1, got %s", assignment.AgentID)
	}
	if assignment.CallID == "" {
		t.Fatal("expected a linked call")
	}

	call, err := st.GetCall(ctx, assignment.CallID)
	if err != nil {
		t.Fatalf("GetCall failed: %v", err)
	}
	if call.Status != types.CallStatusRinging {
		t.Errorf("expected call ringing, got %s", call.Status)
	}
	if call.CalleeID != "a1" || call.CallerID != "cust-1" {
		t.Errorf("unexpected call parties: %+v", call)
	}
	if call.AssignmentID != assignment.ID {
		t.Errorf("call not linked back to assignment")
	}

	agent, _ := st.GetAgent(ctx, "a1")
	if agent.Presence != types.PresenceBusy {
		t.Errorf("claimed agent should be busy, got %s", agent.Presence)
	}
}

func TestEnqueueNoAgent(t *testing.T) {
	ctx := context.Background()
	engine, st, _ := newEngine(t)
	seedQueue(t, st, "billing",
		types.Agent{ID: "a1", Presence: types.PresenceOffline},
		types.Agent{ID: "a2", Presence: types.PresenceBusy},
	)

	assignment, err := engine.Enqueue(ctx, "billing", types.SourceDescriptor{CallerID: "cust-1"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if assignment.Status != types.AssignmentNoAgent {
		t.Errorf("expected no_agent, got %s", assignment.Status)
	}
	if assignment.CallID != "" || assignment.AgentID != "" {
		t.Errorf("no_agent assignment must not link a call or agent: %+v", assignment)
	}
}

func TestEnqueueUnknownQueue(t *testing.T) {
	engine, _, _ := newEngine(t)

	_, err := engine.Enqueue(context.Background(), "nope", types.SourceDescriptor{CallerID: "c"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEnqueueFairness(t *testing.T) {
	ctx := context.Background()
	engine, st, _ := newEngine(t)
	base := time.Now()
	seedQueue(t, st, "support",
		types.Agent{ID: "recent", Presence: types.PresenceOnline, LastAssignedAt: base},
		types.Agent{ID: "idle", Presence: types.PresenceOnline, LastAssignedAt: base.Add(-time.Hour)},
	)

	assignment, err := engine.Enqueue(ctx, "support", types.SourceDescriptor{CallerID: "c"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if assignment.AgentID != "idle" {
		t.Errorf("expected least recently assigned agent idle, got %s", assignment.AgentID)
	}
}

func TestConcurrentEnqueuesClaimDistinctAgents(t *testing.T) {
	ctx := context.Background()
	engine, st, _ := newEngine(t)
	seedQueue(t, st, "sales",
		types.Agent{ID: "a1", Presence: types.PresenceOnline},
		types.Agent{ID: "a2", Presence: types.PresenceOnline},
		types.Agent{ID: "a3", Presence: types.PresenceOnline},
	)

	const requests = 5
	results := make([]*types.QueueAssignment, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := engine.Enqueue(ctx, "sales", types.SourceDescriptor{CallerID: "c"})
			if err != nil {
				t.Errorf("enqueue %d failed: %v", i, err)
				return
			}
			results[i] = a
		}(i)
	}
	wg.Wait()

	claimed := map[string]int{}
	noAgent := 0
	for _, a := range results {
		if a == nil {
			continue
		}
		switch a.Status {
		case types.AssignmentRinging:
			claimed[a.AgentID]++
		case types.AssignmentNoAgent:
			noAgent++
		default:
			t.Errorf("unexpected status %s", a.Status)
		}
	}

	if len(claimed) != 3 {
		t.Errorf("expected 3 distinct agents claimed, got %v", claimed)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("agent %s claimed %d times", id, n)
		}
	}
	if noAgent != requests-3 {
		t.Errorf("expected %d no_agent results, got %d", requests-3, noAgent)
	}
}

func TestEnqueueNotifiesAgent(t *testing.T) {
	ctx := context.Background()
	engine, st, bus := newEngine(t)
	seedQueue(t, st, "billing",
		types.Agent{ID: "a1", Presence: types.PresenceOnline},
	)

	sub, err := bus.Subscribe(ctx, pubsub.UserChannel("a1"))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if _, err := engine.Enqueue(ctx, "billing", types.SourceDescriptor{CallerID: "c"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		var event types.AssignmentEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			t.Fatalf("failed to decode assignment event: %v", err)
		}
		if event.Type != types.EventAssignment {
			t.Errorf("expected assignment event, got %s", event.Type)
		}
		if event.Assignment == nil || event.Assignment.Status != types.AssignmentRinging {
			t.Errorf("unexpected assignment payload: %+v", event.Assignment)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for assignment event")
	}
}

func TestEnqueueCapsFreeText(t *testing.T) {
	ctx := context.Background()
	engine, st, _ := newEngine(t)
	seedQueue(t, st, "billing",
		types.Agent{ID: "a1", Presence: types.PresenceOnline},
	)

	source := types.SourceDescriptor{
		CallerID:   "c",
		CallerName: strings.Repeat("n", maxNameLen+50),
		Message:    strings.Repeat("m", maxMessageLen+1),
	}
	assignment, err := engine.Enqueue(ctx, "billing", source)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	stored, err := st.GetAssignment(ctx, assignment.ID)
	if err != nil {
		t.Fatalf("GetAssignment failed: %v", err)
	}
	if len(stored.Source.CallerName) != maxNameLen {
		t.Errorf("caller name not capped: %d", len(stored.Source.CallerName))
	}
	if len(stored.Source.Message) != maxMessageLen {
		t.Errorf("message not capped: %d", len(stored.Source.Message))
	}
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"ascii under cap", "hello", 10, "hello"},
		{"ascii at cap", "hello", 5, "hello"},
		{"ascii over cap", "hello", 3, "hel"},
		{"cap lands mid rune", "ééé", 3, "é"},
		{"multi byte at cap", "ééé", 4, "éé"},
		{"cap inside first rune", "é", 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.input, tt.max)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.input, tt.max)
			}
			if len(got) > tt.max {
				t.Errorf("truncate(%q, %d) exceeded cap: %d bytes", tt.input, tt.max, len(got))
			}
		})
	}
}

// failOnRinging rejects the assignment write that links the claimed agent
type failOnRinging struct {
	store.Store
}

func (s *failOnRinging) PutAssignment(ctx context.Context, a types.QueueAssignment) error {
	if a.Status == types.AssignmentRinging {
		return errors.New("write rejected")
	}
	return s.Store.PutAssignment(ctx, a)
}

func TestEnqueueReleasesAgentWhenAssignmentUpdateFails(t *testing.T) {
	ctx := context.Background()
	st := &failOnRinging{Store: store.NewMemoryStore()}
	bus := pubsub.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	releaser := presence.NewManager(st, bus, zerolog.Nop())
	engine := NewEngine(st, bus, releaser, &stubTracker{}, zerolog.Nop())
	seedQueue(t, st, "billing",
		types.Agent{ID: "a1", Presence: types.PresenceOnline},
	)

	_, err := engine.Enqueue(ctx, "billing", types.SourceDescriptor{CallerID: "c"})
	if err == nil {
		t.Fatal("expected enqueue to fail")
	}

	agent, gerr := st.GetAgent(ctx, "a1")
	if gerr != nil {
		t.Fatalf("GetAgent failed: %v", gerr)
	}
	if agent.Presence != types.PresenceOnline {
		t.Errorf("agent should be back online after failed assignment update, got %s", agent.Presence)
	}
}

func TestEnqueueHandsCallToTracker(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	bus := pubsub.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	releaser := presence.NewManager(st, bus, zerolog.Nop())
	tracker := &stubTracker{}
	engine := NewEngine(st, bus, releaser, tracker, zerolog.Nop())
	seedQueue(t, st, "billing",
		types.Agent{ID: "a1", Presence: types.PresenceOnline},
	)

	assignment, err := engine.Enqueue(ctx, "billing", types.SourceDescriptor{CallerID: "c"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if tracker.count() != 1 {
		t.Fatalf("expected 1 tracked call, got %d", tracker.count())
	}
	if tracker.tracked[0].ID != assignment.CallID {
		t.Errorf("tracked call %s does not match assignment call %s", tracker.tracked[0].ID, assignment.CallID)
	}
}

func TestEnqueueReleasesAgentWhenTrackingFails(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	bus := pubsub.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	releaser := presence.NewManager(st, bus, zerolog.Nop())
	engine := NewEngine(st, bus, releaser, &stubTracker{err: errors.New("no capacity")}, zerolog.Nop())
	seedQueue(t, st, "billing",
		types.Agent{ID: "a1", Presence: types.PresenceOnline},
	)

	assignment, err := engine.Enqueue(ctx, "billing", types.SourceDescriptor{CallerID: "c"})
	if err == nil {
		t.Fatal("expected enqueue to fail")
	}

	agent, gerr := st.GetAgent(ctx, "a1")
	if gerr != nil {
		t.Fatalf("GetAgent failed: %v", gerr)
	}
	if agent.Presence != types.PresenceOnline {
		t.Errorf("agent should be back online after tracking failure, got %s", agent.Presence)
	}
	stored, gerr := st.GetAssignment(ctx, assignment.ID)
	if gerr != nil {
		t.Fatalf("GetAssignment failed: %v", gerr)
	}
	if stored.Status != types.AssignmentAbandoned {
		t.Errorf("assignment should settle abandoned, got %s", stored.Status)
	}
	call, gerr := st.GetCall(ctx, assignment.CallID)
	if gerr != nil {
		t.Fatalf("GetCall failed: %v", gerr)
	}
	if call.Status != types.CallStatusFailed {
		t.Errorf("call should settle failed, got %s", call.Status)
	}
}
