package store

import (
	"context"
	"sync"
	"time"

	"github.com/artisanmarket/callcenter/internal/types"
)

// MemoryStore is an in-memory Store used for tests and DYNAMO_MODE=memory.
// It honors the same conditional-update semantics as the DynamoDB store.
type MemoryStore struct {
	mu          sync.Mutex
	queues      map[string]types.Queue
	agents      map[string]types.Agent
	assignments map[string]types.QueueAssignment
	calls       map[string]types.Call
	balances    map[string]types.Balance
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues:      make(map[string]types.Queue),
		agents:      make(map[string]types.Agent),
		assignments: make(map[string]types.QueueAssignment),
		calls:       make(map[string]types.Call),
		balances:    make(map[string]types.Balance),
	}
}

func (s *MemoryStore) PutQueue(_ context.Context, q types.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[q.Slug] = q
	return nil
}

func (s *MemoryStore) GetQueue(_ context.Context, slug string) (*types.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[slug]
	if !ok {
		return nil, ErrNotFound
	}
	return &q, nil
}

func (s *MemoryStore) PutAgent(_ context.Context, a types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) GetAgents(_ context.Context, ids []string) ([]types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agents := make([]types.Agent, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.agents[id]; ok {
			agents = append(agents, a)
		}
	}
	return agents, nil
}

func (s *MemoryStore) SetPresence(_ context.Context, agentID string, from, to types.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	if a.Presence != from {
		return ErrConflict
	}
	a.Presence = to
	s.agents[agentID] = a
	return nil
}

func (s *MemoryStore) ClaimAgent(_ context.Context, agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	if a.Presence != types.PresenceOnline {
		return ErrConflict
	}
	a.Presence = types.PresenceBusy
	a.LastAssignedAt = at
	s.agents[agentID] = a
	return nil
}

func (s *MemoryStore) PutAssignment(_ context.Context, a types.QueueAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.ID] = a
	return nil
}

func (s *MemoryStore) GetAssignment(_ context.Context, id string) (*types.QueueAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) PutCall(_ context.Context, c types.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[c.ID] = c
	return nil
}

func (s *MemoryStore) GetCall(_ context.Context, id string) (*types.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) PutBalance(_ context.Context, b types.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[b.UserID] = b
	return nil
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (*types.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemoryStore) DebitUnit(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok {
		return ErrNotFound
	}
	if b.Units <= 0 {
		return ErrConflict
	}
	b.Units--
	s.balances[userID] = b
	return nil
}
