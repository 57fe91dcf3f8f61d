package store

import (
	"context"
	"errors"
	"time"

	"github.com/artisanmarket/callcenter/internal/types"
)

var (
	// ErrNotFound is returned when a queue/agent/call/assignment does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional update matched zero rows,
	// i.e. the guarded current value changed underneath the caller
	ErrConflict = errors.New("conditional update failed")
)

// Store is the Directory Store contract: simple CRUD plus the row-level
// conditional updates the presence and credit races require.
type Store interface {
	PutQueue(ctx context.Context, q types.Queue) error
	GetQueue(ctx context.Context, slug string) (*types.Queue, error)

	PutAgent(ctx context.Context, a types.Agent) error
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	GetAgents(ctx context.Context, ids []string) ([]types.Agent, error)

	// SetPresence transitions an agent's presence only if the current value
	// equals from. Returns ErrConflict when the guard does not hold.
	SetPresence(ctx context.Context, agentID string, from, to types.Presence) error

	// ClaimAgent atomically moves an online agent to busy and stamps
	// LastAssignedAt. Returns ErrConflict when the agent is not online.
	ClaimAgent(ctx context.Context, agentID string, at time.Time) error

	PutAssignment(ctx context.Context, a types.QueueAssignment) error
	GetAssignment(ctx context.Context, id string) (*types.QueueAssignment, error)

	PutCall(ctx context.Context, c types.Call) error
	GetCall(ctx context.Context, id string) (*types.Call, error)

	PutBalance(ctx context.Context, b types.Balance) error
	GetBalance(ctx context.Context, userID string) (*types.Balance, error)

	// DebitUnit atomically decrements one unit while units > 0.
	// Returns ErrConflict when the balance is exhausted.
	DebitUnit(ctx context.Context, userID string) error
}
