package queueing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artisanmarket/callcenter/internal/pubsub"
	"github.com/artisanmarket/callcenter/internal/store"
	"github.com/artisanmarket/callcenter/internal/types"
)

// Caps on caller-supplied free text
const (
	maxNameLen    = 128
	maxPhoneLen   = 128
	maxMessageLen = 1000
)

// AgentReleaser returns a claimed agent to the online pool when an
// assignment cannot be completed after the claim succeeded
type AgentReleaser interface {
	Release(ctx context.Context, agentID string) error
}

// CallTracker takes ownership of an engine-created ringing call: it arms
// the ring timeout so the call resolves to missed and the agent is freed
// even if the caller-side client never attaches signaling.
type CallTracker interface {
	Track(ctx context.Context, call types.Call) error
}

// Engine matches an incoming support request to an available agent, or
// parks the request as no_agent. There is no waiting queue: the caller-side
// client owns retry and backoff.
type Engine struct {
	store    store.Store
	bus      pubsub.Bus
	releaser AgentReleaser
	tracker  CallTracker
	fairness FairnessStrategy
	logger   zerolog.Logger
}

// NewEngine creates a queue assignment engine
func NewEngine(st store.Store, bus pubsub.Bus, releaser AgentReleaser, tracker CallTracker, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    st,
		bus:      bus,
		releaser: releaser,
		tracker:  tracker,
		fairness: &LeastRecentlyAssigned{},
		logger:   logger.With().Str("component", "queueing").Logger(),
	}
}

// Enqueue records a caller's request against a queue and immediately
// attempts assignment. The returned assignment is either ringing (agent
// claimed, call created and linked) or no_agent. An unknown queue slug
// yields store.ErrNotFound; a store failure leaves the assignment queued
// so the caller can retry.
func (e *Engine) Enqueue(ctx context.Context, queueSlug string, source types.SourceDescriptor) (*types.QueueAssignment, error) {
	queue, err := e.store.GetQueue(ctx, queueSlug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("queue %q: %w", queueSlug, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load queue %q: %w", queueSlug, err)
	}

	capSource(&source)

	now := time.Now()
	assignment := types.QueueAssignment{
		ID:        uuid.New().String(),
		QueueSlug: queueSlug,
		Source:    source,
		Status:    types.AssignmentQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.PutAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	agent, err := e.claimAgent(ctx, queue)
	if err != nil {
		// Assignment stays queued; the caller retries.
		return &assignment, err
	}
	if agent == nil {
		assignment.Status = types.AssignmentNoAgent
		assignment.UpdatedAt = time.Now()
		if err := e.store.PutAssignment(ctx, assignment); err != nil {
			return &assignment, fmt.Errorf("failed to mark assignment no_agent: %w", err)
		}
		e.logger.Debug().
			Str("assignment_id", assignment.ID).
			Str("queue", queueSlug).
			Msg("no eligible agent")
		return &assignment, nil
	}

	call := types.Call{
		ID:           uuid.New().String(),
		CallerID:     source.CallerID,
		CallerRole:   source.CallerRole,
		CalleeID:     agent.ID,
		CalleeRole:   agent.Role,
		Status:       types.CallStatusRinging,
		AssignmentID: assignment.ID,
		StartedAt:    time.Now(),
	}
	if err := e.store.PutCall(ctx, call); err != nil {
		// The claim already happened; put the agent back so they are not
		// stuck busy on a call that never existed.
		if rerr := e.releaser.Release(ctx, agent.ID); rerr != nil {
			e.logger.Error().Err(rerr).Str("agent_id", agent.ID).Msg("failed to release agent after call create failure")
		}
		return &assignment, fmt.Errorf("failed to create call: %w", err)
	}

	assignment.Status = types.AssignmentRinging
	assignment.AgentID = agent.ID
	assignment.CallID = call.ID
	assignment.UpdatedAt = time.Now()
	if err := e.store.PutAssignment(ctx, assignment); err != nil {
		// Same unwind as above: without it the agent would sit busy on a
		// call nobody will ever ring.
		if rerr := e.releaser.Release(ctx, agent.ID); rerr != nil {
			e.logger.Error().Err(rerr).Str("agent_id", agent.ID).Msg("failed to release agent after assignment update failure")
		}
		return &assignment, fmt.Errorf("failed to update assignment: %w", err)
	}

	if err := e.tracker.Track(ctx, call); err != nil {
		// Nothing will time this call out, so resolve it here: free the
		// agent and settle the assignment instead of leaving it ringing.
		if rerr := e.releaser.Release(ctx, agent.ID); rerr != nil {
			e.logger.Error().Err(rerr).Str("agent_id", agent.ID).Msg("failed to release agent after tracking failure")
		}
		now := time.Now()
		call.Status = types.CallStatusFailed
		call.EndedAt = &now
		call.EndedBy = types.SideSystem
		if perr := e.store.PutCall(ctx, call); perr != nil {
			e.logger.Error().Err(perr).Str("call_id", call.ID).Msg("failed to settle call after tracking failure")
		}
		assignment.Status = types.AssignmentAbandoned
		assignment.UpdatedAt = now
		if perr := e.store.PutAssignment(ctx, assignment); perr != nil {
			e.logger.Error().Err(perr).Str("assignment_id", assignment.ID).Msg("failed to settle assignment after tracking failure")
		}
		return &assignment, fmt.Errorf("failed to track call: %w", err)
	}

	e.notifyAgent(ctx, agent.ID, &assignment)

	e.logger.Info().
		Str("assignment_id", assignment.ID).
		Str("queue", queueSlug).
		Str("agent_id", agent.ID).
		Str("call_id", call.ID).
		Msg("assignment ringing")

	return &assignment, nil
}

// claimAgent walks the fairness-ordered pool of online queue members and
// claims the first one whose conditional online→busy update wins. A lost
// claim means another enqueue got there first; the next candidate is tried
// rather than giving up.
func (e *Engine) claimAgent(ctx context.Context, queue *types.Queue) (*types.Agent, error) {
	agents, err := e.store.GetAgents(ctx, queue.AgentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue agents: %w", err)
	}

	online := make([]types.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Presence == types.PresenceOnline {
			online = append(online, a)
		}
	}

	for _, candidate := range e.fairness.Rank(online) {
		err := e.store.ClaimAgent(ctx, candidate.ID, time.Now())
		if errors.Is(err, store.ErrConflict) {
			e.logger.Debug().Str("agent_id", candidate.ID).Msg("lost claim race, trying next candidate")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to claim agent: %w", err)
		}
		claimed := candidate
		return &claimed, nil
	}
	return nil, nil
}

func (e *Engine) notifyAgent(ctx context.Context, agentID string, assignment *types.QueueAssignment) {
	event := types.AssignmentEvent{
		Type:       types.EventAssignment,
		Assignment: assignment,
		Occurred:   time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to marshal assignment event")
		return
	}
	if err := e.bus.Publish(ctx, pubsub.UserChannel(agentID), data); err != nil {
		e.logger.Warn().Err(err).Str("agent_id", agentID).Msg("failed to publish assignment event")
	}
}

func capSource(s *types.SourceDescriptor) {
	s.CallerName = truncate(s.CallerName, maxNameLen)
	s.CallerPhone = truncate(s.CallerPhone, maxPhoneLen)
	s.Message = truncate(s.Message, maxMessageLen)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Never cut through a multi-byte rune.
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
