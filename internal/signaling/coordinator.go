package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artisanmarket/callcenter/internal/metrics"
	"github.com/artisanmarket/callcenter/internal/pubsub"
	"github.com/artisanmarket/callcenter/internal/store"
	"github.com/artisanmarket/callcenter/internal/types"
)

var (
	// ErrCallActive is returned when an identity already has an active call
	ErrCallActive = errors.New("identity already has an active call")

	// ErrBadState is returned when an operation does not apply to the
	// call's current state (e.g. answering a call that is not ringing)
	ErrBadState = errors.New("call is not in a state that allows this operation")
)

// CreditGate is the answer-path balance policy
type CreditGate interface {
	TryDebit(ctx context.Context, calleeID string, calleeRole types.Role) (bool, error)
}

// AgentReleaser returns a busy agent to the online pool after their call ends
type AgentReleaser interface {
	Release(ctx context.Context, agentID string) error
}

// Coordinator drives the life cycle of peer-to-peer calls: offer/answer/ICE
// exchange over the pub/sub channel, the ring timeout, credit-gated
// answering, and teardown. It is the only writer of Call.Status.
type Coordinator struct {
	store       store.Store
	bus         pubsub.Bus
	gate        CreditGate
	releaser    AgentReleaser
	transports  TransportFactory
	ringTimeout time.Duration
	logger      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session // call id -> session
	active   map[string]string   // identity -> active call id
}

// NewCoordinator creates a call signaling coordinator
func NewCoordinator(st store.Store, bus pubsub.Bus, gate CreditGate, releaser AgentReleaser, ringTimeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:       st,
		bus:         bus,
		gate:        gate,
		releaser:    releaser,
		transports:  NewNoopTransport,
		ringTimeout: ringTimeout,
		logger:      logger.With().Str("component", "signaling").Logger(),
		sessions:    make(map[string]*session),
		active:      make(map[string]string),
	}
}

// SetTransportFactory overrides the peer-connection factory
func (c *Coordinator) SetTransportFactory(f TransportFactory) {
	c.transports = f
}

// Track adopts a ringing call created by the assignment engine. Both
// identities are reserved and the ring timer armed right away, so the call
// resolves to missed and the agent is freed even if the caller-side client
// dies before attaching signaling. The offer is published later, when the
// caller attaches via StartCall with the call id.
func (c *Coordinator) Track(ctx context.Context, call types.Call) error {
	if err := c.reserve(call.CallerID, call.CalleeID, call.ID); err != nil {
		return err
	}

	sub, err := c.bus.Subscribe(ctx, pubsub.CallChannel(call.ID))
	if err != nil {
		c.unreserve(call.CallerID, call.CalleeID)
		return fmt.Errorf("failed to subscribe to call channel: %w", err)
	}

	sess := &session{
		call:      call,
		sub:       sub,
		transport: c.transports(call.ID),
	}
	sess.ringTimer = time.AfterFunc(c.ringTimeout, func() { c.onRingTimeout(call.ID) })

	c.mu.Lock()
	c.sessions[call.ID] = sess
	c.mu.Unlock()

	go c.readLoop(sess)

	c.logger.Debug().
		Str("call_id", call.ID).
		Str("callee_id", call.CalleeID).
		Msg("tracking queue call")
	return nil
}

// StartCall initiates a call from caller to callee. When existingCallID is
// set the call was created by the assignment engine and is reused;
// otherwise a fresh call row is created (dialing, then immediately
// ringing). The offer is published to the callee and the ring timer armed.
// Each identity may have at most one active call.
func (c *Coordinator) StartCall(ctx context.Context, callerID string, callerRole types.Role, calleeID string, calleeRole types.Role, sdp, existingCallID string) (*types.Call, error) {
	var call types.Call

	if existingCallID != "" {
		// Engine-created calls are already tracked; attach the caller to
		// the live session instead of building a second one.
		if sess := c.session(existingCallID); sess != nil {
			return c.attachCaller(ctx, sess, callerID, sdp)
		}
		existing, err := c.store.GetCall(ctx, existingCallID)
		if err != nil {
			return nil, err
		}
		if existing.CallerID != callerID || existing.Status.Terminal() {
			return nil, ErrBadState
		}
		call = *existing
		call.Status = types.CallStatusRinging
	} else {
		call = types.Call{
			ID:         uuid.New().String(),
			CallerID:   callerID,
			CallerRole: callerRole,
			CalleeID:   calleeID,
			CalleeRole: calleeRole,
			Status:     types.CallStatusDialing,
			StartedAt:  time.Now(),
		}
	}

	if err := c.reserve(call.CallerID, call.CalleeID, call.ID); err != nil {
		return nil, err
	}

	if existingCallID == "" {
		if err := c.store.PutCall(ctx, call); err != nil {
			c.unreserve(call.CallerID, call.CalleeID)
			return nil, fmt.Errorf("failed to create call: %w", err)
		}
		call.Status = types.CallStatusRinging
	}
	if err := c.store.PutCall(ctx, call); err != nil {
		c.unreserve(call.CallerID, call.CalleeID)
		return nil, fmt.Errorf("failed to update call: %w", err)
	}

	sub, err := c.bus.Subscribe(ctx, pubsub.CallChannel(call.ID))
	if err != nil {
		c.unreserve(call.CallerID, call.CalleeID)
		return nil, fmt.Errorf("failed to subscribe to call channel: %w", err)
	}

	sess := &session{
		call:      call,
		sub:       sub,
		transport: c.transports(call.ID),
	}
	sess.ringTimer = time.AfterFunc(c.ringTimeout, func() { c.onRingTimeout(call.ID) })

	c.mu.Lock()
	c.sessions[call.ID] = sess
	c.mu.Unlock()

	go c.readLoop(sess)

	c.publishSignal(ctx, types.SignalingMessage{
		CallID: call.ID,
		Kind:   types.SignalOffer,
		From:   call.CallerID,
		Side:   types.SideCaller,
		SDP:    sdp,
		SentAt: time.Now(),
	})
	c.emitCallEvent(ctx, call.CalleeID, types.EventIncomingCall, call, "", sdp)
	c.emitCallEvent(ctx, call.CallerID, types.EventCallState, call, "", "")

	metrics.Get().RecordCallStarted()
	c.logger.Info().
		Str("call_id", call.ID).
		Str("caller_id", call.CallerID).
		Str("callee_id", call.CalleeID).
		Msg("call ringing")

	return &call, nil
}

// attachCaller publishes the caller's offer into a session the engine
// already tracks. The timer and reservations from Track stay as they are.
func (c *Coordinator) attachCaller(ctx context.Context, sess *session, callerID, sdp string) (*types.Call, error) {
	call := sess.snapshot()
	if call.CallerID != callerID || call.Status.Terminal() {
		return nil, ErrBadState
	}

	c.publishSignal(ctx, types.SignalingMessage{
		CallID: call.ID,
		Kind:   types.SignalOffer,
		From:   call.CallerID,
		Side:   types.SideCaller,
		SDP:    sdp,
		SentAt: time.Now(),
	})
	c.emitCallEvent(ctx, call.CalleeID, types.EventIncomingCall, call, "", sdp)
	c.emitCallEvent(ctx, call.CallerID, types.EventCallState, call, "", "")

	metrics.Get().RecordCallStarted()
	c.logger.Info().
		Str("call_id", call.ID).
		Str("caller_id", call.CallerID).
		Str("callee_id", call.CalleeID).
		Msg("call ringing")
	return &call, nil
}

// Answer accepts a ringing call. The credit gate runs first and must pass
// before the answer message is published; a blocked answer resolves the
// call as rejected and reports insufficient=true without mutating anything
// else. The debit happens exactly at the ringing→connected transition.
func (c *Coordinator) Answer(ctx context.Context, callID, sdp string) (*types.Call, bool, error) {
	sess := c.session(callID)
	if sess == nil {
		// Session gone means the call was never started here or already
		// resolved; distinguish the two for the caller.
		call, err := c.store.GetCall(ctx, callID)
		if err != nil {
			return nil, false, err
		}
		if call.Status.Terminal() {
			return nil, false, ErrBadState
		}
		return nil, false, store.ErrNotFound
	}

	sess.mu.Lock()
	if sess.call.Status != types.CallStatusRinging {
		sess.mu.Unlock()
		return nil, false, ErrBadState
	}

	ok, err := c.gate.TryDebit(ctx, sess.call.CalleeID, sess.call.CalleeRole)
	if err != nil {
		sess.mu.Unlock()
		return nil, false, fmt.Errorf("credit check failed: %w", err)
	}

	now := time.Now()
	if !ok {
		sess.transitionLocked([]types.CallStatus{types.CallStatusRinging}, types.CallStatusRejected)
		sess.call.EndedAt = &now
		sess.call.EndedBy = types.SideSystem
		sess.stopTimerLocked()
		call := sess.call
		sess.mu.Unlock()

		c.persist(ctx, call)
		c.publishSignal(ctx, types.SignalingMessage{
			CallID: call.ID,
			Kind:   types.SignalBusy,
			From:   call.CalleeID,
			Side:   types.SideCallee,
			Reason: types.ReasonInsufficientBalance,
			SentAt: now,
		})
		c.emitCallEvent(ctx, call.CallerID, types.EventCallState, call, types.ReasonInsufficientBalance, "")
		c.emitCallEvent(ctx, call.CalleeID, types.EventCallState, call, types.ReasonInsufficientBalance, "")
		c.finalizeAssignment(ctx, call, types.AssignmentAbandoned)
		c.releaseAgent(ctx, call)
		c.teardown(call.ID)

		metrics.Get().RecordCallFinished(types.CallStatusRejected)
		return &call, true, nil
	}

	sess.transitionLocked([]types.CallStatus{types.CallStatusRinging}, types.CallStatusConnected)
	sess.call.ConnectedAt = &now
	sess.stopTimerLocked()
	call := sess.call
	sess.mu.Unlock()

	c.persist(ctx, call)
	c.publishSignal(ctx, types.SignalingMessage{
		CallID: call.ID,
		Kind:   types.SignalAnswer,
		From:   call.CalleeID,
		Side:   types.SideCallee,
		SDP:    sdp,
		SentAt: now,
	})
	c.emitCallEvent(ctx, call.CallerID, types.EventCallState, call, "", sdp)
	c.emitCallEvent(ctx, call.CalleeID, types.EventCallState, call, "", "")
	c.finalizeAssignment(ctx, call, types.AssignmentConnected)

	metrics.Get().RecordCallConnected()
	c.logger.Info().Str("call_id", call.ID).Msg("call connected")
	return &call, false, nil
}

// Reject declines a ringing call
func (c *Coordinator) Reject(ctx context.Context, callID string) (*types.Call, error) {
	sess := c.session(callID)
	if sess == nil {
		call, err := c.store.GetCall(ctx, callID)
		if err != nil {
			return nil, err
		}
		if call.Status.Terminal() {
			return call, nil
		}
		return nil, store.ErrNotFound
	}

	sess.mu.Lock()
	if !sess.transitionLocked([]types.CallStatus{types.CallStatusRinging}, types.CallStatusRejected) {
		call := sess.call
		sess.mu.Unlock()
		if call.Status.Terminal() {
			return &call, nil // already resolved, declining again is a no-op
		}
		return nil, ErrBadState
	}
	now := time.Now()
	sess.call.EndedAt = &now
	sess.call.EndedBy = types.SideCallee
	sess.stopTimerLocked()
	call := sess.call
	sess.mu.Unlock()

	c.persist(ctx, call)
	c.publishSignal(ctx, types.SignalingMessage{
		CallID: call.ID,
		Kind:   types.SignalHangup,
		From:   call.CalleeID,
		Side:   types.SideCallee,
		Reason: types.ReasonDeclined,
		SentAt: now,
	})
	c.emitCallEvent(ctx, call.CallerID, types.EventCallState, call, types.ReasonDeclined, "")
	c.emitCallEvent(ctx, call.CalleeID, types.EventCallState, call, types.ReasonDeclined, "")
	c.finalizeAssignment(ctx, call, types.AssignmentAbandoned)
	c.releaseAgent(ctx, call)
	c.teardown(call.ID)

	metrics.Get().RecordCallFinished(types.CallStatusRejected)
	return &call, nil
}

// Hangup ends a call from either side. Valid during dialing and ringing
// (caller cancel) and while connected. Idempotent: hanging up a call that
// already reached a terminal state is a no-op.
func (c *Coordinator) Hangup(ctx context.Context, callID string, by types.CallSide) (*types.Call, error) {
	sess := c.session(callID)
	if sess == nil {
		return c.hangupWithoutSession(ctx, callID, by)
	}

	sess.mu.Lock()
	wasConnected := sess.call.Status == types.CallStatusConnected
	if !sess.transitionLocked(
		[]types.CallStatus{types.CallStatusDialing, types.CallStatusRinging, types.CallStatusConnected},
		types.CallStatusEnded,
	) {
		call := sess.call
		sess.mu.Unlock()
		return &call, nil // terminal already, no-op
	}
	now := time.Now()
	sess.call.EndedAt = &now
	sess.call.EndedBy = by
	sess.stopTimerLocked()
	call := sess.call
	sess.mu.Unlock()

	c.persist(ctx, call)
	reason := types.ReasonCancelled
	if wasConnected {
		reason = ""
	}
	c.publishSignal(ctx, types.SignalingMessage{
		CallID: call.ID,
		Kind:   types.SignalHangup,
		From:   sideIdentity(call, by),
		Side:   by,
		Reason: reason,
		SentAt: now,
	})
	c.emitCallEvent(ctx, call.CallerID, types.EventCallState, call, reason, "")
	c.emitCallEvent(ctx, call.CalleeID, types.EventCallState, call, reason, "")
	if wasConnected {
		c.finalizeAssignment(ctx, call, types.AssignmentCompleted)
	} else {
		c.finalizeAssignment(ctx, call, types.AssignmentAbandoned)
	}
	c.releaseAgent(ctx, call)
	c.teardown(call.ID)

	metrics.Get().RecordCallFinished(types.CallStatusEnded)
	c.logger.Info().
		Str("call_id", call.ID).
		Str("ended_by", string(by)).
		Dur("duration", call.Duration()).
		Msg("call ended")
	return &call, nil
}

// hangupWithoutSession covers hangups arriving after this process lost the
// session (restart, or the call already fully torn down)
func (c *Coordinator) hangupWithoutSession(ctx context.Context, callID string, by types.CallSide) (*types.Call, error) {
	call, err := c.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.Terminal() {
		return call, nil
	}

	wasConnected := call.Status == types.CallStatusConnected
	now := time.Now()
	call.Status = types.CallStatusEnded
	call.EndedAt = &now
	call.EndedBy = by
	c.persist(ctx, *call)
	if wasConnected {
		c.finalizeAssignment(ctx, *call, types.AssignmentCompleted)
	} else {
		c.finalizeAssignment(ctx, *call, types.AssignmentAbandoned)
	}
	c.releaseAgent(ctx, *call)
	metrics.Get().RecordCallFinished(types.CallStatusEnded)
	return call, nil
}

// AddCandidate relays an ICE candidate onto the call channel. Candidates
// carry no state transition; both peers and the transport just consume them.
func (c *Coordinator) AddCandidate(ctx context.Context, callID, from, candidate string) error {
	sess := c.session(callID)
	if sess == nil {
		c.logger.Warn().Str("call_id", callID).Msg("candidate for unknown call, dropped")
		return nil
	}
	if sess.snapshot().Status.Terminal() {
		c.logger.Warn().Str("call_id", callID).Msg("candidate after teardown, dropped")
		return nil
	}

	side := types.SideCaller
	if from == sess.snapshot().CalleeID {
		side = types.SideCallee
	}
	c.publishSignal(ctx, types.SignalingMessage{
		CallID:    callID,
		Kind:      types.SignalCandidate,
		From:      from,
		Side:      side,
		Candidate: candidate,
		SentAt:    time.Now(),
	})
	return nil
}

// TransportStateChanged is called by the peer-connection collaborator when
// the media path settles. Failure before connect resolves the call as
// failed and releases any assigned agent.
func (c *Coordinator) TransportStateChanged(ctx context.Context, callID string, state TransportState) {
	sess := c.session(callID)
	if sess == nil {
		c.logger.Warn().Str("call_id", callID).Str("state", string(state)).Msg("transport report for unknown call, dropped")
		return
	}

	switch state {
	case TransportConnected:
		sess.mu.Lock()
		moved := sess.transitionLocked(
			[]types.CallStatus{types.CallStatusDialing, types.CallStatusRinging},
			types.CallStatusConnected,
		)
		if moved {
			now := time.Now()
			sess.call.ConnectedAt = &now
			sess.stopTimerLocked()
		}
		call := sess.call
		sess.mu.Unlock()
		if moved {
			c.persist(ctx, call)
			c.emitCallEvent(ctx, call.CallerID, types.EventCallState, call, "", "")
			c.emitCallEvent(ctx, call.CalleeID, types.EventCallState, call, "", "")
			c.finalizeAssignment(ctx, call, types.AssignmentConnected)
			metrics.Get().RecordCallConnected()
		}

	case TransportFailed:
		sess.mu.Lock()
		moved := sess.transitionLocked(
			[]types.CallStatus{types.CallStatusDialing, types.CallStatusRinging, types.CallStatusConnected},
			types.CallStatusFailed,
		)
		if moved {
			now := time.Now()
			sess.call.EndedAt = &now
			sess.call.EndedBy = types.SideSystem
			sess.stopTimerLocked()
		}
		call := sess.call
		sess.mu.Unlock()
		if moved {
			c.persist(ctx, call)
			c.emitCallEvent(ctx, call.CallerID, types.EventCallState, call, "", "")
			c.emitCallEvent(ctx, call.CalleeID, types.EventCallState, call, "", "")
			c.finalizeAssignment(ctx, call, types.AssignmentAbandoned)
			c.releaseAgent(ctx, call)
			c.teardown(call.ID)
			metrics.Get().RecordCallFinished(types.CallStatusFailed)
			c.logger.Warn().Str("call_id", call.ID).Msg("transport failed")
		}
	}
}

// GetCall returns the live session view when one exists, else the stored row
func (c *Coordinator) GetCall(ctx context.Context, callID string) (*types.Call, error) {
	if sess := c.session(callID); sess != nil {
		call := sess.snapshot()
		return &call, nil
	}
	return c.store.GetCall(ctx, callID)
}

// onRingTimeout fires when nobody answered within the ring window. The
// session guard makes this race-free against a concurrent answer: whichever
// transition runs first wins and the loser is a no-op.
func (c *Coordinator) onRingTimeout(callID string) {
	sess := c.session(callID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	if !sess.transitionLocked([]types.CallStatus{types.CallStatusRinging}, types.CallStatusMissed) {
		sess.mu.Unlock()
		return
	}
	now := time.Now()
	sess.call.EndedAt = &now
	sess.call.EndedBy = types.SideSystem
	sess.stopTimerLocked()
	call := sess.call
	sess.mu.Unlock()

	ctx := context.Background()
	c.persist(ctx, call)
	c.publishSignal(ctx, types.SignalingMessage{
		CallID: call.ID,
		Kind:   types.SignalBusy,
		From:   call.CalleeID,
		Side:   types.SideSystem,
		Reason: types.ReasonRingTimeout,
		SentAt: now,
	})
	c.emitCallEvent(ctx, call.CallerID, types.EventCallState, call, types.ReasonRingTimeout, "")
	c.emitCallEvent(ctx, call.CalleeID, types.EventCallState, call, types.ReasonRingTimeout, "")
	c.finalizeAssignment(ctx, call, types.AssignmentAbandoned)
	c.releaseAgent(ctx, call)
	c.teardown(call.ID)

	metrics.Get().RecordCallFinished(types.CallStatusMissed)
	c.logger.Info().Str("call_id", call.ID).Msg("call missed, ring timeout")
}

// readLoop consumes the call channel. Cross-sender interleaving is allowed,
// so every message goes through the same guarded transitions; whatever
// arrives after a terminal state is dropped with a warning.
func (c *Coordinator) readLoop(sess *session) {
	for msg := range sess.sub.Messages() {
		var sm types.SignalingMessage
		if err := json.Unmarshal(msg.Payload, &sm); err != nil {
			c.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("malformed signaling message, dropped")
			continue
		}
		c.handleSignal(sess, sm)
	}
}

func (c *Coordinator) handleSignal(sess *session, sm types.SignalingMessage) {
	ctx := context.Background()

	switch sm.Kind {
	case types.SignalOffer:
		// A second offer after connect is a protocol error; the session
		// already exists so the original offer needs no handling here.
		status := sess.snapshot().Status
		if status == types.CallStatusConnected || status.Terminal() {
			c.logger.Warn().Str("call_id", sm.CallID).Msg("late offer ignored")
		}

	case types.SignalAnswer:
		sess.mu.Lock()
		moved := sess.transitionLocked([]types.CallStatus{types.CallStatusRinging}, types.CallStatusConnected)
		if moved {
			now := time.Now()
			sess.call.ConnectedAt = &now
			sess.stopTimerLocked()
		}
		call := sess.call
		transport := sess.transport
		sess.mu.Unlock()

		if moved {
			// Answer published by a remote peer (another node or a client
			// writing to the bus directly); converge the local view.
			if err := transport.SetRemoteDescription(sm.SDP); err != nil {
				c.logger.Warn().Err(err).Str("call_id", sm.CallID).Msg("failed to apply remote description")
			}
			c.persist(ctx, call)
			c.emitCallEvent(ctx, call.CallerID, types.EventCallState, call, "", sm.SDP)
			c.finalizeAssignment(ctx, call, types.AssignmentConnected)
			metrics.Get().RecordCallConnected()
		}

	case types.SignalCandidate:
		sess.mu.Lock()
		terminal := sess.call.Status.Terminal()
		transport := sess.transport
		sess.mu.Unlock()
		if terminal {
			c.logger.Warn().Str("call_id", sm.CallID).Msg("candidate after teardown, dropped")
			return
		}
		if err := transport.AddCandidate(sm.Candidate); err != nil {
			c.logger.Warn().Err(err).Str("call_id", sm.CallID).Msg("failed to forward candidate")
		}

	case types.SignalHangup, types.SignalBusy:
		// The sender already persisted the terminal state; the receiving
		// side only converges its local view and tears down.
		to := types.CallStatusEnded
		if sm.Kind == types.SignalBusy {
			switch sm.Reason {
			case types.ReasonRingTimeout:
				to = types.CallStatusMissed
			default:
				to = types.CallStatusRejected
			}
		}
		sess.mu.Lock()
		moved := sess.transitionLocked(
			[]types.CallStatus{types.CallStatusDialing, types.CallStatusRinging, types.CallStatusConnected},
			to,
		)
		if moved {
			now := time.Now()
			sess.call.EndedAt = &now
			sess.call.EndedBy = sm.Side
			sess.stopTimerLocked()
		}
		call := sess.call
		sess.mu.Unlock()
		if moved {
			c.emitCallEvent(ctx, call.CallerID, types.EventCallState, call, sm.Reason, "")
			c.emitCallEvent(ctx, call.CalleeID, types.EventCallState, call, sm.Reason, "")
			c.teardown(call.ID)
		}

	default:
		c.logger.Warn().Str("call_id", sm.CallID).Str("kind", string(sm.Kind)).Msg("unknown signaling kind, dropped")
	}
}

// reserve enforces the single-active-call-per-identity invariant
func (c *Coordinator) reserve(callerID, calleeID, callID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[callerID]; ok {
		return ErrCallActive
	}
	if _, ok := c.active[calleeID]; ok {
		return ErrCallActive
	}
	c.active[callerID] = callID
	c.active[calleeID] = callID
	return nil
}

func (c *Coordinator) unreserve(callerID, calleeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, callerID)
	delete(c.active, calleeID)
}

func (c *Coordinator) session(callID string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[callID]
}

// teardown removes the session, frees both identities and closes the
// subscription and transport. Safe to call more than once.
func (c *Coordinator) teardown(callID string) {
	c.mu.Lock()
	sess, ok := c.sessions[callID]
	if ok {
		delete(c.sessions, callID)
		delete(c.active, sess.call.CallerID)
		delete(c.active, sess.call.CalleeID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	if sess.torndown {
		sess.mu.Unlock()
		return
	}
	sess.torndown = true
	sess.stopTimerLocked()
	sess.mu.Unlock()

	_ = sess.sub.Close()
	sess.transport.Close()
}

func (c *Coordinator) persist(ctx context.Context, call types.Call) {
	if err := c.store.PutCall(ctx, call); err != nil {
		c.logger.Error().Err(err).Str("call_id", call.ID).Msg("failed to persist call")
	}
}

func (c *Coordinator) finalizeAssignment(ctx context.Context, call types.Call, status types.AssignmentStatus) {
	if call.AssignmentID == "" {
		return
	}
	assignment, err := c.store.GetAssignment(ctx, call.AssignmentID)
	if err != nil {
		c.logger.Error().Err(err).Str("assignment_id", call.AssignmentID).Msg("failed to load assignment")
		return
	}
	assignment.Status = status
	assignment.UpdatedAt = time.Now()
	if err := c.store.PutAssignment(ctx, *assignment); err != nil {
		c.logger.Error().Err(err).Str("assignment_id", assignment.ID).Msg("failed to update assignment")
	}
}

// releaseAgent frees the callee when the call came through a queue. Direct
// calls have no claimed agent, so there is nothing to release.
func (c *Coordinator) releaseAgent(ctx context.Context, call types.Call) {
	if call.AssignmentID == "" {
		return
	}
	if err := c.releaser.Release(ctx, call.CalleeID); err != nil {
		c.logger.Error().Err(err).Str("agent_id", call.CalleeID).Msg("failed to release agent")
	}
}

func (c *Coordinator) publishSignal(ctx context.Context, sm types.SignalingMessage) {
	data, err := json.Marshal(sm)
	if err != nil {
		c.logger.Error().Err(err).Str("call_id", sm.CallID).Msg("failed to marshal signaling message")
		return
	}
	if err := c.bus.Publish(ctx, pubsub.CallChannel(sm.CallID), data); err != nil {
		c.logger.Warn().Err(err).Str("call_id", sm.CallID).Msg("failed to publish signaling message")
	}
}

func (c *Coordinator) emitCallEvent(ctx context.Context, userID, eventType string, call types.Call, reason, sdp string) {
	event := types.CallEvent{
		Type:     eventType,
		Call:     &call,
		Reason:   reason,
		SDP:      sdp,
		Occurred: time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal call event")
		return
	}
	if err := c.bus.Publish(ctx, pubsub.UserChannel(userID), data); err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to publish call event")
	}
}

func sideIdentity(call types.Call, side types.CallSide) string {
	if side == types.SideCallee {
		return call.CalleeID
	}
	return call.CallerID
}
