package types

import "time"

// SignalKind identifies a signaling message exchanged over the bus
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
	SignalHangup    SignalKind = "hangup"
	SignalBusy      SignalKind = "busy"
)

// Busy/hangup reasons carried alongside the message kind
const (
	ReasonDeclined            = "declined"
	ReasonCancelled           = "cancelled"
	ReasonRingTimeout         = "ring_timeout"
	ReasonInsufficientBalance = "insufficient_balance"
)

// SignalingMessage is the ephemeral control message scoped to one call.
// It travels over the pub/sub channel and is never persisted. Ordering is
// per-sender FIFO; cross-sender interleaving must be tolerated by receivers.
type SignalingMessage struct {
	CallID    string     `json:"callId"`
	Kind      SignalKind `json:"kind"`
	From      string     `json:"from"`
	Side      CallSide   `json:"side"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate string     `json:"candidate,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	SentAt    time.Time  `json:"sentAt"`
}

// Client event types delivered over the identity feed
const (
	EventIncomingCall = "incoming_call"
	EventCallState    = "call_state"
	EventPresence     = "presence"
	EventAssignment   = "assignment"
)

// CallEvent notifies a client about an incoming call or a call state change
type CallEvent struct {
	Type     string     `json:"type"`
	Call     *Call      `json:"call"`
	Reason   string     `json:"reason,omitempty"`
	SDP      string     `json:"sdp,omitempty"`
	Occurred time.Time  `json:"occurred"`
}

// PresenceEvent notifies dashboards about an agent presence transition
type PresenceEvent struct {
	Type     string    `json:"type"` // always "presence"
	AgentID  string    `json:"agentId"`
	Previous Presence  `json:"previous"`
	Current  Presence  `json:"current"`
	Occurred time.Time `json:"occurred"`
}

// AssignmentEvent notifies an agent that a queue assignment was handed to them
type AssignmentEvent struct {
	Type       string           `json:"type"` // always "assignment"
	Assignment *QueueAssignment `json:"assignment"`
	Occurred   time.Time        `json:"occurred"`
}
