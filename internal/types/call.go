package types

import "time"

// CallStatus represents the lifecycle state of a call
type CallStatus string

const (
	CallStatusDialing   CallStatus = "dialing"   // Caller created the call, offer not yet out
	CallStatusRinging   CallStatus = "ringing"   // Offer delivered, callee not yet answered
	CallStatusConnected CallStatus = "connected" // Both sides exchanged descriptions
	CallStatusEnded     CallStatus = "ended"     // Hung up after (or before) connect
	CallStatusMissed    CallStatus = "missed"    // Ring timeout elapsed
	CallStatusRejected  CallStatus = "rejected"  // Callee declined or was credit-blocked
	CallStatusFailed    CallStatus = "failed"    // Transport-level failure
)

// Terminal reports whether the status is final. Terminal states are sticky:
// once reached, no further transition is observable.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusMissed, CallStatusRejected, CallStatusFailed:
		return true
	}
	return false
}

// CallSide identifies which participant performed an action
type CallSide string

const (
	SideCaller CallSide = "caller"
	SideCallee CallSide = "callee"
	SideSystem CallSide = "system"
)

// Call represents one peer-to-peer audio session between two identities
type Call struct {
	ID           string     `json:"id" dynamodbav:"ID"`
	CallerID     string     `json:"callerId" dynamodbav:"CallerID"`
	CallerRole   Role       `json:"callerRole" dynamodbav:"CallerRole"`
	CalleeID     string     `json:"calleeId" dynamodbav:"CalleeID"`
	CalleeRole   Role       `json:"calleeRole" dynamodbav:"CalleeRole"`
	Status       CallStatus `json:"status" dynamodbav:"Status"`
	AssignmentID string     `json:"assignmentId,omitempty" dynamodbav:"AssignmentID"`
	StartedAt    time.Time  `json:"startedAt" dynamodbav:"StartedAt"`
	ConnectedAt  *time.Time `json:"connectedAt,omitempty" dynamodbav:"ConnectedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty" dynamodbav:"EndedAt"`
	EndedBy      CallSide   `json:"endedBy,omitempty" dynamodbav:"EndedBy"`
}

// Duration returns the connected duration, zero if the call never connected
func (c *Call) Duration() time.Duration {
	if c.ConnectedAt == nil || c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(*c.ConnectedAt)
}

// AssignmentStatus represents the lifecycle state of a queue assignment
type AssignmentStatus string

const (
	AssignmentQueued    AssignmentStatus = "queued"
	AssignmentRinging   AssignmentStatus = "ringing"
	AssignmentConnected AssignmentStatus = "connected"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentAbandoned AssignmentStatus = "abandoned"
	AssignmentNoAgent   AssignmentStatus = "no_agent"
)

// SourceDescriptor describes where an enqueue request originated.
// CallerID/CallerRole are verified upstream; the free-text fields are
// caller-supplied and capped by the engine.
type SourceDescriptor struct {
	CallerID    string `json:"callerId" dynamodbav:"CallerID"`
	CallerRole  Role   `json:"callerRole" dynamodbav:"CallerRole"`
	Channel     string `json:"channel,omitempty" dynamodbav:"Channel"`
	CallerName  string `json:"callerName,omitempty" dynamodbav:"CallerName"`
	CallerPhone string `json:"callerPhone,omitempty" dynamodbav:"CallerPhone"`
	Message     string `json:"message,omitempty" dynamodbav:"Message"`
}

// QueueAssignment tracks one caller's request for a human agent,
// independently of the resulting Call
type QueueAssignment struct {
	ID        string           `json:"id" dynamodbav:"ID"`
	QueueSlug string           `json:"queueSlug" dynamodbav:"QueueSlug"`
	Source    SourceDescriptor `json:"source" dynamodbav:"Source"`
	Status    AssignmentStatus `json:"status" dynamodbav:"Status"`
	AgentID   string           `json:"agentId,omitempty" dynamodbav:"AgentID"`
	CallID    string           `json:"callId,omitempty" dynamodbav:"CallID"`
	CreatedAt time.Time        `json:"createdAt" dynamodbav:"CreatedAt"`
	UpdatedAt time.Time        `json:"updatedAt" dynamodbav:"UpdatedAt"`
}
