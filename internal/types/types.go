package types

import "time"

// Role identifies what kind of identity participates in a call
type Role string

const (
	RoleCustomer Role = "customer"
	RolePartner  Role = "partner"
	RoleAdmin    Role = "admin"
)

// HasBalance reports whether this role carries a prepaid answer balance
func (r Role) HasBalance() bool {
	return r == RolePartner
}

// Presence represents the availability state of an agent
type Presence string

const (
	PresenceOffline Presence = "offline"
	PresenceOnline  Presence = "online"
	PresenceBusy    Presence = "busy"
)

// Queue is a named pool of agents eligible for a support category.
// Immutable except for membership; created administratively.
type Queue struct {
	Slug     string   `json:"slug" dynamodbav:"Slug"`
	Name     string   `json:"name" dynamodbav:"Name"`
	AgentIDs []string `json:"agentIds" dynamodbav:"AgentIDs"`
}

// Agent is a human operator identity serving one or more queues.
// LastAssignedAt drives least-recently-assigned fairness.
type Agent struct {
	ID             string    `json:"id" dynamodbav:"ID"`
	Role           Role      `json:"role" dynamodbav:"Role"`
	Presence       Presence  `json:"presence" dynamodbav:"Presence"`
	Queues         []string  `json:"queues" dynamodbav:"Queues"`
	LastAssignedAt time.Time `json:"lastAssignedAt" dynamodbav:"LastAssignedAt"`
}

// Balance holds prepaid answer credits for balance-carrying roles
type Balance struct {
	UserID string `json:"userId" dynamodbav:"UserID"`
	Units  int64  `json:"units" dynamodbav:"Units"`
}
