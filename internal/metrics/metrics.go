package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/artisanmarket/callcenter/internal/types"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Queue metrics
	EnqueueTotal       int64
	AssignmentsRinging int64
	AssignmentsNoAgent int64

	// Call metrics
	CallsStartedTotal   int64
	CallsConnectedTotal int64
	callsFinished       map[types.CallStatus]int64

	// Credit metrics
	DebitsTotal int64

	// Event feed metrics
	FeedConnectionsTotal    int64
	FeedDisconnectionsTotal int64
	activeFeedConnections   int64

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			callsFinished: make(map[types.CallStatus]int64),
			startTime:     time.Now(),
		}
	})
	return instance
}

// RecordEnqueue counts an enqueue with its outcome
func (m *Metrics) RecordEnqueue(status types.AssignmentStatus) {
	m.mu.Lock()
	m.EnqueueTotal++
	switch status {
	case types.AssignmentRinging:
		m.AssignmentsRinging++
	case types.AssignmentNoAgent:
		m.AssignmentsNoAgent++
	}
	m.mu.Unlock()
}

// RecordCallStarted increments the started-call counter
func (m *Metrics) RecordCallStarted() {
	m.mu.Lock()
	m.CallsStartedTotal++
	m.mu.Unlock()
}

// RecordCallConnected increments the connected-call counter
func (m *Metrics) RecordCallConnected() {
	m.mu.Lock()
	m.CallsConnectedTotal++
	m.mu.Unlock()
}

// RecordCallFinished tallies a call by its terminal status
func (m *Metrics) RecordCallFinished(status types.CallStatus) {
	m.mu.Lock()
	m.callsFinished[status]++
	m.mu.Unlock()
}

// RecordDebit increments the credit debit counter
func (m *Metrics) RecordDebit() {
	m.mu.Lock()
	m.DebitsTotal++
	m.mu.Unlock()
}

// RecordFeedConnect tracks a new event-feed connection
func (m *Metrics) RecordFeedConnect() {
	m.mu.Lock()
	m.FeedConnectionsTotal++
	m.activeFeedConnections++
	m.mu.Unlock()
}

// RecordFeedDisconnect tracks an event-feed disconnection
func (m *Metrics) RecordFeedDisconnect() {
	m.mu.Lock()
	m.FeedDisconnectionsTotal++
	if m.activeFeedConnections > 0 {
		m.activeFeedConnections--
	}
	m.mu.Unlock()
}

// Snapshot is the JSON shape served by the metrics endpoint
type Snapshot struct {
	UptimeSeconds           float64                    `json:"uptimeSeconds"`
	EnqueueTotal            int64                      `json:"enqueueTotal"`
	AssignmentsRinging      int64                      `json:"assignmentsRinging"`
	AssignmentsNoAgent      int64                      `json:"assignmentsNoAgent"`
	CallsStartedTotal       int64                      `json:"callsStartedTotal"`
	CallsConnectedTotal     int64                      `json:"callsConnectedTotal"`
	CallsFinished           map[types.CallStatus]int64 `json:"callsFinished"`
	DebitsTotal             int64                      `json:"debitsTotal"`
	FeedConnectionsTotal    int64                      `json:"feedConnectionsTotal"`
	FeedDisconnectionsTotal int64                      `json:"feedDisconnectionsTotal"`
	ActiveFeedConnections   int64                      `json:"activeFeedConnections"`
}

// GetSnapshot returns a copy of the current counters
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	finished := make(map[types.CallStatus]int64, len(m.callsFinished))
	for k, v := range m.callsFinished {
		finished[k] = v
	}

	return Snapshot{
		UptimeSeconds:           time.Since(m.startTime).Seconds(),
		EnqueueTotal:            m.EnqueueTotal,
		AssignmentsRinging:      m.AssignmentsRinging,
		AssignmentsNoAgent:      m.AssignmentsNoAgent,
		CallsStartedTotal:       m.CallsStartedTotal,
		CallsConnectedTotal:     m.CallsConnectedTotal,
		CallsFinished:           finished,
		DebitsTotal:             m.DebitsTotal,
		FeedConnectionsTotal:    m.FeedConnectionsTotal,
		FeedDisconnectionsTotal: m.FeedDisconnectionsTotal,
		ActiveFeedConnections:   m.activeFeedConnections,
	}
}

// Handler serves the metrics snapshot as JSON
func (m *Metrics) Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.GetSnapshot())
}
