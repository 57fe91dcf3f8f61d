package signaling

import (
	"sync"
	"time"

	"github.com/artisanmarket/callcenter/internal/pubsub"
	"github.com/artisanmarket/callcenter/internal/types"
)

// session is the per-call state object. All transitions go through
// transition() under the session lock, so the ring timer and inbound
// messages race through a single guard and exactly one wins.
type session struct {
	mu        sync.Mutex
	call      types.Call
	ringTimer *time.Timer
	sub       pubsub.Subscription
	transport PeerTransport
	torndown  bool
}

// transition moves the call to the target status if the current status is
// one of from. Terminal states are sticky: once the call has ended in any
// way, every further transition returns false.
func (s *session) transition(from []types.CallStatus, to types.CallStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(from, to)
}

func (s *session) transitionLocked(from []types.CallStatus, to types.CallStatus) bool {
	if s.call.Status.Terminal() {
		return false
	}
	for _, f := range from {
		if s.call.Status == f {
			s.call.Status = to
			return true
		}
	}
	return false
}

// snapshot returns a copy of the call row as this session sees it
func (s *session) snapshot() types.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

// stopTimerLocked disarms the ring timer; the timer callback itself is a
// no-op once the state has left ringing, so a lost Stop race is harmless.
func (s *session) stopTimerLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}
