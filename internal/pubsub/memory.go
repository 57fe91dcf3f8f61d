package pubsub

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus with the same delivery semantics as the
// Redis bus: fanout to all current subscribers, per-publisher ordering.
// Used in tests and single-node deployments without Redis.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBus creates an empty in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[*memorySubscription]struct{}),
	}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[channel] {
		select {
		case sub.out <- Message{Channel: channel, Payload: payload}:
		default:
			// Subscriber is not draining; dropping beats blocking the
			// publisher, same as a slow websocket client.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	sub := &memorySubscription{
		bus:      b,
		channels: channels,
		out:      make(chan Message, 256),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range channels {
		if b.subs[ch] == nil {
			b.subs[ch] = make(map[*memorySubscription]struct{})
		}
		b.subs[ch][sub] = struct{}{}
	}
	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, chans := range b.subs {
		for sub := range chans {
			sub.closeOnce.Do(func() { close(sub.out) })
		}
	}
	b.subs = make(map[string]map[*memorySubscription]struct{})
	return nil
}

type memorySubscription struct {
	bus       *MemoryBus
	channels  []string
	out       chan Message
	closeOnce sync.Once
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	for _, ch := range s.channels {
		delete(s.bus.subs[ch], s)
		if len(s.bus.subs[ch]) == 0 {
			delete(s.bus.subs, ch)
		}
	}
	s.bus.mu.Unlock()

	s.closeOnce.Do(func() { close(s.out) })
	return nil
}
