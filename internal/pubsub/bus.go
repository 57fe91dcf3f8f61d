package pubsub

import "context"

// Channel naming: one channel per call for signaling, one per identity for
// the client event feed. Channel names are opaque to the bus.

// CallChannel returns the signaling channel for a call
func CallChannel(callID string) string {
	return "call:" + callID
}

// UserChannel returns the event-feed channel for an identity
func UserChannel(userID string) string {
	return "user:" + userID
}

// Message is one payload delivered to a channel subscriber
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live attachment to one or more channels.
// Messages from a single publisher arrive in publish order.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Bus is the signaling transport: small payloads fanned out to all
// current subscribers of an opaque channel name, with per-sender ordering.
// Delivery is at-most-once to currently connected subscribers.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Close() error
}
