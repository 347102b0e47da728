package domain

import (
	"context"
)

// BroadcastChannel is the single topic shared by all relay instances.
const BroadcastChannel = "flowsync:broadcast"

// Bus is a named-channel publish/subscribe transport between relay instances.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Subscription delivers raw payloads published on a channel.
// Messages is closed when the subscription is lost or closed.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}
