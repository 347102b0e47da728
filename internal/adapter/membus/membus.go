// Package membus is an in-process domain.Bus.
//
// It connects several relays inside one process, which is how multi-instance
// behavior is exercised in tests. Availability can be toggled and live
// subscriptions dropped to simulate an outage of the real bus.
package membus

import (
	"context"
	"fmt"
	"sync"

	"github.com/pscheid92/flowsync/internal/domain"
)

const subscriptionBufferSize = 64

// Bus routes payloads between subscribers of the same channel.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]map[*subscription]struct{}
	available   bool
	closed      bool
}

var _ domain.Bus = (*Bus)(nil)

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]map[*subscription]struct{}),
		available:   true,
	}
}

// SetAvailable toggles whether new operations succeed. Existing
// subscriptions are left alone; use Disconnect to drop them.
func (b *Bus) SetAvailable(available bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = available
}

// Disconnect closes every live subscription, as a broker restart would.
func (b *Bus) Disconnect() {
	for _, s := range b.detachAll() {
		s.close()
	}
}

// Subscribers returns the number of live subscriptions on channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[channel])
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	if err := b.usableLocked(); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("publish: %w", err)
	}
	targets := make([]*subscription, 0, len(b.subscribers[channel]))
	for s := range b.subscribers[channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		data := make([]byte, len(payload))
		copy(data, payload)
		if err := s.deliver(ctx, data); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channel string) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usableLocked(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	s := &subscription{
		bus:      b,
		channel:  channel,
		messages: make(chan []byte, subscriptionBufferSize),
		done:     make(chan struct{}),
	}
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[*subscription]struct{})
	}
	b.subscribers[channel][s] = struct{}{}
	return s, nil
}

func (b *Bus) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usableLocked()
}

func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Disconnect()
	return nil
}

func (b *Bus) usableLocked() error {
	if b.closed {
		return domain.ErrBusClosed
	}
	if !b.available {
		return domain.ErrBusUnavailable
	}
	return nil
}

func (b *Bus) detachAll() []*subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	var all []*subscription
	for channel, subs := range b.subscribers {
		for s := range subs {
			all = append(all, s)
		}
		delete(b.subscribers, channel)
	}
	return all
}

func (b *Bus) detach(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[s.channel], s)
}

type subscription struct {
	bus       *Bus
	channel   string
	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// sendMu keeps close(messages) from racing a delivery in flight.
	sendMu sync.RWMutex
	closed bool
}

func (s *subscription) deliver(ctx context.Context, data []byte) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.messages <- data:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *subscription) Messages() <-chan []byte { return s.messages }

func (s *subscription) Close() error {
	s.bus.detach(s)
	s.close()
	return nil
}

func (s *subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sendMu.Lock()
		s.closed = true
		close(s.messages)
		s.sendMu.Unlock()
	})
}
