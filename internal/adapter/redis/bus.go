package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pscheid92/flowsync/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const subscriptionBufferSize = 64

// Bus publishes and subscribes through Redis Pub/Sub.
type Bus struct {
	rdb *goredis.Client
}

var _ domain.Bus = (*Bus)(nil)

// NewBus creates a Bus on top of an existing client. The bus owns the client
// from here on and closes it in Close.
func NewBus(rdb *goredis.Client) *Bus {
	return &Bus{rdb: rdb}
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return b.wrap("publish", err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (b *Bus) Subscribe(ctx context.Context, channel string) (domain.Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, b.wrap("subscribe", err)
	}
	return newSubscription(ps), nil
}

func (b *Bus) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return b.wrap("ping", err)
	}
	return nil
}

func (b *Bus) Close() error {
	if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

func (b *Bus) wrap(op string, err error) error {
	if errors.Is(err, goredis.ErrClosed) {
		return fmt.Errorf("redis %s: %w", op, domain.ErrBusClosed)
	}
	return fmt.Errorf("redis %s: %w: %w", op, domain.ErrBusUnavailable, err)
}

// subscription forwards go-redis messages as raw payloads.
type subscription struct {
	ps        *goredis.PubSub
	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(ps *goredis.PubSub) *subscription {
	s := &subscription{
		ps:       ps,
		messages: make(chan []byte, subscriptionBufferSize),
		done:     make(chan struct{}),
	}
	go s.forward()
	return s
}

func (s *subscription) forward() {
	defer close(s.messages)
	in := s.ps.Channel()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.messages <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Messages() <-chan []byte { return s.messages }

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
