// Package relay bridges local fanout and the cross-instance broadcast bus.
//
// Publish sends a message to every instance through the bus; each instance's
// listener receives it and delivers it to its own connections, skipping the
// sender. Without a usable bus the relay delivers locally only.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/flowsync/internal/adapter/metrics"
	"github.com/pscheid92/flowsync/internal/domain"
	"github.com/pscheid92/flowsync/internal/hub"
	"github.com/pscheid92/flowsync/internal/platform/retry"
	"golang.org/x/sync/singleflight"
)

const (
	publishTimeout        = 2 * time.Second
	pingTimeout           = 2 * time.Second
	resubscribeBackoff    = 500 * time.Millisecond
	resubscribeMaxBackoff = 30 * time.Second
	resubscribeJitter     = 0.2
)

// Bus status values reported by Status.
const (
	StatusConnected     = "connected"
	StatusDisconnected  = "disconnected"
	StatusNotConfigured = "not_configured"
)

// Fanout is the local delivery side of the relay.
type Fanout interface {
	Broadcast(data []byte, exclude domain.ClientID) (hub.FanoutReport, error)
	Seal() error
	Stop()
}

// Relay publishes messages and runs the bus listener.
type Relay struct {
	fanout  Fanout
	bus     domain.Bus
	clock   clockwork.Clock
	metrics *metrics.BusMetrics

	subscribed atomic.Bool
	probe      singleflight.Group

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a relay. A nil bus runs the relay in local-only mode.
func New(fanout Fanout, bus domain.Bus, clock clockwork.Clock, m *metrics.BusMetrics) *Relay {
	return &Relay{
		fanout:  fanout,
		bus:     bus,
		clock:   clock,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Publish delivers msg to every client except sender, on all instances when
// the bus is usable and on this instance otherwise. Bus failures are absorbed;
// the returned error reports only a failed local delivery.
func (r *Relay) Publish(ctx context.Context, msg domain.Message, sender domain.ClientID) error {
	msg.SenderID = sender

	reason := r.publishToBus(ctx, msg)
	if reason == "" {
		return nil
	}

	r.metrics.Fallbacks.WithLabelValues(reason).Inc()
	_, err := r.LocalFanout(msg, sender)
	return err
}

// publishToBus returns the fallback reason, or "" once the bus took the message.
func (r *Relay) publishToBus(ctx context.Context, msg domain.Message) string {
	if r.bus == nil {
		return "not_configured"
	}
	if !r.subscribed.Load() {
		return "not_subscribed"
	}

	data, err := msg.EncodeWire()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode message for bus", "type", string(msg.Type), "error", err)
		return "encode_error"
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := r.bus.Publish(ctx, domain.BroadcastChannel, data); err != nil {
		slog.WarnContext(ctx, "Bus publish failed, delivering locally", "type", string(msg.Type), "error", err)
		r.metrics.Published.WithLabelValues("error").Inc()
		return "publish_error"
	}
	r.metrics.Published.WithLabelValues("ok").Inc()
	return ""
}

// LocalFanout delivers msg to this instance's clients except exclude.
func (r *Relay) LocalFanout(msg domain.Message, exclude domain.ClientID) (hub.FanoutReport, error) {
	data, err := msg.EncodeClient()
	if err != nil {
		return hub.FanoutReport{}, err
	}

	report, err := r.fanout.Broadcast(data, exclude)
	if err != nil {
		return report, fmt.Errorf("local fanout of %s: %w", msg.Type, err)
	}
	if len(report.Evicted) > 0 {
		slog.Info("Fanout evicted clients", "type", string(msg.Type), "evicted", len(report.Evicted), "delivered", report.Delivered)
	}
	return report, nil
}

// Start launches the bus listener. It is a no-op without a bus and on any
// call after the first.
func (r *Relay) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		if r.bus == nil {
			slog.Info("No broadcast bus configured, running in local-only mode")
			close(r.done)
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		go r.listen(ctx)
	})
}

// Subscribed reports whether the listener currently holds a subscription.
func (r *Relay) Subscribed() bool { return r.subscribed.Load() }

// Configured reports whether the relay has a bus at all.
func (r *Relay) Configured() bool { return r.bus != nil }

// Ping probes the bus. Concurrent callers share one probe.
func (r *Relay) Ping(ctx context.Context) error {
	if r.bus == nil {
		return domain.ErrBusUnavailable
	}

	ch := r.probe.DoChan("ping", func() (any, error) {
		pctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		return nil, r.bus.Ping(pctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status summarizes bus health for the health endpoints.
func (r *Relay) Status(ctx context.Context) string {
	if r.bus == nil {
		return StatusNotConfigured
	}
	if err := r.Ping(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// Shutdown seals local delivery, stops the listener, closes the bus and
// finally stops the hub. No message is delivered once Shutdown has begun.
func (r *Relay) Shutdown(ctx context.Context) error {
	var errs []error

	if err := r.fanout.Seal(); err != nil {
		errs = append(errs, fmt.Errorf("seal hub: %w", err))
	}

	r.startOnce.Do(func() { close(r.done) })
	if r.cancel != nil {
		r.cancel()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("listener did not stop: %w", ctx.Err()))
	}

	if r.bus != nil {
		if err := r.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus: %w", err))
		}
	}

	r.fanout.Stop()
	return errors.Join(errs...)
}

func (r *Relay) listen(ctx context.Context) {
	defer close(r.done)

	policy := retry.Policy{
		InitialBackoff: resubscribeBackoff,
		MaxBackoff:     resubscribeMaxBackoff,
		Jitter:         resubscribeJitter,
		Clock:          r.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Broadcast subscribe failed, retrying",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
			r.metrics.Resubscribes.Inc()
		},
	}

	for {
		sub, err := retry.Do(ctx, policy, retry.Always, func() (domain.Subscription, error) {
			return r.bus.Subscribe(ctx, domain.BroadcastChannel)
		})
		if err != nil {
			slog.Info("Broadcast listener stopped", "reason", err)
			return
		}

		r.setSubscribed(true)
		slog.Info("Subscribed to broadcast channel", "channel", domain.BroadcastChannel)

		r.consume(ctx, sub)

		r.setSubscribed(false)
		_ = sub.Close()

		if ctx.Err() != nil {
			slog.Info("Broadcast listener stopped")
			return
		}

		slog.Warn("Broadcast subscription lost, resubscribing", "backoff", resubscribeBackoff)
		r.metrics.Resubscribes.Inc()

		timer := r.clock.NewTimer(resubscribeBackoff)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (r *Relay) consume(ctx context.Context, sub domain.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			r.deliver(payload)
		}
	}
}

func (r *Relay) deliver(payload []byte) {
	msg, err := domain.DecodeWire(payload)
	if err != nil {
		slog.Warn("Skipping malformed bus message", "error", err, "size", len(payload))
		r.metrics.DecodeErrors.Inc()
		return
	}
	r.metrics.Received.Inc()

	if _, err := r.LocalFanout(msg, msg.SenderID); err != nil {
		if errors.Is(err, hub.ErrSealed) || errors.Is(err, hub.ErrStopped) {
			slog.Debug("Dropping bus message during shutdown", "type", string(msg.Type))
			return
		}
		slog.Error("Failed to deliver bus message", "type", string(msg.Type), "error", err)
	}
}

func (r *Relay) setSubscribed(v bool) {
	r.subscribed.Store(v)
	if v {
		r.metrics.Subscribed.Set(1)
	} else {
		r.metrics.Subscribed.Set(0)
	}
}
