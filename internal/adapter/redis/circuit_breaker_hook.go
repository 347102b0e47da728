package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/flowsync/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const (
	breakerFailureRate   = 0.6
	breakerMinRequests   = 5
	breakerWindow        = 10 * time.Second
	breakerOpenDelay     = 30 * time.Second
	breakerSuccessNeeded = 1
)

// CircuitBreakerHook fails commands fast while Redis is unreachable. An open
// breaker turns every publish into an immediate error, which the relay
// answers with local-only delivery.
//
// Subscription reads do not pass through command hooks; only redialing a
// lost subscription is guarded, via DialHook.
type CircuitBreakerHook struct {
	cb circuitbreaker.CircuitBreaker[any]
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

// NewCircuitBreakerHook opens at a 60% failure rate over at least 5 calls in
// a 10s window, probes again after 30s and closes on the first success.
func NewCircuitBreakerHook(m *metrics.RedisMetrics) *CircuitBreakerHook {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(breakerFailureRate, breakerMinRequests, breakerWindow).
		WithDelay(breakerOpenDelay).
		WithSuccessThreshold(breakerSuccessNeeded).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Redis circuit breaker state changed",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.CircuitBreakerStateChanges.WithLabelValues(e.NewState.String()).Inc()
			m.CircuitBreakerState.Set(stateGaugeValue(e.NewState))
		}).
		Build()

	return &CircuitBreakerHook{cb: cb}
}

func stateGaugeValue(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// countsAsFailure reports whether err says something about Redis health.
// A missing key or a caller giving up does not.
func countsAsFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, goredis.Nil) &&
		!errors.Is(err, context.Canceled)
}

// guard runs op under the breaker. op's error is returned unwrapped so that
// callers can still match redis sentinel errors.
func (h *CircuitBreakerHook) guard(op string, fn func() error) error {
	if !h.cb.TryAcquirePermit() {
		return fmt.Errorf("redis %s rejected: %w", op, circuitbreaker.ErrOpen)
	}
	err := fn()
	if countsAsFailure(err) {
		h.cb.RecordError(err)
	} else {
		h.cb.RecordSuccess()
	}
	return err
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var conn net.Conn
		err := h.guard("dial", func() error {
			var err error
			conn, err = next(ctx, network, addr)
			return err
		})
		return conn, err
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		return h.guard(cmd.Name(), func() error { return next(ctx, cmd) })
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		return h.guard("pipeline", func() error { return next(ctx, cmds) })
	}
}

func (h *CircuitBreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}
