package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/flowsync/internal/adapter/metrics"
	"github.com/pscheid92/flowsync/internal/domain"
)

const (
	commandTimeout      = 5 * time.Second
	stopTimeout         = 10 * time.Second
	commandChannelSize  = 256
	depthCheckInterval  = 1 * time.Second
	depthWarnAtCapacity = commandChannelSize * 8 / 10
)

// Snapshot is a point-in-time view of the registry.
type Snapshot struct {
	IDs    []domain.ClientID
	Colors map[domain.ClientID]string
}

// Registration describes a freshly registered client.
// Snapshot includes the new client.
type Registration struct {
	ID       domain.ClientID
	Color    string
	Total    int
	Snapshot Snapshot
	Replaced bool
}

// LeaveResult is returned by Leave.
type LeaveResult struct {
	Remaining  int
	Superseded bool
}

// FanoutReport summarizes one delivery pass.
type FanoutReport struct {
	Delivered int
	Evicted   []domain.ClientID
}

// GreetFunc builds the first frame queued on a new connection.
type GreetFunc func(Registration) ([]byte, error)

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerResult struct {
	reg Registration
	err error
}

// A register command is claimed by the hub or abandoned by its caller,
// whichever happens first.
const (
	registerPending int32 = iota
	registerClaimed
	registerAbandoned
)

type registerCmd struct {
	baseHubCmd
	id    domain.ClientID
	conn  Conn
	greet GreetFunc
	state *atomic.Int32
	reply chan registerResult
}

type unregisterCmd struct {
	baseHubCmd
	id    domain.ClientID
	reply chan struct{}
}

type leaveCmd struct {
	baseHubCmd
	id    domain.ClientID
	conn  Conn
	reply chan LeaveResult
}

type snapshotCmd struct {
	baseHubCmd
	reply chan Snapshot
}

type forEachCmd struct {
	baseHubCmd
	exclude domain.ClientID
	fn      func(domain.ClientID, Conn)
	reply   chan error
}

type countCmd struct {
	baseHubCmd
	reply chan int
}

type broadcastResult struct {
	report FanoutReport
	err    error
}

type broadcastCmd struct {
	baseHubCmd
	data    []byte
	exclude domain.ClientID
	reply   chan broadcastResult
}

type sealCmd struct {
	baseHubCmd
	reply chan struct{}
}

type stopCmd struct {
	baseHubCmd
}

// Hub is the connection registry actor.
type Hub struct {
	cmdCh          chan hubCmd
	clock          clockwork.Clock
	registry       *registry
	metrics        *metrics.HubMetrics
	sealed         bool
	done           chan struct{}
	stopOnce       sync.Once
	commandTimeout time.Duration
	stopTimeout    time.Duration
}

// New starts a hub that assigns colors from palette.
func New(palette domain.Palette, clock clockwork.Clock, m *metrics.HubMetrics) *Hub {
	h := &Hub{
		cmdCh:          make(chan hubCmd, commandChannelSize),
		clock:          clock,
		registry:       newRegistry(palette),
		metrics:        m,
		done:           make(chan struct{}),
		commandTimeout: commandTimeout,
		stopTimeout:    stopTimeout,
	}
	go h.run()
	return h
}

// Register adds conn under id and returns its assigned color and a snapshot
// taken right after insertion. If greet is set, its frame is queued on conn
// before the hub processes any other command, so it precedes every fanout.
//
// A second registration for an id that is already present replaces the
// prior connection, which is closed with ReasonReplaced; the new connection
// inherits the prior color.
//
// A registration that returns ErrCmdTimeout never takes effect.
func (h *Hub) Register(id domain.ClientID, conn Conn, greet GreetFunc) (Registration, error) {
	if id == "" {
		return Registration{}, domain.ErrEmptyClientID
	}
	if conn == nil {
		return Registration{}, ErrInvalidConn
	}
	state := new(atomic.Int32)
	var replyCh chan registerResult
	res, err := request(h, "register", func(reply chan registerResult) hubCmd {
		replyCh = reply
		return registerCmd{id: id, conn: conn, greet: greet, state: state, reply: reply}
	})
	if errors.Is(err, ErrCmdTimeout) && !state.CompareAndSwap(registerPending, registerAbandoned) {
		// The hub picked the command up before the deadline and will answer.
		select {
		case res = <-replyCh:
			err = nil
		case <-h.done:
			select {
			case res = <-replyCh:
				err = nil
			default:
				return Registration{}, ErrStopped
			}
		}
	}
	if err != nil {
		return Registration{}, err
	}
	return res.reg, res.err
}

// Unregister removes id regardless of which connection holds it and closes
// that connection. Unknown ids are ignored.
func (h *Hub) Unregister(id domain.ClientID) error {
	_, err := request(h, "unregister", func(reply chan struct{}) hubCmd {
		return unregisterCmd{id: id, reply: reply}
	})
	return err
}

// Leave removes id only if it is still held by conn. Superseded is set when a
// newer connection took the id over, in which case nothing is removed.
func (h *Hub) Leave(id domain.ClientID, conn Conn) (LeaveResult, error) {
	return request(h, "leave", func(reply chan LeaveResult) hubCmd {
		return leaveCmd{id: id, conn: conn, reply: reply}
	})
}

// Snapshot returns the registered ids in join order and their colors.
func (h *Hub) Snapshot() (Snapshot, error) {
	return request(h, "snapshot", func(reply chan Snapshot) hubCmd {
		return snapshotCmd{reply: reply}
	})
}

// ForEachExcept calls fn for every registered client other than exclude.
// fn runs on the hub goroutine and must not call back into the hub.
func (h *Hub) ForEachExcept(exclude domain.ClientID, fn func(domain.ClientID, Conn)) error {
	res, err := request(h, "for_each", func(reply chan error) hubCmd {
		return forEachCmd{exclude: exclude, fn: fn, reply: reply}
	})
	if err != nil {
		return err
	}
	return res
}

// Count returns the number of registered clients.
// Returns -1 if the hub does not answer in time.
func (h *Hub) Count() int {
	n, err := request(h, "count", func(reply chan int) hubCmd {
		return countCmd{reply: reply}
	})
	if err != nil {
		slog.Warn("Hub count unavailable", "error", err)
		return -1
	}
	return n
}

// Broadcast queues data on every connection except exclude. Connections
// whose send fails are evicted once the pass is complete; the others are
// unaffected.
func (h *Hub) Broadcast(data []byte, exclude domain.ClientID) (FanoutReport, error) {
	res, err := request(h, "broadcast", func(reply chan broadcastResult) hubCmd {
		return broadcastCmd{data: data, exclude: exclude, reply: reply}
	})
	if err != nil {
		return FanoutReport{}, err
	}
	return res.report, res.err
}

// Seal makes the hub reject new registrations and deliveries. Removal and
// queries keep working so departing connections can clean up.
func (h *Hub) Seal() error {
	_, err := request(h, "seal", func(reply chan struct{}) hubCmd {
		return sealCmd{reply: reply}
	})
	return err
}

// Stop closes every remaining connection and terminates the hub.
// Blocks until the hub goroutine has exited or the stop timeout is reached.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		select {
		case h.cmdCh <- stopCmd{}:
		case <-h.done:
			return
		}

		timeout := h.clock.NewTimer(h.stopTimeout)
		defer timeout.Stop()

		select {
		case <-h.done:
			slog.Info("Hub stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Hub stop timeout exceeded", "timeout", h.stopTimeout)
			h.metrics.StopTimeouts.Inc()
		}
	})
}

// request enqueues a command and waits for its reply, both bounded by the
// command timeout.
func request[T any](h *Hub, name string, build func(chan T) hubCmd) (T, error) {
	var zero T
	reply := make(chan T, 1)

	timer := h.clock.NewTimer(h.commandTimeout)
	defer timer.Stop()

	select {
	case h.cmdCh <- build(reply):
	case <-h.done:
		return zero, ErrStopped
	case <-timer.Chan():
		return zero, fmt.Errorf("%s: %w after %v", name, ErrCmdTimeout, h.commandTimeout)
	}

	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrStopped
		}
	case <-timer.Chan():
		return zero, fmt.Errorf("%s: %w after %v", name, ErrCmdTimeout, h.commandTimeout)
	}
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			h.metrics.Panics.Inc()
			h.closeAll(ReasonShutdown)
		}
	}()
	defer close(h.done)

	depthTicker := h.clock.NewTicker(depthCheckInterval)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			h.metrics.CommandDepth.Set(float64(depth))
			if depth > depthWarnAtCapacity {
				slog.Warn("Hub command channel near capacity", "depth", depth, "capacity", cap(h.cmdCh))
			}

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				h.handleRegister(c)
			case unregisterCmd:
				h.handleUnregister(c)
			case leaveCmd:
				h.handleLeave(c)
			case snapshotCmd:
				c.reply <- h.registry.snapshot()
			case forEachCmd:
				h.handleForEach(c)
			case countCmd:
				c.reply <- h.registry.len()
			case broadcastCmd:
				h.handleBroadcast(c)
			case sealCmd:
				h.sealed = true
				c.reply <- struct{}{}
			case stopCmd:
				h.handleStop()
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	if !c.state.CompareAndSwap(registerPending, registerClaimed) {
		slog.Warn("Dropping registration abandoned by its caller", "client_id", c.id.String())
		h.metrics.Registrations.WithLabelValues("abandoned").Inc()
		return
	}
	if h.sealed {
		h.metrics.Registrations.WithLabelValues("rejected").Inc()
		c.reply <- registerResult{err: ErrSealed}
		return
	}

	color, prior := h.registry.add(c.id, c.conn)
	reg := Registration{
		ID:       c.id,
		Color:    color,
		Total:    h.registry.len(),
		Snapshot: h.registry.snapshot(),
		Replaced: prior != nil,
	}

	if prior != nil {
		slog.Info("Client id reconnected, closing prior connection", "client_id", c.id.String())
		prior.Close(ReasonReplaced)
		h.metrics.Registrations.WithLabelValues("replaced").Inc()
	} else {
		h.metrics.Registrations.WithLabelValues("new").Inc()
	}

	if c.greet != nil {
		if err := h.greet(c, reg); err != nil {
			h.registry.remove(c.id, c.conn)
			h.metrics.ConnectedClients.Set(float64(h.registry.len()))
			c.reply <- registerResult{err: err}
			return
		}
	}

	h.metrics.ConnectedClients.Set(float64(h.registry.len()))
	slog.Debug("Client registered", "client_id", c.id.String(), "color", color, "total_clients", reg.Total)
	c.reply <- registerResult{reg: reg}
}

func (h *Hub) greet(c registerCmd, reg Registration) error {
	frame, err := c.greet(reg)
	if err != nil {
		return fmt.Errorf("failed to build greeting: %w", err)
	}
	if err := c.conn.TrySend(frame); err != nil {
		return fmt.Errorf("failed to queue greeting: %w", err)
	}
	h.metrics.Deliveries.Inc()
	return nil
}

func (h *Hub) handleUnregister(c unregisterCmd) {
	if conn, _ := h.registry.remove(c.id, nil); conn != nil {
		conn.Close(ReasonUnregistered)
		h.metrics.ConnectedClients.Set(float64(h.registry.len()))
		slog.Debug("Client unregistered", "client_id", c.id.String(), "remaining_clients", h.registry.len())
	}
	c.reply <- struct{}{}
}

func (h *Hub) handleLeave(c leaveCmd) {
	removed, superseded := h.registry.remove(c.id, c.conn)
	if removed != nil {
		h.metrics.ConnectedClients.Set(float64(h.registry.len()))
		slog.Debug("Client left", "client_id", c.id.String(), "remaining_clients", h.registry.len())
	}
	c.reply <- LeaveResult{Remaining: h.registry.len(), Superseded: superseded}
}

func (h *Hub) handleForEach(c forEachCmd) {
	if h.sealed {
		c.reply <- ErrSealed
		return
	}
	for id, e := range h.registry.entries {
		if id == c.exclude {
			continue
		}
		c.fn(id, e.conn)
	}
	c.reply <- nil
}

type failedDelivery struct {
	id   domain.ClientID
	conn Conn
	err  error
}

func (h *Hub) handleBroadcast(c broadcastCmd) {
	if h.sealed {
		c.reply <- broadcastResult{err: ErrSealed}
		return
	}

	start := h.clock.Now()
	var report FanoutReport
	var failed []failedDelivery

	for id, e := range h.registry.entries {
		if id == c.exclude {
			continue
		}
		if err := e.conn.TrySend(c.data); err != nil {
			failed = append(failed, failedDelivery{id: id, conn: e.conn, err: err})
			continue
		}
		report.Delivered++
	}

	for _, f := range failed {
		h.evict(f)
		report.Evicted = append(report.Evicted, f.id)
	}

	h.metrics.Deliveries.Add(float64(report.Delivered))
	h.metrics.FanoutDuration.Observe(h.clock.Since(start).Seconds())
	c.reply <- broadcastResult{report: report}
}

func (h *Hub) evict(f failedDelivery) {
	h.registry.remove(f.id, f.conn)
	h.metrics.ConnectedClients.Set(float64(h.registry.len()))

	reason, label := ReasonSendFailed, "error"
	switch {
	case errors.Is(f.err, ErrBufferFull):
		reason, label = ReasonSlowConsumer, "slow"
	case errors.Is(f.err, ErrConnClosed):
		label = "closed"
	}

	slog.Warn("Evicting client after failed delivery", "client_id", f.id.String(), "reason", label, "error", f.err)
	h.metrics.Evictions.WithLabelValues(label).Inc()
	f.conn.Close(reason)
}

func (h *Hub) handleStop() {
	total := h.registry.len()
	slog.Info("Hub shutting down", "total_clients", total)
	h.closeAll(ReasonShutdown)
	slog.Info("Hub shutdown complete", "disconnected_clients", total)
}

// closeAll closes every connection with reason and empties the registry.
// Used during graceful shutdown and panic recovery.
func (h *Hub) closeAll(reason string) {
	h.sealed = true
	for _, e := range h.registry.clear() {
		e.conn.Close(reason)
	}
	h.metrics.ConnectedClients.Set(0)
}
