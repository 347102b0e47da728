// Package websocket terminates client WebSocket connections.
//
// Gateway upgrades a request, registers the connection with the hub and
// relays every inbound frame; clientWriter owns all writes to a connection.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/flowsync/internal/adapter/metrics"
	"github.com/pscheid92/flowsync/internal/domain"
	"github.com/pscheid92/flowsync/internal/hub"
	"github.com/pscheid92/flowsync/internal/platform/correlation"
)

const maxFrameSize = 64 * 1024

// Registry is the subset of the hub used by the gateway.
type Registry interface {
	Register(id domain.ClientID, conn hub.Conn, greet hub.GreetFunc) (hub.Registration, error)
	Leave(id domain.ClientID, conn hub.Conn) (hub.LeaveResult, error)
}

// Publisher broadcasts a message to everyone but sender.
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message, sender domain.ClientID) error
}

// Gateway runs the per-connection protocol.
type Gateway struct {
	upgrader  websocket.Upgrader
	registry  Registry
	publisher Publisher
	clock     clockwork.Clock
	metrics   *metrics.WebSocketMetrics
}

// NewGateway creates a gateway. checkOrigin decides which browser origins may
// connect; see NewCheckOrigin.
func NewGateway(registry Registry, publisher Publisher, clock clockwork.Clock, m *metrics.WebSocketMetrics, checkOrigin func(*http.Request) bool) *Gateway {
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		registry:  registry,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
	}
}

// ServeConn upgrades the request and serves the connection for id until it
// closes. A returned error means the handshake was refused before the
// upgrade; after the upgrade all failures are handled here.
func (g *Gateway) ServeConn(w http.ResponseWriter, r *http.Request, id domain.ClientID) error {
	if id == "" {
		return domain.ErrEmptyClientID
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		g.metrics.UpgradeFailures.Inc()
		slog.WarnContext(r.Context(), "WebSocket upgrade failed", "client_id", id.String(), "error", err)
		return nil
	}
	conn.SetReadLimit(maxFrameSize)

	// The connection outlives the request; keep its values, drop its cancellation.
	ctx := correlation.WithConnID(context.WithoutCancel(r.Context()), uuid.NewString())
	log := slog.With("client_id", id.String())

	writer := newClientWriter(conn, g.clock, g.metrics)
	reg, err := g.registry.Register(id, writer, welcomeFrame)
	if err != nil {
		log.WarnContext(ctx, "Rejecting connection", "error", err)
		writer.Close(rejectReason(err))
		writer.wait()
		return nil
	}

	g.metrics.ActiveConnections.Inc()
	defer g.metrics.ActiveConnections.Dec()
	log.InfoContext(ctx, "Client connected", "color", reg.Color, "total_clients", reg.Total, "replaced", reg.Replaced)

	joined := domain.NewClientJoined(id, reg.Color, reg.Total, g.now())
	if err := g.publisher.Publish(ctx, joined, id); err != nil {
		log.WarnContext(ctx, "Failed to announce client", "error", err)
	}

	g.readLoop(ctx, log, conn, writer, id, reg.Color)

	res, err := g.registry.Leave(id, writer)
	writer.Close("")
	writer.wait()
	if err != nil {
		log.DebugContext(ctx, "Leave skipped", "error", err)
		return nil
	}
	if res.Superseded {
		log.InfoContext(ctx, "Client connection replaced")
		return nil
	}

	log.InfoContext(ctx, "Client disconnected", "total_clients", res.Remaining)
	left := domain.NewClientLeft(id, res.Remaining, g.now())
	if err := g.publisher.Publish(ctx, left, id); err != nil {
		log.WarnContext(ctx, "Failed to announce departure", "error", err)
	}
	return nil
}

func (g *Gateway) readLoop(ctx context.Context, log *slog.Logger, conn *websocket.Conn, writer *clientWriter, id domain.ClientID, color string) {
	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.DebugContext(ctx, "Connection closed unexpectedly", "error", err)
			}
			return
		}
		writer.extendReadDeadline()

		msg, err := g.parse(messageType, frame)
		if err != nil {
			log.WarnContext(ctx, "Dropping malformed frame", "error", err, "size", len(frame))
			g.metrics.FramesReceived.WithLabelValues("malformed").Inc()
			continue
		}

		msg.Stamp(id, color, g.now())
		if err := g.publisher.Publish(ctx, msg, id); err != nil {
			log.WarnContext(ctx, "Failed to relay message", "type", string(msg.Type), "error", err)
			continue
		}
		g.metrics.FramesReceived.WithLabelValues("relayed").Inc()
	}
}

func (g *Gateway) parse(messageType int, frame []byte) (domain.Message, error) {
	if messageType != websocket.TextMessage {
		return domain.Message{}, fmt.Errorf("%w: binary frames are not supported", domain.ErrMalformedFrame)
	}
	return domain.ParseInbound(frame)
}

func (g *Gateway) now() string {
	return domain.FormatTimestamp(g.clock.Now())
}

func welcomeFrame(reg hub.Registration) ([]byte, error) {
	msg, err := domain.NewWelcome(reg.ID, reg.Color, reg.Snapshot.IDs, reg.Snapshot.Colors)
	if err != nil {
		return nil, err
	}
	return msg.EncodeClient()
}

func rejectReason(err error) string {
	if errors.Is(err, hub.ErrSealed) || errors.Is(err, hub.ErrStopped) {
		return hub.ReasonShutdown
	}
	return "registration failed"
}
