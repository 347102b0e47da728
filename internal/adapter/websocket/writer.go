package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/flowsync/internal/adapter/metrics"
	"github.com/pscheid92/flowsync/internal/hub"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
)

// clientWriter owns every write to one connection. Frames are queued with
// TrySend and written by a single goroutine that also sends keepalive pings.
type clientWriter struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	metrics     *metrics.WebSocketMetrics
	sendChannel chan []byte
	doneChannel chan struct{}
	exited      chan struct{}
	stopOnce    sync.Once
	closeReason string
}

var _ hub.Conn = (*clientWriter)(nil)

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock, m *metrics.WebSocketMetrics) *clientWriter {
	cw := &clientWriter{
		connection:  connection,
		clock:       clock,
		metrics:     m,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
		exited:      make(chan struct{}),
	}
	cw.configurePongHandler()
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer close(cw.exited)

	for {
		select {
		case msg := <-cw.sendChannel:
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				cw.abort()
				return
			}
			cw.metrics.SendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Ping failed - client likely disconnected
				cw.metrics.PingFailures.Inc()
				cw.abort()
				return
			}
		case <-cw.doneChannel:
			cw.writeClose()
			return
		}
	}
}

// TrySend queues a frame without blocking.
func (cw *clientWriter) TrySend(data []byte) error {
	select {
	case <-cw.doneChannel:
		return hub.ErrConnClosed
	default:
	}

	select {
	case cw.sendChannel <- data:
		return nil
	default:
		return hub.ErrBufferFull
	}
}

// Close asks the writer goroutine to send a close frame carrying reason and
// close the connection. An empty reason skips the close frame.
func (cw *clientWriter) Close(reason string) {
	cw.stopOnce.Do(func() {
		cw.closeReason = reason
		close(cw.doneChannel)
	})
}

// wait blocks until the writer goroutine has exited.
func (cw *clientWriter) wait() {
	<-cw.exited
}

// abort marks the writer closed after a write error and drops the transport,
// which also unblocks the reader.
func (cw *clientWriter) abort() {
	cw.stopOnce.Do(func() { close(cw.doneChannel) })
	_ = cw.connection.Close()
}

func (cw *clientWriter) writeClose() {
	if cw.closeReason != "" {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, cw.closeReason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
	}
	_ = cw.connection.Close()
}

func (cw *clientWriter) configurePongHandler() {
	cw.extendReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.extendReadDeadline()
		return nil
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	deadline := cw.clock.Now().Add(writeDeadline)
	_ = cw.connection.SetWriteDeadline(deadline)
}

// extendReadDeadline must only be called from the reading goroutine.
func (cw *clientWriter) extendReadDeadline() {
	deadline := cw.clock.Now().Add(pongDeadline)
	_ = cw.connection.SetReadDeadline(deadline)
}
