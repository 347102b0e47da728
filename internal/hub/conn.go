package hub

import "errors"

// Conn is the transport handle the hub delivers frames to.
// Both methods must return without blocking on network I/O.
type Conn interface {
	// TrySend enqueues a frame. It fails with ErrBufferFull when the
	// connection cannot keep up and with ErrConnClosed once it is gone.
	TrySend(data []byte) error
	// Close tears the connection down, sending reason in the close frame
	// when the peer is still reachable. Repeated calls are no-ops.
	Close(reason string)
}

var (
	ErrBufferFull  = errors.New("send buffer full")
	ErrConnClosed  = errors.New("connection closed")
	ErrSealed      = errors.New("hub is sealed")
	ErrStopped     = errors.New("hub is stopped")
	ErrCmdTimeout  = errors.New("hub command timed out")
	ErrInvalidConn = errors.New("connection handle must not be nil")
)

// Close reasons sent to peers.
const (
	ReasonReplaced     = "replaced by a newer connection"
	ReasonSlowConsumer = "slow consumer"
	ReasonSendFailed   = "delivery failed"
	ReasonShutdown     = "server shutting down"
	ReasonUnregistered = "unregistered"
)
