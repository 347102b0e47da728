package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/flowsync/internal/adapter/metrics"
	"github.com/pscheid92/flowsync/internal/domain"
	"github.com/pscheid92/flowsync/internal/hub"
	"github.com/pscheid92/flowsync/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readTimeout = 3 * time.Second

type testEnv struct {
	server  *httptest.Server
	hub     *hub.Hub
	relay   *relay.Relay
	metrics *metrics.WebSocketMetrics
}

func newTestEnv(t *testing.T, origins ...string) *testEnv {
	t.Helper()
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	reg := prometheus.NewRegistry()
	clock := clockwork.NewRealClock()
	h := hub.New(domain.DefaultPalette(), clock, metrics.NewHubMetrics(reg))
	r := relay.New(h, nil, clock, metrics.NewBusMetrics(reg))
	m := metrics.NewWebSocketMetrics(reg)
	gw := NewGateway(h, r, clock, m, NewCheckOrigin(origins, false))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := domain.ClientID(strings.TrimPrefix(req.URL.Path, "/ws/"))
		if err := gw.ServeConn(w, req, id); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
		server.Close()
	})
	return &testEnv{server: server, hub: h, relay: r, metrics: m}
}

func (e *testEnv) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func readType(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	msg := readJSON(t, conn)
	require.Equal(t, msgType, msg["type"], "unexpected frame: %v", msg)
	return msg
}

// expectSilence must be the last read on conn: a read timeout breaks the connection.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected timeout, got %v", err)
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestGateway_WelcomeAndPresence(t *testing.T) {
	env := newTestEnv(t)

	u1 := env.dial(t, "u1")
	welcome := readType(t, u1, "welcome")
	assert.Equal(t, "u1", welcome["client_id"])
	assert.Equal(t, "#FF6B6B", welcome["color"])
	assert.Equal(t, []any{"u1"}, welcome["connected_clients"])

	u2 := env.dial(t, "u2")
	welcome = readType(t, u2, "welcome")
	assert.Equal(t, "#4ECDC4", welcome["color"])
	assert.Equal(t, []any{"u1", "u2"}, welcome["connected_clients"])
	assert.Equal(t, map[string]any{"u1": "#FF6B6B", "u2": "#4ECDC4"}, welcome["client_colors"])
	assert.NotContains(t, welcome, "sender_id")

	joined := readType(t, u1, "client_joined")
	assert.Equal(t, "u2", joined["client_id"])
	assert.Equal(t, "#4ECDC4", joined["color"])
	assert.Equal(t, 2.0, joined["total_clients"])
	assert.NotEmpty(t, joined["timestamp"])

	require.NoError(t, u2.Close())

	left := readType(t, u1, "client_left")
	assert.Equal(t, "u2", left["client_id"])
	assert.Equal(t, 1.0, left["total_clients"])
	assert.Eventually(t, func() bool { return env.hub.Count() == 1 }, readTimeout, 10*time.Millisecond)
}

func TestGateway_RelaysStampedOperations(t *testing.T) {
	env := newTestEnv(t)

	u1 := env.dial(t, "u1")
	readType(t, u1, "welcome")
	u2 := env.dial(t, "u2")
	readType(t, u2, "welcome")
	readType(t, u1, "client_joined")

	send(t, u1, `{"type":"node_add","id":"n1","position":{"x":10,"y":20},"client_id":"mallory","color":"#000000","timestamp":"1999-01-01"}`)

	msg := readType(t, u2, "node_add")
	assert.Equal(t, "n1", msg["id"])
	assert.Equal(t, map[string]any{"x": 10.0, "y": 20.0}, msg["position"])
	assert.Equal(t, "u1", msg["client_id"])
	assert.Equal(t, "#FF6B6B", msg["color"])
	assert.NotContains(t, msg, "sender_id")

	ts, err := time.Parse(time.RFC3339Nano, msg["timestamp"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)

	expectSilence(t, u1)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.FramesReceived.WithLabelValues("relayed")))
}

func TestGateway_MalformedFramesAreDropped(t *testing.T) {
	env := newTestEnv(t)

	u1 := env.dial(t, "u1")
	readType(t, u1, "welcome")
	u2 := env.dial(t, "u2")
	readType(t, u2, "welcome")
	readType(t, u1, "client_joined")

	send(t, u1, `not json`)
	send(t, u1, `{"id":"n1"}`)
	send(t, u1, `{"type":12}`)
	require.NoError(t, u1.WriteMessage(websocket.BinaryMessage, []byte(`{"type":"node_add"}`)))
	send(t, u1, `{"type":"cursor_move","x":1,"y":2}`)

	// The connection survives and the valid frame still arrives.
	msg := readType(t, u2, "cursor_move")
	assert.Equal(t, 1.0, msg["x"])
	assert.Equal(t, 4.0, testutil.ToFloat64(env.metrics.FramesReceived.WithLabelValues("malformed")))
}

func TestGateway_KnownTypeWithUnexpectedPayloadIsRelayed(t *testing.T) {
	env := newTestEnv(t)

	u1 := env.dial(t, "u1")
	readType(t, u1, "welcome")
	u2 := env.dial(t, "u2")
	readType(t, u2, "welcome")
	readType(t, u1, "client_joined")

	send(t, u1, `{"type":"node_move","id":12,"position":[10,20]}`)

	msg := readType(t, u2, "node_move")
	assert.Equal(t, 12.0, msg["id"])
	assert.Equal(t, []any{10.0, 20.0}, msg["position"])
	assert.Equal(t, "u1", msg["client_id"])
	assert.Zero(t, testutil.ToFloat64(env.metrics.FramesReceived.WithLabelValues("malformed")))
}

func TestGateway_UnknownTypesPassThrough(t *testing.T) {
	env := newTestEnv(t)

	u1 := env.dial(t, "u1")
	readType(t, u1, "welcome")
	u2 := env.dial(t, "u2")
	readType(t, u2, "welcome")
	readType(t, u1, "client_joined")

	send(t, u1, `{"type":"sticky_note","text":"remember the cache"}`)

	msg := readType(t, u2, "sticky_note")
	assert.Equal(t, "remember the cache", msg["text"])
	assert.Equal(t, "u1", msg["client_id"])
}

func TestGateway_DuplicateIDReplacesPriorConnection(t *testing.T) {
	env := newTestEnv(t)

	observer := env.dial(t, "observer")
	readType(t, observer, "welcome")

	first := env.dial(t, "u1")
	firstWelcome := readType(t, first, "welcome")
	readType(t, observer, "client_joined")

	second := env.dial(t, "u1")
	secondWelcome := readType(t, second, "welcome")
	assert.Equal(t, firstWelcome["color"], secondWelcome["color"])

	require.NoError(t, first.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := first.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, hub.ReasonReplaced, closeErr.Text)

	// The observer sees the rejoin but never a departure for the replaced connection.
	rejoined := readType(t, observer, "client_joined")
	assert.Equal(t, "u1", rejoined["client_id"])
	assert.Equal(t, 2.0, rejoined["total_clients"])

	send(t, second, `{"type":"node_delete","id":"n1"}`)
	msg := readType(t, observer, "node_delete")
	assert.Equal(t, "u1", msg["client_id"])
	assert.Equal(t, 2, env.hub.Count())
}

func TestGateway_RejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, "https://flowsync.example.com")

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/u1"
	header := http.Header{"Origin": []string{"https://evil.example.org"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(env.metrics.UpgradeFailures) == 1
	}, readTimeout, 10*time.Millisecond)
	assert.Equal(t, 0, env.hub.Count())
}

func TestGateway_RejectsEmptyID(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_ShutdownClosesConnections(t *testing.T) {
	env := newTestEnv(t)

	u1 := env.dial(t, "u1")
	readType(t, u1, "welcome")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.relay.Shutdown(ctx))

	require.NoError(t, u1.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := u1.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, hub.ReasonShutdown, closeErr.Text)

	// New connections are refused once the hub is sealed.
	late := env.dial(t, "late")
	require.NoError(t, late.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err = late.ReadMessage()
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, hub.ReasonShutdown, closeErr.Text)
}
