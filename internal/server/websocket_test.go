package server_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/testhelpers"
)

func TestConnect_GreetsAndAnnouncesJoin(t *testing.T) {
	state, ts := startServer(t, nil)

	existing := testhelpers.Dial(t, ts.URL, testhelpers.RoomAuth("room-lobby"))
	hello := testhelpers.ExpectEvent(t, existing, relay.EventHello, waitFor)
	assert.JSONEq(t, `"New user connected"`, string(hello.Data))
	require.Eventually(t, func() bool {
		return state.Relay.Registry.Count("room-lobby") == 1
	}, waitFor, 5*time.Millisecond)

	joiner := testhelpers.Dial(t, ts.URL, testhelpers.RoomAuth("room-lobby"))
	testhelpers.ExpectEvent(t, joiner, relay.EventHello, waitFor)

	joined := testhelpers.ExpectEvent(t, existing, relay.EventSystemJoin, waitFor)
	assert.JSONEq(t, `"New user joined"`, string(joined.Data))
	assert.Nil(t, joined.Ack)
	require.Eventually(t, func() bool {
		return state.Relay.Registry.Count("room-lobby") == 2
	}, waitFor, 5*time.Millisecond)

	testhelpers.ExpectNoEvent(t, joiner, relay.EventSystemJoin, 200*time.Millisecond)
}

func TestConnect_MalformedAuthJoinsNoRoom(t *testing.T) {
	tests := []struct {
		name string
		auth string
	}{
		{name: "no auth", auth: ""},
		{name: "plain string", auth: `"room-lobby"`},
		{name: "not json", auth: `room-lobby`},
		{name: "room_id not a string", auth: `{"room_id":7}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, ts := startServer(t, nil)

			conn := testhelpers.Dial(t, ts.URL, tt.auth)
			testhelpers.ExpectEvent(t, conn, relay.EventHello, waitFor)

			require.Eventually(t, func() bool { return state.Hub.ClientCount() == 1 }, waitFor, 5*time.Millisecond)
			assert.Never(t, func() bool {
				rooms, _ := state.Relay.Registry.Stats()
				return rooms > 0
			}, 100*time.Millisecond, 10*time.Millisecond)
		})
	}
}

func TestMessageRecv_BroadcastsToRoomWithAck(t *testing.T) {
	state, ts := startServer(t, nil)

	sender := join(t, state, ts, "room-1")
	a := join(t, state, ts, "room-1")
	b := join(t, state, ts, "room-1")
	outsider := join(t, state, ts, "room-2")

	testhelpers.SendEvent(t, sender, relay.EventMessageRecv, map[string]any{"text": "hi"})

	for _, conn := range []*websocket.Conn{a, b} {
		f := testhelpers.ExpectEvent(t, conn, relay.EventMesgBroadcast, waitFor)
		assert.JSONEq(t, `{"text":"hi"}`, string(f.Data))
		testhelpers.SendAck(t, conn, f, "Message received on client")
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(state.Metrics.Acks.WithLabelValues(metrics.AckOK)) == 2
	}, waitFor, 5*time.Millisecond)

	testhelpers.ExpectNoEvent(t, sender, relay.EventMesgBroadcast, 100*time.Millisecond)
	testhelpers.ExpectNoEvent(t, outsider, relay.EventMesgBroadcast, 100*time.Millisecond)
}

func TestMessageRecv_UnansweredAckTimesOut(t *testing.T) {
	cfg := testhelpers.NewConfig(t)
	cfg.AckTimeout = 100 * time.Millisecond
	state, ts := startServer(t, cfg)

	sender := join(t, state, ts, "room-1")
	silent := join(t, state, ts, "room-1")

	testhelpers.SendEvent(t, sender, relay.EventMessageRecv, "anyone?")
	testhelpers.ExpectEvent(t, silent, relay.EventMesgBroadcast, waitFor)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(state.Metrics.Acks.WithLabelValues(metrics.AckTimeout)) == 1
	}, waitFor, 10*time.Millisecond)
}

func TestMessageRecv_RateLimited(t *testing.T) {
	cfg := testhelpers.NewConfig(t)
	cfg.RateLimitBurst = 2
	cfg.RateLimitRefillInterval = time.Hour
	state, ts := startServer(t, cfg)

	sender := join(t, state, ts, "room-1")
	receiver := join(t, state, ts, "room-1")

	for range 5 {
		testhelpers.SendEvent(t, sender, relay.EventMessageRecv, "spam")
	}

	for range 2 {
		f := testhelpers.ExpectEvent(t, receiver, relay.EventMesgBroadcast, waitFor)
		testhelpers.SendAck(t, receiver, f, "ok")
	}
	testhelpers.ExpectNoEvent(t, receiver, relay.EventMesgBroadcast, 200*time.Millisecond)
}

func TestDisconnectEvent_LeavesRoomAndClosesSocket(t *testing.T) {
	state, ts := startServer(t, nil)

	leaver := join(t, state, ts, "room-1")
	stayer := join(t, state, ts, "room-1")

	testhelpers.SendEvent(t, leaver, relay.EventDisconnect, map[string]string{relay.RoomIDField: "room-1"})

	require.NoError(t, leaver.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		_, _, err := leaver.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
	}

	require.Eventually(t, func() bool {
		return state.Relay.Registry.Count("room-1") == 1 && state.Hub.ClientCount() == 1
	}, waitFor, 5*time.Millisecond)

	testhelpers.SendEvent(t, stayer, relay.EventMessageRecv, "still here?")
	testhelpers.ExpectNoEvent(t, stayer, relay.EventMesgBroadcast, 100*time.Millisecond)
}

func TestDisconnectEvent_MalformedKeepsConnection(t *testing.T) {
	tests := []struct {
		name string
		data any
	}{
		{name: "plain string", data: "room-1"},
		{name: "missing room_id", data: map[string]string{}},
		{name: "room not joined", data: map[string]string{relay.RoomIDField: "room-9"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, ts := startServer(t, nil)
			member := join(t, state, ts, "room-1")
			sender := join(t, state, ts, "room-1")

			testhelpers.SendEvent(t, member, relay.EventDisconnect, tt.data)
			testhelpers.SendEvent(t, sender, relay.EventMessageRecv, "ping")

			f := testhelpers.ExpectEvent(t, member, relay.EventMesgBroadcast, waitFor)
			assert.JSONEq(t, `"ping"`, string(f.Data))
			assert.Equal(t, 2, state.Relay.Registry.Count("room-1"))
		})
	}
}

func TestClientClose_ReleasesMembership(t *testing.T) {
	state, ts := startServer(t, nil)
	conn := join(t, state, ts, "room-1")

	require.NoError(t, testhelpers.CloseWebSocket(conn))

	require.Eventually(t, func() bool {
		return state.Relay.Registry.Count("room-1") == 0 && state.Hub.ClientCount() == 0
	}, waitFor, 5*time.Millisecond)
	assert.InDelta(t, 0, testutil.ToFloat64(state.Metrics.Connections), 0)
}

func TestUnknownEventIsIgnored(t *testing.T) {
	state, ts := startServer(t, nil)
	a := join(t, state, ts, "room-1")
	b := join(t, state, ts, "room-1")

	testhelpers.SendEvent(t, a, "shout", "x")
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not a frame")))
	testhelpers.SendEvent(t, a, relay.EventMessageRecv, "after")

	f := testhelpers.ExpectEvent(t, b, relay.EventMesgBroadcast, waitFor)
	assert.JSONEq(t, `"after"`, string(f.Data))
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	cfg := testhelpers.NewConfig(t)
	cfg.MaxMessageSize = 64
	state, ts := startServer(t, cfg)
	conn := join(t, state, ts, "room-1")

	testhelpers.SendEvent(t, conn, relay.EventMessageRecv, strings.Repeat("x", 256))

	require.Eventually(t, func() bool {
		return state.Hub.ClientCount() == 0
	}, waitFor, 5*time.Millisecond)
}

func TestWebSocket_OriginChecks(t *testing.T) {
	tests := []struct {
		name   string
		origin string
	}{
		{name: "disallowed origin", origin: "http://evil.example"},
		{name: "missing origin", origin: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := startServer(t, nil)

			conn, resp, err := testhelpers.DialWithOrigin(ts.URL, testhelpers.RoomAuth("room-1"), tt.origin)
			if conn != nil {
				_ = conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestWebSocket_WildcardOrigin(t *testing.T) {
	cfg := testhelpers.NewConfig(t)
	cfg.AllowedOrigins = "*"
	_, ts := startServer(t, cfg)

	conn, resp, err := testhelpers.DialWithOrigin(ts.URL, "", "https://anywhere.example")
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	defer conn.Close()
	testhelpers.ExpectEvent(t, conn, relay.EventHello, waitFor)
}

func TestWebSocket_RejectsNonGet(t *testing.T) {
	_, ts := startServer(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodPost, ts.URL+"/ws")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
