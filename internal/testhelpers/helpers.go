// Package testhelpers provides utilities shared by the transport tests: a
// config fixture with template and static directories, WebSocket dialing, and
// frame reading helpers.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/config"
)

// Origin is the browser origin the test config allows.
const Origin = "http://localhost:10000"

// Page bodies written by NewConfig.
const (
	IndexBody          = "<h1>rooms</h1>"
	NotFoundBody       = "<h1>not found</h1>"
	NotImplementedBody = "<h1>not implemented</h1>"
	StaticBody         = "console.log('relay');"
)

// Frame mirrors the wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *uint64         `json:"ack,omitempty"`
}

// NewConfig returns a valid configuration backed by temporary template and
// static directories. pages selects which templates exist; nil writes all
// three.
func NewConfig(t *testing.T, pages ...string) *config.Config {
	t.Helper()

	bodies := map[string]string{
		"index.html": IndexBody,
		"404.html":   NotFoundBody,
		"501.html":   NotImplementedBody,
	}
	if len(pages) == 0 {
		pages = []string{"index.html", "404.html", "501.html"}
	}

	cfg := config.Default()
	cfg.TemplatePath, cfg.StaticPath = t.TempDir(), t.TempDir()
	cfg.AllowedOrigins = Origin
	for _, page := range pages {
		body, ok := bodies[page]
		if !ok {
			body = page
		}
		require.NoError(t, os.WriteFile(filepath.Join(cfg.TemplatePath, page), []byte(body), 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StaticPath, "chat.js"), []byte(StaticBody), 0o600))
	require.NoError(t, cfg.Validate())
	return cfg
}

// WebSocketURL converts an httptest server URL to the relay endpoint. auth is
// sent verbatim as the connect payload when non-empty.
func WebSocketURL(serverURL, auth string) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if auth != "" {
		u += "?auth=" + url.QueryEscape(auth)
	}
	return u
}

// RoomAuth is the connect payload joining roomID.
func RoomAuth(roomID string) string {
	b, _ := json.Marshal(map[string]string{"room_id": roomID})
	return string(b)
}

// Dial opens a WebSocket with the allowed origin and closes it on cleanup.
func Dial(t *testing.T, serverURL, auth string) *websocket.Conn {
	t.Helper()
	conn, resp, err := DialWithOrigin(serverURL, auth, Origin)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWithOrigin opens a WebSocket sending origin, which may be empty.
func DialWithOrigin(serverURL, auth, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return dialer.Dial(WebSocketURL(serverURL, auth), headers)
}

// ReadFrame reads the next frame, failing the test after timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f), "frame %s", raw)
	return f
}

// ExpectEvent reads frames until one named event arrives, skipping others.
func ExpectEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		require.True(t, remaining > 0, "no %q frame within %s", event, timeout)
		if f := ReadFrame(t, conn, remaining); f.Event == event {
			return f
		}
	}
}

// ExpectNoEvent fails if a frame named event arrives within timeout. Other
// frames are skipped. A closed connection counts as silence. A read timeout
// leaves conn unusable, so call it last.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			require.NoError(t, err, "waiting for absence of %q", event)
		}

		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		require.NotEqual(t, event, f.Event, "unexpected frame %s", raw)
	}
}

// SendEvent writes a client event frame.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: raw}))
}

// SendAck answers the acknowledged frame f with data.
func SendAck(t *testing.T, conn *websocket.Conn, f Frame, data any) {
	t.Helper()
	require.NotNil(t, f.Ack, "frame %q carries no ack id", f.Event)
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: "ack", Data: raw, Ack: f.Ack}))
}

// MakeRequest executes an HTTP request with a 5-second timeout.
func MakeRequest(t *testing.T, method, target string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, target, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// CloseWebSocket sends a normal close frame and closes conn.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
