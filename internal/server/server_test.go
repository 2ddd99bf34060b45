package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/relayhub/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readTimeout = 2 * time.Second

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer starts a hub and an httptest server around it. customize
// may adjust the default configuration first.
func newTestServer(t *testing.T, customize func(cfg *Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := NewConfig()
	if customize != nil {
		customize(cfg)
	}
	srv := New(*cfg, discardLogger())
	srv.StartHub()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, ts
}

func wsURL(ts *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, ts *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, query), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame := map[string]any{"event": event}
	if payload != nil {
		frame["data"] = payload
	}
	require.NoError(t, conn.WriteJSON(frame))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) relay.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var env relay.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// barrier sends an event the router does not know and collects everything
// received until its error reply arrives. Frames from one connection are
// handled in order, so every earlier frame has been processed by then.
func barrier(t *testing.T, conn *websocket.Conn, tag string) []relay.Envelope {
	t.Helper()
	marker := "sync:" + tag
	emit(t, conn, marker, nil)

	var seen []relay.Envelope
	for {
		env := readEnvelope(t, conn)
		if env.Event == relay.EventError {
			var e relay.ErrorEvent
			require.NoError(t, json.Unmarshal(env.Data, &e))
			if e.Event == marker {
				return seen
			}
		}
		seen = append(seen, env)
	}
}

func waitFor(t *testing.T, conn *websocket.Conn, event string) relay.Envelope {
	t.Helper()
	for {
		env := readEnvelope(t, conn)
		if env.Event == event {
			return env
		}
	}
}

func eventNames(envs []relay.Envelope) []string {
	names := make([]string, 0, len(envs))
	for _, env := range envs {
		names = append(names, env.Event)
	}
	return names
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of message: %v", err)
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "OK", body.Status)
	stamp, err := time.Parse(timestampLayout, body.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), stamp, time.Minute)
}

func TestServer_Preflight(t *testing.T) {
	_, ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://app.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "GET")
}

func TestServer_Stats(t *testing.T) {
	_, ts := newTestServer(t, nil)

	a := dial(t, ts, "", nil)
	b := dial(t, ts, "", nil)
	barrier(t, b, "b-ready")
	emit(t, a, relay.EventAuthenticate, map[string]string{"userId": "1", "username": "alice"})
	emit(t, a, relay.EventJoinChannel, "general")
	barrier(t, a, "stats")

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats relay.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, relay.Stats{Connections: 2, Authenticated: 1, Channels: 1}, stats)
}

func TestServer_RelaysChannelMessages(t *testing.T) {
	_, ts := newTestServer(t, nil)

	a := dial(t, ts, "", nil)
	b := dial(t, ts, "", nil)

	emit(t, a, relay.EventAuthenticate, map[string]string{"userId": "1", "username": "alice"})
	barrier(t, a, "a-auth")
	emit(t, b, relay.EventAuthenticate, map[string]string{"userId": "2", "username": "bob"})
	emit(t, b, relay.EventJoinChannel, "general")
	barrier(t, b, "b-join")

	online := waitFor(t, a, relay.EventUserOnline)
	assert.JSONEq(t, `{"userId":"2","username":"bob"}`, string(online.Data))

	emit(t, a, relay.EventJoinChannel, map[string]string{"channelId": "general"})
	emit(t, a, relay.EventSendMessage, map[string]any{
		"channelId": "general",
		"message":   map[string]any{"content": "hi"},
	})
	seen := barrier(t, a, "a-send")
	assert.NotContains(t, eventNames(seen), relay.EventNewMessage, "sender must not receive its own message")

	msg := waitFor(t, b, relay.EventNewMessage)
	assert.JSONEq(t, `{"content":"hi"}`, string(msg.Data))
}

func TestServer_DisconnectBroadcastsOffline(t *testing.T) {
	_, ts := newTestServer(t, nil)

	a := dial(t, ts, "", nil)
	b := dial(t, ts, "", nil)
	barrier(t, b, "b-ready")

	emit(t, a, relay.EventAuthenticate, map[string]string{"userId": "1", "username": "alice"})
	emit(t, a, relay.EventJoinChannel, "general")
	emit(t, a, relay.EventTypingStart, "general")
	emit(t, b, relay.EventJoinChannel, "general")
	barrier(t, a, "a-ready")
	barrier(t, b, "b-joined")

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = a.Close()

	offline := waitFor(t, b, relay.EventUserOffline)
	assert.JSONEq(t, `{"userId":"1"}`, string(offline.Data))
	stop := waitFor(t, b, relay.EventUserTypingStop)
	assert.JSONEq(t, `{"userId":"1","channelId":"general"}`, string(stop.Data))
}

func TestServer_MalformedFrameIsDropped(t *testing.T) {
	_, ts := newTestServer(t, nil)
	conn := dial(t, ts, "", nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)))

	assert.Empty(t, barrier(t, conn, "after-garbage"))
}

func TestServer_InvalidPayloadGetsErrorEvent(t *testing.T) {
	_, ts := newTestServer(t, nil)
	conn := dial(t, ts, "", nil)

	emit(t, conn, relay.EventSendMessage, map[string]any{"message": "x"})
	env := readEnvelope(t, conn)
	require.Equal(t, relay.EventError, env.Event)

	var e relay.ErrorEvent
	require.NoError(t, json.Unmarshal(env.Data, &e))
	assert.Equal(t, relay.EventSendMessage, e.Event)
	assert.Contains(t, e.Message, "channelId")
}

func TestServer_RateLimit(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})
	conn := dial(t, ts, "", nil)

	for i := range 5 {
		emit(t, conn, fmt.Sprintf("probe-%d", i), nil)
	}

	for i := range 2 {
		env := readEnvelope(t, conn)
		require.Equal(t, relay.EventError, env.Event)
		var e relay.ErrorEvent
		require.NoError(t, json.Unmarshal(env.Data, &e))
		assert.Equal(t, fmt.Sprintf("probe-%d", i), e.Event)
	}
	expectNoMessage(t, conn, 200*time.Millisecond)
}

func TestServer_MessageSizeLimit(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *Config) {
		cfg.MaxMessageSize = 64
	})
	conn := dial(t, ts, "", nil)

	emit(t, conn, relay.EventJoinChannel, strings.Repeat("x", 128))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "oversized frame must close the connection")
}

func TestServer_OriginPolicy(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"https://app.example"}
	})

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{name: "allowed", origin: "https://APP.example", allowed: true},
		{name: "other host", origin: "https://evil.example"},
		{name: "missing", origin: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), header)
			if resp != nil && resp.Body != nil {
				defer resp.Body.Close()
			}
			if tt.allowed {
				require.NoError(t, err)
				_ = conn.Close()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestServer_TokenHandshake(t *testing.T) {
	const secret = "test-secret"
	_, ts := newTestServer(t, func(cfg *Config) {
		cfg.JWTSecret = secret
	})

	t.Run("missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("verified identity", func(t *testing.T) {
		a := dial(t, ts, "token="+signToken(t, secret, "1", "alice"), nil)
		barrier(t, a, "a-ready")

		header := http.Header{}
		header.Set("Authorization", "Bearer "+signToken(t, secret, "2", "bob"))
		b := dial(t, ts, "", header)

		online := waitFor(t, a, relay.EventUserOnline)
		assert.JSONEq(t, `{"userId":"2","username":"bob"}`, string(online.Data))

		emit(t, b, relay.EventAuthenticate, map[string]string{"userId": "1", "username": "mallory"})
		env := readEnvelope(t, b)
		require.Equal(t, relay.EventError, env.Event)
		assert.Contains(t, string(env.Data), relay.ErrIdentityPinned.Error())
	})
}

func TestServer_ShutdownClosesClients(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	conn := dial(t, ts, "", nil)
	barrier(t, conn, "ready")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
