package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"talkcart-calls/internal/call"
	"talkcart-calls/internal/relay"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("user_id", c.Query("user"))
		Handler(hub)(c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestHub_NotifyReachesConnectedUser(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	defer hub.Close()
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "alice")
	waitForClient(t, hub, "alice")

	hub.Notify(context.Background(), call.NotifyEffect{
		Type:         call.NotifyIncoming,
		TargetUserID: "alice",
		CallID:       "c1",
	})

	f := readFrame(t, conn)
	if f.Type != call.NotifyIncoming || f.CallID != "c1" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestHub_DeliverSignalWrapsEnvelope(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	defer hub.Close()
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "bob")
	waitForClient(t, hub, "bob")

	sig := relay.Signal{
		CallID:     "c1",
		FromUserID: "alice",
		ToUserID:   "bob",
		Kind:       relay.KindOffer,
		Payload:    json.RawMessage(`{"sdp":"v=0"}`),
	}
	if err := hub.DeliverSignal(context.Background(), "bob", sig); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	f := readFrame(t, conn)
	if f.Type != "call.signal" || f.CallID != "c1" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestHub_OfflineUserIsSkipped(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	defer hub.Close()

	// Must not block or panic.
	hub.Notify(context.Background(), call.NotifyEffect{
		Type:         call.NotifyEnded,
		TargetUserID: "ghost",
		CallID:       "c1",
	})
}

func TestHub_ReconnectReplacesSocket(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	defer hub.Close()
	srv := newTestServer(t, hub)

	first := dial(t, srv, "alice")
	waitForClient(t, hub, "alice")
	second := dial(t, srv, "alice")

	// The replacement closes the old socket on registration.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("old socket should have been closed")
	}

	hub.Notify(context.Background(), call.NotifyEffect{
		Type:         call.NotifyHold,
		TargetUserID: "alice",
		CallID:       "c1",
	})

	f := readFrame(t, second)
	if f.Type != call.NotifyHold {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func waitForClient(t *testing.T, hub *Hub, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		_, ok := hub.clients[userID]
		hub.mu.RUnlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client %s never registered", userID)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}
