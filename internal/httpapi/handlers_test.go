package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"talkcart-calls/internal/admission"
	"talkcart-calls/internal/auth"
	"talkcart-calls/internal/call"
	"talkcart-calls/internal/history"
	"talkcart-calls/internal/registry"
	"talkcart-calls/internal/relay"

	"github.com/gin-gonic/gin"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, call.NotifyEffect) {}

type nopGateway struct{}

func (nopGateway) DeliverSignal(context.Context, string, relay.Signal) error { return nil }

// asUser stands in for the access-token middleware.
func asUser(c *gin.Context) {
	userID := c.GetHeader("X-Test-User")
	ctx := auth.WithIdentity(c.Request.Context(), userID)
	c.Request = c.Request.WithContext(ctx)
	c.Set("user_id", userID)
	c.Next()
}

func newTestRouter(t *testing.T) (*gin.Engine, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	svc := history.NewService(history.NewMemoryRepo())
	calls := registry.New(log, call.Policy{RingTimeout: 30 * time.Second, TransferTimeout: 20 * time.Second}, nopNotifier{}, svc)
	signals := relay.New(log, calls, nopGateway{})
	t.Cleanup(signals.Close)
	coord := admission.NewCoordinator(log, calls, admission.NewMemoryStore())

	h := Handlers{
		Coord:   coord,
		Calls:   calls,
		Relay:   signals,
		History: svc,
	}

	r := gin.New()
	v1 := r.Group("/v1", asUser)
	v1.POST("/calls", h.InitiateCall)
	v1.GET("/calls/waiting", h.ListWaiting)
	v1.GET("/calls/:call_id", h.GetCall)
	v1.POST("/calls/:call_id/join", h.JoinCall)
	v1.POST("/calls/:call_id/decline", h.DeclineCall)
	v1.POST("/calls/:call_id/leave", h.LeaveCall)
	v1.POST("/calls/:call_id/end", h.EndCall)
	v1.POST("/calls/:call_id/hold", h.SetHold)
	v1.POST("/calls/:call_id/mute", h.SetMute)
	v1.POST("/calls/:call_id/transfer", h.RequestTransfer)
	v1.POST("/calls/:call_id/signal", h.RelaySignal)
	v1.POST("/calls/:call_id/quality", h.ReportQuality)
	return r, calls
}

func do(t *testing.T, r *gin.Engine, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Test-User", userID)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func initiateCall(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := do(t, r, "alice", http.MethodPost, "/v1/calls", gin.H{
		"conversation_id": "conv-1",
		"kind":            "audio",
		"invitee_ids":     []string{"bob"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate: status %d body %s", w.Code, w.Body.String())
	}
	var snap call.Call
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.CallID == "" {
		t.Fatalf("expected call id")
	}
	return snap.CallID
}

func TestInitiate_RejectsBadKind(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, "alice", http.MethodPost, "/v1/calls", gin.H{
		"kind":        "hologram",
		"invitee_ids": []string{"bob"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
}

func TestInitiate_RejectsSelfInvite(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, "alice", http.MethodPost, "/v1/calls", gin.H{
		"kind":        "audio",
		"invitee_ids": []string{"alice"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)
	id := initiateCall(t, r)

	w := do(t, r, "bob", http.MethodPost, "/v1/calls/"+id+"/join", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("join: status %d body %s", w.Code, w.Body.String())
	}
	var snap call.Call
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != call.StatusActive {
		t.Fatalf("expected active, got %s", snap.Status)
	}

	w = do(t, r, "alice", http.MethodPost, "/v1/calls/"+id+"/end", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("end: status %d body %s", w.Code, w.Body.String())
	}

	// A second end is a stale event.
	w = do(t, r, "alice", http.MethodPost, "/v1/calls/"+id+"/end", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("repeat end: status %d", w.Code)
	}
}

func TestGetCall_HiddenFromOutsiders(t *testing.T) {
	r, _ := newTestRouter(t)
	id := initiateCall(t, r)

	if w := do(t, r, "bob", http.MethodGet, "/v1/calls/"+id, nil); w.Code != http.StatusOK {
		t.Fatalf("participant get: status %d", w.Code)
	}
	if w := do(t, r, "mallory", http.MethodGet, "/v1/calls/"+id, nil); w.Code != http.StatusForbidden {
		t.Fatalf("outsider get: status %d", w.Code)
	}
	if w := do(t, r, "alice", http.MethodGet, "/v1/calls/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown call: status %d", w.Code)
	}
}

func TestMute_ForbiddenForBystander(t *testing.T) {
	r, _ := newTestRouter(t)
	id := initiateCall(t, r)
	do(t, r, "bob", http.MethodPost, "/v1/calls/"+id+"/join", nil)

	w := do(t, r, "bob", http.MethodPost, "/v1/calls/"+id+"/mute", gin.H{
		"target_user_id": "alice",
		"on":             true,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
}

func TestSignal_QueuedForParticipant(t *testing.T) {
	r, _ := newTestRouter(t)
	id := initiateCall(t, r)

	w := do(t, r, "alice", http.MethodPost, "/v1/calls/"+id+"/signal", gin.H{
		"to_user_id": "bob",
		"kind":       "offer",
		"payload":    gin.H{"sdp": "v=0"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("signal: status %d body %s", w.Code, w.Body.String())
	}

	w = do(t, r, "mallory", http.MethodPost, "/v1/calls/"+id+"/signal", gin.H{
		"to_user_id": "bob",
		"kind":       "offer",
		"payload":    gin.H{"sdp": "v=0"},
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("outsider signal: status %d", w.Code)
	}
}

func TestQuality_DuplicateConflicts(t *testing.T) {
	r, _ := newTestRouter(t)
	body := gin.H{"metrics": gin.H{"rtt_ms": 40}}

	if w := do(t, r, "bob", http.MethodPost, "/v1/calls/c1/quality", body); w.Code != http.StatusOK {
		t.Fatalf("first report: status %d", w.Code)
	}
	if w := do(t, r, "bob", http.MethodPost, "/v1/calls/c1/quality", body); w.Code != http.StatusConflict {
		t.Fatalf("duplicate report: status %d", w.Code)
	}
}

func TestWaiting_ListsPendingInvites(t *testing.T) {
	r, _ := newTestRouter(t)

	// bob joins a first call, then a second call invites busy bob.
	id := initiateCall(t, r)
	do(t, r, "bob", http.MethodPost, "/v1/calls/"+id+"/join", nil)

	w := do(t, r, "carol", http.MethodPost, "/v1/calls", gin.H{
		"kind":        "audio",
		"invitee_ids": []string{"bob"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("second initiate: status %d", w.Code)
	}

	w = do(t, r, "bob", http.MethodGet, "/v1/calls/waiting", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("waiting: status %d", w.Code)
	}
	var resp struct {
		Waiting []admission.Entry `json:"waiting"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Waiting) != 1 {
		t.Fatalf("expected one waiting entry, got %d", len(resp.Waiting))
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}
