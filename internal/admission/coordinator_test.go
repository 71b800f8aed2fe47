package admission

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"talkcart-calls/internal/call"
	"talkcart-calls/internal/registry"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, call.NotifyEffect) {}

type nopArchiver struct{}

func (nopArchiver) Archive(context.Context, call.Call) error { return nil }

func newFixture(t *testing.T) (*Coordinator, *registry.Registry, *MemoryStore) {
	t.Helper()
	reg := registry.New(slog.Default(), call.Policy{RingTimeout: time.Minute, TransferTimeout: time.Minute}, nopNotifier{}, nopArchiver{})
	t.Cleanup(reg.Close)
	store := NewMemoryStore()
	return NewCoordinator(slog.Default(), reg, store), reg, store
}

func TestCoordinator_FreeInviteeRingsNormally(t *testing.T) {
	co, _, store := newFixture(t)

	c, err := co.Initiate(context.Background(), InitiateRequest{
		ConversationID: "conv-1",
		InitiatorID:    "alice",
		Kind:           call.KindAudio,
		InviteeIDs:     []string{"bob"},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if c.Status != call.StatusRinging {
		t.Fatalf("expected ringing, got %s", c.Status)
	}
	entries, err := store.List(context.Background(), "bob")
	if err != nil || len(entries) != 0 {
		t.Fatalf("free invitee must not be queued: %v %v", entries, err)
	}
}

func TestCoordinator_EngagedInviteeGetsWaitingEntry(t *testing.T) {
	co, _, _ := newFixture(t)
	ctx := context.Background()

	first, err := co.Initiate(ctx, InitiateRequest{ConversationID: "conv-1", InitiatorID: "alice", Kind: call.KindAudio, InviteeIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("initiate first: %v", err)
	}
	if _, err := co.Join(ctx, first.CallID, "bob"); err != nil {
		t.Fatalf("join first: %v", err)
	}

	second, err := co.Initiate(ctx, InitiateRequest{ConversationID: "conv-2", InitiatorID: "carol", Kind: call.KindVideo, InviteeIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("initiate second: %v", err)
	}

	waiting, err := co.Waiting(ctx, "bob")
	if err != nil {
		t.Fatalf("waiting: %v", err)
	}
	if len(waiting) != 1 || waiting[0].CallID != second.CallID {
		t.Fatalf("expected one waiting entry for the second call, got %+v", waiting)
	}
	// The second call still rings for its initiator side; bob is simply
	// parked, not declined.
	if second.Status != call.StatusRinging {
		t.Fatalf("second call should be ringing, got %s", second.Status)
	}
}

func TestCoordinator_AcceptingWaitingCallIsJoin(t *testing.T) {
	co, reg, store := newFixture(t)
	ctx := context.Background()

	first, err := co.Initiate(ctx, InitiateRequest{ConversationID: "conv-1", InitiatorID: "alice", Kind: call.KindAudio, InviteeIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("initiate first: %v", err)
	}
	if _, err := co.Join(ctx, first.CallID, "bob"); err != nil {
		t.Fatalf("join first: %v", err)
	}
	second, err := co.Initiate(ctx, InitiateRequest{ConversationID: "conv-2", InitiatorID: "carol", Kind: call.KindAudio, InviteeIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("initiate second: %v", err)
	}

	// Client typically holds the current call first; the coordinator must not
	// have done it for them.
	cur, err := reg.Get(first.CallID)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	if len(cur.OnHoldBy) != 0 || cur.Status != call.StatusActive {
		t.Fatalf("existing call must be untouched, got %+v", cur)
	}
	if _, err := reg.Apply(ctx, first.CallID, call.SetHold{UserID: "bob", On: true}); err != nil {
		t.Fatalf("hold: %v", err)
	}

	joined, err := co.Join(ctx, second.CallID, "bob")
	if err != nil {
		t.Fatalf("join waiting call: %v", err)
	}
	if joined.Status != call.StatusActive {
		t.Fatalf("waiting call should activate on join, got %s", joined.Status)
	}
	entries, _ := store.List(ctx, "bob")
	if len(entries) != 0 {
		t.Fatalf("waiting entry must be consumed on join, got %+v", entries)
	}
}

func TestCoordinator_WaitingDropsSettledCalls(t *testing.T) {
	co, reg, _ := newFixture(t)
	ctx := context.Background()

	first, err := co.Initiate(ctx, InitiateRequest{ConversationID: "conv-1", InitiatorID: "alice", Kind: call.KindAudio, InviteeIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("initiate first: %v", err)
	}
	if _, err := co.Join(ctx, first.CallID, "bob"); err != nil {
		t.Fatalf("join first: %v", err)
	}
	second, err := co.Initiate(ctx, InitiateRequest{ConversationID: "conv-2", InitiatorID: "carol", Kind: call.KindAudio, InviteeIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("initiate second: %v", err)
	}

	// Bob declines from another device; his queue entry is now stale.
	if _, err := reg.Apply(ctx, second.CallID, call.Decline{UserID: "bob"}); err != nil {
		t.Fatalf("decline second: %v", err)
	}

	waiting, err := co.Waiting(ctx, "bob")
	if err != nil {
		t.Fatalf("waiting: %v", err)
	}
	if len(waiting) != 0 {
		t.Fatalf("settled call must drop out of the waiting queue, got %+v", waiting)
	}
}

func TestCoordinator_DeclineConsumesEntry(t *testing.T) {
	co, _, store := newFixture(t)
	ctx := context.Background()

	first, err := co.Initiate(ctx, InitiateRequest{ConversationID: "conv-1", InitiatorID: "alice", Kind: call.KindAudio, InviteeIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("initiate first: %v", err)
	}
	if _, err := co.Join(ctx, first.CallID, "bob"); err != nil {
		t.Fatalf("join first: %v", err)
	}
	second, err := co.Initiate(ctx, InitiateRequest{ConversationID: "conv-2", InitiatorID: "carol", Kind: call.KindAudio, InviteeIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("initiate second: %v", err)
	}

	if _, err := co.Decline(ctx, second.CallID, "bob"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	entries, _ := store.List(ctx, "bob")
	if len(entries) != 0 {
		t.Fatalf("declined waiting call must leave the queue, got %+v", entries)
	}
}

func TestMemoryStore_Dedupes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	e := Entry{UserID: "bob", CallID: "c1", EnqueuedAt: time.Unix(1700000000, 0)}

	added, err := store.Enqueue(ctx, e)
	if err != nil || !added {
		t.Fatalf("first enqueue should add: %v %v", added, err)
	}
	added, err = store.Enqueue(ctx, e)
	if err != nil || added {
		t.Fatalf("duplicate enqueue must be a no-op: %v %v", added, err)
	}
}
