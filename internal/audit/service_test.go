package audit

import (
	"context"
	"testing"

	"talkcart-calls/internal/call"
)

func TestService_AppendRequiresCallAndName(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Name: "join"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{CallID: "c1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_RecordAppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	svc.Record(context.Background(), "join", "bob", call.Call{CallID: "c1", Status: call.StatusActive})

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].ActorUserID != "bob" {
		t.Fatalf("expected actor captured")
	}
	if evs[0].Status != "active" {
		t.Fatalf("expected resulting status")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
}

func TestMemoryRepo_ByCallFilters(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	svc.Record(context.Background(), "initiate", "alice", call.Call{CallID: "c1", Status: call.StatusRinging})
	svc.Record(context.Background(), "initiate", "carol", call.Call{CallID: "c2", Status: call.StatusRinging})
	svc.Record(context.Background(), "join", "bob", call.Call{CallID: "c1", Status: call.StatusActive})

	evs := repo.ByCall("c1")
	if len(evs) != 2 {
		t.Fatalf("expected 2 events for c1, got %d", len(evs))
	}
	if evs[0].Name != "initiate" || evs[1].Name != "join" {
		t.Fatalf("expected append order preserved, got %+v", evs)
	}
}
