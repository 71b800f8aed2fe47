package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"talkcart-calls/internal/call"
)

func fixedClock() time.Time { return time.Unix(1700000000, 0).UTC() }

func terminalSnapshot(callID, status string) call.Call {
	now := fixedClock()
	return call.Call{
		CallID:      callID,
		InitiatorID: "alice",
		Kind:        call.KindAudio,
		Status:      call.Status(status),
		StartedAt:   now.Add(-2 * time.Minute),
		EndedAt:     now,
		Participants: []call.Participant{
			{UserID: "alice", Role: call.RoleInitiator, Status: call.ParticipantLeft},
			{UserID: "bob", Role: call.RoleInvitee, Status: call.ParticipantLeft},
		},
	}
}

func newService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.clock = fixedClock
	return svc, repo
}

func TestArchive_WritesRecordOnce(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	snap := terminalSnapshot("c1", "ended")
	if err := svc.Archive(ctx, snap); err != nil {
		t.Fatalf("archive: %v", err)
	}
	rec, err := repo.GetRecord(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.DurationSeconds != 120 {
		t.Fatalf("expected 120s duration, got %d", rec.DurationSeconds)
	}

	// A repeat delivery must not clobber the record.
	snap.InitiatorID = "mallory"
	if err := svc.Archive(ctx, snap); err != nil {
		t.Fatalf("repeat archive: %v", err)
	}
	rec, _ = repo.GetRecord(ctx, "c1")
	if rec.InitiatorID != "alice" {
		t.Fatalf("archived record must be immutable")
	}
}

func TestArchive_RejectsLiveCall(t *testing.T) {
	svc, _ := newService()
	snap := terminalSnapshot("c1", "active")
	if err := svc.Archive(context.Background(), snap); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestReportQuality_OncePerParticipant(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	metrics := map[string]float64{"rtt_ms": 42, "packet_loss": 0.01}

	if err := svc.ReportQuality(ctx, "c1", "bob", metrics); err != nil {
		t.Fatalf("first report: %v", err)
	}
	if err := svc.ReportQuality(ctx, "c1", "bob", metrics); !errors.Is(err, ErrAlreadyReported) {
		t.Fatalf("expected ErrAlreadyReported, got %v", err)
	}
	// A different participant on the same call is fine.
	if err := svc.ReportQuality(ctx, "c1", "alice", metrics); err != nil {
		t.Fatalf("other participant: %v", err)
	}
}

func TestMarkMissedSeen_Idempotent(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	if err := svc.MarkMissedSeen(ctx, "bob", []string{"c1", "c2"}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := svc.MarkMissedSeen(ctx, "bob", []string{"c1", "c2"}); err != nil {
		t.Fatalf("repeat mark must succeed: %v", err)
	}
	seen, err := repo.MissedSeen(ctx, "bob", "c1")
	if err != nil || !seen {
		t.Fatalf("c1 should be seen: %v %v", seen, err)
	}
	seen, _ = repo.MissedSeen(ctx, "bob", "c3")
	if seen {
		t.Fatalf("c3 was never flagged")
	}
}

func TestUserSummary_Aggregates(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	for i, status := range []string{"ended", "missed", "declined"} {
		snap := terminalSnapshot("c"+string(rune('1'+i)), status)
		if status != "ended" {
			snap.StartedAt = time.Time{}
		}
		if err := svc.Archive(ctx, snap); err != nil {
			t.Fatalf("archive %s: %v", status, err)
		}
	}

	rng := TimeRange{From: fixedClock().Add(-time.Hour), To: fixedClock().Add(time.Hour)}
	sum, err := svc.UserSummary(ctx, "bob", rng)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalCalls != 3 || sum.EndedCalls != 1 || sum.MissedCalls != 1 || sum.DeclinedCalls != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.TotalDurationSeconds != 120 {
		t.Fatalf("only the ended call carries duration, got %d", sum.TotalDurationSeconds)
	}

	// Uninvolved users see nothing.
	sum, err = svc.UserSummary(ctx, "mallory", rng)
	if err != nil || sum.TotalCalls != 0 {
		t.Fatalf("expected empty summary: %+v %v", sum, err)
	}
}
