package call

import (
	"testing"
	"time"
)

func TestClone_IsIndependent(t *testing.T) {
	orig := &Call{
		CallID:   "c1",
		Status:   StatusActive,
		OnHoldBy: map[string]bool{"alice": true},
		Participants: []Participant{
			{UserID: "alice", Role: RoleInitiator, Status: ParticipantJoined},
			{UserID: "bob", Role: RoleInvitee, Status: ParticipantJoined},
		},
		Transfer:  &Transfer{TransferID: "t1", Status: TransferPending},
		Recording: &Recording{RecordingID: "r1", StartedBy: "alice"},
	}

	cp := orig.Clone()
	cp.Participants[0].Status = ParticipantLeft
	cp.OnHoldBy["bob"] = true
	cp.Transfer.Status = TransferAccepted
	cp.Recording.StoppedAt = time.Now()

	if orig.Participants[0].Status != ParticipantJoined {
		t.Fatalf("participant slice shared with clone")
	}
	if orig.OnHoldBy["bob"] {
		t.Fatalf("hold set shared with clone")
	}
	if orig.Transfer.Status != TransferPending {
		t.Fatalf("transfer record shared with clone")
	}
	if !orig.Recording.StoppedAt.IsZero() {
		t.Fatalf("recording record shared with clone")
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusEnded, StatusMissed, StatusDeclined} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusInitiated, StatusRinging, StatusActive} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
