package call

import "time"

// Call is the root aggregate for one audio/video session.
//
// Mutation invariant: a Call is only ever mutated by the registry running an
// accepted engine transition. Everything handed out of the registry is a deep
// copy, so callers can never corrupt the authoritative record.
//
// Status is monotonic along initiated -> ringing -> active -> terminal.
// Hold is layered on active via OnHoldBy, not a status of its own.
type Call struct {
	CallID         string `json:"call_id"`
	ConversationID string `json:"conversation_id"`
	InitiatorID    string `json:"initiator_id"`

	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`

	// OnHoldBy is the set of participant ids currently holding the call.
	OnHoldBy map[string]bool `json:"on_hold_by,omitempty"`

	// Participants is append-only for invitees; per-entry status is mutable.
	Participants []Participant `json:"participants"`

	// Transfer is the pending transfer, or the most recently settled one.
	Transfer *Transfer `json:"transfer,omitempty"`

	// Recording has an independent start/stop lifecycle and never affects Status.
	Recording *Recording `json:"recording,omitempty"`

	// RingDeadline is when an un-joined ringing call times out to missed.
	RingDeadline time.Time `json:"ring_deadline,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusMissed    Status = "missed"
	StatusDeclined  Status = "declined"
)

// Terminal reports whether no further call-level transitions are accepted.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusMissed || s == StatusDeclined
}

// Participant is a user's membership record inside a Call.
// Its status is monotonic: invited -> joined -> left, never backwards.
type Participant struct {
	UserID string            `json:"user_id"`
	Role   Role              `json:"role"`
	Status ParticipantStatus `json:"status"`

	Muted   bool   `json:"muted"`
	MutedBy string `json:"muted_by,omitempty"`

	JoinedAt time.Time `json:"joined_at,omitempty"`
	LeftAt   time.Time `json:"left_at,omitempty"`
}

type Role string

const (
	RoleInitiator     Role = "initiator"
	RoleInvitee       Role = "invitee"
	RoleTransferredIn Role = "transferred_in"
)

type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantDeclined ParticipantStatus = "declined"
	ParticipantMissed   ParticipantStatus = "missed"
	ParticipantLeft     ParticipantStatus = "left"
)

// Transfer is the nested handoff state machine scoped to one call.
// Accepted/declined/expired are terminal for the record; a new request
// always creates a fresh record.
type Transfer struct {
	TransferID string         `json:"transfer_id"`
	FromUserID string         `json:"from_user_id"`
	ToUserID   string         `json:"to_user_id"`
	Status     TransferStatus `json:"status"`

	Deadline  time.Time `json:"deadline,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	SettledAt time.Time `json:"settled_at,omitempty"`
}

type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferAccepted TransferStatus = "accepted"
	TransferDeclined TransferStatus = "declined"
	TransferExpired  TransferStatus = "expired"
)

func (s TransferStatus) Terminal() bool { return s != TransferPending }

// Recording tracks an in-call recording session.
type Recording struct {
	RecordingID string    `json:"recording_id"`
	StartedBy   string    `json:"started_by"`
	StartedAt   time.Time `json:"started_at"`
	StoppedAt   time.Time `json:"stopped_at,omitempty"`
}

// Participant returns a pointer into c.Participants for userID, or nil.
func (c *Call) Participant(userID string) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// JoinedCount counts participants currently in the joined state.
func (c *Call) JoinedCount() int {
	n := 0
	for i := range c.Participants {
		if c.Participants[i].Status == ParticipantJoined {
			n++
		}
	}
	return n
}

// Clone deep-copies the aggregate. The engine transitions a clone so a
// rejected event leaves the stored Call untouched.
func (c *Call) Clone() *Call {
	out := *c
	out.Participants = make([]Participant, len(c.Participants))
	copy(out.Participants, c.Participants)
	if c.OnHoldBy != nil {
		out.OnHoldBy = make(map[string]bool, len(c.OnHoldBy))
		for k, v := range c.OnHoldBy {
			out.OnHoldBy[k] = v
		}
	}
	if c.Transfer != nil {
		t := *c.Transfer
		out.Transfer = &t
	}
	if c.Recording != nil {
		r := *c.Recording
		out.Recording = &r
	}
	return &out
}
