package call

import "time"

// Event is the tagged union consumed by the engine. Each variant carries the
// acting user where one exists; timer-originated events carry none.
type Event interface {
	eventName() string
}

// Initiate creates the call and immediately rings the invitees.
type Initiate struct {
	CallID         string
	ConversationID string
	InitiatorID    string
	Kind           Kind
	InviteeIDs     []string

	// WaitingUserIDs are invitees the admission coordinator classified as
	// already engaged; they get a call.waiting notification, not an interrupt.
	WaitingUserIDs []string
}

// Join moves an invited participant to joined; the first join activates the call.
type Join struct{ UserID string }

// Decline marks an invited participant declined while ringing.
type Decline struct{ UserID string }

// Leave removes a joined participant from an active call.
type Leave struct{ UserID string }

// End force-terminates an active call, subject to policy.
type End struct{ UserID string }

// RingTimeout is the deferred self-event fired by the ring timer.
type RingTimeout struct{}

// SetHold toggles the acting user's presence in OnHoldBy.
type SetHold struct {
	UserID string
	On     bool
}

// SetMute toggles a participant's mute flag, permission-checked.
type SetMute struct {
	RequesterID string
	TargetID    string
	On          bool
}

// RequestTransfer opens a pending transfer of FromUserID's slot to ToUserID.
type RequestTransfer struct {
	FromUserID string
	ToUserID   string
}

// AcceptTransfer settles the pending transfer; target joins, source leaves.
type AcceptTransfer struct{ UserID string }

// DeclineTransfer settles the pending transfer without membership changes.
type DeclineTransfer struct{ UserID string }

// TransferTimeout is the deferred self-event fired by the transfer timer.
type TransferTimeout struct{ TransferID string }

// RecordingStart begins a recording session on an active call.
type RecordingStart struct{ UserID string }

// RecordingStop ends the recording session.
type RecordingStop struct{ UserID string }

func (Initiate) eventName() string        { return "initiate" }
func (Join) eventName() string            { return "join" }
func (Decline) eventName() string         { return "decline" }
func (Leave) eventName() string           { return "leave" }
func (End) eventName() string             { return "end" }
func (RingTimeout) eventName() string     { return "ring_timeout" }
func (SetHold) eventName() string         { return "set_hold" }
func (SetMute) eventName() string         { return "set_mute" }
func (RequestTransfer) eventName() string { return "request_transfer" }
func (AcceptTransfer) eventName() string  { return "accept_transfer" }
func (DeclineTransfer) eventName() string { return "decline_transfer" }
func (TransferTimeout) eventName() string { return "transfer_timeout" }
func (RecordingStart) eventName() string  { return "recording_start" }
func (RecordingStop) eventName() string   { return "recording_stop" }

// Name returns the wire name of an event, for logs.
func Name(ev Event) string { return ev.eventName() }

// Actor returns the user behind an event; empty for timer-driven events.
func Actor(ev Event) string {
	switch e := ev.(type) {
	case Initiate:
		return e.InitiatorID
	case Join:
		return e.UserID
	case Decline:
		return e.UserID
	case Leave:
		return e.UserID
	case End:
		return e.UserID
	case SetHold:
		return e.UserID
	case SetMute:
		return e.RequesterID
	case RequestTransfer:
		return e.FromUserID
	case AcceptTransfer:
		return e.UserID
	case DeclineTransfer:
		return e.UserID
	case RecordingStart:
		return e.UserID
	case RecordingStop:
		return e.UserID
	default:
		return ""
	}
}

// Effect is a side effect produced by an accepted transition. The engine never
// performs effects itself; the registry dispatches them after commit.
type Effect interface {
	effectName() string
}

// Notification types delivered to clients.
const (
	NotifyIncoming        = "call.incoming"
	NotifyWaiting         = "call.waiting"
	NotifyParticipant     = "call.participant"
	NotifyHold            = "call.hold"
	NotifyMute            = "call.mute"
	NotifyTransferInvite  = "call.transfer.invite"
	NotifyTransferSettled = "call.transfer.settled"
	NotifyRecording       = "call.recording"
	NotifyEnded           = "call.ended"
)

// NotifyEffect asks the notification collaborator to deliver a payload to one user.
type NotifyEffect struct {
	Type         string
	TargetUserID string
	CallID       string
	Payload      any
}

// StartRingTimerEffect schedules the ring deadline self-event.
type StartRingTimerEffect struct {
	CallID   string
	Deadline time.Time
}

// StartTransferTimerEffect schedules the transfer deadline self-event.
type StartTransferTimerEffect struct {
	CallID     string
	TransferID string
	Deadline   time.Time
}

// ArchiveEffect hands the terminal snapshot to historical storage, exactly once.
type ArchiveEffect struct {
	Snapshot Call
}

func (NotifyEffect) effectName() string             { return "notify" }
func (StartRingTimerEffect) effectName() string     { return "start_ring_timer" }
func (StartTransferTimerEffect) effectName() string { return "start_transfer_timer" }
func (ArchiveEffect) effectName() string            { return "archive" }
