package call

import (
	"time"

	"github.com/google/uuid"
)

// Policy holds product-tunable behavior. Both timeout durations and the
// force-end rule vary by deployment, so they are injected, not hard-coded.
type Policy struct {
	// RingTimeout bounds how long an un-joined call stays ringing.
	RingTimeout time.Duration

	// TransferTimeout bounds how long a transfer stays pending.
	TransferTimeout time.Duration

	// AnyoneMayEnd permits any joined participant to force-end the call.
	// When false only the initiator may.
	AnyoneMayEnd bool
}

// Transition is the pure state machine: (Call, Event) -> (Call, []Effect).
//
// It never performs effects and never partially mutates: on error the input
// Call is returned untouched. Concurrency is not its problem — the registry
// guarantees at most one transition is evaluated against a Call at a time.
//
// For Initiate, c must be nil; for every other event c must be non-nil.
func Transition(c *Call, ev Event, now time.Time, pol Policy) (*Call, []Effect, error) {
	if ini, ok := ev.(Initiate); ok {
		return applyInitiate(ini, now, pol)
	}
	if c == nil {
		return nil, nil, ErrNotFound
	}

	switch e := ev.(type) {
	case Join:
		return applyJoin(c, e, now)
	case Decline:
		return applyDecline(c, e, now)
	case Leave:
		return applyLeave(c, e, now)
	case End:
		return applyEnd(c, e, now, pol)
	case RingTimeout:
		return applyRingTimeout(c, now)
	case SetHold:
		return applySetHold(c, e)
	case SetMute:
		return applySetMute(c, e)
	case RequestTransfer:
		return applyRequestTransfer(c, e, now, pol)
	case AcceptTransfer:
		return applyAcceptTransfer(c, e, now)
	case DeclineTransfer:
		return applyDeclineTransfer(c, e, now)
	case TransferTimeout:
		return applyTransferTimeout(c, e, now)
	case RecordingStart:
		return applyRecordingStart(c, e, now)
	case RecordingStop:
		return applyRecordingStop(c, e, now)
	default:
		return c, nil, ErrInvalidCallState
	}
}

func applyInitiate(ev Initiate, now time.Time, pol Policy) (*Call, []Effect, error) {
	if ev.InitiatorID == "" || len(ev.InviteeIDs) == 0 {
		return nil, nil, ErrInvalidCallState
	}

	waiting := make(map[string]bool, len(ev.WaitingUserIDs))
	for _, id := range ev.WaitingUserIDs {
		waiting[id] = true
	}

	c := &Call{
		CallID:         ev.CallID,
		ConversationID: ev.ConversationID,
		InitiatorID:    ev.InitiatorID,
		Kind:           ev.Kind,
		Status:         StatusRinging,
		RingDeadline:   now.Add(pol.RingTimeout),
		CreatedAt:      now,
	}
	c.Participants = append(c.Participants, Participant{
		UserID:   ev.InitiatorID,
		Role:     RoleInitiator,
		Status:   ParticipantJoined,
		JoinedAt: now,
	})

	effects := []Effect{StartRingTimerEffect{CallID: c.CallID, Deadline: c.RingDeadline}}
	for _, id := range ev.InviteeIDs {
		if id == ev.InitiatorID || c.Participant(id) != nil {
			continue
		}
		c.Participants = append(c.Participants, Participant{
			UserID: id,
			Role:   RoleInvitee,
			Status: ParticipantInvited,
		})
		// Busy invitees see a waiting entry instead of an immediate interrupt.
		typ := NotifyIncoming
		if waiting[id] {
			typ = NotifyWaiting
		}
		effects = append(effects, NotifyEffect{
			Type:         typ,
			TargetUserID: id,
			CallID:       c.CallID,
			Payload:      map[string]any{"initiator_id": ev.InitiatorID, "kind": c.Kind, "conversation_id": ev.ConversationID},
		})
	}
	return c, effects, nil
}

func applyJoin(c *Call, ev Join, now time.Time) (*Call, []Effect, error) {
	if c.Status.Terminal() {
		return c, nil, ErrInvalidCallState
	}
	if c.Status != StatusRinging && c.Status != StatusActive {
		return c, nil, ErrInvalidCallState
	}
	p := c.Participant(ev.UserID)
	if p == nil {
		return c, nil, ErrNotParticipant
	}
	switch p.Status {
	case ParticipantJoined:
		// Repeated join is a no-op success: joinedAt stays, no duplicate effect.
		return c, nil, nil
	case ParticipantInvited:
	default:
		return c, nil, ErrAlreadyHandled
	}

	out := c.Clone()
	jp := out.Participant(ev.UserID)
	jp.Status = ParticipantJoined
	jp.JoinedAt = now
	if out.Status == StatusRinging {
		out.Status = StatusActive
		out.StartedAt = now
	}
	return out, notifyOthers(out, ev.UserID, NotifyParticipant, map[string]any{"user_id": ev.UserID, "status": ParticipantJoined}), nil
}

func applyDecline(c *Call, ev Decline, now time.Time) (*Call, []Effect, error) {
	if c.Status != StatusRinging {
		if c.Status.Terminal() {
			return c, nil, ErrInvalidCallState
		}
		return c, nil, ErrAlreadyHandled
	}
	p := c.Participant(ev.UserID)
	if p == nil {
		return c, nil, ErrNotParticipant
	}
	if p.Status != ParticipantInvited {
		return c, nil, ErrAlreadyHandled
	}

	out := c.Clone()
	dp := out.Participant(ev.UserID)
	dp.Status = ParticipantDeclined
	dp.LeftAt = now

	effects := notifyOthers(out, ev.UserID, NotifyParticipant, map[string]any{"user_id": ev.UserID, "status": ParticipantDeclined})
	if inviteesExhausted(out) {
		effects = append(effects, closeCall(out, StatusDeclined, now)...)
	}
	return out, effects, nil
}

func applyLeave(c *Call, ev Leave, now time.Time) (*Call, []Effect, error) {
	if c.Status.Terminal() {
		return c, nil, ErrInvalidCallState
	}
	if c.Status != StatusActive {
		return c, nil, ErrInvalidCallState
	}
	p := c.Participant(ev.UserID)
	if p == nil {
		return c, nil, ErrNotParticipant
	}
	if p.Status != ParticipantJoined {
		return c, nil, ErrAlreadyHandled
	}

	out := c.Clone()
	lp := out.Participant(ev.UserID)
	lp.Status = ParticipantLeft
	lp.LeftAt = now
	delete(out.OnHoldBy, ev.UserID)

	effects := notifyOthers(out, ev.UserID, NotifyParticipant, map[string]any{"user_id": ev.UserID, "status": ParticipantLeft})
	if out.JoinedCount() == 0 {
		effects = append(effects, closeCall(out, StatusEnded, now)...)
	}
	return out, effects, nil
}

func applyEnd(c *Call, ev End, now time.Time, pol Policy) (*Call, []Effect, error) {
	if c.Status.Terminal() {
		return c, nil, ErrInvalidCallState
	}
	// End only applies to an established call. A ringing call settles through
	// decline or the ring timer, never through end.
	if c.Status != StatusActive {
		return c, nil, ErrInvalidCallState
	}
	p := c.Participant(ev.UserID)
	if p == nil {
		return c, nil, ErrNotParticipant
	}
	if !pol.AnyoneMayEnd && ev.UserID != c.InitiatorID {
		return c, nil, ErrPermissionDenied
	}

	out := c.Clone()
	return out, closeCall(out, StatusEnded, now), nil
}

func applyRingTimeout(c *Call, now time.Time) (*Call, []Effect, error) {
	// A timer firing after the call moved on is a no-op, never an error.
	if c.Status != StatusRinging {
		return c, nil, nil
	}
	out := c.Clone()
	for i := range out.Participants {
		if out.Participants[i].Status == ParticipantInvited {
			out.Participants[i].Status = ParticipantMissed
		}
	}
	return out, closeCall(out, StatusMissed, now), nil
}

func applySetHold(c *Call, ev SetHold) (*Call, []Effect, error) {
	if c.Status != StatusActive {
		return c, nil, ErrInvalidCallState
	}
	p := c.Participant(ev.UserID)
	if p == nil {
		return c, nil, ErrNotParticipant
	}
	if p.Status != ParticipantJoined {
		return c, nil, ErrInvalidCallState
	}

	out := c.Clone()
	if ev.On {
		if out.OnHoldBy == nil {
			out.OnHoldBy = map[string]bool{}
		}
		out.OnHoldBy[ev.UserID] = true
	} else {
		delete(out.OnHoldBy, ev.UserID)
	}
	return out, notifyOthers(out, ev.UserID, NotifyHold, map[string]any{"user_id": ev.UserID, "on": ev.On}), nil
}

func applySetMute(c *Call, ev SetMute) (*Call, []Effect, error) {
	if c.Status.Terminal() {
		return c, nil, ErrInvalidCallState
	}
	if ev.RequesterID != ev.TargetID && ev.RequesterID != c.InitiatorID {
		return c, nil, ErrPermissionDenied
	}
	if c.Participant(ev.RequesterID) == nil {
		return c, nil, ErrNotParticipant
	}
	p := c.Participant(ev.TargetID)
	if p == nil {
		return c, nil, ErrNotParticipant
	}
	if p.Status != ParticipantJoined {
		return c, nil, ErrInvalidCallState
	}

	out := c.Clone()
	mp := out.Participant(ev.TargetID)
	mp.Muted = ev.On
	if ev.On {
		mp.MutedBy = ev.RequesterID
	} else {
		mp.MutedBy = ""
	}
	return out, notifyOthers(out, "", NotifyMute, map[string]any{"user_id": ev.TargetID, "muted": ev.On, "muted_by": mp.MutedBy}), nil
}

func applyRequestTransfer(c *Call, ev RequestTransfer, now time.Time, pol Policy) (*Call, []Effect, error) {
	if c.Status != StatusActive {
		return c, nil, ErrInvalidCallState
	}
	if ev.ToUserID == "" || ev.ToUserID == ev.FromUserID {
		return c, nil, ErrInvalidCallState
	}
	p := c.Participant(ev.FromUserID)
	if p == nil {
		return c, nil, ErrNotParticipant
	}
	if p.Status != ParticipantJoined {
		return c, nil, ErrInvalidCallState
	}
	if c.Transfer != nil && !c.Transfer.Status.Terminal() {
		return c, nil, ErrTransferInProgress
	}

	out := c.Clone()
	t := &Transfer{
		TransferID: uuid.NewString(),
		FromUserID: ev.FromUserID,
		ToUserID:   ev.ToUserID,
		Status:     TransferPending,
		Deadline:   now.Add(pol.TransferTimeout),
		CreatedAt:  now,
	}
	out.Transfer = t

	effects := []Effect{
		StartTransferTimerEffect{CallID: out.CallID, TransferID: t.TransferID, Deadline: t.Deadline},
		NotifyEffect{
			Type:         NotifyTransferInvite,
			TargetUserID: t.ToUserID,
			CallID:       out.CallID,
			Payload:      map[string]any{"transfer_id": t.TransferID, "from_user_id": t.FromUserID, "kind": out.Kind},
		},
	}
	return out, effects, nil
}

func applyAcceptTransfer(c *Call, ev AcceptTransfer, now time.Time) (*Call, []Effect, error) {
	if c.Status.Terminal() {
		return c, nil, ErrInvalidCallState
	}
	t := c.Transfer
	if t == nil {
		return c, nil, ErrInvalidCallState
	}
	if ev.UserID != t.ToUserID {
		return c, nil, ErrPermissionDenied
	}
	if t.Status == TransferPending && now.After(t.Deadline) {
		return c, nil, ErrExpired
	}
	next, err := settleTransfer(t, transferEventAccept)
	if err != nil {
		return c, nil, err
	}

	out := c.Clone()
	out.Transfer.Status = next
	out.Transfer.SettledAt = now

	if tp := out.Participant(t.ToUserID); tp != nil {
		if tp.Status != ParticipantJoined {
			tp.Status = ParticipantJoined
			tp.JoinedAt = now
		}
	} else {
		out.Participants = append(out.Participants, Participant{
			UserID:   t.ToUserID,
			Role:     RoleTransferredIn,
			Status:   ParticipantJoined,
			JoinedAt: now,
		})
	}
	if fp := out.Participant(t.FromUserID); fp != nil && fp.Status == ParticipantJoined {
		fp.Status = ParticipantLeft
		fp.LeftAt = now
		delete(out.OnHoldBy, t.FromUserID)
	}

	effects := notifyOthers(out, "", NotifyTransferSettled, map[string]any{
		"transfer_id": t.TransferID, "status": next, "from_user_id": t.FromUserID, "to_user_id": t.ToUserID,
	})
	effects = append(effects, NotifyEffect{
		Type:         NotifyTransferSettled,
		TargetUserID: t.FromUserID,
		CallID:       out.CallID,
		Payload:      map[string]any{"transfer_id": t.TransferID, "status": next},
	})
	// The handoff must never strand a live call with nobody in it.
	if out.JoinedCount() == 0 {
		effects = append(effects, closeCall(out, StatusEnded, now)...)
	}
	return out, effects, nil
}

func applyDeclineTransfer(c *Call, ev DeclineTransfer, now time.Time) (*Call, []Effect, error) {
	if c.Status.Terminal() {
		return c, nil, ErrInvalidCallState
	}
	t := c.Transfer
	if t == nil {
		return c, nil, ErrInvalidCallState
	}
	if ev.UserID != t.ToUserID {
		return c, nil, ErrPermissionDenied
	}
	next, err := settleTransfer(t, transferEventDecline)
	if err != nil {
		return c, nil, err
	}

	out := c.Clone()
	out.Transfer.Status = next
	out.Transfer.SettledAt = now

	// The requester keeps their slot; only they need to hear about it.
	return out, []Effect{NotifyEffect{
		Type:         NotifyTransferSettled,
		TargetUserID: t.FromUserID,
		CallID:       out.CallID,
		Payload:      map[string]any{"transfer_id": t.TransferID, "status": next},
	}}, nil
}

func applyTransferTimeout(c *Call, ev TransferTimeout, now time.Time) (*Call, []Effect, error) {
	t := c.Transfer
	if c.Status.Terminal() || t == nil || t.TransferID != ev.TransferID || t.Status.Terminal() {
		return c, nil, nil
	}
	out := c.Clone()
	out.Transfer.Status = TransferExpired
	out.Transfer.SettledAt = now

	return out, []Effect{NotifyEffect{
		Type:         NotifyTransferSettled,
		TargetUserID: t.FromUserID,
		CallID:       out.CallID,
		Payload:      map[string]any{"transfer_id": t.TransferID, "status": TransferExpired},
	}}, nil
}

func applyRecordingStart(c *Call, ev RecordingStart, now time.Time) (*Call, []Effect, error) {
	if c.Status != StatusActive {
		return c, nil, ErrInvalidCallState
	}
	p := c.Participant(ev.UserID)
	if p == nil {
		return c, nil, ErrNotParticipant
	}
	if p.Status != ParticipantJoined {
		return c, nil, ErrInvalidCallState
	}
	if c.Recording != nil && c.Recording.StoppedAt.IsZero() {
		return c, nil, ErrAlreadyHandled
	}

	out := c.Clone()
	out.Recording = &Recording{
		RecordingID: uuid.NewString(),
		StartedBy:   ev.UserID,
		StartedAt:   now,
	}
	return out, notifyOthers(out, "", NotifyRecording, map[string]any{"recording_id": out.Recording.RecordingID, "on": true, "started_by": ev.UserID}), nil
}

func applyRecordingStop(c *Call, ev RecordingStop, now time.Time) (*Call, []Effect, error) {
	if c.Status.Terminal() {
		return c, nil, ErrInvalidCallState
	}
	p := c.Participant(ev.UserID)
	if p == nil {
		return c, nil, ErrNotParticipant
	}
	if c.Recording == nil || !c.Recording.StoppedAt.IsZero() {
		return c, nil, ErrAlreadyHandled
	}

	out := c.Clone()
	out.Recording.StoppedAt = now
	return out, notifyOthers(out, "", NotifyRecording, map[string]any{"recording_id": out.Recording.RecordingID, "on": false}), nil
}

// inviteesExhausted reports that every invitee has declined and none joined.
func inviteesExhausted(c *Call) bool {
	for i := range c.Participants {
		p := &c.Participants[i]
		if p.Role == RoleInitiator {
			continue
		}
		if p.Status != ParticipantDeclined {
			return false
		}
	}
	return true
}

// closeCall applies a terminal transition in place and returns its effects.
// Exactly one terminal transition ever runs: callers check Terminal() first.
func closeCall(c *Call, status Status, now time.Time) []Effect {
	c.Status = status
	c.EndedAt = now

	for i := range c.Participants {
		if c.Participants[i].Status == ParticipantJoined {
			c.Participants[i].Status = ParticipantLeft
			c.Participants[i].LeftAt = now
		}
	}
	c.OnHoldBy = nil
	if c.Transfer != nil && !c.Transfer.Status.Terminal() {
		c.Transfer.Status = TransferExpired
		c.Transfer.SettledAt = now
	}
	if c.Recording != nil && c.Recording.StoppedAt.IsZero() {
		c.Recording.StoppedAt = now
	}

	var effects []Effect
	for i := range c.Participants {
		p := &c.Participants[i]
		effects = append(effects, NotifyEffect{
			Type:         NotifyEnded,
			TargetUserID: p.UserID,
			CallID:       c.CallID,
			Payload:      map[string]any{"status": status},
		})
	}
	effects = append(effects, ArchiveEffect{Snapshot: *c.Clone()})
	return effects
}

// notifyOthers fans a notification out to every invited or joined participant
// except the acting user.
func notifyOthers(c *Call, actorID, typ string, payload any) []Effect {
	var effects []Effect
	for i := range c.Participants {
		p := &c.Participants[i]
		if p.UserID == actorID {
			continue
		}
		if p.Status != ParticipantJoined && p.Status != ParticipantInvited {
			continue
		}
		effects = append(effects, NotifyEffect{
			Type:         typ,
			TargetUserID: p.UserID,
			CallID:       c.CallID,
			Payload:      payload,
		})
	}
	return effects
}
