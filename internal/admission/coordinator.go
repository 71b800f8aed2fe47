package admission

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"talkcart-calls/internal/call"
)

// Entry is one waiting call parked for a user who is already engaged.
type Entry struct {
	UserID     string    `json:"user_id"`
	CallID     string    `json:"call_id"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Store persists waiting-queue entries per user.
// Enqueue must be atomic and deduplicate on (userID, callID).
type Store interface {
	Enqueue(ctx context.Context, e Entry) (bool, error)
	List(ctx context.Context, userID string) ([]Entry, error)
	Remove(ctx context.Context, userID, callID string) error
}

// Calls is the slice of the registry the coordinator needs.
type Calls interface {
	Initiate(ctx context.Context, ev call.Initiate) (*call.Call, error)
	Apply(ctx context.Context, callID string, ev call.Event) (*call.Call, error)
	Get(callID string) (*call.Call, error)
	Engaged(userID, exclCallID string) bool
}

// Coordinator intercepts new incoming calls. An invitee who is already
// engaged in another live call gets a waiting-queue entry instead of a second
// concurrent ring. The user's existing call is never auto-held or
// auto-declined; that choice stays with the client.
type Coordinator struct {
	log   *slog.Logger
	calls Calls
	store Store
	clock func() time.Time
}

func NewCoordinator(log *slog.Logger, calls Calls, store Store) *Coordinator {
	return &Coordinator{log: log, calls: calls, store: store, clock: time.Now}
}

// InitiateRequest is the shape of an initiate command after auth.
type InitiateRequest struct {
	ConversationID string
	InitiatorID    string
	Kind           call.Kind
	InviteeIDs     []string
	Priority       int
}

// Initiate classifies invitees and submits the event to the registry.
func (co *Coordinator) Initiate(ctx context.Context, req InitiateRequest) (*call.Call, error) {
	var waiting []string
	for _, id := range req.InviteeIDs {
		if co.calls.Engaged(id, "") {
			waiting = append(waiting, id)
		}
	}

	c, err := co.calls.Initiate(ctx, call.Initiate{
		ConversationID: req.ConversationID,
		InitiatorID:    req.InitiatorID,
		Kind:           req.Kind,
		InviteeIDs:     req.InviteeIDs,
		WaitingUserIDs: waiting,
	})
	if err != nil {
		return nil, err
	}

	now := co.clock().UTC()
	for _, id := range waiting {
		added, err := co.store.Enqueue(ctx, Entry{
			UserID:     id,
			CallID:     c.CallID,
			Priority:   req.Priority,
			EnqueuedAt: now,
		})
		if err != nil {
			co.log.Error("waiting enqueue failed", "user_id", id, "call_id", c.CallID, "err", err)
			continue
		}
		if added {
			co.log.Info("call parked as waiting", "user_id", id, "call_id", c.CallID)
		}
	}
	return c, nil
}

// Join issues a join on behalf of the user and consumes any waiting entry
// for that call. Accepting a waiting call is exactly a join on its callId.
func (co *Coordinator) Join(ctx context.Context, callID, userID string) (*call.Call, error) {
	c, err := co.calls.Apply(ctx, callID, call.Join{UserID: userID})
	if err != nil {
		return nil, err
	}
	if err := co.store.Remove(ctx, userID, callID); err != nil {
		co.log.Warn("waiting entry cleanup failed", "user_id", userID, "call_id", callID, "err", err)
	}
	return c, nil
}

// Decline forwards the decline and drops the waiting entry, if any.
func (co *Coordinator) Decline(ctx context.Context, callID, userID string) (*call.Call, error) {
	c, err := co.calls.Apply(ctx, callID, call.Decline{UserID: userID})
	if err != nil {
		return nil, err
	}
	if err := co.store.Remove(ctx, userID, callID); err != nil {
		co.log.Warn("waiting entry cleanup failed", "user_id", userID, "call_id", callID, "err", err)
	}
	return c, nil
}

// Waiting lists the user's queue, dropping entries whose call already moved
// on. Ordered by priority, then enqueue time.
func (co *Coordinator) Waiting(ctx context.Context, userID string) ([]Entry, error) {
	entries, err := co.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	live := entries[:0]
	for _, e := range entries {
		c, err := co.calls.Get(e.CallID)
		if errors.Is(err, call.ErrNotFound) || (err == nil && c.Status.Terminal()) {
			if rmErr := co.store.Remove(ctx, userID, e.CallID); rmErr != nil {
				co.log.Warn("stale waiting entry cleanup failed", "user_id", userID, "call_id", e.CallID, "err", rmErr)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		live = append(live, e)
	}

	sort.SliceStable(live, func(i, j int) bool {
		if live[i].Priority != live[j].Priority {
			return live[i].Priority > live[j].Priority
		}
		return live[i].EnqueuedAt.Before(live[j].EnqueuedAt)
	})
	return live, nil
}
