package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"talkcart-calls/internal/call"

	"github.com/google/uuid"
)

// Notifier is the notification collaborator. Delivery mechanics (websocket,
// push, ...) are not the registry's concern.
type Notifier interface {
	Notify(ctx context.Context, n call.NotifyEffect)
}

// Archiver receives the terminal snapshot of a call exactly once.
type Archiver interface {
	Archive(ctx context.Context, snapshot call.Call) error
}

// Trail receives an append-only record of every applied event. Optional and
// best-effort; implementations must not block.
type Trail interface {
	Record(ctx context.Context, eventName, actorUserID string, snapshot call.Call)
}

// Registry is the single writer of call state. Every event for a given call
// goes through that call's entry lock, one at a time, in arrival order: the
// first event to reach the lock wins a race and the loser observes a stale
// precondition from the engine.
//
// Different calls share no mutable state and are processed concurrently.
type Registry struct {
	log      *slog.Logger
	pol      call.Policy
	notifier Notifier
	archiver Archiver
	trail    Trail

	// onTerminal runs once per call, after its terminal transition commits.
	// Collaborators holding per-call resources (the signaling relay) release
	// them here.
	onTerminal func(callID string)

	// clock is injectable for deterministic tests.
	clock func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	byUser  map[string]map[string]bool // userID -> callIDs where the user is joined
	timers  map[string]*time.Timer
}

type entry struct {
	mu sync.Mutex
	c  *call.Call
}

func New(log *slog.Logger, pol call.Policy, notifier Notifier, archiver Archiver) *Registry {
	return &Registry{
		log:      log,
		pol:      pol,
		notifier: notifier,
		archiver: archiver,
		clock:    time.Now,
		entries:  map[string]*entry{},
		byUser:   map[string]map[string]bool{},
		timers:   map[string]*time.Timer{},
	}
}

// Initiate creates a new call and rings its invitees. The returned snapshot
// is a deep copy.
func (r *Registry) Initiate(ctx context.Context, ev call.Initiate) (*call.Call, error) {
	if ev.CallID == "" {
		ev.CallID = uuid.NewString()
	}

	c, effects, err := call.Transition(nil, ev, r.clock().UTC(), r.pol)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.entries[c.CallID]; exists {
		r.mu.Unlock()
		return nil, call.ErrAlreadyHandled
	}
	r.entries[c.CallID] = &entry{c: c}
	r.indexLocked(c)
	r.mu.Unlock()

	r.log.Info("call initiated", "call_id", c.CallID, "initiator_id", c.InitiatorID, "kind", c.Kind, "invitees", len(c.Participants)-1)
	if r.trail != nil {
		r.trail.Record(ctx, call.Name(ev), c.InitiatorID, *c.Clone())
	}
	r.dispatch(ctx, effects)
	return c.Clone(), nil
}

// Apply runs one event against a call through its serialization point and
// returns the updated snapshot. Losers of event races get ErrAlreadyHandled
// or ErrInvalidCallState straight from the engine.
func (r *Registry) Apply(ctx context.Context, callID string, ev call.Event) (*call.Call, error) {
	r.mu.RLock()
	e, ok := r.entries[callID]
	r.mu.RUnlock()
	if !ok {
		return nil, call.ErrNotFound
	}

	e.mu.Lock()
	next, effects, err := call.Transition(e.c, ev, r.clock().UTC(), r.pol)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.c = next
	snapshot := next.Clone()
	e.mu.Unlock()

	r.mu.Lock()
	r.indexLocked(next)
	if next.Status.Terminal() {
		r.cancelTimersLocked(callID)
	}
	r.mu.Unlock()

	r.log.Debug("call event applied", "call_id", callID, "event", call.Name(ev), "status", next.Status)
	if r.trail != nil {
		r.trail.Record(ctx, call.Name(ev), call.Actor(ev), *snapshot)
	}
	r.dispatch(ctx, effects)
	if next.Status.Terminal() && r.onTerminal != nil {
		r.onTerminal(callID)
	}
	return snapshot, nil
}

// SetTrail attaches the audit trail. Call before serving traffic.
func (r *Registry) SetTrail(t Trail) { r.trail = t }

// SetOnTerminal attaches the terminal-call cleanup hook. Call before serving
// traffic.
func (r *Registry) SetOnTerminal(fn func(callID string)) { r.onTerminal = fn }

// Get returns a deep-copy snapshot of a call.
func (r *Registry) Get(callID string) (*call.Call, error) {
	r.mu.RLock()
	e, ok := r.entries[callID]
	r.mu.RUnlock()
	if !ok {
		return nil, call.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c.Clone(), nil
}

// Engaged reports whether the user is currently joined in any non-terminal
// call other than exclCallID. The admission coordinator uses this to decide
// between ringing a user and queueing a waiting entry.
func (r *Registry) Engaged(userID, exclCallID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.byUser[userID] {
		if id != exclCallID {
			return true
		}
	}
	return false
}

// indexLocked refreshes the user index for one call. Callers hold r.mu.
func (r *Registry) indexLocked(c *call.Call) {
	for i := range c.Participants {
		p := &c.Participants[i]
		joined := !c.Status.Terminal() && p.Status == call.ParticipantJoined
		set := r.byUser[p.UserID]
		if joined {
			if set == nil {
				set = map[string]bool{}
				r.byUser[p.UserID] = set
			}
			set[c.CallID] = true
			continue
		}
		delete(set, c.CallID)
		if len(set) == 0 {
			delete(r.byUser, p.UserID)
		}
	}
}

func (r *Registry) dispatch(ctx context.Context, effects []call.Effect) {
	for _, e := range effects {
		switch eff := e.(type) {
		case call.NotifyEffect:
			r.notifier.Notify(ctx, eff)
		case call.StartRingTimerEffect:
			r.startTimer(eff.CallID, eff.Deadline, call.RingTimeout{})
		case call.StartTransferTimerEffect:
			r.startTimer(eff.CallID+"|"+eff.TransferID, eff.Deadline, call.TransferTimeout{TransferID: eff.TransferID})
		case call.ArchiveEffect:
			if err := r.archiver.Archive(ctx, eff.Snapshot); err != nil {
				r.log.Error("terminal snapshot archive failed", "call_id", eff.Snapshot.CallID, "err", err)
			}
		}
	}
}

// startTimer schedules a deferred self-event. The event re-enters Apply like
// any other, so a timer that fires after a terminal transition is a no-op.
func (r *Registry) startTimer(key string, deadline time.Time, ev call.Event) {
	callID, _, _ := strings.Cut(key, "|")
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.timers, key)
		r.mu.Unlock()
		if _, err := r.Apply(context.Background(), callID, ev); err != nil {
			r.log.Debug("timer event dropped", "call_id", callID, "event", call.Name(ev), "err", err)
		}
	})
	r.mu.Lock()
	r.timers[key] = t
	r.mu.Unlock()
}

// cancelTimersLocked stops outstanding timers for a call. Callers hold r.mu.
func (r *Registry) cancelTimersLocked(callID string) {
	for key, t := range r.timers {
		if key == callID || strings.HasPrefix(key, callID+"|") {
			t.Stop()
			delete(r.timers, key)
		}
	}
}

// Sweep drops terminal calls that ended before the retention cutoff. Their
// authoritative record already lives in historical storage.
func (r *Registry) Sweep(retention time.Duration) int {
	cutoff := r.clock().UTC().Add(-retention)
	removed := 0

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		e.mu.Lock()
		gone := e.c.Status.Terminal() && e.c.EndedAt.Before(cutoff)
		e.mu.Unlock()
		if gone {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps terminal calls until ctx is canceled.
func (r *Registry) Run(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			if n := r.Sweep(retention); n > 0 {
				r.log.Debug("swept terminal calls", "count", n)
			}
		}
	}
}

// Close stops all outstanding timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.timers {
		t.Stop()
		delete(r.timers, key)
	}
}

