package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"talkcart-calls/internal/call"
)

// SignalKind tags a negotiation payload. The relay never looks inside the
// payload itself.
type SignalKind string

const (
	KindOffer     SignalKind = "offer"
	KindAnswer    SignalKind = "answer"
	KindCandidate SignalKind = "candidate"
)

var ErrUnknownKind = errors.New("unknown signal kind")

// Signal is one opaque negotiation payload in flight between two participants.
type Signal struct {
	CallID     string          `json:"call_id"`
	FromUserID string          `json:"from_user_id"`
	ToUserID   string          `json:"to_user_id"`
	Kind       SignalKind      `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	SentAt     time.Time       `json:"sent_at"`
}

// Gateway delivers a signal to the recipient's channel. At-least-once
// semantics belong to the transport behind it.
type Gateway interface {
	DeliverSignal(ctx context.Context, userID string, sig Signal) error
}

// CallSource answers membership questions; satisfied by the registry.
type CallSource interface {
	Get(callID string) (*call.Call, error)
}

// Relay forwards negotiation payloads between participants of a live call.
//
// Ordering contract: signals from the same (from, to) pair reach the gateway
// in submission order, via one FIFO queue per pair. Pairs are independent.
// Submission never blocks; a saturated pair queue drops the signal.
type Relay struct {
	log   *slog.Logger
	calls CallSource
	gw    Gateway

	mu     sync.Mutex
	pairs  map[string]chan Signal
	closed bool
	wg     sync.WaitGroup

	// queueSize is per pair; settable before first use in tests.
	queueSize int
}

func New(log *slog.Logger, calls CallSource, gw Gateway) *Relay {
	return &Relay{
		log:       log,
		calls:     calls,
		gw:        gw,
		pairs:     map[string]chan Signal{},
		queueSize: 64,
	}
}

// Relay validates membership and queues the signal for ordered delivery.
func (r *Relay) Relay(ctx context.Context, callID, fromUserID, toUserID string, kind SignalKind, payload json.RawMessage) error {
	switch kind {
	case KindOffer, KindAnswer, KindCandidate:
	default:
		return ErrUnknownKind
	}

	c, err := r.calls.Get(callID)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return call.ErrInvalidCallState
	}
	if !isCurrent(c, fromUserID) || !isCurrent(c, toUserID) {
		return call.ErrNotParticipant
	}

	sig := Signal{
		CallID:     callID,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Kind:       kind,
		Payload:    payload,
		SentAt:     time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return call.ErrInvalidCallState
	}
	q := r.pairs[pairKey(callID, fromUserID, toUserID)]
	if q == nil {
		q = make(chan Signal, r.queueSize)
		r.pairs[pairKey(callID, fromUserID, toUserID)] = q
		r.wg.Add(1)
		go r.pump(q)
	}

	// The send stays under the lock so Drop cannot close the queue between
	// lookup and send. The queue is buffered; this never blocks.
	select {
	case q <- sig:
	default:
		r.log.Warn("signal queue saturated, dropping", "call_id", callID, "from", fromUserID, "to", toUserID, "kind", kind)
	}
	return nil
}

// Drop retires every pair queue belonging to the call. Queued signals still
// drain to the gateway before the pumps exit. The registry calls this when a
// call reaches a terminal status; without it pair queues would accumulate for
// the life of the process.
func (r *Relay) Drop(callID string) {
	prefix := callID + "|"
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for key, q := range r.pairs {
		if strings.HasPrefix(key, prefix) {
			close(q)
			delete(r.pairs, key)
		}
	}
}

// pump drains one pair queue in FIFO order.
func (r *Relay) pump(q chan Signal) {
	defer r.wg.Done()
	for sig := range q {
		if err := r.gw.DeliverSignal(context.Background(), sig.ToUserID, sig); err != nil {
			r.log.Warn("signal delivery failed", "call_id", sig.CallID, "to", sig.ToUserID, "kind", sig.Kind, "err", err)
		}
	}
}

// Close drains and stops all pair queues.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, q := range r.pairs {
		close(q)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// isCurrent reports whether the user still holds a live membership record.
func isCurrent(c *call.Call, userID string) bool {
	p := c.Participant(userID)
	if p == nil {
		return false
	}
	return p.Status == call.ParticipantInvited || p.Status == call.ParticipantJoined
}

func pairKey(callID, from, to string) string {
	return callID + "|" + from + "|" + to
}
