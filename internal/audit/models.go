package audit

import "time"

// Event is an immutable, append-only record of one applied call event.
//
// Invariants:
// - Events are never updated or deleted.
// - Recording is best-effort; do not block call flows on audit failures.
//
// Storage recommendation (Postgres):
// - Table call_audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	// Name is the engine event that was applied (join, decline, ...).
	Name string `json:"name" db:"name"`

	// ActorUserID is the user whose request produced the event; empty for
	// timer-driven events.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// Status is the call status after the event was applied.
	Status string `json:"status" db:"status"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
