package history

import (
	"time"

	"talkcart-calls/internal/call"
)

// CallRecord is the immutable snapshot of a call after it reached a terminal
// status. Written exactly once; never updated.
type CallRecord struct {
	CallID         string         `json:"call_id"`
	ConversationID string         `json:"conversation_id"`
	InitiatorID    string         `json:"initiator_id"`
	Kind           call.Kind      `json:"kind"`
	Status         call.Status    `json:"status"`

	StartedAt       time.Time `json:"started_at,omitempty"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int       `json:"duration_seconds"`

	Participants []call.Participant `json:"participants"`

	RecordingID string `json:"recording_id,omitempty"`

	ArchivedAt time.Time `json:"archived_at"`
}

// QualityReport is one participant's end-of-call metrics, one per
// participant per call.
type QualityReport struct {
	CallID    string             `json:"call_id"`
	UserID    string             `json:"user_id"`
	Metrics   map[string]float64 `json:"metrics"`
	CreatedAt time.Time          `json:"created_at"`
}

// Summary aggregates a user's archived calls over a time range.
type Summary struct {
	UserID string `json:"user_id"`

	TotalCalls    int `json:"total_calls"`
	EndedCalls    int `json:"ended_calls"`
	MissedCalls   int `json:"missed_calls"`
	DeclinedCalls int `json:"declined_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}

// TimeRange is a half-open [From, To) window.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}
