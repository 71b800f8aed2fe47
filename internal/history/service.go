package history

import (
	"context"
	"errors"
	"time"

	"talkcart-calls/internal/call"
)

var (
	ErrInvalidRequest  = errors.New("history: invalid request")
	ErrAlreadyReported = errors.New("history: quality already reported for this participant")
	ErrNotFound        = errors.New("history: record not found")
)

// Repository abstracts storage of terminal call snapshots and their
// per-participant follow-ups. Implementations must treat records as
// append-only.
type Repository interface {
	InsertRecord(ctx context.Context, rec CallRecord) error
	GetRecord(ctx context.Context, callID string) (CallRecord, error)
	ListRecords(ctx context.Context, userID string, rng TimeRange) ([]CallRecord, error)

	// InsertQualityReport returns false when a report for (callID, userID)
	// already exists.
	InsertQualityReport(ctx context.Context, rep QualityReport) (bool, error)

	MarkMissedSeen(ctx context.Context, userID string, callIDs []string, at time.Time) error
	MissedSeen(ctx context.Context, userID, callID string) (bool, error)
}

// Service is the historical-storage collaborator. The registry hands it each
// terminal snapshot exactly once via Archive.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Archive persists a terminal snapshot. Satisfies the registry's Archiver.
func (s *Service) Archive(ctx context.Context, snapshot call.Call) error {
	if !snapshot.Status.Terminal() {
		return ErrInvalidRequest
	}

	rec := CallRecord{
		CallID:         snapshot.CallID,
		ConversationID: snapshot.ConversationID,
		InitiatorID:    snapshot.InitiatorID,
		Kind:           snapshot.Kind,
		Status:         snapshot.Status,
		StartedAt:      snapshot.StartedAt,
		EndedAt:        snapshot.EndedAt,
		Participants:   snapshot.Participants,
		ArchivedAt:     s.clock().UTC(),
	}
	if !snapshot.StartedAt.IsZero() {
		rec.DurationSeconds = int(snapshot.EndedAt.Sub(snapshot.StartedAt) / time.Second)
	}
	if snapshot.Recording != nil {
		rec.RecordingID = snapshot.Recording.RecordingID
	}
	return s.repo.InsertRecord(ctx, rec)
}

// ReportQuality records one participant's metrics, once per call.
func (s *Service) ReportQuality(ctx context.Context, callID, userID string, metrics map[string]float64) error {
	if callID == "" || userID == "" || len(metrics) == 0 {
		return ErrInvalidRequest
	}
	added, err := s.repo.InsertQualityReport(ctx, QualityReport{
		CallID:    callID,
		UserID:    userID,
		Metrics:   metrics,
		CreatedAt: s.clock().UTC(),
	})
	if err != nil {
		return err
	}
	if !added {
		return ErrAlreadyReported
	}
	return nil
}

// MarkMissedSeen flags missed calls as seen. Idempotent: repeating the same
// ids is a success.
func (s *Service) MarkMissedSeen(ctx context.Context, userID string, callIDs []string) error {
	if userID == "" || len(callIDs) == 0 {
		return ErrInvalidRequest
	}
	return s.repo.MarkMissedSeen(ctx, userID, callIDs, s.clock().UTC())
}

// UserHistory lists the user's archived calls over a window, newest first.
func (s *Service) UserHistory(ctx context.Context, userID string, rng TimeRange) ([]CallRecord, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	if rng.From.IsZero() || rng.To.IsZero() || !rng.To.After(rng.From) {
		return nil, ErrInvalidRequest
	}
	return s.repo.ListRecords(ctx, userID, rng)
}

// UserSummary aggregates the user's archived calls over a window.
func (s *Service) UserSummary(ctx context.Context, userID string, rng TimeRange) (Summary, error) {
	if userID == "" {
		return Summary{}, ErrInvalidRequest
	}
	if rng.From.IsZero() || rng.To.IsZero() || !rng.To.After(rng.From) {
		return Summary{}, ErrInvalidRequest
	}

	rows, err := s.repo.ListRecords(ctx, userID, rng)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{UserID: userID}
	for _, r := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += r.DurationSeconds
		switch r.Status {
		case call.StatusEnded:
			out.EndedCalls++
		case call.StatusMissed:
			out.MissedCalls++
		case call.StatusDeclined:
			out.DeclinedCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}
