package audit

import (
	"context"
	"errors"
	"time"

	"talkcart-calls/internal/call"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service keeps the trail of applied call events.
//
// IMPORTANT:
// - The trail is internal-only. Do not expose these records to users by default.
// - Callers should treat trail recording as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallID == "" {
		return ErrInvalidEvent
	}
	if e.Name == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// Record satisfies the registry's Trail. Errors are swallowed on purpose;
// the trail must never fail a call operation.
func (s *Service) Record(ctx context.Context, eventName, actorUserID string, snapshot call.Call) {
	_ = s.Append(ctx, Event{
		CallID:      snapshot.CallID,
		Name:        eventName,
		ActorUserID: actorUserID,
		Status:      string(snapshot.Status),
	})
}
