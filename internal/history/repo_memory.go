package history

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo backs the service in tests and single-node development.
type MemoryRepo struct {
	mu sync.Mutex

	records map[string]CallRecord
	reports map[string]QualityReport // key: callID|userID
	seen    map[string]time.Time     // key: userID|callID
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		records: map[string]CallRecord{},
		reports: map[string]QualityReport{},
		seen:    map[string]time.Time{},
	}
}

func (r *MemoryRepo) InsertRecord(_ context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Records are immutable; a repeat insert for the same call is dropped.
	if _, ok := r.records[rec.CallID]; ok {
		return nil
	}
	r.records[rec.CallID] = rec
	return nil
}

func (r *MemoryRepo) GetRecord(_ context.Context, callID string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) ListRecords(_ context.Context, userID string, rng TimeRange) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, rec := range r.records {
		if rec.EndedAt.Before(rng.From) || !rec.EndedAt.Before(rng.To) {
			continue
		}
		for _, p := range rec.Participants {
			if p.UserID == userID {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryRepo) InsertQualityReport(_ context.Context, rep QualityReport) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rep.CallID + "|" + rep.UserID
	if _, ok := r.reports[key]; ok {
		return false, nil
	}
	r.reports[key] = rep
	return true, nil
}

func (r *MemoryRepo) MarkMissedSeen(_ context.Context, userID string, callIDs []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range callIDs {
		key := userID + "|" + id
		if _, ok := r.seen[key]; !ok {
			r.seen[key] = at
		}
	}
	return nil
}

func (r *MemoryRepo) MissedSeen(_ context.Context, userID, callID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[userID+"|"+callID]
	return ok, nil
}
