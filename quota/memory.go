package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ineyio/pitchiq"
)

// MemoryStore is an in-memory UsageStore with a rolling 24h window.
// State is volatile: it lives as long as the store value.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*pitchiq.UsageRecord
	now   func() time.Time
}

var _ pitchiq.UsageStore = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the time source used for window resets.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a new in-memory usage store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		users: make(map[string]*pitchiq.UsageRecord),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetVIP flags a user as exempt from the free quota.
func (s *MemoryStore) SetVIP(userID string, vip bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getOrCreate(userID).VIP = vip
}

// Reserve admits a prediction or returns ErrAdmissionDenied.
func (s *MemoryStore) Reserve(_ context.Context, userID string) (pitchiq.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreate(userID)
	rec.ResetIfExpired(s.now())

	if !rec.CanProceed() {
		return pitchiq.Reservation{}, pitchiq.ErrAdmissionDenied
	}
	if !rec.VIP {
		rec.Reserved++
	}

	return pitchiq.Reservation{
		ID:     uuid.New().String(),
		UserID: userID,
		Exempt: rec.VIP,
	}, nil
}

// Commit releases the reservation and records usage.
func (s *MemoryStore) Commit(_ context.Context, res pitchiq.Reservation) error {
	if res.Exempt {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreate(res.UserID)
	release(rec)
	rec.RecordUsage()
	return nil
}

// Rollback releases the reservation.
func (s *MemoryStore) Rollback(_ context.Context, res pitchiq.Reservation) error {
	if res.Exempt {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	release(s.getOrCreate(res.UserID))
	return nil
}

// Usage returns a copy of the user's record after a lazy window reset.
func (s *MemoryStore) Usage(_ context.Context, userID string) (pitchiq.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreate(userID)
	rec.ResetIfExpired(s.now())
	return *rec, nil
}

// getOrCreate must be called with the lock held.
func (s *MemoryStore) getOrCreate(userID string) *pitchiq.UsageRecord {
	rec, ok := s.users[userID]
	if !ok {
		rec = pitchiq.NewUsageRecord(userID, s.now())
		s.users[userID] = rec
	}
	return rec
}

func release(rec *pitchiq.UsageRecord) {
	if rec.Reserved > 0 {
		rec.Reserved--
	}
}
