package pitchiq

import (
	"context"
	"time"
)

const (
	// FreeDailyLimit is the number of predictions a non-VIP user may make per window.
	FreeDailyLimit = 2

	// QuotaWindow is the length of the rolling usage window.
	QuotaWindow = 24 * time.Hour
)

// UsageStore manages per-user usage records and admission.
//
// Reserve must be atomic per user id: two concurrent reservations for the
// same user never both observe the same free slot.
type UsageStore interface {
	// Reserve admits a prediction for the user, holding one in-flight slot.
	// Returns ErrAdmissionDenied when the free quota is exhausted.
	Reserve(ctx context.Context, userID string) (Reservation, error)

	// Commit releases the slot and records one prediction as used.
	Commit(ctx context.Context, reservation Reservation) error

	// Rollback releases the slot without recording usage.
	Rollback(ctx context.Context, reservation Reservation) error

	// Usage returns a snapshot of the user's record, creating it if unseen.
	Usage(ctx context.Context, userID string) (UsageRecord, error)
}

// Reservation represents an admitted, not yet finished prediction.
type Reservation struct {
	ID     string
	UserID string
	// Exempt is set for VIP users; committing it records nothing.
	Exempt bool
}
