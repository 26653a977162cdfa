// Package postgres provides a PostgreSQL-backed UsageStore for pitchiq.
//
// Each user is one row; Reserve locks it with SELECT ... FOR UPDATE inside a
// transaction, so admission is serialized per user across gateway replicas.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/pitchiq"
)

// Store is a PostgreSQL-backed UsageStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	now         func() time.Time
}

var _ pitchiq.UsageStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "pitchiq_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// WithClock sets the time source used for window resets.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new PostgreSQL-backed UsageStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "pitchiq_",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) usageTable() string { return s.tablePrefix + "usage" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT PRIMARY KEY,
			used INTEGER NOT NULL DEFAULT 0,
			reserved INTEGER NOT NULL DEFAULT 0,
			reset_at TIMESTAMPTZ NOT NULL,
			vip BOOLEAN NOT NULL DEFAULT false
		);
	`, s.usageTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("pitchiq/postgres: ensure schema: %w", err)
	}
	return nil
}

// Reserve admits a prediction or returns ErrAdmissionDenied.
func (s *Store) Reserve(ctx context.Context, userID string) (pitchiq.Reservation, error) {
	var res pitchiq.Reservation
	err := s.withRecord(ctx, userID, func(rec *pitchiq.UsageRecord) error {
		if !rec.CanProceed() {
			return pitchiq.ErrAdmissionDenied
		}
		if !rec.VIP {
			rec.Reserved++
		}
		res = pitchiq.Reservation{
			ID:     uuid.New().String(),
			UserID: userID,
			Exempt: rec.VIP,
		}
		return nil
	})
	if err != nil {
		return pitchiq.Reservation{}, err
	}
	return res, nil
}

// Commit releases the reservation and records usage.
func (s *Store) Commit(ctx context.Context, res pitchiq.Reservation) error {
	if res.Exempt {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET reserved = GREATEST(reserved - 1, 0),
			used = CASE WHEN vip THEN used ELSE used + 1 END
			WHERE user_id = $1`, s.usageTable()),
		res.UserID,
	)
	if err != nil {
		return fmt.Errorf("pitchiq/postgres: commit: %w", err)
	}
	return nil
}

// Rollback releases the reservation.
func (s *Store) Rollback(ctx context.Context, res pitchiq.Reservation) error {
	if res.Exempt {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET reserved = GREATEST(reserved - 1, 0) WHERE user_id = $1`, s.usageTable()),
		res.UserID,
	)
	if err != nil {
		return fmt.Errorf("pitchiq/postgres: rollback: %w", err)
	}
	return nil
}

// Usage returns the user's record after a lazy window reset.
func (s *Store) Usage(ctx context.Context, userID string) (pitchiq.UsageRecord, error) {
	var out pitchiq.UsageRecord
	err := s.withRecord(ctx, userID, func(rec *pitchiq.UsageRecord) error {
		out = *rec
		return nil
	})
	return out, err
}

// SetVIP flags a user as exempt from the free quota.
func (s *Store) SetVIP(ctx context.Context, userID string, vip bool) error {
	return s.withRecord(ctx, userID, func(rec *pitchiq.UsageRecord) error {
		rec.VIP = vip
		return nil
	})
}

// Prune deletes idle non-VIP rows whose window started before olderThan ago.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE NOT vip AND reserved = 0 AND reset_at < $1`, s.usageTable()),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("pitchiq/postgres: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// withRecord loads the user's row under a row lock, creating it if missing,
// applies the lazy window reset, runs fn and writes the row back. A non-nil
// error from fn aborts the transaction.
func (s *Store) withRecord(ctx context.Context, userID string, fn func(rec *pitchiq.UsageRecord) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pitchiq/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now().UTC()

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, reset_at) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
			s.usageTable()),
		userID, now,
	)
	if err != nil {
		return fmt.Errorf("pitchiq/postgres: create: %w", err)
	}

	rec := pitchiq.UsageRecord{UserID: userID}
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT used, reserved, reset_at, vip FROM %s WHERE user_id = $1 FOR UPDATE`,
			s.usageTable()),
		userID,
	).Scan(&rec.Used, &rec.Reserved, &rec.ResetAt, &rec.VIP)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("pitchiq/postgres: user %q vanished", userID)
	}
	if err != nil {
		return fmt.Errorf("pitchiq/postgres: load: %w", err)
	}

	rec.ResetIfExpired(now)
	if err := fn(&rec); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET used = $1, reserved = $2, reset_at = $3, vip = $4 WHERE user_id = $5`,
			s.usageTable()),
		rec.Used, rec.Reserved, rec.ResetAt, rec.VIP, userID,
	)
	if err != nil {
		return fmt.Errorf("pitchiq/postgres: save: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pitchiq/postgres: commit tx: %w", err)
	}
	return nil
}
