//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/pitchiq"
	quotapg "github.com/ineyio/pitchiq/quota/postgres"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/pitchiq_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestStore(t *testing.T, pool *pgxpool.Pool, opts ...quotapg.Option) *quotapg.Store {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := fmt.Sprintf("test_%s_", strings.ToLower(t.Name()))
	s := quotapg.New(pool, append([]quotapg.Option{quotapg.WithTablePrefix(prefix)}, opts...)...)

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %susage", prefix))
	})
	return s
}

func TestReserveAndCommit(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "u1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.UserID != "u1" || res.Exempt {
		t.Fatalf("unexpected reservation: %+v", res)
	}

	rec, err := store.Usage(ctx, "u1")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if rec.Reserved != 1 || rec.Used != 0 {
		t.Fatalf("expected reserved=1 used=0, got %+v", rec)
	}

	if err := store.Commit(ctx, res); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rec, _ = store.Usage(ctx, "u1")
	if rec.Reserved != 0 || rec.Used != 1 {
		t.Fatalf("expected reserved=0 used=1, got %+v", rec)
	}
}

func TestReserveExceeded(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	for i := 0; i < pitchiq.FreeDailyLimit; i++ {
		res, err := store.Reserve(ctx, "u1")
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		_ = store.Commit(ctx, res)
	}

	_, err := store.Reserve(ctx, "u1")
	if err != pitchiq.ErrAdmissionDenied {
		t.Fatalf("expected ErrAdmissionDenied, got %v", err)
	}
}

func TestRollback(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "u1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Rollback(ctx, res); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	rec, _ := store.Usage(ctx, "u1")
	if rec.Remaining() != pitchiq.FreeDailyLimit {
		t.Fatalf("expected full quota after rollback, got %+v", rec)
	}
}

func TestWindowReset(t *testing.T) {
	pool := newTestPool(t)
	now := time.Now().UTC()
	store := newTestStore(t, pool, quotapg.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < pitchiq.FreeDailyLimit; i++ {
		res, _ := store.Reserve(ctx, "u1")
		_ = store.Commit(ctx, res)
	}
	if _, err := store.Reserve(ctx, "u1"); err != pitchiq.ErrAdmissionDenied {
		t.Fatalf("expected ErrAdmissionDenied, got %v", err)
	}

	now = now.Add(pitchiq.QuotaWindow)

	if _, err := store.Reserve(ctx, "u1"); err != nil {
		t.Fatalf("expected reserve after reset, got: %v", err)
	}
}

func TestVIPExempt(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	if err := store.SetVIP(ctx, "vip", true); err != nil {
		t.Fatalf("set vip: %v", err)
	}

	for i := 0; i < 10; i++ {
		res, err := store.Reserve(ctx, "vip")
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if !res.Exempt {
			t.Fatalf("expected exempt reservation")
		}
		_ = store.Commit(ctx, res)
	}

	rec, _ := store.Usage(ctx, "vip")
	if rec.Used != 0 || !rec.VIP {
		t.Fatalf("expected untouched VIP record, got %+v", rec)
	}
}

func TestConcurrentReservesNoOverAllocation(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	var wg sync.WaitGroup
	var successCount atomic.Int64

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Reserve(ctx, "u1")
			if err == nil {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != pitchiq.FreeDailyLimit {
		t.Fatalf("expected exactly %d successful reserves, got %d", pitchiq.FreeDailyLimit, successCount.Load())
	}
}

func TestPrune(t *testing.T) {
	pool := newTestPool(t)
	now := time.Now().UTC()
	store := newTestStore(t, pool, quotapg.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	res, _ := store.Reserve(ctx, "idle")
	_ = store.Commit(ctx, res)
	_ = store.SetVIP(ctx, "vip", true)

	now = now.Add(3 * pitchiq.QuotaWindow)

	n, err := store.Prune(ctx, 2*pitchiq.QuotaWindow)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}

	rec, _ := store.Usage(ctx, "vip")
	if !rec.VIP {
		t.Fatalf("VIP row should survive prune")
	}
}
