package quota_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/pitchiq"
	"github.com/ineyio/pitchiq/quota"
)

func TestMemoryReserveAndCommit(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx := context.Background()

	res, err := s.Reserve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.NotEmpty(t, res.ID)
	assert.False(t, res.Exempt)

	rec, _ := s.Usage(ctx, "u1")
	assert.Equal(t, 1, rec.Reserved)
	assert.Equal(t, 0, rec.Used)

	require.NoError(t, s.Commit(ctx, res))
	rec, _ = s.Usage(ctx, "u1")
	assert.Equal(t, 0, rec.Reserved)
	assert.Equal(t, 1, rec.Used)
}

func TestMemoryReserveExceeded(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < pitchiq.FreeDailyLimit; i++ {
		res, err := s.Reserve(ctx, "u1")
		require.NoError(t, err)
		require.NoError(t, s.Commit(ctx, res))
	}

	_, err := s.Reserve(ctx, "u1")
	assert.ErrorIs(t, err, pitchiq.ErrAdmissionDenied)
}

func TestMemoryInFlightCountsAgainstLimit(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < pitchiq.FreeDailyLimit; i++ {
		_, err := s.Reserve(ctx, "u1")
		require.NoError(t, err)
	}
	_, err := s.Reserve(ctx, "u1")
	assert.ErrorIs(t, err, pitchiq.ErrAdmissionDenied)
}

func TestMemoryRollback(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx := context.Background()

	res, err := s.Reserve(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, s.Rollback(ctx, res))

	rec, _ := s.Usage(ctx, "u1")
	assert.Equal(t, pitchiq.FreeDailyLimit, rec.Remaining())

	// Releasing twice never drives the counter negative.
	require.NoError(t, s.Rollback(ctx, res))
	rec, _ = s.Usage(ctx, "u1")
	assert.Equal(t, 0, rec.Reserved)
}

func TestMemoryWindowReset(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := quota.NewMemoryStore(quota.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < pitchiq.FreeDailyLimit; i++ {
		res, _ := s.Reserve(ctx, "u1")
		_ = s.Commit(ctx, res)
	}
	_, err := s.Reserve(ctx, "u1")
	require.ErrorIs(t, err, pitchiq.ErrAdmissionDenied)

	now = now.Add(pitchiq.QuotaWindow)
	_, err = s.Reserve(ctx, "u1")
	assert.NoError(t, err)
}

func TestMemoryVIPExempt(t *testing.T) {
	s := quota.NewMemoryStore()
	s.SetVIP("vip", true)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := s.Reserve(ctx, "vip")
		require.NoError(t, err)
		assert.True(t, res.Exempt)
		require.NoError(t, s.Commit(ctx, res))
	}

	rec, _ := s.Usage(ctx, "vip")
	assert.True(t, rec.VIP)
	assert.Equal(t, 0, rec.Used)
	assert.Equal(t, 0, rec.Reserved)
}

func TestMemoryUsageCreatesRecord(t *testing.T) {
	now := time.Now()
	s := quota.NewMemoryStore(quota.WithClock(func() time.Time { return now }))

	rec, err := s.Usage(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.UserID)
	assert.Equal(t, now, rec.ResetAt)
	assert.False(t, rec.VIP)
}

func TestMemoryConcurrentReservesNoOverAllocation(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var successCount atomic.Int64

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Reserve(ctx, "u1"); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(pitchiq.FreeDailyLimit), successCount.Load())
}
