package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func newGate(store Store, clock *fakeClock, limit int64, cooldown time.Duration, admins ...int64) *Gate {
	return NewGate(nil, store, Options{
		DailyLimitBytes: limit,
		Cooldown:        cooldown,
		AdminIDs:        admins,
		Now:             clock.Now,
	})
}

func TestAdmitWithinLimitAndCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	gate := newGate(store, clock, 2048*mib, 0)

	res, dec, err := gate.CheckAndReserve(ctx, 1, 500*mib)
	require.NoError(t, err)
	require.True(t, dec.Allowed)
	require.NotNil(t, res)
	assert.Equal(t, "2026-03-01", res.Day)

	require.NoError(t, gate.Commit(ctx, res))
	require.NoError(t, gate.Commit(ctx, res))

	usage, err := store.Usage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500*mib), usage.UsedBytes)
	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Totals{Files: 1, Bytes: 500 * mib}, totals)
}

func TestDenialAtLimitMutatesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	require.NoError(t, store.Commit(ctx, 1, "2026-03-01", 100*mib, clock.Now().Add(-time.Hour)))
	gate := newGate(store, clock, 100*mib, 0)

	res, dec, err := gate.CheckAndReserve(ctx, 1, 1)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.False(t, dec.Allowed)
	assert.Equal(t, int64(0), dec.Remaining)
	assert.Contains(t, dec.Reason, "Daily limit reached!")
	assert.Contains(t, dec.Reason, "Remaining: 0 B")

	usage, _ := store.Usage(ctx, 1)
	assert.Equal(t, int64(100*mib), usage.UsedBytes)
	assert.Empty(t, gate.reserved)
}

func TestReservationsCountAgainstLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	gate := newGate(NewMemoryStore(), clock, 100*mib, 0)

	first, dec, err := gate.CheckAndReserve(ctx, 1, 60*mib)
	require.NoError(t, err)
	require.True(t, dec.Allowed)

	_, dec, err = gate.CheckAndReserve(ctx, 1, 60*mib)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)

	gate.Release(first)
	_, dec, err = gate.CheckAndReserve(ctx, 1, 60*mib)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestCooldown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	gate := newGate(NewMemoryStore(), clock, 1024*mib, 30*time.Second)

	res, dec, err := gate.CheckAndReserve(ctx, 1, mib)
	require.NoError(t, err)
	require.True(t, dec.Allowed)
	require.NoError(t, gate.Commit(ctx, res))

	clock.Set(start.Add(10 * time.Second))
	_, dec, err = gate.CheckAndReserve(ctx, 1, mib)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 20*time.Second, dec.RetryIn)
	assert.Equal(t, "Please wait 20 seconds before the next file", dec.Reason)

	clock.Set(start.Add(31 * time.Second))
	_, dec, err = gate.CheckAndReserve(ctx, 1, mib)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestAdminBypass(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	gate := newGate(NewMemoryStore(), clock, mib, time.Hour, 42)

	for i := 0; i < 3; i++ {
		res, dec, err := gate.CheckAndReserve(ctx, 42, 10*mib)
		require.NoError(t, err)
		require.True(t, dec.Allowed)
		require.NoError(t, gate.Commit(ctx, res))
	}
	info, err := gate.UsageInfo(ctx, 42)
	require.NoError(t, err)
	assert.True(t, info.Unlimited)
}

func TestMidnightCommitChargesAdmissionDay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)}
	store := NewMemoryStore()
	gate := newGate(store, clock, 1024*mib, 0)

	res, dec, err := gate.CheckAndReserve(ctx, 1, 100*mib)
	require.NoError(t, err)
	require.True(t, dec.Allowed)

	clock.Set(time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC))
	require.NoError(t, gate.Commit(ctx, res))

	usage, _ := store.Usage(ctx, 1)
	assert.Equal(t, "2026-03-01", usage.Day)
	info, err := gate.UsageInfo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Used)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), info.ResetAt)
}

func TestUsageInfo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	require.NoError(t, store.Commit(ctx, 1, "2026-03-01", 25*mib, clock.Now()))
	gate := newGate(store, clock, 100*mib, 0)

	info, err := gate.UsageInfo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(25*mib), info.Used)
	assert.Equal(t, int64(75*mib), info.Remaining)
	assert.InDelta(t, 25.0, info.Percent, 0.001)
	assert.False(t, info.Unlimited)
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) Usage(context.Context, int64) (Usage, error) {
	return Usage{}, errors.New("db down")
}

func TestCheckAndReserveStoreError(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	gate := newGate(failingStore{NewMemoryStore()}, clock, mib, 0)
	_, _, err := gate.CheckAndReserve(context.Background(), 1, 1)
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	at := time.Unix(100, 0)
	assert.Equal(t, Usage{Day: "2026-03-02", UsedBytes: 5, LastFileAt: at}, merge(Usage{Day: "2026-03-01", UsedBytes: 9}, "2026-03-02", 5, at))
	assert.Equal(t, Usage{Day: "2026-03-02", UsedBytes: 14, LastFileAt: at}, merge(Usage{Day: "2026-03-02", UsedBytes: 9}, "2026-03-02", 5, at))
	assert.Equal(t, Usage{Day: "2026-03-02", UsedBytes: 9, LastFileAt: at}, merge(Usage{Day: "2026-03-02", UsedBytes: 9}, "2026-03-01", 5, at))
}

type slowCommitStore struct {
	*MemoryStore
	started chan struct{}
	release chan struct{}
}

func (s *slowCommitStore) Commit(ctx context.Context, userID int64, day string, bytes int64, at time.Time) error {
	close(s.started)
	<-s.release
	return s.MemoryStore.Commit(ctx, userID, day, bytes, at)
}

func TestReserveDuringCommitCountsBytesOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := &slowCommitStore{MemoryStore: NewMemoryStore(), started: make(chan struct{}), release: make(chan struct{})}
	gate := newGate(store, clock, 100, 0)

	first, dec, err := gate.CheckAndReserve(ctx, 1, 80)
	require.NoError(t, err)
	require.True(t, dec.Allowed)

	committed := make(chan error, 1)
	go func() { committed <- gate.Commit(ctx, first) }()
	<-store.started

	type outcome struct {
		res *Reservation
		dec Decision
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, dec, err := gate.CheckAndReserve(ctx, 1, 80)
		second <- outcome{res, dec, err}
	}()

	select {
	case out := <-second:
		t.Fatalf("second check returned while the first commit was pending: allowed=%v", out.dec.Allowed)
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-committed)
	out := <-second
	require.NoError(t, out.err)
	assert.False(t, out.dec.Allowed)
	assert.Nil(t, out.res)
	assert.Equal(t, int64(80), out.dec.Used)
}
