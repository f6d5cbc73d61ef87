package refcache

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(clock *fakeClock) *Cache {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour, WithClock(clock.Now))
}

func TestGetAfterPutBeforeAndAfterExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(clock)
	key := Key{ChatID: 10, MessageID: 100}
	ref := FileReference{Key: key, OwnerUserID: 7, Name: "Movie.mkv", Size: 500 << 20, IsVideo: true}

	cache.Put(ref)
	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, "Movie.mkv", got.Name)
	assert.Equal(t, clock.Now(), got.CreatedAt)

	clock.Advance(59 * time.Minute)
	_, ok = cache.Get(key)
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = cache.Get(key)
	assert.False(t, ok)
}

func TestPutOverwritesDuplicateArrival(t *testing.T) {
	t.Parallel()

	cache := newTestCache(&fakeClock{now: time.Now()})
	key := Key{ChatID: 1, MessageID: 2}
	cache.Put(FileReference{Key: key, Name: "a.txt"})
	cache.Put(FileReference{Key: key, Name: "b.txt"})

	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, "b.txt", got.Name)
	assert.Equal(t, 1, cache.Len())
}

func TestRemoveAndAbsence(t *testing.T) {
	t.Parallel()

	cache := newTestCache(&fakeClock{now: time.Now()})
	key := Key{ChatID: 1, MessageID: 2}
	assert.False(t, cache.Remove(key))

	cache.Put(FileReference{Key: key})
	assert.True(t, cache.Remove(key))
	_, ok := cache.Get(key)
	assert.False(t, ok)
}

func TestSweepRemovesRegisteredTempFiles(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(clock)
	dir := t.TempDir()
	temp := filepath.Join(dir, "7_1700000000_abcd1234")
	require.NoError(t, os.WriteFile(temp, []byte("partial"), 0o600))

	expiring := Key{ChatID: 1, MessageID: 1}
	fresh := Key{ChatID: 1, MessageID: 2}
	cache.Put(FileReference{Key: expiring})
	require.True(t, cache.RegisterTemp(expiring, temp))
	assert.False(t, cache.RegisterTemp(Key{ChatID: 9, MessageID: 9}, temp))

	clock.Advance(30 * time.Minute)
	cache.Put(FileReference{Key: fresh})
	clock.Advance(31 * time.Minute)

	assert.Equal(t, 1, cache.Sweep())
	_, err := os.Stat(temp)
	assert.True(t, os.IsNotExist(err))
	_, ok := cache.Get(fresh)
	assert.True(t, ok)
}

func TestRemoveOwnedBy(t *testing.T) {
	t.Parallel()

	cache := newTestCache(&fakeClock{now: time.Now()})
	cache.Put(FileReference{Key: Key{ChatID: 1, MessageID: 1}, OwnerUserID: 5})
	cache.Put(FileReference{Key: Key{ChatID: 1, MessageID: 2}, OwnerUserID: 5})
	cache.Put(FileReference{Key: Key{ChatID: 2, MessageID: 1}, OwnerUserID: 6})

	removed := cache.RemoveOwnedBy(5)
	assert.Len(t, removed, 2)
	assert.Equal(t, 1, cache.Len())
}

func TestConcurrentAccessAcrossKeys(t *testing.T) {
	t.Parallel()

	cache := newTestCache(&fakeClock{now: time.Now()})
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key{ChatID: int64(i % 4), MessageID: i}
			cache.Put(FileReference{Key: key, OwnerUserID: int64(i)})
			got, ok := cache.Get(key)
			if assert.True(t, ok) {
				assert.Equal(t, int64(i), got.OwnerUserID)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 64, cache.Len())
}

func TestTouchRestartsTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(clock)
	key := Key{ChatID: 5, MessageID: 9}
	c.Put(FileReference{Key: key, OwnerUserID: 5})

	clock.Advance(50 * time.Minute)
	require.True(t, c.Touch(key))
	clock.Advance(50 * time.Minute)
	_, ok := c.Get(key)
	assert.True(t, ok)

	clock.Advance(time.Hour)
	assert.False(t, c.Touch(key))
	assert.False(t, c.Touch(Key{ChatID: 1}))
}

func TestClaimIsExclusiveUntilRelease(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(clock)
	key := Key{ChatID: 1, MessageID: 10}
	assert.ErrorIs(t, c.Claim(key), ErrNotFound)

	c.Put(FileReference{Key: key, OwnerUserID: 7})
	require.NoError(t, c.Claim(key))
	assert.True(t, c.Claimed(key))
	assert.ErrorIs(t, c.Claim(key), ErrClaimed)

	c.Release(key)
	assert.False(t, c.Claimed(key))
	require.NoError(t, c.Claim(key))

	c.Remove(key)
	c.Release(key)
	assert.False(t, c.Claimed(key))
}

func TestSweepKeepsClaimedEntries(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCache(clock)
	key := Key{ChatID: 1, MessageID: 10}
	c.Put(FileReference{Key: key})
	require.NoError(t, c.Claim(key))

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 0, c.Sweep())
	assert.Equal(t, 1, c.Len())

	c.Release(key)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Len())
}
