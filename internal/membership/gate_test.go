package membership

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DINO060/RENAMBOT/internal/settings"
)

type fakeChecker struct {
	mu      sync.Mutex
	members map[string]bool
	errs    map[string]error
	calls   int
}

func (f *fakeChecker) IsMember(_ context.Context, ch string, _ int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[ch]; err != nil {
		return false, err
	}
	return f.members[ch], nil
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCheckReportsMissingChannels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := settings.NewMemoryChannelStore()
	require.NoError(t, store.AddForcedChannels(ctx, []string{"news", "chat", "-100123"}))
	checker := &fakeChecker{
		members: map[string]bool{"news": true},
		errs:    map[string]error{"-100123": errors.New("bot is not an admin")},
	}
	g := NewGate(nil, checker, store, Options{})

	res, err := g.Check(ctx, 7)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, []string{"chat", "-100123"}, res.Missing)
}

func TestAdminsBypassTheGate(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	g := NewGate(nil, checker, nil, Options{AdminIDs: []int64{9}, Fallback: []string{"@news"}})

	res, err := g.Check(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Zero(t, checker.callCount())
	assert.True(t, g.IsAdmin(9))
	assert.False(t, g.IsAdmin(10))
}

func TestFallbackAppliesWhileStoreIsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := settings.NewMemoryChannelStore()
	g := NewGate(nil, &fakeChecker{}, store, Options{Fallback: []string{"@news", " #news "}})

	chans, err := g.Channels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"news"}, chans)

	_, err = g.Add(ctx, []string{"@chat"})
	require.NoError(t, err)
	chans, err = g.Channels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chat"}, chans)
}

func TestPositiveAnswersAreCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	checker := &fakeChecker{members: map[string]bool{"news": true}}
	g := NewGate(nil, checker, nil, Options{Fallback: []string{"news", "chat"}})

	for range 3 {
		res, err := g.Check(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, []string{"chat"}, res.Missing)
	}
	// news is asked once, chat every time.
	assert.Equal(t, 4, checker.callCount())
}

func TestNegativeCacheTTLDisablesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	checker := &fakeChecker{members: map[string]bool{"news": true}}
	g := NewGate(nil, checker, nil, Options{Fallback: []string{"news"}, CacheTTL: -1})

	for range 3 {
		res, err := g.Check(ctx, 7)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	assert.Equal(t, 3, checker.callCount())
}

func TestAddAndRemoveChannels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	g := NewGate(nil, &fakeChecker{}, settings.NewMemoryChannelStore(), Options{})

	chans, err := g.Add(ctx, ParseChannels("@one, t.me/two https://t.me/three -100123"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three", "-100123"}, chans)

	chans, err = g.Remove(ctx, []string{"@two"})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "three", "-100123"}, chans)

	chans, err = g.Remove(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, chans)
}

func TestStorelessGateRejectsEdits(t *testing.T) {
	t.Parallel()

	g := NewGate(nil, &fakeChecker{}, nil, Options{})
	_, err := g.Add(context.Background(), []string{"news"})
	assert.Error(t, err)
	_, err = g.Remove(context.Background(), nil)
	assert.Error(t, err)
}

func TestNormalizeChannel(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"@news":                  "news",
		"  #news ":               "news",
		"t.me/news":              "news",
		"https://t.me/news/":     "news",
		"http://telegram.me/abc": "abc",
		"-100123456789":          "-100123456789",
		"@":                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeChannel(in), in)
	}
}

func TestJoinURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://t.me/news", JoinURL("news"))
	assert.Empty(t, JoinURL("-100123"))
}
