package prompt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DINO060/RENAMBOT/internal/channel"
	"github.com/DINO060/RENAMBOT/internal/refcache"
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

func samplePrompt(userID int64, promptID int, action Action) PendingPrompt {
	return PendingPrompt{
		UserID:          userID,
		ChatID:          10,
		PromptMessageID: promptID,
		Action:          action,
		Ref: refcache.FileReference{
			Key:         refcache.Key{ChatID: 10, MessageID: 100},
			OwnerUserID: userID,
			Name:        "Movie.mkv",
		},
	}
}

func TestIssueLastPromptWins(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, nil)
	_, replaced := store.Issue(samplePrompt(1, 101, ActionRenameOnly))
	assert.False(t, replaced)

	prev, replaced := store.Issue(samplePrompt(1, 102, ActionRenameWithThumbnail))
	require.True(t, replaced)
	assert.Equal(t, 101, prev.PromptMessageID)

	_, ok := store.Match(1, 101)
	assert.False(t, ok)
	p, ok := store.Match(1, 102)
	require.True(t, ok)
	assert.Equal(t, ActionRenameWithThumbnail, p.Action)
	assert.Equal(t, 1, store.Len())
}

func TestPromptExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewStore(10*time.Minute, clock.Now)
	store.Issue(samplePrompt(1, 101, ActionRenameOnly))

	clock.Advance(9 * time.Minute)
	_, ok := store.Match(1, 101)
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = store.Match(1, 101)
	assert.False(t, ok)
	_, ok = store.Consume(1, 101)
	assert.False(t, ok)

	expired := store.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, 0, store.Len())
}

func TestConsumeOnlyOnce(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, nil)
	store.Issue(samplePrompt(1, 101, ActionRenameOnly))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := store.Consume(1, 101); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRemoveByKey(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, nil)
	store.Issue(samplePrompt(1, 101, ActionRenameOnly))
	other := samplePrompt(2, 201, ActionRenameOnly)
	other.Ref.Key = refcache.Key{ChatID: 20, MessageID: 200}
	store.Issue(other)

	removed := store.RemoveByKey(refcache.Key{ChatID: 10, MessageID: 100})
	require.Len(t, removed, 1)
	assert.Equal(t, int64(1), removed[0].UserID)
	_, ok := store.Live(2)
	assert.True(t, ok)
}

func TestCorrelateRoutesByAction(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, nil)
	var inlineNames, queuedNames []string
	correlator := NewCorrelator(nil, store,
		func(_ context.Context, p PendingPrompt, name string) error {
			inlineNames = append(inlineNames, name)
			return nil
		},
		func(_ context.Context, p PendingPrompt, name string) error {
			queuedNames = append(queuedNames, name)
			return nil
		},
	)

	store.Issue(samplePrompt(1, 101, ActionRenameOnly))
	outcome, err := correlator.Correlate(context.Background(), channel.TextReplied{
		Sender:             channel.Sender{UserID: 1},
		RepliedToMessageID: 101,
		Text:               "  NewMovie ",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, outcome)
	assert.Equal(t, []string{"NewMovie"}, inlineNames)

	store.Issue(samplePrompt(1, 102, ActionRenameWithThumbnail))
	outcome, err = correlator.Correlate(context.Background(), channel.TextReplied{
		Sender:             channel.Sender{UserID: 1},
		RepliedToMessageID: 102,
		Text:               "Thumbed",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, outcome)
	assert.Equal(t, []string{"Thumbed"}, queuedNames)
	assert.Equal(t, 0, store.Len())
}

func TestCorrelateIgnoresUnrelatedReply(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, nil)
	called := false
	sink := func(context.Context, PendingPrompt, string) error {
		called = true
		return nil
	}
	correlator := NewCorrelator(nil, store, sink, sink)
	store.Issue(samplePrompt(1, 101, ActionRenameOnly))

	cases := []channel.TextReplied{
		{Sender: channel.Sender{UserID: 1}, RepliedToMessageID: 999, Text: "x"},
		{Sender: channel.Sender{UserID: 1}, Text: "no reply target"},
		{Sender: channel.Sender{UserID: 2}, RepliedToMessageID: 101, Text: "other user"},
	}
	for _, ev := range cases {
		outcome, err := correlator.Correlate(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	}
	assert.False(t, called)
	_, ok := store.Live(1)
	assert.True(t, ok)
}

func TestCorrelateEmptyNameKeepsPrompt(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, nil)
	correlator := NewCorrelator(nil, store, nil, nil)
	store.Issue(samplePrompt(1, 101, ActionRenameOnly))

	outcome, err := correlator.Correlate(context.Background(), channel.TextReplied{
		Sender:             channel.Sender{UserID: 1},
		RepliedToMessageID: 101,
		Text:               "   ",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmptyName, outcome)
	_, ok := store.Live(1)
	assert.True(t, ok)
}

func TestCorrelatePropagatesSinkError(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, nil)
	boom := errors.New("queue closed")
	correlator := NewCorrelator(nil, store, nil, func(context.Context, PendingPrompt, string) error {
		return boom
	})
	store.Issue(samplePrompt(1, 101, ActionRenameWithThumbnail))

	outcome, err := correlator.Correlate(context.Background(), channel.TextReplied{
		Sender:             channel.Sender{UserID: 1},
		RepliedToMessageID: 101,
		Text:               "n",
	})
	assert.Equal(t, OutcomeDispatched, outcome)
	assert.ErrorIs(t, err, boom)
}
