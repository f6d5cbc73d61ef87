package sweep

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DINO060/RENAMBOT/internal/prompt"
	"github.com/DINO060/RENAMBOT/internal/refcache"
)

type countingCache struct{ calls, result int }

func (c *countingCache) Sweep() int {
	c.calls++
	return c.result
}

type countingPrompts struct{ expired []prompt.PendingPrompt }

func (c *countingPrompts) Sweep() []prompt.PendingPrompt {
	out := c.expired
	c.expired = nil
	return out
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceSweepsEverything(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := filepath.Join(dir, "old.part")
	fresh := filepath.Join(dir, "fresh.part")
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(sub, 0o700))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	cache := &countingCache{result: 2}
	prompts := &countingPrompts{expired: []prompt.PendingPrompt{{UserID: 1}}}
	svc := NewService(discard(), cache, prompts, dir, time.Hour)

	res := svc.RunOnce(context.Background())
	assert.Equal(t, Result{References: 2, Prompts: 1, TempFiles: 1}, res)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.DirExists(t, sub)

	last, at := svc.Last()
	assert.Equal(t, res, last)
	assert.False(t, at.IsZero())
}

func TestRunOnceWithRealStores(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cache := refcache.New(discard(), time.Hour, refcache.WithClock(clock))
	prompts := prompt.NewStore(10*time.Minute, clock)
	cache.Put(refcache.FileReference{Key: refcache.Key{ChatID: 1, MessageID: 1}, OwnerUserID: 1})
	prompts.Issue(prompt.PendingPrompt{UserID: 1, ChatID: 1, PromptMessageID: 2, Action: prompt.ActionRenameOnly})

	svc := NewService(discard(), cache, prompts, "", 0)
	assert.Equal(t, Result{}, svc.RunOnce(context.Background()))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, Result{References: 1, Prompts: 1}, svc.RunOnce(context.Background()))
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 0, prompts.Len())
}

func TestMissingTempDirIsIgnored(t *testing.T) {
	t.Parallel()

	svc := NewService(discard(), nil, nil, filepath.Join(t.TempDir(), "missing"), time.Minute)
	assert.Equal(t, Result{}, svc.RunOnce(context.Background()))
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	svc := NewService(discard(), &countingCache{}, nil, "", 0)
	assert.True(t, svc.Next().IsZero())
	require.Error(t, NewService(discard(), nil, nil, "", 0).Start("not a schedule"))

	require.NoError(t, svc.Start("@every 1h"))
	assert.Error(t, svc.Start("@every 1h"), "second start is rejected")
	assert.True(t, svc.Next().After(time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
	assert.True(t, svc.Next().IsZero())
	require.NoError(t, svc.Stop(ctx), "stop is idempotent")
}
