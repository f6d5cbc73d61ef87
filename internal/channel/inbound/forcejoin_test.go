package inbound

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DINO060/RENAMBOT/internal/channel"
	"github.com/DINO060/RENAMBOT/internal/membership"
	"github.com/DINO060/RENAMBOT/internal/refcache"
	"github.com/DINO060/RENAMBOT/internal/settings"
	"github.com/DINO060/RENAMBOT/internal/sweep"
)

type memberSet struct {
	mu     sync.Mutex
	joined map[string]bool
}

func (m *memberSet) IsMember(_ context.Context, ch string, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joined[ch], nil
}

func (m *memberSet) join(ch string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.joined == nil {
		m.joined = make(map[string]bool)
	}
	m.joined[ch] = true
}

type fakeCleaner struct {
	calls int
	res   sweep.Result
}

func (f *fakeCleaner) RunOnce(context.Context) sweep.Result {
	f.calls++
	return f.res
}

func newGatedHarness(t *testing.T, opts Options, fallback ...string) (*harness, *memberSet) {
	t.Helper()
	h := newHarness(t, opts)
	members := &memberSet{}
	h.proc.SetMembershipGate(membership.NewGate(nil, members, settings.NewMemoryChannelStore(), membership.Options{
		Fallback: fallback,
		CacheTTL: -1,
	}))
	return h, members
}

func TestNonMemberGetsJoinMessage(t *testing.T) {
	t.Parallel()

	h, _ := newGatedHarness(t, Options{}, "@news", "-100123")
	h.sendFile(t, 10, "a.txt", "", channel.FileKindDocument)

	_, cached := h.cache.Get(refcache.Key{ChatID: 1, MessageID: 10})
	assert.False(t, cached)

	msgs := h.transport.messages()
	require.Len(t, msgs, 1)
	join := msgs[0]
	assert.Contains(t, join.text, "Access Denied")
	assert.Contains(t, join.text, "• @news")
	assert.Contains(t, join.text, "• -100123")
	require.Len(t, join.opts.Buttons, 2, "numeric channels get no link")
	assert.Equal(t, "https://t.me/news", join.opts.Buttons[0][0].URL)
	assert.Equal(t, checkJoinedPayload, join.opts.Buttons[1][0].Data)

	assert.Contains(t, h.command(t, "start", ""), "Access Denied")

	require.NoError(t, h.proc.HandleReply(context.Background(), channel.TextReplied{
		ChatID: 1, MessageID: 11, Sender: alice, RepliedToMessageID: 101, Text: "new.txt",
	}))
	assert.Contains(t, h.transport.lastText(), "Access Denied")
	assert.Empty(t, h.pipeline.reqs)
}

func TestButtonTapBlockedForNonMember(t *testing.T) {
	t.Parallel()

	h, _ := newGatedHarness(t, Options{}, "news")
	h.cache.Put(refcache.FileReference{Key: refcache.Key{ChatID: 1, MessageID: 10}, OwnerUserID: alice.UserID, Name: "a.txt"})

	h.tap(t, alice, "rename:10")
	assert.Empty(t, h.transport.prompts())
	ans := h.transport.lastAnswer()
	assert.True(t, ans.alert)
	assert.Contains(t, ans.text, "haven't joined")
	assert.Contains(t, h.transport.lastText(), "Access Denied")
}

func TestCheckJoinedLetsUserIn(t *testing.T) {
	t.Parallel()

	h, members := newGatedHarness(t, Options{}, "news")

	h.tap(t, alice, checkJoinedPayload)
	assert.Equal(t, "❌ You haven't joined all channels yet!", h.transport.lastAnswer().text)
	assert.Empty(t, h.transport.deleted)

	members.join("news")
	h.tap(t, alice, checkJoinedPayload)
	ans := h.transport.lastAnswer()
	assert.Equal(t, "✅ Thank you! You can now use the bot.", ans.text)
	assert.True(t, ans.alert)
	assert.Contains(t, h.transport.deleted, channel.MessageHandle{ChatID: 1, MessageID: 500})
	assert.Contains(t, h.transport.lastText(), "Welcome")

	h.sendFile(t, 10, "a.txt", "", channel.FileKindDocument)
	_, cached := h.cache.Get(refcache.Key{ChatID: 1, MessageID: 10})
	assert.True(t, cached)
}

func TestAdminsSkipMembershipGate(t *testing.T) {
	t.Parallel()

	h, _ := newGatedHarness(t, Options{AdminIDs: []int64{alice.UserID}}, "news")
	h.sendFile(t, 10, "a.txt", "", channel.FileKindDocument)

	_, cached := h.cache.Get(refcache.Key{ChatID: 1, MessageID: 10})
	assert.True(t, cached)
}

func TestForcedChannelCommands(t *testing.T) {
	t.Parallel()

	h, _ := newGatedHarness(t, Options{AdminIDs: []int64{alice.UserID}})

	assert.Contains(t, h.command(t, "addfsub", ""), "Usage: /addfsub")
	assert.Equal(t, "ℹ️ No forced-sub channels configured.", h.command(t, "channels", ""))

	added := h.command(t, "addfsub", "@one, t.me/two -100123")
	assert.Equal(t, "✅ Forced-sub channels updated:\n• @one\n• @two\n• -100123", added)
	assert.Equal(t, "📋 Forced-sub channels:\n• @one\n• @two\n• -100123", h.command(t, "channels", ""))

	assert.Equal(t, "✅ Remaining forced-sub channels:\n• @one\n• -100123", h.command(t, "delfsub", "two"))
	assert.Equal(t, "✅ No forced-sub channels configured.", h.command(t, "delfsub", "@one -100123"))

	h.command(t, "addfsub", "one")
	assert.Equal(t, "✅ All forced-sub channels removed.", h.command(t, "delfsub", ""))
	assert.Equal(t, "ℹ️ No forced-sub channels configured.", h.command(t, "channels", ""))
}

func TestAdminCommandsRejectOthers(t *testing.T) {
	t.Parallel()

	h, _ := newGatedHarness(t, Options{AdminIDs: []int64{99}})
	cleaner := &fakeCleaner{}
	h.proc.SetCleaner(cleaner)

	for _, cmd := range []string{"addfsub", "delfsub", "channels"} {
		assert.Equal(t, adminsOnlyText, h.command(t, cmd, "news"), cmd)
	}
	assert.Contains(t, h.command(t, "cleanup", ""), "Access denied")
	assert.Zero(t, cleaner.calls)
	assert.NotContains(t, h.command(t, "help", ""), "/cleanup")
}

func TestCleanupRunsSweep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{AdminIDs: []int64{alice.UserID}})
	assert.Equal(t, "❌ Cleanup is not available right now.", h.command(t, "cleanup", ""))

	cleaner := &fakeCleaner{res: sweep.Result{References: 2, Prompts: 1, TempFiles: 3}}
	h.proc.SetCleaner(cleaner)

	text := h.command(t, "cleanup", "")
	assert.Equal(t, 1, cleaner.calls)
	assert.Contains(t, text, "Cleanup completed!")
	assert.Contains(t, text, "thumbnails preserved")
	assert.Contains(t, text, "Expired files: 2")
	assert.Contains(t, text, "Temp files removed: 3")
	assert.Contains(t, h.command(t, "help", ""), "/cleanup")
}

func TestHelpShowsFileSizeLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{MaxFileBytes: 20 * 1024 * 1024})
	assert.Contains(t, h.command(t, "help", ""), "Maximum file size: 20 MiB")
	assert.Contains(t, h.command(t, "start", ""), "up to 20 MiB")
}
