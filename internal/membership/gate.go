// Package membership gates the bot behind a list of channels users must join.
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/DINO060/RENAMBOT/internal/channel"
	"github.com/DINO060/RENAMBOT/internal/settings"
)

// DefaultCacheTTL is how long a confirmed membership is trusted.
const DefaultCacheTTL = time.Minute

const defaultCacheSize = 4096

// Result is the outcome of a membership check.
type Result struct {
	Allowed bool
	// Missing lists the channels the user has not joined, in list order.
	Missing []string
}

// Options configures a Gate.
type Options struct {
	AdminIDs []int64
	// Fallback channels apply while the store holds none.
	Fallback []string
	// CacheTTL bounds how long a positive answer is reused. Zero uses
	// DefaultCacheTTL and a negative value disables the cache.
	CacheTTL  time.Duration
	CacheSize int
}

type joinKey struct {
	channel string
	userID  int64
}

// Gate answers whether a user may use the bot.
type Gate struct {
	logger   *slog.Logger
	checker  channel.MembershipChecker
	store    settings.ChannelStore
	admins   map[int64]struct{}
	fallback []string
	joined   *expirable.LRU[joinKey, struct{}]
}

func NewGate(log *slog.Logger, checker channel.MembershipChecker, store settings.ChannelStore, opts Options) *Gate {
	if log == nil {
		log = slog.Default()
	}
	g := &Gate{
		logger:   log.With(slog.String("component", "membership")),
		checker:  checker,
		store:    store,
		admins:   make(map[int64]struct{}, len(opts.AdminIDs)),
		fallback: normalizeAll(opts.Fallback),
	}
	for _, id := range opts.AdminIDs {
		g.admins[id] = struct{}{}
	}
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	if ttl > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = defaultCacheSize
		}
		g.joined = expirable.NewLRU[joinKey, struct{}](size, nil, ttl)
	}
	return g
}

// IsAdmin reports whether userID bypasses the gate.
func (g *Gate) IsAdmin(userID int64) bool {
	_, ok := g.admins[userID]
	return ok
}

// Channels returns the channels in force: the stored list, or the fallback
// while the store is empty.
func (g *Gate) Channels(ctx context.Context) ([]string, error) {
	stored, err := g.Stored(ctx)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return slices.Clone(g.fallback), nil
	}
	return stored, nil
}

// Stored returns the channels saved by admins.
func (g *Gate) Stored(ctx context.Context) ([]string, error) {
	if g.store == nil {
		return nil, nil
	}
	chans, err := g.store.ForcedChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load forced channels: %w", err)
	}
	return chans, nil
}

// Check verifies userID against every channel in force. A channel that
// cannot be verified counts as missing.
func (g *Gate) Check(ctx context.Context, userID int64) (Result, error) {
	if g.IsAdmin(userID) || g.checker == nil {
		return Result{Allowed: true}, nil
	}
	chans, err := g.Channels(ctx)
	if err != nil {
		return Result{}, err
	}
	var missing []string
	for _, ch := range chans {
		key := joinKey{channel: ch, userID: userID}
		if g.joined != nil {
			if _, ok := g.joined.Get(key); ok {
				continue
			}
		}
		ok, err := g.checker.IsMember(ctx, ch, userID)
		if err != nil {
			g.logger.Warn("membership check failed", slog.String("channel", ch), slog.Int64("user_id", userID), slog.Any("error", err))
			missing = append(missing, ch)
			continue
		}
		if !ok {
			missing = append(missing, ch)
			continue
		}
		if g.joined != nil {
			g.joined.Add(key, struct{}{})
		}
	}
	return Result{Allowed: len(missing) == 0, Missing: missing}, nil
}

// Add saves channels and returns the stored list.
func (g *Gate) Add(ctx context.Context, channels []string) ([]string, error) {
	if g.store == nil {
		return nil, fmt.Errorf("forced channels are not configurable")
	}
	if err := g.store.AddForcedChannels(ctx, normalizeAll(channels)); err != nil {
		return nil, fmt.Errorf("add forced channels: %w", err)
	}
	g.logger.Info("forced channels added", slog.Any("channels", channels))
	return g.Stored(ctx)
}

// Remove deletes channels, or every stored channel when none is given, and
// returns what is left.
func (g *Gate) Remove(ctx context.Context, channels []string) ([]string, error) {
	if g.store == nil {
		return nil, fmt.Errorf("forced channels are not configurable")
	}
	var err error
	if norm := normalizeAll(channels); len(norm) == 0 {
		err = g.store.ClearForcedChannels(ctx)
	} else {
		err = g.store.RemoveForcedChannels(ctx, norm)
	}
	if err != nil {
		return nil, fmt.Errorf("remove forced channels: %w", err)
	}
	g.logger.Info("forced channels removed", slog.Any("channels", channels))
	return g.Stored(ctx)
}

// NormalizeChannel reduces "@name", "t.me/name" and invite style links to
// the bare username. Numeric chat ids are kept as they are.
func NormalizeChannel(raw string) string {
	ch := strings.TrimSpace(raw)
	for _, prefix := range []string{"https://", "http://"} {
		ch = strings.TrimPrefix(ch, prefix)
	}
	for _, prefix := range []string{"www.", "t.me/", "telegram.me/", "telegram.dog/"} {
		ch = strings.TrimPrefix(ch, prefix)
	}
	ch = strings.TrimRight(ch, "/")
	ch = strings.TrimLeft(ch, "@#")
	return ch
}

// ParseChannels splits command arguments on commas and whitespace.
func ParseChannels(args string) []string {
	fields := strings.FieldsFunc(args, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	return normalizeAll(fields)
}

// JoinURL links to a public channel. Numeric ids have no public link.
func JoinURL(ch string) string {
	if _, err := strconv.ParseInt(ch, 10, 64); err == nil {
		return ""
	}
	return "https://t.me/" + ch
}

func normalizeAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if ch := NormalizeChannel(r); ch != "" && !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	return out
}
