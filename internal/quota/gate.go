// Package quota admits transfers against a per-user daily byte budget and a
// cooldown between files.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const dayLayout = "2006-01-02"

// Usage is the committed state of one user.
type Usage struct {
	Day        string
	UsedBytes  int64
	LastFileAt time.Time
}

// Totals counts every successful rename.
type Totals struct {
	Files int64
	Bytes int64
}

// Store persists usage and rename totals.
type Store interface {
	Usage(ctx context.Context, userID int64) (Usage, error)
	// Commit adds bytes to the user's usage for day and stamps at as the last
	// file time. A stored day newer than day keeps its count.
	Commit(ctx context.Context, userID int64, day string, bytes int64, at time.Time) error
	RecordRename(ctx context.Context, bytes int64) error
	Totals(ctx context.Context) (Totals, error)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Reason    string
	Used      int64
	Limit     int64
	Remaining int64
	RetryIn   time.Duration
}

// Reservation holds admitted bytes until the transfer commits or releases them.
type Reservation struct {
	UserID int64
	Bytes  int64
	// Day is the quota day fixed at admission; Commit charges this day.
	Day   string
	Admin bool

	once sync.Once
}

// Info is the /usage view of one user.
type Info struct {
	Used      int64
	Limit     int64
	Remaining int64
	Percent   float64
	ResetAt   time.Time
	Unlimited bool
}

// Gate is the admission gate.
type Gate struct {
	logger   *slog.Logger
	store    Store
	limit    int64
	cooldown time.Duration
	admins   map[int64]struct{}
	loc      *time.Location
	now      func() time.Time

	mu       sync.Mutex
	reserved map[int64]int64
}

// Options configures a Gate.
type Options struct {
	DailyLimitBytes int64
	Cooldown        time.Duration
	AdminIDs        []int64
	Location        *time.Location
	Now             func() time.Time
}

func NewGate(log *slog.Logger, store Store, opts Options) *Gate {
	if log == nil {
		log = slog.Default()
	}
	g := &Gate{
		logger:   log.With(slog.String("component", "quota")),
		store:    store,
		limit:    opts.DailyLimitBytes,
		cooldown: opts.Cooldown,
		admins:   make(map[int64]struct{}, len(opts.AdminIDs)),
		loc:      opts.Location,
		now:      opts.Now,
		reserved: make(map[int64]int64),
	}
	for _, id := range opts.AdminIDs {
		g.admins[id] = struct{}{}
	}
	if g.loc == nil {
		g.loc = time.UTC
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// IsAdmin reports whether userID bypasses the gate.
func (g *Gate) IsAdmin(userID int64) bool {
	_, ok := g.admins[userID]
	return ok
}

// CheckAndReserve admits size bytes for userID. A denial mutates nothing.
func (g *Gate) CheckAndReserve(ctx context.Context, userID int64, size int64) (*Reservation, Decision, error) {
	now := g.now()
	day := now.In(g.loc).Format(dayLayout)
	if g.IsAdmin(userID) {
		return &Reservation{UserID: userID, Bytes: size, Day: day, Admin: true},
			Decision{Allowed: true, Limit: g.limit, Remaining: math.MaxInt64}, nil
	}

	// g.mu spans the store read so a concurrent Commit is seen either as a
	// reservation or as stored bytes, never as neither.
	g.mu.Lock()
	defer g.mu.Unlock()
	usage, err := g.store.Usage(ctx, userID)
	if err != nil {
		return nil, Decision{}, fmt.Errorf("load usage: %w", err)
	}
	used := usage.UsedBytes
	if usage.Day != day {
		used = 0
	}

	pending := g.reserved[userID]
	committed := used + pending
	remaining := g.limit - committed
	if remaining < 0 {
		remaining = 0
	}
	if committed+size > g.limit {
		return nil, Decision{
			Used:      committed,
			Limit:     g.limit,
			Remaining: remaining,
			Reason: fmt.Sprintf("Daily limit reached! Used: %s/%s. Remaining: %s",
				humanize.IBytes(uint64(committed)), humanize.IBytes(uint64(g.limit)), humanize.IBytes(uint64(remaining))),
		}, nil
	}
	if g.cooldown > 0 && !usage.LastFileAt.IsZero() {
		if since := now.Sub(usage.LastFileAt); since < g.cooldown {
			wait := g.cooldown - since
			return nil, Decision{
				Used:      committed,
				Limit:     g.limit,
				Remaining: remaining,
				RetryIn:   wait,
				Reason:    fmt.Sprintf("Please wait %d seconds before the next file", int(math.Ceil(wait.Seconds()))),
			}, nil
		}
	}
	g.reserved[userID] = pending + size
	return &Reservation{UserID: userID, Bytes: size, Day: day},
		Decision{Allowed: true, Used: committed, Limit: g.limit, Remaining: remaining - size}, nil
}

// Commit charges a reservation after a successful upload and counts the rename.
func (g *Gate) Commit(ctx context.Context, r *Reservation) error {
	if r == nil {
		return nil
	}
	var err error
	r.once.Do(func() {
		g.mu.Lock()
		commitErr := g.store.Commit(ctx, r.UserID, r.Day, r.Bytes, g.now())
		g.unreserveLocked(r)
		g.mu.Unlock()
		if commitErr != nil {
			err = fmt.Errorf("commit usage: %w", commitErr)
			return
		}
		if statErr := g.store.RecordRename(ctx, r.Bytes); statErr != nil {
			g.logger.Warn("record rename failed", slog.Any("error", statErr))
		}
	})
	return err
}

// Release drops a reservation without charging it.
func (g *Gate) Release(r *Reservation) {
	if r == nil {
		return
	}
	r.once.Do(func() {
		g.mu.Lock()
		g.unreserveLocked(r)
		g.mu.Unlock()
	})
}

func (g *Gate) unreserveLocked(r *Reservation) {
	if r.Admin {
		return
	}
	left := g.reserved[r.UserID] - r.Bytes
	if left <= 0 {
		delete(g.reserved, r.UserID)
		return
	}
	g.reserved[r.UserID] = left
}

// UsageInfo reports the user's standing for today.
func (g *Gate) UsageInfo(ctx context.Context, userID int64) (Info, error) {
	now := g.now().In(g.loc)
	y, m, d := now.Date()
	info := Info{
		Limit:     g.limit,
		ResetAt:   time.Date(y, m, d+1, 0, 0, 0, 0, g.loc),
		Unlimited: g.IsAdmin(userID),
	}
	usage, err := g.store.Usage(ctx, userID)
	if err != nil {
		return info, fmt.Errorf("load usage: %w", err)
	}
	if usage.Day == now.Format(dayLayout) {
		info.Used = usage.UsedBytes
	}
	info.Remaining = g.limit - info.Used
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	if g.limit > 0 {
		info.Percent = float64(info.Used) / float64(g.limit) * 100
	}
	return info, nil
}

// Totals returns the rename statistics.
func (g *Gate) Totals(ctx context.Context) (Totals, error) {
	return g.store.Totals(ctx)
}

// Limit returns the daily byte budget.
func (g *Gate) Limit() int64 {
	return g.limit
}
