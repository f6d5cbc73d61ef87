package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/DINO060/RENAMBOT/internal/channel"
)

// DefaultProgressInterval is the minimum gap between two progress edits.
const DefaultProgressInterval = 5 * time.Second

const (
	barLength = 10
	// minElapsed stands in for a zero elapsed time in speed math.
	minElapsed = time.Millisecond
)

// Reporter edits one progress message while a transfer runs.
type Reporter struct {
	transport channel.Transport
	handle    channel.MessageHandle
	action    string
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	start    time.Time
	lastAt   time.Time
	lastText string
}

func newReporter(log *slog.Logger, t channel.Transport, h channel.MessageHandle, action string, interval time.Duration, now func() time.Time) *Reporter {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	start := now()
	return &Reporter{
		transport: t,
		handle:    h,
		action:    action,
		interval:  interval,
		now:       now,
		logger:    log,
		start:     start,
		lastAt:    start,
	}
}

// Observe is a channel.ProgressFunc. It returns quickly when the update is
// suppressed by the interval or repeats the last text.
func (r *Reporter) Observe(ctx context.Context, done, total int64) {
	r.mu.Lock()
	now := r.now()
	if now.Sub(r.lastAt) < r.interval {
		r.mu.Unlock()
		return
	}
	text := RenderProgress(r.action, done, total, now.Sub(r.start))
	if text == r.lastText {
		r.mu.Unlock()
		return
	}
	r.lastAt = now
	r.lastText = text
	r.mu.Unlock()

	if err := r.transport.EditMessage(ctx, r.handle, text); err != nil {
		if wait, ok := channel.RetryAfter(err); ok {
			r.logger.Warn("progress edit rate limited", slog.Duration("retry_after", wait))
			r.mu.Lock()
			r.lastAt = now.Add(wait)
			r.mu.Unlock()
			return
		}
		r.logger.Debug("progress edit failed", slog.Any("error", err))
	}
}

// Func adapts the reporter to channel.ProgressFunc bound to ctx.
func (r *Reporter) Func(ctx context.Context) channel.ProgressFunc {
	return func(done, total int64) {
		r.Observe(ctx, done, total)
	}
}

// RenderProgress formats a progress card. total <= 0 renders without a
// percentage.
func RenderProgress(action string, done, total int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		elapsed = minElapsed
	}
	speed := float64(done) / elapsed.Seconds()

	var pct float64
	if total > 0 {
		pct = float64(done) * 100 / float64(total)
		if pct > 100 {
			pct = 100
		}
	}
	eta := 0
	if total > 0 && speed > 0 && done < total {
		eta = int(math.Round(float64(total-done) / speed))
	}
	filled := int(pct / 10)
	bar := strings.Repeat("▓", filled) + strings.Repeat("░", barLength-filled)

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s File...</b>\n\n", action)
	fmt.Fprintf(&b, "<code>%s</code> %.1f%%\n\n", bar, pct)
	fmt.Fprintf(&b, "📊 <b>Progress:</b> %s / %s\n", humanize.IBytes(uint64(max(done, 0))), humanize.IBytes(uint64(max(total, 0))))
	fmt.Fprintf(&b, "⚡ <b>Speed:</b> %s/s\n", humanize.IBytes(uint64(speed)))
	fmt.Fprintf(&b, "⏱ <b>ETA:</b> %ds", eta)
	return b.String()
}
