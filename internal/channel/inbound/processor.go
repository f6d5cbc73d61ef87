// Package inbound turns transport events into bot operations: it caches file
// arrivals, serializes button taps per file message, correlates name replies
// and answers commands.
package inbound

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/DINO060/RENAMBOT/internal/channel"
	"github.com/DINO060/RENAMBOT/internal/filename"
	"github.com/DINO060/RENAMBOT/internal/locks"
	"github.com/DINO060/RENAMBOT/internal/prompt"
	"github.com/DINO060/RENAMBOT/internal/queue"
	"github.com/DINO060/RENAMBOT/internal/quota"
	"github.com/DINO060/RENAMBOT/internal/refcache"
	"github.com/DINO060/RENAMBOT/internal/transfer"
)

// DefaultMaxFileBytes is the largest file accepted at arrival.
const DefaultMaxFileBytes = 2000 * 1024 * 1024

// Pipeline runs one transfer inline.
type Pipeline interface {
	Run(ctx context.Context, req transfer.Request) error
}

// JobQueue is the per-user sequential queue used by the thumbnail path.
type JobQueue interface {
	Enqueue(userID int64, job queue.Job) (queue.EnqueueResult, error)
	Cancel(userID int64, match func(queue.Job) bool) []queue.Job
	Stats() queue.Stats
}

// UsageReporter exposes quota standing for display.
type UsageReporter interface {
	UsageInfo(ctx context.Context, userID int64) (quota.Info, error)
	Totals(ctx context.Context) (quota.Totals, error)
}

// PreferenceService reads and updates per-user naming rules.
type PreferenceService interface {
	Get(ctx context.Context, userID int64) (filename.Preferences, error)
	SetCustomText(ctx context.Context, userID int64, text string) (filename.Preferences, error)
	SetPosition(ctx context.Context, userID int64, raw string) (filename.Preferences, error)
	SetCleanTags(ctx context.Context, userID int64, enabled bool) (filename.Preferences, error)
	SetUsername(ctx context.Context, userID int64, username string) (filename.Preferences, error)
}

// ThumbnailService manages the single thumbnail each user may have.
type ThumbnailService interface {
	Path(userID int64) (string, bool)
	Has(userID int64) bool
	Import(ctx context.Context, userID int64, srcPath string) error
	Delete(ctx context.Context, userID int64) error
}

// Options tunes a ChannelInboundProcessor.
type Options struct {
	MaxFileBytes  int64
	MaxThumbBytes int64
	TempDir       string
	Cooldown      time.Duration
	// AdminIDs may run /cleanup and the forced channel commands, and skip
	// the membership gate.
	AdminIDs  []int64
	StartedAt time.Time
	Now       func() time.Time
}

// ChannelInboundProcessor implements channel.InboundHandler.
type ChannelInboundProcessor struct {
	logger     *slog.Logger
	transport  channel.Transport
	cache      *refcache.Cache
	locks      *locks.Table[refcache.Key]
	prompts    *prompt.Store
	correlator *prompt.Correlator
	pipeline   Pipeline
	jobs       JobQueue
	usage      UsageReporter
	settings   PreferenceService
	thumbnails ThumbnailService
	gate       MembershipGate
	cleaner    Cleaner
	admins     map[int64]struct{}
	opts       Options
}

// NewChannelInboundProcessor wires the processor. Usage, settings,
// thumbnails, the membership gate and the cleaner are optional and set with
// the Set methods.
func NewChannelInboundProcessor(
	log *slog.Logger,
	transport channel.Transport,
	cache *refcache.Cache,
	prompts *prompt.Store,
	pipeline Pipeline,
	jobs JobQueue,
	opts Options,
) *ChannelInboundProcessor {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = opts.Now()
	}
	p := &ChannelInboundProcessor{
		logger:    log.With(slog.String("component", "channel_router")),
		transport: transport,
		cache:     cache,
		locks:     locks.NewTable[refcache.Key](),
		prompts:   prompts,
		pipeline:  pipeline,
		jobs:      jobs,
		admins:    make(map[int64]struct{}, len(opts.AdminIDs)),
		opts:      opts,
	}
	for _, id := range opts.AdminIDs {
		p.admins[id] = struct{}{}
	}
	p.correlator = prompt.NewCorrelator(log, prompts, p.runInline, p.enqueue)
	return p
}

// SetUsageReporter configures the quota view shown on cards and /usage.
func (p *ChannelInboundProcessor) SetUsageReporter(usage UsageReporter) {
	if p == nil {
		return
	}
	p.usage = usage
}

// SetPreferenceService configures naming preferences.
func (p *ChannelInboundProcessor) SetPreferenceService(settings PreferenceService) {
	if p == nil {
		return
	}
	p.settings = settings
}

// SetThumbnailService configures thumbnail storage.
func (p *ChannelInboundProcessor) SetThumbnailService(thumbnails ThumbnailService) {
	if p == nil {
		return
	}
	p.thumbnails = thumbnails
}

// reply sends an HTML message answering messageID.
func (p *ChannelInboundProcessor) reply(ctx context.Context, chatID int64, messageID int, text string) channel.MessageHandle {
	h, err := p.transport.SendMessage(ctx, chatID, text, channel.SendOptions{HTML: true, ReplyTo: messageID})
	if err != nil {
		p.logger.Warn("send reply failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
	return h
}

func (p *ChannelInboundProcessor) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := p.transport.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		p.logger.Debug("answer callback failed", slog.Any("error", err))
	}
}

func (p *ChannelInboundProcessor) deleteMessage(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := p.transport.DeleteMessage(ctx, channel.MessageHandle{ChatID: chatID, MessageID: messageID}); err != nil {
		p.logger.Debug("delete message failed", slog.Int("message_id", messageID), slog.Any("error", err))
	}
}

func (p *ChannelInboundProcessor) preferences(ctx context.Context, userID int64) filename.Preferences {
	if p.settings == nil {
		return filename.DefaultPreferences()
	}
	prefs, err := p.settings.Get(ctx, userID)
	if err != nil {
		p.logger.Warn("load preferences failed, using defaults", slog.Int64("user_id", userID), slog.Any("error", err))
		return filename.DefaultPreferences()
	}
	return prefs
}

func (p *ChannelInboundProcessor) hasThumbnail(userID int64) bool {
	return p.thumbnails != nil && p.thumbnails.Has(userID)
}

func (p *ChannelInboundProcessor) usageInfo(ctx context.Context, userID int64) (quota.Info, bool) {
	if p.usage == nil {
		return quota.Info{}, false
	}
	info, err := p.usage.UsageInfo(ctx, userID)
	if err != nil {
		p.logger.Warn("load usage failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return quota.Info{}, false
	}
	return info, true
}

func displayName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "unnamed_file"
	}
	return name
}
