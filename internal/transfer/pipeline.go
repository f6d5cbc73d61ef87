// Package transfer runs one rename job end to end: admission, download,
// optional video normalization, upload and cleanup.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DINO060/RENAMBOT/internal/channel"
	"github.com/DINO060/RENAMBOT/internal/media"
	"github.com/DINO060/RENAMBOT/internal/prompt"
	"github.com/DINO060/RENAMBOT/internal/queue"
	"github.com/DINO060/RENAMBOT/internal/quota"
	"github.com/DINO060/RENAMBOT/internal/refcache"
)

// Stage names a pipeline state.
type Stage string

const (
	StageAdmitted    Stage = "admitted"
	StageDownloading Stage = "downloading"
	StageNormalizing Stage = "normalizing"
	StageUploading   Stage = "uploading"
	StageCompleted   Stage = "completed"
	StageErrored     Stage = "errored"
)

const (
	// DefaultRateLimitRetries caps how often one stage re-runs after a
	// rate limit.
	DefaultRateLimitRetries = 5
	// DefaultNormalizeMaxBytes is the largest video that is probed and transcoded.
	DefaultNormalizeMaxBytes = media.MaxNormalizeBytes
)

// Admitter is the quota gate seen by the pipeline.
type Admitter interface {
	CheckAndReserve(ctx context.Context, userID int64, size int64) (*quota.Reservation, quota.Decision, error)
	Commit(ctx context.Context, r *quota.Reservation) error
	Release(r *quota.Reservation)
}

// ThumbnailSource resolves a user's stored thumbnail.
type ThumbnailSource interface {
	Path(userID int64) (string, bool)
}

// Request is one transfer to run.
type Request struct {
	UserID          int64
	ChatID          int64
	Ref             refcache.FileReference
	Filename        string
	WithThumbnail   bool
	PromptMessageID int
	CardMessageID   int
}

// Deps are the collaborators of a Pipeline. Prober, Transcoder and
// Thumbnails may be nil.
type Deps struct {
	Transport  channel.Transport
	Gate       Admitter
	Cache      *refcache.Cache
	Prompts    *prompt.Store
	Thumbnails ThumbnailSource
	Prober     media.Prober
	Transcoder media.Transcoder
}

// Options tunes a Pipeline.
type Options struct {
	TempDir           string
	ProgressInterval  time.Duration
	NormalizeMaxBytes int64
	RateLimitRetries  int
	Now               func() time.Time
	Sleep             func(ctx context.Context, d time.Duration) error
}

// Pipeline executes transfers. It is safe for concurrent use; callers
// serialize per user where ordering matters.
type Pipeline struct {
	logger *slog.Logger
	deps   Deps
	opts   Options
}

func NewPipeline(log *slog.Logger, deps Deps, opts Options) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.NormalizeMaxBytes <= 0 {
		opts.NormalizeMaxBytes = DefaultNormalizeMaxBytes
	}
	if opts.RateLimitRetries < 0 {
		opts.RateLimitRetries = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Pipeline{
		logger: log.With(slog.String("component", "transfer")),
		deps:   deps,
		opts:   opts,
	}
}

// TempName builds a unique download name from the user id, the unix time
// and a random suffix. ext is kept so tools can sniff the container.
func TempName(userID int64, at time.Time, ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d_%d_%s%s", userID, at.Unix(), suffix, strings.ToLower(ext))
}

// RunJob adapts the pipeline to queue.Runner for the thumbnail path.
func (p *Pipeline) RunJob(ctx context.Context, job queue.Job) error {
	return p.Run(ctx, Request{
		UserID:          job.UserID,
		ChatID:          job.ChatID,
		Ref:             job.Ref,
		Filename:        job.NewFilename,
		WithThumbnail:   true,
		PromptMessageID: job.PromptMessageID,
		CardMessageID:   job.CardMessageID,
	})
}

// Run drives req through every stage. User facing messages are sent here;
// the returned error is for logging.
func (p *Pipeline) Run(ctx context.Context, req Request) error {
	log := p.logger.With(
		slog.Int64("user_id", req.UserID),
		slog.Int64("chat_id", req.ChatID),
		slog.Int("message_id", req.Ref.Key.MessageID),
	)
	t := p.deps.Transport
	defer p.deps.Cache.Release(req.Ref.Key)

	res, dec, err := p.deps.Gate.CheckAndReserve(ctx, req.UserID, req.Ref.Size)
	if err != nil {
		p.notify(ctx, req.ChatID, UserMessage(ErrTransferFailed))
		return fmt.Errorf("%w: admission: %w", ErrTransferFailed, err)
	}
	if !dec.Allowed {
		p.notify(ctx, req.ChatID, "❌ "+html.EscapeString(dec.Reason))
		log.Info("transfer denied", slog.String("reason", dec.Reason))
		return fmt.Errorf("%w: %s", ErrAdmissionDenied, dec.Reason)
	}
	p.deps.Cache.Touch(req.Ref.Key)

	var (
		temps     []string
		committed bool
		progress  channel.MessageHandle
		stage     = StageAdmitted
	)
	defer func() {
		if !committed {
			p.deps.Gate.Release(res)
		}
		removeTemps(log, temps)
		p.cleanup(ctx, req)
	}()

	fail := func(err error) error {
		log.Warn("transfer failed", slog.String("stage", string(stage)), slog.Any("error", err))
		text := UserMessage(err)
		if progress.IsZero() || t.EditMessage(ctx, progress, text) != nil {
			p.notify(ctx, req.ChatID, text)
		}
		return err
	}

	err = p.retry(ctx, log, "send progress", func() error {
		h, sendErr := t.SendMessage(ctx, req.ChatID, "📥 <b>Downloading file...</b>", channel.SendOptions{HTML: true})
		progress = h
		return sendErr
	})
	if err != nil {
		return fail(stageError(StageAdmitted, err))
	}

	stage = StageDownloading
	tempPath := filepath.Join(p.opts.TempDir, TempName(req.UserID, p.opts.Now(), filepath.Ext(req.Ref.Name)))
	temps = append(temps, tempPath)
	p.deps.Cache.RegisterTemp(req.Ref.Key, tempPath)
	down := newReporter(log, t, progress, "Downloading", p.opts.ProgressInterval, p.opts.Now)
	path := tempPath
	err = p.retry(ctx, log, string(StageDownloading), func() error {
		got, dlErr := t.DownloadToPath(ctx, req.Ref.File, tempPath, down.Func(ctx))
		if got != "" {
			path = got
		}
		return dlErr
	})
	if path != tempPath {
		temps = append(temps, path)
		p.deps.Cache.RegisterTemp(req.Ref.Key, path)
	}
	if err != nil {
		return fail(stageError(StageDownloading, err))
	}
	if st, statErr := os.Stat(path); statErr != nil || st.IsDir() {
		return fail(stageError(StageDownloading, errors.New("downloaded file is missing")))
	}

	var (
		info   media.VideoInfo
		probed bool
	)
	if req.Ref.IsVideo && req.Ref.Size <= p.opts.NormalizeMaxBytes && p.deps.Prober != nil {
		stage = StageNormalizing
		path, info, probed = p.normalize(ctx, log, progress, path, &temps, req.Ref.Key)
	}

	stage = StageUploading
	_ = t.EditMessage(ctx, progress, "📤 <b>Uploading file...</b>")
	upload := channel.UploadRequest{
		Path:     path,
		Filename: req.Filename,
		Caption:  "<code>" + html.EscapeString(req.Filename) + "</code>",
	}
	if req.Ref.IsVideo {
		upload.Attributes = channel.UploadAttributes{
			DurationS:         req.Ref.DurationS,
			SupportsStreaming: true,
		}
		if probed {
			upload.Attributes.DurationS = info.DurationS
			upload.Attributes.Width = info.Width
			upload.Attributes.Height = info.Height
		}
		upload.Attributes.AsVideo = req.WithThumbnail
	}
	if req.WithThumbnail && p.deps.Thumbnails != nil {
		if thumb, ok := p.deps.Thumbnails.Path(req.UserID); ok {
			upload.ThumbnailPath = thumb
		}
	}
	up := newReporter(log, t, progress, "Uploading", p.opts.ProgressInterval, p.opts.Now)
	err = p.retry(ctx, log, string(StageUploading), func() error {
		return t.UploadFile(ctx, req.ChatID, upload, up.Func(ctx))
	})
	if err != nil {
		return fail(stageError(StageUploading, err))
	}

	stage = StageCompleted
	committed = true
	if err := p.deps.Gate.Commit(ctx, res); err != nil {
		log.Error("quota commit failed", slog.Any("error", err))
	}
	if err := t.DeleteMessage(ctx, progress); err != nil {
		log.Debug("delete progress message failed", slog.Any("error", err))
	}
	log.Info("transfer completed",
		slog.String("filename", req.Filename),
		slog.Int64("bytes", req.Ref.Size),
		slog.Bool("thumbnail", upload.ThumbnailPath != ""),
	)
	return nil
}

func (p *Pipeline) normalize(ctx context.Context, log *slog.Logger, progress channel.MessageHandle, path string, temps *[]string, key refcache.Key) (string, media.VideoInfo, bool) {
	_ = p.deps.Transport.EditMessage(ctx, progress, "🔍 <b>Checking video compatibility...</b>")
	info, ok := p.deps.Prober.Probe(ctx, path)
	if !ok || info.Compatible() || p.deps.Transcoder == nil {
		return path, info, ok
	}
	_ = p.deps.Transport.EditMessage(ctx, progress, "🔄 <b>Converting video for inline playback...</b>")
	out, err := p.deps.Transcoder.Transcode(ctx, path)
	if out != "" && out != path {
		*temps = append(*temps, out)
		p.deps.Cache.RegisterTemp(key, out)
	}
	if err != nil {
		log.Warn("video normalization failed, using original", slog.Any("error", fmt.Errorf("%w: %w", ErrNormalizeFailed, err)))
		return path, info, ok
	}
	if converted, probedOK := p.deps.Prober.Probe(ctx, out); probedOK {
		info = converted
	}
	return out, info, true
}

// retry re-runs fn while it fails with a rate limit, sleeping for the
// requested delay each time.
func (p *Pipeline) retry(ctx context.Context, log *slog.Logger, what string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		wait, ok := channel.RetryAfter(err)
		if !ok {
			return err
		}
		if attempt >= p.opts.RateLimitRetries {
			return fmt.Errorf("%w: %s: %w", ErrRateLimited, what, err)
		}
		log.Warn("rate limited, pausing", slog.String("step", what), slog.Duration("retry_after", wait), slog.Int("attempt", attempt+1))
		if err := p.opts.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (p *Pipeline) cleanup(ctx context.Context, req Request) {
	p.deps.Cache.Remove(req.Ref.Key)
	if p.deps.Prompts != nil {
		p.deps.Prompts.RemoveByKey(req.Ref.Key)
	}
	for _, id := range []int{req.PromptMessageID, req.CardMessageID} {
		if id == 0 {
			continue
		}
		_ = p.deps.Transport.DeleteMessage(ctx, channel.MessageHandle{ChatID: req.ChatID, MessageID: id})
	}
}

func (p *Pipeline) notify(ctx context.Context, chatID int64, text string) {
	if _, err := p.deps.Transport.SendMessage(ctx, chatID, text, channel.SendOptions{HTML: true}); err != nil {
		p.logger.Warn("notify failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

// UserMessage renders err for the chat.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "⏳ Telegram is rate limiting the bot. Please try again in a moment."
	case errors.Is(err, ErrStaleReference):
		return "⚠️ Session expired, please resend the file."
	case errors.Is(err, ErrUnauthorized):
		return "⛔ This is not your file."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "❌ <b>Error:</b> the operation was interrupted.\n\nPlease try again."
	case errors.Is(err, ErrTransferFailed):
		return "❌ <b>Error:</b> " + html.EscapeString(reason(err)) + "\n\nPlease try again."
	default:
		return "❌ <b>Error:</b> " + html.EscapeString(err.Error()) + "\n\nPlease try again."
	}
}

func reason(err error) string {
	msg := err.Error()
	prefix := ErrTransferFailed.Error() + ": "
	if strings.HasPrefix(msg, prefix) && len(msg) > len(prefix) {
		return msg[len(prefix):]
	}
	return msg
}

func stageError(stage Stage, err error) error {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransferFailed, stage, err)
}

func removeTemps(log *slog.Logger, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn("remove temp file failed", slog.String("path", p), slog.Any("error", err))
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
