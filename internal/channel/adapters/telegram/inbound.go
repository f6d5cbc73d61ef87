package telegram

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DINO060/RENAMBOT/internal/channel"
)

const defaultPollTimeout = 30

// Connect starts long-polling for Telegram updates and forwards them to the
// handler. Every update is handled on its own goroutine.
func (a *TelegramAdapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	a.logger.Info("start")
	bot, err := a.getOrCreateBot()
	if err != nil {
		return nil, err
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = a.cfg.PollTimeout
	if updateConfig.Timeout <= 0 {
		updateConfig.Timeout = defaultPollTimeout
	}
	updateConfig.AllowedUpdates = []string{"message", "callback_query"}
	updates := bot.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)

	stop := func(_ context.Context) error {
		a.logger.Info("stop")
		bot.StopReceivingUpdates()
		cancel()
		// Drain remaining updates so the library's polling goroutine can
		// finish writing and exit. Without this, the in-flight long-poll
		// HTTP request keeps the old getUpdates session alive, causing
		// "Conflict: terminated by other getUpdates request" when a new
		// connection starts with the same bot token.
		for range updates {
		}
		return nil
	}
	conn := channel.NewConnection(Type, stop)
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					a.logger.Info("updates channel closed")
					conn.MarkStopped(errors.New("updates channel closed"))
					return
				}
				go a.dispatch(connCtx, handler, update)
			}
		}
	}()
	return conn, nil
}

// dispatch converts one update into an inbound event. A panic in the handler
// is logged and does not reach the polling loop.
func (a *TelegramAdapter) dispatch(ctx context.Context, handler channel.InboundHandler, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("inbound handler panicked",
				slog.Int("update_id", update.UpdateID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	var err error
	kind := "ignored"
	switch {
	case update.CallbackQuery != nil:
		ev, ok := buildButtonTapped(update.CallbackQuery)
		if !ok {
			return
		}
		kind = "button"
		err = handler.HandleButton(ctx, ev)
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.From.IsBot || msg.Chat == nil {
			return
		}
		if ev, ok := buildFileArrived(msg); ok {
			kind = "file"
			err = handler.HandleFile(ctx, ev)
			break
		}
		if ev, ok := buildPhotoArrived(msg); ok {
			kind = "photo"
			err = handler.HandlePhoto(ctx, ev)
			break
		}
		if msg.IsCommand() {
			kind = "command"
			err = handler.HandleCommand(ctx, buildCommandIssued(msg))
			break
		}
		if strings.TrimSpace(msg.Text) != "" {
			kind = "text"
			err = handler.HandleReply(ctx, buildTextReplied(msg))
		}
	}
	if err != nil {
		a.logger.Error("handle inbound failed", slog.String("kind", kind), slog.Int("update_id", update.UpdateID), slog.Any("error", err))
		return
	}
	if kind != "ignored" {
		a.logger.Debug("inbound handled", slog.String("kind", kind), slog.Int("update_id", update.UpdateID))
	}
}

func toSender(u *tgbotapi.User) channel.Sender {
	if u == nil {
		return channel.Sender{}
	}
	return channel.Sender{
		UserID:    u.ID,
		Username:  strings.TrimSpace(u.UserName),
		FirstName: strings.TrimSpace(u.FirstName),
	}
}

func messageTime(msg *tgbotapi.Message) time.Time {
	if msg.Date <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(int64(msg.Date), 0).UTC()
}

func buildFileArrived(msg *tgbotapi.Message) (channel.FileArrived, bool) {
	if msg == nil || msg.Chat == nil {
		return channel.FileArrived{}, false
	}
	ev := channel.FileArrived{
		ChatID:     msg.Chat.ID,
		MessageID:  msg.MessageID,
		Sender:     toSender(msg.From),
		ReceivedAt: messageTime(msg),
	}
	switch {
	case msg.Document != nil:
		d := msg.Document
		ev.Kind = channel.FileKindDocument
		ev.File = channel.FileHandle{ID: d.FileID, UniqueID: d.FileUniqueID}
		ev.Name = strings.TrimSpace(d.FileName)
		ev.Size = int64(d.FileSize)
		ev.Mime = strings.TrimSpace(d.MimeType)
	case msg.Video != nil:
		v := msg.Video
		ev.Kind = channel.FileKindVideo
		ev.File = channel.FileHandle{ID: v.FileID, UniqueID: v.FileUniqueID}
		ev.Name = strings.TrimSpace(v.FileName)
		ev.Size = int64(v.FileSize)
		ev.Mime = strings.TrimSpace(v.MimeType)
		ev.DurationS = v.Duration
	case msg.Audio != nil:
		au := msg.Audio
		ev.Kind = channel.FileKindAudio
		ev.File = channel.FileHandle{ID: au.FileID, UniqueID: au.FileUniqueID}
		ev.Name = strings.TrimSpace(au.FileName)
		ev.Size = int64(au.FileSize)
		ev.Mime = strings.TrimSpace(au.MimeType)
		ev.DurationS = au.Duration
	default:
		return channel.FileArrived{}, false
	}
	return ev, true
}

func buildPhotoArrived(msg *tgbotapi.Message) (channel.PhotoArrived, bool) {
	if msg == nil || msg.Chat == nil || len(msg.Photo) == 0 {
		return channel.PhotoArrived{}, false
	}
	photo := pickTelegramPhoto(msg.Photo)
	return channel.PhotoArrived{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Sender:    toSender(msg.From),
		File:      channel.FileHandle{ID: photo.FileID, UniqueID: photo.FileUniqueID},
		Size:      int64(photo.FileSize),
		Caption:   strings.TrimSpace(msg.Caption),
	}, true
}

func buildCommandIssued(msg *tgbotapi.Message) channel.CommandIssued {
	return channel.CommandIssued{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Sender:    toSender(msg.From),
		Command:   strings.ToLower(msg.Command()),
		Args:      strings.TrimSpace(msg.CommandArguments()),
	}
}

func buildTextReplied(msg *tgbotapi.Message) channel.TextReplied {
	ev := channel.TextReplied{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Sender:    toSender(msg.From),
		Text:      strings.TrimSpace(msg.Text),
	}
	if msg.ReplyToMessage != nil {
		ev.RepliedToMessageID = msg.ReplyToMessage.MessageID
	}
	return ev
}

func buildButtonTapped(q *tgbotapi.CallbackQuery) (channel.ButtonTapped, bool) {
	if q == nil || q.From == nil || q.Message == nil || q.Message.Chat == nil {
		return channel.ButtonTapped{}, false
	}
	return channel.ButtonTapped{
		CallbackID: q.ID,
		ChatID:     q.Message.Chat.ID,
		MessageID:  q.Message.MessageID,
		Sender:     toSender(q.From),
		Payload:    strings.TrimSpace(q.Data),
	}, true
}

// pickTelegramPhoto returns the largest size of a photo.
func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}
