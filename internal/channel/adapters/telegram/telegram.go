package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/DINO060/RENAMBOT/internal/channel"
)

// Type is the Telegram channel type.
const Type channel.ChannelType = "telegram"

const telegramMaxMessageLength = 4096

const telegramMaxCaptionLength = 1024

// editDedupeSize bounds how many message texts are remembered for skipping
// identical edits. Older handles fall out and their next edit is simply sent.
const editDedupeSize = 1024

// Config configures the adapter.
type Config struct {
	BotToken string
	// APIEndpoint is the base URL of a self-hosted Bot API server. Empty uses
	// the public endpoint.
	APIEndpoint string
	PollTimeout int
	// SendPerSecond caps outbound API calls. Zero disables the limiter.
	SendPerSecond float64
}

// TelegramAdapter implements channel.Transport and channel.Receiver for Telegram.
type TelegramAdapter struct {
	logger  *slog.Logger
	cfg     Config
	limiter *rate.Limiter

	mu   sync.RWMutex
	bot  *tgbotapi.BotAPI
	conn *channel.BaseConnection

	lastText *lru.Cache[channel.MessageHandle, string]
}

// NewTelegramAdapter creates a TelegramAdapter with the given logger.
func NewTelegramAdapter(log *slog.Logger, cfg Config) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	limit := rate.Inf
	burst := 1
	if cfg.SendPerSecond > 0 {
		limit = rate.Limit(cfg.SendPerSecond)
		burst = max(int(cfg.SendPerSecond), 1)
	}
	// lru.New only fails for a non-positive size.
	lastText, _ := lru.New[channel.MessageHandle, string](editDedupeSize)
	adapter := &TelegramAdapter{
		logger:   log.With(slog.String("adapter", "telegram")),
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		lastText: lastText,
	}
	botLoggerOnce.Do(func() {
		_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	})
	return adapter
}

var botLoggerOnce sync.Once

// slogBotLogger routes the library's logging through slog. The library only
// uses Println for failures and Printf for debug traces.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Type returns the Telegram channel type.
func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

var getOrCreateBotForTest func(a *TelegramAdapter) (*tgbotapi.BotAPI, error)

func (a *TelegramAdapter) getOrCreateBot() (*tgbotapi.BotAPI, error) {
	if getOrCreateBotForTest != nil {
		return getOrCreateBotForTest(a)
	}
	a.mu.RLock()
	bot := a.bot
	a.mu.RUnlock()
	if bot != nil {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	var err error
	if endpoint := resolveAPIEndpoint(a.cfg.APIEndpoint); endpoint != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(a.cfg.BotToken, endpoint)
	} else {
		bot, err = tgbotapi.NewBotAPI(a.cfg.BotToken)
	}
	if err != nil {
		a.logger.Error("create bot failed", slog.Any("error", err))
		return nil, err
	}
	a.logger.Info("bot authorized", slog.String("username", bot.Self.UserName))
	a.bot = bot
	return bot, nil
}

// resolveAPIEndpoint turns a base URL into the library's endpoint format.
func resolveAPIEndpoint(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "%s") {
		return raw
	}
	return raw + "/bot%s/%s"
}

// resolveFileEndpoint returns the download URL pattern matching the API endpoint.
func resolveFileEndpoint(raw string) string {
	endpoint := resolveAPIEndpoint(raw)
	if endpoint == "" {
		return tgbotapi.FileEndpoint
	}
	return strings.Replace(endpoint, "/bot%s/%s", "/file/bot%s/%s", 1)
}

var sendForTest func(bot *tgbotapi.BotAPI, c tgbotapi.Chattable) (tgbotapi.Message, error)

var requestForTest func(bot *tgbotapi.BotAPI, c tgbotapi.Chattable) error

// send waits for the limiter and issues a call that returns a message.
func (a *TelegramAdapter) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	bot, err := a.getOrCreateBot()
	if err != nil {
		return tgbotapi.Message{}, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, err
	}
	var msg tgbotapi.Message
	if sendForTest != nil {
		msg, err = sendForTest(bot, c)
	} else {
		msg, err = bot.Send(c)
	}
	return msg, toChannelError(err)
}

// request issues a call whose result is a boolean, such as deleteMessage.
func (a *TelegramAdapter) request(ctx context.Context, c tgbotapi.Chattable) error {
	bot, err := a.getOrCreateBot()
	if err != nil {
		return err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if requestForTest != nil {
		err = requestForTest(bot, c)
	} else {
		_, err = bot.Request(c)
	}
	return toChannelError(err)
}

// SendMessage sends a text message, optionally with buttons or a forced reply.
func (a *TelegramAdapter) SendMessage(ctx context.Context, chatID int64, text string, opts channel.SendOptions) (channel.MessageHandle, error) {
	text = truncateTelegramText(sanitizeTelegramText(text))
	message := tgbotapi.NewMessage(chatID, text)
	if opts.HTML {
		message.ParseMode = tgbotapi.ModeHTML
	}
	if opts.ReplyTo > 0 {
		message.ReplyToMessageID = opts.ReplyTo
	}
	switch {
	case opts.ForceReply:
		message.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	case len(opts.Buttons) > 0:
		message.ReplyMarkup = buildInlineKeyboard(opts.Buttons)
	}
	sent, err := a.send(ctx, message)
	if err != nil {
		a.logger.Warn("send message failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		return channel.MessageHandle{}, err
	}
	handle := channel.MessageHandle{ChatID: chatID, MessageID: sent.MessageID}
	if sent.Chat != nil {
		handle.ChatID = sent.Chat.ID
	}
	a.rememberText(handle, text)
	return handle, nil
}

// EditMessage replaces the text of a sent message using HTML parse mode.
// Edits to the text last sent for handle are skipped.
func (a *TelegramAdapter) EditMessage(ctx context.Context, handle channel.MessageHandle, text string) error {
	if handle.IsZero() {
		return nil
	}
	text = truncateTelegramText(sanitizeTelegramText(text))
	if a.sameText(handle, text) {
		return nil
	}
	if err := a.editTelegramMessageText(ctx, handle, text, tgbotapi.ModeHTML); err != nil {
		return err
	}
	a.rememberText(handle, text)
	return nil
}

// editTelegramMessageText sends an edit request. It handles "message is not modified"
// silently but returns 429 and other errors to the caller for higher-level retry decisions.
func (a *TelegramAdapter) editTelegramMessageText(ctx context.Context, handle channel.MessageHandle, text, parseMode string) error {
	edit := tgbotapi.NewEditMessageText(handle.ChatID, handle.MessageID, text)
	edit.ParseMode = parseMode
	_, err := a.send(ctx, edit)
	if err != nil && isTelegramMessageNotModified(err) {
		return nil
	}
	return err
}

// DeleteMessage removes a message. Messages that are already gone are not an error.
func (a *TelegramAdapter) DeleteMessage(ctx context.Context, handle channel.MessageHandle) error {
	if handle.IsZero() {
		return nil
	}
	a.forgetText(handle)
	err := a.request(ctx, tgbotapi.NewDeleteMessage(handle.ChatID, handle.MessageID))
	if err != nil && isTelegramMessageGone(err) {
		return nil
	}
	return err
}

// AnswerCallback acknowledges a button tap with a toast or an alert.
func (a *TelegramAdapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if strings.TrimSpace(callbackID) == "" {
		return nil
	}
	cb := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cb = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	return a.request(ctx, cb)
}

// SendPhoto sends a local image with an HTML caption.
func (a *TelegramAdapter) SendPhoto(ctx context.Context, chatID int64, path, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = truncateCaption(caption)
	photo.ParseMode = tgbotapi.ModeHTML
	_, err := a.send(ctx, photo)
	return err
}

var getChatMemberForTest func(bot *tgbotapi.BotAPI, cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)

// IsMember implements channel.MembershipChecker with getChatMember. The bot
// must be an administrator of private channels to see their members.
func (a *TelegramAdapter) IsMember(ctx context.Context, channelRef string, userID int64) (bool, error) {
	bot, err := a.getOrCreateBot()
	if err != nil {
		return false, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return false, err
	}
	cfg := tgbotapi.GetChatMemberConfig{ChatConfigWithUser: tgbotapi.ChatConfigWithUser{UserID: userID}}
	if id, parseErr := strconv.ParseInt(channelRef, 10, 64); parseErr == nil {
		cfg.ChatID = id
	} else {
		cfg.SuperGroupUsername = "@" + strings.TrimPrefix(channelRef, "@")
	}
	var member tgbotapi.ChatMember
	if getChatMemberForTest != nil {
		member, err = getChatMemberForTest(bot, cfg)
	} else {
		member, err = bot.GetChatMember(cfg)
	}
	if err != nil {
		if tgErr, ok := asTelegramError(err); ok && tgErr.Code == 400 && strings.Contains(strings.ToLower(tgErr.Message), "user not found") {
			return false, nil
		}
		return false, toChannelError(err)
	}
	switch {
	case member.HasLeft(), member.WasKicked():
		return false, nil
	case member.Status == "restricted":
		return member.IsMember, nil
	}
	return true, nil
}

// Status reports the state of the current long-poll connection.
func (a *TelegramAdapter) Status() (channel.ConnectionStatus, bool) {
	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()
	if conn == nil {
		return channel.ConnectionStatus{ChannelType: Type}, false
	}
	return conn.Status(), true
}

func (a *TelegramAdapter) sameText(handle channel.MessageHandle, text string) bool {
	last, ok := a.lastText.Get(handle)
	return ok && last == text
}

func (a *TelegramAdapter) rememberText(handle channel.MessageHandle, text string) {
	a.lastText.Add(handle, text)
}

func (a *TelegramAdapter) forgetText(handle channel.MessageHandle) {
	a.lastText.Remove(handle)
}

func buildInlineKeyboard(rows [][]channel.Button) tgbotapi.InlineKeyboardMarkup {
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		if len(buttons) > 0 {
			keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(buttons...))
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// toChannelError maps Telegram 429 responses to *channel.RateLimitError.
func toChannelError(err error) error {
	if err == nil {
		return nil
	}
	if isTelegramTooManyRequests(err) {
		wait := getTelegramRetryAfter(err)
		if wait <= 0 {
			wait = time.Second
		}
		return &channel.RateLimitError{RetryAfter: wait, Err: err}
	}
	return err
}

func asTelegramError(err error) (tgbotapi.Error, bool) {
	if err == nil {
		return tgbotapi.Error{}, false
	}
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var apiErr tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return tgbotapi.Error{}, false
}

func isTelegramMessageNotModified(err error) bool {
	apiErr, ok := asTelegramError(err)
	return ok && apiErr.Code == 400 && strings.Contains(apiErr.Message, "message is not modified")
}

func isTelegramMessageGone(err error) bool {
	apiErr, ok := asTelegramError(err)
	return ok && apiErr.Code == 400 && strings.Contains(apiErr.Message, "message to delete not found")
}

func isTelegramTooManyRequests(err error) bool {
	apiErr, ok := asTelegramError(err)
	return ok && apiErr.Code == 429
}

func getTelegramRetryAfter(err error) time.Duration {
	apiErr, ok := asTelegramError(err)
	if ok && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}

// sanitizeTelegramText ensures text is valid UTF-8 for the Telegram API.
func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateTelegramText truncates text to telegramMaxMessageLength on a valid
// UTF-8 rune boundary, appending "..." when truncation occurs.
func truncateTelegramText(text string) string {
	return truncateAt(text, telegramMaxMessageLength)
}

func truncateCaption(text string) string {
	return truncateAt(sanitizeTelegramText(text), telegramMaxCaptionLength)
}

func truncateAt(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	const suffix = "..."
	cut := limit - len(suffix)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + suffix
}
