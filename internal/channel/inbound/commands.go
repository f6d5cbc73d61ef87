package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DINO060/RENAMBOT/internal/channel"
	"github.com/DINO060/RENAMBOT/internal/media"
	"github.com/DINO060/RENAMBOT/internal/settings"
	"github.com/DINO060/RENAMBOT/internal/transfer"
)

// HandleCommand answers slash commands. Every command is stateless: its
// arguments carry everything it needs.
func (p *ChannelInboundProcessor) HandleCommand(ctx context.Context, ev channel.CommandIssued) error {
	if !p.admit(ctx, ev.ChatID, ev.MessageID, ev.Sender.UserID) {
		return nil
	}
	switch ev.Command {
	case "start":
		p.welcome(ctx, ev.ChatID, ev.MessageID, ev.Sender.UserID)
	case "help":
		p.reply(ctx, ev.ChatID, ev.MessageID, renderHelp(p.opts.MaxFileBytes)+"\n\n"+p.commandList(ev.Sender.UserID))
	case "cancel":
		p.commandCancel(ctx, ev)
	case "usage":
		p.commandUsage(ctx, ev)
	case "status":
		p.commandStatus(ctx, ev)
	case "settings":
		p.reply(ctx, ev.ChatID, ev.MessageID, renderSettings(p.preferences(ctx, ev.Sender.UserID)))
	case "settext", "setposition", "cleantags", "setusername":
		p.commandSetting(ctx, ev)
	case "setthumb":
		text := setThumbText
		if p.hasThumbnail(ev.Sender.UserID) {
			text += "\n\n⚠️ <b>Note:</b> You already have a thumbnail. The new one will replace it."
		}
		p.reply(ctx, ev.ChatID, ev.MessageID, text)
	case "delthumb":
		p.commandDeleteThumbnail(ctx, ev)
	case "showthumb":
		p.commandShowThumbnail(ctx, ev)
	case "addfsub", "delfsub", "channels":
		p.commandForcedChannels(ctx, ev)
	case "cleanup":
		p.commandCleanup(ctx, ev)
	default:
		p.logger.Debug("unknown command", slog.String("command", ev.Command))
	}
	return nil
}

func (p *ChannelInboundProcessor) welcome(ctx context.Context, chatID int64, messageID int, userID int64) {
	var b strings.Builder
	b.WriteString(renderWelcome(p.opts.MaxFileBytes))
	if prefs := p.preferences(ctx, userID); prefs.CustomText != "" {
		b.WriteString("\n• Custom text: <code>" + escape(prefs.CustomText) + "</code>")
	}
	if info, ok := p.usageInfo(ctx, userID); ok && !info.Unlimited {
		fmt.Fprintf(&b, "\n\n<b>📊 Your Daily Usage:</b>\n• Used: %s / %s (%.1f%%)\n• Remaining: %s\n• Cooldown: %d seconds between files",
			formatBytes(info.Used), formatBytes(info.Limit), info.Percent, formatBytes(info.Remaining), int(p.opts.Cooldown/time.Second))
	}
	b.WriteString("\n\n" + p.commandList(userID) + "\n\n<b>📤 Just send me a file to get started!</b>")
	p.reply(ctx, chatID, messageID, b.String())
}

// commandCancel drops every reference, prompt and waiting job of the user.
func (p *ChannelInboundProcessor) commandCancel(ctx context.Context, ev channel.CommandIssued) {
	userID := ev.Sender.UserID
	cancelled := len(p.cache.RemoveOwnedBy(userID))
	if pp, ok := p.prompts.Remove(userID); ok {
		p.deleteMessage(ctx, pp.ChatID, pp.PromptMessageID)
		p.deleteMessage(ctx, pp.ChatID, pp.CardMessageID)
		cancelled++
	}
	if p.jobs != nil {
		for _, job := range p.jobs.Cancel(userID, nil) {
			p.deleteMessage(ctx, job.ChatID, job.PromptMessageID)
			p.deleteMessage(ctx, job.ChatID, job.CardMessageID)
			cancelled++
		}
	}
	if cancelled == 0 {
		p.reply(ctx, ev.ChatID, ev.MessageID, "ℹ️ No active operation to cancel.")
		return
	}
	p.logger.Info("operations cancelled", slog.Int64("user_id", userID), slog.Int("count", cancelled))
	p.reply(ctx, ev.ChatID, ev.MessageID, "❌ <b>Operation cancelled.</b>")
}

func (p *ChannelInboundProcessor) commandUsage(ctx context.Context, ev channel.CommandIssued) {
	info, ok := p.usageInfo(ctx, ev.Sender.UserID)
	if !ok {
		p.reply(ctx, ev.ChatID, ev.MessageID, "❌ Usage is not available right now.")
		return
	}
	p.reply(ctx, ev.ChatID, ev.MessageID, renderUsage(info, p.opts.Cooldown))
}

func (p *ChannelInboundProcessor) commandStatus(ctx context.Context, ev channel.CommandIssued) {
	uptime := p.opts.Now().Sub(p.opts.StartedAt).Round(time.Second)
	var b strings.Builder
	b.WriteString("⌬ <b>BOT STATISTICS</b>\n\n")
	fmt.Fprintf(&b, "┎ Uptime: %s\n", uptime)
	fmt.Fprintf(&b, "┃ Cached files: %d\n", p.cache.Len())
	fmt.Fprintf(&b, "┃ Pending prompts: %d\n", p.prompts.Len())
	if p.jobs != nil {
		stats := p.jobs.Stats()
		fmt.Fprintf(&b, "┃ Active workers: %d\n", stats.ActiveWorkers)
		fmt.Fprintf(&b, "┖ Queued jobs: %d\n", stats.QueuedJobs)
	} else {
		b.WriteString("┖ Queue: disabled\n")
	}
	if p.usage != nil {
		totals, err := p.usage.Totals(ctx)
		if err != nil {
			p.logger.Warn("load rename totals failed", slog.Any("error", err))
		} else {
			b.WriteString("\n┎ <b>RENAME STATISTICS</b>\n")
			fmt.Fprintf(&b, "┃ Files renamed: %d\n", totals.Files)
			fmt.Fprintf(&b, "┖ Storage used: %s\n", formatBytes(totals.Bytes))
		}
	}
	p.reply(ctx, ev.ChatID, ev.MessageID, b.String())
}

func (p *ChannelInboundProcessor) commandSetting(ctx context.Context, ev channel.CommandIssued) {
	if p.settings == nil {
		p.reply(ctx, ev.ChatID, ev.MessageID, "❌ Settings are not available right now.")
		return
	}
	userID := ev.Sender.UserID
	arg := strings.TrimSpace(ev.Args)
	var (
		err  error
		done string
	)
	switch ev.Command {
	case "settext":
		if arg == "" {
			p.reply(ctx, ev.ChatID, ev.MessageID, "ℹ️ Usage: /settext &lt;text&gt; or /settext off\n\nExamples: <code>@mychannel</code>, <code>2024</code>, <code>[Premium]</code>")
			return
		}
		if isOff(arg) {
			_, err = p.settings.SetCustomText(ctx, userID, "")
			done = "✅ <b>Custom text removed!</b>"
		} else {
			prefs, setErr := p.settings.SetCustomText(ctx, userID, arg)
			err = setErr
			done = fmt.Sprintf("✅ <b>Custom text saved!</b>\n\nText: <code>%s</code>\nPosition: %s\n\nThis will be added to all renamed files.", escape(prefs.CustomText), prefs.Position)
		}
	case "setposition":
		prefs, setErr := p.settings.SetPosition(ctx, userID, arg)
		err = setErr
		done = fmt.Sprintf("✅ Position set to <b>%s</b>", prefs.Position)
	case "cleantags":
		enabled := !p.preferences(ctx, userID).CleanTags
		switch strings.ToLower(arg) {
		case "on", "yes", "true":
			enabled = true
		case "off", "no", "false":
			enabled = false
		}
		_, err = p.settings.SetCleanTags(ctx, userID, enabled)
		done = "✅ Auto-clean disabled"
		if enabled {
			done = "✅ Auto-clean enabled"
		}
	case "setusername":
		if arg == "" {
			p.reply(ctx, ev.ChatID, ev.MessageID, "ℹ️ Usage: /setusername @mychannel or /setusername off")
			return
		}
		if isOff(arg) {
			_, err = p.settings.SetUsername(ctx, userID, "")
			done = "✅ <b>Username removed!</b>"
		} else {
			prefs, setErr := p.settings.SetUsername(ctx, userID, arg)
			err = setErr
			done = fmt.Sprintf("✅ <b>Username saved!</b>\n\nUsername: <code>%s</code>\nThis will be added to all renamed files.", escape(prefs.Username))
		}
	}
	if err != nil {
		p.reply(ctx, ev.ChatID, ev.MessageID, settingErrorText(err))
		return
	}
	p.reply(ctx, ev.ChatID, ev.MessageID, done)
}

func (p *ChannelInboundProcessor) commandList(userID int64) string {
	if p.isAdmin(userID) {
		return commandsText + "\n\n" + adminCommandsText
	}
	return commandsText
}

func settingErrorText(err error) string {
	switch {
	case errors.Is(err, settings.ErrCustomTextTooLong):
		return fmt.Sprintf("❌ Text too long! Maximum %d characters.", settings.MaxCustomTextLength)
	case errors.Is(err, settings.ErrInvalidUsername):
		return "❌ Username must start with @ and be shorter than 64 characters."
	case errors.Is(err, settings.ErrInvalidPosition):
		return "❌ Usage: /setposition start|end"
	default:
		return "❌ <b>Error:</b> could not save your settings, please try again."
	}
}

func isOff(arg string) bool {
	switch strings.ToLower(arg) {
	case "off", "none", "clear", "remove":
		return true
	}
	return false
}

func (p *ChannelInboundProcessor) commandDeleteThumbnail(ctx context.Context, ev channel.CommandIssued) {
	if p.thumbnails == nil {
		p.reply(ctx, ev.ChatID, ev.MessageID, "❌ <b>No thumbnail found to delete.</b>")
		return
	}
	err := p.thumbnails.Delete(ctx, ev.Sender.UserID)
	switch {
	case errors.Is(err, media.ErrThumbnailNotFound):
		p.reply(ctx, ev.ChatID, ev.MessageID, "❌ <b>No thumbnail found to delete.</b>")
	case err != nil:
		p.logger.Error("delete thumbnail failed", slog.Int64("user_id", ev.Sender.UserID), slog.Any("error", err))
		p.reply(ctx, ev.ChatID, ev.MessageID, "❌ <b>Error deleting thumbnail.</b>")
	default:
		p.reply(ctx, ev.ChatID, ev.MessageID, "✅ <b>Thumbnail deleted successfully!</b>")
	}
}

func (p *ChannelInboundProcessor) commandShowThumbnail(ctx context.Context, ev channel.CommandIssued) {
	if p.thumbnails != nil {
		if path, ok := p.thumbnails.Path(ev.Sender.UserID); ok {
			if err := p.transport.SendPhoto(ctx, ev.ChatID, path, "🖼️ <b>Your current thumbnail:</b>"); err != nil {
				p.logger.Warn("send thumbnail failed", slog.Any("error", err))
				p.reply(ctx, ev.ChatID, ev.MessageID, "❌ <b>Could not send your thumbnail.</b>")
			}
			return
		}
	}
	p.reply(ctx, ev.ChatID, ev.MessageID, "❌ <b>No thumbnail set.</b>\n\nUse /setthumb to set one.")
}

// HandlePhoto stores a photo as the sender's thumbnail.
func (p *ChannelInboundProcessor) HandlePhoto(ctx context.Context, ev channel.PhotoArrived) error {
	if !p.admit(ctx, ev.ChatID, ev.MessageID, ev.Sender.UserID) {
		return nil
	}
	if p.thumbnails == nil {
		return nil
	}
	userID := ev.Sender.UserID
	if limit := p.opts.MaxThumbBytes; limit > 0 && ev.Size > limit {
		p.reply(ctx, ev.ChatID, ev.MessageID, thumbnailTooLargeText(limit, ev.Size))
		return nil
	}
	progress := p.reply(ctx, ev.ChatID, ev.MessageID, "⏳ <b>Saving thumbnail...</b>")
	finish := func(text string) {
		if progress.IsZero() || p.transport.EditMessage(ctx, progress, text) != nil {
			p.reply(ctx, ev.ChatID, ev.MessageID, text)
		}
	}

	dir := p.opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	tmp := filepath.Join(dir, "thumb_"+transfer.TempName(userID, p.opts.Now(), ".jpg"))
	got, err := p.transport.DownloadToPath(ctx, ev.File, tmp, nil)
	if got != tmp {
		defer func() {
			_ = os.Remove(tmp)
		}()
	}
	if err != nil {
		if got != "" {
			_ = os.Remove(got)
		}
		p.logger.Warn("download thumbnail failed", slog.Int64("user_id", userID), slog.Any("error", err))
		finish("❌ <b>Error saving thumbnail:</b> " + escape(err.Error()))
		return nil
	}
	if err := p.thumbnails.Import(ctx, userID, got); err != nil {
		if errors.Is(err, media.ErrAssetTooLarge) {
			finish(thumbnailTooLargeText(p.opts.MaxThumbBytes, ev.Size))
			return nil
		}
		p.logger.Warn("import thumbnail failed", slog.Int64("user_id", userID), slog.Any("error", err))
		finish("❌ <b>Error saving thumbnail:</b> " + escape(err.Error()))
		return nil
	}
	finish("✅ <b>Thumbnail saved successfully!</b>\n\nThis thumbnail will be used for all your renamed files.\nUse /delthumb to remove it.")
	return nil
}

func thumbnailTooLargeText(limit, got int64) string {
	if limit <= 0 {
		limit = media.MaxThumbnailBytes
	}
	return fmt.Sprintf("❌ <b>Photo too large!</b>\n\nMaximum size: %s\nYour photo: %s", formatBytes(limit), formatBytes(got))
}
