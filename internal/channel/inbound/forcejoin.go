package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/DINO060/RENAMBOT/internal/channel"
	"github.com/DINO060/RENAMBOT/internal/membership"
	"github.com/DINO060/RENAMBOT/internal/sweep"
)

const checkJoinedPayload = "check_joined"

// MembershipGate decides who may use the bot and edits the channel list.
type MembershipGate interface {
	Check(ctx context.Context, userID int64) (membership.Result, error)
	Channels(ctx context.Context) ([]string, error)
	Add(ctx context.Context, channels []string) ([]string, error)
	Remove(ctx context.Context, channels []string) ([]string, error)
}

// Cleaner runs one sweep on demand.
type Cleaner interface {
	RunOnce(ctx context.Context) sweep.Result
}

// SetMembershipGate turns on forced channel membership.
func (p *ChannelInboundProcessor) SetMembershipGate(gate MembershipGate) {
	if p == nil {
		return
	}
	p.gate = gate
}

// SetCleaner enables /cleanup.
func (p *ChannelInboundProcessor) SetCleaner(cleaner Cleaner) {
	if p == nil {
		return
	}
	p.cleaner = cleaner
}

func (p *ChannelInboundProcessor) isAdmin(userID int64) bool {
	_, ok := p.admins[userID]
	return ok
}

// checkMembership reports whether userID passes the gate. A channel list
// that cannot be loaded lets the user through.
func (p *ChannelInboundProcessor) checkMembership(ctx context.Context, userID int64) membership.Result {
	if p.gate == nil || p.isAdmin(userID) {
		return membership.Result{Allowed: true}
	}
	res, err := p.gate.Check(ctx, userID)
	if err != nil {
		p.logger.Error("membership check unavailable", slog.Int64("user_id", userID), slog.Any("error", err))
		return membership.Result{Allowed: true}
	}
	return res
}

// admit runs the gate at the top of a handler and shows the join message to
// users who are missing a channel.
func (p *ChannelInboundProcessor) admit(ctx context.Context, chatID int64, messageID int, userID int64) bool {
	res := p.checkMembership(ctx, userID)
	if res.Allowed {
		return true
	}
	p.sendJoinPrompt(ctx, chatID, messageID, userID, res.Missing)
	return false
}

func (p *ChannelInboundProcessor) sendJoinPrompt(ctx context.Context, chatID int64, messageID int, userID int64, missing []string) {
	text, buttons := renderJoinPrompt(missing)
	if _, err := p.transport.SendMessage(ctx, chatID, text, channel.SendOptions{
		HTML:    true,
		ReplyTo: messageID,
		Buttons: buttons,
	}); err != nil {
		p.logger.Warn("send join message failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
	p.logger.Info("user missing forced channels", slog.Int64("user_id", userID), slog.Any("missing", missing))
}

func (p *ChannelInboundProcessor) handleCheckJoined(ctx context.Context, ev channel.ButtonTapped) {
	if !p.checkMembership(ctx, ev.Sender.UserID).Allowed {
		p.answer(ctx, ev.CallbackID, "❌ You haven't joined all channels yet!", true)
		return
	}
	p.answer(ctx, ev.CallbackID, "✅ Thank you! You can now use the bot.", true)
	p.deleteMessage(ctx, ev.ChatID, ev.MessageID)
	p.welcome(ctx, ev.ChatID, 0, ev.Sender.UserID)
}

func renderJoinPrompt(missing []string) (string, [][]channel.Button) {
	var b strings.Builder
	b.WriteString("🚫 <b>Access Denied!</b>\n\nTo use this bot, you must first join these channels:\n")
	buttons := make([][]channel.Button, 0, len(missing)+1)
	for _, ch := range missing {
		b.WriteString("• " + escape(channelLabel(ch)) + "\n")
		if url := membership.JoinURL(ch); url != "" {
			buttons = append(buttons, []channel.Button{{Text: "📢 Join " + channelLabel(ch), URL: url}})
		}
	}
	b.WriteString("\n✅ Click the buttons below to join.\nOnce done, click \"I have joined\" to continue.\n\n<i>Thank you for your support! 💙</i>")
	buttons = append(buttons, []channel.Button{{Text: "✅ I have joined", Data: checkJoinedPayload}})
	return b.String(), buttons
}

func channelLabel(ch string) string {
	if _, err := strconv.ParseInt(ch, 10, 64); err == nil {
		return ch
	}
	return "@" + ch
}

func renderChannelList(header string, chans []string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, ch := range chans {
		b.WriteString("\n• " + escape(channelLabel(ch)))
	}
	return b.String()
}

const adminsOnlyText = "🚫 Admins only."

// commandForcedChannels serves /addfsub, /delfsub and /channels.
func (p *ChannelInboundProcessor) commandForcedChannels(ctx context.Context, ev channel.CommandIssued) {
	if !p.isAdmin(ev.Sender.UserID) {
		p.reply(ctx, ev.ChatID, ev.MessageID, adminsOnlyText)
		return
	}
	if p.gate == nil {
		p.reply(ctx, ev.ChatID, ev.MessageID, "❌ Forced-sub channels are not available.")
		return
	}
	args := membership.ParseChannels(ev.Args)
	var (
		chans []string
		err   error
	)
	switch ev.Command {
	case "addfsub":
		if len(args) == 0 {
			p.reply(ctx, ev.ChatID, ev.MessageID, "Usage: /addfsub &lt;@username|chat_id&gt; [others…]\nExamples: /addfsub @myChannel  -100123456789  t.me/mychannel")
			return
		}
		chans, err = p.gate.Add(ctx, args)
	case "delfsub":
		chans, err = p.gate.Remove(ctx, args)
	default:
		chans, err = p.gate.Channels(ctx)
	}
	if err != nil {
		p.logger.Error("forced channels command failed", slog.String("command", ev.Command), slog.Any("error", err))
		p.reply(ctx, ev.ChatID, ev.MessageID, "❌ <b>Error:</b> could not update forced-sub channels.")
		return
	}

	var text string
	switch {
	case ev.Command == "addfsub":
		text = renderChannelList("✅ Forced-sub channels updated:", chans)
	case ev.Command == "delfsub" && len(args) == 0:
		text = "✅ All forced-sub channels removed."
	case ev.Command == "delfsub" && len(chans) == 0:
		text = "✅ No forced-sub channels configured."
	case ev.Command == "delfsub":
		text = renderChannelList("✅ Remaining forced-sub channels:", chans)
	case len(chans) == 0:
		text = "ℹ️ No forced-sub channels configured."
	default:
		text = renderChannelList("📋 Forced-sub channels:", chans)
	}
	p.reply(ctx, ev.ChatID, ev.MessageID, text)
}

// commandCleanup runs a sweep right away. Thumbnails are never swept.
func (p *ChannelInboundProcessor) commandCleanup(ctx context.Context, ev channel.CommandIssued) {
	if !p.isAdmin(ev.Sender.UserID) {
		p.reply(ctx, ev.ChatID, ev.MessageID, "❌ <b>Access denied.</b> This command is for administrators only.")
		return
	}
	if p.cleaner == nil {
		p.reply(ctx, ev.ChatID, ev.MessageID, "❌ Cleanup is not available right now.")
		return
	}
	res := p.cleaner.RunOnce(ctx)
	p.logger.Info("manual cleanup",
		slog.Int64("user_id", ev.Sender.UserID),
		slog.Int("references", res.References),
		slog.Int("prompts", res.Prompts),
		slog.Int("temp_files", res.TempFiles),
	)
	p.reply(ctx, ev.ChatID, ev.MessageID, fmt.Sprintf("✅ <b>Cleanup completed!</b>\n\n"+
		"All user files have been cleaned (thumbnails preserved).\n\n"+
		"• Expired files: %d\n• Expired prompts: %d\n• Temp files removed: %d",
		res.References, res.Prompts, res.TempFiles))
}
