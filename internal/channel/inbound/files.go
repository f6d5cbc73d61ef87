package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DINO060/RENAMBOT/internal/channel"
	"github.com/DINO060/RENAMBOT/internal/filename"
	"github.com/DINO060/RENAMBOT/internal/prompt"
	"github.com/DINO060/RENAMBOT/internal/queue"
	"github.com/DINO060/RENAMBOT/internal/refcache"
	"github.com/DINO060/RENAMBOT/internal/transfer"
)

// HandleFile caches the arrival under its own message key and offers the
// action buttons. Nothing else is allocated until the user picks an action.
func (p *ChannelInboundProcessor) HandleFile(ctx context.Context, ev channel.FileArrived) error {
	userID := ev.Sender.UserID
	if !p.admit(ctx, ev.ChatID, ev.MessageID, userID) {
		return nil
	}
	if ev.Size > p.opts.MaxFileBytes {
		p.reply(ctx, ev.ChatID, ev.MessageID, fmt.Sprintf("❌ <b>File too large!</b>\n\nMaximum size: %s\nYour file: %s",
			formatBytes(p.opts.MaxFileBytes), formatBytes(ev.Size)))
		return nil
	}
	name := displayName(ev.Name)
	ref := refcache.FileReference{
		Key:         refcache.Key{ChatID: ev.ChatID, MessageID: ev.MessageID},
		OwnerUserID: userID,
		Name:        name,
		Size:        ev.Size,
		Mime:        ev.Mime,
		IsVideo:     ev.Kind == channel.FileKindVideo || filename.IsVideo(ev.Mime, name),
		DurationS:   ev.DurationS,
		File:        ev.File,
	}
	p.cache.Put(ref)

	hasThumb := p.hasThumbnail(userID)
	usage, haveUsage := p.usageInfo(ctx, userID)
	thumbButton := channel.Button{Text: "🖼️ Set Thumbnail First", Data: buttonData(buttonNoThumb, ref.Key)}
	if hasThumb {
		thumbButton = channel.Button{Text: "🖼️ Add Thumbnail", Data: buttonData(buttonThumb, ref.Key)}
	}
	_, err := p.transport.SendMessage(ctx, ev.ChatID, renderFileCard(ref, hasThumb, usage, haveUsage), channel.SendOptions{
		HTML:    true,
		ReplyTo: ev.MessageID,
		Buttons: [][]channel.Button{
			{thumbButton},
			{{Text: "✏️ Rename Only", Data: buttonData(buttonRename, ref.Key)}},
			{{Text: "❌ Cancel", Data: buttonData(buttonCancel, ref.Key)}},
		},
	})
	if err != nil {
		return fmt.Errorf("send file card: %w", err)
	}
	p.logger.Info("file received",
		slog.Int64("user_id", userID),
		slog.Int("message_id", ev.MessageID),
		slog.Int64("size", ev.Size),
		slog.Bool("video", ref.IsVideo),
	)
	return nil
}

// HandleButton turns a tap into a prompt. The lock on the file message key
// makes reading the reference and issuing the prompt one step, so duplicate
// taps produce a single prompt.
func (p *ChannelInboundProcessor) HandleButton(ctx context.Context, ev channel.ButtonTapped) error {
	if strings.TrimSpace(ev.Payload) == checkJoinedPayload {
		p.handleCheckJoined(ctx, ev)
		return nil
	}
	if res := p.checkMembership(ctx, ev.Sender.UserID); !res.Allowed {
		p.answer(ctx, ev.CallbackID, "❌ You haven't joined all channels yet!", true)
		p.sendJoinPrompt(ctx, ev.ChatID, 0, ev.Sender.UserID, res.Missing)
		return nil
	}
	action, fileMessageID, ok := parseButton(ev.Payload)
	if !ok {
		p.answer(ctx, ev.CallbackID, "", false)
		return nil
	}
	if action == buttonNoThumb {
		p.answer(ctx, ev.CallbackID, "❌ Please set a thumbnail first with /setthumb", true)
		return nil
	}
	userID := ev.Sender.UserID
	key := refcache.Key{ChatID: ev.ChatID, MessageID: fileMessageID}

	release, err := p.locks.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	ref, ok := p.cache.Get(key)
	if !ok {
		p.answer(ctx, ev.CallbackID, transfer.UserMessage(transfer.ErrStaleReference), true)
		return nil
	}
	if ref.OwnerUserID != userID {
		p.answer(ctx, ev.CallbackID, transfer.UserMessage(transfer.ErrUnauthorized), true)
		return nil
	}
	if action != buttonCancel && p.cache.Claimed(key) {
		p.answer(ctx, ev.CallbackID, inFlightText, false)
		return nil
	}

	switch action {
	case buttonCancel:
		p.cancelFile(ctx, userID, key)
		if err := p.transport.EditMessage(ctx, channel.MessageHandle{ChatID: ev.ChatID, MessageID: ev.MessageID}, "❌ <b>Operation cancelled.</b>"); err != nil {
			p.logger.Debug("edit cancelled card failed", slog.Any("error", err))
		}
		p.answer(ctx, ev.CallbackID, "Cancelled", false)
		return nil
	case buttonThumb:
		if !p.hasThumbnail(userID) {
			p.answer(ctx, ev.CallbackID, "❌ No thumbnail set! Use /setthumb first.", true)
			return nil
		}
	}

	promptAction := prompt.ActionRenameOnly
	text := renderRenamePrompt(ref)
	if action == buttonThumb {
		promptAction = prompt.ActionRenameWithThumbnail
		text = renderMediaInfoPrompt(ref)
	}
	if live, ok := p.prompts.Live(userID); ok && live.Ref.Key == key && live.Action == promptAction {
		p.answer(ctx, ev.CallbackID, "⏳ Already waiting for the new name, reply to the prompt.", false)
		return nil
	}

	handle, err := p.transport.SendMessage(ctx, ev.ChatID, text, channel.SendOptions{
		HTML:       true,
		ReplyTo:    fileMessageID,
		ForceReply: true,
	})
	if err != nil {
		p.answer(ctx, ev.CallbackID, "❌ Could not ask for the new name, please try again.", true)
		return fmt.Errorf("send prompt: %w", err)
	}
	prev, replaced := p.prompts.Issue(prompt.PendingPrompt{
		UserID:          userID,
		ChatID:          ev.ChatID,
		PromptMessageID: handle.MessageID,
		CardMessageID:   ev.MessageID,
		Action:          promptAction,
		Ref:             ref,
	})
	if replaced && prev.PromptMessageID != handle.MessageID {
		p.deleteMessage(ctx, prev.ChatID, prev.PromptMessageID)
	}
	p.answer(ctx, ev.CallbackID, "", false)
	p.logger.Info("prompt issued",
		slog.Int64("user_id", userID),
		slog.Int("message_id", fileMessageID),
		slog.String("action", string(promptAction)),
	)
	return nil
}

// cancelFile forgets one file: its reference, its prompt and its queued jobs.
// A transfer already running is left to finish.
func (p *ChannelInboundProcessor) cancelFile(ctx context.Context, userID int64, key refcache.Key) {
	p.cache.Remove(key)
	for _, pp := range p.prompts.RemoveByKey(key) {
		p.deleteMessage(ctx, pp.ChatID, pp.PromptMessageID)
	}
	if p.jobs == nil {
		return
	}
	for _, job := range p.jobs.Cancel(userID, func(j queue.Job) bool { return j.Ref.Key == key }) {
		p.deleteMessage(ctx, job.ChatID, job.PromptMessageID)
	}
}

// HandleReply hands a reply to the correlator. Replies that answer no live
// prompt are ignored.
func (p *ChannelInboundProcessor) HandleReply(ctx context.Context, ev channel.TextReplied) error {
	if !p.admit(ctx, ev.ChatID, ev.MessageID, ev.Sender.UserID) {
		return nil
	}
	outcome, err := p.correlator.Correlate(ctx, ev)
	if outcome == prompt.OutcomeEmptyName {
		p.reply(ctx, ev.ChatID, ev.MessageID, "❌ Please provide a valid filename.")
	}
	return err
}

// finalName applies extension handling and the user's naming rules to a reply.
func (p *ChannelInboundProcessor) finalName(ctx context.Context, pp prompt.PendingPrompt, name string, withThumbnail bool) string {
	name, added := filename.AppendMissingExtension(name, pp.Ref.Name)
	if withThumbnail && pp.Ref.IsVideo {
		if _, ext := filename.SplitExt(name); ext == "" {
			name = filename.EnsureExtension(name, "", filename.DefaultVideoExt)
			added = true
		}
	}
	final := filename.Final(p.preferences(ctx, pp.UserID), name)
	if added {
		p.reply(ctx, pp.ChatID, 0, "ℹ️ Extension added automatically: <code>"+escape(final)+"</code>")
	}
	return final
}

const inFlightText = "⏳ This file is already being processed."

// claim takes the reference for one transfer. A file that is gone or already
// claimed gets a reply instead.
func (p *ChannelInboundProcessor) claim(ctx context.Context, pp prompt.PendingPrompt) bool {
	err := p.cache.Claim(pp.Ref.Key)
	switch {
	case err == nil:
		return true
	case errors.Is(err, refcache.ErrClaimed):
		p.reply(ctx, pp.ChatID, 0, inFlightText)
	default:
		p.reply(ctx, pp.ChatID, 0, transfer.UserMessage(transfer.ErrStaleReference))
	}
	p.deleteMessage(ctx, pp.ChatID, pp.PromptMessageID)
	return false
}

// runInline serves rename-only prompts on the reply's own goroutine.
func (p *ChannelInboundProcessor) runInline(ctx context.Context, pp prompt.PendingPrompt, name string) error {
	if !p.claim(ctx, pp) {
		return nil
	}
	defer p.cache.Release(pp.Ref.Key)
	final := p.finalName(ctx, pp, name, false)
	err := p.pipeline.Run(ctx, transfer.Request{
		UserID:          pp.UserID,
		ChatID:          pp.ChatID,
		Ref:             pp.Ref,
		Filename:        final,
		PromptMessageID: pp.PromptMessageID,
		CardMessageID:   pp.CardMessageID,
	})
	if err != nil {
		p.logger.Debug("rename ended with error", slog.Int64("user_id", pp.UserID), slog.Any("error", err))
	}
	return nil
}

// enqueue serves thumbnail prompts through the user's sequential queue.
func (p *ChannelInboundProcessor) enqueue(ctx context.Context, pp prompt.PendingPrompt, name string) error {
	if !p.claim(ctx, pp) {
		return nil
	}
	final := p.finalName(ctx, pp, name, true)
	res, err := p.jobs.Enqueue(pp.UserID, queue.Job{
		ChatID:          pp.ChatID,
		NewFilename:     final,
		PromptMessageID: pp.PromptMessageID,
		CardMessageID:   pp.CardMessageID,
		Ref:             pp.Ref,
	})
	if err != nil {
		p.cache.Release(pp.Ref.Key)
		p.reply(ctx, pp.ChatID, 0, "❌ The bot is shutting down, please try again later.")
		return fmt.Errorf("enqueue job: %w", err)
	}
	if res.Queued {
		p.reply(ctx, pp.ChatID, 0, fmt.Sprintf("⏳ <b>Added to queue</b> (position %d)\n\nYour file will be processed after the current one.", res.Position))
	}
	return nil
}
