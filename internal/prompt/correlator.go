package prompt

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DINO060/RENAMBOT/internal/channel"
)

// Outcome describes what Correlate did with a reply.
type Outcome int

const (
	// OutcomeIgnored means the reply does not answer the user's live prompt.
	OutcomeIgnored Outcome = iota
	// OutcomeEmptyName means the reply matched but carried no usable name; the
	// prompt stays live.
	OutcomeEmptyName
	// OutcomeDispatched means the prompt was consumed and handed to a sink.
	OutcomeDispatched
)

// Sink receives a consumed prompt and the name the user replied with.
type Sink func(ctx context.Context, p PendingPrompt, name string) error

// Correlator routes replies to the inline or queued pipeline entry point.
type Correlator struct {
	logger *slog.Logger
	store  *Store
	inline Sink
	queued Sink
}

// NewCorrelator creates a Correlator. inline serves rename-only prompts and
// queued serves thumbnail prompts.
func NewCorrelator(log *slog.Logger, store *Store, inline, queued Sink) *Correlator {
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{
		logger: log.With(slog.String("component", "prompt_correlator")),
		store:  store,
		inline: inline,
		queued: queued,
	}
}

// Correlate matches ev against the sender's live prompt.
func (c *Correlator) Correlate(ctx context.Context, ev channel.TextReplied) (Outcome, error) {
	userID := ev.Sender.UserID
	p, ok := c.store.Match(userID, ev.RepliedToMessageID)
	if !ok {
		return OutcomeIgnored, nil
	}
	name := strings.TrimSpace(ev.Text)
	if name == "" {
		return OutcomeEmptyName, nil
	}
	p, ok = c.store.Consume(userID, p.PromptMessageID)
	if !ok {
		// Lost to a concurrent reply or a newer prompt.
		return OutcomeIgnored, nil
	}
	sink := c.inline
	if p.Action == ActionRenameWithThumbnail {
		sink = c.queued
	}
	c.logger.Info("prompt answered",
		slog.Int64("user_id", userID),
		slog.String("action", string(p.Action)),
		slog.Int("prompt_message_id", p.PromptMessageID),
	)
	if sink == nil {
		return OutcomeDispatched, nil
	}
	return OutcomeDispatched, sink(ctx, p, name)
}
