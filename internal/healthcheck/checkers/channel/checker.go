package channelchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DINO060/RENAMBOT/internal/channel"
	"github.com/DINO060/RENAMBOT/internal/healthcheck"
)

const checkTypeChannelConnection = "channel.connection"

// ConnectionObserver reads the runtime status of the transport connection.
// ok is false when no connection was ever established.
type ConnectionObserver interface {
	Status() (status channel.ConnectionStatus, ok bool)
}

// Checker evaluates channel connection health checks.
type Checker struct {
	logger   *slog.Logger
	observer ConnectionObserver
}

// NewChecker creates a channel health checker.
func NewChecker(log *slog.Logger, observer ConnectionObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_channel")),
		observer: observer,
	}
}

// ListChecks evaluates the connection status.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	// Connection observer is context-free; best effort early cancellation guard.
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.observer == nil {
		if c.logger != nil {
			c.logger.Warn("channel healthcheck dependency is unavailable")
		}
		return []healthcheck.CheckResult{
			{
				ID:      checkTypeChannelConnection + ".service",
				Type:    checkTypeChannelConnection,
				Status:  healthcheck.StatusWarn,
				Summary: "Channel checker service is not available.",
				Detail:  "connection observer is nil",
			},
		}
	}

	status, ok := c.observer.Status()
	channelType := strings.TrimSpace(status.ChannelType.String())
	if channelType == "" {
		channelType = "unknown"
	}
	item := healthcheck.CheckResult{
		ID:       checkTypeChannelConnection + "." + channelType,
		Type:     checkTypeChannelConnection,
		Subtitle: channelType,
		Status:   healthcheck.StatusError,
		Summary:  fmt.Sprintf("Channel %s connection is down.", channelType),
		Metadata: map[string]any{
			"channel_type": channelType,
			"running":      status.Running,
		},
	}
	if !ok {
		item.Status = healthcheck.StatusUnknown
		item.Summary = fmt.Sprintf("Channel %s is not connected yet.", channelType)
		return []healthcheck.CheckResult{item}
	}
	if status.UpdatedAt.Unix() > 0 {
		item.Metadata["updated_at"] = status.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	if status.Running {
		item.Status = healthcheck.StatusOK
		item.Summary = fmt.Sprintf("Channel %s is connected.", channelType)
		if lastErr := strings.TrimSpace(status.LastError); lastErr != "" {
			item.Status = healthcheck.StatusWarn
			item.Summary = fmt.Sprintf("Channel %s is connected with recent errors.", channelType)
			item.Detail = lastErr
		}
	} else if strings.TrimSpace(status.LastError) != "" {
		item.Summary = fmt.Sprintf("Channel %s connection failed.", channelType)
		item.Detail = strings.TrimSpace(status.LastError)
	}
	return []healthcheck.CheckResult{item}
}
