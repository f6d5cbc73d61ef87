package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/DINO060/RENAMBOT/internal/queue"
	"github.com/DINO060/RENAMBOT/internal/quota"
	"github.com/DINO060/RENAMBOT/internal/sweep"
)

type counter interface {
	Len() int
}

type queueStats interface {
	Stats() queue.Stats
}

type sweepStats interface {
	Last() (sweep.Result, time.Time)
	Next() time.Time
}

type totalsSource interface {
	Totals(ctx context.Context) (quota.Totals, error)
}

// StatusSources are the runtime counters exposed by /status. Nil sources
// are omitted from the response.
type StatusSources struct {
	References counter
	Prompts    counter
	Queue      queueStats
	Sweep      sweepStats
	Totals     totalsSource
	StartedAt  time.Time
}

type StatusResponse struct {
	UptimeSeconds  int64          `json:"uptime_seconds"`
	StartedAt      time.Time      `json:"started_at"`
	CachedFiles    int            `json:"cached_files"`
	PendingPrompts int            `json:"pending_prompts"`
	ActiveWorkers  int            `json:"active_workers"`
	QueuedJobs     int            `json:"queued_jobs"`
	FilesRenamed   int64          `json:"files_renamed"`
	BytesRenamed   int64          `json:"bytes_renamed"`
	LastSweep      *SweepResponse `json:"last_sweep,omitempty"`
}

type SweepResponse struct {
	At         time.Time `json:"at"`
	Next       time.Time `json:"next,omitzero"`
	References int       `json:"references"`
	Prompts    int       `json:"prompts"`
	TempFiles  int       `json:"temp_files"`
}

type StatusHandler struct {
	logger  *slog.Logger
	sources StatusSources
	now     func() time.Time
}

func NewStatusHandler(log *slog.Logger, sources StatusSources) *StatusHandler {
	if sources.StartedAt.IsZero() {
		sources.StartedAt = time.Now()
	}
	return &StatusHandler{
		logger:  log.With(slog.String("handler", "status")),
		sources: sources,
		now:     time.Now,
	}
}

func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/status", h.Status)
}

// Status godoc
// @Summary Runtime counters
// @Tags system
// @Success 200 {object} StatusResponse
// @Router /status [get]
func (h *StatusHandler) Status(c echo.Context) error {
	s := h.sources
	resp := StatusResponse{
		UptimeSeconds: int64(h.now().Sub(s.StartedAt) / time.Second),
		StartedAt:     s.StartedAt.UTC(),
	}
	if s.References != nil {
		resp.CachedFiles = s.References.Len()
	}
	if s.Prompts != nil {
		resp.PendingPrompts = s.Prompts.Len()
	}
	if s.Queue != nil {
		stats := s.Queue.Stats()
		resp.ActiveWorkers = stats.ActiveWorkers
		resp.QueuedJobs = stats.QueuedJobs
	}
	if s.Totals != nil {
		totals, err := s.Totals.Totals(c.Request().Context())
		if err != nil {
			h.logger.Warn("load rename totals failed", slog.Any("error", err))
		} else {
			resp.FilesRenamed = totals.Files
			resp.BytesRenamed = totals.Bytes
		}
	}
	if s.Sweep != nil {
		if last, at := s.Sweep.Last(); !at.IsZero() {
			resp.LastSweep = &SweepResponse{
				At:         at.UTC(),
				Next:       s.Sweep.Next(),
				References: last.References,
				Prompts:    last.Prompts,
				TempFiles:  last.TempFiles,
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}
