// Package sweep runs the periodic cleanup that keeps in-memory state and the
// download directory bounded.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/DINO060/RENAMBOT/internal/prompt"
)

// CacheSweeper drops expired file references.
type CacheSweeper interface {
	Sweep() int
}

// PromptSweeper drops expired prompts and returns them.
type PromptSweeper interface {
	Sweep() []prompt.PendingPrompt
}

// Result summarizes one sweep run.
type Result struct {
	References int
	Prompts    int
	TempFiles  int
}

// Service owns the cron scheduler for sweeps.
type Service struct {
	logger  *slog.Logger
	cache   CacheSweeper
	prompts PromptSweeper
	tempDir string
	maxAge  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	last    Result
	lastAt  time.Time
}

// NewService creates a sweep service. Temp files older than maxAge are
// removed from tempDir; an empty tempDir skips that step.
func NewService(log *slog.Logger, cache CacheSweeper, prompts PromptSweeper, tempDir string, maxAge time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:  log.With(slog.String("service", "sweep")),
		cache:   cache,
		prompts: prompts,
		tempDir: tempDir,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Start schedules RunOnce on spec (standard cron syntax or descriptors such
// as "@every 1m").
func (s *Service) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweep already started")
	}
	c := cron.New()
	id, err := c.AddFunc(spec, func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.entryID = id
	s.logger.Info("sweep scheduled", slog.String("schedule", spec))
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish or ctx
// to end.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports when the next sweep fires. It is zero when not started.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Last returns the result of the most recent run and when it happened.
func (s *Service) Last() (Result, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastAt
}

// RunOnce performs a single sweep.
func (s *Service) RunOnce(ctx context.Context) Result {
	var res Result
	if s.cache != nil {
		res.References = s.cache.Sweep()
	}
	if s.prompts != nil {
		res.Prompts = len(s.prompts.Sweep())
	}
	if s.tempDir != "" && s.maxAge > 0 {
		res.TempFiles = s.sweepTemp(ctx)
	}
	s.mu.Lock()
	s.last = res
	s.lastAt = s.now()
	s.mu.Unlock()
	if res != (Result{}) {
		s.logger.Info("sweep finished",
			slog.Int("references", res.References),
			slog.Int("prompts", res.Prompts),
			slog.Int("temp_files", res.TempFiles),
		)
	}
	return res
}

func (s *Service) sweepTemp(ctx context.Context) int {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read temp dir failed", slog.String("dir", s.tempDir), slog.Any("error", err))
		}
		return 0
	}
	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.tempDir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove stale temp file failed", slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
	}
	return removed
}
