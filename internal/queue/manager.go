// Package queue runs thumbnail jobs one at a time per user. Each user gets a
// FIFO and at most one worker goroutine, which exits as soon as its FIFO drains.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DINO060/RENAMBOT/internal/refcache"
)

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("queue is shut down")

// Job is one unit of work for a user's worker.
type Job struct {
	ID              string
	UserID          int64
	ChatID          int64
	NewFilename     string
	PromptMessageID int
	CardMessageID   int
	Ref             refcache.FileReference
	EnqueuedAt      time.Time
}

// Runner executes a job to completion. Its error is reported and the worker
// moves on to the next job.
type Runner func(ctx context.Context, job Job) error

// EnqueueResult describes where a job landed.
type EnqueueResult struct {
	JobID string
	// Queued is true when the job has to wait behind other work.
	Queued bool
	// Position is 1 for the job that runs next.
	Position int
}

// Stats is a snapshot of the manager's load.
type Stats struct {
	ActiveWorkers int
	QueuedJobs    int
}

type userQueue struct {
	jobs    []Job
	current *Job
}

// Manager owns every per-user queue.
type Manager struct {
	logger  *slog.Logger
	run     Runner
	onError func(job Job, err error)

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	users  map[int64]*userQueue
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithErrorHandler is called after a job returns an error or panics.
func WithErrorHandler(fn func(job Job, err error)) Option {
	return func(m *Manager) {
		m.onError = fn
	}
}

// NewManager creates a Manager that runs jobs with run.
func NewManager(log *slog.Logger, run Runner, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger: log.With(slog.String("component", "queue")),
		run:    run,
		ctx:    ctx,
		cancel: cancel,
		users:  make(map[int64]*userQueue),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue appends job to the user's FIFO and starts a worker when none runs.
func (m *Manager) Enqueue(userID int64, job Job) (EnqueueResult, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.UserID = userID
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return EnqueueResult{}, ErrClosed
	}
	q, running := m.users[userID]
	if !running {
		q = &userQueue{}
		m.users[userID] = q
	}
	busy := running && (q.current != nil || len(q.jobs) > 0)
	q.jobs = append(q.jobs, job)
	position := len(q.jobs)
	if q.current != nil {
		position++
	}
	if !running {
		m.wg.Add(1)
		go m.work(userID, q)
	}
	m.logger.Info("job enqueued",
		slog.Int64("user_id", userID),
		slog.String("job_id", job.ID),
		slog.Bool("queued", busy),
		slog.Int("position", position),
	)
	return EnqueueResult{JobID: job.ID, Queued: busy, Position: position}, nil
}

// Cancel drops every not-yet-started job of the user for which match returns
// true. A nil match drops them all. The running job is not touched.
func (m *Manager) Cancel(userID int64, match func(Job) bool) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.users[userID]
	if !ok {
		return nil
	}
	kept := q.jobs[:0]
	var dropped []Job
	for _, job := range q.jobs {
		if match == nil || match(job) {
			dropped = append(dropped, job)
			continue
		}
		kept = append(kept, job)
	}
	q.jobs = kept
	if len(dropped) > 0 {
		m.logger.Info("jobs cancelled", slog.Int64("user_id", userID), slog.Int("count", len(dropped)))
	}
	return dropped
}

// Pending returns the number of jobs waiting for the user, excluding the running one.
func (m *Manager) Pending(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.users[userID]; ok {
		return len(q.jobs)
	}
	return 0
}

// Stats reports active workers and waiting jobs across all users.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{ActiveWorkers: len(m.users)}
	for _, q := range m.users {
		s.QueuedJobs += len(q.jobs)
	}
	return s
}

// Shutdown stops accepting jobs and waits for workers to drain. When ctx ends
// first the running jobs are cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) work(userID int64, q *userQueue) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		if len(q.jobs) == 0 {
			q.current = nil
			delete(m.users, userID)
			m.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = Job{}
		q.jobs = q.jobs[1:]
		q.current = &job
		m.mu.Unlock()

		m.execute(job)
	}
}

func (m *Manager) execute(job Job) {
	start := time.Now()
	log := m.logger.With(slog.Int64("user_id", job.UserID), slog.String("job_id", job.ID))
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("job panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return m.run(m.ctx, job)
	}()
	if err != nil {
		log.Warn("job failed", slog.Duration("elapsed", time.Since(start)), slog.Any("error", err))
		if m.onError != nil {
			m.onError(job, err)
		}
		return
	}
	log.Info("job finished", slog.Duration("elapsed", time.Since(start)))
}
