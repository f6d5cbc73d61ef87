package postgreschecker

import (
	"context"
	"log/slog"
	"time"

	"github.com/DINO060/RENAMBOT/internal/healthcheck"
)

const (
	checkTypePostgres   = "postgres.ping"
	defaultCheckTimeout = 3 * time.Second
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker verifies the database answers.
type Checker struct {
	logger  *slog.Logger
	pool    Pinger
	timeout time.Duration
}

// NewChecker creates a database health checker.
func NewChecker(log *slog.Logger, pool Pinger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:  log.With(slog.String("checker", "healthcheck_postgres")),
		pool:    pool,
		timeout: defaultCheckTimeout,
	}
}

// ListChecks pings the pool once.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	item := healthcheck.CheckResult{
		ID:       checkTypePostgres,
		Type:     checkTypePostgres,
		Subtitle: "postgres",
		Status:   healthcheck.StatusOK,
		Summary:  "Database is reachable.",
	}
	if c.pool == nil {
		item.Status = healthcheck.StatusWarn
		item.Summary = "Database checker is not available."
		item.Detail = "pool is nil"
		return []healthcheck.CheckResult{item}
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	started := time.Now()
	err := c.pool.Ping(probeCtx)
	item.Metadata = map[string]any{"latency_ms": time.Since(started).Milliseconds()}
	if err != nil {
		c.logger.Warn("postgres healthcheck ping failed", slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = "Database is not reachable."
		item.Detail = err.Error()
	}
	return []healthcheck.CheckResult{item}
}
