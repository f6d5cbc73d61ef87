package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/DINO060/RENAMBOT/internal/healthcheck"
)

// HealthReporter runs the registered runtime checks.
type HealthReporter interface {
	Run(ctx context.Context) healthcheck.Report
}

type HealthHandler struct {
	logger   *slog.Logger
	reporter HealthReporter
}

func NewHealthHandler(log *slog.Logger, reporter HealthReporter) *HealthHandler {
	return &HealthHandler{
		logger:   log.With(slog.String("handler", "health")),
		reporter: reporter,
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

// Health godoc
// @Summary Runtime health checks
// @Description Database and transport checks; 503 when any check fails
// @Tags system
// @Success 200 {object} healthcheck.Report
// @Failure 503 {object} healthcheck.Report
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	report := h.run(c)
	return c.JSON(statusCode(report), report)
}

func (h *HealthHandler) HealthHead(c echo.Context) error {
	return c.NoContent(statusCode(h.run(c)))
}

func (h *HealthHandler) run(c echo.Context) healthcheck.Report {
	if h.reporter == nil {
		return healthcheck.Report{Status: healthcheck.StatusOK, Checks: []healthcheck.CheckResult{}}
	}
	report := h.reporter.Run(c.Request().Context())
	if !report.Healthy() {
		h.logger.Warn("health check failed", slog.String("status", report.Status))
	}
	return report
}

func statusCode(report healthcheck.Report) int {
	if report.Healthy() {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
