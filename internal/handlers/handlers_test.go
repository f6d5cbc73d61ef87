package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/DINO060/RENAMBOT/internal/healthcheck"
	"github.com/DINO060/RENAMBOT/internal/queue"
	"github.com/DINO060/RENAMBOT/internal/quota"
	"github.com/DINO060/RENAMBOT/internal/sweep"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type registrar interface {
	Register(e *echo.Echo)
}

func serve(t *testing.T, h registrar, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.Register(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

type fixedReporter struct {
	report healthcheck.Report
}

func (f fixedReporter) Run(context.Context) healthcheck.Report {
	return f.report
}

func TestPing(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewPingHandler(newTestLogger()), http.MethodGet, "/ping")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	healthy := fixedReporter{report: healthcheck.Report{Status: healthcheck.StatusWarn, Checks: []healthcheck.CheckResult{{ID: "postgres.ping", Status: healthcheck.StatusWarn}}}}
	failing := fixedReporter{report: healthcheck.Report{Status: healthcheck.StatusError}}

	cases := []struct {
		name     string
		reporter HealthReporter
		method   string
		want     int
	}{
		{name: "get healthy", reporter: healthy, method: http.MethodGet, want: http.StatusOK},
		{name: "head healthy", reporter: healthy, method: http.MethodHead, want: http.StatusOK},
		{name: "get failing", reporter: failing, method: http.MethodGet, want: http.StatusServiceUnavailable},
		{name: "head failing", reporter: failing, method: http.MethodHead, want: http.StatusServiceUnavailable},
		{name: "no reporter", method: http.MethodGet, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, NewHealthHandler(newTestLogger(), tc.reporter), tc.method, "/health")
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}

	rec := serve(t, NewHealthHandler(newTestLogger(), healthy), http.MethodGet, "/health")
	var report healthcheck.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(report.Checks) != 1 || report.Checks[0].ID != "postgres.ping" {
		t.Fatalf("unexpected checks: %+v", report.Checks)
	}
}

type fixedCount int

func (f fixedCount) Len() int { return int(f) }

type fixedQueue queue.Stats

func (f fixedQueue) Stats() queue.Stats { return queue.Stats(f) }

type fixedTotals struct {
	totals quota.Totals
	err    error
}

func (f fixedTotals) Totals(context.Context) (quota.Totals, error) { return f.totals, f.err }

type fixedSweep struct {
	at time.Time
}

func (f fixedSweep) Last() (sweep.Result, time.Time) {
	return sweep.Result{References: 2, TempFiles: 1}, f.at
}

func (f fixedSweep) Next() time.Time { return f.at.Add(time.Minute) }

func TestStatus(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewStatusHandler(newTestLogger(), StatusSources{
		References: fixedCount(3),
		Prompts:    fixedCount(1),
		Queue:      fixedQueue{ActiveWorkers: 2, QueuedJobs: 4},
		Totals:     fixedTotals{totals: quota.Totals{Files: 10, Bytes: 2048}},
		Sweep:      fixedSweep{at: started.Add(time.Hour)},
		StartedAt:  started,
	})
	h.now = func() time.Time { return started.Add(90 * time.Second) }

	rec := serve(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.UptimeSeconds != 90 {
		t.Fatalf("unexpected uptime: %d", resp.UptimeSeconds)
	}
	if resp.CachedFiles != 3 || resp.PendingPrompts != 1 {
		t.Fatalf("unexpected counters: %+v", resp)
	}
	if resp.ActiveWorkers != 2 || resp.QueuedJobs != 4 {
		t.Fatalf("unexpected queue stats: %+v", resp)
	}
	if resp.FilesRenamed != 10 || resp.BytesRenamed != 2048 {
		t.Fatalf("unexpected totals: %+v", resp)
	}
	if resp.LastSweep == nil || resp.LastSweep.References != 2 || resp.LastSweep.TempFiles != 1 {
		t.Fatalf("unexpected sweep: %+v", resp.LastSweep)
	}
}

func TestStatusToleratesMissingSources(t *testing.T) {
	t.Parallel()

	h := NewStatusHandler(newTestLogger(), StatusSources{
		Totals: fixedTotals{err: errors.New("db down")},
	})
	rec := serve(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.FilesRenamed != 0 || resp.LastSweep != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
