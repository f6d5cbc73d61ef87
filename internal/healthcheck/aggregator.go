package healthcheck

import (
	"context"
	"time"
)

// Report is the combined result of every registered checker.
type Report struct {
	Status    string        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Healthy reports whether no check failed. Warnings still count as healthy.
func (r Report) Healthy() bool {
	return r.Status != StatusError
}

// Aggregator runs a fixed set of checkers and folds their results.
type Aggregator struct {
	checkers []Checker
	now      func() time.Time
}

// NewAggregator creates an aggregator over checkers. Nil checkers are skipped.
func NewAggregator(checkers ...Checker) *Aggregator {
	kept := make([]Checker, 0, len(checkers))
	for _, c := range checkers {
		if c != nil {
			kept = append(kept, c)
		}
	}
	return &Aggregator{checkers: kept, now: time.Now}
}

// ListChecks evaluates every checker in registration order.
func (a *Aggregator) ListChecks(ctx context.Context) []CheckResult {
	if a == nil {
		return []CheckResult{}
	}
	result := make([]CheckResult, 0, len(a.checkers))
	for _, c := range a.checkers {
		result = append(result, c.ListChecks(ctx)...)
	}
	return result
}

// Run evaluates every checker and reports the worst status seen.
func (a *Aggregator) Run(ctx context.Context) Report {
	checks := a.ListChecks(ctx)
	now := time.Now
	if a != nil && a.now != nil {
		now = a.now
	}
	return Report{
		Status:    Worst(checks),
		Checks:    checks,
		CheckedAt: now().UTC(),
	}
}

// Worst folds check statuses: error beats unknown beats warn beats ok. An
// empty list is ok.
func Worst(checks []CheckResult) string {
	status := StatusOK
	for _, c := range checks {
		if rank(c.Status) > rank(status) {
			status = c.Status
		}
	}
	return status
}

func rank(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusWarn:
		return 1
	case StatusUnknown:
		return 2
	case StatusError:
		return 3
	default:
		return 2
	}
}
