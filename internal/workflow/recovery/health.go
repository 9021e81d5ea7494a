package recovery

import (
	"context"
	"time"

	"github.com/fieldops/workflow-engine/internal/workflow/store"
)

// HealthStatus is the computed overall status a HealthReport summarises to.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// ActiveTransactionCounter reports how many two-phase transactions the
// enhanced state manager currently has staged; satisfied by
// *state.EnhancedManager in production and a stub in tests.
type ActiveTransactionCounter interface {
	ActiveTransactionCount() int
}

// HealthReport is the point-in-time snapshot CLI `health` and the HTTP
// admin surface both render.
type HealthReport struct {
	Status                  HealthStatus
	ActiveTransactions      int
	PendingNotificationRetries int
	ErrorsByCategoryLast24h map[string]int
	CriticalErrorsLastHour  int
	ComputedAt              time.Time
}

// HealthReporter computes a HealthReport from the store's error records and
// notification retry queue, plus an optional active-transaction source.
type HealthReporter struct {
	store               store.Store
	txCounter           ActiveTransactionCounter
	degradedThreshold   int
}

// NewHealthReporter constructs a HealthReporter. txCounter may be nil if the
// caller is not running the enhanced two-phase State Manager.
func NewHealthReporter(s store.Store, txCounter ActiveTransactionCounter, degradedThreshold int) *HealthReporter {
	if degradedThreshold <= 0 {
		degradedThreshold = 10
	}
	return &HealthReporter{store: s, txCounter: txCounter, degradedThreshold: degradedThreshold}
}

// Report computes the current health snapshot. Status is critical if any
// critical-severity error was recorded in the last hour, degraded if total
// errors in the last 24h reach the configured threshold, healthy otherwise.
func (h *HealthReporter) Report(ctx context.Context, now time.Time) (HealthReport, error) {
	report := HealthReport{ComputedAt: now}

	if h.txCounter != nil {
		report.ActiveTransactions = h.txCounter.ActiveTransactionCount()
	}

	pending, err := h.store.CountPendingNotificationRetries(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	report.PendingNotificationRetries = pending

	byCategory, err := h.store.CountErrorsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return HealthReport{}, err
	}
	report.ErrorsByCategoryLast24h = byCategory

	criticalLastHour, err := h.store.CountErrorsBySeveritySince(ctx, now.Add(-time.Hour), "critical")
	if err != nil {
		return HealthReport{}, err
	}
	report.CriticalErrorsLastHour = criticalLastHour

	total := 0
	for _, n := range byCategory {
		total += n
	}

	switch {
	case criticalLastHour > 0:
		report.Status = HealthCritical
	case total >= h.degradedThreshold:
		report.Status = HealthDegraded
	default:
		report.Status = HealthHealthy
	}

	return report, nil
}
