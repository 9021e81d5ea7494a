// Package inventory consumes equipment against stock counters on
// update_inventory transitions and reconciles completed requests that
// never had their consumption recorded.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
	"github.com/fieldops/workflow-engine/pkg/logger"
	"github.com/fieldops/workflow-engine/pkg/wferrors"
)

// Reconciler consumes equipment and reconciles stock against completed
// requests.
type Reconciler struct {
	store store.Store
	log   *logger.Logger
}

// New constructs a Reconciler over s.
func New(s store.Store, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("inventory")
	}
	return &Reconciler{store: s, log: log}
}

// ConsumeResult reports whether the request's state_data.equipment_shortage
// flag should be set as a result of this consumption attempt.
type ConsumeResult struct {
	Shortage bool
}

// Consume decrements stock for each item in equipment, records a movement
// per item, and reports a shortage without failing the enclosing
// transition when stock is insufficient.
func (r *Reconciler) Consume(ctx context.Context, requestID string, equipment []workflow.EquipmentItem) (ConsumeResult, error) {
	var result ConsumeResult
	for _, item := range equipment {
		stock, err := r.store.GetEquipmentStock(ctx, item.Name)
		if err != nil {
			return result, wferrors.Transient("equipment stock lookup failed", err)
		}
		if stock.Quantity < item.Quantity {
			result.Shortage = true
			reason := fmt.Sprintf("insufficient stock for %s: have %d, need %d", item.Name, stock.Quantity, item.Quantity)
			r.log.WithField("equipment", item.Name).Warn(reason)
			if err := r.store.RecordError(ctx, string(wferrors.CategoryData), string(wferrors.SeverityMedium), reason, map[string]any{"request_id": requestID}, time.Now().UTC()); err != nil {
				r.log.WithError(err).Warn("failed to record inventory shortage error")
			}
		}

		if _, err := r.store.AdjustEquipmentStock(ctx, item.Name, -item.Quantity); err != nil {
			return result, wferrors.Transient("equipment stock adjustment failed", err)
		}
		if err := r.store.RecordEquipmentMovement(ctx, workflow.EquipmentMovement{
			RequestID: requestID,
			Name:      item.Name,
			Delta:     -item.Quantity,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			r.log.WithError(err).Warn("failed to record equipment movement")
		}
	}
	return result, nil
}

// ReconcileReport summarises a full reconciliation pass.
type ReconcileReport struct {
	Attempted    int
	Shortages    []string
	Discrepancy  *multierror.Error
}

// ReconcileCompleted walks completed requests with inventory_updated=false
// and attempts consumption for each, aggregating any discrepancies into
// one report instead of failing on the first one.
func (r *Reconciler) ReconcileCompleted(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	pending, err := r.store.GetRequestsPendingInventory(ctx)
	if err != nil {
		return report, wferrors.Transient("listing pending-inventory requests failed", err)
	}

	for _, req := range pending {
		if req.CurrentStatus != workflow.StatusCompleted {
			continue
		}
		report.Attempted++
		result, err := r.Consume(ctx, req.ID, req.EquipmentUsed)
		if err != nil {
			report.Discrepancy = multierror.Append(report.Discrepancy, fmt.Errorf("request %s: %w", req.ID, err))
			continue
		}
		if result.Shortage {
			report.Shortages = append(report.Shortages, req.ID)
		}
	}
	return report, nil
}
