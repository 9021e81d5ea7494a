// Package recovery detects stuck workflows, offers admin-invoked recovery
// actions, and reports engine health by combining error-record counts,
// pending notification retries, and the enhanced state manager's active
// transaction count.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/state"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
	"github.com/fieldops/workflow-engine/pkg/logger"
)

// DefaultStuckThreshold is the staleness window after which an in-progress
// request is reported stuck, per workflow type unless overridden.
const DefaultStuckThreshold = 24 * time.Hour

// StuckReport is one entry of DetectStuck's output.
type StuckReport struct {
	RequestID          string
	WorkflowType       workflow.WorkflowType
	CurrentRole        workflow.Role
	StuckDurationHours float64
	DescriptionSnippet string
}

// Detector finds requests that have not progressed within a staleness
// threshold.
type Detector struct {
	store      store.Store
	thresholds map[workflow.WorkflowType]time.Duration
}

// NewDetector constructs a Detector using DefaultStuckThreshold for every
// workflow type unless overridden via WithThreshold.
func NewDetector(s store.Store) *Detector {
	return &Detector{store: s, thresholds: make(map[workflow.WorkflowType]time.Duration)}
}

// WithThreshold overrides the staleness window for a specific workflow type.
func (d *Detector) WithThreshold(wt workflow.WorkflowType, threshold time.Duration) *Detector {
	d.thresholds[wt] = threshold
	return d
}

func (d *Detector) thresholdFor(wt workflow.WorkflowType) time.Duration {
	if t, ok := d.thresholds[wt]; ok {
		return t
	}
	return DefaultStuckThreshold
}

// DetectStuck reports every in-progress request whose updated_at predates
// now by more than its workflow type's threshold.
func (d *Detector) DetectStuck(ctx context.Context, now time.Time) ([]StuckReport, error) {
	// The widest configured threshold is used for the initial store query;
	// narrower per-workflow-type thresholds are then applied in-process so
	// a single store round-trip covers every workflow type.
	widest := DefaultStuckThreshold
	for _, t := range d.thresholds {
		if t > widest {
			widest = t
		}
	}

	candidates, err := d.store.GetStuckRequests(ctx, widest, now)
	if err != nil {
		return nil, err
	}

	var out []StuckReport
	for _, req := range candidates {
		threshold := d.thresholdFor(req.WorkflowType)
		age := now.Sub(req.UpdatedAt)
		if age < threshold {
			continue
		}
		out = append(out, StuckReport{
			RequestID:          req.ID,
			WorkflowType:       req.WorkflowType,
			CurrentRole:        req.CurrentRole,
			StuckDurationHours: age.Hours(),
			DescriptionSnippet: snippet(req.Description, 80),
		})
	}
	return out, nil
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RecoveryOption names one admin-invoked recovery action.
type RecoveryOption string

const (
	OptionForceTransition     RecoveryOption = "force_transition"
	OptionResetToPrevious     RecoveryOption = "reset_to_previous_state"
	OptionCompleteWorkflow    RecoveryOption = "complete_workflow"
	OptionReassignRole        RecoveryOption = "reassign_role"
)

// Recoverer applies admin-invoked recovery actions to a stuck or
// inconsistent request.
type Recoverer struct {
	state *state.Manager
	log   *logger.Logger
}

// NewRecoverer constructs a Recoverer over the given State Manager.
func NewRecoverer(st *state.Manager, log *logger.Logger) *Recoverer {
	if log == nil {
		log = logger.NewDefault("recovery")
	}
	return &Recoverer{state: st, log: log}
}

// ForceTransition moves requestID to targetRole, recording an
// admin_force_transition audit row with actorID as the acting admin.
func (r *Recoverer) ForceTransition(ctx context.Context, requestID string, targetRole workflow.Role, actorID string) (workflow.Request, error) {
	return r.state.UpdateRequestState(ctx, requestID, state.StateChange{
		NewRole:          targetRole,
		Action:           workflow.ActionAdminForceTransition,
		ActorID:          actorID,
		RecordTransition: true,
	})
}

// ResetToPreviousState sets current_role back to the from_role of the last
// Transition row. No row is removed: the reset is appended to the history
// as a new admin_force_transition row.
func (r *Recoverer) ResetToPreviousState(ctx context.Context, requestID string, actorID string) (workflow.Request, error) {
	history, err := r.state.GetRequestHistory(ctx, requestID)
	if err != nil {
		return workflow.Request{}, err
	}
	if len(history) == 0 {
		return workflow.Request{}, fmt.Errorf("request %s has no transition history to reset to", requestID)
	}
	last := history[len(history)-1]
	if last.FromRole == nil {
		return workflow.Request{}, fmt.Errorf("request %s's last transition has no from_role to reset to", requestID)
	}
	return r.state.UpdateRequestState(ctx, requestID, state.StateChange{
		NewRole:          *last.FromRole,
		Action:           workflow.ActionAdminForceTransition,
		ActorID:          actorID,
		RecordTransition: true,
	})
}

// CompleteWorkflow terminates requestID with a neutral rating and an admin
// feedback note, the recovery path's equivalent of rate_service.
func (r *Recoverer) CompleteWorkflow(ctx context.Context, requestID string, actorID, adminNote string) (workflow.Request, error) {
	rating := 3
	feedback := adminNote
	return r.state.UpdateRequestState(ctx, requestID, state.StateChange{
		NewStatus:          workflow.StatusCompleted,
		Action:             workflow.ActionAdminForceTransition,
		ActorID:            actorID,
		CompletionRating:   &rating,
		FeedbackComments:   &feedback,
		RecordTransition:   true,
		TerminalTransition: true,
	})
}

// ReassignRole records a free-form audit row naming newActorID as the acting
// user for requestID's current step. It only writes that row: the request's
// role, status and state_data are left unchanged.
func (r *Recoverer) ReassignRole(ctx context.Context, requestID string, newActorID string, adminID string) error {
	return r.state.RecordStateTransition(ctx, workflow.Transition{
		RequestID:      requestID,
		Action:         workflow.ActionAdminForceTransition,
		ActorID:        adminID,
		TransitionData: map[string]any{"reassigned_to": newActorID},
		Comments:       fmt.Sprintf("admin %s reassigned the acting user to %s", adminID, newActorID),
		CreatedAt:      time.Now().UTC(),
	})
}
