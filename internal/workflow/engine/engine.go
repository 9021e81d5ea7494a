// Package engine is the top-level orchestrator: it wires the Registry,
// Access Control, State Manager, Notification, and Inventory components
// into the four operations that drive a request through its workflow.
package engine

import (
	"context"
	"fmt"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/access"
	"github.com/fieldops/workflow-engine/internal/workflow/inventory"
	"github.com/fieldops/workflow-engine/internal/workflow/notify"
	"github.com/fieldops/workflow-engine/internal/workflow/registry"
	"github.com/fieldops/workflow-engine/internal/workflow/state"
	"github.com/fieldops/workflow-engine/pkg/logger"
)

// FailureKind discriminates why an engine call failed, mirroring the
// taxonomy the Staff Creation Handler and HTTP layer translate to
// user-visible messages.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureValidation       FailureKind = "validation_error"
	FailurePermissionDenied FailureKind = "permission_denied"
	FailureUnknownWorkflow  FailureKind = "unknown_workflow"
	FailureNotFound         FailureKind = "not_found"
	FailureSystem           FailureKind = "system_error"
)

// Failure is the discriminated result the Engine returns instead of a
// bare error, so callers can branch on Kind without string matching.
type Failure struct {
	Kind    FailureKind
	Reason  string
	Details map[string]any
}

func (f *Failure) Error() string { return fmt.Sprintf("%s: %s", f.Kind, f.Reason) }

func fail(kind FailureKind, reason string) *Failure {
	return &Failure{Kind: kind, Reason: reason}
}

// Engine holds its collaborators as explicit fields, constructed
// leaf-first by the caller — no package-level singleton.
type Engine struct {
	Registry  *registry.Registry
	Access    *access.Checker
	State     *state.Manager
	Notify    *notify.Dispatcher
	Inventory *inventory.Reconciler
	log       *logger.Logger
}

// New constructs an Engine from its already-built collaborators.
func New(reg *registry.Registry, acc *access.Checker, st *state.Manager, ntf *notify.Dispatcher, inv *inventory.Reconciler, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("workflow-engine")
	}
	return &Engine{Registry: reg, Access: acc, State: st, Notify: ntf, Inventory: inv, log: log}
}

// InitiateRequest carries the caller-supplied fields for a new request,
// including staff-creation context when the caller acts on a client's behalf.
type InitiateRequest struct {
	WorkflowType     workflow.WorkflowType
	ClientID         string
	ActorID          string
	ActorRole        workflow.Role
	Priority         workflow.Priority
	Description      string
	Location         string
	ContactInfo      workflow.ContactInfo
	CreatedByStaff   bool
	StaffCreatorID   string
	StaffCreatorRole workflow.Role
	CreationSource   string
}

// InitiateWorkflow looks up the workflow definition, enhances the request
// with staff-creation context when applicable, creates the request via the
// State Manager, and emits the initiation notification intents.
func (e *Engine) InitiateWorkflow(ctx context.Context, in InitiateRequest) (string, *Failure) {
	initialRole, err := e.Registry.InitialRole(in.WorkflowType)
	if err != nil {
		return "", fail(FailureUnknownWorkflow, err.Error())
	}

	if ok, reason := e.Access.CheckCreate(ctx, in.ActorRole, in.WorkflowType); !ok {
		return "", fail(FailurePermissionDenied, reason)
	}

	initiatingAction := initiatingActionFor(in.WorkflowType)

	id, err := e.State.CreateRequest(ctx, state.CreateInput{
		WorkflowType:     in.WorkflowType,
		ClientID:         in.ClientID,
		Priority:         in.Priority,
		Description:      in.Description,
		Location:         in.Location,
		ContactInfo:      in.ContactInfo,
		CreatedByStaff:   in.CreatedByStaff,
		StaffCreatorID:   in.StaffCreatorID,
		StaffCreatorRole: in.StaffCreatorRole,
		CreationSource:   in.CreationSource,
		InitiatingAction: initiatingAction,
		ActorID:          in.ActorID,
	})
	if err != nil {
		return "", fail(FailureSystem, err.Error())
	}

	req, err := e.State.GetRequest(ctx, id)
	if err != nil {
		return id, fail(FailureSystem, err.Error())
	}

	if in.CreatedByStaff {
		if sent := e.Notify.ClientOnStaffCreation(ctx, req); sent {
			if _, err := e.State.UpdateRequestState(ctx, id, state.StateChange{ClientNotifiedNow: true}); err != nil {
				e.log.WithError(err).Warn("failed to record client notification timestamp")
			}
		}
		e.Notify.StaffConfirmation(ctx, req)
	}
	e.Notify.Assignment(ctx, req, initialRole)

	return id, nil
}

func initiatingActionFor(wt workflow.WorkflowType) workflow.Action {
	switch wt {
	case workflow.ConnectionRequest:
		return workflow.ActionSubmitRequest
	case workflow.TechnicalService:
		return workflow.ActionSubmitTechnicalRequest
	case workflow.CallCenterDirect:
		return workflow.ActionAssignToCallCenterOperator
	default:
		return ""
	}
}

// TransitionWorkflow applies action to requestID on behalf of actor,
// returning the updated request on success. Every failure leaves the
// stored request unmodified.
func (e *Engine) TransitionWorkflow(ctx context.Context, requestID string, action workflow.Action, actorID string, actorRole workflow.Role, payload map[string]any) (workflow.Request, *Failure) {
	req, err := e.State.GetRequest(ctx, requestID)
	if err != nil {
		return workflow.Request{}, fail(FailureNotFound, err.Error())
	}

	if _, err := e.Registry.Definition(req.WorkflowType); err != nil {
		return workflow.Request{}, fail(FailureUnknownWorkflow, err.Error())
	}

	if ok, reason := e.Access.CheckTransition(ctx, req, actorID, actorRole, action, payload); !ok {
		return workflow.Request{}, fail(FailurePermissionDenied, reason)
	}

	if err := e.Registry.ValidatePayload(req.WorkflowType, req.CurrentRole, action, payload); err != nil {
		return workflow.Request{}, fail(FailureValidation, err.Error())
	}

	successor, terminal, err := e.Registry.Successor(req.WorkflowType, req.CurrentRole, action)
	if err != nil {
		return workflow.Request{}, fail(FailureValidation, err.Error())
	}

	newStatus := workflow.StatusInProgress
	if terminal {
		newStatus = req.CurrentStatus
	}

	var equipment []workflow.EquipmentItem
	if action == workflow.ActionDocumentEquipment || action == workflow.ActionUpdateInventory {
		equipment = equipmentFromPayload(payload)
	}

	var inventoryUpdated *bool
	if action == workflow.ActionUpdateInventory {
		t := true
		inventoryUpdated = &t
	}

	updated, err := e.State.UpdateRequestState(ctx, requestID, state.StateChange{
		Payload:            toStateData(payload),
		NewRole:            successor,
		NewStatus:          newStatus,
		Action:             action,
		ActorID:            actorID,
		AppendEquipment:    equipment,
		InventoryUpdated:   inventoryUpdated,
		RecordTransition:   true,
		TerminalTransition: terminal,
	})
	if err != nil {
		return workflow.Request{}, fail(FailureSystem, err.Error())
	}

	if successor != req.CurrentRole {
		e.Notify.Assignment(ctx, updated, successor)
	}

	if action == workflow.ActionUpdateInventory && e.Inventory != nil {
		result, err := e.Inventory.Consume(ctx, requestID, updated.EquipmentUsed)
		if err != nil {
			e.log.WithError(err).Warn("inventory consumption failed during transition")
		} else if result.Shortage {
			shortage := true
			updated, err = e.State.UpdateRequestState(ctx, requestID, state.StateChange{
				Payload: workflow.StateData{string(workflow.StateKeyEquipmentShortage): shortage},
				Action:  action,
				ActorID: actorID,
			})
			if err != nil {
				e.log.WithError(err).Warn("failed to record equipment shortage flag")
			}
		}
	}

	return updated, nil
}

func equipmentFromPayload(payload map[string]any) []workflow.EquipmentItem {
	raw, ok := payload["equipment_used"]
	if !ok {
		return nil
	}
	items, ok := raw.([]workflow.EquipmentItem)
	if !ok {
		return nil
	}
	return items
}

func toStateData(payload map[string]any) workflow.StateData {
	out := make(workflow.StateData, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

// CompleteInput carries the terminal rating and feedback for a workflow.
type CompleteInput struct {
	ActorID          string
	CompletionRating int
	FeedbackComments string
}

// CompleteWorkflow marks requestID completed, recording the client's
// rating and feedback. Calling it twice is a no-op on the second call.
func (e *Engine) CompleteWorkflow(ctx context.Context, requestID string, in CompleteInput) (workflow.Request, *Failure) {
	req, err := e.State.GetRequest(ctx, requestID)
	if err != nil {
		return workflow.Request{}, fail(FailureNotFound, err.Error())
	}
	if req.CurrentStatus == workflow.StatusCompleted {
		return req, nil
	}
	if ok, reason := e.Access.CheckTransition(ctx, req, in.ActorID, workflow.RoleClient, workflow.ActionRateService, nil); !ok {
		return workflow.Request{}, fail(FailurePermissionDenied, reason)
	}
	if in.CompletionRating < 1 || in.CompletionRating > 5 {
		return workflow.Request{}, fail(FailureValidation, "completion_rating must be between 1 and 5")
	}

	rating := in.CompletionRating
	feedback := in.FeedbackComments
	updated, err := e.State.UpdateRequestState(ctx, requestID, state.StateChange{
		NewStatus:          workflow.StatusCompleted,
		Action:             workflow.ActionRateService,
		ActorID:            in.ActorID,
		CompletionRating:   &rating,
		FeedbackComments:   &feedback,
		RecordTransition:   true,
		TerminalTransition: true,
	})
	if err != nil {
		return workflow.Request{}, fail(FailureSystem, err.Error())
	}

	e.Notify.Completion(ctx, updated)
	return updated, nil
}

// Status is the projection get_workflow_status returns.
type Status struct {
	CurrentRole      workflow.Role
	CurrentStatus    workflow.Status
	AvailableActions []registry.Step
	NextRoles        []workflow.Role
	History          []workflow.Transition
	// StepIndex and StepTotal are the derived "step N of M" progress
	// counter; StepTotal is 0 if the role sequence could not be resolved.
	StepIndex int
	StepTotal int
}

// GetWorkflowStatus reports requestID's current position and history.
func (e *Engine) GetWorkflowStatus(ctx context.Context, requestID string) (Status, *Failure) {
	req, err := e.State.GetRequest(ctx, requestID)
	if err != nil {
		return Status{}, fail(FailureNotFound, err.Error())
	}

	steps, err := e.Registry.ActionsFor(req.WorkflowType, req.CurrentRole)
	if err != nil {
		return Status{}, fail(FailureSystem, err.Error())
	}

	history, err := e.State.GetRequestHistory(ctx, requestID)
	if err != nil {
		return Status{}, fail(FailureSystem, err.Error())
	}

	nextRoles := make([]workflow.Role, 0, len(steps))
	seen := make(map[workflow.Role]bool)
	for _, step := range steps {
		if !seen[step.SuccessorRole] {
			seen[step.SuccessorRole] = true
			nextRoles = append(nextRoles, step.SuccessorRole)
		}
	}

	stepIndex, stepTotal, err := e.Registry.StepIndex(req.WorkflowType, req.CurrentRole)
	if err != nil {
		stepIndex, stepTotal = 0, 0
	}

	return Status{
		CurrentRole:      req.CurrentRole,
		CurrentStatus:    req.CurrentStatus,
		AvailableActions: steps,
		NextRoles:        nextRoles,
		History:          history,
		StepIndex:        stepIndex,
		StepTotal:        stepTotal,
	}, nil
}
