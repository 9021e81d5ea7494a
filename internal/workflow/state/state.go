// Package state implements the sole writer to the Store: it derives the
// initial role from the Registry, merges state_data on every mutation, and
// appends a Transition row for every change with RecordTransition set,
// including intermediate actions that keep current_role and current_status.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/registry"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
)

// Manager is the sole writer to the Store.
type Manager struct {
	store    store.Store
	registry *registry.Registry
}

// New constructs a Manager over s, deriving initial roles from reg.
func New(s store.Store, reg *registry.Registry) *Manager {
	return &Manager{store: s, registry: reg}
}

// CreateInput carries the caller-supplied fields for a new request.
type CreateInput struct {
	WorkflowType     workflow.WorkflowType
	ClientID         string
	Priority         workflow.Priority
	Description      string
	Location         string
	ContactInfo      workflow.ContactInfo
	CreatedByStaff   bool
	StaffCreatorID   string
	StaffCreatorRole workflow.Role
	CreationSource   string
	InitiatingAction workflow.Action
	ActorID          string
}

// CreateRequest derives current_role from the Registry's initial-role rule,
// writes the Request row and an initiation Transition row in one
// transaction, and returns the generated request id.
func (m *Manager) CreateRequest(ctx context.Context, in CreateInput) (string, error) {
	initialRole, err := m.registry.InitialRole(in.WorkflowType)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	req := workflow.Request{
		WorkflowType:     in.WorkflowType,
		ClientID:         in.ClientID,
		CurrentRole:      initialRole,
		CurrentStatus:    workflow.StatusCreated,
		Priority:         in.Priority,
		Description:      in.Description,
		Location:         in.Location,
		ContactInfo:      in.ContactInfo,
		StateData:        workflow.StateData{},
		CreatedByStaff:   in.CreatedByStaff,
		StaffCreatorID:   in.StaffCreatorID,
		StaffCreatorRole: in.StaffCreatorRole,
		CreationSource:   in.CreationSource,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.Priority == "" {
		req.Priority = workflow.PriorityMedium
	}
	if in.CreatedByStaff {
		req.StateData = req.StateData.Merge(workflow.StateData{
			string(workflow.StateKeyCreatedByStaff):   true,
			string(workflow.StateKeyStaffCreatorID):   in.StaffCreatorID,
			string(workflow.StateKeyStaffCreatorRole): string(in.StaffCreatorRole),
		})
	}

	transition := workflow.Transition{
		FromRole:       nil,
		ToRole:         &initialRole,
		Action:         in.InitiatingAction,
		ActorID:        in.ActorID,
		TransitionData: map[string]any{},
		Comments:       transitionComment(req),
		CreatedAt:      now,
	}

	return m.store.CreateRequest(ctx, req, transition)
}

// transitionComment annotates every transition row with the staff origin,
// byte-identical to the format tests assert on.
func transitionComment(req workflow.Request) string {
	if !req.CreatedByStaff {
		return ""
	}
	clientName := req.ContactInfo.Name
	if clientName == "" {
		clientName = req.ClientID
	}
	return fmt.Sprintf("Staff-created request by %s for %s", req.StaffCreatorRole, clientName)
}

// UpdateRequestState re-reads the current Request, merges state_data
// (dict-union, new keys win), and applies the role/status/equipment/
// rating changes the caller supplies. All of this happens in one
// transaction; failures leave the Request untouched.
//
// RecordTransition controls whether a Transition row is appended: every
// applied workflow action appends one (even when the successor role
// equals the current role, per the intermediate-action contract),
// whereas incidental metadata patches — such as flagging
// equipment_shortage after an inventory consumption attempt — do not.
// TerminalTransition forces the appended row's to_role to nil, as
// complete_workflow's closing row requires.
type StateChange struct {
	Payload            workflow.StateData
	NewRole            workflow.Role
	NewStatus          workflow.Status
	Action             workflow.Action
	ActorID            string
	AppendEquipment    []workflow.EquipmentItem
	InventoryUpdated   *bool
	CompletionRating   *int
	FeedbackComments   *string
	ClientNotifiedNow  bool
	RecordTransition   bool
	TerminalTransition bool
}

// UpdateRequestState applies change to requestID inside a single
// transaction and returns the updated snapshot.
func (m *Manager) UpdateRequestState(ctx context.Context, requestID string, change StateChange) (workflow.Request, error) {
	return m.store.UpdateRequestState(ctx, requestID, func(current workflow.Request) (workflow.Request, *workflow.Transition, error) {
		updated := current
		updated.StateData = current.StateData.Merge(change.Payload)

		if change.NewRole != "" {
			updated.CurrentRole = change.NewRole
		}
		if change.NewStatus != "" {
			updated.CurrentStatus = change.NewStatus
		}
		if len(change.AppendEquipment) > 0 {
			updated.EquipmentUsed = append(append([]workflow.EquipmentItem(nil), current.EquipmentUsed...), change.AppendEquipment...)
		}
		if change.InventoryUpdated != nil {
			updated.InventoryUpdated = *change.InventoryUpdated
		}
		if change.CompletionRating != nil {
			updated.CompletionRating = change.CompletionRating
		}
		if change.FeedbackComments != nil {
			updated.FeedbackComments = *change.FeedbackComments
		}
		if change.ClientNotifiedNow {
			now := time.Now().UTC()
			updated.ClientNotifiedAt = &now
		}

		var transition *workflow.Transition
		if change.RecordTransition {
			from := current.CurrentRole
			var to *workflow.Role
			if !change.TerminalTransition {
				toRole := updated.CurrentRole
				to = &toRole
			}
			transition = &workflow.Transition{
				FromRole:       &from,
				ToRole:         to,
				Action:         change.Action,
				ActorID:        change.ActorID,
				TransitionData: toAnyMap(change.Payload),
				Comments:       transitionComment(updated),
				CreatedAt:      time.Now().UTC(),
			}
		}
		return updated, transition, nil
	})
}

func toAnyMap(s workflow.StateData) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// GetRequest returns a snapshot of the request.
func (m *Manager) GetRequest(ctx context.Context, requestID string) (workflow.Request, error) {
	return m.store.GetRequest(ctx, requestID)
}

// GetRequestHistory returns every Transition row for requestID.
func (m *Manager) GetRequestHistory(ctx context.Context, requestID string) ([]workflow.Transition, error) {
	return m.store.GetRequestHistory(ctx, requestID)
}

// GetRequestsByRole returns requests currently awaiting role, optionally
// filtered by status, priority-desc then oldest-first.
func (m *Manager) GetRequestsByRole(ctx context.Context, role workflow.Role, status store.StatusFilter) ([]workflow.Request, error) {
	return m.store.GetRequestsByRole(ctx, role, status)
}

// GetRequestsByClient returns every request belonging to clientID.
func (m *Manager) GetRequestsByClient(ctx context.Context, clientID string) ([]workflow.Request, error) {
	return m.store.GetRequestsByClient(ctx, clientID)
}

// GetRequestsByStatus returns every request in the given status.
func (m *Manager) GetRequestsByStatus(ctx context.Context, status workflow.Status) ([]workflow.Request, error) {
	return m.store.GetRequestsByStatus(ctx, status)
}

// RecordStateTransition appends a free-form audit row outside a state
// change (used by the recovery subsystem's annotations).
func (m *Manager) RecordStateTransition(ctx context.Context, t workflow.Transition) error {
	return m.store.RecordStateTransition(ctx, t)
}
