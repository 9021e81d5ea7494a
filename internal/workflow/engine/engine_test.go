package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/access"
	"github.com/fieldops/workflow-engine/internal/workflow/inventory"
	"github.com/fieldops/workflow-engine/internal/workflow/notify"
	"github.com/fieldops/workflow-engine/internal/workflow/registry"
	"github.com/fieldops/workflow-engine/internal/workflow/state"
	"github.com/fieldops/workflow-engine/internal/workflow/store/memstore"
)

func newEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	reg := registry.New()
	return New(reg, access.New(s, nil), state.New(s, reg), notify.New(s, nil, nil), inventory.New(s, nil), nil), s
}

func TestInitiateWorkflowDerivesInitialRoleAndNotifies(t *testing.T) {
	e, _ := newEngine(t)

	id, failure := e.InitiateWorkflow(context.Background(), InitiateRequest{
		WorkflowType: workflow.ConnectionRequest,
		ClientID:     "client-1",
		ActorID:      "manager-1",
		ActorRole:    workflow.RoleManager,
		Description:  "install",
		Priority:     workflow.PriorityMedium,
	})
	require.Nil(t, failure)
	require.NotEmpty(t, id)

	status, failure := e.GetWorkflowStatus(context.Background(), id)
	require.Nil(t, failure)
	require.Equal(t, workflow.RoleManager, status.CurrentRole)
}

func TestInitiateWorkflowDeniesRoleWithoutCapability(t *testing.T) {
	e, _ := newEngine(t)

	_, failure := e.InitiateWorkflow(context.Background(), InitiateRequest{
		WorkflowType: workflow.TechnicalService,
		ClientID:     "client-1",
		ActorID:      "jm-1",
		ActorRole:    workflow.RoleJuniorManager,
	})
	require.NotNil(t, failure)
	require.Equal(t, FailurePermissionDenied, failure.Kind)
}

// TestHappyPathConnectionRequest exercises S1 from the acceptance scenarios:
// a full connection-request flow ending in a rated, completed request with
// ten audit rows and inventory marked updated.
func TestHappyPathConnectionRequest(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	seedUser(t, s, "jm-2", workflow.RoleJuniorManager)
	seedUser(t, s, "tech-5", workflow.RoleTechnician)
	_, err := s.AdjustEquipmentStock(ctx, "Router", 10)
	require.NoError(t, err)

	id, failure := e.InitiateWorkflow(ctx, InitiateRequest{
		WorkflowType: workflow.ConnectionRequest,
		ClientID:     "client-1",
		ActorID:      "client-1",
		ActorRole:    workflow.RoleManager,
		Description:  "install",
		Priority:     workflow.PriorityMedium,
	})
	require.Nil(t, failure)

	_, failure = e.TransitionWorkflow(ctx, id, workflow.ActionAssignToJuniorManager, "manager-1", workflow.RoleManager, map[string]any{
		string(workflow.StateKeyJuniorManagerID): "jm-2",
	})
	require.Nil(t, failure)

	_, failure = e.TransitionWorkflow(ctx, id, workflow.ActionCallClient, "jm-2", workflow.RoleJuniorManager, map[string]any{
		string(workflow.StateKeyCallNotes): "ok",
	})
	require.Nil(t, failure)

	_, failure = e.TransitionWorkflow(ctx, id, workflow.ActionForwardToController, "jm-2", workflow.RoleJuniorManager, map[string]any{})
	require.Nil(t, failure)

	_, failure = e.TransitionWorkflow(ctx, id, workflow.ActionAssignToTechnician, "controller-1", workflow.RoleController, map[string]any{
		string(workflow.StateKeyTechnicianID): "tech-5",
	})
	require.Nil(t, failure)

	_, failure = e.TransitionWorkflow(ctx, id, workflow.ActionStartInstallation, "tech-5", workflow.RoleTechnician, map[string]any{})
	require.Nil(t, failure)

	_, failure = e.TransitionWorkflow(ctx, id, workflow.ActionDocumentEquipment, "tech-5", workflow.RoleTechnician, map[string]any{
		"equipment_used": []workflow.EquipmentItem{{Name: "Router", Quantity: 1}},
	})
	require.Nil(t, failure)

	_, failure = e.TransitionWorkflow(ctx, id, workflow.ActionUpdateInventory, "warehouse-1", workflow.RoleWarehouse, map[string]any{
		string(workflow.StateKeyInventoryUpdates): map[string]int{"Router": 1},
	})
	require.Nil(t, failure)

	_, failure = e.TransitionWorkflow(ctx, id, workflow.ActionCloseRequest, "warehouse-1", workflow.RoleWarehouse, map[string]any{})
	require.Nil(t, failure)

	final, failure := e.CompleteWorkflow(ctx, id, CompleteInput{ActorID: "client-1", CompletionRating: 5, FeedbackComments: "great"})
	require.Nil(t, failure)

	require.Equal(t, workflow.StatusCompleted, final.CurrentStatus)
	require.Equal(t, 5, *final.CompletionRating)
	require.True(t, final.InventoryUpdated)

	history, err := s.GetRequestHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 10)

	stock, err := s.GetEquipmentStock(ctx, "Router")
	require.NoError(t, err)
	require.Equal(t, 9, stock.Quantity)
}

func TestCompleteWorkflowIsIdempotent(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	id, failure := e.InitiateWorkflow(ctx, InitiateRequest{
		WorkflowType: workflow.CallCenterDirect,
		ClientID:     "client-9",
		ActorID:      "sup-1",
		ActorRole:    workflow.RoleCallCenterSupervisor,
	})
	require.Nil(t, failure)

	first, failure := e.CompleteWorkflow(ctx, id, CompleteInput{ActorID: "client-9", CompletionRating: 4})
	require.Nil(t, failure)
	require.Equal(t, workflow.StatusCompleted, first.CurrentStatus)

	second, failure := e.CompleteWorkflow(ctx, id, CompleteInput{ActorID: "client-9", CompletionRating: 1})
	require.Nil(t, failure)
	require.Equal(t, 4, *second.CompletionRating, "completing twice is a no-op")
}

func TestTransitionWorkflowRejectsWrongActorRole(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Minute)

	id, failure := e.InitiateWorkflow(ctx, InitiateRequest{
		WorkflowType: workflow.ConnectionRequest,
		ClientID:     "client-1",
		ActorID:      "manager-1",
		ActorRole:    workflow.RoleManager,
	})
	require.Nil(t, failure)

	_, failure = e.TransitionWorkflow(ctx, id, workflow.ActionAssignToJuniorManager, "tech-1", workflow.RoleTechnician, map[string]any{
		string(workflow.StateKeyJuniorManagerID): "jm-1",
	})
	require.NotNil(t, failure)
	require.Equal(t, FailurePermissionDenied, failure.Kind)

	counts, err := s.CountErrorsSince(ctx, since)
	require.NoError(t, err)
	require.Equal(t, 1, counts["business_logic"])
}

func seedUser(t *testing.T, s *memstore.Store, id string, role workflow.Role) {
	t.Helper()
	_, err := s.CreateUser(context.Background(), workflow.User{ID: id, PhoneNormalised: "+99890" + id, FullName: id, Role: role})
	require.NoError(t, err)
}
