package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/workflow-engine/internal/workflow"
)

func TestInitialRolePerWorkflowType(t *testing.T) {
	r := New()

	role, err := r.InitialRole(workflow.ConnectionRequest)
	require.NoError(t, err)
	require.Equal(t, workflow.RoleManager, role)

	role, err = r.InitialRole(workflow.TechnicalService)
	require.NoError(t, err)
	require.Equal(t, workflow.RoleController, role)

	role, err = r.InitialRole(workflow.CallCenterDirect)
	require.NoError(t, err)
	require.Equal(t, workflow.RoleCallCenterSupervisor, role)
}

func TestInitialRoleUnknownWorkflow(t *testing.T) {
	r := New()
	_, err := r.InitialRole(workflow.WorkflowType("bogus"))
	require.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestSuccessorConnectionRequestHappyPath(t *testing.T) {
	r := New()

	tests := []struct {
		from   workflow.Role
		action workflow.Action
		want   workflow.Role
		term   bool
	}{
		{workflow.RoleManager, workflow.ActionAssignToJuniorManager, workflow.RoleJuniorManager, false},
		{workflow.RoleJuniorManager, workflow.ActionCallClient, workflow.RoleJuniorManager, false},
		{workflow.RoleJuniorManager, workflow.ActionForwardToController, workflow.RoleController, false},
		{workflow.RoleController, workflow.ActionAssignToTechnician, workflow.RoleTechnician, false},
		{workflow.RoleTechnician, workflow.ActionStartInstallation, workflow.RoleTechnician, false},
		{workflow.RoleTechnician, workflow.ActionDocumentEquipment, workflow.RoleWarehouse, false},
		{workflow.RoleWarehouse, workflow.ActionUpdateInventory, workflow.RoleWarehouse, false},
		{workflow.RoleWarehouse, workflow.ActionCloseRequest, workflow.RoleClient, false},
		{workflow.RoleClient, workflow.ActionRateService, workflow.RoleClient, true},
	}

	for _, tc := range tests {
		next, terminal, err := r.Successor(workflow.ConnectionRequest, tc.from, tc.action)
		require.NoErrorf(t, err, "action %s from %s", tc.action, tc.from)
		require.Equal(t, tc.want, next)
		require.Equal(t, tc.term, terminal)
	}
}

func TestSuccessorTechnicalServiceWarehouseBranch(t *testing.T) {
	r := New()

	next, _, err := r.Successor(workflow.TechnicalService, workflow.RoleTechnician, workflow.ActionDecideWarehouseInvolved)
	require.NoError(t, err)
	require.Equal(t, workflow.RoleTechnician, next, "decide_warehouse_involvement is intermediate regardless of decision value")

	next, _, err = r.Successor(workflow.TechnicalService, workflow.RoleTechnician, workflow.ActionRequestWarehouseSupport)
	require.NoError(t, err)
	require.Equal(t, workflow.RoleWarehouse, next)

	next, _, err = r.Successor(workflow.TechnicalService, workflow.RoleWarehouse, workflow.ActionConfirmEquipmentReady)
	require.NoError(t, err)
	require.Equal(t, workflow.RoleTechnician, next)

	next, _, err = r.Successor(workflow.TechnicalService, workflow.RoleTechnician, workflow.ActionCompleteTechnicalService)
	require.NoError(t, err)
	require.Equal(t, workflow.RoleClient, next)
}

func TestSuccessorUnknownActionForRole(t *testing.T) {
	r := New()
	_, _, err := r.Successor(workflow.ConnectionRequest, workflow.RoleTechnician, workflow.ActionAssignToTechnician)
	require.True(t, errors.Is(err, ErrActionNotAllowed))
}

func TestValidatePayloadMissingField(t *testing.T) {
	r := New()
	err := r.ValidatePayload(workflow.ConnectionRequest, workflow.RoleManager, workflow.ActionAssignToJuniorManager, map[string]any{})
	var missing ErrMissingField
	require.ErrorAs(t, err, &missing)
	require.Equal(t, workflow.StateKeyJuniorManagerID, missing.Field)
}

func TestValidatePayloadPresent(t *testing.T) {
	r := New()
	err := r.ValidatePayload(workflow.ConnectionRequest, workflow.RoleManager, workflow.ActionAssignToJuniorManager, map[string]any{
		string(workflow.StateKeyJuniorManagerID): "user-2",
	})
	require.NoError(t, err)
}

func TestCallCenterDirectFlow(t *testing.T) {
	r := New()
	next, _, err := r.Successor(workflow.CallCenterDirect, workflow.RoleCallCenterSupervisor, workflow.ActionAssignToCallCenterOperator)
	require.NoError(t, err)
	require.Equal(t, workflow.RoleCallCenter, next)

	next, _, err = r.Successor(workflow.CallCenterDirect, workflow.RoleCallCenter, workflow.ActionResolveRemotely)
	require.NoError(t, err)
	require.Equal(t, workflow.RoleClient, next)
}
