package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/store/memstore"
)

func newChecker(t *testing.T) (*Checker, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	return New(s, nil), s
}

func TestCheckTransitionRejectsWrongRole(t *testing.T) {
	c, _ := newChecker(t)
	req := workflow.Request{CurrentRole: workflow.RoleController, ClientID: "client-1"}

	ok, reason := c.CheckTransition(context.Background(), req, "u1", workflow.RoleTechnician, workflow.ActionAssignToTechnician, nil)
	require.False(t, ok)
	require.Equal(t, "actor role does not match current_role", reason)
}

func TestCheckTransitionAllowsMatchingRole(t *testing.T) {
	c, _ := newChecker(t)
	req := workflow.Request{CurrentRole: workflow.RoleController, ClientID: "client-1"}

	ok, _ := c.CheckTransition(context.Background(), req, "u1", workflow.RoleController, workflow.ActionAssignToTechnician, map[string]any{})
	require.True(t, ok)
}

func TestCheckTransitionRateServiceRestrictedToBoundClient(t *testing.T) {
	c, _ := newChecker(t)
	req := workflow.Request{CurrentRole: workflow.RoleClient, ClientID: "client-1"}

	ok, reason := c.CheckTransition(context.Background(), req, "client-2", workflow.RoleClient, workflow.ActionRateService, nil)
	require.False(t, ok)
	require.Contains(t, reason, "rate_service")

	ok, _ = c.CheckTransition(context.Background(), req, "client-1", workflow.RoleClient, workflow.ActionRateService, nil)
	require.True(t, ok)
}

func TestCheckTransitionDynamicFieldRejectsWrongHolder(t *testing.T) {
	c, s := newChecker(t)
	_, err := s.CreateUser(context.Background(), workflow.User{ID: "tech-1", PhoneNormalised: "+998901111111", FullName: "Tech", Role: workflow.RoleWarehouse})
	require.NoError(t, err)

	req := workflow.Request{CurrentRole: workflow.RoleController}
	ok, reason := c.CheckTransition(context.Background(), req, "u1", workflow.RoleController, workflow.ActionAssignToTechnician, map[string]any{
		string(workflow.StateKeyTechnicianID): "tech-1",
	})
	require.False(t, ok)
	require.Contains(t, reason, "does not hold role")
}

func TestCheckTransitionDynamicFieldAcceptsCorrectHolder(t *testing.T) {
	c, s := newChecker(t)
	_, err := s.CreateUser(context.Background(), workflow.User{ID: "tech-1", PhoneNormalised: "+998901111111", FullName: "Tech", Role: workflow.RoleTechnician})
	require.NoError(t, err)

	req := workflow.Request{CurrentRole: workflow.RoleController}
	ok, _ := c.CheckTransition(context.Background(), req, "u1", workflow.RoleController, workflow.ActionAssignToTechnician, map[string]any{
		string(workflow.StateKeyTechnicianID): "tech-1",
	})
	require.True(t, ok)
}

func TestCheckCreatePermissions(t *testing.T) {
	c, _ := newChecker(t)

	ok, _ := c.CheckCreate(context.Background(), workflow.RoleJuniorManager, workflow.TechnicalService)
	require.False(t, ok, "junior managers may create only connection requests")

	ok, _ = c.CheckCreate(context.Background(), workflow.RoleJuniorManager, workflow.ConnectionRequest)
	require.True(t, ok)

	ok, _ = c.CheckCreate(context.Background(), workflow.RoleManager, workflow.TechnicalService)
	require.True(t, ok)
}

func TestCheckTransitionDeniedWritesErrorRecord(t *testing.T) {
	c, s := newChecker(t)
	req := workflow.Request{CurrentRole: workflow.RoleController}
	_, _ = c.CheckTransition(context.Background(), req, "u1", workflow.RoleTechnician, workflow.ActionAssignToTechnician, nil)

	counts, err := s.CountErrorsSince(context.Background(), req.CreatedAt)
	require.NoError(t, err)
	require.Equal(t, 1, counts["business_logic"])
}
