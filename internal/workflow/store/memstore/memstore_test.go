package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
)

func TestCreateAndGetRequest(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := workflow.Request{
		WorkflowType:  workflow.ConnectionRequest,
		ClientID:      "client-1",
		CurrentRole:   workflow.RoleManager,
		CurrentStatus: workflow.StatusCreated,
		Priority:      workflow.PriorityMedium,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	id, err := s.CreateRequest(ctx, req, workflow.Transition{Action: workflow.ActionSubmitRequest, ActorID: "client-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetRequest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, workflow.RoleManager, got.CurrentRole)

	history, err := s.GetRequestHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestUpdateRequestStateAppendsTransitionOnRoleChange(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.CreateRequest(ctx, workflow.Request{
		CurrentRole: workflow.RoleManager, CurrentStatus: workflow.StatusCreated, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}, workflow.Transition{Action: workflow.ActionSubmitRequest})
	require.NoError(t, err)

	_, err = s.UpdateRequestState(ctx, id, func(current workflow.Request) (workflow.Request, *workflow.Transition, error) {
		current.CurrentRole = workflow.RoleJuniorManager
		current.CurrentStatus = workflow.StatusInProgress
		to := workflow.RoleJuniorManager
		from := workflow.RoleManager
		return current, &workflow.Transition{FromRole: &from, ToRole: &to, Action: workflow.ActionAssignToJuniorManager}, nil
	})
	require.NoError(t, err)

	history, err := s.GetRequestHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestGetRequestsByRoleFiltersByStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateRequest(ctx, workflow.Request{CurrentRole: workflow.RoleTechnician, CurrentStatus: workflow.StatusInProgress, CreatedAt: time.Now(), UpdatedAt: time.Now()}, workflow.Transition{})
	require.NoError(t, err)
	_, err = s.CreateRequest(ctx, workflow.Request{CurrentRole: workflow.RoleTechnician, CurrentStatus: workflow.StatusCompleted, CreatedAt: time.Now(), UpdatedAt: time.Now()}, workflow.Transition{})
	require.NoError(t, err)

	inProgress, err := s.GetRequestsByRole(ctx, workflow.RoleTechnician, store.StatusFilter{Status: workflow.StatusInProgress, Set: true})
	require.NoError(t, err)
	require.Len(t, inProgress, 1)

	all, err := s.GetRequestsByRole(ctx, workflow.RoleTechnician, store.StatusFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestUserPhoneLookupAndDuplicateRejection(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateUser(ctx, workflow.User{PhoneNormalised: "+998901234567", FullName: "Client One", Role: workflow.RoleClient})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, workflow.User{PhoneNormalised: "+998901234567", FullName: "Duplicate", Role: workflow.RoleClient})
	require.Error(t, err)

	found, err := s.GetUserByPhone(ctx, "+998901234567")
	require.NoError(t, err)
	require.Equal(t, "Client One", found.FullName)
}

func TestStuckRequestDetection(t *testing.T) {
	s := New()
	ctx := context.Background()
	old := time.Now().Add(-30 * time.Hour)
	id, err := s.CreateRequest(ctx, workflow.Request{CurrentRole: workflow.RoleJuniorManager, CurrentStatus: workflow.StatusInProgress, CreatedAt: old, UpdatedAt: old}, workflow.Transition{})
	require.NoError(t, err)

	stuck, err := s.GetStuckRequests(ctx, 24*time.Hour, time.Now())
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, id, stuck[0].ID)
}

func TestNotificationRetryQueue(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.EnqueueNotificationRetry(ctx, workflow.NotificationRetryEntry{ID: "r1", RequestID: "req1", NextRetryAt: time.Now().Add(-time.Minute)}))

	due, err := s.DequeueDueNotificationRetries(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, s.DeleteNotificationRetry(ctx, "r1"))
	due, err = s.DequeueDueNotificationRetries(ctx, time.Now())
	require.NoError(t, err)
	require.Empty(t, due)
}
