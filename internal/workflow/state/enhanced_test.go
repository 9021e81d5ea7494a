package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/pkg/wferrors"
)

func TestEnhancedManagerCommitsStagedOperationsInOrder(t *testing.T) {
	m, _ := newManager(t)
	e := NewEnhanced(m, nil)

	id, err := m.CreateRequest(context.Background(), CreateInput{
		WorkflowType:     workflow.ConnectionRequest,
		ClientID:         "client-1",
		InitiatingAction: workflow.ActionAssignToJuniorManager,
		ActorID:          "manager-1",
	})
	require.NoError(t, err)

	txn := e.BeginTransaction()
	require.NoError(t, e.AddOperation(txn, func(ctx context.Context, mgr *Manager) error {
		_, err := mgr.UpdateRequestState(ctx, id, StateChange{
			Payload: workflow.StateData{string(workflow.StateKeyJuniorManagerID): "jm-1"},
			NewRole: workflow.RoleJuniorManager,
			Action:  workflow.ActionAssignToJuniorManager,
			ActorID: "manager-1",
		})
		return err
	}))
	require.NoError(t, e.AddOperation(txn, func(ctx context.Context, mgr *Manager) error {
		_, err := mgr.UpdateRequestState(ctx, id, StateChange{
			Payload: workflow.StateData{string(workflow.StateKeyCallNotes): "confirmed"},
			Action:  workflow.ActionCallClient,
			ActorID: "jm-1",
		})
		return err
	}))

	require.NoError(t, e.CommitTransaction(context.Background(), txn))

	req, err := m.GetRequest(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, workflow.RoleJuniorManager, req.CurrentRole)
	require.Equal(t, "confirmed", req.StateData.GetString(workflow.StateKeyCallNotes))
}

func TestEnhancedManagerRetriesTransientFailures(t *testing.T) {
	m, _ := newManager(t)
	e := NewEnhanced(m, nil)

	txn := e.BeginTransaction()
	attempts := 0
	require.NoError(t, e.AddOperation(txn, func(ctx context.Context, mgr *Manager) error {
		attempts++
		if attempts < 3 {
			return wferrors.Transient("simulated store hiccup", nil)
		}
		return nil
	}))

	require.NoError(t, e.CommitTransaction(context.Background(), txn))
	require.Equal(t, 3, attempts)
}

func TestEnhancedManagerDoesNotRetryNonTransientFailures(t *testing.T) {
	m, _ := newManager(t)
	e := NewEnhanced(m, nil)

	txn := e.BeginTransaction()
	attempts := 0
	require.NoError(t, e.AddOperation(txn, func(ctx context.Context, mgr *Manager) error {
		attempts++
		return wferrors.BusinessLogic("not allowed")
	}))

	err := e.CommitTransaction(context.Background(), txn)
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestEnhancedManagerRollbackDiscardsStagedOperations(t *testing.T) {
	m, _ := newManager(t)
	e := NewEnhanced(m, nil)

	txn := e.BeginTransaction()
	ran := false
	require.NoError(t, e.AddOperation(txn, func(ctx context.Context, mgr *Manager) error {
		ran = true
		return nil
	}))
	e.RollbackTransaction(txn)

	err := e.CommitTransaction(context.Background(), txn)
	require.Error(t, err, "committing a rolled-back handle must fail")
	require.False(t, ran)
}

func TestEnhancedManagerExhaustsRetriesAndFails(t *testing.T) {
	m, _ := newManager(t)
	e := NewEnhanced(m, nil)

	txn := e.BeginTransaction()
	attempts := 0
	require.NoError(t, e.AddOperation(txn, func(ctx context.Context, mgr *Manager) error {
		attempts++
		return wferrors.Transient("persistently unavailable", nil)
	}))

	err := e.CommitTransaction(context.Background(), txn)
	require.Error(t, err)
	require.Equal(t, enhancedMaxRetries, attempts)
}
