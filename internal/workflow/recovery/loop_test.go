package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/registry"
	"github.com/fieldops/workflow-engine/internal/workflow/state"
	"github.com/fieldops/workflow-engine/internal/workflow/store/memstore"
)

func TestLoopTickReportsStuckRequestsAndHealth(t *testing.T) {
	s := memstore.New()
	reg := registry.New()
	mgr := state.New(s, reg)
	ctx := context.Background()

	id, err := mgr.CreateRequest(ctx, state.CreateInput{
		WorkflowType:     workflow.ConnectionRequest,
		ClientID:         "client-1",
		Description:      "install",
		InitiatingAction: workflow.ActionSubmitRequest,
		ActorID:          "client-1",
	})
	require.NoError(t, err)
	_, err = mgr.UpdateRequestState(ctx, id, state.StateChange{
		NewRole:   workflow.RoleJuniorManager,
		NewStatus: workflow.StatusInProgress,
		Action:    workflow.ActionAssignToJuniorManager,
		ActorID:   "manager-1",
	})
	require.NoError(t, err)

	detector := NewDetector(s)
	health := NewHealthReporter(s, nil, 10)
	loop := NewLoop(detector, health, nil, time.Hour)

	// tick must not panic or error when run directly, matching how
	// notify.RetryDrain's own tests exercise tick without starting the
	// ticker goroutine.
	loop.tick(ctx)
}

func TestLoopStartStopTogglesReadiness(t *testing.T) {
	s := memstore.New()
	detector := NewDetector(s)
	health := NewHealthReporter(s, nil, 10)
	loop := NewLoop(detector, health, nil, time.Hour)

	require.NoError(t, loop.Start(context.Background()))
	require.True(t, loop.IsReady())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Stop(ctx))
	require.False(t, loop.IsReady())
}
