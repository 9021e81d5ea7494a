package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func sampleRequest() workflow.Request {
	now := time.Now().UTC()
	return workflow.Request{
		ID:            "req-1",
		WorkflowType:  workflow.ConnectionRequest,
		ClientID:      "client-1",
		CurrentRole:   workflow.RoleManager,
		CurrentStatus: workflow.StatusCreated,
		Priority:      workflow.PriorityMedium,
		Description:   "new connection",
		Location:      "site-a",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func requestRow(req workflow.Request) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "workflow_type", "client_id", "current_role", "current_status", "priority",
		"description", "location", "contact_info", "state_data", "equipment_used",
		"inventory_updated", "completion_rating", "feedback_comments", "created_by_staff",
		"staff_creator_id", "staff_creator_role", "creation_source", "client_notified_at",
		"created_at", "updated_at",
	}).AddRow(
		req.ID, req.WorkflowType, req.ClientID, req.CurrentRole, req.CurrentStatus, req.Priority,
		req.Description, req.Location, "{}", "{}", "[]",
		req.InventoryUpdated, nil, "", req.CreatedByStaff,
		nil, nil, "", nil,
		req.CreatedAt, req.UpdatedAt,
	)
}

func TestCreateRequestInsertsRowAndInitiationTransition(t *testing.T) {
	s, mock := newMockStore(t)
	req := sampleRequest()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO state_transitions")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	id, err := s.CreateRequest(context.Background(), req, workflow.Transition{
		Action:  workflow.ActionSubmitRequest,
		ActorID: "client-1",
	})
	require.NoError(t, err)
	require.Equal(t, "req-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRequestRollsBackOnTransitionFailure(t *testing.T) {
	s, mock := newMockStore(t)
	req := sampleRequest()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO state_transitions")).WillReturnError(errBoom)
	mock.ExpectRollback()

	_, err := s.CreateRequest(context.Background(), req, workflow.Transition{Action: workflow.ActionSubmitRequest})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRequestUnmarshalsRow(t *testing.T) {
	s, mock := newMockStore(t)
	req := sampleRequest()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + requestColumns + " FROM requests WHERE id = $1")).
		WithArgs(req.ID).
		WillReturnRows(requestRow(req))

	got, err := s.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, req.ID, got.ID)
	require.Equal(t, workflow.RoleManager, got.CurrentRole)
	require.Equal(t, workflow.StatusCreated, got.CurrentStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRequestStateAppliesMutationInTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	req := sampleRequest()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + requestColumns + " FROM requests WHERE id = $1 FOR UPDATE")).
		WithArgs(req.ID).
		WillReturnRows(requestRow(req))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO state_transitions")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	updated, err := s.UpdateRequestState(context.Background(), req.ID, func(current workflow.Request) (workflow.Request, *workflow.Transition, error) {
		current.CurrentRole = workflow.RoleController
		current.CurrentStatus = workflow.StatusInProgress
		return current, &workflow.Transition{
			FromRole: &req.CurrentRole,
			ToRole:   requestRoleRef(workflow.RoleController),
			Action:   workflow.ActionForwardToController,
			ActorID:  "manager-1",
		}, nil
	})
	require.NoError(t, err)
	require.Equal(t, workflow.RoleController, updated.CurrentRole)
	require.Equal(t, workflow.StatusInProgress, updated.CurrentStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func requestRoleRef(r workflow.Role) *workflow.Role { return &r }

func TestGetRequestHistoryOrdersByCreatedAt(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "request_id", "from_role", "to_role", "action", "actor_id", "transition_data", "comments", "created_at"}).
		AddRow(1, "req-1", nil, "manager", "submit_request", "client-1", "{}", "", time.Now().UTC()).
		AddRow(2, "req-1", "manager", "controller", "forward_to_controller", "manager-1", "{}", "", time.Now().UTC())

	mock.ExpectQuery(regexp.QuoteMeta("FROM state_transitions WHERE request_id = $1 ORDER BY created_at ASC, id ASC")).
		WithArgs("req-1").
		WillReturnRows(rows)

	history, err := s.GetRequestHistory(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, workflow.ActionForwardToController, history[1].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStuckRequestsFiltersByStatusAndCutoff(t *testing.T) {
	s, mock := newMockStore(t)
	req := sampleRequest()
	req.CurrentStatus = workflow.StatusInProgress

	mock.ExpectQuery(regexp.QuoteMeta("WHERE current_status = $1 AND updated_at < $2")).
		WillReturnRows(requestRow(req))

	out, err := s.GetStuckRequests(context.Background(), 24*time.Hour, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRetryEnqueueAndList(t *testing.T) {
	s, mock := newMockStore(t)
	entry := workflow.NotificationRetryEntry{
		ID:                    "retry-1",
		RequestID:             "req-1",
		IntendedRecipientRole: workflow.RoleClient,
		RetryCount:            1,
		NextRetryAt:           time.Now().UTC(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_retry")).WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.EnqueueNotificationRetry(context.Background(), entry))

	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_retry ORDER BY next_retry_at ASC")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "intended_recipient_role", "retry_count", "next_retry_at", "last_error", "manual_review"}).
			AddRow(entry.ID, entry.RequestID, entry.IntendedRecipientRole, entry.RetryCount, entry.NextRetryAt, "", false))

	entries, err := s.ListNotificationRetries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "retry-1", entries[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustEquipmentStockUpsertsAndReads(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO equipment_stock")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, quantity FROM equipment_stock WHERE name = $1")).
		WithArgs("router").
		WillReturnRows(sqlmock.NewRows([]string{"name", "quantity"}).AddRow("router", 5))
	mock.ExpectCommit()

	stock, err := s.AdjustEquipmentStock(context.Background(), "router", -1)
	require.NoError(t, err)
	require.Equal(t, "router", stock.Name)
	require.Equal(t, 5, stock.Quantity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountErrorsBySeveritySince(t *testing.T) {
	s, mock := newMockStore(t)
	since := time.Now().UTC().Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM error_records WHERE created_at >= $1 AND severity = $2")).
		WithArgs(since, "critical").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := s.CountErrorsBySeveritySince(context.Background(), since, "critical")
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

var errBoom = errTransitionInsertFailed{}

type errTransitionInsertFailed struct{}

func (errTransitionInsertFailed) Error() string { return "transition insert failed" }

var _ store.Store = (*Store)(nil)
