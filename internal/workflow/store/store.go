// Package store defines the persistence contract for the workflow engine.
// The engine, state manager, notification system, and recovery subsystem
// depend only on this interface; postgres and memstore provide concrete
// implementations.
package store

import (
	"context"
	"time"

	"github.com/fieldops/workflow-engine/internal/workflow"
)

// StatusFilter optionally narrows a role query to a single status.
type StatusFilter struct {
	Status workflow.Status
	Set    bool
}

// Store is the sole persistence boundary for the engine. All mutation goes
// through UpdateRequestState or CreateRequest; every other component reads
// snapshots.
type Store interface {
	// CreateRequest inserts the Request row and its initiation Transition
	// row in a single transaction, returning the generated request id.
	CreateRequest(ctx context.Context, req workflow.Request, initTransition workflow.Transition) (string, error)

	// UpdateRequestState re-reads the current Request, applies mutate, and
	// — if it returns a non-nil transition — appends that Transition row
	// alongside the Request update in the same transaction. mutate receives
	// the current snapshot and returns the new Request plus the transition
	// row to append (nil for none).
	UpdateRequestState(ctx context.Context, requestID string, mutate func(current workflow.Request) (updated workflow.Request, transition *workflow.Transition, err error)) (workflow.Request, error)

	GetRequest(ctx context.Context, requestID string) (workflow.Request, error)
	GetRequestHistory(ctx context.Context, requestID string) ([]workflow.Transition, error)
	GetRequestsByRole(ctx context.Context, role workflow.Role, status StatusFilter) ([]workflow.Request, error)
	GetRequestsByClient(ctx context.Context, clientID string) ([]workflow.Request, error)
	GetRequestsByStatus(ctx context.Context, status workflow.Status) ([]workflow.Request, error)
	GetStuckRequests(ctx context.Context, threshold time.Duration, now time.Time) ([]workflow.Request, error)

	// RecordStateTransition appends a free-form audit row outside of a
	// state change (used by the recovery subsystem's annotations).
	RecordStateTransition(ctx context.Context, t workflow.Transition) error

	// Users
	GetUser(ctx context.Context, userID string) (workflow.User, error)
	GetUserByPhone(ctx context.Context, phoneNormalised string) (workflow.User, error)
	FindUsersByName(ctx context.Context, query string, limit int) ([]workflow.User, error)
	CreateUser(ctx context.Context, u workflow.User) (workflow.User, error)
	UserHasRole(ctx context.Context, userID string, role workflow.Role) (bool, error)

	// Staff application audit
	CreateStaffApplicationAudit(ctx context.Context, a workflow.StaffApplicationAudit) error
	CountStaffApplicationsToday(ctx context.Context, creatorID string, now time.Time) (int, error)
	MarkStaffApplicationClientNotified(ctx context.Context, applicationID string) error

	// Notification retry queue
	EnqueueNotificationRetry(ctx context.Context, e workflow.NotificationRetryEntry) error
	DequeueDueNotificationRetries(ctx context.Context, now time.Time) ([]workflow.NotificationRetryEntry, error)
	UpdateNotificationRetry(ctx context.Context, e workflow.NotificationRetryEntry) error
	DeleteNotificationRetry(ctx context.Context, id string) error
	CountPendingNotificationRetries(ctx context.Context) (int, error)
	// ListNotificationRetries returns every retry entry, for the admin
	// show_retries view — unlike DequeueDueNotificationRetries it does not
	// filter by due time or manual-review state.
	ListNotificationRetries(ctx context.Context) ([]workflow.NotificationRetryEntry, error)

	// Inventory
	GetEquipmentStock(ctx context.Context, name string) (workflow.EquipmentStock, error)
	AdjustEquipmentStock(ctx context.Context, name string, delta int) (workflow.EquipmentStock, error)
	RecordEquipmentMovement(ctx context.Context, m workflow.EquipmentMovement) error
	GetRequestsPendingInventory(ctx context.Context) ([]workflow.Request, error)

	// Error records
	RecordError(ctx context.Context, category, severity, reason string, context map[string]any, createdAt time.Time) error
	CountErrorsSince(ctx context.Context, since time.Time) (map[string]int, error)
	CountErrorsBySeveritySince(ctx context.Context, since time.Time, severity string) (int, error)
}
