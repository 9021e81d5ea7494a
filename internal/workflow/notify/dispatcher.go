// Package notify renders notification intents for workflow events and
// hands them to an external Transport, queueing failed deliveries for
// retry. Delivery itself is out-of-core: Transport is the seam a caller
// wires to SMS, push, or email infrastructure.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
	"github.com/fieldops/workflow-engine/pkg/logger"
)

// Intent is the kind of notification being dispatched.
type Intent string

const (
	IntentAssignment            Intent = "assignment"
	IntentClientOnStaffCreation Intent = "client_on_staff_creation"
	IntentStaffConfirmation     Intent = "staff_confirmation"
	IntentCompletion            Intent = "completion"
)

// Message is the rendered payload handed to Transport.
type Message struct {
	Intent      Intent
	RequestID   string
	Recipients  []string
	RecipientRole workflow.Role
	Body        string
}

// Transport delivers a rendered Message. Any error is treated as a
// delivery failure and queues a retry entry.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher renders and dispatches the four notification intents.
type Dispatcher struct {
	store     store.Store
	transport Transport
	log       *logger.Logger
}

// New constructs a Dispatcher. A nil transport is valid: every send is
// treated as a delivery failure and queued for retry, which is useful
// when the actual channel has not been wired yet.
func New(s store.Store, t Transport, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &Dispatcher{store: s, transport: t, log: log}
}

// Assignment notifies every user holding role that req now awaits them.
// It reports whether delivery succeeded on this attempt.
func (d *Dispatcher) Assignment(ctx context.Context, req workflow.Request, role workflow.Role) bool {
	body := fmt.Sprintf("Request %s (%s priority) assigned to %s: %s", req.ID, req.Priority, role, truncate(req.Description, 140))
	return d.dispatch(ctx, Message{Intent: IntentAssignment, RequestID: req.ID, RecipientRole: role, Body: body})
}

// ClientOnStaffCreation notifies the client that a request was opened on
// their behalf. It reports whether delivery succeeded on this attempt.
func (d *Dispatcher) ClientOnStaffCreation(ctx context.Context, req workflow.Request) bool {
	body := fmt.Sprintf("A %s request was opened for you by %s", req.WorkflowType, req.StaffCreatorRole)
	return d.dispatch(ctx, Message{Intent: IntentClientOnStaffCreation, RequestID: req.ID, RecipientRole: workflow.RoleClient, Recipients: []string{req.ClientID}, Body: body})
}

// StaffConfirmation notifies the staff creator that initiation succeeded.
// It reports whether delivery succeeded on this attempt.
func (d *Dispatcher) StaffConfirmation(ctx context.Context, req workflow.Request) bool {
	body := fmt.Sprintf("Request %s created successfully for client %s", req.ID, req.ClientID)
	return d.dispatch(ctx, Message{Intent: IntentStaffConfirmation, RequestID: req.ID, Recipients: []string{req.StaffCreatorID}, Body: body})
}

// Completion notifies the client that the workflow has finished. It reports
// whether delivery succeeded on this attempt.
func (d *Dispatcher) Completion(ctx context.Context, req workflow.Request) bool {
	body := fmt.Sprintf("Your request %s has been completed", req.ID)
	return d.dispatch(ctx, Message{Intent: IntentCompletion, RequestID: req.ID, RecipientRole: workflow.RoleClient, Recipients: []string{req.ClientID}, Body: body})
}

func (d *Dispatcher) dispatch(ctx context.Context, msg Message) bool {
	if d.transport == nil {
		d.enqueueRetry(ctx, msg, fmt.Errorf("no transport configured"))
		return false
	}
	if err := d.transport.Send(ctx, msg); err != nil {
		d.log.WithField("intent", msg.Intent).WithError(err).Warn("notification delivery failed, queueing retry")
		d.enqueueRetry(ctx, msg, err)
		return false
	}
	return true
}

func (d *Dispatcher) enqueueRetry(ctx context.Context, msg Message, deliveryErr error) {
	entry := workflow.NotificationRetryEntry{
		RequestID:             msg.RequestID,
		IntendedRecipientRole: msg.RecipientRole,
		RetryCount:            0,
		NextRetryAt:           time.Now().UTC().Add(retryBase),
		LastError:             deliveryErr.Error(),
	}
	if err := d.store.EnqueueNotificationRetry(ctx, entry); err != nil {
		d.log.WithError(err).Warn("failed to enqueue notification retry")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
