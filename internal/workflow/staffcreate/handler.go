// Package staffcreate wraps the Workflow Engine for the staff-on-behalf-of-
// client use case: permission and daily-quota checks, client resolution,
// form validation, and the denormalised staff-application audit trail.
package staffcreate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/access"
	"github.com/fieldops/workflow-engine/internal/workflow/engine"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
	"github.com/fieldops/workflow-engine/pkg/logger"
)

// FailureKind discriminates why a staff-creation call failed.
type FailureKind string

const (
	FailureNone                 FailureKind = ""
	FailurePermissionDenied     FailureKind = "permission_denied"
	FailureDailyLimitExceeded   FailureKind = "daily_limit_exceeded"
	FailureClientValidationErr  FailureKind = "client_validation_error"
	FailureSubmissionError      FailureKind = "submission_error"
)

// Failure is the discriminated result type, extending the engine's taxonomy
// with the variants specific to staff-initiated creation.
type Failure struct {
	Kind   FailureKind
	Reason string
}

func (f *Failure) Error() string { return fmt.Sprintf("%s: %s", f.Kind, f.Reason) }

func fail(kind FailureKind, reason string) *Failure { return &Failure{Kind: kind, Reason: reason} }

// fromEngineFailure lifts an *engine.Failure into a staff-creation Failure,
// mapping permission_denied straight through and everything else to the
// generic submission_error variant.
func fromEngineFailure(f *engine.Failure) *Failure {
	if f == nil {
		return nil
	}
	if f.Kind == engine.FailurePermissionDenied {
		return fail(FailurePermissionDenied, f.Reason)
	}
	return fail(FailureSubmissionError, f.Reason)
}

// CreatorContext is the session-scoped bundle carrying staff identity and
// permissions across the three-call staff-creation flow.
type CreatorContext struct {
	SessionID       string
	CreatorID       string
	CreatorRole     workflow.Role
	ApplicationType workflow.WorkflowType
	Capability      access.Capability
}

// Handler wraps the Workflow Engine for staff-created applications.
type Handler struct {
	engine   *engine.Engine
	resolver *ClientResolver
	store    store.Store
	log      *logger.Logger
}

// New constructs a Handler over its collaborators.
func New(e *engine.Engine, resolver *ClientResolver, s store.Store, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("staff-creation")
	}
	return &Handler{engine: e, resolver: resolver, store: s, log: log}
}

// StartApplicationCreation checks the creator's capability and daily quota,
// then opens a creator context for the rest of the flow.
func (h *Handler) StartApplicationCreation(ctx context.Context, creatorRole workflow.Role, creatorID string, applicationType workflow.WorkflowType) (CreatorContext, *Failure) {
	cap := access.CapabilityFor(creatorRole)
	if !cap.CanCreate(applicationType) {
		return CreatorContext{}, fail(FailurePermissionDenied, fmt.Sprintf("role %s may not create workflow type %s on behalf of a client", creatorRole, applicationType))
	}

	if cap.MaxApplicationsPerDay != nil {
		count, err := h.store.CountStaffApplicationsToday(ctx, creatorID, time.Now().UTC())
		if err != nil {
			return CreatorContext{}, fail(FailureSubmissionError, err.Error())
		}
		if count >= *cap.MaxApplicationsPerDay {
			return CreatorContext{}, fail(FailureDailyLimitExceeded, "daily_limit_exceeded")
		}
	}

	return CreatorContext{
		SessionID:       uuid.NewString(),
		CreatorID:       creatorID,
		CreatorRole:     creatorRole,
		ApplicationType: applicationType,
		Capability:      cap,
	}, nil
}

// ApplicationForm is the staff-entered client and request payload validated
// by ProcessApplicationForm before ValidateAndSubmit acts on it.
type ApplicationForm struct {
	ClientPhone   string
	ClientName    string
	ClientAddress string
	ClientLanguage string
	Description   string
	Location      string
	IssueType     string // required only for workflow.TechnicalService
	Priority      workflow.Priority
}

// ProcessApplicationForm validates the client and application fields,
// returning a data failure describing the first violation found.
func (h *Handler) ProcessApplicationForm(form ApplicationForm, cc CreatorContext) *Failure {
	if _, err := NormalisePhone(form.ClientPhone); err != nil {
		return fail(FailureClientValidationErr, err.Error())
	}
	if err := ValidateFullName(form.ClientName); err != nil {
		return fail(FailureClientValidationErr, err.Error())
	}
	if err := ValidateAddress(form.ClientAddress); err != nil {
		return fail(FailureClientValidationErr, err.Error())
	}
	if err := ValidateLanguage(form.ClientLanguage); err != nil {
		return fail(FailureClientValidationErr, err.Error())
	}
	if err := ValidateDescription(form.Description); err != nil {
		return fail(FailureClientValidationErr, err.Error())
	}
	if err := ValidateLocation(form.Location); err != nil {
		return fail(FailureClientValidationErr, err.Error())
	}
	if cc.ApplicationType == workflow.TechnicalService {
		if err := ValidateIssueType(form.IssueType); err != nil {
			return fail(FailureClientValidationErr, err.Error())
		}
	}
	return nil
}

// SubmitResult is returned by ValidateAndSubmit on success.
type SubmitResult struct {
	ApplicationID      string
	WorkflowType       workflow.WorkflowType
	ClientID           string
	NotificationSent   bool
	CreatedAt          time.Time
}

// ValidateAndSubmit resolves the client, initiates the workflow with
// staff-creation metadata attached, and records the staff-application audit
// row. The audit row's client_notified field reflects the actual result of
// the engine's client-origin notification attempt, not a fire-and-forget
// assumption.
func (h *Handler) ValidateAndSubmit(ctx context.Context, form ApplicationForm, cc CreatorContext) (SubmitResult, *Failure) {
	if f := h.ProcessApplicationForm(form, cc); f != nil {
		return SubmitResult{}, f
	}

	client, failure := h.resolveOrCreateClient(ctx, form)
	if failure != nil {
		return SubmitResult{}, failure
	}

	id, engineFailure := h.engine.InitiateWorkflow(ctx, engine.InitiateRequest{
		WorkflowType:     cc.ApplicationType,
		ClientID:         client.ID,
		ActorID:          cc.CreatorID,
		ActorRole:        cc.CreatorRole,
		Priority:         orMediumPriority(form.Priority),
		Description:      form.Description,
		Location:         form.Location,
		ContactInfo:      workflow.ContactInfo{Name: client.FullName, Phone: client.PhoneNormalised, Address: client.Address},
		CreatedByStaff:   true,
		StaffCreatorID:   cc.CreatorID,
		StaffCreatorRole: cc.CreatorRole,
		CreationSource:   string(cc.CreatorRole),
	})
	if engineFailure != nil {
		return SubmitResult{}, fromEngineFailure(engineFailure)
	}

	req, err := h.engine.State.GetRequest(ctx, id)
	if err != nil {
		return SubmitResult{}, fail(FailureSubmissionError, err.Error())
	}
	notified := req.ClientNotifiedAt != nil

	audit := workflow.StaffApplicationAudit{
		ApplicationID:     id,
		CreatorID:         cc.CreatorID,
		CreatorRole:       cc.CreatorRole,
		ClientID:          client.ID,
		ApplicationType:   cc.ApplicationType,
		CreationTimestamp: req.CreatedAt,
		ClientNotified:    notified,
		WorkflowInitiated: true,
		Metadata: map[string]any{
			"session_id":         cc.SessionID,
			"permission_snapshot": cc.Capability,
			"application_data":   form,
		},
	}
	if err := h.store.CreateStaffApplicationAudit(ctx, audit); err != nil {
		h.log.WithError(err).Warn("failed to write staff application audit row")
		return SubmitResult{}, fail(FailureSubmissionError, err.Error())
	}

	return SubmitResult{
		ApplicationID:    id,
		WorkflowType:     cc.ApplicationType,
		ClientID:         client.ID,
		NotificationSent: notified,
		CreatedAt:        req.CreatedAt,
	}, nil
}

func (h *Handler) resolveOrCreateClient(ctx context.Context, form ApplicationForm) (workflow.User, *Failure) {
	res, err := h.resolver.ByPhone(ctx, form.ClientPhone)
	if err == nil && res.Found == 1 {
		return res.List[0], nil
	}

	if form.ClientName != "" {
		res, err = h.resolver.ByName(ctx, form.ClientName)
		if err == nil && res.Found == 1 {
			return res.List[0], nil
		}
	}

	client, err := h.resolver.CreateNewClient(ctx, form.ClientName, form.ClientPhone, form.ClientAddress, form.ClientLanguage)
	if err != nil {
		return workflow.User{}, fail(FailureClientValidationErr, err.Error())
	}
	return client, nil
}

func orMediumPriority(p workflow.Priority) workflow.Priority {
	if p == "" {
		return workflow.PriorityMedium
	}
	return p
}
