package staffcreate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/access"
	"github.com/fieldops/workflow-engine/internal/workflow/engine"
	"github.com/fieldops/workflow-engine/internal/workflow/inventory"
	"github.com/fieldops/workflow-engine/internal/workflow/notify"
	"github.com/fieldops/workflow-engine/internal/workflow/registry"
	"github.com/fieldops/workflow-engine/internal/workflow/state"
	"github.com/fieldops/workflow-engine/internal/workflow/store/memstore"
)

func newHandler(t *testing.T) (*Handler, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	reg := registry.New()
	e := engine.New(reg, access.New(s, nil), state.New(s, reg), notify.New(s, &capturingTransport{}, nil), inventory.New(s, nil), nil)
	return New(e, NewClientResolver(s), s, nil), s
}

type capturingTransport struct{}

func (capturingTransport) Send(ctx context.Context, msg notify.Message) error { return nil }

func validForm() ApplicationForm {
	return ApplicationForm{
		ClientPhone: "901234567",
		ClientName:  "Ali Valiyev",
		Description: "Need a new connection installed in my apartment",
		Location:    "Tashkent, Chilanzar",
	}
}

// TestStaffCreationDailyQuota exercises S3: a creator at their daily cap is
// denied before any audit row is written.
func TestStaffCreationDailyQuota(t *testing.T) {
	h, s := newHandler(t)
	ctx := context.Background()

	cap := *access.CapabilityFor(workflow.RoleJuniorManager).MaxApplicationsPerDay
	for i := 0; i < cap; i++ {
		require.NoError(t, s.CreateStaffApplicationAudit(ctx, workflow.StaffApplicationAudit{
			ApplicationID:     uniqueID(i),
			CreatorID:         "jm-1",
			CreatorRole:       workflow.RoleJuniorManager,
			CreationTimestamp: time.Now().UTC(),
		}))
	}

	_, failure := h.StartApplicationCreation(ctx, workflow.RoleJuniorManager, "jm-1", workflow.ConnectionRequest)
	require.NotNil(t, failure)
	require.Equal(t, FailureDailyLimitExceeded, failure.Kind)
}

func uniqueID(i int) string {
	return "app-" + string(rune('a'+i))
}

// TestStaffCreatedTechnicalServiceAnnotatesTransitions exercises S2's
// assertion that the first transition has from_role=nil and every comment
// carries the staff-origin annotation.
func TestStaffCreatedTechnicalServiceAnnotatesTransitions(t *testing.T) {
	h, s := newHandler(t)
	ctx := context.Background()

	cc, failure := h.StartApplicationCreation(ctx, workflow.RoleCallCenter, "cc-1", workflow.TechnicalService)
	require.Nil(t, failure)

	form := validForm()
	form.IssueType = "no dial tone"
	result, failure := h.ValidateAndSubmit(ctx, form, cc)
	require.Nil(t, failure)
	require.NotEmpty(t, result.ApplicationID)

	history, err := s.GetRequestHistory(ctx, result.ApplicationID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	require.Nil(t, history[0].FromRole)
	for _, tr := range history {
		require.Contains(t, tr.Comments, "Staff-created request by call_center")
	}

	req, err := s.GetRequest(ctx, result.ApplicationID)
	require.NoError(t, err)
	require.True(t, req.CreatedByStaff)
	require.Equal(t, workflow.RoleCallCenter, req.StaffCreatorRole)
}

func TestProcessApplicationFormRejectsShortDescription(t *testing.T) {
	h, _ := newHandler(t)
	form := validForm()
	form.Description = "too short"
	failure := h.ProcessApplicationForm(form, CreatorContext{ApplicationType: workflow.ConnectionRequest})
	require.NotNil(t, failure)
	require.Equal(t, FailureClientValidationErr, failure.Kind)
}

func TestProcessApplicationFormRequiresIssueTypeForTechnical(t *testing.T) {
	h, _ := newHandler(t)
	form := validForm()
	failure := h.ProcessApplicationForm(form, CreatorContext{ApplicationType: workflow.TechnicalService})
	require.NotNil(t, failure)
	require.Equal(t, FailureClientValidationErr, failure.Kind)
}
