// Package access resolves whether an actor may perform an action, joining
// the static role-capability table with per-request ownership rules and
// dynamic "does this user actually hold that role" lookups.
package access

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
	"github.com/fieldops/workflow-engine/pkg/logger"
	"github.com/fieldops/workflow-engine/pkg/wferrors"
)

// dynamicFields names the payload keys that designate another actor who
// must actually hold the named role before the action is permitted.
var dynamicFields = map[workflow.StateKey]workflow.Role{
	workflow.StateKeyJuniorManagerID: workflow.RoleJuniorManager,
	workflow.StateKeyTechnicianID:    workflow.RoleTechnician,
	workflow.StateKeyOperatorID:      workflow.RoleCallCenter,
}

// Checker composes static and dynamic access checks for transitions and
// initiations, logging every denial to the error-record store.
type Checker struct {
	store store.Store
	log   *logger.Logger
}

// New constructs a Checker backed by s, logging denials through log.
func New(s store.Store, log *logger.Logger) *Checker {
	if log == nil {
		log = logger.NewDefault("access-control")
	}
	return &Checker{store: s, log: log}
}

// CheckTransition validates that actorRole may apply action to req, and that
// any actor named in payload actually holds the role that action requires.
// rate_service is the one action permitted only to the client bound to the
// request rather than to "whoever holds current_role".
func (c *Checker) CheckTransition(ctx context.Context, req workflow.Request, actorID string, actorRole workflow.Role, action workflow.Action, payload map[string]any) (bool, string) {
	if action == workflow.ActionRateService {
		if actorRole != workflow.RoleClient || actorID != req.ClientID {
			return c.deny(ctx, "rate_service is allowed only to the client bound to the request")
		}
	} else if actorRole != req.CurrentRole {
		return c.deny(ctx, "actor role does not match current_role")
	}

	if ok, reason := c.checkDynamic(ctx, payload); !ok {
		return c.deny(ctx, reason)
	}
	return true, ""
}

// CheckCreate validates that actorRole may initiate workflows of type wt.
func (c *Checker) CheckCreate(ctx context.Context, actorRole workflow.Role, wt workflow.WorkflowType) (bool, string) {
	capRecord := CapabilityFor(actorRole)
	if !capRecord.CanCreate(wt) {
		return c.deny(ctx, fmt.Sprintf("role %s may not create workflow type %s", actorRole, wt))
	}
	return true, ""
}

func (c *Checker) checkDynamic(ctx context.Context, payload map[string]any) (bool, string) {
	for field, requiredRole := range dynamicFields {
		raw, ok := payload[string(field)]
		if !ok {
			continue
		}
		userID, ok := raw.(string)
		if !ok || userID == "" {
			continue
		}
		holds, err := c.store.UserHasRole(ctx, userID, requiredRole)
		if err != nil {
			return false, fmt.Sprintf("could not verify role for %s: %v", userID, err)
		}
		if !holds {
			return false, fmt.Sprintf("%s does not hold role %s", userID, requiredRole)
		}
	}
	return true, ""
}

func (c *Checker) deny(ctx context.Context, reason string) (bool, string) {
	werr := wferrors.BusinessLogic(reason)
	c.log.WithField("reason", reason).Warn("access denied")
	if err := c.store.RecordError(ctx, string(werr.Category), string(werr.Severity), reason, nil, time.Now().UTC()); err != nil {
		c.log.WithError(err).Warn("failed to record access-denial error")
	}
	return false, reason
}
