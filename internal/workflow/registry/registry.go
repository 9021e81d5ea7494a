// Package registry holds the compiled-in definitions of the three
// workflow graphs: for each (workflow_type, current_role), which actions
// are allowed, which payload fields they require, and what role the
// action hands off to.
package registry

import (
	"fmt"

	"github.com/fieldops/workflow-engine/internal/workflow"
)

// Step describes one action a role may take within a workflow type.
type Step struct {
	Action         workflow.Action
	Required       []workflow.StateKey
	Optional       []workflow.StateKey
	SuccessorRole  workflow.Role
	IsTerminal     bool
	IsIntermediate bool // successor role equals the current role
}

// Definition is the compiled graph for one workflow type: per role, the
// steps that role may execute.
type Definition struct {
	Type        workflow.WorkflowType
	InitialRole workflow.Role
	Steps       map[workflow.Role][]Step
	// RoleSequence is the ordered, non-repeating path a request walks through
	// this workflow type's happy path, used only to derive step_index.
	RoleSequence []workflow.Role
}

// Registry is the immutable, stateless collection of compiled workflows.
type Registry struct {
	definitions map[workflow.WorkflowType]*Definition
}

// ErrUnknownWorkflow is returned for a workflow_type with no compiled definition.
var ErrUnknownWorkflow = fmt.Errorf("unknown workflow type")

// ErrActionNotAllowed is returned when current_role has no such step.
var ErrActionNotAllowed = fmt.Errorf("action not allowed for current role")

// ErrMissingField is returned by ValidatePayload when a required key is absent.
type ErrMissingField struct{ Field workflow.StateKey }

func (e ErrMissingField) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// New compiles and returns the three canonical workflow definitions.
func New() *Registry {
	return &Registry{
		definitions: map[workflow.WorkflowType]*Definition{
			workflow.ConnectionRequest: connectionRequestDefinition(),
			workflow.TechnicalService:  technicalServiceDefinition(),
			workflow.CallCenterDirect:  callCenterDirectDefinition(),
		},
	}
}

func connectionRequestDefinition() *Definition {
	return &Definition{
		Type:        workflow.ConnectionRequest,
		InitialRole: workflow.RoleManager,
		RoleSequence: []workflow.Role{
			workflow.RoleManager, workflow.RoleJuniorManager, workflow.RoleController,
			workflow.RoleTechnician, workflow.RoleWarehouse, workflow.RoleClient,
		},
		Steps: map[workflow.Role][]Step{
			workflow.RoleManager: {
				{Action: workflow.ActionAssignToJuniorManager, Required: []workflow.StateKey{workflow.StateKeyJuniorManagerID}, SuccessorRole: workflow.RoleJuniorManager},
			},
			workflow.RoleJuniorManager: {
				{Action: workflow.ActionCallClient, Required: []workflow.StateKey{workflow.StateKeyCallNotes}, SuccessorRole: workflow.RoleJuniorManager, IsIntermediate: true},
				{Action: workflow.ActionForwardToController, SuccessorRole: workflow.RoleController},
			},
			workflow.RoleController: {
				{Action: workflow.ActionAssignToTechnician, Required: []workflow.StateKey{workflow.StateKeyTechnicianID}, SuccessorRole: workflow.RoleTechnician},
			},
			workflow.RoleTechnician: {
				{Action: workflow.ActionStartInstallation, SuccessorRole: workflow.RoleTechnician, IsIntermediate: true},
				{Action: workflow.ActionDocumentEquipment, SuccessorRole: workflow.RoleWarehouse},
			},
			workflow.RoleWarehouse: {
				{Action: workflow.ActionUpdateInventory, Required: []workflow.StateKey{workflow.StateKeyInventoryUpdates}, SuccessorRole: workflow.RoleWarehouse, IsIntermediate: true},
				{Action: workflow.ActionCloseRequest, SuccessorRole: workflow.RoleClient},
			},
			workflow.RoleClient: {
				{Action: workflow.ActionRateService, SuccessorRole: workflow.RoleClient, IsTerminal: true},
			},
		},
	}
}

func technicalServiceDefinition() *Definition {
	return &Definition{
		Type:        workflow.TechnicalService,
		InitialRole: workflow.RoleController,
		RoleSequence: []workflow.Role{
			workflow.RoleController, workflow.RoleTechnician, workflow.RoleWarehouse, workflow.RoleClient,
		},
		Steps: map[workflow.Role][]Step{
			workflow.RoleController: {
				{Action: workflow.ActionAssignTechnicalToTech, Required: []workflow.StateKey{workflow.StateKeyTechnicianID}, SuccessorRole: workflow.RoleTechnician},
			},
			workflow.RoleTechnician: {
				{Action: workflow.ActionStartDiagnostics, SuccessorRole: workflow.RoleTechnician, IsIntermediate: true},
				{Action: workflow.ActionDecideWarehouseInvolved, Required: []workflow.StateKey{workflow.StateKeyDecision}, SuccessorRole: workflow.RoleTechnician, IsIntermediate: true},
				{Action: workflow.ActionResolveWithoutWarehouse, Required: []workflow.StateKey{workflow.StateKeyResolutionNotes}, SuccessorRole: workflow.RoleTechnician, IsIntermediate: true},
				{Action: workflow.ActionRequestWarehouseSupport, SuccessorRole: workflow.RoleWarehouse},
				{Action: workflow.ActionCompleteTechnicalService, SuccessorRole: workflow.RoleClient},
			},
			workflow.RoleWarehouse: {
				{Action: workflow.ActionPrepareEquipment, SuccessorRole: workflow.RoleWarehouse, IsIntermediate: true},
				{Action: workflow.ActionUpdateInventory, Required: []workflow.StateKey{workflow.StateKeyInventoryUpdates}, SuccessorRole: workflow.RoleWarehouse, IsIntermediate: true},
				{Action: workflow.ActionConfirmEquipmentReady, SuccessorRole: workflow.RoleTechnician},
			},
			workflow.RoleClient: {
				{Action: workflow.ActionRateService, SuccessorRole: workflow.RoleClient, IsTerminal: true},
			},
		},
	}
}

func callCenterDirectDefinition() *Definition {
	return &Definition{
		Type:        workflow.CallCenterDirect,
		InitialRole: workflow.RoleCallCenterSupervisor,
		RoleSequence: []workflow.Role{
			workflow.RoleCallCenterSupervisor, workflow.RoleCallCenter, workflow.RoleClient,
		},
		Steps: map[workflow.Role][]Step{
			workflow.RoleCallCenterSupervisor: {
				{Action: workflow.ActionAssignToCallCenterOperator, Required: []workflow.StateKey{workflow.StateKeyOperatorID}, SuccessorRole: workflow.RoleCallCenter},
			},
			workflow.RoleCallCenter: {
				{Action: workflow.ActionResolveRemotely, Required: []workflow.StateKey{workflow.StateKeyResolutionNotes}, SuccessorRole: workflow.RoleClient},
			},
			workflow.RoleClient: {
				{Action: workflow.ActionRateService, SuccessorRole: workflow.RoleClient, IsTerminal: true},
			},
		},
	}
}

// Definition returns the compiled graph for wt, or ErrUnknownWorkflow.
func (r *Registry) Definition(wt workflow.WorkflowType) (*Definition, error) {
	def, ok := r.definitions[wt]
	if !ok {
		return nil, fmt.Errorf("%s: %w", wt, ErrUnknownWorkflow)
	}
	return def, nil
}

// InitialRole returns the first non-client role for a client-initiated or
// staff-initiated request of workflow type wt — the staff creator never
// occupies a step themselves.
func (r *Registry) InitialRole(wt workflow.WorkflowType) (workflow.Role, error) {
	def, err := r.Definition(wt)
	if err != nil {
		return "", err
	}
	return def.InitialRole, nil
}

func (r *Registry) step(wt workflow.WorkflowType, currentRole workflow.Role, action workflow.Action) (*Step, error) {
	def, err := r.Definition(wt)
	if err != nil {
		return nil, err
	}
	for _, step := range def.Steps[currentRole] {
		if step.Action == action {
			s := step
			return &s, nil
		}
	}
	return nil, fmt.Errorf("%s on %s/%s: %w", action, wt, currentRole, ErrActionNotAllowed)
}

// Successor returns the role the request hands off to, and whether action
// is a terminal (completion) action. Pure, stateless, no I/O.
func (r *Registry) Successor(wt workflow.WorkflowType, currentRole workflow.Role, action workflow.Action) (nextRole workflow.Role, isTerminal bool, err error) {
	step, err := r.step(wt, currentRole, action)
	if err != nil {
		return "", false, err
	}
	return step.SuccessorRole, step.IsTerminal, nil
}

// ActionsFor returns every action currentRole may take on workflow type wt.
func (r *Registry) ActionsFor(wt workflow.WorkflowType, currentRole workflow.Role) ([]Step, error) {
	def, err := r.Definition(wt)
	if err != nil {
		return nil, err
	}
	return def.Steps[currentRole], nil
}

// StepIndex derives the "step N of M" progress counter dashboards show for
// a request's current position: N is currentRole's 1-based position in the
// workflow type's canonical role sequence, M is the sequence length. It is
// computed, never stored, so it can never drift from the Registry's graph.
func (r *Registry) StepIndex(wt workflow.WorkflowType, currentRole workflow.Role) (current, total int, err error) {
	def, err := r.Definition(wt)
	if err != nil {
		return 0, 0, err
	}
	total = len(def.RoleSequence)
	for i, role := range def.RoleSequence {
		if role == currentRole {
			return i + 1, total, nil
		}
	}
	return 0, total, fmt.Errorf("%s not in role sequence for %s", currentRole, wt)
}

// ValidatePayload reports whether payload carries every field action
// requires for (workflow_type, current_role). Returns ErrMissingField for
// the first absent key, or ErrActionNotAllowed if the step itself is undeclared.
func (r *Registry) ValidatePayload(wt workflow.WorkflowType, currentRole workflow.Role, action workflow.Action, payload map[string]any) error {
	step, err := r.step(wt, currentRole, action)
	if err != nil {
		return err
	}
	for _, field := range step.Required {
		if _, ok := payload[string(field)]; !ok {
			return ErrMissingField{Field: field}
		}
	}
	return nil
}
