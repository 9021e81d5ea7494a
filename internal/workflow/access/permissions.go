package access

import "github.com/fieldops/workflow-engine/internal/workflow"

// Capability is the per-role capability record the Permission/Quota
// Service exposes: what a role may create, select, or assign, and its
// soft daily creation cap when acting as a staff creator.
type Capability struct {
	CanCreateConnection   bool
	CanCreateTechnical    bool
	CanAssignDirectly     bool
	CanSelectClient       bool
	CanCreateClient       bool
	NotificationLevel     string
	MaxApplicationsPerDay *int // nil means unlimited
}

func intPtr(v int) *int { return &v }

// capabilities is the fixed per-role table encoding the organisational
// hierarchy. Clients and technicians never create on behalf of others.
var capabilities = map[workflow.Role]Capability{
	workflow.RoleManager: {
		CanCreateConnection: true, CanCreateTechnical: true, CanAssignDirectly: true,
		CanSelectClient: true, CanCreateClient: true, NotificationLevel: "all",
		MaxApplicationsPerDay: nil,
	},
	workflow.RoleJuniorManager: {
		CanCreateConnection: true, CanCreateTechnical: false, CanAssignDirectly: false,
		CanSelectClient: true, CanCreateClient: false, NotificationLevel: "assigned",
		MaxApplicationsPerDay: intPtr(50),
	},
	workflow.RoleController: {
		CanCreateConnection: true, CanCreateTechnical: true, CanAssignDirectly: true,
		CanSelectClient: true, CanCreateClient: true, NotificationLevel: "assigned",
		MaxApplicationsPerDay: intPtr(100),
	},
	workflow.RoleTechnician: {
		NotificationLevel: "assigned",
	},
	workflow.RoleWarehouse: {
		NotificationLevel: "assigned",
	},
	workflow.RoleCallCenter: {
		CanCreateConnection: true, CanCreateTechnical: true, CanAssignDirectly: false,
		CanSelectClient: true, CanCreateClient: true, NotificationLevel: "assigned",
		MaxApplicationsPerDay: intPtr(50),
	},
	workflow.RoleCallCenterSupervisor: {
		CanCreateConnection: true, CanCreateTechnical: true, CanAssignDirectly: true,
		CanSelectClient: true, CanCreateClient: true, NotificationLevel: "all",
		MaxApplicationsPerDay: nil,
	},
	workflow.RoleClient: {
		NotificationLevel: "own",
	},
	workflow.RoleAdmin: {
		CanCreateConnection: true, CanCreateTechnical: true, CanAssignDirectly: true,
		CanSelectClient: true, CanCreateClient: true, NotificationLevel: "all",
		MaxApplicationsPerDay: nil,
	},
}

// CapabilityFor returns role's fixed capability record.
func CapabilityFor(role workflow.Role) Capability {
	return capabilities[role]
}

// CanCreate reports whether role may initiate wt on behalf of a client.
func (c Capability) CanCreate(wt workflow.WorkflowType) bool {
	switch wt {
	case workflow.ConnectionRequest:
		return c.CanCreateConnection
	case workflow.TechnicalService:
		return c.CanCreateTechnical
	case workflow.CallCenterDirect:
		return c.CanAssignDirectly
	default:
		return false
	}
}
