// Package workflow defines the domain model for the service-request
// workflow engine: requests, transitions, and the staff-creation audit
// trail that the store, registry, access control, and engine packages all
// build on.
package workflow

import "time"

// WorkflowType identifies one of the three compiled-in request categories.
type WorkflowType string

const (
	ConnectionRequest WorkflowType = "connection_request"
	TechnicalService  WorkflowType = "technical_service"
	CallCenterDirect  WorkflowType = "call_center_direct"
)

// Role is an organisational position that owns certain workflow steps.
type Role string

const (
	RoleClient               Role = "client"
	RoleManager               Role = "manager"
	RoleJuniorManager         Role = "junior_manager"
	RoleController            Role = "controller"
	RoleTechnician            Role = "technician"
	RoleWarehouse             Role = "warehouse"
	RoleCallCenter            Role = "call_center"
	RoleCallCenterSupervisor  Role = "call_center_supervisor"
	RoleAdmin                 Role = "admin"
)

// Status is the coarse lifecycle stage of a Request.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Priority is the urgency tag attached to a Request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Action is a named transition trigger carried by a Transition row.
type Action string

const (
	ActionSubmitRequest             Action = "submit_request"
	ActionAssignToJuniorManager     Action = "assign_to_junior_manager"
	ActionCallClient                Action = "call_client"
	ActionForwardToController       Action = "forward_to_controller"
	ActionAssignToTechnician        Action = "assign_to_technician"
	ActionStartInstallation         Action = "start_installation"
	ActionDocumentEquipment         Action = "document_equipment"
	ActionUpdateInventory           Action = "update_inventory"
	ActionCloseRequest              Action = "close_request"
	ActionSubmitTechnicalRequest    Action = "submit_technical_request"
	ActionAssignTechnicalToTech     Action = "assign_technical_to_technician"
	ActionStartDiagnostics          Action = "start_diagnostics"
	ActionDecideWarehouseInvolved   Action = "decide_warehouse_involvement"
	ActionResolveWithoutWarehouse   Action = "resolve_without_warehouse"
	ActionRequestWarehouseSupport   Action = "request_warehouse_support"
	ActionPrepareEquipment          Action = "prepare_equipment"
	ActionConfirmEquipmentReady     Action = "confirm_equipment_ready"
	ActionCompleteTechnicalService  Action = "complete_technical_service"
	ActionAssignToCallCenterOperator Action = "assign_to_call_center_operator"
	ActionResolveRemotely           Action = "resolve_remotely"
	ActionRateService               Action = "rate_service"
	ActionAdminForceTransition      Action = "admin_force_transition"
)

// ContactInfo is the name/phone/address bundle carried on a Request.
type ContactInfo struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// EquipmentItem is one line of equipment consumed by a request.
type EquipmentItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Serial   string `json:"serial,omitempty"`
	Type     string `json:"type,omitempty"`
}

// StateData is the opaque, action-populated bag carried across transitions.
// Every key it may hold is named by a StateKey constant below; callers
// should prefer the typed accessors in state_data.go over raw map access.
type StateData map[string]any

// StateKey names a recognised state_data field. Using these constants
// instead of ad-hoc strings is what keeps the bag "structurally typed":
// every reader and writer of a given key goes through the same symbol.
type StateKey string

const (
	StateKeyJuniorManagerID    StateKey = "junior_manager_id"
	StateKeyCallNotes          StateKey = "call_notes"
	StateKeyTechnicianID       StateKey = "technician_id"
	StateKeyDecision           StateKey = "decision"
	StateKeyResolutionNotes    StateKey = "resolution_notes"
	StateKeyInventoryUpdates   StateKey = "inventory_updates"
	StateKeyEquipmentShortage  StateKey = "equipment_shortage"
	StateKeyOperatorID         StateKey = "operator_id"
	StateKeyTargetRole         StateKey = "target_role"
	StateKeyCreatedByStaff     StateKey = "created_by_staff"
	StateKeyStaffCreatorID     StateKey = "staff_creator_id"
	StateKeyStaffCreatorRole   StateKey = "staff_creator_role"
)

// Get returns the raw value for key, and whether it was present.
func (s StateData) Get(key StateKey) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s[string(key)]
	return v, ok
}

// GetString returns the string value for key, or "" if absent/not a string.
func (s StateData) GetString(key StateKey) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// GetBool returns the bool value for key, or false if absent/not a bool.
func (s StateData) GetBool(key StateKey) bool {
	v, ok := s.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Merge returns a new StateData that is the dict-union of s and patch, with
// patch's keys winning on conflict. Neither input is mutated.
func (s StateData) Merge(patch StateData) StateData {
	out := make(StateData, len(s)+len(patch))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Request is the unit the engine routes: one customer-service application
// moving through a compiled workflow graph.
type Request struct {
	ID                string
	WorkflowType      WorkflowType
	ClientID          string
	CurrentRole       Role
	CurrentStatus     Status
	Priority          Priority
	Description       string
	Location          string
	ContactInfo       ContactInfo
	StateData         StateData
	EquipmentUsed     []EquipmentItem
	InventoryUpdated  bool
	CompletionRating  *int
	FeedbackComments  string
	CreatedByStaff    bool
	StaffCreatorID    string
	StaffCreatorRole  Role
	CreationSource    string
	ClientNotifiedAt  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Transition is one append-only audit row recording an applied action.
type Transition struct {
	ID             int64
	RequestID      string
	FromRole       *Role
	ToRole         *Role
	Action         Action
	ActorID        string
	TransitionData map[string]any
	Comments       string
	CreatedAt      time.Time
}

// StaffApplicationAudit is the denormalised record of a staff-created
// request, used to enforce daily creation quotas and to confirm client
// notification.
type StaffApplicationAudit struct {
	ApplicationID      string
	CreatorID          string
	CreatorRole        Role
	ClientID           string
	ApplicationType    WorkflowType
	CreationTimestamp  time.Time
	ClientNotified     bool
	WorkflowInitiated  bool
	Metadata           map[string]any
}

// NotificationRetryEntry is one queued, not-yet-delivered notification.
type NotificationRetryEntry struct {
	ID                    string
	RequestID             string
	IntendedRecipientRole Role
	RetryCount            int
	NextRetryAt           time.Time
	LastError             string
	ManualReview          bool
}

// User is a staff member or client with a fixed role, used by Access
// Control's dynamic checks and by the Client Resolver.
type User struct {
	ID               string
	PhoneNormalised  string
	FullName         string
	Role             Role
	Language         string
	Address          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EquipmentStock is one inventory line tracked by the Reconciler.
type EquipmentStock struct {
	Name     string
	Quantity int
}

// EquipmentMovement is an append-only ledger row for inventory consumption.
type EquipmentMovement struct {
	ID        int64
	RequestID string
	Name      string
	Delta     int
	CreatedAt time.Time
}

// String returns the role's tag as a plain string.
func (r Role) String() string { return string(r) }
