package workflow

// ConnectionRequestState is the typed view of state_data for the connection
// installation workflow. Fields are populated as the corresponding action
// runs; earlier fields remain set (state_data is dict-union merged, never
// replaced) as the request moves further down the graph.
type ConnectionRequestState struct {
	JuniorManagerID  string
	CallNotes        string
	TechnicianID     string
	InventoryUpdates map[string]int
	EquipmentShortage bool
}

// ConnectionState reads the typed view out of the request's raw state_data.
func (r Request) ConnectionState() ConnectionRequestState {
	s := r.StateData
	return ConnectionRequestState{
		JuniorManagerID:   s.GetString(StateKeyJuniorManagerID),
		CallNotes:         s.GetString(StateKeyCallNotes),
		TechnicianID:      s.GetString(StateKeyTechnicianID),
		InventoryUpdates:  intMapOf(s, StateKeyInventoryUpdates),
		EquipmentShortage: s.GetBool(StateKeyEquipmentShortage),
	}
}

// TechnicalServiceState is the typed view of state_data for the technical
// repair workflow, including the warehouse-involvement branch.
type TechnicalServiceState struct {
	TechnicianID      string
	Decision          string
	ResolutionNotes   string
	InventoryUpdates  map[string]int
	EquipmentShortage bool
}

// TechnicalState reads the typed view out of the request's raw state_data.
func (r Request) TechnicalState() TechnicalServiceState {
	s := r.StateData
	return TechnicalServiceState{
		TechnicianID:      s.GetString(StateKeyTechnicianID),
		Decision:          s.GetString(StateKeyDecision),
		ResolutionNotes:   s.GetString(StateKeyResolutionNotes),
		InventoryUpdates:  intMapOf(s, StateKeyInventoryUpdates),
		EquipmentShortage: s.GetBool(StateKeyEquipmentShortage),
	}
}

// CallCenterState is the typed view of state_data for the direct
// call-center workflow.
type CallCenterState struct {
	OperatorID string
}

// CallCenterStateOf reads the typed view out of the request's raw state_data.
func (r Request) CallCenterStateOf() CallCenterState {
	return CallCenterState{OperatorID: r.StateData.GetString(StateKeyOperatorID)}
}

func intMapOf(s StateData, key StateKey) map[string]int {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	switch m := v.(type) {
	case map[string]int:
		return m
	case map[string]any:
		out := make(map[string]int, len(m))
		for k, raw := range m {
			switch n := raw.(type) {
			case int:
				out[k] = n
			case int64:
				out[k] = int(n)
			case float64:
				out[k] = int(n)
			}
		}
		return out
	default:
		return nil
	}
}
