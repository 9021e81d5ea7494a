package staffcreate

import "fmt"

// UXState names one step of the staff-creation chat/UI flow. The flow
// itself (keyboards, prompts, message editing) is out of core — this file
// exists only so a UI driver can import a shared state enum and legal-
// transition table instead of inventing its own, while every actual
// mutation still goes through Handler.
type UXState string

const (
	UXSelectingType       UXState = "selecting_type"
	UXSelectingSearchMethod UXState = "selecting_search_method"
	UXEnteringQuery       UXState = "entering_query"
	UXSearching           UXState = "searching"
	UXSelectingFromResults UXState = "selecting_from_results"
	UXConfirmingClient    UXState = "confirming_client"
	UXCreatingNewClient   UXState = "creating_new_client"
	UXFillingForm         UXState = "filling_application_form"
	UXReviewing           UXState = "reviewing"
	UXConfirmingSubmission UXState = "confirming_submission"
	UXProcessing          UXState = "processing"
	UXSubmitted           UXState = "submitted"
	UXError               UXState = "error"
)

// uxTransitions is the legal-transition table: for each state, the set of
// states a UI driver may move to next.
var uxTransitions = map[UXState][]UXState{
	UXSelectingType:         {UXSelectingSearchMethod},
	UXSelectingSearchMethod: {UXEnteringQuery},
	UXEnteringQuery:         {UXSearching},
	UXSearching:             {UXSelectingFromResults, UXCreatingNewClient, UXError},
	UXSelectingFromResults:  {UXConfirmingClient, UXCreatingNewClient},
	UXConfirmingClient:      {UXFillingForm},
	UXCreatingNewClient:     {UXFillingForm},
	UXFillingForm:           {UXReviewing},
	UXReviewing:             {UXConfirmingSubmission, UXFillingForm},
	UXConfirmingSubmission:  {UXProcessing},
	UXProcessing:            {UXSubmitted, UXError},
	UXSubmitted:             {},
	UXError:                 {UXSelectingType},
}

// CanTransition reports whether to is a legal next state from from.
func CanTransition(from, to UXState) bool {
	for _, candidate := range uxTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ErrIllegalUXTransition is returned by a driver-side Advance helper when a
// caller attempts an undeclared move.
type ErrIllegalUXTransition struct{ From, To UXState }

func (e ErrIllegalUXTransition) Error() string {
	return fmt.Sprintf("illegal staff-creation UX transition from %q to %q", e.From, e.To)
}
