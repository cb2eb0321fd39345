package actions

import "fmt"

// TransitionRule defines an allowed status transition.
type TransitionRule struct {
	From Status
	To   Status
}

// DefaultTransitions is the forward-only workflow. Stages cannot be skipped.
var DefaultTransitions = []TransitionRule{
	{From: StatusDraft, To: StatusPendingAnalysis},
	{From: StatusPendingAnalysis, To: StatusPendingVerification},
	{From: StatusPendingVerification, To: StatusPendingClosure},
	{From: StatusPendingClosure, To: StatusFinalized},
}

// StateMachine validates status transitions against a fixed table.
type StateMachine struct {
	transitions []TransitionRule
}

// NewStateMachine creates a machine with the default rules.
func NewStateMachine() *StateMachine {
	return &StateMachine{transitions: DefaultTransitions}
}

// ValidateTransition checks if a transition from->to is allowed.
// Returns nil if allowed, a *TransitionError if not.
func (m *StateMachine) ValidateTransition(from, to Status) error {
	if !to.IsValid() {
		return &TransitionError{
			Code:    "ACTION_UNKNOWN_STATUS",
			From:    from,
			To:      to,
			Message: fmt.Sprintf("unknown target status %q", to),
		}
	}

	// Saving without a status change is always allowed, except on finalized
	// actions which are terminal.
	if from == to {
		if from == StatusFinalized {
			return &TransitionError{
				Code:    "ACTION_TRANSITION_DENIED",
				From:    from,
				To:      to,
				Message: "finalized actions cannot be modified",
			}
		}
		return nil
	}

	if from == StatusFinalized || to.rank() < from.rank() {
		return &TransitionError{
			Code:    "ACTION_TRANSITION_DENIED",
			From:    from,
			To:      to,
			Message: fmt.Sprintf("transition from %s to %s is not allowed", from.Label(), to.Label()),
		}
	}

	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return nil
		}
	}

	return &TransitionError{
		Code:    "ACTION_INVALID_TRANSITION",
		From:    from,
		To:      to,
		Message: fmt.Sprintf("no transition defined from %s to %s", from.Label(), to.Label()),
	}
}

// AllowedTransitions returns all valid target states from the given state.
func (m *StateMachine) AllowedTransitions(from Status) []Status {
	var allowed []Status
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}

// InferTarget returns the status implied by the payload of a transition
// command when no explicit target was given. Submitting an analysis moves an
// action to verification, a verification to closure and a closure to
// finalized. Anything else keeps the current status.
func InferTarget(current Status, cmd TransitionCommand) Status {
	if cmd.Target != "" {
		return cmd.Target
	}
	switch {
	case current == StatusPendingAnalysis && cmd.Analysis != nil:
		return StatusPendingVerification
	case current == StatusPendingVerification && cmd.Verification != nil:
		return StatusPendingClosure
	case current == StatusPendingClosure && cmd.Closure != nil:
		return StatusFinalized
	}
	return current
}

// TransitionError is a structured error for rejected transitions.
type TransitionError struct {
	Code    string `json:"code"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Message string `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}
