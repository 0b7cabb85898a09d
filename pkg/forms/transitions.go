package forms

import (
	"fmt"
)

// TransitionRule defines an allowed sync status transition.
type TransitionRule struct {
	From SyncStatus
	To   SyncStatus
}

// DefaultTransitions defines the allowed sync status transitions.
var DefaultTransitions = []TransitionRule{
	// push started
	{From: SyncNeverSynced, To: SyncPending},
	{From: SyncSynced, To: SyncPending},
	{From: SyncFailed, To: SyncPending},
	{From: SyncOutdated, To: SyncPending},
	// push finished
	{From: SyncPending, To: SyncSynced},
	{From: SyncPending, To: SyncFailed},
	{From: SyncPending, To: SyncOutdated},
	// content edited
	{From: SyncSynced, To: SyncOutdated},
	{From: SyncFailed, To: SyncOutdated},
}

// DisallowedTransitions are explicitly forbidden (return specific error).
var DisallowedTransitions = map[SyncStatus][]SyncStatus{
	SyncNeverSynced: {SyncSynced, SyncOutdated, SyncFailed},
}

// Machine validates sync status transitions.
type Machine struct {
	transitions []TransitionRule
	disallowed  map[SyncStatus][]SyncStatus
}

// NewMachine creates a machine with default rules.
func NewMachine() *Machine {
	return &Machine{
		transitions: DefaultTransitions,
		disallowed:  DisallowedTransitions,
	}
}

// ValidateTransition checks if a transition from->to is allowed.
// Returns nil if allowed, a *TransitionError if not.
func (m *Machine) ValidateTransition(from, to SyncStatus) error {
	// Same state is a no-op. A stale sync_pending left by a crashed push
	// can therefore be pushed again.
	if from == to {
		return nil
	}

	if disallowed, ok := m.disallowed[from]; ok {
		for _, d := range disallowed {
			if d == to {
				return m.transitionError("SYNC_TRANSITION_DENIED", from, to,
					fmt.Sprintf("transition from %s to %s is not allowed", from, to))
			}
		}
	}

	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return nil
		}
	}

	return m.transitionError("SYNC_INVALID_TRANSITION", from, to,
		fmt.Sprintf("no transition defined from %s to %s", from, to))
}

func (m *Machine) transitionError(code string, from, to SyncStatus, msg string) *TransitionError {
	return &TransitionError{
		Code:    code,
		From:    from,
		To:      to,
		Allowed: m.AllowedTransitions(from),
		Message: msg,
	}
}

// AllowedTransitions returns all valid target states from the given state.
func (m *Machine) AllowedTransitions(from SyncStatus) []SyncStatus {
	var allowed []SyncStatus
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}

// NeedsPush reports whether a template in this status should be pushed
// before work is assigned against it.
func (s SyncStatus) NeedsPush() bool {
	switch s {
	case SyncNeverSynced, SyncFailed, SyncOutdated:
		return true
	}
	return false
}

// TransitionError is a structured error for invalid transitions.
type TransitionError struct {
	Code    string       `json:"code"`
	From    SyncStatus   `json:"from"`
	To      SyncStatus   `json:"to"`
	Allowed []SyncStatus `json:"allowed"`
	Message string       `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}
