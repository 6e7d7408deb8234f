// Package lifecycle defines the per-channel boundary state machine. The
// transition table is the single source of legality; anything not in the
// table is a boundary_transition_violation.
package lifecycle

// State is the boundary state of one channel.
type State string

const (
	StateNone            State = "NONE"
	StatePlanned         State = "PLANNED"
	StatePreloadIssued   State = "PRELOAD_ISSUED"
	StateSwitchScheduled State = "SWITCH_SCHEDULED"
	StateSwitchIssued    State = "SWITCH_ISSUED"
	StateLive            State = "LIVE"
	StateFailedTerminal  State = "FAILED_TERMINAL"
)

// IsStable reports whether the state is safe to tear down in immediately.
// Transient states defer teardown to the grace window.
func (s State) IsStable() bool {
	switch s {
	case StateNone, StateLive, StateFailedTerminal:
		return true
	}
	return false
}

// IsTerminal reports whether the state absorbs all transitions and intent.
func (s State) IsTerminal() bool {
	return s == StateFailedTerminal
}
