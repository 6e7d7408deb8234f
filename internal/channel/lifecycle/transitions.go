package lifecycle

import (
	"errors"
	"fmt"
)

// ErrBoundaryTransition tags every illegal transition attempt.
var ErrBoundaryTransition = errors.New("boundary_transition_violation")

// Transition is a single allowed edge in the boundary state machine.
type Transition struct {
	From  State
	To    State
	Event EventKind
}

var transitionsTable = []Transition{
	// Boundary commitment path
	{From: StateNone, To: StatePlanned, Event: EvBoundaryPlanned},
	{From: StatePlanned, To: StatePreloadIssued, Event: EvPreloadIssued},
	{From: StatePreloadIssued, To: StateSwitchScheduled, Event: EvPreviewReady},
	{From: StateSwitchScheduled, To: StateSwitchIssued, Event: EvSwitchIssued},
	{From: StateSwitchIssued, To: StateLive, Event: EvSwapConfirmed},

	// Steady state: the next boundary re-enters the commitment path.
	{From: StateLive, To: StatePlanned, Event: EvBoundaryPlanned},
}

// TransitionFor returns the allowed transition for a state+event pair.
// EvFatal is handled separately: every non-terminal state may fail.
func TransitionFor(from State, ev EventKind) (Transition, bool) {
	if ev == EvFatal {
		if from.IsTerminal() {
			return Transition{}, false
		}
		return Transition{From: from, To: StateFailedTerminal, Event: EvFatal}, true
	}
	if from.IsTerminal() {
		return Transition{}, false
	}
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// Step validates and applies one event, returning the new state.
func Step(from State, ev EventKind) (State, error) {
	tr, ok := TransitionFor(from, ev)
	if !ok {
		return from, fmt.Errorf("%s + %s: %w", from, ev, ErrBoundaryTransition)
	}
	return tr.To, nil
}
