package lifecycle

// EventKind is a domain event driving the boundary state machine.
type EventKind int

const (
	EvUnknown EventKind = iota
	EvBoundaryPlanned
	EvPreloadIssued
	EvPreviewReady
	EvSwitchIssued
	EvSwapConfirmed
	EvFatal
)

func (e EventKind) String() string {
	switch e {
	case EvBoundaryPlanned:
		return "boundary_planned"
	case EvPreloadIssued:
		return "preload_issued"
	case EvPreviewReady:
		return "preview_ready"
	case EvSwitchIssued:
		return "switch_issued"
	case EvSwapConfirmed:
		return "swap_confirmed"
	case EvFatal:
		return "fatal"
	}
	return "unknown"
}
