package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldChannelID     = "channel_id"
	FieldSessionID     = "playout_session_id"
	FieldAssetID       = "asset_id"
	FieldEntryID       = "entry_id"
	FieldPlanID        = "plan_id"
	FieldCorrelationID = "correlation_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldSequence  = "sequence"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Timing fields
	FieldBoundaryUTC = "boundary_utc_ms"
	FieldDepthMS     = "depth_ms"
	FieldDay         = "broadcast_day"
)
