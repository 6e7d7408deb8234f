// Package evidence carries the engine's proof of what actually aired: the
// append-only envelope format, the crash-safe on-disk spool, and the emitter
// that feeds it.
package evidence

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the current envelope version.
const SchemaVersion uint32 = 1

// PayloadType enumerates the structural playout events.
type PayloadType string

const (
	PayloadBlockStart        PayloadType = "BLOCK_START"
	PayloadSegmentStart      PayloadType = "SEGMENT_START"
	PayloadSegmentEnd        PayloadType = "SEGMENT_END"
	PayloadBlockFence        PayloadType = "BLOCK_FENCE"
	PayloadChannelTerminated PayloadType = "CHANNEL_TERMINATED"
)

// Envelope is the wire and spool record. Sequence is strictly monotonic per
// session, starting at 1 with no gaps.
type Envelope struct {
	SchemaVersion    uint32          `json:"schema_version"`
	ChannelID        string          `json:"channel_id"`
	PlayoutSessionID string          `json:"playout_session_id"`
	Sequence         uint64          `json:"sequence"`
	EventUUID        string          `json:"event_uuid"`
	EmittedUTC       string          `json:"emitted_utc"`
	PayloadType      PayloadType     `json:"payload_type"`
	Payload          json.RawMessage `json:"payload"`
}

// BlockStart marks the engine beginning a planned block.
type BlockStart struct {
	EntryID    string `json:"entry_id"`
	AssetID    string `json:"asset_id"`
	StartUTCMS int64  `json:"start_utc_ms"`
}

// SegmentStart marks a media segment entering the output.
type SegmentStart struct {
	SegmentID string `json:"segment_id"`
	EntryID   string `json:"entry_id,omitempty"` // empty for injected segments
	AssetID   string `json:"asset_id"`
	OffsetMS  int64  `json:"offset_ms"`
}

// SegmentEnd closes a SegmentStart.
type SegmentEnd struct {
	SegmentID  string `json:"segment_id"`
	DurationMS int64  `json:"duration_ms"`
}

// BlockFence marks the hard boundary between blocks.
type BlockFence struct {
	EntryID    string `json:"entry_id"`
	FenceUTCMS int64  `json:"fence_utc_ms"`
}

// ChannelTerminated is the final event of a session.
type ChannelTerminated struct {
	Reason string `json:"reason"`
}

// FormatEmittedUTC renders a UTC millisecond timestamp as ISO-8601 Zulu with
// millisecond precision, the envelope's canonical time format.
func FormatEmittedUTC(utcMS int64) string {
	return time.UnixMilli(utcMS).UTC().Format("2006-01-02T15:04:05.000Z")
}
