package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/slbailey/retrovue/internal/log"
	"github.com/slbailey/retrovue/internal/metrics"
)

// Sink receives each durably spooled envelope for upstream delivery. Enqueue
// must not block; delivery order and retries are the sink's problem.
type Sink interface {
	Enqueue(Envelope)
}

// Emitter assigns sequences and appends structural playout events to the
// session spool. Emission is local-first: a full spool degrades the emitter
// (appends are skipped and logged) but never blocks playout.
type Emitter struct {
	channelID string
	sessionID string
	spool     *Spool
	now       func() int64
	logger    zerolog.Logger

	mu       sync.Mutex
	seq      uint64
	sink     Sink
	degraded bool
}

// NewEmitter wraps an open spool. nowUTCMS must derive from the MasterClock.
func NewEmitter(spool *Spool, channelID, sessionID string, nowUTCMS func() int64) *Emitter {
	return &Emitter{
		channelID: channelID,
		sessionID: sessionID,
		spool:     spool,
		now:       nowUTCMS,
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "evidence.emitter").
				Str(log.FieldChannelID, channelID).
				Str(log.FieldSessionID, sessionID)
		}),
		seq: spool.LastSequence(),
	}
}

// SetSink attaches the upstream transport. Safe to call before or after
// emission starts.
func (e *Emitter) SetSink(s Sink) {
	e.mu.Lock()
	e.sink = s
	e.mu.Unlock()
}

// Degraded reports whether the last append was rejected for spool_full.
func (e *Emitter) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// LastSequence returns the highest sequence successfully appended.
func (e *Emitter) LastSequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

func (e *Emitter) emit(pt PayloadType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", pt, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	env := Envelope{
		SchemaVersion:    SchemaVersion,
		ChannelID:        e.channelID,
		PlayoutSessionID: e.sessionID,
		Sequence:         e.seq + 1,
		EventUUID:        uuid.NewString(),
		EmittedUTC:       FormatEmittedUTC(e.now()),
		PayloadType:      pt,
		Payload:          raw,
	}

	if err := e.spool.Append(env); err != nil {
		if errors.Is(err, ErrSpoolFull) {
			// The sequence does not advance for a skipped record, so the
			// spool stays gapless across the degraded window.
			if !e.degraded {
				e.degraded = true
				metrics.SetDegraded(e.channelID, true)
				e.logger.Warn().
					Str(log.FieldReason, "spool_full").
					Int64("pending_bytes", e.spool.PendingBytes()).
					Msg("evidence emitter degraded; skipping appends")
				e.announceTerminationLocked()
			}
			return err
		}
		return err
	}
	e.seq = env.Sequence

	if e.degraded {
		e.degraded = false
		metrics.SetDegraded(e.channelID, false)
		e.logger.Info().Msg("evidence emitter recovered from degraded mode")
	}
	if e.sink != nil {
		e.sink.Enqueue(env)
	}
	return nil
}

// announceTerminationLocked hands a CHANNEL_TERMINATED envelope straight to
// the sink on the degrade edge. It bypasses the full spool, so it carries the
// next unspooled sequence without advancing it; the spool itself stays
// gapless.
func (e *Emitter) announceTerminationLocked() {
	if e.sink == nil {
		return
	}
	raw, err := json.Marshal(ChannelTerminated{Reason: "spool_full"})
	if err != nil {
		return
	}
	e.sink.Enqueue(Envelope{
		SchemaVersion:    SchemaVersion,
		ChannelID:        e.channelID,
		PlayoutSessionID: e.sessionID,
		Sequence:         e.seq + 1,
		EventUUID:        uuid.NewString(),
		EmittedUTC:       FormatEmittedUTC(e.now()),
		PayloadType:      PayloadChannelTerminated,
		Payload:          raw,
	})
}

// EmitBlockStart records the engine beginning a planned block.
func (e *Emitter) EmitBlockStart(entryID, assetID string, startUTCMS int64) error {
	return e.emit(PayloadBlockStart, BlockStart{EntryID: entryID, AssetID: assetID, StartUTCMS: startUTCMS})
}

// EmitSegmentStart records a media segment entering the output. entryID is
// empty for injected segments with no planned entry.
func (e *Emitter) EmitSegmentStart(segmentID, entryID, assetID string, offsetMS int64) error {
	return e.emit(PayloadSegmentStart, SegmentStart{SegmentID: segmentID, EntryID: entryID, AssetID: assetID, OffsetMS: offsetMS})
}

// EmitSegmentEnd closes a previously started segment.
func (e *Emitter) EmitSegmentEnd(segmentID string, durationMS int64) error {
	return e.emit(PayloadSegmentEnd, SegmentEnd{SegmentID: segmentID, DurationMS: durationMS})
}

// EmitBlockFence records the hard boundary between blocks.
func (e *Emitter) EmitBlockFence(entryID string, fenceUTCMS int64) error {
	return e.emit(PayloadBlockFence, BlockFence{EntryID: entryID, FenceUTCMS: fenceUTCMS})
}

// EmitChannelTerminated records the final event of the session.
func (e *Emitter) EmitChannelTerminated(reason string) error {
	return e.emit(PayloadChannelTerminated, ChannelTerminated{Reason: reason})
}
