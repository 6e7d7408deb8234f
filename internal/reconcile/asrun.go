package reconcile

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/slbailey/retrovue/internal/evidence"
)

// Source classifies how an aired segment relates to the plan.
const (
	SourceScheduled       = "SCHEDULED"
	SourceRuntimeRecovery = "RUNTIME_RECOVERY"
)

// AsRunRecord is one aired segment, closed by its SEGMENT_END.
type AsRunRecord struct {
	SessionID    string
	ChannelID    string
	SegmentID    string
	EntryID      string // empty for injected segments
	BlockEntryID string // entry of the enclosing block, if any
	AssetID      string
	OffsetMS     int64
	DurationMS   int64
	StartedUTC   string
	EndedUTC     string
	Source       string
}

type openSegment struct {
	record AsRunRecord
}

type sessionState struct {
	channelID    string
	currentEntry string
	open         map[string]*openSegment
	records      []AsRunRecord
	terminated   bool
	termReason   string
}

// Projector folds evidence envelopes into AsRun records. It is a pure
// downstream view; nothing here feeds back into execution state.
type Projector struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewProjector returns an empty projection.
func NewProjector() *Projector {
	return &Projector{sessions: make(map[string]*sessionState)}
}

func (p *Projector) session(env evidence.Envelope) *sessionState {
	st, ok := p.sessions[env.PlayoutSessionID]
	if !ok {
		st = &sessionState{channelID: env.ChannelID, open: make(map[string]*openSegment)}
		p.sessions[env.PlayoutSessionID] = st
	}
	return st
}

// Apply folds one envelope. Envelopes must arrive in sequence order per
// session; the receiver guarantees that.
func (p *Projector) Apply(env evidence.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.session(env)

	switch env.PayloadType {
	case evidence.PayloadBlockStart:
		var bs evidence.BlockStart
		if err := json.Unmarshal(env.Payload, &bs); err != nil {
			return fmt.Errorf("decode BLOCK_START: %w", err)
		}
		st.currentEntry = bs.EntryID

	case evidence.PayloadSegmentStart:
		var ss evidence.SegmentStart
		if err := json.Unmarshal(env.Payload, &ss); err != nil {
			return fmt.Errorf("decode SEGMENT_START: %w", err)
		}
		source := SourceScheduled
		if ss.EntryID == "" {
			source = SourceRuntimeRecovery
		}
		st.open[ss.SegmentID] = &openSegment{record: AsRunRecord{
			SessionID:    env.PlayoutSessionID,
			ChannelID:    env.ChannelID,
			SegmentID:    ss.SegmentID,
			EntryID:      ss.EntryID,
			BlockEntryID: st.currentEntry,
			AssetID:      ss.AssetID,
			OffsetMS:     ss.OffsetMS,
			StartedUTC:   env.EmittedUTC,
			Source:       source,
		}}

	case evidence.PayloadSegmentEnd:
		var se evidence.SegmentEnd
		if err := json.Unmarshal(env.Payload, &se); err != nil {
			return fmt.Errorf("decode SEGMENT_END: %w", err)
		}
		seg, ok := st.open[se.SegmentID]
		if !ok {
			// An end with no start is possible after receiver pruning; keep
			// it as a recovery record with what we know.
			st.records = append(st.records, AsRunRecord{
				SessionID:  env.PlayoutSessionID,
				ChannelID:  env.ChannelID,
				SegmentID:  se.SegmentID,
				DurationMS: se.DurationMS,
				EndedUTC:   env.EmittedUTC,
				Source:     SourceRuntimeRecovery,
			})
			return nil
		}
		delete(st.open, se.SegmentID)
		seg.record.DurationMS = se.DurationMS
		seg.record.EndedUTC = env.EmittedUTC
		st.records = append(st.records, seg.record)

	case evidence.PayloadBlockFence:
		var bf evidence.BlockFence
		if err := json.Unmarshal(env.Payload, &bf); err != nil {
			return fmt.Errorf("decode BLOCK_FENCE: %w", err)
		}
		if st.currentEntry == bf.EntryID {
			st.currentEntry = ""
		}

	case evidence.PayloadChannelTerminated:
		var ct evidence.ChannelTerminated
		if err := json.Unmarshal(env.Payload, &ct); err != nil {
			return fmt.Errorf("decode CHANNEL_TERMINATED: %w", err)
		}
		st.terminated = true
		st.termReason = ct.Reason

	default:
		return fmt.Errorf("unknown payload type %q", env.PayloadType)
	}
	return nil
}

// Records returns the closed segments of a session in arrival order.
func (p *Projector) Records(sessionID string) []AsRunRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]AsRunRecord, len(st.records))
	copy(out, st.records)
	return out
}

// OpenSegments reports segments started but not yet ended for a session.
func (p *Projector) OpenSegments(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(st.open)
}

// Terminated reports whether the session emitted CHANNEL_TERMINATED and why.
func (p *Projector) Terminated(sessionID string) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sessions[sessionID]
	if !ok {
		return false, ""
	}
	return st.terminated, st.termReason
}
