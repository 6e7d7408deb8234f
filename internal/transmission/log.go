// Package transmission expands a resolved schedule day into the contiguous,
// physical-asset-level transmission log that feeds the execution window.
package transmission

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/slbailey/retrovue/internal/content"
	"github.com/slbailey/retrovue/internal/log"
	"github.com/slbailey/retrovue/internal/schedule"
	"github.com/slbailey/retrovue/internal/schedule/resolve"
)

// SourceRef points a log entry back at the resolved-day entry it came from.
type SourceRef struct {
	Date       time.Time
	EntryIndex int
}

// Entry is one grid-aligned physical airing. A boundary-straddling carry-out
// entry is the single permitted exception to grid alignment.
type Entry struct {
	ID         string
	ChannelID  string
	StartUTCMS int64
	EndUTCMS   int64
	AssetID    string
	AssetURI   string
	Synthetic  bool
	Pattern    string
	Source     SourceRef
}

// Log is one broadcast day's contiguous physical lineup.
type Log struct {
	ChannelID string
	Date      time.Time
	Entries   []Entry
	// CarryOutEndUTCMS is set when the final entry straddles the broadcast-day
	// boundary; the next day's build must start there.
	CarryOutEndUTCMS int64
}

// Builder expands resolved days. Sequential program cursors and virtual
// rotation state persist across builds via the CursorStore.
type Builder struct {
	Content content.Store
	Cursors *schedule.CursorStore
	Filler  schedule.SchedulableAsset

	logger zerolog.Logger
}

func NewBuilder(store content.Store, cursors *schedule.CursorStore, filler schedule.SchedulableAsset) *Builder {
	return &Builder{
		Content: store,
		Cursors: cursors,
		Filler:  filler,
		logger:  log.WithComponent("transmission.builder"),
	}
}

// Build walks the resolved day in time order and emits physical entries.
// carryInEndUTCMS is the end of the previous day's boundary-straddling entry
// (0 when none); material the carry-in already covers is not re-emitted.
func (b *Builder) Build(day resolve.Day, carryInEndUTCMS int64) (Log, error) {
	out := Log{ChannelID: day.ChannelID, Date: day.Date}
	cursor := day.StartUTCMS
	if carryInEndUTCMS > cursor {
		cursor = carryInEndUTCMS
	}

	for i, re := range day.Entries {
		start := day.StartUTCMS + int64(re.FromMinutes)*60_000
		end := day.StartUTCMS + int64(re.ToMinutes)*60_000
		if end <= cursor {
			continue // fully covered by carry-in
		}
		if start < cursor {
			start = cursor // carry-in seam; intentionally off-grid
		}
		lastOfDay := i == len(day.Entries)-1

		entries, err := b.expand(day, i, re.Asset, start, end, lastOfDay)
		if err != nil {
			return Log{}, err
		}
		out.Entries = append(out.Entries, entries...)
		if n := len(out.Entries); n > 0 {
			cursor = out.Entries[n-1].EndUTCMS
		}
	}

	if n := len(out.Entries); n > 0 && out.Entries[n-1].EndUTCMS > day.EndUTCMS {
		out.CarryOutEndUTCMS = out.Entries[n-1].EndUTCMS
	}
	return out, nil
}

// expand resolves one SchedulableAsset over [start, end). Only the day's last
// block may overrun end; everything else is clamped so grid alignment holds.
func (b *Builder) expand(day resolve.Day, entryIndex int, a schedule.SchedulableAsset, start, end int64, allowOverrun bool) ([]Entry, error) {
	ref := SourceRef{Date: day.Date, EntryIndex: entryIndex}
	switch a.Kind {
	case schedule.KindAsset:
		return []Entry{b.physicalEntry(day.ChannelID, a.AssetID, start, end, allowOverrun, ref)}, nil

	case schedule.KindProgram:
		chosen := b.chooseFromChain(day, entryIndex, a)
		return b.expand(day, entryIndex, chosen, start, end, allowOverrun)

	case schedule.KindVirtual:
		rotation := b.Cursors.NextRotation(a.ID)
		ids, err := a.Rule.Resolve(schedule.VirtualInput{
			ChannelID: day.ChannelID,
			Day:       day.Date,
			SlotIndex: entryIndex,
			Rotation:  rotation,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve virtual asset %s: %w", a.ID, err)
		}
		if len(ids) == 0 {
			return b.expand(day, entryIndex, b.Filler, start, end, allowOverrun)
		}
		var entries []Entry
		cursor := start
		for i, id := range ids {
			if cursor >= end {
				break
			}
			last := i == len(ids)-1
			e := b.physicalEntry(day.ChannelID, id, cursor, end, allowOverrun && last, ref)
			if !last {
				// Interior segments are sized by their natural duration so
				// the remaining ids still fit inside the block.
				if meta, ok := b.Content.Asset(id); ok && meta.DurationMS > 0 && cursor+meta.DurationMS < end {
					e.EndUTCMS = cursor + meta.DurationMS
				}
			}
			entries = append(entries, e)
			cursor = e.EndUTCMS
		}
		// The final virtual segment owns the remainder of the block.
		if n := len(entries); n > 0 && entries[n-1].EndUTCMS < end {
			entries[n-1].EndUTCMS = end
		}
		return entries, nil

	case schedule.KindSynthetic:
		return []Entry{{
			ID:         entryID(day.ChannelID, start),
			ChannelID:  day.ChannelID,
			StartUTCMS: start,
			EndUTCMS:   end,
			AssetID:    a.ID,
			Synthetic:  true,
			Pattern:    a.Pattern,
			Source:     ref,
		}}, nil

	default:
		return nil, fmt.Errorf("unknown schedulable asset kind %q", a.Kind)
	}
}

// physicalEntry sizes an entry from the asset's real duration. Short assets
// still own their slot (the engine pads to the hard stop); long assets are
// clamped unless the block is the day's final one, where the overrun becomes
// the boundary-straddling carry-out.
func (b *Builder) physicalEntry(channelID, assetID string, start, end int64, allowOverrun bool, ref SourceRef) Entry {
	e := Entry{
		ID:         entryID(channelID, start),
		ChannelID:  channelID,
		StartUTCMS: start,
		EndUTCMS:   end,
		AssetID:    assetID,
		Source:     ref,
	}
	meta, ok := b.Content.Asset(assetID)
	if !ok {
		b.logger.Warn().
			Str(log.FieldChannelID, channelID).
			Str(log.FieldAssetID, assetID).
			Msg("asset missing from content store at expansion; keeping slot bounds")
		return e
	}
	e.AssetURI = meta.URI
	if meta.DurationMS > 0 {
		natural := start + meta.DurationMS
		if natural > end && allowOverrun {
			e.EndUTCMS = natural
		}
	}
	return e
}

// chooseFromChain applies the program's play mode for one airing.
func (b *Builder) chooseFromChain(day resolve.Day, entryIndex int, p schedule.SchedulableAsset) schedule.SchedulableAsset {
	switch p.PlayMode {
	case schedule.PlaySequential:
		pos := b.Cursors.NextSequential(p.ID, len(p.Chain))
		return p.Chain[pos]
	case schedule.PlayManual:
		return p.Chain[p.ManualIndex]
	default: // PlayRandom
		h := fnv.New64a()
		_, _ = h.Write([]byte(day.ChannelID))
		_, _ = h.Write([]byte(p.ID))
		_, _ = h.Write([]byte(day.Date.Format(time.DateOnly)))
		_, _ = h.Write([]byte{byte(entryIndex)})
		rng := rand.New(rand.NewSource(int64(h.Sum64())))
		return p.Chain[rng.Intn(len(p.Chain))]
	}
}

func entryID(channelID string, startUTCMS int64) string {
	return fmt.Sprintf("tx-%s-%d", channelID, startUTCMS)
}
