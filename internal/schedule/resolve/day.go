// Package resolve builds the per-channel per-broadcast-day lineup at the
// SchedulableAsset level. Output is grid-aligned, contiguous, and
// deterministic for fixed inputs and seed.
package resolve

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/slbailey/retrovue/internal/content"
	"github.com/slbailey/retrovue/internal/log"
	"github.com/slbailey/retrovue/internal/schedule"
)

// Entry is one lineup interval. Minutes are relative to the broadcast-day
// start (minute 0 = programming_day_start_local).
type Entry struct {
	FromMinutes int
	ToMinutes   int
	Asset       schedule.SchedulableAsset
}

// Day is a resolved per-channel broadcast-day lineup.
type Day struct {
	ChannelID   string
	Date        time.Time // calendar day the broadcast day is anchored on
	StartUTCMS  int64
	EndUTCMS    int64
	GridMinutes int
	Entries     []Entry
}

// Builder produces Days from the PlanStore.
type Builder struct {
	Plans    *schedule.PlanStore
	Content  content.Store
	Filler   schedule.SchedulableAsset // declared synthetic filler
	Location *time.Location
	// StartLocalMinutes anchors the broadcast day (minutes after local
	// midnight, commonly 360 for 06:00).
	StartLocalMinutes int

	logger zerolog.Logger
}

// NewBuilder wires a Builder with the channel grid conventions.
func NewBuilder(plans *schedule.PlanStore, store content.Store, filler schedule.SchedulableAsset, loc *time.Location, startLocalMinutes int) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{
		Plans:             plans,
		Content:           store,
		Filler:            filler,
		Location:          loc,
		StartLocalMinutes: startLocalMinutes,
		logger:            log.WithComponent("resolve.builder"),
	}
}

const minutesPerDay = 24 * 60

// BuildDay resolves one broadcast day for a channel. The result always covers
// the full day: slots no plan covers are filled with the declared filler.
func (b *Builder) BuildDay(channelID string, day time.Time) Day {
	grid := b.Plans.GridMinutes()
	startMS, endMS := schedule.DayWindow(day, b.Location, b.StartLocalMinutes)

	slots := minutesPerDay / grid
	picked := make([]schedule.SchedulableAsset, slots)
	for i := 0; i < slots; i++ {
		minute := i * grid
		assets := b.Plans.AssetsFor(channelID, day, minute)
		asset, ok := b.pickAsset(channelID, day, i, assets)
		if !ok {
			picked[i] = b.Filler
			continue
		}
		if eligible, reason := b.assetEligible(asset); !eligible {
			b.logger.Warn().
				Str(log.FieldChannelID, channelID).
				Str(log.FieldAssetID, asset.ID).
				Str(log.FieldReason, reason).
				Msg("ineligible asset replaced with filler at day resolution")
			picked[i] = b.Filler
			continue
		}
		picked[i] = asset
	}

	// Coalesce consecutive slots referencing the same SchedulableAsset.
	var entries []Entry
	for i := 0; i < slots; i++ {
		from := i * grid
		to := from + grid
		if len(entries) > 0 && entries[len(entries)-1].Asset.ID == picked[i].ID {
			entries[len(entries)-1].ToMinutes = to
			continue
		}
		entries = append(entries, Entry{FromMinutes: from, ToMinutes: to, Asset: picked[i]})
	}

	return Day{
		ChannelID:   channelID,
		Date:        time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
		StartUTCMS:  startMS,
		EndUTCMS:    endMS,
		GridMinutes: grid,
		Entries:     entries,
	}
}

// pickAsset selects one asset from the zone's set. Selection is seeded on
// (channel, date, slot) so re-running a day yields an identical lineup.
func (b *Builder) pickAsset(channelID string, day time.Time, slotIndex int, assets []schedule.SchedulableAsset) (schedule.SchedulableAsset, bool) {
	switch len(assets) {
	case 0:
		return schedule.SchedulableAsset{}, false
	case 1:
		return assets[0], true
	}
	rng := rand.New(rand.NewSource(slotSeed(channelID, day, slotIndex)))
	return assets[rng.Intn(len(assets))], true
}

func slotSeed(channelID string, day time.Time, slotIndex int) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(channelID))
	_, _ = h.Write([]byte(day.Format(time.DateOnly)))
	var buf [4]byte
	buf[0] = byte(slotIndex >> 24)
	buf[1] = byte(slotIndex >> 16)
	buf[2] = byte(slotIndex >> 8)
	buf[3] = byte(slotIndex)
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}

// assetEligible applies the content-store predicate at the SchedulableAsset
// level. Synthetic content is always eligible; virtual assets are checked at
// admission once resolved to physical material.
func (b *Builder) assetEligible(a schedule.SchedulableAsset) (bool, string) {
	switch a.Kind {
	case schedule.KindSynthetic, schedule.KindVirtual:
		return true, ""
	case schedule.KindAsset:
		return b.Content.Eligible(a.AssetID)
	case schedule.KindProgram:
		for _, link := range a.Chain {
			if ok, _ := b.assetEligible(link); ok {
				return true, ""
			}
		}
		return false, "no eligible chain entries"
	default:
		return false, "unknown kind"
	}
}
