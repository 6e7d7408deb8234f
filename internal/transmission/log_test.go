package transmission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slbailey/retrovue/internal/content"
	"github.com/slbailey/retrovue/internal/schedule"
	"github.com/slbailey/retrovue/internal/schedule/resolve"
)

var filler = schedule.SchedulableAsset{ID: "filler", Kind: schedule.KindSynthetic, Pattern: "color_bars"}

const hourMS = int64(60 * 60_000)

func dayAt(start int64, entries ...resolve.Entry) resolve.Day {
	return resolve.Day{
		ChannelID:   "ch1",
		Date:        time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		StartUTCMS:  start,
		EndUTCMS:    start + 24*hourMS,
		GridMinutes: 30,
		Entries:     entries,
	}
}

func put(cs *content.Memory, id string, durationMS int64) {
	cs.Put(content.AssetMeta{
		ID: id, URI: "file:///" + id + ".ts", DurationMS: durationMS,
		State: content.StateReady, ApprovedForBroadcast: true,
	})
}

func physicalRef(id string) schedule.SchedulableAsset {
	return schedule.SchedulableAsset{ID: "sa-" + id, Kind: schedule.KindAsset, AssetID: id}
}

func TestBuildExpandsPhysicalEntries(t *testing.T) {
	cs := content.NewMemory()
	put(cs, "movie", 30*60_000)
	b := NewBuilder(cs, schedule.NewCursorStore(), filler)

	start := time.Date(2026, 9, 7, 6, 0, 0, 0, time.UTC).UnixMilli()
	day := dayAt(start,
		resolve.Entry{FromMinutes: 0, ToMinutes: 30, Asset: physicalRef("movie")},
		resolve.Entry{FromMinutes: 30, ToMinutes: 1440, Asset: filler},
	)

	log, err := b.Build(day, 0)
	require.NoError(t, err)
	require.Len(t, log.Entries, 2)

	first := log.Entries[0]
	assert.Equal(t, start, first.StartUTCMS)
	assert.Equal(t, start+30*60_000, first.EndUTCMS)
	assert.Equal(t, "movie", first.AssetID)
	assert.Equal(t, "file:///movie.ts", first.AssetURI)
	assert.False(t, first.Synthetic)

	second := log.Entries[1]
	assert.True(t, second.Synthetic)
	assert.Equal(t, "color_bars", second.Pattern)
	assert.Equal(t, day.EndUTCMS, second.EndUTCMS)
	assert.Zero(t, log.CarryOutEndUTCMS)
}

func TestBuildFinalBlockOverrunBecomesCarryOut(t *testing.T) {
	cs := content.NewMemory()
	put(cs, "latefilm", 2*hourMS) // block is 90 minutes, asset runs 120
	b := NewBuilder(cs, schedule.NewCursorStore(), filler)

	start := time.Date(2026, 9, 7, 6, 0, 0, 0, time.UTC).UnixMilli()
	day := dayAt(start,
		resolve.Entry{FromMinutes: 0, ToMinutes: 1350, Asset: filler},
		resolve.Entry{FromMinutes: 1350, ToMinutes: 1440, Asset: physicalRef("latefilm")},
	)

	log, err := b.Build(day, 0)
	require.NoError(t, err)
	require.Len(t, log.Entries, 2)

	last := log.Entries[1]
	wantEnd := start + 1350*60_000 + 2*hourMS
	assert.Equal(t, wantEnd, last.EndUTCMS)
	assert.Greater(t, last.EndUTCMS, day.EndUTCMS)
	assert.Equal(t, wantEnd, log.CarryOutEndUTCMS)
}

func TestBuildNonFinalOverrunIsClamped(t *testing.T) {
	cs := content.NewMemory()
	put(cs, "longfilm", 3*hourMS) // block is 60 minutes
	b := NewBuilder(cs, schedule.NewCursorStore(), filler)

	start := time.Date(2026, 9, 7, 6, 0, 0, 0, time.UTC).UnixMilli()
	day := dayAt(start,
		resolve.Entry{FromMinutes: 0, ToMinutes: 60, Asset: physicalRef("longfilm")},
		resolve.Entry{FromMinutes: 60, ToMinutes: 1440, Asset: filler},
	)

	log, err := b.Build(day, 0)
	require.NoError(t, err)
	assert.Equal(t, start+hourMS, log.Entries[0].EndUTCMS)
	assert.Zero(t, log.CarryOutEndUTCMS)
}

func TestBuildCarryInTrimsNextDay(t *testing.T) {
	cs := content.NewMemory()
	put(cs, "morning", 30*60_000)
	b := NewBuilder(cs, schedule.NewCursorStore(), filler)

	start := time.Date(2026, 9, 8, 6, 0, 0, 0, time.UTC).UnixMilli()
	carryIn := start + 45*60_000 // previous day's final block runs 45 min in
	day := dayAt(start,
		resolve.Entry{FromMinutes: 0, ToMinutes: 30, Asset: physicalRef("morning")},
		resolve.Entry{FromMinutes: 30, ToMinutes: 1440, Asset: filler},
	)

	log, err := b.Build(day, carryIn)
	require.NoError(t, err)
	require.Len(t, log.Entries, 1)

	// The first slot is fully covered by the carry-in; the second starts at
	// the off-grid seam, not at its grid line.
	got := log.Entries[0]
	assert.Equal(t, carryIn, got.StartUTCMS)
	assert.Equal(t, day.EndUTCMS, got.EndUTCMS)
	assert.True(t, got.Synthetic)
}

func TestBuildSequentialProgramAdvancesAcrossAirings(t *testing.T) {
	cs := content.NewMemory()
	put(cs, "ep1", 30*60_000)
	put(cs, "ep2", 30*60_000)
	b := NewBuilder(cs, schedule.NewCursorStore(), filler)

	series := schedule.SchedulableAsset{
		ID: "series", Kind: schedule.KindProgram, PlayMode: schedule.PlaySequential,
		Chain: []schedule.SchedulableAsset{physicalRef("ep1"), physicalRef("ep2")},
	}
	start := time.Date(2026, 9, 7, 6, 0, 0, 0, time.UTC).UnixMilli()
	day := dayAt(start,
		resolve.Entry{FromMinutes: 0, ToMinutes: 30, Asset: series},
		resolve.Entry{FromMinutes: 30, ToMinutes: 60, Asset: series},
		resolve.Entry{FromMinutes: 60, ToMinutes: 90, Asset: series},
		resolve.Entry{FromMinutes: 90, ToMinutes: 1440, Asset: filler},
	)

	log, err := b.Build(day, 0)
	require.NoError(t, err)
	require.Len(t, log.Entries, 4)
	assert.Equal(t, "ep1", log.Entries[0].AssetID)
	assert.Equal(t, "ep2", log.Entries[1].AssetID)
	assert.Equal(t, "ep1", log.Entries[2].AssetID) // cursor wraps
}

func TestBuildManualProgramPinsChainPosition(t *testing.T) {
	cs := content.NewMemory()
	put(cs, "ep1", 30*60_000)
	put(cs, "ep2", 30*60_000)
	b := NewBuilder(cs, schedule.NewCursorStore(), filler)

	pinned := schedule.SchedulableAsset{
		ID: "pinned", Kind: schedule.KindProgram, PlayMode: schedule.PlayManual, ManualIndex: 1,
		Chain: []schedule.SchedulableAsset{physicalRef("ep1"), physicalRef("ep2")},
	}
	start := time.Date(2026, 9, 7, 6, 0, 0, 0, time.UTC).UnixMilli()
	day := dayAt(start,
		resolve.Entry{FromMinutes: 0, ToMinutes: 30, Asset: pinned},
		resolve.Entry{FromMinutes: 30, ToMinutes: 1440, Asset: filler},
	)

	log, err := b.Build(day, 0)
	require.NoError(t, err)
	assert.Equal(t, "ep2", log.Entries[0].AssetID)
}

func TestBuildVirtualPartitionsBlock(t *testing.T) {
	cs := content.NewMemory()
	put(cs, "spot1", 10*60_000)
	put(cs, "spot2", 10*60_000)
	b := NewBuilder(cs, schedule.NewCursorStore(), filler)

	virtual := schedule.SchedulableAsset{
		ID: "breaks", Kind: schedule.KindVirtual,
		Rule: pairRule{},
	}
	start := time.Date(2026, 9, 7, 6, 0, 0, 0, time.UTC).UnixMilli()
	day := dayAt(start,
		resolve.Entry{FromMinutes: 0, ToMinutes: 30, Asset: virtual},
		resolve.Entry{FromMinutes: 30, ToMinutes: 1440, Asset: filler},
	)

	log, err := b.Build(day, 0)
	require.NoError(t, err)
	require.Len(t, log.Entries, 3)
	assert.Equal(t, "spot1", log.Entries[0].AssetID)
	assert.Equal(t, "spot2", log.Entries[1].AssetID)
	// The final segment owns the remainder of the block.
	assert.Equal(t, start+30*60_000, log.Entries[1].EndUTCMS)
	assert.Equal(t, log.Entries[0].EndUTCMS, log.Entries[1].StartUTCMS)
}

type pairRule struct{}

func (pairRule) Resolve(schedule.VirtualInput) ([]string, error) {
	return []string{"spot1", "spot2"}, nil
}

func TestBuildMissingAssetKeepsSlotBounds(t *testing.T) {
	cs := content.NewMemory() // nothing ingested
	b := NewBuilder(cs, schedule.NewCursorStore(), filler)

	start := time.Date(2026, 9, 7, 6, 0, 0, 0, time.UTC).UnixMilli()
	day := dayAt(start,
		resolve.Entry{FromMinutes: 0, ToMinutes: 30, Asset: physicalRef("ghost")},
		resolve.Entry{FromMinutes: 30, ToMinutes: 1440, Asset: filler},
	)

	log, err := b.Build(day, 0)
	require.NoError(t, err)
	assert.Equal(t, start, log.Entries[0].StartUTCMS)
	assert.Equal(t, start+30*60_000, log.Entries[0].EndUTCMS)
	assert.Empty(t, log.Entries[0].AssetURI)
}
