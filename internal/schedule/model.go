// Package schedule holds operator-defined recurring intent: SchedulePlans,
// their Zones, and the SchedulableAssets that fill them. The PlanStore is the
// exclusive owner of everything in this package.
package schedule

import "time"

// AssetKind tags the SchedulableAsset variant.
type AssetKind string

const (
	KindProgram   AssetKind = "PROGRAM"
	KindAsset     AssetKind = "ASSET"
	KindVirtual   AssetKind = "VIRTUAL"
	KindSynthetic AssetKind = "SYNTHETIC"
)

// PlayMode controls how a Program's asset chain resolves per airing.
type PlayMode string

const (
	PlayRandom     PlayMode = "random"
	PlaySequential PlayMode = "sequential"
	PlayManual     PlayMode = "manual"
)

// SchedulableAsset is the operator-facing airable unit. The Kind tag selects
// which fields are meaningful; validation rejects cross-kind field use.
type SchedulableAsset struct {
	ID   string
	Kind AssetKind

	// KindAsset: direct reference to a physical asset in the content store.
	AssetID string

	// KindProgram: ordered chain resolved per airing via PlayMode.
	Chain       []SchedulableAsset
	PlayMode    PlayMode
	ManualIndex int // PlayManual: pinned chain position

	// KindVirtual: input-driven resolution to physical assets.
	Rule VirtualRule

	// KindSynthetic: generated content, always eligible.
	Pattern string // e.g. "color_bars", "test_pattern"
}

// IsFiller reports whether this is declared synthetic filler.
func (a SchedulableAsset) IsFiller() bool {
	return a.Kind == KindSynthetic
}

// VirtualInput is the resolution context handed to a VirtualRule.
type VirtualInput struct {
	ChannelID string
	Day       time.Time // broadcast day (date component)
	SlotIndex int
	Rotation  int // monotonically advanced per airing by the builder
}

// VirtualRule resolves a VirtualAsset to one or more physical asset ids at
// transmission-log build time.
type VirtualRule interface {
	Resolve(in VirtualInput) ([]string, error)
}

// RotationRule is the common VirtualRule: pick the next asset id from a fixed
// pool, rotating per airing.
type RotationRule struct {
	Pool []string
}

func (r RotationRule) Resolve(in VirtualInput) ([]string, error) {
	if len(r.Pool) == 0 {
		return nil, nil
	}
	return []string{r.Pool[in.Rotation%len(r.Pool)]}, nil
}

// WeekdayMask is a bitmask over time.Weekday (bit 0 = Sunday).
type WeekdayMask uint8

const AllDays WeekdayMask = 0x7F

// Has reports whether the mask includes the weekday.
func (m WeekdayMask) Has(d time.Weekday) bool {
	return m&(1<<uint(d)) != 0
}

// DaysOf builds a mask from weekdays.
func DaysOf(days ...time.Weekday) WeekdayMask {
	var m WeekdayMask
	for _, d := range days {
		m |= 1 << uint(d)
	}
	return m
}

// Zone is a named half-open window [FromMinutes, ToMinutes) within the
// programming day, carrying the assets that may air inside it. Times are
// minutes from programming-day start and must snap to the channel grid.
type Zone struct {
	ID          string
	Name        string
	FromMinutes int
	ToMinutes   int
	Days        WeekdayMask
	Assets      []SchedulableAsset
}

// Plan is operator-defined recurring intent for one channel.
type Plan struct {
	ID        string
	ChannelID string
	Name      string
	// DayFilter is a cron expression; only date and day-of-week fields are
	// honored (minute/hour are ignored). Empty means every day.
	DayFilter string
	StartDate *time.Time // inclusive, date component only
	EndDate   *time.Time // inclusive
	Priority  int
	Active    bool
	Zones     []Zone
}
