package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Validation error codes. Stable: the operator surface keys off them.
const (
	CodeNameConflict     = "PLAN_NAME_CONFLICT"
	CodeDateRange        = "PLAN_DATE_RANGE_INVALID"
	CodeBadCron          = "PLAN_DAY_FILTER_INVALID"
	CodeNegativePriority = "PLAN_PRIORITY_NEGATIVE"
	CodeZoneOverlap      = "ZONE_OVERLAP"
	CodeCoverageGap      = "ZONE_COVERAGE_GAP"
	CodeGridMisaligned   = "ZONE_GRID_MISALIGNED"
	CodeBadAsset         = "SCHEDULABLE_ASSET_INVALID"
)

// Interval is a half-open [From, To) window in programming-day minutes.
type Interval struct {
	FromMinutes int
	ToMinutes   int
}

// ValidationError carries structured detail for operator surfaces.
type ValidationError struct {
	Code              string
	Message           string
	OffendingIDs      []string
	OffendingInterval *Interval
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan_validation_error %s: %s", e.Code, e.Message)
}

const minutesPerDay = 24 * 60

// validatePlan checks every write-time invariant. gridMinutes is the channel
// scheduling grid (30 by default).
func validatePlan(p Plan, siblings []Plan, gridMinutes int) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return &ValidationError{Code: CodeNameConflict, Message: "plan name is empty", OffendingIDs: []string{p.ID}}
	}
	for _, other := range siblings {
		if other.ID == p.ID {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(other.Name), name) {
			return &ValidationError{
				Code:         CodeNameConflict,
				Message:      fmt.Sprintf("plan name %q already used on channel %s", name, p.ChannelID),
				OffendingIDs: []string{p.ID, other.ID},
			}
		}
	}

	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return &ValidationError{
			Code:         CodeDateRange,
			Message:      fmt.Sprintf("end date %s precedes start date %s", p.EndDate.Format(time.DateOnly), p.StartDate.Format(time.DateOnly)),
			OffendingIDs: []string{p.ID},
		}
	}

	if p.Priority < 0 {
		return &ValidationError{
			Code:         CodeNegativePriority,
			Message:      fmt.Sprintf("priority %d is negative", p.Priority),
			OffendingIDs: []string{p.ID},
		}
	}

	if p.DayFilter != "" {
		if _, err := parseDayFilter(p.DayFilter); err != nil {
			return &ValidationError{
				Code:         CodeBadCron,
				Message:      fmt.Sprintf("day filter %q: %v", p.DayFilter, err),
				OffendingIDs: []string{p.ID},
			}
		}
	}

	for _, z := range p.Zones {
		if err := validateZone(z, gridMinutes); err != nil {
			return err
		}
	}
	return validateZoneLayout(p)
}

func validateZone(z Zone, gridMinutes int) error {
	if z.FromMinutes < 0 || z.ToMinutes > minutesPerDay || z.FromMinutes >= z.ToMinutes {
		return &ValidationError{
			Code:              CodeZoneOverlap,
			Message:           fmt.Sprintf("zone %q window [%d,%d) is not a valid programming-day interval", z.Name, z.FromMinutes, z.ToMinutes),
			OffendingIDs:      []string{z.ID},
			OffendingInterval: &Interval{FromMinutes: z.FromMinutes, ToMinutes: z.ToMinutes},
		}
	}
	if z.FromMinutes%gridMinutes != 0 || z.ToMinutes%gridMinutes != 0 {
		return &ValidationError{
			Code:              CodeGridMisaligned,
			Message:           fmt.Sprintf("zone %q window [%d,%d) does not snap to the %d-minute grid", z.Name, z.FromMinutes, z.ToMinutes, gridMinutes),
			OffendingIDs:      []string{z.ID},
			OffendingInterval: &Interval{FromMinutes: z.FromMinutes, ToMinutes: z.ToMinutes},
		}
	}
	for _, a := range z.Assets {
		if err := validateAsset(a); err != nil {
			return err
		}
	}
	return nil
}

func validateAsset(a SchedulableAsset) error {
	bad := func(msg string) error {
		return &ValidationError{Code: CodeBadAsset, Message: msg, OffendingIDs: []string{a.ID}}
	}
	switch a.Kind {
	case KindAsset:
		if a.AssetID == "" {
			return bad(fmt.Sprintf("asset %s has no physical asset reference", a.ID))
		}
	case KindProgram:
		if len(a.Chain) == 0 {
			return bad(fmt.Sprintf("program %s has an empty asset chain", a.ID))
		}
		switch a.PlayMode {
		case PlayRandom, PlaySequential:
		case PlayManual:
			if a.ManualIndex < 0 || a.ManualIndex >= len(a.Chain) {
				return bad(fmt.Sprintf("program %s manual index %d out of chain range", a.ID, a.ManualIndex))
			}
		default:
			return bad(fmt.Sprintf("program %s has unknown play mode %q", a.ID, a.PlayMode))
		}
		for _, link := range a.Chain {
			if err := validateAsset(link); err != nil {
				return err
			}
		}
	case KindVirtual:
		if a.Rule == nil {
			return bad(fmt.Sprintf("virtual asset %s has no resolution rule", a.ID))
		}
	case KindSynthetic:
		if a.Pattern == "" {
			return bad(fmt.Sprintf("synthetic asset %s has no pattern", a.ID))
		}
	default:
		return bad(fmt.Sprintf("asset %s has unknown kind %q", a.ID, a.Kind))
	}
	return nil
}

// validateZoneLayout enforces per-weekday no-overlap and full-day coverage
// over the union of weekdays the plan's zones are active on.
func validateZoneLayout(p Plan) error {
	var union WeekdayMask
	for _, z := range p.Zones {
		union |= z.Days
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if !union.Has(d) {
			continue
		}
		var active []Zone
		for _, z := range p.Zones {
			if z.Days.Has(d) {
				active = append(active, z)
			}
		}
		sort.Slice(active, func(i, j int) bool { return active[i].FromMinutes < active[j].FromMinutes })

		cursor := 0
		for _, z := range active {
			if z.FromMinutes < cursor {
				prev := active[0]
				for _, c := range active {
					if c.ToMinutes == cursor || c.ToMinutes > z.FromMinutes {
						prev = c
						break
					}
				}
				return &ValidationError{
					Code:              CodeZoneOverlap,
					Message:           fmt.Sprintf("zones %q and %q overlap on %s", prev.Name, z.Name, d),
					OffendingIDs:      []string{prev.ID, z.ID},
					OffendingInterval: &Interval{FromMinutes: z.FromMinutes, ToMinutes: min(prev.ToMinutes, z.ToMinutes)},
				}
			}
			if z.FromMinutes > cursor {
				return &ValidationError{
					Code:              CodeCoverageGap,
					Message:           fmt.Sprintf("no zone covers [%d,%d) on %s", cursor, z.FromMinutes, d),
					OffendingIDs:      []string{p.ID},
					OffendingInterval: &Interval{FromMinutes: cursor, ToMinutes: z.FromMinutes},
				}
			}
			cursor = z.ToMinutes
		}
		if cursor < minutesPerDay {
			return &ValidationError{
				Code:              CodeCoverageGap,
				Message:           fmt.Sprintf("no zone covers [%d,%d) on %s", cursor, minutesPerDay, d),
				OffendingIDs:      []string{p.ID},
				OffendingInterval: &Interval{FromMinutes: cursor, ToMinutes: minutesPerDay},
			}
		}
	}
	return nil
}
