package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// parseDayFilter parses a five-field cron expression, honoring only the
// day-of-month, month, and day-of-week fields. Minute and hour are forced to
// a fixed value so that schedule evaluation is purely a date predicate.
func parseDayFilter(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 cron fields, got %d", len(fields))
	}
	fields[0] = "0"
	fields[1] = "0"
	return cronParser.Parse(strings.Join(fields, " "))
}

// dayMatches reports whether the filter fires on the given calendar day.
func dayMatches(expr string, day time.Time) (bool, error) {
	if expr == "" {
		return true, nil
	}
	sched, err := parseDayFilter(expr)
	if err != nil {
		return false, err
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	next := sched.Next(dayStart.Add(-time.Minute))
	return next.Year() == dayStart.Year() && next.YearDay() == dayStart.YearDay(), nil
}

// planCoversDay combines the plan's active flag, date window, and day filter.
func planCoversDay(p Plan, day time.Time) bool {
	if !p.Active {
		return false
	}
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	if p.StartDate != nil {
		start := time.Date(p.StartDate.Year(), p.StartDate.Month(), p.StartDate.Day(), 0, 0, 0, 0, time.UTC)
		if date.Before(start) {
			return false
		}
	}
	if p.EndDate != nil {
		end := time.Date(p.EndDate.Year(), p.EndDate.Month(), p.EndDate.Day(), 0, 0, 0, 0, time.UTC)
		if date.After(end) {
			return false
		}
	}
	ok, err := dayMatches(p.DayFilter, day)
	if err != nil {
		// Invalid filters are rejected at write time; treat as no match.
		return false
	}
	return ok
}
