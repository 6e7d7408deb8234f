package schedule

import "time"

// DayStart returns the UTC instant the broadcast day begins: the channel's
// programming_day_start (minutes after local midnight) on the given calendar
// day, in the channel's location.
func DayStart(day time.Time, loc *time.Location, startLocalMinutes int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	return local.Add(time.Duration(startLocalMinutes) * time.Minute).UTC()
}

// DayWindow returns the [start, end) UTC millisecond window of a broadcast day.
func DayWindow(day time.Time, loc *time.Location, startLocalMinutes int) (int64, int64) {
	start := DayStart(day, loc, startLocalMinutes)
	return start.UnixMilli(), start.Add(24 * time.Hour).UnixMilli()
}
