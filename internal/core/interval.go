package core

import "time"

// NextOccurrence returns the next due instant after current for the given
// interval. All arithmetic happens in UTC so that daylight-saving shifts in
// the host zone cannot drift the schedule.
//
// Month and year steps clamp to the last valid day of the target month
// instead of rolling over: Jan 31 + 1 month is Feb 29 (or 28), and
// Feb 29 + 1 year is Feb 28. An unrecognized interval returns the input
// unchanged; callers must not schedule on a missing interval.
func NextOccurrence(current time.Time, interval Interval) time.Time {
	current = current.UTC()

	switch interval {
	case Daily:
		return current.AddDate(0, 0, 1)
	case Weekly:
		return current.AddDate(0, 0, 7)
	case Monthly:
		return addMonthsClamped(current, 1)
	case Yearly:
		return addMonthsClamped(current, 12)
	default:
		return current
	}
}

// addMonthsClamped advances by whole months, clamping the day of month to
// the last day of the target month. time.AddDate would normalize Jan 31 + 1
// month into March; clamping keeps a "31st of the month" schedule on the
// month it belongs to.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, t.Nanosecond(), time.UTC)
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
