package stats

import (
	"errors"
	"fmt"
	"time"

	"tally/internal/core"
)

// Named range presets accepted by ResolveRange.
const (
	RangeMonthly     = "monthly"
	RangeThreeMonths = "3months"
	RangeSixMonths   = "6months"
	RangeYearly      = "yearly"
	RangeCustom      = "custom"
)

// ResolveRange turns a preset name into a calendar-aligned window anchored
// on now (UTC). The custom preset requires both boundaries and rejects a
// start after end as a validation failure; nothing is silently coerced.
func ResolveRange(preset string, start, end *time.Time, now time.Time) (core.DateRange, error) {
	now = now.UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	switch preset {
	case RangeMonthly:
		return core.DateRange{
			Start: monthStart,
			End:   endOfMonth(monthStart),
		}, nil
	case RangeThreeMonths:
		return core.DateRange{
			Start: monthStart.AddDate(0, -2, 0),
			End:   endOfMonth(monthStart),
		}, nil
	case RangeSixMonths:
		return core.DateRange{
			Start: monthStart.AddDate(0, -5, 0),
			End:   endOfMonth(monthStart),
		}, nil
	case RangeYearly:
		yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return core.DateRange{
			Start: yearStart,
			End:   yearStart.AddDate(1, 0, 0).Add(-time.Nanosecond),
		}, nil
	case RangeCustom:
		if start == nil || end == nil {
			return core.DateRange{}, core.NewValidationError("range", errors.New("custom range requires both start and end dates"))
		}
		r := core.DateRange{
			Start: startOfDay(*start),
			End:   endOfDay(*end),
		}
		if r.Start.After(r.End) {
			return core.DateRange{}, core.NewValidationError("range", errors.New("start date is after end date"))
		}
		return r, nil
	default:
		return core.DateRange{}, core.NewValidationError("range", fmt.Errorf("unknown time range %q", preset))
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func endOfMonth(monthStart time.Time) time.Time {
	return monthStart.AddDate(0, 1, 0).Add(-time.Nanosecond)
}
