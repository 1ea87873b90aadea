package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pardis-ai/be-cpq-approvals/internal/errors"
	"github.com/pardis-ai/be-cpq-approvals/internal/repository"
)

// maxDeadlineDays bounds the calendar walk. Hitting it means the calendar
// has no usable open windows and the result is not a valid deadline.
const maxDeadlineDays = 100

// ErrNoOpenWindow is returned when the calendar walk exhausts its day ceiling
// without consuming the required hours. Callers must treat this as a
// calendar configuration error, not a deadline.
var ErrNoOpenWindow = errors.Configuration("business calendar has no open windows")

// ComputeExpiry walks the weekly calendar forward from start until slaHours
// of open time are consumed and returns the resulting instant. Closed days
// and time outside open windows are skipped without consuming hours. The
// returned instant always falls inside an open window.
//
// Pure function: no clock, no side effects.
func ComputeExpiry(start time.Time, slaHours float64, calendar []repository.BusinessHour) (time.Time, error) {
	if slaHours <= 0 {
		return time.Time{}, errors.InvalidInput("sla_hours", "must be positive")
	}
	if len(calendar) == 0 {
		return time.Time{}, ErrNoOpenWindow
	}

	byWeekday := make(map[int]repository.BusinessHour, len(calendar))
	for _, bh := range calendar {
		byWeekday[bh.DayOfWeek] = bh
	}

	cursor := start
	remaining := time.Duration(slaHours * float64(time.Hour))

	for days := 0; days < maxDeadlineDays; {
		day, ok := byWeekday[int(cursor.Weekday())]
		if !ok || !day.IsOpen {
			cursor = nextMidnight(cursor)
			days++
			continue
		}

		opening, err := clockOnDay(cursor, day.StartTime)
		if err != nil {
			return time.Time{}, err
		}
		closing, err := clockOnDay(cursor, day.EndTime)
		if err != nil {
			return time.Time{}, err
		}

		if cursor.Before(opening) {
			cursor = opening
		}
		if !cursor.Before(closing) {
			cursor = nextMidnight(cursor)
			days++
			continue
		}

		hoursLeftToday := closing.Sub(cursor)
		if remaining <= hoursLeftToday {
			return cursor.Add(remaining), nil
		}

		remaining -= hoursLeftToday
		cursor = nextMidnight(cursor)
		days++
	}

	return time.Time{}, ErrNoOpenWindow
}

// nextMidnight returns 00:00 of the day after t, in t's location.
func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// clockOnDay places an "HH:MM" clock value on t's calendar day.
func clockOnDay(t time.Time, clock string) (time.Time, error) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, errors.Configuration(fmt.Sprintf("malformed business hour %q", clock))
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return time.Time{}, errors.Configuration(fmt.Sprintf("malformed business hour %q", clock))
	}
	mi, err := strconv.Atoi(parts[1])
	if err != nil || mi < 0 || mi > 59 {
		return time.Time{}, errors.Configuration(fmt.Sprintf("malformed business hour %q", clock))
	}

	y, m, d := t.Date()
	return time.Date(y, m, d, h, mi, 0, 0, t.Location()), nil
}
