package visit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock slot label normalized to minutes since
// midnight (0-1439). All lateness and wraparound arithmetic happens on
// this integer; 12-hour display labels exist only at the boundary.
type TimeOfDay int

const minutesPerDay = 24 * 60

// ParseTimeOfDay accepts "10:00 AM" / "3:30 pm" style 12-hour labels and
// "14:30" 24-hour labels.
func ParseTimeOfDay(label string) (TimeOfDay, error) {
	s := strings.TrimSpace(label)
	if s == "" {
		return 0, fmt.Errorf("%w: empty time label", ErrMalformedSchedule)
	}

	meridiem := ""
	upper := strings.ToUpper(s)
	for _, m := range []string{"AM", "PM"} {
		if strings.HasSuffix(upper, m) {
			meridiem = m
			s = strings.TrimSpace(s[:len(s)-2])
			break
		}
	}

	hhmm := strings.SplitN(s, ":", 2)
	if len(hhmm) != 2 {
		return 0, fmt.Errorf("%w: time label %q", ErrMalformedSchedule, label)
	}

	hour, err := strconv.Atoi(strings.TrimSpace(hhmm[0]))
	if err != nil {
		return 0, fmt.Errorf("%w: time label %q", ErrMalformedSchedule, label)
	}
	minute, err := strconv.Atoi(strings.TrimSpace(hhmm[1]))
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: time label %q", ErrMalformedSchedule, label)
	}

	if meridiem != "" {
		if hour < 1 || hour > 12 {
			return 0, fmt.Errorf("%w: time label %q", ErrMalformedSchedule, label)
		}
		if hour == 12 {
			hour = 0
		}
		if meridiem == "PM" {
			hour += 12
		}
	} else if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: time label %q", ErrMalformedSchedule, label)
	}

	return TimeOfDay(hour*60 + minute), nil
}

// FromClock extracts the minute-of-day from a wall-clock timestamp.
func FromClock(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < minutesPerDay
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// String renders the 12-hour display label, e.g. "10:00 AM", "12:05 PM".
func (t TimeOfDay) String() string {
	hour := t.Hour()
	meridiem := "AM"
	if hour >= 12 {
		meridiem = "PM"
	}
	display := hour % 12
	if display == 0 {
		display = 12
	}
	return fmt.Sprintf("%d:%02d %s", display, t.Minute(), meridiem)
}

// NextHour is the whole hour after t, wrapping past midnight. 11:00 AM
// advances to 12:00 PM, 11:00 PM to 12:00 AM.
func (t TimeOfDay) NextHour() TimeOfDay {
	return TimeOfDay(((t.Hour() + 1) * 60) % minutesPerDay)
}

// TruncateHour drops the minutes, snapping t to its own whole hour.
func (t TimeOfDay) TruncateHour() TimeOfDay {
	return TimeOfDay(t.Hour() * 60)
}

const (
	onTimeGraceMinutes = 30
	minorLateMinutes   = 90
)

// ApplyLatenessPolicy maps minutes late to the slot the visit should
// occupy and a reason code. Deterministic in (scheduled, now); an early
// arrival (negative minutes) counts as on time.
func ApplyLatenessPolicy(scheduled, now TimeOfDay) LatenessReport {
	minutesLate := int(now) - int(scheduled)

	report := LatenessReport{
		MinutesLate:  minutesLate,
		OriginalTime: scheduled,
		NewTime:      scheduled,
	}

	switch {
	case minutesLate <= onTimeGraceMinutes:
		report.Reason = ReasonOnTime
	case minutesLate <= minorLateMinutes:
		report.Reason = ReasonLateMinor
		report.NewTime = scheduled.NextHour()
	default:
		report.Reason = ReasonLateMajor
		report.NewTime = now.TruncateHour()
	}

	return report
}

const dateLayout = "2006-01-02"

// ParseDate parses a calendar date, normalized to midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrValidation, s)
	}
	return d, nil
}

// DateOnly truncates a timestamp to its calendar date in its own location,
// re-anchored at midnight UTC so stored dates compare by equality.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
