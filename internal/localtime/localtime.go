// Package localtime converts between the upstream's local-time
// representation (calendar date + seconds from midnight in the server's
// configured zone) and absolute UTC instants, and implements the single
// textual datetime format the upstream accepts.
package localtime

import (
	"fmt"
	"time"
)

const (
	// layoutStrict is the only datetime form the upstream parses
	// reliably. Anything else is rejected or silently truncated to
	// midnight, so it is never emitted and never accepted here.
	layoutStrict = "2006-01-02T15:04:05Z"
	layoutDate   = "2006-01-02"

	secondsPerDay = 24 * 60 * 60

	// AllDayStartSeconds and AllDayEndSeconds are the sentinel
	// occurrence times the upstream requires on recurring all-day
	// events (00:00:00 and 23:59:00).
	AllDayStartSeconds = 0
	AllDayEndSeconds   = 86340
)

// FormatError reports a datetime value that does not conform to the
// upstream wire format.
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed datetime %q: %s", e.Value, e.Reason)
}

// ToInstant resolves a calendar date plus seconds-from-midnight in the
// given zone to a UTC instant. The offset is interpreted against the
// zone's UTC offset on that specific date, so the same seconds value
// maps to different instants across a DST boundary. Fractional seconds
// are truncated.
func ToInstant(day time.Time, secondsFromMidnight float64, loc *time.Location) (time.Time, error) {
	if loc == nil {
		return time.Time{}, fmt.Errorf("nil location")
	}
	secs := int(secondsFromMidnight)
	if secs < 0 || secs >= secondsPerDay {
		return time.Time{}, fmt.Errorf("seconds from midnight out of range: %v", secondsFromMidnight)
	}
	local := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, secs, 0, loc)
	return local.UTC(), nil
}

// ToLocalSeconds is the inverse of ToInstant: it splits a UTC instant
// into the calendar date and seconds-from-midnight it falls on in the
// given zone. The returned day is midnight UTC of that calendar date.
func ToLocalSeconds(instant time.Time, loc *time.Location) (day time.Time, seconds int) {
	local := instant.In(loc)
	day = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	seconds = local.Hour()*3600 + local.Minute()*60 + local.Second()
	return day, seconds
}

// FormatStrict renders an instant as YYYY-MM-DDTHH:MM:SSZ, the only
// form ever sent upstream. No fractional seconds, no offset notation.
func FormatStrict(t time.Time) string {
	return t.UTC().Format(layoutStrict)
}

// ParseStrict parses exactly the format produced by FormatStrict.
// Offsets, fractional seconds, and missing zone designators all fail
// with a *FormatError; the adapter never trusts the upstream to
// normalize a nonconforming timestamp.
func ParseStrict(s string) (time.Time, error) {
	if len(s) != len(layoutStrict) {
		return time.Time{}, &FormatError{Value: s, Reason: "expected YYYY-MM-DDTHH:MM:SSZ"}
	}
	t, err := time.Parse(layoutStrict, s)
	if err != nil {
		return time.Time{}, &FormatError{Value: s, Reason: "expected YYYY-MM-DDTHH:MM:SSZ"}
	}
	return t, nil
}

// ParseDate parses a date-only value (YYYY-MM-DD) as used by the
// upstream's series bounds. The result is midnight UTC of that date.
func ParseDate(s string) (time.Time, error) {
	if len(s) != len(layoutDate) {
		return time.Time{}, &FormatError{Value: s, Reason: "expected YYYY-MM-DD"}
	}
	t, err := time.Parse(layoutDate, s)
	if err != nil {
		return time.Time{}, &FormatError{Value: s, Reason: "expected YYYY-MM-DD"}
	}
	return t, nil
}

// FormatDate renders the date-only form used by series bounds.
func FormatDate(t time.Time) string {
	return t.Format(layoutDate)
}
