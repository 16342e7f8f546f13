package semtech

import (
	"fmt"
	"time"
)

const (
	compactTimeLayout  = "2006-01-02T15:04:05"
	expandedTimeLayout = "2006-01-02 15:04:05 MST"
)

// GPSEpoch is the reference time of the tmms field.
var GPSEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// FormatCompactTime formats t in UTC as ISO 8601 'compact' time, as used by
// the rxpk time field, e.g. 2019-11-27T16:21:17.530974+00:00. The fraction
// is left out for whole seconds and otherwise printed with 3, 6 or 9 digits.
func FormatCompactTime(t time.Time) string {
	t = t.UTC()
	b := t.AppendFormat(nil, compactTimeLayout)

	switch ns := t.Nanosecond(); {
	case ns == 0:
	case ns%int(time.Millisecond) == 0:
		b = fmt.Appendf(b, ".%03d", ns/int(time.Millisecond))
	case ns%int(time.Microsecond) == 0:
		b = fmt.Appendf(b, ".%06d", ns/int(time.Microsecond))
	default:
		b = fmt.Appendf(b, ".%09d", ns)
	}

	return string(append(b, "+00:00"...))
}

// ParseCompactTime parses a time formatted by FormatCompactTime. Any RFC 3339
// offset is accepted.
func ParseCompactTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: compact time: %v", ErrValue, err)
	}
	return t.UTC(), nil
}

// FormatExpandedTime formats t in UTC as ISO 8601 'expanded' time, as used by
// the stat time field, e.g. 2019-11-27 16:21:17 UTC.
func FormatExpandedTime(t time.Time) string {
	return t.UTC().Format(expandedTimeLayout)
}

// ParseExpandedTime parses a time formatted by FormatExpandedTime.
func ParseExpandedTime(s string) (time.Time, error) {
	t, err := time.Parse(expandedTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expanded time: %v", ErrValue, err)
	}
	return t.UTC(), nil
}

// GPSEpochDuration converts a tmms millisecond count to a duration since
// GPSEpoch.
func GPSEpochDuration(tmms uint64) time.Duration {
	return time.Duration(tmms) * time.Millisecond
}
