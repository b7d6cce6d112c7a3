package util

import (
	"strconv"
	"time"
)

// SheetTimestampLayout renders as "hh:mmAM @ YYYY-MM-DD".
const SheetTimestampLayout = "03:04PM @ 2006-01-02"

// FormatSheetTimestamp formats t for the "last updated" cell.
func FormatSheetTimestamp(t time.Time) string {
	return t.Format(SheetTimestampLayout)
}

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// TopOfHour drops minutes, seconds and sub-seconds from t, keeping its location.
// It works on the absolute instant so a repeated wall-clock hour resolves to
// the occurrence t is in.
func TopOfHour(t time.Time) time.Time {
	return t.Add(-time.Duration(t.Minute())*time.Minute -
		time.Duration(t.Second())*time.Second -
		time.Duration(t.Nanosecond()))
}

// AtHour returns the given hour:00:00 on t's calendar day, in t's location.
func AtHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}
