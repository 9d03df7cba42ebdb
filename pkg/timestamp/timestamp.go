// Package timestamp provides standardized Unix timestamp handling utilities.
//
// The transport wire format stores timestamps as int64 milliseconds since the
// Unix epoch (UTC). A value of 0 means "not set".
package timestamp

import (
	"strconv"
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// ToTime converts Unix milliseconds to time.Time.
// Returns zero time if the timestamp is 0.
func ToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Format renders a millisecond timestamp as RFC3339 for display and logging.
// Returns the empty string for the zero timestamp.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return ToTime(ms).Format(time.RFC3339)
}

// Parse converts a wire value to Unix milliseconds. It accepts int64/float64
// millisecond values (JSON numbers) and RFC3339 strings. Unrecognized values
// parse to 0.
func Parse(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		if v == "" {
			return 0
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UnixMilli()
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return ms
		}
		return 0
	case time.Time:
		return ToUnixMs(v)
	default:
		return 0
	}
}
