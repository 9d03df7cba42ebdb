package timestamp

import (
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	ms := ToUnixMs(now)
	back := ToTime(ms)
	if !back.Equal(now) {
		t.Errorf("round trip mismatch: %v != %v", back, now)
	}
}

func TestZeroValues(t *testing.T) {
	if ToUnixMs(time.Time{}) != 0 {
		t.Error("zero time should convert to 0")
	}
	if !ToTime(0).IsZero() {
		t.Error("0 should convert to zero time")
	}
	if Format(0) != "" {
		t.Error("formatting 0 should return empty string")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected int64
	}{
		{"int64 millis", int64(1672574400000), 1672574400000},
		{"float64 millis (JSON number)", float64(1672574400000), 1672574400000},
		{"int millis", 1672574400000, 1672574400000},
		{"rfc3339 string", "2023-01-01T12:00:00Z", 1672574400000},
		{"numeric string", "1672574400000", 1672574400000},
		{"empty string", "", 0},
		{"garbage string", "not-a-time", 0},
		{"nil", nil, 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Parse(test.value)
			if got != test.expected {
				t.Errorf("expected %d, got %d", test.expected, got)
			}
		})
	}
}
