package config

import (
	"encoding/json"
	"time"

	"github.com/c360/servicekit/errors"
)

// Duration is a time.Duration that unmarshals from JSON strings like "30s"
// or "5m", as well as plain nanosecond numbers.
type Duration time.Duration

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return errors.WrapInvalid(errors.ErrParsingFailed, "Duration", "UnmarshalJSON",
				"parse duration "+value)
		}
		*d = Duration(parsed)
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidData, "Duration", "UnmarshalJSON",
			"duration must be a string or a number")
	}
}
