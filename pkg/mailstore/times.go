package mailstore

import (
	"errors"
	"fmt"
	"time"
)

// dbTimeFormats are the textual layouts a timestamp column may come back
// as, depending on the driver and on which writer produced the row.
var dbTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

// parseDBTimeValue converts a scanned timestamp column to time.Time.
// Drivers may hand back time.Time, string, or []byte for TEXT columns.
func parseDBTimeValue(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseDBTimeString(t)
	case []byte:
		return parseDBTimeString(string(t))
	case nil:
		return time.Time{}, errors.New("timestamp is null")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// parseOptionalDBTime is parseDBTimeValue for nullable columns; a SQL
// NULL yields (nil, nil).
func parseOptionalDBTime(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := parseDBTimeValue(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDBTimeString(s string) (time.Time, error) {
	for _, layout := range dbTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
