package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the calendar-date wire format.
const DateLayout = "2006-01-02"

// ClockTime is a local wall-clock time of day stored as minutes since midnight.
type ClockTime int

// ParseClockTime parses an HH:MM string.
func ParseClockTime(raw string) (ClockTime, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", raw, err)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

// MustClockTime parses raw and panics on malformed input. Intended for literals.
func MustClockTime(raw string) ClockTime {
	c, err := ParseClockTime(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf extracts the time of day of t in its own location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On combines the clock time with the calendar date of day, in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, loc)
}

// Scan implements sql.Scanner for TEXT columns holding HH:MM.
func (c *ClockTime) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		*c = 0
		return nil
	default:
		return fmt.Errorf("unsupported clock time source %T", src)
	}
	if len(raw) > 5 {
		raw = raw[:5]
	}
	parsed, err := ParseClockTime(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value implements driver.Valuer.
func (c ClockTime) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseClockTime(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// DateIn returns midnight of t's calendar date (as seen in loc) in loc.
func DateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// CivilDate re-anchors a DATE column value (returned by the driver at UTC midnight) to loc.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// EndOfDay returns the last representable instant of t's date in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return DateIn(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
