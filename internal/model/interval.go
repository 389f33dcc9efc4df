package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is the calendar unit of an Interval.
type Unit string

const (
	Minute Unit = "m"
	Hour   Unit = "h"
	Day    Unit = "d"
	Week   Unit = "wk"
)

// Interval is a bar bucket size such as 1m, 5m, 1h or 1d.
type Interval struct {
	Count int
	Unit  Unit
}

// ParseInterval parses strings like "1m", "15m", "1h", "1d" and "1wk".
func ParseInterval(s string) (Interval, error) {
	n, u, err := splitCount(s)
	if err != nil {
		return Interval{}, &ConfigurationError{Field: "interval", Reason: err.Error()}
	}
	iv := Interval{Count: n, Unit: u}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// MustInterval is ParseInterval for constants; it panics on error.
func MustInterval(s string) Interval {
	iv, err := ParseInterval(s)
	if err != nil {
		panic(err)
	}
	return iv
}

// Validate checks the count and unit.
func (i Interval) Validate() error {
	if i.Count <= 0 {
		return &ConfigurationError{Field: "interval", Reason: fmt.Sprintf("count must be positive, got %d", i.Count)}
	}
	switch i.Unit {
	case Minute, Hour, Day, Week:
		return nil
	}
	return &ConfigurationError{Field: "interval", Reason: fmt.Sprintf("unknown unit %q", i.Unit)}
}

// IsZero reports whether the interval is unset.
func (i Interval) IsZero() bool { return i.Count == 0 && i.Unit == "" }

// Duration returns the bucket length.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Count) * unitDuration(i.Unit)
}

// Truncate returns the start of the bucket containing t, in UTC.
func (i Interval) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch i.Unit {
	case Day:
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		if i.Count == 1 {
			return d
		}
		days := d.Unix() / 86400
		return time.Unix((days-days%int64(i.Count))*86400, 0).UTC()
	case Week:
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(d.Weekday()) + 6) % 7 // Monday-based weeks
		return d.AddDate(0, 0, -offset)
	}
	return t.Truncate(i.Duration())
}

func (i Interval) String() string {
	if i.IsZero() {
		return ""
	}
	return strconv.Itoa(i.Count) + string(i.Unit)
}

// MarshalText implements encoding.TextMarshaler.
func (i Interval) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Interval) UnmarshalText(b []byte) error {
	iv, err := ParseInterval(string(b))
	if err != nil {
		return err
	}
	*i = iv
	return nil
}

// ParsePeriod parses a lookback window such as "2d", "90m" or "1wk".
func ParsePeriod(s string) (time.Duration, error) {
	n, u, err := splitCount(s)
	if err != nil {
		return 0, &ConfigurationError{Field: "period", Reason: err.Error()}
	}
	if n <= 0 {
		return 0, &ConfigurationError{Field: "period", Reason: fmt.Sprintf("must be positive, got %q", s)}
	}
	d := unitDuration(u)
	if d == 0 {
		return 0, &ConfigurationError{Field: "period", Reason: fmt.Sprintf("unknown unit in %q", s)}
	}
	return time.Duration(n) * d, nil
}

func splitCount(s string) (int, Unit, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return 0, "", fmt.Errorf("malformed %q", s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, "", fmt.Errorf("malformed %q: %w", s, err)
	}
	return n, Unit(s[i:]), nil
}

func unitDuration(u Unit) time.Duration {
	switch u {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	case Week:
		return 7 * 24 * time.Hour
	}
	return 0
}
