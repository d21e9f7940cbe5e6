package models

import (
	"fmt"
	"strings"
	"time"
)

// FeedLocation is applied to upstream timestamps that carry no zone
// offset. Swiss open-data feeds publish naive timestamps in local time.
var FeedLocation = mustLoadLocation("Europe/Zurich")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999", // no zone, fractional seconds
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseTime parses the timestamp shapes found across SIRI, DATEX II, OJP
// and OCIT-C payloads.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	var parseErr error
	for _, layout := range timeLayouts {
		var (
			t   time.Time
			err error
		)
		if strings.Contains(layout, "Z07") {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, FeedLocation)
		}
		if err == nil {
			return t, nil
		}
		parseErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time %q: %w", s, parseErr)
}

// CustomTime is a time.Time that tolerates missing zone offsets when
// decoded and renders null when zero.
type CustomTime struct {
	time.Time
}

// UnmarshalJSON handles parsing of timestamps without timezone
func (ct *CustomTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), "\"")
	if s == "null" || s == "" {
		return nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return err
	}
	ct.Time = t
	return nil
}

// UnmarshalText lets CustomTime be used for XML character data.
func (ct *CustomTime) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	t, err := ParseTime(string(b))
	if err != nil {
		return err
	}
	ct.Time = t
	return nil
}

// MarshalJSON converts the time back to JSON
func (ct CustomTime) MarshalJSON() ([]byte, error) {
	if ct.Time.IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("\"%s\"", ct.Time.Format(time.RFC3339))), nil
}

// TimePtr returns nil for the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
