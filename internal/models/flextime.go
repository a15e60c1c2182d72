package models

import (
	"bytes"
	"encoding/json"
	"regexp"
	"time"
)

var plainDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Layouts tried for datetime strings. Layouts without an offset are read in
// the caller's location.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
}

type flexKind uint8

const (
	flexNone flexKind = iota
	flexPlainDate
	flexDatetime
	flexInstant
)

// FlexTime is a date as the backend sends it: a plain "YYYY-MM-DD" string,
// an ISO datetime string, or a server timestamp {_seconds, _nanoseconds}.
// Anything else decodes to the zero FlexTime, meaning absent.
type FlexTime struct {
	kind    flexKind
	raw     string
	instant time.Time
}

// PlainDate builds a calendar date without a time of day.
func PlainDate(year int, month time.Month, day int) FlexTime {
	return FlexTime{kind: flexPlainDate, raw: time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)}
}

// Instant wraps an absolute point in time.
func Instant(t time.Time) FlexTime {
	return FlexTime{kind: flexInstant, instant: t}
}

// ParseFlexString classifies s. The second result is false when s is neither
// a plain date nor a recognised datetime.
func ParseFlexString(s string) (FlexTime, bool) {
	if plainDatePattern.MatchString(s) {
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return FlexTime{}, false
		}
		return FlexTime{kind: flexPlainDate, raw: s}, true
	}
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return FlexTime{kind: flexDatetime, raw: s}, true
		}
	}
	return FlexTime{}, false
}

func (f FlexTime) IsZero() bool { return f.kind == flexNone }

// In resolves f to a time in loc. Plain dates become local midnight in loc so
// the calendar day never shifts with the zone offset; datetimes and instants
// keep their moment and read their calendar day in loc.
func (f FlexTime) In(loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	switch f.kind {
	case flexPlainDate:
		t, err := time.ParseInLocation(time.DateOnly, f.raw, loc)
		return t, err == nil
	case flexDatetime:
		for _, layout := range datetimeLayouts {
			if t, err := time.ParseInLocation(layout, f.raw, loc); err == nil {
				return t.In(loc), true
			}
		}
		return time.Time{}, false
	case flexInstant:
		return f.instant.In(loc), true
	}
	return time.Time{}, false
}

type serverTimestamp struct {
	Seconds      *int64 `json:"_seconds"`
	Nanoseconds  int64  `json:"_nanoseconds"`
	PlainSeconds *int64 `json:"seconds"`
	PlainNanos   int64  `json:"nanoseconds"`
}

func (f *FlexTime) UnmarshalJSON(b []byte) error {
	*f = FlexTime{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if parsed, ok := ParseFlexString(s); ok {
			*f = parsed
		}
	case '{':
		var ts serverTimestamp
		if err := json.Unmarshal(b, &ts); err != nil {
			return err
		}
		switch {
		case ts.Seconds != nil:
			*f = Instant(time.Unix(*ts.Seconds, ts.Nanoseconds))
		case ts.PlainSeconds != nil:
			*f = Instant(time.Unix(*ts.PlainSeconds, ts.PlainNanos))
		}
	}
	return nil
}

func (f FlexTime) MarshalJSON() ([]byte, error) {
	switch f.kind {
	case flexPlainDate, flexDatetime:
		return json.Marshal(f.raw)
	case flexInstant:
		return json.Marshal(f.instant.UTC().Format(time.RFC3339Nano))
	}
	return []byte("null"), nil
}
