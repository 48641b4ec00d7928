// Package eventtime parses, formats and bumps the event-time values that
// decide which physical row is the current version of a record.
package eventtime

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vexsearch/offstore/internal/value"
)

// ISOLayout is the layout event times are written in.
const ISOLayout = "2006-01-02T15:04:05Z"

// DefaultBump is the offset added to the event time of mutated rows.
const DefaultBump = 10 * time.Second

// candidate column names, compared lower-case
var detectNames = []string{"eventtime", "event_time", "time"}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Parse interprets v as a timestamp. Strings are tried against ISO-8601
// layouts; numbers are Unix seconds, or milliseconds when larger than 1e12.
func Parse(v any) (time.Time, bool) {
	switch x := value.Normalize(v).(type) {
	case int64:
		return fromEpoch(float64(x))
	case float64:
		return fromEpoch(x)
	case string:
		return ParseString(x)
	}
	return time.Time{}, false
}

// ParseString parses an ISO-8601 timestamp or date.
func ParseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	// Trailing Z without a zone designator the layouts accept, e.g. "2024-01-02T03:04:05.1Z".
	if trimmed := strings.TrimSuffix(s, "Z"); trimmed != s {
		if t, err := time.Parse("2006-01-02T15:04:05.999999999", trimmed); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// Format renders t in ISOLayout (UTC, second precision).
func Format(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// Compare orders two event-time values. Unparsable values sort before every
// parsable one; two unparsable values are equal.
func Compare(a, b any) int {
	ta, aok := Parse(a)
	tb, bok := Parse(b)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	return ta.Compare(tb)
}

// Bump moves v forward by d, keeping its representation: numeric epochs stay
// numeric, strings are rewritten in ISOLayout. ok is false when v cannot be
// parsed, in which case v is returned unchanged.
func Bump(v any, d time.Duration) (any, bool) {
	t, ok := Parse(v)
	if !ok {
		return v, false
	}
	bumped := t.Add(d)
	switch x := value.Normalize(v).(type) {
	case int64:
		if x > 1e12 {
			return bumped.UnixMilli(), true
		}
		return bumped.Unix(), true
	case float64:
		if x > 1e12 {
			return float64(bumped.UnixMilli()), true
		}
		return float64(bumped.UnixNano()) / 1e9, true
	}
	return Format(bumped), true
}

// Detect returns the first column whose lower-case name is a well-known
// event-time name, or "".
func Detect(columns []string) string {
	for _, name := range detectNames {
		for _, col := range columns {
			if strings.ToLower(col) == name {
				return col
			}
		}
	}
	return ""
}

// FormatEpoch renders Unix seconds in ISOLayout.
func FormatEpoch(sec int64) string {
	return Format(time.Unix(sec, 0))
}

// ParseEpochString parses a 10-digit Unix timestamp.
func ParseEpochString(s string) (time.Time, bool) {
	if len(s) != 10 {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(n, 0).UTC(), true
}
