// Package timestamp produces and reads the ISO 8601 timestamps stored in the
// created and updated fields and on audit records.
//
// Stored form is UTC with microsecond precision and a trailing Z:
//
//	2024-03-01T12:00:00.123456Z
//
// Clock is injectable so triggers and audit records can be tested against a
// fixed time.
package timestamp

import (
	"fmt"
	"strconv"
	"time"
)

// Layout is the stored ISO 8601 form.
const Layout = "2006-01-02T15:04:05.000000Z"

// Clock returns the current time.
type Clock func() time.Time

// System is the wall clock.
var System Clock = time.Now

// Fixed returns a clock that always reports t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

// Now returns the current time in stored form.
func Now() string {
	return Format(System())
}

// NowFrom returns the time reported by clock in stored form. A nil clock is
// the wall clock.
func NowFrom(clock Clock) string {
	if clock == nil {
		clock = System
	}
	return Format(clock())
}

// Format renders t in stored form. The zero time renders as "".
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(Layout)
}

// FormatUnixMs renders Unix milliseconds in stored form. Zero renders as "".
func FormatUnixMs(ms int64) string {
	if ms == 0 {
		return ""
	}
	return Format(time.UnixMilli(ms))
}

// Parse reads a stored timestamp. Also accepts RFC 3339 with or without
// fraction and with an offset, a naive timestamp (assumed UTC), and Unix
// seconds or milliseconds.
func Parse(input any) (time.Time, error) {
	switch v := input.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case int64:
		return fromUnix(v), nil
	case int:
		return fromUnix(int64(v)), nil
	case float64:
		return fromUnix(int64(v)), nil
	case string:
		return parseString(v)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", input)
	}
}

func parseString(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromUnix(n), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// values above 1e12 are milliseconds
func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	if v > 1e12 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// Compare orders two stored timestamps. Unparsable values sort first.
func Compare(a, b string) int {
	ta, errA := Parse(a)
	tb, errB := Parse(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return ta.Compare(tb)
}
