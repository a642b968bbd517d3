package util

import (
	"strconv"
	"time"
)

// unixMilliCutoff separates unix seconds from unix milliseconds.
const unixMilliCutoff = 1e11

// ParseTime accepts RFC3339(Nano), unix seconds or unix milliseconds.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts <= 0 {
		return time.Time{}, false
	}
	if ts >= unixMilliCutoff {
		return time.UnixMilli(ts), true
	}
	return time.Unix(ts, 0), true
}

// ParseTimeDefault parses time or returns def if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}
