package card

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// msEpochThreshold is the 10-digit heuristic boundary: unix-second
// epochs fit in 10 digits until the year 2286, so any value above this
// is treated as a millisecond epoch.
const msEpochThreshold = 10_000_000_000

// isoLayouts are the date layouts accepted for string timestamps, tried
// in order.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeTimestamp coerces a creation/modification date in any of its
// observed wire representations into an integer unix-second epoch.
// Accepted: second or millisecond epochs as numbers, numeric strings,
// and ISO date strings. Returns false for anything unparsable; the
// caller drops the field rather than storing a malformed value.
// The transform is idempotent: feeding the result back in returns the
// same value.
func NormalizeTimestamp(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return secondsFrom(t), true
	case int:
		return secondsFrom(int64(t)), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return secondsFrom(int64(t)), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return secondsFrom(n), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return 0, false
			}
			return secondsFrom(int64(f)), true
		}
		for _, layout := range isoLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.Unix(), true
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

func secondsFrom(n int64) int64 {
	if n > msEpochThreshold {
		return n / 1000
	}
	return n
}
