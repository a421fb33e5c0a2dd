package chat

import (
	"strconv"
	"strings"
	"time"
)

// ParseWhen parses a raw wire timestamp. It accepts RFC3339 (with or
// without sub-second precision) and bare epoch milliseconds. Localized
// display strings and anything else fail closed: callers must treat an
// unparsable time as "unknown", never as a zero instant.
func ParseWhen(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// When returns the message's parsed send time. Entries with an unparsable
// timestamp sort as if they occurred at the epoch.
func (m Message) When() time.Time {
	if t, ok := ParseWhen(m.SentAt); ok {
		return t
	}
	return time.UnixMilli(0)
}
