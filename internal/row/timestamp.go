package row

import (
	"fmt"
	"time"
)

// rowtimeLayout is the wire/display format for TIMESTAMP values,
// matching the original implementation's nanosecond-precision strings
// ("2020-01-01 00:00:00.000000000").
const rowtimeLayout = "2006-01-02 15:04:05"

// Timestamp is the event-time value used by ROWTIME columns.
type Timestamp struct {
	t time.Time
}

// NewTimestamp wraps a time.Time as a Timestamp, truncated to the UTC
// timezone the engine operates in internally.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC()}
}

// ParseTimestamp parses the "YYYY-MM-DD HH:MM:SS[.nanos]" wire format.
func ParseTimestamp(s string) (Timestamp, error) {
	var sec, nsec string
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			sec, nsec = s[:i], s[i+1:]
			break
		}
	}
	if sec == "" {
		sec = s
	}
	t, err := time.Parse(rowtimeLayout, sec)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	if nsec != "" {
		for len(nsec) < 9 {
			nsec += "0"
		}
		nsec = nsec[:9]
		var n int
		if _, err := fmt.Sscanf(nsec, "%d", &n); err != nil {
			return Timestamp{}, fmt.Errorf("invalid timestamp fraction %q: %w", s, err)
		}
		t = t.Add(time.Duration(n) * time.Nanosecond)
	}
	return Timestamp{t: t.UTC()}, nil
}

// String renders the timestamp in the 9-digit-nanosecond wire format.
func (ts Timestamp) String() string {
	return fmt.Sprintf("%s.%09d", ts.t.Format(rowtimeLayout), ts.t.Nanosecond())
}

// Time returns the underlying time.Time.
func (ts Timestamp) Time() time.Time { return ts.t }

// Before reports whether ts is strictly before other.
func (ts Timestamp) Before(other Timestamp) bool { return ts.t.Before(other.t) }

// Equal reports whether ts and other denote the same instant.
func (ts Timestamp) Equal(other Timestamp) bool { return ts.t.Equal(other.t) }

// Add returns ts+d.
func (ts Timestamp) Add(d time.Duration) Timestamp { return Timestamp{t: ts.t.Add(d)} }

// Sub returns ts-other.
func (ts Timestamp) Sub(other Timestamp) time.Duration { return ts.t.Sub(other.t) }

// FloorTo floors ts to a multiple of d since the Unix epoch, as the
// FLOOR(ts, DURATION_SECS(n)) expression does (§4.8, §8 S1).
func (ts Timestamp) FloorTo(d time.Duration) Timestamp {
	if d <= 0 {
		return ts
	}
	unixNanos := ts.t.UnixNano()
	floored := unixNanos - unixNanos%int64(d)
	return Timestamp{t: time.Unix(0, floored).UTC()}
}
