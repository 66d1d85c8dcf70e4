// Package timeutil provides the small duration-parsing and wallclock-
// anchoring helpers the bucketed pipeline modes need, ported from the
// reference implementation's cli/util/duration.hpp.
package timeutil

import (
	"time"

	"probkit.dev/probkit/internal/perrors"
)

// ParseDuration parses strings of the form "<digits><unit>" where unit is
// one of ms, s, m, h — the same set (and only that set) the CLI's --bucket
// flag accepts.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, perrors.New(perrors.ParseError, "empty duration")
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) {
		return 0, perrors.New(perrors.ParseError, "duration missing digits or unit")
	}
	var value int64
	for j := 0; j < i; j++ {
		value = value*10 + int64(s[j]-'0')
	}
	switch s[i:] {
	case "ms":
		return time.Duration(value) * time.Millisecond, nil
	case "s":
		return time.Duration(value) * time.Second, nil
	case "m":
		return time.Duration(value) * time.Minute, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	default:
		return 0, perrors.Newf(perrors.ParseError, "unknown duration unit %q", s[i:])
	}
}

// Timebase anchors a monotonic clock reading to a wallclock instant, so
// bucket timestamps captured via time.Now() at pipeline start can be
// translated from elapsed monotonic time without repeated wallclock reads
// racing with NTP adjustments mid-run.
type Timebase struct {
	sys0  time.Time
	mono0 time.Time
}

// NewTimebase captures the current instant as the reference point.
func NewTimebase(now time.Time) Timebase {
	return Timebase{sys0: now, mono0: now}
}

// ToSystem translates a time captured from the same clock source as mono0
// (in this module, always time.Now(), which carries a monotonic reading)
// back to a wallclock instant.
func (tb Timebase) ToSystem(t time.Time) time.Time {
	delta := t.Sub(tb.mono0)
	return tb.sys0.Add(delta)
}

// FormatUTCISO8601 renders t as an RFC3339-with-Z UTC timestamp, matching the
// reference CLI's bucket output format exactly.
func FormatUTCISO8601(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
