// Package clock abstracts wall-clock time so expiry, deadlines and daily
// windows can be tested deterministically.
package clock

import "time"

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the production clock. Times are truncated to milliseconds,
// the resolution used on the wire and in storage.
type System struct{}

// Now returns the current UTC time at millisecond resolution.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Millis converts t to Unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts Unix milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
