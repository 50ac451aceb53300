package timing

import (
	"time"

	"trading-signalv1/internal/model"
)

// Window is the entry/expiry window of a signal generated at Fired.
type Window struct {
	Fired  time.Time `json:"fired"`
	Wait   int       `json:"wait_seconds"` // seconds from Fired to Entry
	Entry  time.Time `json:"entry"`
	Expiry time.Time `json:"expiry"`
}

// WindowAt anchors a signal generated at now to the next minute boundary:
// Wait = 60 - second-of-minute, Entry = now + Wait (truncated to the second)
// and Expiry = Entry + period. A non-positive period means one minute.
func WindowAt(now time.Time, period time.Duration) Window {
	if period <= 0 {
		period = time.Minute
	}
	wait := 60 - now.Second()
	entry := now.Truncate(time.Second).Add(time.Duration(wait) * time.Second)
	return Window{
		Fired:  now,
		Wait:   wait,
		Entry:  entry,
		Expiry: entry.Add(period),
	}
}

// Countdown decrements the signal's SecondsRemaining by one, floored at
// zero. No other field is touched. It reports whether the value changed.
func Countdown(s *model.Signal) bool {
	if s == nil || s.SecondsRemaining <= 0 {
		return false
	}
	s.SecondsRemaining--
	return true
}
