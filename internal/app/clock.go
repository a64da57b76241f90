package app

import "time"

// Clock is injected wherever "now" matters: date guards, probes, countdowns.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
