package astrobox

import "time"

// clock schedules the client's timers. Tests substitute a manual clock.
type clock interface {
	AfterFunc(d time.Duration, f func()) timer
}

type timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}
