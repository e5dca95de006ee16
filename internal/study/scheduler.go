package study

import "time"

// Scheduler runs fn once after d. The host decides how time passes.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// WallClock schedules on real time.
type WallClock struct{}

// After implements Scheduler.
func (WallClock) After(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}
