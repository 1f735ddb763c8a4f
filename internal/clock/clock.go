// Package clock abstracts time for testability across the Session
// Runtime, Hunt Scheduler, and AI Pipeline — every hard timeout in
// spec.md §5 (SSH dial 10s, step timeout, AI idle 60s, WS heartbeat
// 30s, reconnect backoff) is driven through a Clock so tests can
// advance virtual time instead of sleeping. Grounded on the teacher's
// lib/clock package; production code injects Real(), tests inject a
// Fake with deterministic control.
package clock

import "time"

// Clock is the seam between production time.* calls and deterministic
// tests. Any function that would otherwise call time.Now, time.After,
// time.NewTicker, time.AfterFunc, or time.Sleep takes a Clock instead.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) *Timer
	NewTicker(d time.Duration) *Ticker
	Sleep(d time.Duration)
}

// Ticker mirrors time.Ticker behind the Clock seam.
type Ticker struct {
	C         <-chan time.Time
	stopFunc  func()
	resetFunc func(time.Duration)
}

func (t *Ticker) Stop()                   { t.stopFunc() }
func (t *Ticker) Reset(d time.Duration)   { t.resetFunc(d) }

// Timer mirrors time.Timer behind the Clock seam. C is nil for timers
// created via AfterFunc, matching time.AfterFunc's own contract.
type Timer struct {
	C         <-chan time.Time
	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

func (t *Timer) Stop() bool                 { return t.stopFunc() }
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
