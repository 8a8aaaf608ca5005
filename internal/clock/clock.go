// Package clock abstracts wall time and one-shot timers so that presence,
// typing and sampling timers can be driven deterministically in tests.
package clock

import "time"

// Timer is a one-shot timer created by AfterFunc.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns the wall clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
