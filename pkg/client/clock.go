package client

import "time"

// Timer is a cancellable pending callback
type Timer interface {
	Stop() bool
}

// Clock abstracts time so the failure, typing and notification timers can be
// driven deterministically in tests
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock
var SystemClock Clock = realClock{}
