// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the three time operations the client needs:
// reading the time (stale verification requests), waiting (retry
// backoff) and scheduling a callback (verification step deadlines).
//
// Production code injects Real. Tests inject Fake and drive time with
// Advance, using WaitForTimers to make sure the code under test has
// registered its timer before the clock moves:
//
//	c := clock.Fake(start)
//	go controller.Run(ctx)
//	c.WaitForTimers(1)
//	c.Advance(time.Minute)
package clock

import "time"

// Clock is the injectable time source.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. A
	// non-positive d fires immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer cancels
	// a call that has not happened yet.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc callback.
type Timer struct {
	stop func() bool
}

// Stop cancels the callback. It returns false if the callback already
// ran or the timer was already stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stop: timer.Stop}
}
