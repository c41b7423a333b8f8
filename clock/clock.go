// Package clock provides cancellable timed suspension and the timeout
// combinator built on it.
package clock

import (
	"fmt"
	"time"

	"github.com/rickb777/date/v2/timespan"

	"github.com/on-the-ground/fiberfx/fx"
)

// Sleep suspends the fiber for the given duration. Interrupting the fiber
// while it sleeps tears down the underlying timer. Two sleeps started
// together resume in deadline order as observed by the monotonic clock.
func Sleep(d time.Duration) fx.Effect[fx.Unit] {
	return fx.AsyncInterrupt(func(resume func(fx.Effect[fx.Unit])) fx.Effect[fx.Unit] {
		timer := time.AfterFunc(d, func() {
			resume(fx.UnitEffect())
		})
		return fx.SucceedWith(func() fx.Unit {
			timer.Stop()
			return fx.Unit{}
		})
	})
}

// SpanOf returns the wall-clock span a sleep or timeout started now would
// cover.
func SpanOf(d time.Duration) timespan.TimeSpan {
	now := time.Now()
	return timespan.BetweenTimes(now, now.Add(d))
}

// DeadlineError is the typed failure produced by Timeout, carrying the
// span the deadline covered.
type DeadlineError struct {
	Span timespan.TimeSpan
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("deadline exceeded after %s", e.Span.Duration())
}

// Timeout races e against a sleep: the first to complete wins and the
// loser is interrupted, so e's finalizers run when the deadline fires.
// A missed deadline surfaces as a DeadlineError typed failure.
func Timeout[A any](e fx.Effect[A], d time.Duration) fx.Effect[A] {
	span := fx.SucceedWith(func() timespan.TimeSpan { return SpanOf(d) })
	return fx.FlatMap(span, func(s timespan.TimeSpan) fx.Effect[A] {
		deadline := fx.ZipRight(Sleep(d), fx.Fail[A](&DeadlineError{Span: s}))
		return fx.RaceFirst(e, deadline)
	})
}
