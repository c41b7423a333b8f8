package fx

import "github.com/on-the-ground/fiberfx/cause"

// RaceWith forks l and r as supervised children and resumes the caller
// with the done callback of whichever completes first, handing it the
// loser's handle. The loser is not interrupted by the race machinery;
// policy lives in the callbacks. Ties are broken in l's favor.
func RaceWith[A, B, C any](
	l Effect[A],
	r Effect[B],
	onLeftDone func(Exit[A], Fiber[B]) Effect[C],
	onRightDone func(Exit[B], Fiber[A]) Effect[C],
) Effect[C] {
	return Effect[C]{n: &raceNode{
		left:      l.n,
		right:     r.n,
		leftMode:  SuperviseInterrupt,
		rightMode: SuperviseInterrupt,
		leftDone: func(exit Exit[any], loser *fiberContext) anyEffect {
			return onLeftDone(typedExit[A](exit), Fiber[B]{ctx: loser}).n
		},
		rightDone: func(exit Exit[any], loser *fiberContext) anyEffect {
			return onRightDone(typedExit[B](exit), Fiber[A]{ctx: loser}).n
		},
	}}
}

// Race returns the first of l and r to succeed, interrupting the loser.
// When the first to complete fails, the race waits for the other side; if
// both fail the causes are combined in parallel.
func Race[A any](l, r Effect[A]) Effect[A] {
	return RaceWith(l, r, raceWinner[A], raceWinner[A])
}

func raceWinner[A any](exit Exit[A], loser Fiber[A]) Effect[A] {
	if exit.Cause == nil {
		return FlatMap(loser.Interrupt(), func(Exit[A]) Effect[A] {
			return Succeed(exit.Value)
		})
	}
	return FlatMap(loser.Await(), func(other Exit[A]) Effect[A] {
		if other.Cause == nil {
			return Succeed(other.Value)
		}
		return FailCause[A](cause.Both(exit.Cause, other.Cause))
	})
}

// RaceFirst returns the first of l and r to complete with any exit,
// interrupting the loser.
func RaceFirst[A any](l, r Effect[A]) Effect[A] {
	first := func(exit Exit[A], loser Fiber[A]) Effect[A] {
		return FlatMap(loser.Interrupt(), func(Exit[A]) Effect[A] {
			return Done(exit)
		})
	}
	return RaceWith(l, r, first, first)
}

// Disconnect runs e on a child whose interruption is fire-and-forget: an
// interrupt of the caller signals e but does not await its finalizers.
func Disconnect[A any](e Effect[A]) Effect[A] {
	return FlatMap(ForkDisconnected(e), func(f Fiber[A]) Effect[A] {
		return f.Join()
	})
}

// ZipPar runs l and r concurrently and pairs the results, interrupting the
// other side when one fails.
func ZipPar[A, B any](l Effect[A], r Effect[B]) Effect[Pair[A, B]] {
	return RaceWith(l, r,
		func(exit Exit[A], loser Fiber[B]) Effect[Pair[A, B]] {
			if exit.Cause != nil {
				return zipParLoss[Pair[A, B]](exit.Cause, loser)
			}
			return Map(loser.Join(), func(b B) Pair[A, B] {
				return Pair[A, B]{First: exit.Value, Second: b}
			})
		},
		func(exit Exit[B], loser Fiber[A]) Effect[Pair[A, B]] {
			if exit.Cause != nil {
				return zipParLoss[Pair[A, B]](exit.Cause, loser)
			}
			return Map(loser.Join(), func(a A) Pair[A, B] {
				return Pair[A, B]{First: a, Second: exit.Value}
			})
		},
	)
}

func zipParLoss[A, L any](c *cause.Cause, loser Fiber[L]) Effect[A] {
	return FlatMap(loser.Interrupt(), func(other Exit[L]) Effect[A] {
		if other.Cause != nil && !other.Cause.InterruptedOnly() {
			return FailCause[A](cause.Both(c, other.Cause))
		}
		return FailCause[A](c)
	})
}
