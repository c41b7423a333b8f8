// Package promise provides a one-shot value cell synchronizing producers
// and consumers: the first completion wins, every waiter observes the same
// exit, and waiters registered after completion fire immediately.
package promise

import (
	"sync/atomic"

	"github.com/on-the-ground/fiberfx/cause"
	"github.com/on-the-ground/fiberfx/fx"
)

type waiter[A any] struct {
	id     uint64
	notify func(fx.Exit[A])
}

type state[A any] struct {
	done    bool
	exit    fx.Exit[A]
	waiters []waiter[A]
}

// Promise is a one-shot cell. The zero value is not valid; use New.
type Promise[A any] struct {
	st  atomic.Pointer[state[A]]
	ids atomic.Uint64
}

// New allocates an empty promise.
func New[A any]() *Promise[A] {
	p := &Promise[A]{}
	p.st.Store(&state[A]{})
	return p
}

// Make allocates the promise inside an effect.
func Make[A any]() fx.Effect[*Promise[A]] {
	return fx.SucceedWith(New[A])
}

// Await suspends until the promise completes and propagates its exit into
// the caller. Interrupting the awaiting fiber unregisters its waiter so no
// reference leaks.
func (p *Promise[A]) Await() fx.Effect[A] {
	return fx.FlatMap(p.AwaitExit(), fx.Done[A])
}

// AwaitExit suspends until the promise completes and returns the exit as a
// value.
func (p *Promise[A]) AwaitExit() fx.Effect[fx.Exit[A]] {
	return fx.AsyncInterrupt(func(resume func(fx.Effect[fx.Exit[A]])) fx.Effect[fx.Unit] {
		id := p.ids.Add(1)
		w := waiter[A]{id: id, notify: func(exit fx.Exit[A]) {
			resume(fx.Succeed(exit))
		}}
		for {
			st := p.st.Load()
			if st.done {
				w.notify(st.exit)
				return fx.UnitEffect()
			}
			next := &state[A]{waiters: append(append([]waiter[A]{}, st.waiters...), w)}
			if p.st.CompareAndSwap(st, next) {
				return fx.SucceedWith(func() fx.Unit {
					p.removeWaiter(id)
					return fx.Unit{}
				})
			}
		}
	})
}

func (p *Promise[A]) removeWaiter(id uint64) {
	for {
		st := p.st.Load()
		if st.done {
			return
		}
		kept := make([]waiter[A], 0, len(st.waiters))
		for _, w := range st.waiters {
			if w.id != id {
				kept = append(kept, w)
			}
		}
		if p.st.CompareAndSwap(st, &state[A]{waiters: kept}) {
			return
		}
	}
}

// UnsafeDone completes the promise outside an effect. The first completer
// wins and notifies the waiters in registration order; later completers
// observe false.
func (p *Promise[A]) UnsafeDone(exit fx.Exit[A]) bool {
	for {
		st := p.st.Load()
		if st.done {
			return false
		}
		if p.st.CompareAndSwap(st, &state[A]{done: true, exit: exit}) {
			for _, w := range st.waiters {
				w.notify(exit)
			}
			return true
		}
	}
}

// Done completes the promise with the given exit.
func (p *Promise[A]) Done(exit fx.Exit[A]) fx.Effect[bool] {
	return fx.SucceedWith(func() bool { return p.UnsafeDone(exit) })
}

// Succeed completes the promise with a value.
func (p *Promise[A]) Succeed(a A) fx.Effect[bool] {
	return p.Done(fx.ExitSucceed(a))
}

// Fail completes the promise with a typed failure.
func (p *Promise[A]) Fail(err error) fx.Effect[bool] {
	return p.Done(fx.ExitFail[A](cause.Fail(err)))
}

// Halt completes the promise with a full cause.
func (p *Promise[A]) Halt(c *cause.Cause) fx.Effect[bool] {
	return p.Done(fx.ExitFail[A](c))
}

// Interrupt completes the promise with an interruption attributed to the
// calling fiber.
func (p *Promise[A]) Interrupt() fx.Effect[bool] {
	return fx.WithDescriptor(func(d fx.Descriptor) fx.Effect[bool] {
		return p.InterruptAs(d.ID)
	})
}

// InterruptAs completes the promise with an interruption attributed to the
// given fiber id.
func (p *Promise[A]) InterruptAs(id uint64) fx.Effect[bool] {
	return p.Done(fx.ExitFail[A](cause.Interrupt(id)))
}

// Poll returns the exit if the promise has completed, without suspending.
func (p *Promise[A]) Poll() fx.Effect[*fx.Exit[A]] {
	return fx.SucceedWith(func() *fx.Exit[A] {
		st := p.st.Load()
		if !st.done {
			return nil
		}
		exit := st.exit
		return &exit
	})
}
