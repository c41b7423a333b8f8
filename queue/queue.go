// Package queue provides the asynchronous FIFO queue the rest of the
// runtime's concurrency primitives build on. Four construction variants
// decide what happens to a surplus offer: back-pressure, sliding, dropping,
// or unbounded growth. The whole queue state is an immutable snapshot
// swapped through one atomic cell.
package queue

import (
	"github.com/on-the-ground/fiberfx/cause"
	"github.com/on-the-ground/fiberfx/fx"
	"github.com/on-the-ground/fiberfx/promise"

	"sync/atomic"
)

type strategy uint8

const (
	backPressure strategy = iota
	sliding
	dropping
)

// putter is a parked offer waiting for capacity: the unconsumed tail of
// its values and the promise its fiber awaits.
type putter[A any] struct {
	values []A
	p      *promise.Promise[bool]
}

// qstate is one immutable snapshot: either surplus (items and possibly
// parked putters), deficit (parked takers), or terminal shutdown.
type qstate[A any] struct {
	shutdown bool
	causes   *cause.Cause
	items    []A
	putters  []putter[A]
	takers   []*promise.Promise[A]
}

func (st *qstate[A]) clone() *qstate[A] {
	next := &qstate[A]{shutdown: st.shutdown, causes: st.causes}
	next.items = append([]A{}, st.items...)
	next.putters = append([]putter[A]{}, st.putters...)
	next.takers = append([]*promise.Promise[A]{}, st.takers...)
	return next
}

// Queue is an asynchronous FIFO. Build one with Bounded, Sliding, Dropping
// or Unbounded.
type Queue[A any] struct {
	capacity int // <= 0 means unbounded
	strat    strategy
	st       atomic.Pointer[qstate[A]]
	hook     *promise.Promise[fx.Unit]
}

func newQueue[A any](capacity int, strat strategy) *Queue[A] {
	q := &Queue[A]{capacity: capacity, strat: strat, hook: promise.New[fx.Unit]()}
	q.st.Store(&qstate[A]{})
	return q
}

// a capacity below 1 would alias the unbounded encoding
func clampCapacity(capacity int) int {
	if capacity < 1 {
		return 1
	}
	return capacity
}

// Bounded builds a back-pressuring queue: surplus offers park until takers
// make room.
func Bounded[A any](capacity int) *Queue[A] {
	return newQueue[A](clampCapacity(capacity), backPressure)
}

// Sliding builds a queue that keeps only the most recent capacity values,
// dropping the oldest on overflow.
func Sliding[A any](capacity int) *Queue[A] {
	return newQueue[A](clampCapacity(capacity), sliding)
}

// Dropping builds a queue that rejects surplus values.
func Dropping[A any](capacity int) *Queue[A] {
	return newQueue[A](clampCapacity(capacity), dropping)
}

// Unbounded builds a queue with no capacity limit.
func Unbounded[A any]() *Queue[A] { return newQueue[A](0, backPressure) }

// Capacity returns the configured capacity, 0 for unbounded.
func (q *Queue[A]) Capacity() int { return q.capacity }

func (q *Queue[A]) unbounded() bool { return q.capacity <= 0 }

// Offer enqueues one value. With back-pressure it resolves to true once
// the value is enqueued, possibly after parking; sliding and dropping
// resolve immediately, false when the value (or an older one) was dropped.
func (q *Queue[A]) Offer(a A) fx.Effect[bool] {
	return q.OfferAll([]A{a})
}

// OfferAll enqueues a batch, satisfying pending takers first in FIFO
// order. Semantics per strategy match Offer.
func (q *Queue[A]) OfferAll(as []A) fx.Effect[bool] {
	return fx.Suspend(func() fx.Effect[bool] {
		for {
			st := q.st.Load()
			if st.shutdown {
				return fx.FailCause[bool](st.causes)
			}
			next := st.clone()

			// pending takers are satisfied before anything occupies the queue
			type handoff struct {
				taker *promise.Promise[A]
				value A
			}
			var handoffs []handoff
			vals := as
			for len(vals) > 0 && len(next.takers) > 0 {
				handoffs = append(handoffs, handoff{taker: next.takers[0], value: vals[0]})
				next.takers = next.takers[1:]
				vals = vals[1:]
			}

			ok := true
			var parked *putter[A]
			if len(vals) > 0 {
				switch {
				case q.unbounded():
					next.items = append(next.items, vals...)
				case q.strat == backPressure:
					room := q.capacity - len(next.items)
					take := min(room, len(vals))
					next.items = append(next.items, vals[:take]...)
					if rest := vals[take:]; len(rest) > 0 {
						parked = &putter[A]{values: append([]A{}, rest...), p: promise.New[bool]()}
						next.putters = append(next.putters, *parked)
					}
				case q.strat == dropping:
					room := q.capacity - len(next.items)
					take := min(room, len(vals))
					next.items = append(next.items, vals[:take]...)
					ok = take == len(vals)
				case q.strat == sliding:
					combined := append(next.items, vals...)
					if len(combined) > q.capacity {
						combined = combined[len(combined)-q.capacity:]
						ok = false
					}
					next.items = combined
				}
			}

			if !q.st.CompareAndSwap(st, next) {
				continue
			}
			for _, h := range handoffs {
				h.taker.UnsafeDone(fx.ExitSucceed(h.value))
			}
			if parked != nil {
				return fx.OnInterrupt(parked.p.Await(), q.removePutter(parked.p))
			}
			return fx.Succeed(ok)
		}
	})
}

// Take dequeues the head, promoting parked putters into the freed space,
// or parks the caller until a value arrives.
func (q *Queue[A]) Take() fx.Effect[A] {
	return fx.Suspend(func() fx.Effect[A] {
		for {
			st := q.st.Load()
			if st.shutdown {
				return fx.FailCause[A](st.causes)
			}
			next := st.clone()

			if len(next.items) > 0 {
				head := next.items[0]
				next.items = next.items[1:]
				completed := q.promote(next)
				if !q.st.CompareAndSwap(st, next) {
					continue
				}
				finishPutters(completed)
				return fx.Succeed(head)
			}

			p := promise.New[A]()
			next.takers = append(next.takers, p)
			if !q.st.CompareAndSwap(st, next) {
				continue
			}
			return fx.OnInterrupt(p.Await(), q.removeTaker(p))
		}
	})
}

// TakeAll drains the queue without suspending, still promoting parked
// putters into the freed space.
func (q *Queue[A]) TakeAll() fx.Effect[[]A] {
	return q.takeBatch(-1)
}

// TakeUpTo dequeues at most n values without suspending.
func (q *Queue[A]) TakeUpTo(n int) fx.Effect[[]A] {
	return q.takeBatch(n)
}

func (q *Queue[A]) takeBatch(limit int) fx.Effect[[]A] {
	return fx.Suspend(func() fx.Effect[[]A] {
		for {
			st := q.st.Load()
			if st.shutdown {
				return fx.FailCause[[]A](st.causes)
			}
			next := st.clone()

			n := len(next.items)
			if limit >= 0 {
				n = min(n, limit)
			}
			taken := append([]A{}, next.items[:n]...)
			next.items = next.items[n:]
			completed := q.promote(next)
			if !q.st.CompareAndSwap(st, next) {
				continue
			}
			finishPutters(completed)
			return fx.Succeed(taken)
		}
	})
}

// Poll returns the head without suspending, nil when the queue is empty.
func (q *Queue[A]) Poll() fx.Effect[*A] {
	return fx.FlatMap(q.TakeUpTo(1), func(as []A) fx.Effect[*A] {
		if len(as) == 0 {
			return fx.Succeed[*A](nil)
		}
		return fx.Succeed(&as[0])
	})
}

// promote drains parked putters in FIFO order into the available space.
// The first putter that does not entirely fit is consumed partially and
// pushed back with its unconsumed tail. Fully consumed putters are
// returned for completion after the CAS lands.
func (q *Queue[A]) promote(next *qstate[A]) []*promise.Promise[bool] {
	var completed []*promise.Promise[bool]
	for len(next.putters) > 0 {
		room := q.capacity - len(next.items)
		if room <= 0 {
			break
		}
		pt := next.putters[0]
		take := min(room, len(pt.values))
		next.items = append(next.items, pt.values[:take]...)
		if take == len(pt.values) {
			next.putters = next.putters[1:]
			completed = append(completed, pt.p)
		} else {
			next.putters[0] = putter[A]{values: append([]A{}, pt.values[take:]...), p: pt.p}
			break
		}
	}
	return completed
}

func finishPutters(completed []*promise.Promise[bool]) {
	for _, p := range completed {
		p.UnsafeDone(fx.ExitSucceed(true))
	}
}

// Size reports queued plus parked-putter values minus parked takers. After
// shutdown it fails with the recorded causes.
func (q *Queue[A]) Size() fx.Effect[int] {
	return fx.Suspend(func() fx.Effect[int] {
		st := q.st.Load()
		if st.shutdown {
			return fx.FailCause[int](st.causes)
		}
		size := len(st.items) - len(st.takers)
		for _, pt := range st.putters {
			size += len(pt.values)
		}
		return fx.Succeed(size)
	})
}

// Shutdown transitions the queue to its terminal state, interrupts every
// parked putter and taker with the caller's id, and fires the shutdown
// hook exactly once.
func (q *Queue[A]) Shutdown() fx.Effect[fx.Unit] {
	return fx.WithDescriptor(func(d fx.Descriptor) fx.Effect[fx.Unit] {
		return fx.Uninterruptible(fx.SucceedWith(func() fx.Unit {
			ic := cause.Interrupt(d.ID)
			for {
				st := q.st.Load()
				if st.shutdown {
					return fx.Unit{}
				}
				if !q.st.CompareAndSwap(st, &qstate[A]{shutdown: true, causes: ic}) {
					continue
				}
				for _, t := range st.takers {
					t.UnsafeDone(fx.ExitFail[A](ic))
				}
				for _, pt := range st.putters {
					pt.p.UnsafeDone(fx.ExitFail[bool](ic))
				}
				q.hook.UnsafeDone(fx.ExitSucceed(fx.Unit{}))
				return fx.Unit{}
			}
		}))
	})
}

// AwaitShutdown suspends until the queue has been shut down.
func (q *Queue[A]) AwaitShutdown() fx.Effect[fx.Unit] {
	return q.hook.Await()
}

// IsShutdown reports whether the queue has been shut down.
func (q *Queue[A]) IsShutdown() fx.Effect[bool] {
	return fx.SucceedWith(func() bool { return q.st.Load().shutdown })
}

func (q *Queue[A]) removeTaker(p *promise.Promise[A]) fx.Effect[fx.Unit] {
	return fx.SucceedWith(func() fx.Unit {
		for {
			st := q.st.Load()
			if st.shutdown {
				return fx.Unit{}
			}
			next := st.clone()
			kept := next.takers[:0]
			for _, t := range next.takers {
				if t != p {
					kept = append(kept, t)
				}
			}
			next.takers = kept
			if q.st.CompareAndSwap(st, next) {
				return fx.Unit{}
			}
		}
	})
}

func (q *Queue[A]) removePutter(p *promise.Promise[bool]) fx.Effect[fx.Unit] {
	return fx.SucceedWith(func() fx.Unit {
		for {
			st := q.st.Load()
			if st.shutdown {
				return fx.Unit{}
			}
			next := st.clone()
			kept := next.putters[:0]
			for _, pt := range next.putters {
				if pt.p != p {
					kept = append(kept, pt)
				}
			}
			next.putters = kept
			if q.st.CompareAndSwap(st, next) {
				return fx.Unit{}
			}
		}
	})
}
