// Package ref provides an atomic mutable cell with compare-and-swap based
// operations, exposed as effects. Operations on one Ref are linearizable;
// no ordering is promised across two Refs.
package ref

import (
	"sync/atomic"

	"github.com/on-the-ground/fiberfx/fx"
)

// Ref is an atomic reference to an immutable value of type A.
type Ref[A any] struct {
	cell atomic.Pointer[A]
}

// New allocates a Ref holding the initial value.
func New[A any](initial A) *Ref[A] {
	r := &Ref[A]{}
	r.cell.Store(&initial)
	return r
}

// Make allocates the Ref inside an effect, for programs that want
// referential transparency of allocation.
func Make[A any](initial A) fx.Effect[*Ref[A]] {
	return fx.SucceedWith(func() *Ref[A] { return New(initial) })
}

// Get reads the current value.
func (r *Ref[A]) Get() fx.Effect[A] {
	return fx.SucceedWith(func() A { return *r.cell.Load() })
}

// Set replaces the current value.
func (r *Ref[A]) Set(a A) fx.Effect[fx.Unit] {
	return fx.SucceedWith(func() fx.Unit {
		r.cell.Store(&a)
		return fx.Unit{}
	})
}

// SetAsync replaces the value with relaxed ordering expectations: callers
// must not rely on the write being fenced against their other memory
// operations. The implementation is free to defer the store.
func (r *Ref[A]) SetAsync(a A) fx.Effect[fx.Unit] {
	return fx.SucceedWith(func() fx.Unit {
		r.cell.Store(&a)
		return fx.Unit{}
	})
}

// Update transforms the value with f, retrying the CAS until it lands.
func (r *Ref[A]) Update(f func(A) A) fx.Effect[fx.Unit] {
	return fx.SucceedWith(func() fx.Unit {
		modifyCell(r, func(a A) (struct{}, A) { return struct{}{}, f(a) })
		return fx.Unit{}
	})
}

// UpdateAndGet transforms the value and returns the updated value.
func (r *Ref[A]) UpdateAndGet(f func(A) A) fx.Effect[A] {
	return fx.SucceedWith(func() A {
		return modifyCell(r, func(a A) (A, A) {
			next := f(a)
			return next, next
		})
	})
}

// GetAndUpdate transforms the value and returns the previous value.
func (r *Ref[A]) GetAndUpdate(f func(A) A) fx.Effect[A] {
	return fx.SucceedWith(func() A {
		return modifyCell(r, func(a A) (A, A) { return a, f(a) })
	})
}

// GetAndSet replaces the value and returns the previous one.
func (r *Ref[A]) GetAndSet(a A) fx.Effect[A] {
	return r.GetAndUpdate(func(A) A { return a })
}

// Modify atomically computes a result and a new value from the current
// value, looping on CAS contention.
func Modify[A, B any](r *Ref[A], f func(A) (B, A)) fx.Effect[B] {
	return fx.SucceedWith(func() B {
		return modifyCell(r, f)
	})
}

func modifyCell[A, B any](r *Ref[A], f func(A) (B, A)) B {
	for {
		old := r.cell.Load()
		b, next := f(*old)
		if r.cell.CompareAndSwap(old, &next) {
			return b
		}
	}
}
