// Package fx implements the effect algebra and its interpreter. An Effect
// is an immutable description of a computation; nothing runs until a
// Runtime evaluates it on a fiber. Composition happens through top-level
// generic functions because Go methods cannot introduce type parameters.
package fx

import (
	"sync/atomic"

	"github.com/on-the-ground/fiberfx/cause"
	"github.com/on-the-ground/fiberfx/platform"
)

// Effect is an immutable, composable description of a computation that may
// succeed with an A, fail with a Cause, or never terminate. The zero value
// is invalid; always build effects through constructors.
type Effect[A any] struct {
	n anyEffect
}

// Unit is the value of effects run only for their side effects.
type Unit = struct{}

var unitVal = Unit{}

func casWin(flag *int32) bool {
	return atomic.CompareAndSwapInt32(flag, 0, 1)
}

// --- constructors ---

// Succeed lifts a pure value.
func Succeed[A any](a A) Effect[A] {
	return Effect[A]{n: &succeedNode{value: a}}
}

// SucceedWith runs an infallible side effect when evaluated.
func SucceedWith[A any](thunk func() A) Effect[A] {
	return Effect[A]{n: &totalNode{thunk: func() any { return thunk() }}}
}

// Attempt runs a fallible side effect; a returned error becomes a typed
// failure, a panic becomes a defect.
func Attempt[A any](thunk func() (A, error)) Effect[A] {
	return Effect[A]{n: &partialNode{thunk: func() (any, error) { return thunk() }}}
}

// Suspend defers construction of an effect until evaluation.
func Suspend[A any](thunk func() Effect[A]) Effect[A] {
	return Effect[A]{n: &suspendNode{thunk: func() anyEffect { return thunk().n }}}
}

// AttemptSuspend defers construction of an effect; a returned error becomes
// a typed failure.
func AttemptSuspend[A any](thunk func() (Effect[A], error)) Effect[A] {
	return Effect[A]{n: &suspendPartialNode{thunk: func() (anyEffect, error) {
		e, err := thunk()
		if err != nil {
			return nil, err
		}
		return e.n, nil
	}}}
}

// Fail fails with a typed error.
func Fail[A any](err error) Effect[A] {
	return FailCause[A](cause.Fail(err))
}

// FailCause fails with a full cause tree.
func FailCause[A any](c *cause.Cause) Effect[A] {
	return Effect[A]{n: failNodeOf(c)}
}

// FailCauseWith fails with a lazily built cause.
func FailCauseWith[A any](fill func() *cause.Cause) Effect[A] {
	return Effect[A]{n: &failNode{fill: fill}}
}

// Die fails with a defect.
func Die[A any](v any) Effect[A] {
	return FailCause[A](cause.Die(v))
}

// Done lifts a pre-existing exit back into an effect.
func Done[A any](exit Exit[A]) Effect[A] {
	if exit.Cause != nil {
		return FailCause[A](exit.Cause)
	}
	return Succeed(exit.Value)
}

// Async suspends the fiber until resume is called with the continuation
// effect. resume must be called at most once.
func Async[A any](register func(resume func(Effect[A]))) Effect[A] {
	return Effect[A]{n: &asyncNode{register: func(resume func(anyEffect)) asyncOutcome {
		register(func(e Effect[A]) { resume(e.n) })
		return asyncOutcome{}
	}}}
}

// AsyncMaybe is Async with a synchronous shortcut: when the registration
// already has the answer it returns (effect, true) and the fiber continues
// without suspending.
func AsyncMaybe[A any](register func(resume func(Effect[A])) (Effect[A], bool)) Effect[A] {
	return Effect[A]{n: &asyncNode{register: func(resume func(anyEffect)) asyncOutcome {
		if sync, ok := register(func(e Effect[A]) { resume(e.n) }); ok {
			return asyncOutcome{sync: sync.n}
		}
		return asyncOutcome{}
	}}}
}

// AsyncInterrupt is Async with a canceler that is run when the fiber is
// interrupted while suspended in this registration.
func AsyncInterrupt[A any](register func(resume func(Effect[A])) Effect[Unit]) Effect[A] {
	return Effect[A]{n: &asyncNode{register: func(resume func(anyEffect)) asyncOutcome {
		canceler := register(func(e Effect[A]) { resume(e.n) })
		return asyncOutcome{cancel: canceler.n}
	}}}
}

// Never suspends forever; it can only end by interruption.
func Never[A any]() Effect[A] {
	return Async[A](func(func(Effect[A])) {})
}

// UnitEffect is the no-op effect.
func UnitEffect() Effect[Unit] { return Succeed(unitVal) }

// YieldNow cooperatively reschedules the fiber to the back of its executor
// queue.
func YieldNow() Effect[Unit] {
	return Effect[Unit]{n: &yieldNode{}}
}

// --- sequencing ---

// FlatMap sequences k after e.
func FlatMap[A, B any](e Effect[A], k func(A) Effect[B]) Effect[B] {
	return Effect[B]{n: &flatMapNode{effect: e.n, k: func(v any) anyEffect {
		return k(v.(A)).n
	}}}
}

// Map transforms the success value.
func Map[A, B any](e Effect[A], f func(A) B) Effect[B] {
	return FlatMap(e, func(a A) Effect[B] { return Succeed(f(a)) })
}

// As replaces the success value.
func As[A, B any](e Effect[A], b B) Effect[B] {
	return Map(e, func(A) B { return b })
}

// ZipRight runs l then r, keeping r's value.
func ZipRight[A, B any](l Effect[A], r Effect[B]) Effect[B] {
	return FlatMap(l, func(A) Effect[B] { return r })
}

// ZipLeft runs l then r, keeping l's value.
func ZipLeft[A, B any](l Effect[A], r Effect[B]) Effect[A] {
	return FlatMap(l, func(a A) Effect[A] { return As(r, a) })
}

// Pair is the product of two sequenced effects.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Zip runs l then r and pairs the results.
func Zip[A, B any](l Effect[A], r Effect[B]) Effect[Pair[A, B]] {
	return FlatMap(l, func(a A) Effect[Pair[A, B]] {
		return Map(r, func(b B) Pair[A, B] { return Pair[A, B]{First: a, Second: b} })
	})
}

// Forever repeats e until failure or interruption.
func Forever[A any](e Effect[A]) Effect[A] {
	return FlatMap(e, func(A) Effect[A] { return Forever(e) })
}

// ForEach runs f over as in order, collecting the results.
func ForEach[A, B any](as []A, f func(A) Effect[B]) Effect[[]B] {
	out := Succeed(make([]B, 0, len(as)))
	for _, a := range as {
		a := a
		out = FlatMap(out, func(acc []B) Effect[[]B] {
			return Map(f(a), func(b B) []B { return append(acc, b) })
		})
	}
	return out
}

// --- failure handling ---

// Fold recovers from any failure cause; it also acts as a flat map on
// success. Recovery of an interrupt is only honored inside an
// uninterruptible region.
func Fold[A, B any](e Effect[A], onFailure func(*cause.Cause) Effect[B], onSuccess func(A) Effect[B]) Effect[B] {
	return Effect[B]{n: &foldNode{
		effect:    e.n,
		onFailure: func(c *cause.Cause) anyEffect { return onFailure(c).n },
		onSuccess: func(v any) anyEffect { return onSuccess(v.(A)).n },
	}}
}

// CatchAll recovers from typed failures only; defects and interrupts
// propagate.
func CatchAll[A any](e Effect[A], f func(error) Effect[A]) Effect[A] {
	return Fold(e, func(c *cause.Cause) Effect[A] {
		if err, _, ok := c.FailureOrCause(); ok {
			return f(err)
		}
		return FailCause[A](c)
	}, Succeed[A])
}

// Result reifies the exit of e into the success channel; the returned
// effect never fails.
func Result[A any](e Effect[A]) Effect[Exit[A]] {
	return Fold(e,
		func(c *cause.Cause) Effect[Exit[A]] { return Succeed(ExitFail[A](c)) },
		func(a A) Effect[Exit[A]] { return Succeed(ExitSucceed(a)) },
	)
}

// Res carries an effect result through the success channel.
type Res[A any] struct {
	Value A
	Err   error
}

// Either exposes a typed failure as a value; defects and interrupts still
// propagate.
func Either[A any](e Effect[A]) Effect[Res[A]] {
	return Fold(e, func(c *cause.Cause) Effect[Res[A]] {
		if err, _, ok := c.FailureOrCause(); ok {
			return Succeed(Res[A]{Err: err})
		}
		return FailCause[Res[A]](c)
	}, func(a A) Effect[Res[A]] {
		return Succeed(Res[A]{Value: a})
	})
}

// --- interruptibility ---

// Uninterruptible makes e immune to interruption until it completes. A
// pending interrupt stays latched and re-fires on exit.
func Uninterruptible[A any](e Effect[A]) Effect[A] {
	return Effect[A]{n: &interruptStatusNode{effect: e.n, interruptible: false}}
}

// Interruptible restores interruption inside an uninterruptible region.
func Interruptible[A any](e Effect[A]) Effect[A] {
	return Effect[A]{n: &interruptStatusNode{effect: e.n, interruptible: true}}
}

// SetInterruptible sets the region's interrupt status from a flag.
func SetInterruptible[A any](e Effect[A], interruptible bool) Effect[A] {
	return Effect[A]{n: &interruptStatusNode{effect: e.n, interruptible: interruptible}}
}

// CheckInterruptible observes the current interrupt status.
func CheckInterruptible[A any](f func(bool) Effect[A]) Effect[A] {
	return Effect[A]{n: &checkInterruptNode{f: func(b bool) anyEffect { return f(b).n }}}
}

// UninterruptibleMask runs f uninterruptibly, handing it a restore function
// that re-establishes the outer region's interrupt status.
func UninterruptibleMask[A any](f func(restore func(Effect[A]) Effect[A]) Effect[A]) Effect[A] {
	return CheckInterruptible(func(outer bool) Effect[A] {
		restore := func(e Effect[A]) Effect[A] { return SetInterruptible(e, outer) }
		return Uninterruptible(f(restore))
	})
}

// --- finalization ---

// Ensuring runs fin exactly once on any exit path of e: success, failure,
// or interruption. fin runs uninterruptibly; a failure of fin is appended
// to the original cause sequentially.
func Ensuring[A, B any](e Effect[A], fin Effect[B]) Effect[A] {
	return CheckInterruptible(func(outer bool) Effect[A] {
		return Uninterruptible(Fold(SetInterruptible(e, outer),
			func(c *cause.Cause) Effect[A] {
				return Fold(fin,
					func(fc *cause.Cause) Effect[A] { return FailCause[A](cause.Then(c, fc)) },
					func(B) Effect[A] { return FailCause[A](c) },
				)
			},
			func(a A) Effect[A] {
				return Fold(fin,
					func(fc *cause.Cause) Effect[A] { return FailCause[A](fc) },
					func(B) Effect[A] { return Succeed(a) },
				)
			},
		))
	})
}

// OnInterrupt runs fin only when e's cause contains an interruption.
func OnInterrupt[A, B any](e Effect[A], fin Effect[B]) Effect[A] {
	return CheckInterruptible(func(outer bool) Effect[A] {
		return Uninterruptible(Fold(SetInterruptible(e, outer),
			func(c *cause.Cause) Effect[A] {
				if c.Interrupted() {
					return ZipRight(Result(fin), FailCause[A](c))
				}
				return FailCause[A](c)
			},
			Succeed[A],
		))
	})
}

// Bracket acquires a resource uninterruptibly, uses it, and guarantees the
// release runs exactly once iff the acquisition succeeded.
func Bracket[A, B any](acquire Effect[A], release func(A) Effect[Unit], use func(A) Effect[B]) Effect[B] {
	return BracketExit(acquire, func(a A, _ Exit[B]) Effect[Unit] { return release(a) }, use)
}

// BracketExit is Bracket with the use-exit visible to the release action.
func BracketExit[A, B any](acquire Effect[A], release func(A, Exit[B]) Effect[Unit], use func(A) Effect[B]) Effect[B] {
	return CheckInterruptible(func(outer bool) Effect[B] {
		return Uninterruptible(FlatMap(acquire, func(a A) Effect[B] {
			return Fold(SetInterruptible(use(a), outer),
				func(c *cause.Cause) Effect[B] {
					return Fold(release(a, ExitFail[B](c)),
						func(rc *cause.Cause) Effect[B] { return FailCause[B](cause.Then(c, rc)) },
						func(Unit) Effect[B] { return FailCause[B](c) },
					)
				},
				func(b B) Effect[B] {
					return Fold(release(a, ExitSucceed(b)),
						func(rc *cause.Cause) Effect[B] { return FailCause[B](rc) },
						func(Unit) Effect[B] { return Succeed(b) },
					)
				},
			)
		}))
	})
}

// --- environment ---

// Environment reads the ambient environment, asserting it to R.
func Environment[R any]() Effect[R] {
	return Effect[R]{n: &accessNode{f: func(env any) anyEffect {
		return succeedNodeOf(env)
	}}}
}

// Access reads the ambient environment and continues with f.
func Access[R, A any](f func(R) Effect[A]) Effect[A] {
	return Effect[A]{n: &accessNode{f: func(env any) anyEffect {
		var r R
		if env != nil {
			r = env.(R)
		}
		return f(r).n
	}}}
}

// Provide supplies the environment to e for the duration of its
// evaluation.
func Provide[A any](e Effect[A], env any) Effect[A] {
	return Effect[A]{n: &provideNode{env: env, effect: e.n}}
}

// --- introspection & executors ---

// WithDescriptor continues with a snapshot of the running fiber's identity.
func WithDescriptor[A any](f func(Descriptor) Effect[A]) Effect[A] {
	return Effect[A]{n: &descriptorNode{f: func(d Descriptor) anyEffect { return f(d).n }}}
}

// GetDescriptor returns the running fiber's descriptor.
func GetDescriptor() Effect[Descriptor] {
	return WithDescriptor(Succeed[Descriptor])
}

// Lock executes e on the given executor, restoring the previous executor
// afterwards. Route blocking work to the platform's synchronous executor
// this way instead of blocking an async worker.
func Lock[A any](exec platform.Executor, e Effect[A]) Effect[A] {
	return Effect[A]{n: &lockNode{exec: exec, effect: e.n}}
}
