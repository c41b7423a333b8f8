// Package stm implements software transactional memory over versioned
// cells: transactions stage reads and writes in a per-attempt journal,
// validate expected versions under a commit mutex, and either publish every
// write or none. Commits are serializable; invalid journals abort before
// they can be observed, so no transaction ever sees an inconsistent world.
package stm

import (
	"sync"
	"sync/atomic"

	"github.com/on-the-ground/fiberfx/fx"
	"github.com/on-the-ground/fiberfx/platform"
)

// Space owns the process-wide mutable pieces of an STM universe: the
// commit mutex and the TVar id counter. Independent runtimes use separate
// Spaces; TVars must not cross them.
type Space struct {
	mu      sync.Mutex
	ids     atomic.Uint64
	metrics *platform.Metrics
}

// SpaceOption customizes a Space under construction.
type SpaceOption func(*Space)

// WithMetrics records commit and retry counters on the given collector.
func WithMetrics(m *platform.Metrics) SpaceOption {
	return func(sp *Space) { sp.metrics = m }
}

// NewSpace builds an empty STM universe.
func NewSpace(opts ...SpaceOption) *Space {
	sp := &Space{}
	for _, opt := range opts {
		opt(sp)
	}
	return sp
}

var defaultSpace = NewSpace()

// DefaultSpace returns the package-wide universe used by the convenience
// constructors.
func DefaultSpace() *Space { return defaultSpace }

func (sp *Space) committed() {
	if sp.metrics != nil {
		sp.metrics.STMCommitted()
	}
}

func (sp *Space) retried() {
	if sp.metrics != nil {
		sp.metrics.STMRetried()
	}
}

type ctrl uint8

const (
	ctrlOK ctrl = iota
	ctrlFail
	ctrlRetry
)

// STM is a composable transaction description. Nothing touches shared
// state until Atomically commits it.
type STM[A any] struct {
	run func(j *journal) (A, error, ctrl)
}

// Succeed lifts a pure value into a transaction.
func Succeed[A any](a A) STM[A] {
	return STM[A]{run: func(*journal) (A, error, ctrl) { return a, nil, ctrlOK }}
}

// SucceedWith defers the value computation to each attempt.
func SucceedWith[A any](thunk func() A) STM[A] {
	return STM[A]{run: func(*journal) (A, error, ctrl) { return thunk(), nil, ctrlOK }}
}

// Fail aborts the transaction with a typed error; nothing commits.
func Fail[A any](err error) STM[A] {
	return STM[A]{run: func(*journal) (A, error, ctrl) {
		var zero A
		return zero, err, ctrlFail
	}}
}

// Retry abandons the journal and reruns the transaction from scratch.
func Retry[A any]() STM[A] {
	return STM[A]{run: func(*journal) (A, error, ctrl) {
		var zero A
		return zero, nil, ctrlRetry
	}}
}

// Check retries unless the condition holds.
func Check(ok bool) STM[fx.Unit] {
	if ok {
		return Succeed(fx.Unit{})
	}
	return Retry[fx.Unit]()
}

// FlatMap sequences k after s within the same journal.
func FlatMap[A, B any](s STM[A], k func(A) STM[B]) STM[B] {
	return STM[B]{run: func(j *journal) (B, error, ctrl) {
		a, err, c := s.run(j)
		if c != ctrlOK {
			var zero B
			return zero, err, c
		}
		return k(a).run(j)
	}}
}

// Map transforms the transaction result.
func Map[A, B any](s STM[A], f func(A) B) STM[B] {
	return FlatMap(s, func(a A) STM[B] { return Succeed(f(a)) })
}

// ZipRight runs l then r, keeping r's result.
func ZipRight[A, B any](l STM[A], r STM[B]) STM[B] {
	return FlatMap(l, func(A) STM[B] { return r })
}

// OrElse tries l; when it retries or fails, its journal writes are rolled
// back and r runs instead.
func OrElse[A any](l, r STM[A]) STM[A] {
	return STM[A]{run: func(j *journal) (A, error, ctrl) {
		mark := j.snapshot()
		a, _, c := l.run(j)
		if c == ctrlOK {
			return a, nil, ctrlOK
		}
		j.restore(mark)
		return r.run(j)
	}}
}

// Either exposes a typed failure as a value, committing the transaction
// either way.
func Either[A any](s STM[A]) STM[fx.Res[A]] {
	return STM[fx.Res[A]]{run: func(j *journal) (fx.Res[A], error, ctrl) {
		mark := j.snapshot()
		a, err, c := s.run(j)
		switch c {
		case ctrlOK:
			return fx.Res[A]{Value: a}, nil, ctrlOK
		case ctrlFail:
			j.restore(mark)
			return fx.Res[A]{Err: err}, nil, ctrlOK
		default:
			return fx.Res[A]{}, nil, ctrlRetry
		}
	}}
}

// Atomically commits a transaction in the default space.
func Atomically[A any](tx STM[A]) fx.Effect[A] {
	return AtomicallyIn(defaultSpace, tx)
}

// AtomicallyIn runs the commit loop: build a journal, run the transaction,
// validate every read version under the commit mutex, and publish the
// writes when valid. An invalid journal or an explicit retry reruns the
// transaction after a cooperative yield, so a conflicting fiber never
// starves its peers of the worker.
func AtomicallyIn[A any](sp *Space, tx STM[A]) fx.Effect[A] {
	var loop func() fx.Effect[A]
	loop = func() fx.Effect[A] {
		return fx.Suspend(func() fx.Effect[A] {
			v, err, c, valid := attempt(sp, tx)
			switch {
			case c == ctrlRetry || !valid:
				sp.retried()
				return fx.ZipRight(fx.YieldNow(), loop())
			case c == ctrlFail:
				return fx.Fail[A](err)
			default:
				sp.committed()
				return fx.Succeed(v)
			}
		})
	}
	return loop()
}

func attempt[A any](sp *Space, tx STM[A]) (v A, err error, c ctrl, valid bool) {
	j := newJournal(sp)
	v, err, c = tx.run(j)
	if c == ctrlRetry {
		return v, nil, ctrlRetry, true
	}

	sp.mu.Lock()
	valid = j.validate()
	if valid && c == ctrlOK {
		j.commit()
	}
	sp.mu.Unlock()
	return v, err, c, valid
}
