package fx

import (
	"sync"

	"github.com/on-the-ground/fiberfx/platform"
)

// Runtime binds effects to a platform and a root environment. A Runtime is
// cheap; build one per platform configuration and share it.
type Runtime struct {
	plat *platform.Platform
	env  any
}

// NewRuntime builds a runtime over the given platform. A nil platform gets
// production defaults.
func NewRuntime(p *platform.Platform, env any) *Runtime {
	if p == nil {
		p = platform.New()
	}
	return &Runtime{plat: p, env: env}
}

// Platform exposes the runtime's platform configuration.
func (rt *Runtime) Platform() *platform.Platform { return rt.plat }

var (
	defaultOnce sync.Once
	defaultRT   *Runtime
)

// DefaultRuntime returns a process-wide runtime over a default platform,
// created on first use.
func DefaultRuntime() *Runtime {
	defaultOnce.Do(func() {
		defaultRT = NewRuntime(platform.New(), nil)
	})
	return defaultRT
}

func (rt *Runtime) unsafeRunAsync(n anyEffect, cb func(Exit[any])) {
	fc := newFiberContext(rt.plat, rt.env, rt.plat.Async, nil)
	rt.plat.Metrics.FiberStarted()
	if cb != nil {
		fc.onDone(cb)
	}
	fc.start(n)
}

// RunExit evaluates e on a fresh root fiber and blocks until its exit.
func RunExit[A any](rt *Runtime, e Effect[A]) Exit[A] {
	ch := make(chan Exit[any], 1)
	rt.unsafeRunAsync(e.n, func(exit Exit[any]) { ch <- exit })
	return typedExit[A](<-ch)
}

// Run evaluates e and collapses a failed exit into a single error.
func Run[A any](rt *Runtime, e Effect[A]) (A, error) {
	exit := RunExit(rt, e)
	if exit.Cause != nil {
		var zero A
		return zero, exit.Cause.Squash()
	}
	return exit.Value, nil
}

// RunAsync evaluates e and invokes cb with the exit when the fiber
// completes. cb runs on an executor thread.
func RunAsync[A any](rt *Runtime, e Effect[A], cb func(Exit[A])) {
	var ecb func(Exit[any])
	if cb != nil {
		ecb = func(exit Exit[any]) { cb(typedExit[A](exit)) }
	}
	rt.unsafeRunAsync(e.n, ecb)
}
