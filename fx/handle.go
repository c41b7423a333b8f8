package fx

// Fiber is the handle of a running fiber. The handle is a value; copies
// refer to the same fiber.
type Fiber[A any] struct {
	ctx *fiberContext
}

// ID returns the fiber's unique id within its platform.
func (f Fiber[A]) ID() uint64 { return f.ctx.id }

// Await suspends until the fiber completes and returns its exit.
func (f Fiber[A]) Await() Effect[Exit[A]] {
	ctx := f.ctx
	return Map(Effect[Exit[any]]{n: ctx.awaitNode()}, typedExit[A])
}

// Join awaits the fiber and propagates its exit into the caller: the
// value on success, the full cause on failure.
func (f Fiber[A]) Join() Effect[A] {
	return FlatMap(f.Await(), Done[A])
}

// Interrupt signals interruption attributed to the calling fiber and
// awaits the target's exit.
func (f Fiber[A]) Interrupt() Effect[Exit[A]] {
	return WithDescriptor(func(d Descriptor) Effect[Exit[A]] {
		return f.InterruptAs(d.ID)
	})
}

// InterruptAs signals interruption attributed to the given fiber id and
// awaits the target's exit.
func (f Fiber[A]) InterruptAs(id uint64) Effect[Exit[A]] {
	ctx := f.ctx
	return Map(Effect[Exit[any]]{n: ctx.interruptAsNode(id)}, typedExit[A])
}

// InterruptFork signals interruption without awaiting finalization.
func (f Fiber[A]) InterruptFork() Effect[Unit] {
	ctx := f.ctx
	return WithDescriptor(func(d Descriptor) Effect[Unit] {
		return SucceedWith(func() Unit {
			ctx.signalInterrupt(d.ID)
			return unitVal
		})
	})
}

// Disown promotes the fiber out of the caller's supervision scope: it will
// no longer be interrupted when the caller exits. Returns true when the
// caller owned it.
func (f Fiber[A]) Disown() Effect[bool] {
	return Effect[bool]{n: &disownNode{ctx: f.ctx}}
}

// Poll returns the fiber's exit if it has completed, without suspending.
func (f Fiber[A]) Poll() Effect[*Exit[A]] {
	ctx := f.ctx
	return SucceedWith(func() *Exit[A] {
		st := ctx.state.Load()
		if !st.done {
			return nil
		}
		exit := typedExit[A](st.exit)
		return &exit
	})
}

// Untyped widens the handle for heterogeneous collections, e.g. the
// descriptor's children accessor.
func (f Fiber[A]) Untyped() Fiber[any] { return Fiber[any]{ctx: f.ctx} }

// Fork spawns e on a new fiber supervised by the caller: it is interrupted
// and awaited when the caller exits, unless disowned first.
func Fork[A any](e Effect[A]) Effect[Fiber[A]] {
	return forkWith(e, SuperviseInterrupt)
}

// ForkDisconnected spawns e supervised with fire-and-forget interruption:
// the caller's exit signals the child but does not await its finalization.
func ForkDisconnected[A any](e Effect[A]) Effect[Fiber[A]] {
	return forkWith(e, SuperviseForkInterrupt)
}

// ForkDaemon spawns e as a root fiber, independent of the caller's
// lifetime. The fork and promotion run uninterruptibly.
func ForkDaemon[A any](e Effect[A]) Effect[Fiber[A]] {
	return Uninterruptible(FlatMap(Fork(e), func(f Fiber[A]) Effect[Fiber[A]] {
		return As(f.Disown(), f)
	}))
}

func forkWith[A any](e Effect[A], mode SuperviseMode) Effect[Fiber[A]] {
	return Effect[Fiber[A]]{n: &flatMapNode{
		effect: &forkNode{effect: e.n, mode: mode},
		k: func(v any) anyEffect {
			return succeedNodeOf(Fiber[A]{ctx: v.(*fiberContext)})
		},
	}}
}
