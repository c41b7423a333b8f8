package fx

import (
	"fmt"

	"github.com/on-the-ground/fiberfx/cause"
)

// evaluateNow drives the fiber until its current slice ends: completion,
// suspension, or a cooperative yield. Each recovered non-fatal panic
// becomes a Die cause and unwinding continues.
func (fc *fiberContext) evaluateNow(cur anyEffect) {
	for cur != nil {
		cur = fc.safeStep(cur)
	}
}

func (fc *fiberContext) safeStep(cur anyEffect) (next anyEffect) {
	defer func() {
		if v := recover(); v != nil {
			if fc.plat.IsFatal(v) {
				panic(v)
			}
			next = failNodeOf(cause.Die(v))
		}
	}()
	return fc.step(cur)
}

// step is the inner interpreter loop: at most yield-opcount reductions,
// dispatching on the node tag. It returns nil when the slice is over and a
// continuation effect only out of panic recovery in safeStep.
func (fc *fiberContext) step(start anyEffect) anyEffect {
	cur := start
	opcount := fc.plat.YieldOpCount
	for {
		if opcount <= 0 {
			fc.submitSelf(cur)
			return nil
		}
		opcount--

		if fc.shouldInterrupt() {
			fc.markTerminating()
			cur = failNodeOf(fc.state.Load().interruptCause)
		}

		switch n := cur.(type) {
		case *succeedNode:
			cur = fc.nextInstr(n.value)

		case *totalNode:
			cur = fc.nextInstr(n.thunk())

		case *partialNode:
			v, err := n.thunk()
			if err != nil {
				cur = failNodeOf(cause.Fail(err))
			} else {
				cur = fc.nextInstr(v)
			}

		case *suspendNode:
			cur = n.thunk()

		case *suspendPartialNode:
			eff, err := n.thunk()
			if err != nil {
				cur = failNodeOf(cause.Fail(err))
			} else {
				cur = eff
			}

		case *flatMapNode:
			// fast path: inline-apply k over trivial producers instead of
			// pushing a frame
			switch inner := n.effect.(type) {
			case *succeedNode:
				cur = n.k(inner.value)
			case *totalNode:
				cur = n.k(inner.thunk())
			case *descriptorNode:
				cur = &flatMapNode{effect: inner.f(fc.describe()), k: n.k}
			default:
				fc.stack = append(fc.stack, &applyFrame{k: n.k})
				cur = n.effect
			}

		case *foldNode:
			fc.stack = append(fc.stack, &foldFrame{onFailure: n.onFailure, onSuccess: n.onSuccess})
			cur = n.effect

		case *failNode:
			cur = fc.unwind(n.fill())

		case *interruptStatusNode:
			fc.interruptStatus = append(fc.interruptStatus, n.interruptible)
			fc.stack = append(fc.stack, interruptExitFrame{})
			cur = n.effect

		case *checkInterruptNode:
			cur = n.f(fc.interruptible())

		case *asyncNode:
			cur = fc.dispatchAsync(n)

		case *forkNode:
			child := fc.forkChild(n.effect, n.mode)
			cur = fc.nextInstr(child)

		case *descriptorNode:
			cur = n.f(fc.describe())

		case *lockNode:
			fc.executors = append(fc.executors, n.exec)
			fc.stack = append(fc.stack, lockExitFrame{})
			if n.exec != fc.runningOn {
				// begin the inner effect on the target executor
				fc.submitSelf(n.effect)
				return nil
			}
			cur = n.effect

		case *yieldNode:
			fc.submitSelf(succeedNodeOf(unitVal))
			return nil

		case *accessNode:
			cur = n.f(fc.currentEnv())

		case *provideNode:
			fc.environments = append(fc.environments, n.env)
			fc.stack = append(fc.stack, provideExitFrame{})
			cur = n.effect

		case *raceNode:
			cur = fc.dispatchRace(n)

		case *disownNode:
			cur = fc.nextInstr(fc.disown(n.ctx))

		case *doneNode:
			fc.complete(n.exit)
			return nil

		default:
			panic(fmt.Sprintf("fiberfx: unknown effect node %T", cur))
		}

		if cur == nil {
			return nil
		}
	}
}

// nextInstr feeds a value to the next continuation, restoring region
// sentinels on the way. An empty stack finalizes the fiber.
func (fc *fiberContext) nextInstr(v any) anyEffect {
	for len(fc.stack) > 0 {
		f := fc.stack[len(fc.stack)-1]
		fc.stack = fc.stack[:len(fc.stack)-1]
		switch f := f.(type) {
		case *applyFrame:
			return f.k(v)
		case *foldFrame:
			return f.onSuccess(v)
		case interruptExitFrame:
			fc.interruptStatus = fc.interruptStatus[:len(fc.interruptStatus)-1]
		case lockExitFrame:
			fc.executors = fc.executors[:len(fc.executors)-1]
			if fc.currentExecutor() != fc.runningOn {
				fc.submitSelf(succeedNodeOf(v))
				return nil
			}
		case provideExitFrame:
			fc.environments = fc.environments[:len(fc.environments)-1]
		}
	}
	return fc.finalize(Exit[any]{Value: v})
}

// unwind pops the stack looking for a fold frame allowed to recover.
// Recovery is blocked while the fiber is interrupted and interruptible, so
// an interrupt can only be converted inside an uninterruptible region.
func (fc *fiberContext) unwind(c *cause.Cause) anyEffect {
	for len(fc.stack) > 0 {
		f := fc.stack[len(fc.stack)-1]
		fc.stack = fc.stack[:len(fc.stack)-1]
		switch f := f.(type) {
		case *applyFrame:
			// discarded
		case *foldFrame:
			if !fc.recoveryBlocked() {
				fc.clearTerminating()
				return f.onFailure(c)
			}
		case interruptExitFrame:
			fc.interruptStatus = fc.interruptStatus[:len(fc.interruptStatus)-1]
		case lockExitFrame:
			fc.executors = fc.executors[:len(fc.executors)-1]
			if fc.currentExecutor() != fc.runningOn {
				fc.submitSelf(failNodeOf(c))
				return nil
			}
		case provideExitFrame:
			fc.environments = fc.environments[:len(fc.environments)-1]
		}
	}
	return fc.finalize(Exit[any]{Cause: c})
}

func (fc *fiberContext) recoveryBlocked() bool {
	st := fc.state.Load()
	return st.interruptCause != nil && fc.interruptible()
}

// finalize ends the fiber with the given exit, first interrupting any
// children still registered in its supervision scope. The cleanup runs
// uninterruptibly.
func (fc *fiberContext) finalize(exit Exit[any]) anyEffect {
	supervised := fc.takeChildren()
	if len(supervised) == 0 {
		fc.complete(exit)
		return nil
	}

	fc.interruptStatus = append(fc.interruptStatus, false)
	fc.stack = append(fc.stack, interruptExitFrame{})

	var eff anyEffect = succeedNodeOf(nil)
	for _, ce := range supervised {
		switch ce.mode {
		case SuperviseInterrupt:
			child := ce.ctx
			prev := eff
			eff = &flatMapNode{effect: prev, k: func(any) anyEffect {
				return child.interruptAsNode(fc.id)
			}}
		case SuperviseForkInterrupt:
			ce.ctx.signalInterrupt(fc.id)
		}
	}
	finalExit := exit
	return &flatMapNode{effect: eff, k: func(any) anyEffect {
		return &doneNode{exit: finalExit}
	}}
}

// dispatchAsync performs the Running -> Suspended transition and invokes
// the registration. A synchronous shortcut or a raced resume resolves the
// suspension immediately.
func (fc *fiberContext) dispatchAsync(n *asyncNode) anyEffect {
	fc.asyncEpoch++
	epoch := fc.asyncEpoch

	entered, takenOver := fc.enterAsync(epoch)
	if !entered {
		if takenOver {
			return nil
		}
		fc.markTerminating()
		return failNodeOf(fc.state.Load().interruptCause)
	}

	outcome, panicked, pv := fc.safeRegister(n, epoch)
	if panicked {
		if fc.exitAsync(epoch) {
			return failNodeOf(cause.Die(pv))
		}
		return nil
	}
	if outcome.sync != nil {
		if fc.exitAsync(epoch) {
			return outcome.sync
		}
		// a concurrent resume won; drop the synchronous result
		return nil
	}
	if outcome.cancel != nil {
		fc.canceler.Store(&cancelerBox{epoch: epoch, cancel: outcome.cancel})
	}
	return nil
}

func (fc *fiberContext) safeRegister(n *asyncNode, epoch uint64) (outcome asyncOutcome, panicked bool, pv any) {
	defer func() {
		if v := recover(); v != nil {
			if fc.plat.IsFatal(v) {
				panic(v)
			}
			panicked = true
			pv = v
		}
	}()
	outcome = n.register(fc.resumeCallback(epoch))
	return
}

// dispatchRace forks both sides and suspends until the first completes.
// The loser is handed to the done callback; race machinery itself never
// interrupts it.
func (fc *fiberContext) dispatchRace(n *raceNode) anyEffect {
	left := fc.forkChild(n.left, n.leftMode)
	right := fc.forkChild(n.right, n.rightMode)

	return &asyncNode{register: func(resume func(anyEffect)) asyncOutcome {
		// a left side that has already completed wins outright, so a tie
		// resolves in its favor
		if st := left.state.Load(); st.done {
			return asyncOutcome{sync: n.leftDone(st.exit, right)}
		}
		var won int32
		winner := &won
		left.onDone(func(exit Exit[any]) {
			if casWin(winner) {
				resume(n.leftDone(exit, right))
			}
		})
		right.onDone(func(exit Exit[any]) {
			if casWin(winner) {
				resume(n.rightDone(exit, left))
			}
		})
		return asyncOutcome{}
	}}
}
