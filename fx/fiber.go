package fx

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/on-the-ground/fiberfx/cause"
	"github.com/on-the-ground/fiberfx/platform"
)

// ErrExecutorRejected is the defect raised when an executor refuses a fiber
// slice submission.
var ErrExecutorRejected = errors.New("fiberfx: executor rejected task submission")

// SuperviseMode governs what happens to a child fiber when its parent exits.
type SuperviseMode uint8

const (
	// SuperviseInterrupt interrupts the child at parent exit and awaits its
	// completion before the parent finalizes.
	SuperviseInterrupt SuperviseMode = iota

	// SuperviseForkInterrupt signals interruption at parent exit without
	// awaiting the child's finalization.
	SuperviseForkInterrupt

	// SuperviseDisown never registers the child; its lifetime is
	// independent of the parent's.
	SuperviseDisown
)

type fiberStatus uint8

const (
	statusRunning fiberStatus = iota
	statusSuspended
)

type observer func(Exit[any])

// fiberState is the immutable snapshot swapped through the fiber's atomic
// state cell. Every transition is a CAS on the whole snapshot.
type fiberState struct {
	done              bool
	exit              Exit[any]
	interruptCause    *cause.Cause // nil until the first interrupt request
	terminating       bool
	status            fiberStatus
	suspInterruptible bool
	epoch             uint64
	observers         []observer
}

func (st *fiberState) clone() *fiberState {
	next := *st
	if len(st.observers) > 0 {
		next.observers = make([]observer, len(st.observers))
		copy(next.observers, st.observers)
	}
	return &next
}

type childEntry struct {
	ctx  *fiberContext
	mode SuperviseMode
}

type cancelerBox struct {
	epoch  uint64
	cancel anyEffect
}

// fiberContext is the per-fiber interpreter state. All fields below the
// state cell are owned by whichever thread is running the fiber's current
// slice; ownership transfers through executor submission and the state CAS.
type fiberContext struct {
	id    uint64
	plat  *platform.Platform
	state atomic.Pointer[fiberState]

	stack           []frame
	interruptStatus []bool
	executors       []platform.Executor
	environments    []any
	supervising     int
	runningOn       platform.Executor

	asyncEpoch uint64
	canceler   atomic.Pointer[cancelerBox]

	childMu  sync.Mutex
	children map[uint64]childEntry
	parent   atomic.Pointer[fiberContext]
}

func newFiberContext(plat *platform.Platform, env any, exec platform.Executor, parent *fiberContext) *fiberContext {
	fc := &fiberContext{
		id:   plat.NextFiberID(),
		plat: plat,

		supervising: 1,
		runningOn:   exec,
	}
	fc.environments = []any{env}
	if exec != nil && exec != plat.Async {
		fc.executors = []platform.Executor{exec}
	}
	if parent != nil {
		fc.parent.Store(parent)
	}
	fc.state.Store(&fiberState{status: statusRunning})
	return fc
}

func (fc *fiberContext) interruptible() bool {
	if len(fc.interruptStatus) == 0 {
		return true
	}
	return fc.interruptStatus[len(fc.interruptStatus)-1]
}

func (fc *fiberContext) currentExecutor() platform.Executor {
	if len(fc.executors) > 0 {
		return fc.executors[len(fc.executors)-1]
	}
	return fc.plat.Async
}

func (fc *fiberContext) currentEnv() any {
	if len(fc.environments) > 0 {
		return fc.environments[len(fc.environments)-1]
	}
	return nil
}

// start submits the fiber's first slice to its executor.
func (fc *fiberContext) start(effect anyEffect) {
	fc.submitEffect(fc.currentExecutor(), effect)
}

// submitSelf schedules the fiber to continue with cur on its current
// executor. A rejection degrades into a defect continuation on a fresh
// goroutine so finalizers still run.
func (fc *fiberContext) submitSelf(cur anyEffect) {
	fc.submitEffect(fc.currentExecutor(), cur)
}

func (fc *fiberContext) submitEffect(exec platform.Executor, cur anyEffect) {
	task := func() {
		fc.runningOn = exec
		fc.evaluateNow(cur)
	}
	if !platform.SubmitWith(exec, fc.id, task) {
		rejected := failNodeOf(cause.Die(ErrExecutorRejected))
		go func() {
			fc.runningOn = exec
			fc.evaluateNow(rejected)
		}()
	}
}

// shouldInterrupt is checked before every reduction: a latched interrupt
// fires as soon as the fiber is interruptible and not already unwinding.
func (fc *fiberContext) shouldInterrupt() bool {
	st := fc.state.Load()
	return st.interruptCause != nil && !st.terminating && fc.interruptible()
}

func (fc *fiberContext) markTerminating() {
	for {
		st := fc.state.Load()
		if st.done || st.terminating {
			return
		}
		next := st.clone()
		next.terminating = true
		if fc.state.CompareAndSwap(st, next) {
			return
		}
	}
}

// clearTerminating re-arms interrupt delivery after a fold recovered a
// cause; a still-latched interrupt then re-fires on leaving the protected
// region.
func (fc *fiberContext) clearTerminating() {
	for {
		st := fc.state.Load()
		if st.done || !st.terminating {
			return
		}
		next := st.clone()
		next.terminating = false
		if fc.state.CompareAndSwap(st, next) {
			return
		}
	}
}

// enterAsync transitions Running -> Suspended for the given epoch.
// entered=false means a pending interrupt aborted the suspension: when
// takenOver is false the caller continues inline with the interrupt cause,
// when true an interruptor already rescheduled the fiber and the caller
// must not touch it again.
func (fc *fiberContext) enterAsync(epoch uint64) (entered, takenOver bool) {
	for {
		st := fc.state.Load()
		next := st.clone()
		next.status = statusSuspended
		next.suspInterruptible = fc.interruptible()
		next.epoch = epoch
		if !fc.state.CompareAndSwap(st, next) {
			continue
		}
		if next.suspInterruptible && st.interruptCause != nil && !st.terminating {
			if fc.exitAsync(epoch) {
				return false, false
			}
			return false, true
		}
		return true, false
	}
}

// exitAsync transitions Suspended -> Running, guarded by the epoch so a
// stale resume from an earlier suspension is dropped.
func (fc *fiberContext) exitAsync(epoch uint64) bool {
	for {
		st := fc.state.Load()
		if st.done || st.status != statusSuspended || st.epoch != epoch {
			return false
		}
		next := st.clone()
		next.status = statusRunning
		if fc.state.CompareAndSwap(st, next) {
			return true
		}
	}
}

func (fc *fiberContext) resumeCallback(epoch uint64) func(anyEffect) {
	return func(eff anyEffect) {
		if fc.exitAsync(epoch) {
			fc.submitSelf(eff)
		}
	}
}

// signalInterrupt adds an interruptor to the fiber's cause and, if the
// fiber is suspended in an interruptible region, reschedules it with the
// interrupt failure. Idempotent: repeat calls only accumulate interruptors.
func (fc *fiberContext) signalInterrupt(by uint64) {
	for {
		st := fc.state.Load()
		if st.done {
			return
		}
		next := st.clone()
		ic := cause.Interrupt(by)
		if next.interruptCause == nil {
			next.interruptCause = ic
		} else {
			next.interruptCause = cause.Both(next.interruptCause, ic)
		}
		if st.status == statusSuspended && st.suspInterruptible && !st.terminating {
			next.status = statusRunning
			next.terminating = true
			if fc.state.CompareAndSwap(st, next) {
				fc.runCanceler(st.epoch)
				fc.submitSelf(failNodeOf(next.interruptCause))
				return
			}
			continue
		}
		if fc.state.CompareAndSwap(st, next) {
			return
		}
	}
}

// runCanceler tears down the async registration armed at the given epoch,
// on a fresh root fiber so the interruptor never blocks.
func (fc *fiberContext) runCanceler(epoch uint64) {
	box := fc.canceler.Load()
	if box == nil || box.epoch != epoch {
		return
	}
	fc.canceler.CompareAndSwap(box, nil)
	runner := newFiberContext(fc.plat, nil, fc.plat.Async, nil)
	fc.plat.Metrics.FiberStarted()
	runner.start(box.cancel)
}

// onDone registers a completion observer, firing immediately (through the
// executor, never inline) when the fiber is already done.
func (fc *fiberContext) onDone(ob observer) {
	for {
		st := fc.state.Load()
		if st.done {
			fc.submitObserver(ob, st.exit)
			return
		}
		next := st.clone()
		next.observers = append(next.observers, ob)
		if fc.state.CompareAndSwap(st, next) {
			return
		}
	}
}

// submitObserver delivers through the executor keyed by the fiber id, so
// observers land on one worker queue and fire in registration order.
func (fc *fiberContext) submitObserver(ob observer, exit Exit[any]) {
	if !platform.SubmitWith(fc.currentExecutor(), fc.id, func() { ob(exit) }) {
		go ob(exit)
	}
}

// complete writes the terminal exit, notifies observers in FIFO order and
// reports an unobserved failure to the platform sink.
func (fc *fiberContext) complete(exit Exit[any]) {
	var st *fiberState
	for {
		st = fc.state.Load()
		if st.done {
			return
		}
		next := &fiberState{done: true, exit: exit, status: statusRunning}
		if fc.state.CompareAndSwap(st, next) {
			break
		}
	}

	status := platform.StatusSucceeded
	if exit.Cause != nil {
		if exit.Cause.InterruptedOnly() {
			status = platform.StatusInterrupted
		} else {
			status = platform.StatusFailed
		}
	}
	fc.plat.Metrics.FiberCompleted(status)

	if p := fc.parent.Load(); p != nil {
		p.removeChild(fc.id)
	}

	if len(st.observers) == 0 && exit.Cause != nil && !exit.Cause.InterruptedOnly() {
		fc.plat.ReportFailure(exit.Cause)
	}
	for _, ob := range st.observers {
		fc.submitObserver(ob, exit)
	}
}

// awaitNode suspends until the fiber completes, with a synchronous shortcut
// when it already has.
func (fc *fiberContext) awaitNode() anyEffect {
	return &asyncNode{register: func(resume func(anyEffect)) asyncOutcome {
		st := fc.state.Load()
		if st.done {
			return asyncOutcome{sync: succeedNodeOf(st.exit)}
		}
		fc.onDone(func(exit Exit[any]) { resume(succeedNodeOf(exit)) })
		return asyncOutcome{}
	}}
}

// interruptAsNode signals interruption attributed to `by` and awaits the
// target's exit.
func (fc *fiberContext) interruptAsNode(by uint64) anyEffect {
	return &suspendNode{thunk: func() anyEffect {
		fc.signalInterrupt(by)
		return fc.awaitNode()
	}}
}

func (fc *fiberContext) addChild(child *fiberContext, mode SuperviseMode) {
	fc.childMu.Lock()
	if fc.children == nil {
		fc.children = make(map[uint64]childEntry)
	}
	fc.children[child.id] = childEntry{ctx: child, mode: mode}
	fc.childMu.Unlock()
}

func (fc *fiberContext) removeChild(id uint64) {
	fc.childMu.Lock()
	delete(fc.children, id)
	fc.childMu.Unlock()
}

// takeChildren empties the child set and returns the entries still
// registered, in no particular order.
func (fc *fiberContext) takeChildren() []childEntry {
	fc.childMu.Lock()
	defer fc.childMu.Unlock()
	if len(fc.children) == 0 {
		return nil
	}
	out := make([]childEntry, 0, len(fc.children))
	for _, ce := range fc.children {
		out = append(out, ce)
	}
	fc.children = nil
	return out
}

func (fc *fiberContext) childHandles() []Fiber[any] {
	fc.childMu.Lock()
	defer fc.childMu.Unlock()
	out := make([]Fiber[any], 0, len(fc.children))
	for _, ce := range fc.children {
		out = append(out, Fiber[any]{ctx: ce.ctx})
	}
	return out
}

// disown removes the child from this fiber's supervision scope and clears
// its parent pointer, promoting it to a root. Reports whether the caller
// was the owner.
func (fc *fiberContext) disown(child *fiberContext) bool {
	fc.childMu.Lock()
	_, owned := fc.children[child.id]
	if owned {
		delete(fc.children, child.id)
	}
	fc.childMu.Unlock()
	if owned {
		child.parent.Store(nil)
	}
	return owned
}

// forkChild allocates and starts a child fiber inheriting the current
// environment and executor.
func (fc *fiberContext) forkChild(effect anyEffect, mode SuperviseMode) *fiberContext {
	child := newFiberContext(fc.plat, fc.currentEnv(), fc.currentExecutor(), fc)
	if mode != SuperviseDisown && fc.supervising > 0 {
		fc.addChild(child, mode)
	} else {
		child.parent.Store(nil)
	}
	fc.plat.Metrics.FiberStarted()
	child.start(effect)
	return child
}

// describe builds an immutable snapshot of the fiber's identity.
func (fc *fiberContext) describe() Descriptor {
	st := fc.state.Load()
	return Descriptor{
		ID:            fc.id,
		Interrupted:   st.interruptCause != nil,
		Interruptible: fc.interruptible(),
		Executor:      fc.currentExecutor(),
		Children:      fc.childHandles,
	}
}

// Descriptor is an immutable snapshot of a fiber's identity, exposed to the
// program through WithDescriptor.
type Descriptor struct {
	ID            uint64
	Interrupted   bool
	Interruptible bool
	Executor      platform.Executor
	Children      func() []Fiber[any]
}
