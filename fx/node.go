package fx

import (
	"github.com/on-the-ground/fiberfx/cause"
	"github.com/on-the-ground/fiberfx/platform"
)

// opTag distinguishes effect node variants so the interpreter can dispatch
// with a switch instead of virtual calls.
type opTag uint8

const (
	opSucceed opTag = iota
	opTotal
	opPartial
	opSuspendTotal
	opSuspendPartial
	opFlatMap
	opFold
	opFail
	opAsync
	opFork
	opInterruptStatus
	opCheckInterrupt
	opDescriptor
	opLock
	opYield
	opAccess
	opProvide
	opRaceWith
	opDisown
	opDone
)

// anyEffect is the type-erased effect node. The public Effect[A] wraps one;
// the interpreter walks the erased tree and the generic surface recovers
// concrete types at frame boundaries.
type anyEffect interface {
	effTag() opTag
}

type succeedNode struct{ value any }

func (*succeedNode) effTag() opTag { return opSucceed }

type totalNode struct{ thunk func() any }

func (*totalNode) effTag() opTag { return opTotal }

type partialNode struct{ thunk func() (any, error) }

func (*partialNode) effTag() opTag { return opPartial }

type suspendNode struct{ thunk func() anyEffect }

func (*suspendNode) effTag() opTag { return opSuspendTotal }

type suspendPartialNode struct{ thunk func() (anyEffect, error) }

func (*suspendPartialNode) effTag() opTag { return opSuspendPartial }

type flatMapNode struct {
	effect anyEffect
	k      func(any) anyEffect
}

func (*flatMapNode) effTag() opTag { return opFlatMap }

type foldNode struct {
	effect    anyEffect
	onFailure func(*cause.Cause) anyEffect
	onSuccess func(any) anyEffect
}

func (*foldNode) effTag() opTag { return opFold }

type failNode struct{ fill func() *cause.Cause }

func (*failNode) effTag() opTag { return opFail }

// asyncOutcome is what an async registration reports back: an optional
// synchronous shortcut and an optional canceler torn down on interruption
// while suspended. Either may be nil.
type asyncOutcome struct {
	sync   anyEffect
	cancel anyEffect
}

type asyncNode struct {
	register func(resume func(anyEffect)) asyncOutcome
}

func (*asyncNode) effTag() opTag { return opAsync }

type forkNode struct {
	effect anyEffect
	mode   SuperviseMode
}

func (*forkNode) effTag() opTag { return opFork }

type interruptStatusNode struct {
	effect        anyEffect
	interruptible bool
}

func (*interruptStatusNode) effTag() opTag { return opInterruptStatus }

type checkInterruptNode struct{ f func(bool) anyEffect }

func (*checkInterruptNode) effTag() opTag { return opCheckInterrupt }

type descriptorNode struct{ f func(Descriptor) anyEffect }

func (*descriptorNode) effTag() opTag { return opDescriptor }

type lockNode struct {
	exec   platform.Executor
	effect anyEffect
}

func (*lockNode) effTag() opTag { return opLock }

type yieldNode struct{}

func (*yieldNode) effTag() opTag { return opYield }

type accessNode struct{ f func(any) anyEffect }

func (*accessNode) effTag() opTag { return opAccess }

type provideNode struct {
	env    any
	effect anyEffect
}

func (*provideNode) effTag() opTag { return opProvide }

type raceNode struct {
	left      anyEffect
	right     anyEffect
	leftMode  SuperviseMode
	rightMode SuperviseMode
	leftDone  func(Exit[any], *fiberContext) anyEffect
	rightDone func(Exit[any], *fiberContext) anyEffect
}

func (*raceNode) effTag() opTag { return opRaceWith }

type disownNode struct{ ctx *fiberContext }

func (*disownNode) effTag() opTag { return opDisown }

// doneNode completes the running fiber with a precomputed exit. It is only
// ever built by the interpreter itself, after child cleanup.
type doneNode struct{ exit Exit[any] }

func (*doneNode) effTag() opTag { return opDone }

// frame is a continuation stack entry: a value continuation, a fold frame,
// or one of the sentinel frames restoring fiber-local stacks on exit from a
// region.
type frame interface {
	frameMark()
}

type applyFrame struct{ k func(any) anyEffect }

func (*applyFrame) frameMark() {}

type foldFrame struct {
	onFailure func(*cause.Cause) anyEffect
	onSuccess func(any) anyEffect
}

func (*foldFrame) frameMark() {}

type interruptExitFrame struct{}

func (interruptExitFrame) frameMark() {}

type lockExitFrame struct{}

func (lockExitFrame) frameMark() {}

type provideExitFrame struct{}

func (provideExitFrame) frameMark() {}

func failNodeOf(c *cause.Cause) anyEffect {
	return &failNode{fill: func() *cause.Cause { return c }}
}

func succeedNodeOf(v any) anyEffect {
	return &succeedNode{value: v}
}
