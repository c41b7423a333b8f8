package fx

import "github.com/on-the-ground/fiberfx/cause"

// Exit is the terminal result of a fiber: either a success value or the
// full Cause of its failure. A nil Cause means success.
type Exit[A any] struct {
	Value A
	Cause *cause.Cause
}

// ExitSucceed builds a successful exit.
func ExitSucceed[A any](a A) Exit[A] { return Exit[A]{Value: a} }

// ExitFail builds a failed exit from a cause.
func ExitFail[A any](c *cause.Cause) Exit[A] { return Exit[A]{Cause: c} }

// Succeeded reports whether the exit carries a value.
func (e Exit[A]) Succeeded() bool { return e.Cause == nil }

// Err collapses a failed exit into a single error, nil on success.
func (e Exit[A]) Err() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause.Squash()
}

// Interrupted reports whether the exit cause contains an interruption.
func (e Exit[A]) Interrupted() bool {
	return e.Cause != nil && e.Cause.Interrupted()
}

// FlattenExit collapses one layer of nesting: a success wrapping a success
// yields the inner exit, and any failure layer propagates outward.
func FlattenExit[A any](e Exit[Exit[A]]) Exit[A] {
	if e.Cause != nil {
		return Exit[A]{Cause: e.Cause}
	}
	return e.Value
}

// MapExit transforms the value of a successful exit.
func MapExit[A, B any](e Exit[A], f func(A) B) Exit[B] {
	if e.Cause != nil {
		return Exit[B]{Cause: e.Cause}
	}
	return Exit[B]{Value: f(e.Value)}
}

func typedExit[A any](e Exit[any]) Exit[A] {
	if e.Cause != nil {
		return Exit[A]{Cause: e.Cause}
	}
	if e.Value == nil {
		var zero A
		return Exit[A]{Value: zero}
	}
	return Exit[A]{Value: e.Value.(A)}
}

func erasedExit[A any](e Exit[A]) Exit[any] {
	if e.Cause != nil {
		return Exit[any]{Cause: e.Cause}
	}
	return Exit[any]{Value: e.Value}
}
