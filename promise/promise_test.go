package promise_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/on-the-ground/fiberfx/fx"
	"github.com/on-the-ground/fiberfx/platform"
	"github.com/on-the-ground/fiberfx/promise"
)

func newTestRuntime() *fx.Runtime {
	return fx.NewRuntime(platform.New(platform.WithLogger(zap.NewNop())), nil)
}

func TestPromise_FirstWriterWins(t *testing.T) {
	rt := newTestRuntime()
	p := promise.New[int]()

	eff := fx.FlatMap(p.Succeed(1), func(first bool) fx.Effect[fx.Pair[bool, int]] {
		return fx.FlatMap(p.Succeed(2), func(second bool) fx.Effect[fx.Pair[bool, int]] {
			return fx.Map(p.Await(), func(v int) fx.Pair[bool, int] {
				require.True(t, first)
				require.False(t, second)
				return fx.Pair[bool, int]{First: second, Second: v}
			})
		})
	})
	res, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Second)
}

func TestPromise_AwaitBeforeCompletion(t *testing.T) {
	rt := newTestRuntime()
	p := promise.New[string]()

	eff := fx.FlatMap(fx.Fork(p.Await()), func(w fx.Fiber[string]) fx.Effect[string] {
		return fx.ZipRight(p.Succeed("delivered"), w.Join())
	})
	v, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, "delivered", v)
}

func TestPromise_AwaitAfterCompletionFiresImmediately(t *testing.T) {
	rt := newTestRuntime()
	p := promise.New[string]()

	eff := fx.ZipRight(p.Succeed("already done"), p.Await())
	v, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, "already done", v)
}

func TestPromise_FailurePropagatesToWaiters(t *testing.T) {
	rt := newTestRuntime()
	p := promise.New[int]()
	boom := errors.New("boom")

	eff := fx.ZipRight(p.Fail(boom), p.Await())
	_, err := fx.Run(rt, eff)
	assert.ErrorIs(t, err, boom)
}

func TestPromise_InterruptCompletesWithInterruptCause(t *testing.T) {
	rt := newTestRuntime()
	p := promise.New[int]()

	eff := fx.ZipRight(p.Interrupt(), p.AwaitExit())
	exit, err := fx.Run(rt, eff)
	require.NoError(t, err)
	require.NotNil(t, exit.Cause)
	assert.True(t, exit.Cause.Interrupted())
}

func TestPromise_PollObservesCompletion(t *testing.T) {
	rt := newTestRuntime()
	p := promise.New[int]()

	before, err := fx.Run(rt, p.Poll())
	require.NoError(t, err)
	assert.Nil(t, before)

	after, err := fx.Run(rt, fx.ZipRight(p.Succeed(5), p.Poll()))
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, 5, after.Value)
}

func TestPromise_InterruptedWaiterUnregisters(t *testing.T) {
	rt := newTestRuntime()
	p := promise.New[int]()

	eff := fx.FlatMap(fx.Fork(p.Await()), func(w fx.Fiber[int]) fx.Effect[fx.Pair[bool, int]] {
		return fx.FlatMap(w.Interrupt(), func(exit fx.Exit[int]) fx.Effect[fx.Pair[bool, int]] {
			require.NotNil(t, exit.Cause)
			// completing afterwards must still work and deliver to new
			// waiters
			return fx.FlatMap(p.Succeed(3), func(ok bool) fx.Effect[fx.Pair[bool, int]] {
				return fx.Map(p.Await(), func(v int) fx.Pair[bool, int] {
					return fx.Pair[bool, int]{First: ok, Second: v}
				})
			})
		})
	})
	res, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.True(t, res.First)
	assert.Equal(t, 3, res.Second)
}
