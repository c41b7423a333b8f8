package fx_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/on-the-ground/fiberfx/cause"
	"github.com/on-the-ground/fiberfx/fx"
	"github.com/on-the-ground/fiberfx/platform"
)

func newTestRuntime() *fx.Runtime {
	return fx.NewRuntime(platform.New(platform.WithLogger(zap.NewNop())), nil)
}

func TestEffect_SequentialComposition(t *testing.T) {
	rt := newTestRuntime()

	eff := fx.FlatMap(
		fx.FlatMap(fx.Succeed(1), func(x int) fx.Effect[int] { return fx.Succeed(x + 1) }),
		func(x int) fx.Effect[int] { return fx.Succeed(x * 10) },
	)

	v, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, 20, v)
}

func TestEffect_LeftIdentity(t *testing.T) {
	rt := newTestRuntime()
	k := func(x int) fx.Effect[int] { return fx.Succeed(x * 3) }

	lhs, err := fx.Run(rt, fx.FlatMap(fx.Succeed(7), k))
	require.NoError(t, err)
	rhs, err := fx.Run(rt, k(7))
	require.NoError(t, err)
	assert.Equal(t, rhs, lhs)
}

func TestEffect_RightIdentity(t *testing.T) {
	rt := newTestRuntime()
	e := fx.SucceedWith(func() string { return "value" })

	lhs, err := fx.Run(rt, fx.FlatMap(e, fx.Succeed[string]))
	require.NoError(t, err)
	rhs, err := fx.Run(rt, e)
	require.NoError(t, err)
	assert.Equal(t, rhs, lhs)
}

func TestEffect_Associativity(t *testing.T) {
	rt := newTestRuntime()
	e := fx.Succeed(2)
	k := func(x int) fx.Effect[int] { return fx.Succeed(x + 10) }
	h := func(x int) fx.Effect[int] { return fx.Succeed(x * 10) }

	lhs, err := fx.Run(rt, fx.FlatMap(fx.FlatMap(e, k), h))
	require.NoError(t, err)
	rhs, err := fx.Run(rt, fx.FlatMap(e, func(x int) fx.Effect[int] { return fx.FlatMap(k(x), h) }))
	require.NoError(t, err)
	assert.Equal(t, rhs, lhs)
}

func TestEffect_FoldSucceedFusion(t *testing.T) {
	rt := newTestRuntime()

	v, err := fx.Run(rt, fx.Fold(fx.Succeed(5),
		func(*cause.Cause) fx.Effect[string] { return fx.Succeed("recovered") },
		func(x int) fx.Effect[string] {
			if x == 5 {
				return fx.Succeed("ok")
			}
			return fx.Succeed("unexpected")
		},
	))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestEffect_FoldFailFusion(t *testing.T) {
	rt := newTestRuntime()
	boom := errors.New("boom")

	v, err := fx.Run(rt, fx.Fold(fx.Fail[int](boom),
		func(c *cause.Cause) fx.Effect[string] {
			if errs := c.Failures(); len(errs) == 1 && errors.Is(errs[0], boom) {
				return fx.Succeed("caught")
			}
			return fx.Succeed("wrong cause")
		},
		func(int) fx.Effect[string] { return fx.Succeed("unexpected success") },
	))
	require.NoError(t, err)
	assert.Equal(t, "caught", v)
}

func TestEffect_AttemptError(t *testing.T) {
	rt := newTestRuntime()
	boom := errors.New("boom")

	_, err := fx.Run(rt, fx.Attempt(func() (int, error) { return 0, boom }))
	assert.ErrorIs(t, err, boom)
}

func TestEffect_PanicBecomesDefect(t *testing.T) {
	rt := newTestRuntime()

	exit := fx.RunExit(rt, fx.SucceedWith(func() int {
		panic("kaboom")
	}))
	require.NotNil(t, exit.Cause)
	defects := exit.Cause.Defects()
	require.Len(t, defects, 1)
	assert.Equal(t, "kaboom", defects[0])
}

func TestEffect_CatchAllRecoversTypedFailureOnly(t *testing.T) {
	rt := newTestRuntime()
	boom := errors.New("boom")

	v, err := fx.Run(rt, fx.CatchAll(fx.Fail[string](boom), func(err error) fx.Effect[string] {
		return fx.Succeed("handled: " + err.Error())
	}))
	require.NoError(t, err)
	assert.Equal(t, "handled: boom", v)

	// a defect must pass through CatchAll untouched
	exit := fx.RunExit(rt, fx.CatchAll(fx.Die[string]("defect"), func(error) fx.Effect[string] {
		return fx.Succeed("should not handle")
	}))
	require.NotNil(t, exit.Cause)
	assert.Len(t, exit.Cause.Defects(), 1)
}

func TestEffect_EnvironmentAccessAndProvide(t *testing.T) {
	rt := newTestRuntime()

	type config struct{ name string }

	eff := fx.Provide(fx.Access(func(c config) fx.Effect[string] {
		return fx.Succeed("hello " + c.name)
	}), config{name: "world"})

	v, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, "hello world", v)
}

func TestEffect_ProvideNests(t *testing.T) {
	rt := newTestRuntime()

	inner := fx.Provide(fx.Environment[int](), 2)
	eff := fx.Provide(fx.FlatMap(inner, func(i int) fx.Effect[int] {
		return fx.Map(fx.Environment[int](), func(outer int) int { return i*10 + outer })
	}), 1)

	v, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, 21, v)
}

func TestEffect_DescriptorExposesIdentity(t *testing.T) {
	rt := newTestRuntime()

	d, err := fx.Run(rt, fx.GetDescriptor())
	require.NoError(t, err)
	assert.NotZero(t, d.ID)
	assert.True(t, d.Interruptible)
	assert.False(t, d.Interrupted)
	assert.NotNil(t, d.Executor)
}

func TestEffect_ForEachCollectsInOrder(t *testing.T) {
	rt := newTestRuntime()

	vs, err := fx.Run(rt, fx.ForEach([]int{1, 2, 3}, func(x int) fx.Effect[int] {
		return fx.Succeed(x * x)
	}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 9}, vs)
}

func TestEffect_ResultReifiesFailure(t *testing.T) {
	rt := newTestRuntime()
	boom := errors.New("boom")

	exit, err := fx.Run(rt, fx.Result(fx.Fail[int](boom)))
	require.NoError(t, err)
	require.NotNil(t, exit.Cause)
	assert.ErrorIs(t, exit.Cause.Squash(), boom)
}

func TestEffect_YieldKeepsRunning(t *testing.T) {
	rt := newTestRuntime()

	eff := fx.ZipRight(fx.YieldNow(), fx.Succeed("after yield"))
	v, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, "after yield", v)
}

func TestEffect_LockRunsOnNamedExecutor(t *testing.T) {
	p := platform.New(platform.WithLogger(zap.NewNop()))
	rt := fx.NewRuntime(p, nil)

	eff := fx.Lock(p.Sync, fx.WithDescriptor(func(d fx.Descriptor) fx.Effect[bool] {
		return fx.Succeed(d.Executor == p.Sync)
	}))
	onSync, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.True(t, onSync)

	// the previous executor is restored after the region
	restored, err := fx.Run(rt, fx.ZipRight(eff, fx.WithDescriptor(func(d fx.Descriptor) fx.Effect[bool] {
		return fx.Succeed(d.Executor == p.Async)
	})))
	require.NoError(t, err)
	assert.True(t, restored)
}

type rejectingExecutor struct{}

func (rejectingExecutor) Submit(func()) bool { return false }
func (rejectingExecutor) Concurrency() int   { return 1 }
func (rejectingExecutor) YieldOpCount() int  { return platform.DefaultYieldOpCount }
func (rejectingExecutor) Shutdown()          {}

func TestEffect_ExecutorRejectionBecomesDefect(t *testing.T) {
	p := platform.New(
		platform.WithLogger(zap.NewNop()),
		platform.WithExecutors(rejectingExecutor{}, nil),
		platform.WithFailureSink(func(*cause.Cause) {}),
	)
	rt := fx.NewRuntime(p, nil)

	exit := fx.RunExit(rt, fx.Succeed("never scheduled"))
	require.NotNil(t, exit.Cause)
	defects := exit.Cause.Defects()
	require.Len(t, defects, 1)
	assert.ErrorIs(t, defects[0].(error), fx.ErrExecutorRejected)
}
