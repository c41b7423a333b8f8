package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/on-the-ground/fiberfx/fx"
	"github.com/on-the-ground/fiberfx/platform"
	"github.com/on-the-ground/fiberfx/queue"
)

func newTestRuntime() *fx.Runtime {
	return fx.NewRuntime(platform.New(platform.WithLogger(zap.NewNop())), nil)
}

func TestQueue_OfferTakeRoundTrip(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Bounded[int](16)

	v, err := fx.Run(rt, fx.ZipRight(q.Offer(7), q.Take()))
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestQueue_TakeBeforeOffer(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Bounded[string](4)

	eff := fx.FlatMap(fx.Fork(q.Take()), func(taker fx.Fiber[string]) fx.Effect[string] {
		return fx.ZipRight(q.Offer("handed off"), taker.Join())
	})
	v, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, "handed off", v)
}

func TestQueue_BackPressureScenario(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Bounded[int](2)

	eff := fx.FlatMap(q.Offer(1), func(ok1 bool) fx.Effect[[]int] {
		return fx.FlatMap(q.Offer(2), func(ok2 bool) fx.Effect[[]int] {
			// the third offer exceeds capacity and parks
			return fx.FlatMap(fx.Fork(q.Offer(3)), func(pending fx.Fiber[bool]) fx.Effect[[]int] {
				return fx.FlatMap(awaitSize(q, 3), func(fx.Unit) fx.Effect[[]int] {
					return fx.FlatMap(q.Take(), func(head int) fx.Effect[[]int] {
						return fx.FlatMap(pending.Join(), func(ok3 bool) fx.Effect[[]int] {
							return fx.Map(q.TakeAll(), func(rest []int) []int {
								require.True(t, ok1)
								require.True(t, ok2)
								require.True(t, ok3)
								require.Equal(t, 1, head)
								return rest
							})
						})
					})
				})
			})
		})
	})

	rest, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, rest)
}

// awaitSize polls until the queue reports the given size, so the test does
// not race the parked offer's registration.
func awaitSize(q *queue.Queue[int], want int) fx.Effect[fx.Unit] {
	return fx.FlatMap(q.Size(), func(size int) fx.Effect[fx.Unit] {
		if size >= want {
			return fx.UnitEffect()
		}
		return fx.ZipRight(fx.YieldNow(), awaitSize(q, want))
	})
}

func TestQueue_SlidingDropsOldest(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Sliding[int](2)

	eff := fx.FlatMap(q.OfferAll([]int{1, 2, 3, 4}), func(ok bool) fx.Effect[[]int] {
		return fx.Map(q.TakeAll(), func(vs []int) []int {
			require.False(t, ok)
			return vs
		})
	})
	vs, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, vs)
}

func TestQueue_SlidingWithoutDropReturnsTrue(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Sliding[int](4)

	ok, err := fx.Run(rt, q.OfferAll([]int{1, 2}))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueue_DroppingRejectsSurplus(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Dropping[int](2)

	eff := fx.FlatMap(q.OfferAll([]int{1, 2, 3}), func(ok bool) fx.Effect[[]int] {
		return fx.Map(q.TakeAll(), func(vs []int) []int {
			require.False(t, ok)
			return vs
		})
	})
	vs, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, vs)
}

func TestQueue_UnboundedAcceptsEverything(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Unbounded[int]()

	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	eff := fx.FlatMap(q.OfferAll(items), func(ok bool) fx.Effect[[]int] {
		return fx.Map(q.TakeAll(), func(vs []int) []int {
			require.True(t, ok)
			return vs
		})
	})
	vs, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, items, vs)
}

func TestQueue_TakeUpTo(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Bounded[int](8)

	eff := fx.ZipRight(q.OfferAll([]int{1, 2, 3, 4}), fx.Zip(q.TakeUpTo(2), q.TakeAll()))
	p, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, p.First)
	assert.Equal(t, []int{3, 4}, p.Second)
}

func TestQueue_PartialPutterPromotion(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Bounded[int](2)

	// fill the queue, then park a batch offer that cannot fully fit
	eff := fx.FlatMap(q.OfferAll([]int{1, 2}), func(bool) fx.Effect[[]int] {
		return fx.FlatMap(fx.Fork(q.OfferAll([]int{3, 4, 5})), func(parked fx.Fiber[bool]) fx.Effect[[]int] {
			return fx.FlatMap(awaitSize(q, 5), func(fx.Unit) fx.Effect[[]int] {
				// one take frees one slot: the parked putter is consumed
				// partially and pushed back with its tail
				return fx.FlatMap(q.Take(), func(head int) fx.Effect[[]int] {
					require.Equal(t, 1, head)
					return fx.FlatMap(q.Take(), func(second int) fx.Effect[[]int] {
						require.Equal(t, 2, second)
						return fx.FlatMap(q.Take(), func(third int) fx.Effect[[]int] {
							require.Equal(t, 3, third)
							return fx.FlatMap(parked.Join(), func(ok bool) fx.Effect[[]int] {
								require.True(t, ok)
								return q.TakeAll()
							})
						})
					})
				})
			})
		})
	})

	rest, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, rest)
}

func TestQueue_ShutdownInterruptsWaiters(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Bounded[int](1)

	eff := fx.FlatMap(fx.Fork(q.Take()), func(taker fx.Fiber[int]) fx.Effect[fx.Exit[int]] {
		return fx.ZipRight(
			awaitTakers(q),
			fx.ZipRight(q.Shutdown(), taker.Await()),
		)
	})
	exit, err := fx.Run(rt, eff)
	require.NoError(t, err)
	require.NotNil(t, exit.Cause)
	assert.True(t, exit.Cause.Interrupted())
}

// awaitTakers spins until a taker has parked, surfacing as a negative size.
func awaitTakers(q *queue.Queue[int]) fx.Effect[fx.Unit] {
	return fx.FlatMap(q.Size(), func(size int) fx.Effect[fx.Unit] {
		if size < 0 {
			return fx.UnitEffect()
		}
		return fx.ZipRight(fx.YieldNow(), awaitTakers(q))
	})
}

func TestQueue_OperationsAfterShutdownFail(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Bounded[int](1)

	exit := fx.RunExit(rt, fx.ZipRight(q.Shutdown(), q.Offer(1)))
	require.NotNil(t, exit.Cause)
	assert.True(t, exit.Cause.Interrupted())

	down, err := fx.Run(rt, fx.ZipRight(q.Shutdown(), q.IsShutdown()))
	require.NoError(t, err)
	assert.True(t, down)
}

func TestQueue_AwaitShutdownFiresOnce(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Bounded[int](1)

	eff := fx.FlatMap(fx.Fork(q.AwaitShutdown()), func(w fx.Fiber[fx.Unit]) fx.Effect[fx.Unit] {
		return fx.ZipRight(q.Shutdown(), fx.ZipRight(q.Shutdown(), w.Join()))
	})

	done := make(chan error, 1)
	go func() {
		_, err := fx.Run(rt, eff)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("await-shutdown waiter never resumed")
	}
}

func TestQueue_InterruptedTakerLeavesNoLeak(t *testing.T) {
	rt := newTestRuntime()
	q := queue.Bounded[int](1)

	eff := fx.FlatMap(fx.Fork(q.Take()), func(taker fx.Fiber[int]) fx.Effect[int] {
		return fx.ZipRight(
			awaitTakers(q),
			fx.FlatMap(taker.Interrupt(), func(fx.Exit[int]) fx.Effect[int] {
				// with the canceled taker removed, this offer must stay in
				// the queue for the next take
				return fx.ZipRight(q.Offer(9), q.Take())
			}),
		)
	})
	v, err := fx.Run(rt, eff)
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}
