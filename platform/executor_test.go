package platform_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/on-the-ground/fiberfx/platform"
)

func TestAsyncExecutor_RunsSubmittedTasks(t *testing.T) {
	e := platform.NewAsyncExecutor(4, 0)
	defer e.Shutdown()

	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		ok := e.Submit(func() {
			count.Add(1)
			wg.Done()
		})
		require.True(t, ok)
	}
	wg.Wait()
	assert.Equal(t, int32(100), count.Load())
}

func TestAsyncExecutor_KeyedSubmissionsStayOrdered(t *testing.T) {
	e := platform.NewAsyncExecutor(8, 0)
	defer e.Shutdown()

	ke, ok := e.(platform.KeyedExecutor)
	require.True(t, ok)

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		require.True(t, ke.SubmitKeyed(42, func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()

	// same key means same worker queue, so FIFO order is preserved
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestAsyncExecutor_RejectsAfterShutdown(t *testing.T) {
	e := platform.NewAsyncExecutor(2, 0)
	e.Shutdown()
	assert.False(t, e.Submit(func() {}))
}

func TestSyncExecutor_ReusesIdleWorkers(t *testing.T) {
	e := platform.NewSyncExecutor(0)
	defer e.Shutdown()

	done := make(chan struct{}, 2)
	require.True(t, e.Submit(func() { done <- struct{}{} }))
	<-done

	// give the worker a moment to park itself as idle
	time.Sleep(10 * time.Millisecond)
	require.True(t, e.Submit(func() { done <- struct{}{} }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reused worker never ran the task")
	}
}

func TestSyncExecutor_RejectsAfterShutdown(t *testing.T) {
	e := platform.NewSyncExecutor(0)
	e.Shutdown()
	assert.False(t, e.Submit(func() {}))
}

func TestPlatform_Defaults(t *testing.T) {
	p := platform.New(platform.WithLogger(zap.NewNop()))
	defer p.Shutdown()

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, platform.DefaultYieldOpCount, p.YieldOpCount)
	assert.NotNil(t, p.Async)
	assert.NotNil(t, p.Sync)
	assert.NotNil(t, p.Metrics)
	assert.False(t, p.IsFatal("anything"))

	first := p.NextFiberID()
	second := p.NextFiberID()
	assert.Equal(t, first+1, second)
}

func TestMetrics_CountersRegister(t *testing.T) {
	m := platform.NewMetrics()
	m.FiberStarted()
	m.FiberCompleted(platform.StatusSucceeded)
	m.FiberCompleted(platform.StatusInterrupted)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	byName := map[string]bool{}
	for _, mf := range families {
		byName[mf.GetName()] = true
	}
	assert.True(t, byName["fiberfx_fibers_started_total"])
	assert.True(t, byName["fiberfx_fibers_completed_total"])
}
