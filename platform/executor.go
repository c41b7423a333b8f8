package platform

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Executor runs fiber slices. Submit returns false when the executor cannot
// accept the task (bounded queue full, or shut down); the interpreter turns
// a rejection into a defect.
type Executor interface {
	Submit(task func()) bool
	Concurrency() int
	YieldOpCount() int
	Shutdown()
}

// KeyedExecutor is an optional refinement: submissions carrying the same key
// land on the same worker, which keeps a fiber's slices on one queue between
// yields.
type KeyedExecutor interface {
	Executor
	SubmitKeyed(key uint64, task func()) bool
}

// SubmitWith routes through SubmitKeyed when the executor supports it.
func SubmitWith(e Executor, key uint64, task func()) bool {
	if ke, ok := e.(KeyedExecutor); ok {
		return ke.SubmitKeyed(key, task)
	}
	return e.Submit(task)
}

const defaultWorkerQueueSize = 1024

// asyncExecutor is the default yielding executor: a fixed pool of workers,
// each draining its own bounded queue. Submissions are sharded over the
// workers by hashing the fiber key, the same way partitioned effect
// dispatch hashes payload keys.
type asyncExecutor struct {
	workers      []chan func()
	yieldOpCount int
	next         atomic.Uint64
	mu           sync.Mutex
	closed       bool
	wg           sync.WaitGroup
}

// NewAsyncExecutor builds the default asynchronous executor with
// concurrency workers. A non-positive concurrency defaults to
// 2 x GOMAXPROCS.
func NewAsyncExecutor(concurrency, yieldOpCount int) Executor {
	if concurrency <= 0 {
		concurrency = 2 * runtime.GOMAXPROCS(0)
	}
	if yieldOpCount <= 0 {
		yieldOpCount = DefaultYieldOpCount
	}
	e := &asyncExecutor{
		workers:      make([]chan func(), concurrency),
		yieldOpCount: yieldOpCount,
	}
	for i := range e.workers {
		ch := make(chan func(), defaultWorkerQueueSize)
		e.workers[i] = ch
		e.wg.Add(1)
		go func(ch chan func()) {
			defer e.wg.Done()
			for task := range ch {
				task()
			}
		}(ch)
	}
	return e
}

func (e *asyncExecutor) Concurrency() int  { return len(e.workers) }
func (e *asyncExecutor) YieldOpCount() int { return e.yieldOpCount }

func (e *asyncExecutor) Submit(task func()) bool {
	return e.SubmitKeyed(e.next.Add(1), task)
}

func (e *asyncExecutor) SubmitKeyed(key uint64, task func()) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	idx := xxhash.Sum64(buf[:]) % uint64(len(e.workers))

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	select {
	case e.workers[idx] <- task:
		e.mu.Unlock()
		return true
	default:
		e.mu.Unlock()
		return false
	}
}

func (e *asyncExecutor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, ch := range e.workers {
		close(ch)
	}
	e.mu.Unlock()
}

// syncExecutor runs blocking tasks. It behaves like a cached pool: a
// bounded set of idle workers is reused, and a fresh goroutine is started
// when none is parked. The queue is unbounded, so Submit only fails after
// Shutdown.
type syncExecutor struct {
	idle         chan chan func()
	yieldOpCount int
	mu           sync.Mutex
	closed       bool
}

// NewSyncExecutor builds the default synchronous/blocking executor.
func NewSyncExecutor(yieldOpCount int) Executor {
	if yieldOpCount <= 0 {
		yieldOpCount = DefaultYieldOpCount
	}
	return &syncExecutor{
		idle:         make(chan chan func(), 4*runtime.GOMAXPROCS(0)),
		yieldOpCount: yieldOpCount,
	}
}

func (e *syncExecutor) Concurrency() int  { return runtime.GOMAXPROCS(0) }
func (e *syncExecutor) YieldOpCount() int { return e.yieldOpCount }

func (e *syncExecutor) Submit(task func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	select {
	case worker := <-e.idle:
		worker <- task
		return true
	default:
	}

	go e.work(task)
	return true
}

func (e *syncExecutor) work(task func()) {
	worker := make(chan func())
	for {
		task()

		select {
		case e.idle <- worker:
		default:
			return
		}

		next, ok := <-worker
		if !ok {
			return
		}
		task = next
	}
}

func (e *syncExecutor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	for {
		select {
		case worker := <-e.idle:
			close(worker)
		default:
			return
		}
	}
}
