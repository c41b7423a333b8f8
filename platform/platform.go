// Package platform owns the process-level machinery the interpreter runs
// on: the default executors, the fatal-error policy, the failure sink, the
// fiber-id counter and the runtime metrics. Multiple independent runtimes
// can coexist by building separate Platforms.
package platform

import (
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/on-the-ground/fiberfx/cause"
)

// DefaultYieldOpCount is the number of reductions a fiber performs before
// cooperatively yielding its worker.
const DefaultYieldOpCount = 2048

// Platform bundles the configuration an interpreter needs. Fields are set
// once at construction and never mutated afterwards.
type Platform struct {
	// ID identifies this platform instance in logs.
	ID string

	// Async is the default yielding executor fibers run on.
	Async Executor

	// Sync is the blocking executor; route blocking work here via Lock.
	Sync Executor

	// YieldOpCount bounds consecutive reductions before a cooperative yield.
	YieldOpCount int

	// IsFatal classifies recovered panic values. Fatal values re-propagate
	// to the host thread; non-fatal values become Die causes.
	IsFatal func(v any) bool

	// ReportFailure receives every unhandled Cause.
	ReportFailure func(c *cause.Cause)

	// Logger records platform lifecycle events.
	Logger *zap.Logger

	// Metrics collects runtime counters; never nil.
	Metrics *Metrics

	fiberIDs atomic.Uint64
}

// Option customizes a Platform under construction.
type Option func(*Platform)

// WithLogger replaces the default production logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Platform) { p.Logger = logger }
}

// WithYieldOpCount overrides the cooperative yield threshold.
func WithYieldOpCount(n int) Option {
	return func(p *Platform) {
		if n > 0 {
			p.YieldOpCount = n
		}
	}
}

// WithFatal replaces the fatal-error predicate.
func WithFatal(isFatal func(v any) bool) Option {
	return func(p *Platform) { p.IsFatal = isFatal }
}

// WithFailureSink replaces the unhandled-failure sink.
func WithFailureSink(sink func(c *cause.Cause)) Option {
	return func(p *Platform) { p.ReportFailure = sink }
}

// WithExecutors replaces the default executors.
func WithExecutors(async, sync Executor) Option {
	return func(p *Platform) {
		if async != nil {
			p.Async = async
		}
		if sync != nil {
			p.Sync = sync
		}
	}
}

// New builds a Platform with production defaults: a fixed async pool sized
// to twice the core count, a cached blocking pool, a zap production logger
// as failure sink, and nothing considered fatal (every recovered panic
// becomes a defect).
func New(opts ...Option) *Platform {
	logger, _ := zap.NewProduction()
	p := &Platform{
		ID:           uuid.New().String(),
		YieldOpCount: DefaultYieldOpCount,
		IsFatal:      func(any) bool { return false },
		Logger:       logger,
		Metrics:      NewMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.Async == nil {
		p.Async = NewAsyncExecutor(0, p.YieldOpCount)
	}
	if p.Sync == nil {
		p.Sync = NewSyncExecutor(p.YieldOpCount)
	}
	if p.ReportFailure == nil {
		logger := p.Logger
		p.ReportFailure = func(c *cause.Cause) {
			logger.Error("fiber failed with unhandled cause",
				zap.String("cause", c.String()),
				zap.Errors("failures", c.Failures()),
			)
		}
	}
	p.Logger.Sugar().Debugf("created platform: id: %v, concurrency: %d", p.ID, p.Async.Concurrency())
	return p
}

// NextFiberID allocates a fresh fiber id. Ids are unique per platform.
func (p *Platform) NextFiberID() uint64 {
	return p.fiberIDs.Add(1)
}

// Shutdown stops both executors. Fibers still running are not interrupted;
// call this only after the runtime has drained.
func (p *Platform) Shutdown() {
	p.Async.Shutdown()
	p.Sync.Shutdown()
	p.Logger.Sugar().Debugf("closed platform: id: %v", p.ID)
}
