// Package executor fans a fixed pool of worker goroutines out over a
// provider.Provider, running each chunk through an ordered list of
// inplace.Processor stages and a search.ReturnProcessor, folding partials
// into a result aggregate. Grounded on the original's Executor: a fixed
// thread pool, an atomic stop flag, and "last worker out closes the
// result."
package executor

import (
	"sync"
	"sync/atomic"

	"github.com/lfreist/xsearch/internal/chunk"
	"github.com/lfreist/xsearch/internal/inplace"
)

// Aggregate is the subset of a result aggregate's API the executor depends
// on; result.CountResult, result.ContainerResult and
// result.OrderedContainerResult all satisfy a specialization of it once the
// collector callback is supplied (see Run).
type Aggregate interface {
	Done()
}

// Provider is the minimal surface executor needs from a data source,
// matching provider.Provider.
type Provider interface {
	Next() (*chunk.Chunk, bool, error)
	Close() error
}

// Executor runs NumWorkers goroutines, each looping
// read -> inplace stages -> collect, until the provider is exhausted or
// ForceStop is called.
type Executor struct {
	Provider   Provider
	Processors []inplace.Processor
	NumWorkers int

	stopped atomic.Bool
	firstErr atomic.Pointer[error]
}

// New builds an Executor over provider, running chunks through processors
// (in order) before collect is invoked. numWorkers is clamped to at least
// 1.
func New(p Provider, processors []inplace.Processor, numWorkers int) *Executor {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Executor{Provider: p, Processors: processors, NumWorkers: numWorkers}
}

// ForceStop cooperatively signals every worker to stop pulling new chunks.
// Workers already mid-chunk finish that chunk first.
func (e *Executor) ForceStop() { e.stopped.Store(true) }

// Stopped reports whether ForceStop has been called.
func (e *Executor) Stopped() bool { return e.stopped.Load() }

// Run drives the pool to completion. collect is invoked once per chunk,
// after it passes through every Processor, from whichever worker goroutine
// produced it — collect must be safe for concurrent use (result.*Result
// types are). Run blocks until every worker has exited, then calls
// done.Done() exactly once from whichever goroutine finishes last, and
// finally closes the provider. It returns the first error any worker or
// the provider observed, or nil.
func (e *Executor) Run(collect func(c *chunk.Chunk) error, done Aggregate) error {
	var wg sync.WaitGroup
	var active atomic.Int32
	active.Store(int32(e.NumWorkers))

	wg.Add(e.NumWorkers)
	for i := 0; i < e.NumWorkers; i++ {
		go func() {
			defer wg.Done()
			e.workerLoop(collect)
			if active.Add(-1) == 0 {
				done.Done()
			}
		}()
	}
	wg.Wait()

	closeErr := e.Provider.Close()
	if p := e.firstErr.Load(); p != nil {
		return *p
	}
	return closeErr
}

func (e *Executor) workerLoop(collect func(c *chunk.Chunk) error) {
	for {
		if e.stopped.Load() {
			return
		}
		c, ok, err := e.Provider.Next()
		if err != nil {
			e.recordErr(err)
			e.ForceStop()
			return
		}
		if !ok {
			return
		}

		for _, proc := range e.Processors {
			c, err = proc.Process(c)
			if err != nil {
				e.recordErr(err)
				e.ForceStop()
				return
			}
		}

		if err := collect(c); err != nil {
			e.recordErr(err)
			e.ForceStop()
			return
		}
	}
}

func (e *Executor) recordErr(err error) {
	e.firstErr.CompareAndSwap(nil, &err)
}
