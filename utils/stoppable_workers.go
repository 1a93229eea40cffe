// Package utils contains small helpers shared across the ICON runtime
// packages.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers is a collection of goroutines that can be stopped at a
// later time. The runtime uses one per group of IPC server threads.
type StoppableWorkers interface {
	Add(...func(context.Context))
	Stop()
	Context() context.Context
}

// The implementation contains a sync.WaitGroup, so everything goes through
// the interface to avoid copies.
type stoppableWorkers struct {
	mu            sync.Mutex
	cancelCtx     context.Context
	cancelFunc    func()
	activeWorkers sync.WaitGroup
}

// NewStoppableWorkers runs the given functions in separate goroutines. They
// are expected to return promptly once the passed-in context is cancelled.
func NewStoppableWorkers(funcs ...func(context.Context)) StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	workers := &stoppableWorkers{cancelCtx: cancelCtx, cancelFunc: cancelFunc}
	workers.Add(funcs...)
	return workers
}

// Add starts up additional goroutines for each function passed in. Calling
// Add after Stop returns immediately without starting anything.
func (sw *stoppableWorkers) Add(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil {
		return
	}

	sw.activeWorkers.Add(len(funcs))
	for _, f := range funcs {
		f := f
		goutils.PanicCapturingGo(func() {
			defer sw.activeWorkers.Done()
			f(sw.cancelCtx)
		})
	}
}

// Stop cancels the shared context and waits for all workers to return.
// Idempotent.
func (sw *stoppableWorkers) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cancelFunc()
	sw.activeWorkers.Wait()
}

// Context returns the context the workers watch for cancellation.
func (sw *stoppableWorkers) Context() context.Context {
	return sw.cancelCtx
}
