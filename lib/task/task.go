// Package task runs named background tasks under supervision.
//
// Fire and forget work (cache flushes, tier promotion, rebuilds) is
// spawned through a Runner rather than as bare goroutines. The Runner
// tracks every task until it finishes, reports failures and panics to
// the log, and lets owners and tests wait for all in-flight work to
// drain.
package task

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/poolfs/poolfs/store"
)

// Runner supervises a set of background tasks.
type Runner struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewRunner creates an empty Runner.
func NewRunner() *Runner {
	return &Runner{}
}

// String converts this Runner to a string for logging
func (r *Runner) String() string {
	return "background tasks"
}

// Go spawns f as a supervised task and reports whether it was
// accepted. Errors and panics from f are logged under name, never
// returned to the spawner. Tasks spawned after Close are dropped with
// a log message.
func (r *Runner) Go(name string, f func() error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		store.Debugf(r, "dropping task %q: runner closed", name)
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		err := runTask(f)
		if err != nil {
			store.Errorf(r, "task %q failed: %v", name, err)
			return
		}
		store.Debugf(r, "task %q finished", name)
	}()
	return true
}

// runTask calls f, turning a panic into an error.
func runTask(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return f()
}

// Wait blocks until every task spawned so far has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close stops accepting new tasks and waits for the running ones.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}
