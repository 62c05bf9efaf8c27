// Package errcount accumulates errors from best-effort fan-outs so a
// multi-backend operation can visit every target and report once at
// the end instead of flooding the caller.
package errcount

import (
	"sync"

	"github.com/pkg/errors"
)

// Counter collects errors as a fan-out visits its targets. The zero
// value is ready to use.
type Counter struct {
	mu    sync.Mutex
	first error
	count int
}

// New makes an empty Counter.
func New() *Counter {
	return &Counter{}
}

// Add records err. Nil errors are ignored so results can be fed in
// unconditionally.
//
// Thread safe.
func (c *Counter) Add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		c.first = err
	}
	c.count++
}

// Count returns how many errors have been recorded so far.
//
// Thread safe.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Err summarizes what was recorded, nil when nothing failed. A single
// error is wrapped with what as context, several collapse to the
// first plus the total count.
//
// Thread safe.
func (c *Counter) Err(what string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.count {
	case 0:
		return nil
	case 1:
		return errors.Wrap(c.first, what)
	}
	return errors.Wrapf(c.first, "%s: %d errors, first", what, c.count)
}
