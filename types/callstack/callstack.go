package callstack

import (
	"errors"
	"sync"
	"sync/atomic"
)

// CallableFn is a teardown step
type CallableFn func() error

// CallStack runs registered teardown steps in reverse registration order
type CallStack struct {
	calling  atomic.Bool
	handlers []CallableFn
	mu       sync.Mutex
}

func NewCallStack() *CallStack {
	return &CallStack{
		handlers: make([]CallableFn, 0),
	}
}

func (c *CallStack) Add(fn CallableFn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Len returns the number of registered steps
func (c *CallStack) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Run calls every step, last registered first, and empties the stack.
// With abortOnError the first failure stops the run; otherwise all failures are joined
func (c *CallStack) Run(abortOnError bool) error {
	c.mu.Lock()
	handlers := c.handlers
	c.handlers = make([]CallableFn, 0)
	c.mu.Unlock()

	c.calling.Store(true)
	defer c.calling.Store(false)

	var errs error
	for i := len(handlers) - 1; i >= 0; i-- {
		if err := handlers[i](); err != nil {
			if abortOnError {
				return err
			}
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// IsCalling is true while Run is executing steps
func (c *CallStack) IsCalling() bool {
	return c.calling.Load()
}
