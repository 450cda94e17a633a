// Package serialdispatch runs submitted functions one at a time, in
// submission order, on a single worker goroutine.
package serialdispatch

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("serialdispatch: dispatcher closed")

type job struct {
	fn   func() error
	done chan error
}

type Dispatcher struct {
	mu     sync.Mutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// New starts a dispatcher whose queue holds up to buffer pending jobs before
// submitters block.
func New(buffer int) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	d := &Dispatcher{queue: make(chan job, buffer)}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		err := j.fn()
		if j.done != nil {
			j.done <- err
		}
	}
}

func (d *Dispatcher) submit(j job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.queue <- j
	return nil
}

// Dispatch enqueues fn and waits for its result. Calling Dispatch from inside
// a dispatched function deadlocks.
func (d *Dispatcher) Dispatch(fn func() error) error {
	done := make(chan error, 1)
	if err := d.submit(job{fn: fn, done: done}); err != nil {
		return err
	}
	return <-done
}

// Go enqueues fn without waiting. Safe to call from a dispatched function as
// long as the queue has room.
func (d *Dispatcher) Go(fn func() error) error {
	return d.submit(job{fn: fn})
}

// Close stops accepting work and waits for queued jobs to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
