package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/capitalize-ai/livechat-router/pkg/metrics"
)

// DefaultIdleTimeout is how long a worker waits for a job before retiring.
const DefaultIdleTimeout = 2 * time.Minute

// ErrDispatcherClosed is returned for jobs submitted after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher runs jobs for the same key one at a time, in submission order,
// on a goroutine owned by that key. Different keys run in parallel.
type Dispatcher struct {
	idle time.Duration

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

type worker struct {
	jobs    chan job
	pending int
}

// NewDispatcher creates a dispatcher. A non-positive idle uses DefaultIdleTimeout.
func NewDispatcher(idle time.Duration) *Dispatcher {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Dispatcher{
		idle:    idle,
		workers: make(map[string]*worker),
		stop:    make(chan struct{}),
	}
}

// Do runs fn on key's worker and waits for it. A job whose ctx is done before
// it starts is skipped. Do returns ctx.Err() as soon as ctx is done, even
// while the job is still queued behind others for the same key.
func (d *Dispatcher) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	w, ok := d.workers[key]
	if !ok {
		w = &worker{jobs: make(chan job)}
		d.workers[key] = w
		d.wg.Add(1)
		metrics.WorkersActive.Inc()
		go d.run(key, w)
	}
	w.pending++
	d.mu.Unlock()

	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		d.mu.Lock()
		w.pending--
		d.mu.Unlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of live workers.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Close rejects new jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.stop)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(key string, w *worker) {
	defer d.wg.Done()
	defer metrics.WorkersActive.Dec()

	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	stop := d.stop
	for {
		select {
		case j := <-w.jobs:
			j.done <- execute(j)
			timer.Reset(d.idle)

			d.mu.Lock()
			w.pending--
			if stop == nil && w.pending == 0 {
				delete(d.workers, key)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()

		case <-timer.C:
			if d.retire(key, w) {
				return
			}
			timer.Reset(d.idle)

		case <-stop:
			if d.retire(key, w) {
				return
			}
			stop = nil
		}
	}
}

// retire removes the worker if nothing is queued for it.
func (d *Dispatcher) retire(key string, w *worker) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w.pending > 0 {
		return false
	}
	delete(d.workers, key)
	return true
}

func execute(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return j.fn(j.ctx)
}

// PanicError reports a job that panicked. The worker survives it.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("router job panicked: %v", e.Value)
}
