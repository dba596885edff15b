package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrDispatcherClosed is returned when work is submitted after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// backgroundQueuePerWorker sizes the fire-and-forget queue relative to the
// worker limit.
const backgroundQueuePerWorker = 64

type backgroundTask struct {
	name string
	fn   func(context.Context) error
}

// Dispatcher runs blocking collaborator calls (token verification, history
// reads, persistence) on a bounded set of goroutines so a slow database or
// identity provider never stalls message delivery.
//
// Do callers wait for their own result. Go tasks go through a fixed-size
// queue drained by a fixed set of workers; when the queue is full the task is
// dropped and logged.
type Dispatcher struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	queue   chan backgroundTask

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	done   sync.WaitGroup
}

// NewDispatcher creates a Dispatcher that runs at most limit tasks at once,
// each bounded by timeout.
func NewDispatcher(limit int, timeout time.Duration) *Dispatcher {
	if limit <= 0 {
		limit = defaultWorkerLimit
	}
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sem:     semaphore.NewWeighted(int64(limit)),
		timeout: timeout,
		queue:   make(chan backgroundTask, limit*backgroundQueuePerWorker),
		ctx:     ctx,
		cancel:  cancel,
	}

	d.done.Add(limit)
	for i := 0; i < limit; i++ {
		go d.worker()
	}
	return d
}

// track reserves a slot in the wait group unless the dispatcher is closed.
func (d *Dispatcher) track() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.wg.Add(1)
	return true
}

// Do runs fn on a pool goroutine and waits for its result. Cancelling ctx
// abandons the wait and cancels the context handed to fn.
func (d *Dispatcher) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !d.track() {
		return ErrDispatcherClosed
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.wg.Done()
		return fmt.Errorf("%s: %w", name, err)
	}

	taskCtx, cancel := context.WithTimeout(ctx, d.timeout)
	result := make(chan error, 1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer cancel()
		result <- d.run(taskCtx, name, fn)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", name, ctx.Err())
	}
}

// Go queues fn to run in the background and reports whether it was accepted.
// Failures are logged; the task is bounded by the dispatcher's timeout, not
// by any connection.
func (d *Dispatcher) Go(name string, fn func(context.Context) error) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		log.Printf("Dispatcher closed; dropping background task %s", name)
		return false
	}

	d.wg.Add(1)
	select {
	case d.queue <- backgroundTask{name: name, fn: fn}:
		return true
	default:
		d.wg.Done()
		log.Printf("Background queue full (%d tasks); dropping task %s", cap(d.queue), name)
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.done.Done()
	for task := range d.queue {
		d.runBackground(task)
	}
}

func (d *Dispatcher) runBackground(task backgroundTask) {
	defer d.wg.Done()

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		log.Printf("Background task %s abandoned: %v", task.name, err)
		return
	}
	defer d.sem.Release(1)

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	if err := d.run(ctx, task.name, task.fn); err != nil {
		log.Printf("Background task %s failed: %v", task.name, err)
	}
}

func (d *Dispatcher) run(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}

// Shutdown stops accepting work and waits for running and queued tasks. When
// ctx expires first, outstanding tasks are cancelled and ctx's error is
// returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		d.done.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		log.Println("Dispatcher shutdown timeout reached, cancelling outstanding tasks")
		return ctx.Err()
	}
}
