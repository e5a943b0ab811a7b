// Package jobs provides the bounded worker pool running ingestion tasks.
package jobs

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrQueueFull is returned when the task queue cannot accept more work.
var ErrQueueFull = errors.New("job queue is full")

// ErrStopped is returned when submitting to a stopped pool.
var ErrStopped = errors.New("worker pool is stopped")

// Task is one unit of background work.
type Task func(ctx context.Context)

// Pool runs queued tasks on a fixed number of workers. At most `workers`
// tasks execute concurrently; everything else waits in the queue.
type Pool struct {
	workers int
	queue   chan Task
	wg      sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool creates a new Pool instance
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		workers: workers,
		queue:   make(chan Task, queueSize),
	}
}

// Start launches the workers. Tasks run until Stop is called or the
// context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	log.Printf("Worker pool started with %d workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task, ok := <-p.queue:
					if !ok {
						return
					}
					task(ctx)
				}
			}
		}()
	}
}

// Submit enqueues a task without blocking. A full queue is backpressure:
// the caller decides whether to reject or retry.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	log.Println("Worker pool shutdown complete")
}
