package server

import (
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
)

// Task is a unit of work executed by the pool.
type Task func()

// Pool is the fixed worker pool that runs packet handlers off the read loops.
//
// Submit never drops a task: when the queue is saturated the task runs
// synchronously in the caller, which throttles the submitting read loop
// instead of silently stalling a connection's mailbox drain.
type Pool struct {
	workers int
	tasks   chan Task
	wg      sync.WaitGroup
	log     *slog.Logger

	mu      sync.Mutex
	stopped bool
}

func NewPool(workers, queueSize int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		workers: workers,
		tasks:   make(chan Task, queueSize),
		log:     log,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Info("worker pool started", "workers", p.workers, "queue", cap(p.tasks))
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

// run executes a task with panic recovery so one bad handler cannot take a
// worker down.
func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panic recovered",
				"panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}

// Submit enqueues the task, or runs it in the caller when the queue is full
// or the pool is already stopped.
func (p *Pool) Submit(task Task) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.run(task)
		return
	}
	select {
	case p.tasks <- task:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.run(task)
	}
}

// Stop closes the queue and blocks until every queued task has finished.
// Tasks submitted afterwards run synchronously.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

// QueueDepth reports the number of queued tasks, for metrics.
func (p *Pool) QueueDepth() int { return len(p.tasks) }
