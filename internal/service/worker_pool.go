// internal/service/worker_pool.go
package service

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolStopped is returned for tasks submitted after Stop
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is one unit of bridge work
type Task func() (interface{}, error)

// TaskResult is delivered once per submitted task
type TaskResult struct {
	Value interface{}
	Err   error
}

type job struct {
	task   Task
	result chan TaskResult
}

// WorkerPool runs tasks on a fixed number of goroutines
type WorkerPool struct {
	size    int
	jobs    chan job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	logger  *zap.Logger
}

// NewWorkerPool starts size workers
func NewWorkerPool(size int, logger *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	p := &WorkerPool{
		size:   size,
		jobs:   make(chan job, size*4),
		logger: logger.With(zap.String("component", "worker_pool")),
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}

	p.logger.Info("Worker pool started", zap.Int("workers", size))
	return p
}

// Submit queues task and returns a channel carrying its result
func (p *WorkerPool) Submit(task Task) <-chan TaskResult {
	result := make(chan TaskResult, 1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		result <- TaskResult{Err: ErrPoolStopped}
		return result
	}
	p.jobs <- job{task: task, result: result}
	return result
}

// Size returns the number of workers
func (p *WorkerPool) Size() int {
	return p.size
}

// Stop rejects new tasks and waits for queued ones to finish
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		j.result <- p.run(id, j.task)
	}
}

func (p *WorkerPool) run(id int, task Task) (res TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked", zap.Int("worker", id), zap.Any("panic", r))
			res = TaskResult{Err: errors.New("task panicked")}
		}
	}()

	value, err := task()
	return TaskResult{Value: value, Err: err}
}
