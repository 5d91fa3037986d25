// Package engine provides the bounded worker pool the transfer publisher uses
// to read file chunks off the socket goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VanDung-dev/HeavyData-Engine/monitoring"
)

// Pool errors.
var (
	ErrPoolClosed = errors.New("worker pool is shut down")
	ErrQueueFull  = errors.New("task queue is full")
)

// Task is a unit of work for the pool.
type Task struct {
	ID        string
	Run       func(ctx context.Context) (any, error)
	Ctx       context.Context
	CreatedAt time.Time

	// Done, when set, receives the result on the worker goroutine instead of
	// the shared result channel.
	Done func(*Result)
}

// NewTask creates a task with a background context.
func NewTask(id string, run func(ctx context.Context) (any, error)) *Task {
	return &Task{
		ID:        id,
		Run:       run,
		Ctx:       context.Background(),
		CreatedAt: time.Now(),
	}
}

// Result is the outcome of one task.
type Result struct {
	TaskID   string
	Success  bool
	Data     any
	Error    error
	Duration time.Duration
	WorkerID int
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// WorkerPool runs tasks on a fixed number of goroutines.
type WorkerPool struct {
	name       string
	workers    int
	taskChan   chan *Task
	resultChan chan *Result
	wg         sync.WaitGroup
	metrics    *monitoring.Metrics

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewWorkerPool starts a pool of workers with a queue of queueSize pending
// tasks (100 per worker when queueSize is not positive).
func NewWorkerPool(name string, workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		name:       name,
		workers:    workers,
		taskChan:   make(chan *Task, queueSize),
		resultChan: make(chan *Result, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		running:    true,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}
	return pool
}

// SetMetrics makes the pool report its gauges to m after every task.
func (p *WorkerPool) SetMetrics(m *monitoring.Metrics) {
	p.mu.Lock()
	p.metrics = m
	p.mu.Unlock()
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskChan:
			if !ok {
				return
			}
			p.processTask(id, task)
		}
	}
}

func (p *WorkerPool) processTask(workerID int, task *Task) {
	p.active.Add(1)
	start := time.Now()
	result := &Result{TaskID: task.ID, WorkerID: workerID}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Errorf("panic in task %s: %v", task.ID, r)
		}
		result.Duration = time.Since(start)
		if result.Success {
			p.completed.Add(1)
		} else {
			p.failed.Add(1)
		}
		p.active.Add(-1)
		p.reportStats()
		p.deliver(task, result)
	}()

	ctx := task.Ctx
	if ctx == nil {
		ctx = p.ctx
	}
	if err := ctx.Err(); err != nil {
		result.Error = err
		return
	}
	if task.Run == nil {
		result.Error = errors.New("no run function defined")
		return
	}
	result.Data, result.Error = task.Run(ctx)
	result.Success = result.Error == nil
}

func (p *WorkerPool) deliver(task *Task, result *Result) {
	if task.Done != nil {
		task.Done(result)
		return
	}
	select {
	case p.resultChan <- result:
	default:
		// Channel full, result dropped (caller should consume results)
	}
}

func (p *WorkerPool) reportStats() {
	p.mu.RLock()
	m := p.metrics
	p.mu.RUnlock()
	m.UpdateWorkerPool(int(p.active.Load()), len(p.taskChan))
}

// Submit queues a task without blocking.
func (p *WorkerPool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrPoolClosed
	}

	select {
	case p.taskChan <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAndWait submits a task and waits for its result or for ctx to end.
func (p *WorkerPool) SubmitAndWait(ctx context.Context, task *Task) (*Result, error) {
	done := make(chan *Result, 1)
	task.Done = func(r *Result) { done <- r }
	if task.Ctx == nil {
		task.Ctx = ctx
	}
	if err := p.Submit(task); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r, nil
	}
}

// Results returns the channel receiving results of tasks without Done.
func (p *WorkerPool) Results() <-chan *Result {
	return p.resultChan
}

// GetStats returns current worker pool statistics.
func (p *WorkerPool) GetStats() PoolStats {
	completed := p.completed.Load()
	failed := p.failed.Load()
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return PoolStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      p.active.Load(),
		Completed:   completed,
		Failed:      failed,
		Pending:     len(p.taskChan),
		SuccessRate: successRate,
	}
}

// Shutdown stops accepting tasks, lets queued tasks finish and waits for
// the workers.
func (p *WorkerPool) Shutdown() {
	_ = p.ShutdownWithTimeout(0)
}

// ShutdownWithTimeout is Shutdown bounded by timeout; a zero timeout waits
// indefinitely. Queued tasks still run after a timeout.
func (p *WorkerPool) ShutdownWithTimeout(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.taskChan)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.cancel()
		close(p.resultChan)
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("shutdown timeout")
	}
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
