// Package workers provides a small bounded worker pool used to fan a
// fixed batch of tasks out across a capped number of goroutines, with
// per-task timeout and panic recovery.
package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work submitted to a Pool.
type Task interface {
	Execute() error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// Pool runs submitted tasks across a fixed number of worker goroutines.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *PoolMetrics
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Name            string        // pool name, for logging
	NumWorkers      int           // number of worker goroutines
	QueueSize       int           // size of the task queue
	TaskTimeout     time.Duration // per-task timeout
	ShutdownTimeout time.Duration // how long Stop waits for in-flight tasks
}

// DefaultPoolConfig returns a pool sized for a small, bounded fan-out
// batch (one goroutine per item, up to numWorkers), not a
// high-throughput queue.
func DefaultPoolConfig(name string, numWorkers int) *PoolConfig {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &PoolConfig{
		Name:            name,
		NumWorkers:      numWorkers,
		QueueSize:       numWorkers,
		TaskTimeout:     5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}
}

// PoolMetrics tracks submitted/completed/failed/timed-out/panicked task
// counts for a Pool.
type PoolMetrics struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksTimeout   int64
	PanicRecovered int64
}

// PoolStats is a point-in-time copy of PoolMetrics.
type PoolStats struct {
	TasksSubmitted int64 `json:"tasksSubmitted"`
	TasksCompleted int64 `json:"tasksCompleted"`
	TasksFailed    int64 `json:"tasksFailed"`
	TasksTimeout   int64 `json:"tasksTimeout"`
	PanicRecovered int64 `json:"panicRecovered"`
}

// NewPool creates a Pool. Start must be called before Submit.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default", 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   &PoolMetrics{},
	}
}

// Start launches the pool's worker goroutines. Safe to call once.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.logger.Debug("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
	)
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("workerId", id))
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.executeTask(log, task)
		}
	}
}

func (p *Pool) executeTask(log *zap.Logger, task Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.PanicRecovered, 1)
				log.Error("worker recovered from panic", zap.Any("panic", r))
				done <- &PanicError{Recovered: r}
				return
			}
			done <- err
		}()
		err = task.Execute()
	}()

	select {
	case err := <-done:
		if err != nil {
			atomic.AddInt64(&p.metrics.TasksFailed, 1)
			log.Debug("task failed", zap.Error(err))
		} else {
			atomic.AddInt64(&p.metrics.TasksCompleted, 1)
		}
	case <-ctx.Done():
		atomic.AddInt64(&p.metrics.TasksTimeout, 1)
		log.Warn("task timed out", zap.Duration("timeout", p.config.TaskTimeout))
	}
}

// Submit enqueues a task without blocking for its result.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		atomic.AddInt64(&p.metrics.TasksSubmitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait enqueues task and blocks until the task itself returns,
// returning its error. The pool's TaskTimeout frees the worker and
// counts the task as timed out but does not unblock SubmitWait. A
// panicking task is recovered here rather than left to executeTask's
// recover, since that recover runs on a different goroutine than the
// one writing to done and would otherwise leave SubmitWait blocked
// forever.
func (p *Pool) SubmitWait(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	done := make(chan error, 1)
	wrapper := TaskFunc(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Recovered: r}
			}
			done <- err
		}()
		err = task.Execute()
		return err
	})
	if err := p.Submit(wrapper); err != nil {
		return err
	}
	return <-done
}

// Stop signals workers to exit and waits up to ShutdownTimeout for them
// to drain in-flight tasks.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// QueueLength returns the number of tasks currently queued.
func (p *Pool) QueueLength() int { return len(p.taskQueue) }

// IsRunning reports whether the pool's workers are active.
func (p *Pool) IsRunning() bool { return p.running.Load() }

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TasksSubmitted: atomic.LoadInt64(&p.metrics.TasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.metrics.TasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.metrics.TasksFailed),
		TasksTimeout:   atomic.LoadInt64(&p.metrics.TasksTimeout),
		PanicRecovered: atomic.LoadInt64(&p.metrics.PanicRecovered),
	}
}

var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError reports a pool-level failure (stopped, full queue, timeout).
type PoolError struct{ Message string }

func (e *PoolError) Error() string { return e.Message }

// PanicError wraps a value recovered from a panicking task.
type PanicError struct{ Recovered interface{} }

func (e *PanicError) Error() string { return "panic recovered" }
