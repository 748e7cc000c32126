package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/reconnect/internal/log"
	"github.com/jzx17/reconnect/pkg/types"
)

// pool states
const (
	poolIdle int32 = iota
	poolRunning
	poolClosed
)

// Config defines configuration for Pool
type Config struct {
	// PoolSize is the number of workers
	PoolSize int

	// QueueSize is the task queue capacity
	QueueSize int

	// SubmitTimeout bounds how long Submit waits for queue space; zero fails
	// fast with types.ErrWorkerPoolFull
	SubmitTimeout time.Duration

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Logger receives pool diagnostics (optional)
	Logger *slog.Logger

	// ErrorHandler receives task errors (optional)
	ErrorHandler types.ErrorHandler
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		PoolSize:      10,
		QueueSize:     100,
		SubmitTimeout: 5 * time.Second,
		Clock:         types.NewRealClock(),
	}
}

// Pool is a fixed-size worker pool. It satisfies types.WorkerPool and can
// host retry attempts as an async.Executor.
//
// A Pool runs once: Stop and Close both end it for good. Tasks still queued
// at that point are not executed; those implementing types.AbortableTask are
// aborted with types.ErrWorkerPoolClosed.
type Pool struct {
	config  Config
	workers []*Worker
	tasks   chan types.Task
	log     log.Logger

	state  int32
	ctx    context.Context
	cancel context.CancelFunc

	submitted int64
	rejected  int64
	aborted   int64

	// held for reading while enqueuing, for writing while draining
	mu sync.RWMutex
}

// NewPool creates a new pool; a nil config uses DefaultConfig
func NewPool(config *Config) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d: %w", config.PoolSize, types.ErrInvalidConfig)
	}
	if config.QueueSize <= 0 {
		return nil, fmt.Errorf("queue size must be positive, got %d: %w", config.QueueSize, types.ErrInvalidConfig)
	}

	cfg := *config
	if cfg.Clock == nil {
		cfg.Clock = types.NewRealClock()
	}

	p := &Pool{
		config:  cfg,
		workers: make([]*Worker, cfg.PoolSize),
		tasks:   make(chan types.Task, cfg.QueueSize),
		log:     log.Wrap(cfg.Logger),
	}
	for i := range p.workers {
		w := NewWorker(i, p.tasks, cfg.Clock)
		w.SetLogger(cfg.Logger)
		if cfg.ErrorHandler != nil {
			w.SetErrorHandler(cfg.ErrorHandler)
		}
		p.workers[i] = w
	}
	return p, nil
}

// Start starts the workers
func (p *Pool) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.state, poolIdle, poolRunning) {
		if atomic.LoadInt32(&p.state) == poolRunning {
			return fmt.Errorf("worker pool is already running")
		}
		return types.ErrWorkerPoolClosed
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		go w.Start(p.ctx)
	}

	p.log.Log(ctx, slog.LevelDebug, "worker pool started",
		slog.Int("pool_size", p.config.PoolSize),
		slog.Int("queue_size", p.config.QueueSize),
	)
	return nil
}

// Submit submits a task, waiting at most the configured SubmitTimeout
func (p *Pool) Submit(task types.Task) error {
	return p.SubmitWithTimeout(task, p.config.SubmitTimeout)
}

// SubmitWithTimeout submits a task, waiting at most timeout for queue space
func (p *Pool) SubmitWithTimeout(task types.Task, timeout time.Duration) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil: %w", types.ErrInvalidInput)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	switch atomic.LoadInt32(&p.state) {
	case poolIdle:
		return fmt.Errorf("worker pool is not started: %w", types.ErrWorkerPoolClosed)
	case poolClosed:
		return types.ErrWorkerPoolClosed
	}

	err := p.enqueue(task, timeout)
	if err != nil {
		atomic.AddInt64(&p.rejected, 1)
		return err
	}
	atomic.AddInt64(&p.submitted, 1)
	return nil
}

func (p *Pool) enqueue(task types.Task, timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case p.tasks <- task:
			return nil
		default:
			return types.ErrWorkerPoolFull
		}
	}

	timer := p.config.Clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.tasks <- task:
		return nil
	case <-timer.C():
		return fmt.Errorf("queue still full after %v: %w", timeout, types.ErrWorkerPoolFull)
	case <-p.ctx.Done():
		return types.ErrWorkerPoolClosed
	}
}

// Stop stops the workers and aborts every queued task
func (p *Pool) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.state, poolRunning, poolClosed) {
		if atomic.CompareAndSwapInt32(&p.state, poolIdle, poolClosed) {
			return nil
		}
		return types.ErrWorkerPoolClosed
	}

	p.cancel()

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		stopErr error
	)
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Stop(); err != nil {
				errMu.Lock()
				stopErr = err
				errMu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	aborted := p.drain()
	p.log.Log(context.Background(), slog.LevelDebug, "worker pool stopped",
		slog.Int("aborted_tasks", aborted),
	)
	return stopErr
}

// drain empties the queue once no submitter can enqueue any more
func (p *Pool) drain() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for {
		select {
		case task := <-p.tasks:
			n++
			atomic.AddInt64(&p.aborted, 1)
			if a, ok := task.(types.AbortableTask); ok {
				a.Abort(types.ErrWorkerPoolClosed)
			}
		default:
			return n
		}
	}
}

// Close stops the pool; closing twice is a no-op
func (p *Pool) Close() error {
	if err := p.Stop(); err != nil && err != types.ErrWorkerPoolClosed {
		return err
	}
	return nil
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.config.PoolSize
}

// Stats gets basic pool statistics
func (p *Pool) Stats() types.WorkerPoolStats {
	active := 0
	for _, w := range p.workers {
		if w.State() == WorkerStateWorking {
			active++
		}
	}
	return types.WorkerPoolStats{
		PoolSize:      p.config.PoolSize,
		ActiveWorkers: active,
		QueueSize:     len(p.tasks),
		QueueCapacity: p.config.QueueSize,
	}
}

// Counters returns how many tasks were accepted, rejected at submission and
// aborted unexecuted
func (p *Pool) Counters() (submitted, rejected, aborted int64) {
	return atomic.LoadInt64(&p.submitted), atomic.LoadInt64(&p.rejected), atomic.LoadInt64(&p.aborted)
}

// GetWorkerStats gets statistics of all Workers
func (p *Pool) GetWorkerStats() []WorkerStats {
	stats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.Stats()
	}
	return stats
}

// IsRunning checks if the pool accepts tasks
func (p *Pool) IsRunning() bool {
	return atomic.LoadInt32(&p.state) == poolRunning
}

// IsClosed checks if the pool has been stopped
func (p *Pool) IsClosed() bool {
	return atomic.LoadInt32(&p.state) == poolClosed
}

// QueueLength gets the current queue length
func (p *Pool) QueueLength() int {
	return len(p.tasks)
}
