package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/reconnect/internal/log"
	"github.com/jzx17/reconnect/pkg/types"
)

// stopTimeout bounds how long Stop waits for the running task
const stopTimeout = 5 * time.Second

// WorkerState defines the state of a Worker
type WorkerState int32

const (
	// WorkerStateIdle represents idle worker state
	WorkerStateIdle WorkerState = iota
	// WorkerStateWorking represents working worker state
	WorkerStateWorking
	// WorkerStateStopped represents stopped worker state
	WorkerStateStopped
)

// String returns the string representation of WorkerState
func (ws WorkerState) String() string {
	switch ws {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateWorking:
		return "working"
	case WorkerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker is a single goroutine pulling tasks from a shared queue
type Worker struct {
	id       int
	state    int32 // atomic WorkerState
	tasks    <-chan types.Task
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	totalProcessed int64
	totalFailed    int64
	totalPanics    int64
	lastTaskTime   int64 // unix nanos

	errorHandler types.ErrorHandler
	onComplete   func(time.Duration, bool)
	log          log.Logger
	clock        types.Clock

	mu sync.RWMutex
}

// NewWorker creates a Worker reading from tasks; a nil clock uses real time
func NewWorker(id int, tasks <-chan types.Task, clock types.Clock) *Worker {
	if clock == nil {
		clock = types.NewRealClock()
	}
	return &Worker{
		id:    id,
		state: int32(WorkerStateIdle),
		tasks: tasks,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		clock: clock,
	}
}

// ID returns the Worker ID
func (w *Worker) ID() int {
	return w.id
}

// State returns the current Worker state
func (w *Worker) State() WorkerState {
	return WorkerState(atomic.LoadInt32(&w.state))
}

// SetErrorHandler sets the handler receiving task errors
func (w *Worker) SetErrorHandler(handler types.ErrorHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errorHandler = handler
}

// SetCompletionCallback sets the callback run after every task
func (w *Worker) SetCompletionCallback(callback func(time.Duration, bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onComplete = callback
}

// SetLogger sets the logger; nil discards
func (w *Worker) SetLogger(logger *slog.Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log = log.Wrap(logger)
}

// Start runs the Worker until ctx is done, Stop is called or the queue closes
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)
	defer atomic.StoreInt32(&w.state, int32(WorkerStateStopped))

	for {
		// stopping wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case task, ok := <-w.tasks:
			if !ok {
				return
			}
			w.processTask(ctx, task)
		}
	}
}

func (w *Worker) processTask(ctx context.Context, task types.Task) {
	atomic.StoreInt32(&w.state, int32(WorkerStateWorking))
	defer atomic.StoreInt32(&w.state, int32(WorkerStateIdle))

	start := w.clock.Now()
	atomic.StoreInt64(&w.lastTaskTime, start.UnixNano())

	err := w.executeTask(ctx, task)
	elapsed := w.clock.Since(start)

	failed := err != nil
	if failed {
		atomic.AddInt64(&w.totalFailed, 1)
		w.handleError(ctx, err, task)
	} else {
		atomic.AddInt64(&w.totalProcessed, 1)
	}

	w.mu.RLock()
	callback := w.onComplete
	w.mu.RUnlock()
	if callback != nil {
		callback(elapsed, failed)
	}
}

// executeTask runs task, turning a panic into a *types.RetryError
func (w *Worker) executeTask(ctx context.Context, task types.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.totalPanics, 1)

			var buf [4096]byte
			n := runtime.Stack(buf[:], false)

			perr := types.NewRetryError(task.ID(), fmt.Errorf("panic: %v", r)).
				WithContext("stack_trace", string(buf[:n])).
				WithContext("worker_id", w.id)

			w.mu.RLock()
			logger := w.log
			w.mu.RUnlock()
			logger.Err(ctx, perr)

			err = perr
		}
	}()

	return task.Execute(ctx)
}

func (w *Worker) handleError(ctx context.Context, err error, task types.Task) {
	w.mu.RLock()
	handler := w.errorHandler
	logger := w.log
	w.mu.RUnlock()

	if handler == nil {
		return
	}
	if herr := handler(err); herr != nil {
		logger.Log(ctx, slog.LevelWarn, "task error handler failed",
			slog.Int("worker_id", w.id),
			slog.String("task_id", task.ID()),
			slog.String("error", herr.Error()),
		)
	}
}

// Stop signals the Worker and waits for its current task to finish
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.quit)
	})

	timer := w.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return nil
	case <-timer.C():
		return fmt.Errorf("worker %d stop: %w", w.id, types.ErrTimeout)
	}
}

// Stats gets Worker statistics
func (w *Worker) Stats() WorkerStats {
	var last time.Time
	if nanos := atomic.LoadInt64(&w.lastTaskTime); nanos != 0 {
		last = time.Unix(0, nanos)
	}
	return WorkerStats{
		ID:             w.id,
		State:          w.State(),
		TotalProcessed: atomic.LoadInt64(&w.totalProcessed),
		TotalFailed:    atomic.LoadInt64(&w.totalFailed),
		TotalPanics:    atomic.LoadInt64(&w.totalPanics),
		LastTaskTime:   last,
	}
}

// WorkerStats defines Worker statistics
type WorkerStats struct {
	ID             int
	State          WorkerState
	TotalProcessed int64
	TotalFailed    int64
	TotalPanics    int64
	LastTaskTime   time.Time
}

// IsActive checks if Worker is running a task
func (ws WorkerStats) IsActive() bool {
	return ws.State == WorkerStateWorking
}

// IsIdle checks if Worker is idle
func (ws WorkerStats) IsIdle() bool {
	return ws.State == WorkerStateIdle
}

// GetSuccessRate gets the success rate
func (ws WorkerStats) GetSuccessRate() float64 {
	total := ws.TotalProcessed + ws.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(ws.TotalProcessed) / float64(total)
}

// GetErrorRate gets the error rate
func (ws WorkerStats) GetErrorRate() float64 {
	total := ws.TotalProcessed + ws.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(ws.TotalFailed) / float64(total)
}
