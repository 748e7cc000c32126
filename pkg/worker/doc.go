/*
Package worker provides a fixed-size worker pool used to host blocking
operation attempts.

# Core Components

## Pool

Fixed-size pool of Worker goroutines reading one buffered queue:
  - Submit waits up to Config.SubmitTimeout for queue space, then fails with
    types.ErrWorkerPoolFull, which retry classifiers treat as transient
  - submitting to a stopped pool fails with types.ErrWorkerPoolClosed
  - Stop aborts queued tasks implementing types.AbortableTask, so an attempt
    waiting in the queue still reports an outcome

Pool satisfies both types.WorkerPool and async.Executor.

## Worker

Single goroutine responsible for task execution, panic recovery and
statistics. A panicking task fails with a *types.RetryError carrying the stack
trace.

## Task

  - BasicTask: adapts a function
  - TimeoutTask: bounds each execution, failing with types.ErrTimeout

# Usage

	pool, err := worker.NewPool(&worker.Config{
		PoolSize:      4,
		QueueSize:     64,
		SubmitTimeout: time.Second,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if err := pool.Start(ctx); err != nil {
		return err
	}
	defer pool.Close()

	executor := retry.NewExecutor(retry.Fixed(2*time.Second, 5), retry.WithRuntime(pool))
*/
package worker
