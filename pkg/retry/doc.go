// Package retry re-executes failing asynchronous operations according to a
// reconnection policy.
//
// Policies:
//
//   - NoRetry: a single attempt
//   - Fixed(frequency, maxAttempts): maxAttempts total attempts, first included
//   - Simple(frequency, count): count retries after the first attempt
//   - Forever(frequency): retry until success or a non-retryable failure
//
// A Template is immutable; every chain gets its own Policy from it. A Policy
// may also be shared on purpose between chains to enforce a common budget.
//
// Each chain combines four caller-supplied pieces:
//
//   - a Producer returning a fresh, cold Operation for every attempt
//   - a Classifier deciding whether a failure may be retried
//   - an ExhaustionCallback invoked once when the chain gives up
//   - an ErrorMapper transforming the terminal failure
//
// Basic usage:
//
//	future := retry.ApplyPolicy(ctx, retry.Fixed(2*time.Second, 5).NewPolicy(),
//		func() async.Operation[*Conn] {
//			return async.FromFunc(dial, pool)
//		},
//		retry.DefaultClassifier,
//		func(err error) { logger.Error("giving up", "error", err) },
//		retry.WrapError("dial"),
//	)
//	conn, err := future.Await(ctx)
//
// Blocking functions can go through an Executor, which also keeps statistics:
//
//	executor := retry.NewExecutor(retry.Simple(time.Second, 3),
//		retry.WithClassifier(retry.DefaultClassifier),
//		retry.WithExecutorLogger(logger))
//	result, err := retry.Execute(executor, ctx, func(ctx context.Context) (string, error) {
//		return fetch(ctx)
//	})
//
// Delays between attempts are scheduled on a schedule.Scheduler; no goroutine
// sleeps while a chain waits.
package retry
