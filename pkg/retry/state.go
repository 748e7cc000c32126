package retry

// State is a step of the retry chain state machine
type State int32

const (
	// StateAttempting means an attempt is in flight
	StateAttempting State = iota
	// StateEvaluatingFailure means the last attempt failed and is being classified
	StateEvaluatingFailure
	// StateWaitingToRetry means the next attempt is scheduled
	StateWaitingToRetry
	// StateSucceeded means an attempt produced a value
	StateSucceeded
	// StateExhausted means the attempt budget is spent
	StateExhausted
	// StateNonRetryable means the classifier rejected the failure
	StateNonRetryable
	// StateSchedulingFailed means the next attempt could not be scheduled
	StateSchedulingFailed
	// StateCancelled means the caller abandoned the chain
	StateCancelled
	// StateReportingTerminalError means callbacks run before the error is delivered
	StateReportingTerminalError
	// StateDone is terminal
	StateDone
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateEvaluatingFailure:
		return "evaluating_failure"
	case StateWaitingToRetry:
		return "waiting_to_retry"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateNonRetryable:
		return "non_retryable"
	case StateSchedulingFailed:
		return "scheduling_failed"
	case StateCancelled:
		return "cancelled"
	case StateReportingTerminalError:
		return "reporting_terminal_error"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Terminal reports whether a chain in this state has an outcome
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateExhausted, StateNonRetryable,
		StateSchedulingFailed, StateCancelled, StateDone:
		return true
	}
	return false
}
