// Package worker implements the two stateless pipeline invocations: the
// parse worker (file → rows + checkpoints) and the commit worker (valid
// rows → leads). Both are idempotent: every status transition and
// checkpoint write is a conditional update, so a redelivered or raced
// invocation no-ops instead of corrupting counters or double-importing.
package worker

// Code classifies an invocation outcome for the queue layer. Retries are
// data, not control flow: the worker reports, the queue decides whether
// to redeliver.
type Code int

const (
	// CodeSuccess covers completed work and clean no-ops (guard refused,
	// cancellation observed, continuation enqueued).
	CodeSuccess Code = iota

	// CodeRetryable marks transient failures (store, blob or queue I/O).
	// The job is left at its last-good checkpoint; redelivery resumes it.
	CodeRetryable

	// CodeTerminal marks failures redelivery cannot fix (missing job,
	// absent mapping, malformed file). The job has been moved to failed.
	CodeTerminal
)

// Result is the typed outcome of one worker invocation.
type Result struct {
	Code Code
	Err  error
}

func Success() Result            { return Result{Code: CodeSuccess} }
func Retryable(err error) Result { return Result{Code: CodeRetryable, Err: err} }
func Terminal(err error) Result  { return Result{Code: CodeTerminal, Err: err} }

func (r Result) Retry() bool { return r.Code == CodeRetryable }
