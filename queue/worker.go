package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veldtlabs/runq/errors"
)

// errExecutorFault marks a synchronous fault (panic) from the executor,
// as opposed to an ordinary execution error. The dispatcher uses it to
// decide whether to ask the pool to restart the worker harness.
var errExecutorFault = errors.New("executor fault")

// IsExecutorFault reports whether an execution error came from a
// recovered executor panic rather than a normal failure
func IsExecutorFault(err error) bool {
	return err != nil && errors.Is(err, errExecutorFault)
}

// Worker executes one job at a time under the job's deadline. Workers
// are handed out and reclaimed by the Pool; execution itself runs on a
// goroutine the dispatcher spawns.
type Worker struct {
	id        int
	executor  Executor
	logger    *zap.SugaredLogger
	createdAt time.Time
	lastUsed  time.Time
}

type execResult struct {
	output string
	err    error
}

// Execute runs the job's command with a deadline of TimeoutMS. It
// returns the executor output on success. On deadline expiry the
// executor's context is cancelled and the error reads
// "job timed out after N ms". A panicking executor is captured and
// converted to an error; it never crashes the pool.
func (w *Worker) Execute(ctx context.Context, job Job) (string, error) {
	timeout := time.Duration(job.TimeoutMS) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- execResult{err: errors.Wrapf(errExecutorFault, "executor panic: %v", r)}
			}
		}()
		out, err := w.executor.Run(runCtx, job.Command)
		ch <- execResult{output: out, err: err}
	}()

	select {
	case res := <-ch:
		// The executor may have returned because the deadline fired
		// mid-run; normalise that to the timeout error.
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return "", w.timeoutError(job)
		}
		if res.err != nil && errors.Is(res.err, context.Canceled) {
			return "", context.Canceled
		}
		return res.output, res.err
	case <-runCtx.Done():
		// Cooperative cancel has fired; the executor goroutine is on
		// its own from here. CommandContext-style executors are killed
		// by the context, others are abandoned.
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", w.timeoutError(job)
		}
		return "", context.Canceled
	}
}

func (w *Worker) timeoutError(job Job) error {
	return errors.Wrapf(errors.ErrTimeout, "job timed out after %d ms", job.TimeoutMS)
}

// ID returns the worker's pool-assigned id
func (w *Worker) ID() int {
	return w.id
}
