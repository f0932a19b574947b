package queue

import (
	"context"
	"sync"
	"time"

	"github.com/veldtlabs/runq/errors"
)

// StubExecutor is a deterministic executor for tests. By default it
// echoes the command back as the result. Behaviour can be scripted per
// command: a number of failures before success, or a fixed delay.
// RunFunc, when set, overrides everything.
type StubExecutor struct {
	mu                    sync.Mutex
	failuresBeforeSuccess map[string]int
	delays                map[string]time.Duration
	calls                 map[string]int

	RunFunc func(ctx context.Context, command string) (string, error)
}

// NewStubExecutor creates an executor that succeeds by echoing commands
func NewStubExecutor() *StubExecutor {
	return &StubExecutor{
		failuresBeforeSuccess: make(map[string]int),
		delays:                make(map[string]time.Duration),
		calls:                 make(map[string]int),
	}
}

// FailTimes scripts the first n runs of command to fail
func (e *StubExecutor) FailTimes(command string, n int) *StubExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failuresBeforeSuccess[command] = n
	return e
}

// DelayFor scripts every run of command to take at least d
func (e *StubExecutor) DelayFor(command string, d time.Duration) *StubExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delays[command] = d
	return e
}

// Calls returns how many times command has been run
func (e *StubExecutor) Calls(command string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[command]
}

// Run implements Executor
func (e *StubExecutor) Run(ctx context.Context, command string) (string, error) {
	if e.RunFunc != nil {
		return e.RunFunc(ctx, command)
	}

	e.mu.Lock()
	e.calls[command]++
	delay := e.delays[command]
	fail := e.failuresBeforeSuccess[command] > 0
	if fail {
		e.failuresBeforeSuccess[command]--
	}
	e.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	if fail {
		return "", errors.Newf("scripted failure for %q", command)
	}
	return command, nil
}

// Eventually polls cond every interval until it returns true or the
// timeout expires. Returns whether cond became true.
func Eventually(timeout, interval time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(interval)
	}
	return cond()
}
