package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veldtlabs/runq/errors"
)

// errSkipDispatch aborts the pending->running transition when the job
// was cancelled between enqueue and dispatch.
var errSkipDispatch = errors.New("skip dispatch")

// DispatcherConfig tunes the scheduling loop's pacing
type DispatcherConfig struct {
	CapacityBackoff time.Duration // Sleep when every worker slot is busy
	IdleSleep       time.Duration // Sleep when the queue is empty
	MaxWorkers      int
	MinWorkers      int
}

// DefaultDispatcherConfig returns the pacing defaults
func DefaultDispatcherConfig(maxWorkers, minWorkers int) DispatcherConfig {
	return DispatcherConfig{
		CapacityBackoff: 5 * time.Second,
		IdleSleep:       100 * time.Millisecond,
		MaxWorkers:      maxWorkers,
		MinWorkers:      minWorkers,
	}
}

// Dispatcher pairs pending jobs with workers and drives state
// transitions on the store. One logical loop runs at a time; a
// supervisor restarts it with bounded backoff if an iteration panics.
type Dispatcher struct {
	store *Store
	pq    *PriorityQueue
	pool  *Pool
	cfg   DispatcherConfig

	// Per-running-job cancel functions so Cancel can signal a worker
	cancelsMu sync.Mutex
	cancels   map[string]context.CancelFunc

	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.SugaredLogger
}

// NewDispatcher wires the scheduling loop to its collaborators
func NewDispatcher(store *Store, pq *PriorityQueue, pool *Pool, cfg DispatcherConfig, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		pq:      pq,
		pool:    pool,
		cfg:     cfg,
		cancels: make(map[string]context.CancelFunc),
		wake:    make(chan struct{}, 1),
		logger:  logger.Named("dispatcher"),
	}
}

// Start launches the supervised dispatcher loop
func (d *Dispatcher) Start(parent context.Context) {
	d.ctx, d.cancel = context.WithCancel(parent)
	d.wg.Add(1)
	go d.supervise()
}

// Stop terminates the loop and waits for in-flight executions to settle
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Wake nudges the loop out of its idle sleep after an enqueue
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// CancelJob fires the cancel signal for a running job's worker. The
// worker honours it at its next cooperative checkpoint.
func (d *Dispatcher) CancelJob(id string) {
	d.cancelsMu.Lock()
	cancel := d.cancels[id]
	d.cancelsMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// supervise restarts the dispatcher loop after a panic with bounded
// exponential backoff. Exceeding the restart rate is a fatal condition:
// the supervisor logs it and stops dispatching.
func (d *Dispatcher) supervise() {
	defer d.wg.Done()

	const maxBackoff = 30 * time.Second
	const maxRestartsPerMinute = 10

	backoff := time.Second
	var restartWindow []time.Time

	for {
		if d.ctx.Err() != nil {
			return
		}

		clean := d.runLoop()
		if clean {
			return
		}

		now := time.Now()
		cutoff := now.Add(-time.Minute)
		kept := restartWindow[:0]
		for _, t := range restartWindow {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		restartWindow = append(kept, now)

		if len(restartWindow) > maxRestartsPerMinute {
			d.logger.Errorw("Dispatcher restart rate exceeded, giving up",
				"restarts_last_minute", len(restartWindow))
			return
		}

		d.logger.Warnw("Dispatcher restarting after fault", "backoff", backoff)
		select {
		case <-d.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// runLoop executes scheduling iterations until the context is cancelled
// (returns true) or an iteration panics (returns false).
func (d *Dispatcher) runLoop() (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("Dispatcher loop panicked", "panic", r)
			clean = false
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return true
		default:
		}
		d.iterate()
	}
}

// iterate performs one scheduling decision
func (d *Dispatcher) iterate() {
	if d.pool.ActiveCount() >= d.cfg.MaxWorkers {
		d.sleep(d.cfg.CapacityBackoff)
		return
	}

	ref, ok := d.pq.PopFront()
	if !ok {
		d.pool.CleanupIdle(d.cfg.MinWorkers)
		d.sleep(d.cfg.IdleSleep)
		return
	}

	worker, err := d.pool.Acquire()
	if err != nil {
		// Requeue keeps the original CreatedAt, so the ref goes back
		// ahead of any same-priority peers enqueued meanwhile
		d.pq.Requeue(ref)
		d.sleep(d.cfg.IdleSleep)
		return
	}

	// Register the cancel func before the transition so a concurrent
	// Cancel observing "running" always finds a signal to fire
	jobCtx, cancel := context.WithCancel(d.ctx)
	d.cancelsMu.Lock()
	d.cancels[ref.ID] = cancel
	d.cancelsMu.Unlock()

	job, err := d.store.Update(ref.ID, func(j *Job) error {
		if j.Status == StatusCancelled {
			return errSkipDispatch
		}
		if j.Status != StatusPending {
			return errors.Newf("job %s not pending at dispatch (status %s)", j.ID, j.Status)
		}
		j.Start()
		return nil
	})
	if err != nil {
		d.cancelsMu.Lock()
		delete(d.cancels, ref.ID)
		d.cancelsMu.Unlock()
		cancel()
		d.pool.Release(worker)
		if !errors.Is(err, errSkipDispatch) {
			d.logger.Errorw("Failed to dispatch job", "job_id", ref.ID, "error", err)
		}
		return
	}

	// Outcomes are handled asynchronously; the loop never blocks on a
	// slow worker while other slots are free
	d.wg.Add(1)
	go d.execute(worker, job, jobCtx, cancel)
}

// execute runs the job on the worker and writes the outcome back
func (d *Dispatcher) execute(worker *Worker, job Job, jobCtx context.Context, cancel context.CancelFunc) {
	defer d.wg.Done()
	defer func() {
		d.cancelsMu.Lock()
		delete(d.cancels, job.ID)
		d.cancelsMu.Unlock()
		cancel()
	}()

	output, err := worker.Execute(jobCtx, job)

	switch {
	case err == nil:
		d.finishSuccess(worker, job.ID, output)
	case errors.Is(err, context.Canceled):
		// Cancel already wrote the terminal state; never overwrite it
		d.pool.Release(worker)
		d.logger.Infow("Job cancelled during execution", "job_id", job.ID)
	default:
		d.finishFailure(worker, job.ID, err)
	}

	// A slot just freed up; pull the loop out of its capacity backoff
	d.Wake()
}

func (d *Dispatcher) finishSuccess(worker *Worker, id, output string) {
	d.pool.Release(worker)

	_, err := d.store.Update(id, func(j *Job) error {
		if j.Status == StatusCancelled {
			return errSkipDispatch
		}
		j.Complete(output)
		return nil
	})
	if err != nil && !errors.Is(err, errSkipDispatch) {
		d.logger.Errorw("Failed to complete job", "job_id", id, "error", err)
		return
	}
	if err == nil {
		d.logger.Infow("Job completed", "job_id", id)
	}
}

func (d *Dispatcher) finishFailure(worker *Worker, id string, execErr error) {
	if IsExecutorFault(execErr) {
		d.pool.Restart(worker)
	} else {
		d.pool.Release(worker)
	}

	retrying := false
	job, err := d.store.Update(id, func(j *Job) error {
		if j.Status == StatusCancelled {
			return errSkipDispatch
		}
		j.RetryCount++
		if j.RetryCount <= j.MaxRetries {
			// Retryable failures go straight back to pending; the
			// transient terminal state must never be observable
			j.Requeue(execErr.Error())
			retrying = true
		} else {
			j.Fail(execErr.Error())
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSkipDispatch) {
			d.logger.Errorw("Failed to record job failure", "job_id", id, "error", err)
		}
		return
	}

	if retrying {
		d.pq.Push(job.ID, job.Priority, job.CreatedAt)
		d.Wake()
		d.logger.Infow("Job requeued for retry",
			"job_id", id,
			"retry_count", job.RetryCount,
			"max_retries", job.MaxRetries,
			"error", execErr.Error())
	} else {
		d.logger.Warnw("Job failed",
			"job_id", id,
			"retry_count", job.RetryCount,
			"error", execErr.Error())
	}
}

// sleep waits for the duration, a wake nudge, or shutdown
func (d *Dispatcher) sleep(dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-d.ctx.Done():
	case <-d.wake:
	case <-timer.C:
	}
}
