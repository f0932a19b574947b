package queue

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/veldtlabs/runq/errors"
)

// Pool maintains a bounded, dynamic set of workers. Idle workers are
// reused before new ones are created; cleanup trims idle workers back to
// the configured minimum when the queue is empty.
//
// Worker-harness restarts after executor faults are rate limited so a
// persistently faulting executor cannot drive an unbounded restart loop.
type Pool struct {
	mu       sync.Mutex
	max      int
	min      int
	workers  map[int]*Worker
	busy     map[int]bool
	nextID   int
	executor Executor
	restarts *rate.Limiter
	logger   *zap.SugaredLogger
}

// NewPool creates a worker pool bounded by max workers
func NewPool(max, min int, executor Executor, logger *zap.SugaredLogger) *Pool {
	if max < 0 {
		max = 0
	}
	if min < 0 {
		min = 0
	}
	return &Pool{
		max:      max,
		min:      min,
		workers:  make(map[int]*Worker),
		busy:     make(map[int]bool),
		executor: executor,
		// At most one restart per second with a small burst; beyond
		// that the pool gives up on the slot.
		restarts: rate.NewLimiter(rate.Every(time.Second), 5),
		logger:   logger,
	}
}

// Acquire returns an idle worker, creating one if the live count is
// below max. Returns ErrCapacityExhausted when every slot is busy.
func (p *Pool) Acquire() (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Prefer the most recently used idle worker
	var idle *Worker
	for id, w := range p.workers {
		if !p.busy[id] && (idle == nil || w.lastUsed.After(idle.lastUsed)) {
			idle = w
		}
	}
	if idle != nil {
		p.busy[idle.id] = true
		return idle, nil
	}

	if len(p.workers) >= p.max {
		return nil, errors.Wrapf(errors.ErrCapacityExhausted, "pool at %d workers", p.max)
	}

	w := &Worker{
		id:        p.nextID,
		executor:  p.executor,
		logger:    p.logger,
		createdAt: time.Now(),
		lastUsed:  time.Now(),
	}
	p.nextID++
	p.workers[w.id] = w
	p.busy[w.id] = true
	p.logger.Debugw("Worker created", "worker_id", w.id, "live", len(p.workers))
	return w, nil
}

// Release returns a worker to the pool after its job finishes
func (p *Pool) Release(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.workers[w.id]; !exists {
		// Terminated while running (shutdown); nothing to return
		return
	}
	w.lastUsed = time.Now()
	delete(p.busy, w.id)
}

// Restart replaces a worker whose harness faulted. Restarts are rate
// limited; when the budget is exhausted the slot is dropped and the pool
// logs that it gave up.
func (p *Pool) Restart(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.busy, w.id)
	delete(p.workers, w.id)

	if !p.restarts.Allow() {
		p.logger.Errorw("Worker restart budget exhausted, dropping slot",
			"worker_id", w.id, "live", len(p.workers))
		return
	}

	replacement := &Worker{
		id:        p.nextID,
		executor:  p.executor,
		logger:    p.logger,
		createdAt: time.Now(),
		lastUsed:  time.Now(),
	}
	p.nextID++
	p.workers[replacement.id] = replacement
	p.logger.Warnw("Worker restarted after fault",
		"failed_worker_id", w.id, "worker_id", replacement.id)
}

// ActiveCount returns the number of workers currently executing jobs.
// The count reflects actual liveness: it is incremented on acquire and
// decremented on release, never on dequeue alone.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.busy)
}

// LiveCount returns the number of workers held by the pool, busy or idle
func (p *Pool) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// CleanupIdle terminates the oldest idle workers until the live count is
// at most min. Busy workers are never terminated, so cleanup cannot race
// a worker that has been handed a job.
func (p *Pool) CleanupIdle(min int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) <= min {
		return
	}

	idle := make([]*Worker, 0, len(p.workers))
	for id, w := range p.workers {
		if !p.busy[id] {
			idle = append(idle, w)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].lastUsed.Before(idle[j].lastUsed)
	})

	for _, w := range idle {
		if len(p.workers) <= min {
			break
		}
		delete(p.workers, w.id)
		p.logger.Debugw("Idle worker terminated", "worker_id", w.id, "live", len(p.workers))
	}
}

// Shutdown terminates all workers
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.workers = make(map[int]*Worker)
	p.busy = make(map[int]bool)
}
