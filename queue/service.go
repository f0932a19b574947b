package queue

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/veldtlabs/runq/errors"
)

const (
	// MaxListLimit caps how many jobs one list call can return
	MaxListLimit = 1000
	// DefaultListLimit applies when the caller does not specify a limit
	DefaultListLimit = 100
)

// ServiceConfig carries the queue core's tunables
type ServiceConfig struct {
	MaxWorkers        int
	MinWorkers        int
	DefaultTimeoutMS  int
	DefaultMaxRetries int
	Capacity          int // Soft bound on pending jobs; exceeding it logs, never rejects
}

// EnqueueRequest describes a job submission. Zero values fall back to
// the configured defaults.
type EnqueueRequest struct {
	Command    string
	Priority   string
	TimeoutMS  *int
	MaxRetries *int
}

// ListRequest describes a filtered, paginated listing
type ListRequest struct {
	Status string // Empty = any; otherwise an exact status
	Limit  int
	Offset int
}

// ListResult is a coherent snapshot page of the store
type ListResult struct {
	Jobs   []Job `json:"jobs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// Service is the boundary API the HTTP layer consumes. It owns the
// store, the priority queue, the worker pool, and the dispatcher.
type Service struct {
	store      *Store
	pq         *PriorityQueue
	pool       *Pool
	dispatcher *Dispatcher
	cfg        ServiceConfig
	logger     *zap.SugaredLogger
}

// NewService wires the job processing core together
func NewService(cfg ServiceConfig, executor Executor, logger *zap.SugaredLogger) *Service {
	store := NewStore()
	pq := NewPriorityQueue()
	pool := NewPool(cfg.MaxWorkers, cfg.MinWorkers, executor, logger)
	dispatcher := NewDispatcher(store, pq, pool, DefaultDispatcherConfig(cfg.MaxWorkers, cfg.MinWorkers), logger)

	return &Service{
		store:      store,
		pq:         pq,
		pool:       pool,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start launches the dispatcher
func (s *Service) Start(ctx context.Context) {
	s.dispatcher.Start(ctx)
}

// Stop terminates the dispatcher and all workers
func (s *Service) Stop() {
	s.dispatcher.Stop()
	s.pool.Shutdown()
}

// Enqueue validates the request, inserts a pending record, and makes it
// visible to the dispatcher. Returns the new job.
func (s *Service) Enqueue(req EnqueueRequest) (Job, error) {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return Job{}, errors.NewInvalidArgumentError("command must not be empty")
	}

	priority := PriorityNormal
	if req.Priority != "" {
		if !IsValidPriority(req.Priority) {
			return Job{}, errors.WithDetail(
				errors.NewInvalidArgumentError("invalid priority %q", req.Priority),
				"allowed values: high, normal, low")
		}
		priority = Priority(req.Priority)
	}

	timeoutMS := s.cfg.DefaultTimeoutMS
	if req.TimeoutMS != nil {
		if *req.TimeoutMS <= 0 {
			return Job{}, errors.NewInvalidArgumentError("timeout_ms must be positive, got %d", *req.TimeoutMS)
		}
		timeoutMS = *req.TimeoutMS
	}

	maxRetries := s.cfg.DefaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return Job{}, errors.NewInvalidArgumentError("max_retries must not be negative, got %d", *req.MaxRetries)
		}
		maxRetries = *req.MaxRetries
	}

	job := NewJob(req.Command, priority, timeoutMS, maxRetries)
	if err := s.store.Insert(*job); err != nil {
		return Job{}, errors.Wrap(err, "failed to enqueue job")
	}
	s.pq.Push(job.ID, job.Priority, job.CreatedAt)

	if pending := s.pq.Len(); s.cfg.Capacity > 0 && pending > s.cfg.Capacity {
		s.logger.Warnw("Pending queue above soft capacity",
			"pending", pending, "capacity", s.cfg.Capacity)
	}

	s.dispatcher.Wake()
	s.logger.Infow("Job enqueued",
		"job_id", job.ID, "priority", job.Priority, "timeout_ms", timeoutMS)
	return *job, nil
}

// Get returns the job with the given id
func (s *Service) Get(id string) (Job, error) {
	if strings.TrimSpace(id) == "" {
		return Job{}, errors.NewInvalidArgumentError("job id must not be empty")
	}
	return s.store.Get(id)
}

// List returns a filtered, paginated snapshot sorted by creation time
// descending. Limit is clamped to MaxListLimit; zero or negative limits
// and negative offsets are rejected.
func (s *Service) List(req ListRequest) (ListResult, error) {
	var status *Status
	if req.Status != "" {
		if !IsValidStatus(req.Status) {
			return ListResult{}, errors.WithDetail(
				errors.NewInvalidArgumentError("invalid status filter %q", req.Status),
				"allowed values: pending, running, completed, failed, cancelled")
		}
		st := Status(req.Status)
		status = &st
	}

	limit := req.Limit
	if limit <= 0 {
		return ListResult{}, errors.NewInvalidArgumentError("limit must be positive, got %d", limit)
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if req.Offset < 0 {
		return ListResult{}, errors.NewInvalidArgumentError("offset must not be negative, got %d", req.Offset)
	}

	jobs, total := s.store.List(status, limit, req.Offset)
	return ListResult{Jobs: jobs, Total: total, Limit: limit, Offset: req.Offset}, nil
}

// Cancel transitions a pending or running job to cancelled. Pending jobs
// leave the queue immediately; running jobs are marked cancelled at once
// and their worker is signalled to stop at its next cooperative
// checkpoint. Cancelling a terminal job is idempotent and returns the
// record unchanged.
func (s *Service) Cancel(id string) (Job, error) {
	if strings.TrimSpace(id) == "" {
		return Job{}, errors.NewInvalidArgumentError("job id must not be empty")
	}

	// Pull the ref out of the queue first; a pending job is then
	// invisible to the dispatcher before its status flips
	s.pq.Remove(id)

	var prev Status
	job, err := s.store.Update(id, func(j *Job) error {
		prev = j.Status
		if j.Status.Terminal() {
			return nil
		}
		j.Cancel("cancelled by request")
		return nil
	})
	if err != nil {
		return Job{}, err
	}

	if prev == StatusRunning {
		s.dispatcher.CancelJob(id)
	}

	if !prev.Terminal() {
		s.logger.Infow("Job cancelled", "job_id", id, "was", prev)
	}
	return job, nil
}

// Clear stops the dispatcher, drains the queue, and removes every
// record, then restarts the dispatcher. Test-only.
func (s *Service) Clear(ctx context.Context) {
	s.dispatcher.Stop()
	s.pq.Drain()
	s.store.Clear()
	s.dispatcher = NewDispatcher(s.store, s.pq, s.pool,
		DefaultDispatcherConfig(s.cfg.MaxWorkers, s.cfg.MinWorkers), s.logger)
	s.dispatcher.Start(ctx)
}

// Subscribe returns a channel of job mutation events for streaming
func (s *Service) Subscribe() chan Job {
	return s.store.Subscribe()
}

// Unsubscribe detaches a subscriber channel
func (s *Service) Unsubscribe(ch chan Job) {
	s.store.Unsubscribe(ch)
}

// Stats summarises queue and pool state
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`

	QueueDepth    int `json:"queue_depth"`
	WorkersActive int `json:"workers_active"`
	WorkersLive   int `json:"workers_live"`
}

// GetStats returns current queue statistics
func (s *Service) GetStats() Stats {
	counts := s.store.CountByStatus()
	st := Stats{
		Pending:   counts[StatusPending],
		Running:   counts[StatusRunning],
		Completed: counts[StatusCompleted],
		Failed:    counts[StatusFailed],
		Cancelled: counts[StatusCancelled],

		QueueDepth:    s.pq.Len(),
		WorkersActive: s.pool.ActiveCount(),
		WorkersLive:   s.pool.LiveCount(),
	}
	st.Total = st.Pending + st.Running + st.Completed + st.Failed + st.Cancelled
	return st
}

// Pool exposes the worker pool for metrics collection
func (s *Service) Pool() *Pool {
	return s.pool
}
