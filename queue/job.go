// Package queue provides the runq job processing core: the job record,
// the concurrency-safe store, the priority queue, the worker pool, and
// the dispatcher that drives job lifecycles.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether a job in this status can never transition again
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority classifies how urgently a job should be dispatched
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// IsValidPriority returns true if the priority string is a valid Priority
func IsValidPriority(p string) bool {
	switch Priority(p) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// rank maps priorities onto dispatch order; lower dispatches first
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// Job represents one unit of work and its progress through the lifecycle.
//
// The store owns the authoritative copy; everything else (queue refs,
// worker snapshots, HTTP responses) works with copies by value.
type Job struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	TimeoutMS   int        `json:"timeout_ms"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a pending job with a fresh unique id.
func NewJob(command string, priority Priority, timeoutMS, maxRetries int) *Job {
	return &Job{
		ID:         uuid.New().String(),
		Command:    command,
		Priority:   priority,
		Status:     StatusPending,
		TimeoutMS:  timeoutMS,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}
}

// Start marks the job as running. StartedAt always refers to the most
// recent run; retries overwrite it.
func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = StatusRunning
	j.StartedAt = &now
}

// Complete marks the job as completed with its result
func (j *Job) Complete(result string) {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.Result = result
	j.CompletedAt = &now
}

// Fail marks the job as terminally failed with an error message
func (j *Job) Fail(reason string) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.Error = reason
	j.CompletedAt = &now
}

// Cancel marks the job as cancelled with a reason
func (j *Job) Cancel(reason string) {
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.Error = reason
	j.CompletedAt = &now
}

// Requeue returns a failed run to pending for another attempt. The
// retryable failure never surfaces as a terminal status; the job goes
// straight back to pending.
func (j *Job) Requeue(reason string) {
	j.Status = StatusPending
	j.Error = reason
}

// canTransition encodes the lifecycle graph. All transitions outside
// this table are forbidden.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled || to == StatusPending
	default:
		return false
	}
}
