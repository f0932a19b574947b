package server

import (
	"net/http"

	"github.com/veldtlabs/runq/queue"
)

// submitJobRequest is the POST /api/jobs body
type submitJobRequest struct {
	Command    string `json:"command"`
	Priority   string `json:"priority,omitempty"`
	Timeout    *int   `json:"timeout,omitempty"` // Milliseconds
	MaxRetries *int   `json:"max_retries,omitempty"`
}

// HandleJobs handles requests to /api/jobs
// GET: list jobs with optional status filter and pagination
// POST: submit a new job
func (s *RunqServer) HandleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		requireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

// HandleJob handles requests to /api/jobs/{id}
// GET: fetch the job record
// DELETE: cancel the job
func (s *RunqServer) HandleJob(w http.ResponseWriter, r *http.Request) {
	pathParts := extractPathParts(r.URL.Path, "/api/jobs/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		writeError(w, r, http.StatusBadRequest, "Missing job ID", nil)
		return
	}
	if len(pathParts) > 1 && pathParts[1] != "" {
		s.handleNotFound(w, r)
		return
	}
	jobID := pathParts[0]

	switch r.Method {
	case http.MethodGet:
		s.handleGetJob(w, r, jobID)
	case http.MethodDelete:
		s.handleCancelJob(w, r, jobID)
	default:
		requireMethod(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleSubmitJob enqueues a job and answers 201 with its id
func (s *RunqServer) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	job, err := s.svc.Enqueue(queue.EnqueueRequest{
		Command:    req.Command,
		Priority:   req.Priority,
		TimeoutMS:  req.Timeout,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		handleError(w, r, s.logger, err, "failed to enqueue job")
		return
	}

	s.logger.Infow("Job submitted",
		"job_id", shortID(job.ID),
		"priority", job.Priority,
		"request_id", requestID(r))

	writeJSON(w, http.StatusCreated, map[string]string{
		"job_id":  job.ID,
		"status":  "queued",
		"message": "job accepted for execution",
	})
}

// handleListJobs answers a filtered, paginated snapshot
func (s *RunqServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQueryParam(r, "limit", queue.DefaultListLimit)
	if !ok || limit <= 0 {
		writeError(w, r, http.StatusBadRequest, "limit must be a positive integer", map[string]interface{}{
			"limit": r.URL.Query().Get("limit"),
		})
		return
	}
	offset, ok := intQueryParam(r, "offset", 0)
	if !ok || offset < 0 {
		writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer", map[string]interface{}{
			"offset": r.URL.Query().Get("offset"),
		})
		return
	}

	result, err := s.svc.List(queue.ListRequest{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		handleError(w, r, s.logger, err, "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetJob answers the full job record
func (s *RunqServer) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.svc.Get(jobID)
	if err != nil {
		handleError(w, r, s.logger, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels the job and answers its final disposition
func (s *RunqServer) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.svc.Cancel(jobID)
	if err != nil {
		handleError(w, r, s.logger, err, "failed to cancel job")
		return
	}

	s.logger.Infow("Job cancel requested",
		"job_id", shortID(jobID),
		"status", job.Status,
		"request_id", requestID(r))

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":  job.ID,
		"status":  string(job.Status),
		"message": "cancellation applied",
	})
}
