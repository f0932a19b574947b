package queue

import (
	"sort"
	"sync"

	"github.com/veldtlabs/runq/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// entry wraps a job with its own mutex so state transitions for a single
// job are serialised without a global write lock on the common path.
type entry struct {
	mu  sync.Mutex
	job Job
}

// Store is the authoritative, concurrency-safe in-memory registry of all
// jobs. Map membership is guarded by a RWMutex; each record carries its
// own lock for mutation.
type Store struct {
	mu          sync.RWMutex
	jobs        map[string]*entry
	subscribers []chan Job
}

// NewStore creates an empty job store
func NewStore() *Store {
	return &Store{jobs: make(map[string]*entry)}
}

// Insert adds a new job. Fails with ErrDuplicateID if the id is already
// present.
func (s *Store) Insert(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return errors.Wrapf(errors.ErrDuplicateID, "job %s", job.ID)
	}
	s.jobs[job.ID] = &entry{job: job}

	s.notifySubscribersLocked(job)
	return nil
}

// Get returns a copy of the job with the given id
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	e, exists := s.jobs[id]
	s.mu.RUnlock()

	if !exists {
		return Job{}, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, nil
}

// Update applies mutate to the job under its per-id lock and returns the
// new value. Concurrent transitions for the same id cannot interleave.
// If the mutator changes Status, the transition must be legal per the
// lifecycle graph; illegal transitions abort the update.
//
// A mutator that returns an error aborts the update and leaves the
// record untouched; the error is propagated to the caller.
func (s *Store) Update(id string, mutate func(*Job) error) (Job, error) {
	s.mu.RLock()
	e, exists := s.jobs[id]
	s.mu.RUnlock()

	if !exists {
		return Job{}, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated := e.job
	if err := mutate(&updated); err != nil {
		return Job{}, err
	}
	if updated.Status != e.job.Status && !canTransition(e.job.Status, updated.Status) {
		return Job{}, errors.Newf("illegal transition %s -> %s for job %s", e.job.Status, updated.Status, id)
	}

	changed := updated != e.job
	e.job = updated

	if changed {
		s.notifySubscribers(updated)
	}
	return updated, nil
}

// List returns a page of jobs matching the status filter (nil = any),
// sorted by CreatedAt descending, plus the total number of matches
// before pagination. limit must be in [1, 1000]; offset must be >= 0.
func (s *Store) List(status *Status, limit, offset int) ([]Job, int) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	matched := make([]Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		job := e.job
		e.mu.Unlock()
		if status == nil || job.Status == *status {
			matched = append(matched, job)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		// Stable order for identical timestamps
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if offset >= total {
		return []Job{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total
}

// CountByStatus returns the number of jobs in each status
func (s *Store) CountByStatus() map[Status]int {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	counts := make(map[Status]int, 5)
	for _, e := range entries {
		e.mu.Lock()
		counts[e.job.Status]++
		e.mu.Unlock()
	}
	return counts
}

// Len returns the number of jobs in the store
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Clear removes all records. Test-only.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[string]*entry)
}

// Subscribe returns a channel that receives a copy of every job mutation.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (s *Store) Subscribe() chan Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Job, SubscriberChannelBufferSize)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the store.
// The channel is NOT closed by this method - callers should close it
// themselves after unsubscribing if needed.
func (s *Store) Unsubscribe(ch chan Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a job update to all subscribers.
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (s *Store) notifySubscribers(job Job) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.notifySubscribersLocked(job)
}

// notifySubscribersLocked requires s.mu held (read or write)
func (s *Store) notifySubscribersLocked(job Job) {
	for _, ch := range s.subscribers {
		select {
		case ch <- job:
		default:
			// Channel full, skip
		}
	}
}
