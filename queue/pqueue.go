package queue

import (
	"container/heap"
	"sync"
	"time"
)

// Ref is a lightweight reference to a pending job. The queue orders refs;
// job bodies live in the store.
type Ref struct {
	ID        string
	Priority  Priority
	CreatedAt time.Time

	seq   uint64 // tie-break for identical timestamps, assigned on first push
	index int    // heap index, maintained by refHeap
}

// PriorityQueue orders pending jobs by priority class, then by age within
// a class (FIFO). It is safe for concurrent use.
type PriorityQueue struct {
	mu      sync.Mutex
	h       refHeap
	byID    map[string]*Ref
	nextSeq uint64
}

// NewPriorityQueue creates an empty priority queue
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{byID: make(map[string]*Ref)}
}

// Push adds a reference for a pending job. The id must not already be
// queued.
func (q *PriorityQueue) Push(id string, priority Priority, createdAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[id]; exists {
		return
	}
	ref := &Ref{ID: id, Priority: priority, CreatedAt: createdAt, seq: q.nextSeq}
	q.nextSeq++
	q.byID[id] = ref
	heap.Push(&q.h, ref)
}

// Requeue re-inserts a ref popped earlier, preserving its original
// CreatedAt so the job stays ahead of same-priority peers enqueued
// after it. Used on worker-acquisition failure; retries re-enter the
// queue through Push with the job's original CreatedAt.
func (q *PriorityQueue) Requeue(ref Ref) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[ref.ID]; exists {
		return
	}
	r := &Ref{ID: ref.ID, Priority: ref.Priority, CreatedAt: ref.CreatedAt, seq: ref.seq}
	q.byID[r.ID] = r
	heap.Push(&q.h, r)
}

// PopFront removes and returns the highest-priority, oldest ref.
// The second return value is false when the queue is empty.
func (q *PriorityQueue) PopFront() (Ref, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.h.Len() == 0 {
		return Ref{}, false
	}
	ref := heap.Pop(&q.h).(*Ref)
	delete(q.byID, ref.ID)
	return *ref, true
}

// Remove deletes the ref for id if it is queued. Used when a pending
// job is cancelled.
func (q *PriorityQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ref, exists := q.byID[id]
	if !exists {
		return false
	}
	heap.Remove(&q.h, ref.index)
	delete(q.byID, id)
	return true
}

// Contains reports whether id is currently queued
func (q *PriorityQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.byID[id]
	return exists
}

// Len returns the number of queued refs
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Drain removes and returns every queued ref, front first
func (q *PriorityQueue) Drain() []Ref {
	q.mu.Lock()
	defer q.mu.Unlock()

	refs := make([]Ref, 0, q.h.Len())
	for q.h.Len() > 0 {
		ref := heap.Pop(&q.h).(*Ref)
		delete(q.byID, ref.ID)
		refs = append(refs, *ref)
	}
	return refs
}

// refHeap implements heap.Interface over job refs
type refHeap []*Ref

func (h refHeap) Len() int { return len(h) }

func (h refHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if ra, rb := a.Priority.rank(), b.Priority.rank(); ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

func (h refHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *refHeap) Push(x interface{}) {
	ref := x.(*Ref)
	ref.index = len(*h)
	*h = append(*h, ref)
}

func (h *refHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ref := old[n-1]
	old[n-1] = nil
	ref.index = -1
	*h = old[:n-1]
	return ref
}
