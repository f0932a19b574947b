package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veldtlabs/runq/errors"
)

func testServiceConfig(maxWorkers int) ServiceConfig {
	return ServiceConfig{
		MaxWorkers:        maxWorkers,
		MinWorkers:        1,
		DefaultTimeoutMS:  30000,
		DefaultMaxRetries: 3,
		Capacity:          1000,
	}
}

// startService builds and starts a service over the given executor,
// and tears it down when the test ends
func startService(t *testing.T, maxWorkers int, executor Executor) *Service {
	t.Helper()
	svc := NewService(testServiceConfig(maxWorkers), executor, testLogger())
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)
	return svc
}

func intPtr(n int) *int { return &n }

// TestHermesHappyPath walks a job from submission to completion
func TestHermesHappyPath(t *testing.T) {
	t.Log("🪽 Hermes delivers one parcel and watches it arrive...")

	stub := NewStubExecutor()
	svc := startService(t, 2, stub)

	job, err := svc.Enqueue(EnqueueRequest{Command: "echo hi"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.Status != StatusPending {
		t.Errorf("Expected pending on enqueue, got %s", job.Status)
	}

	if !Eventually(2*time.Second, 10*time.Millisecond, func() bool {
		got, _ := svc.Get(job.ID)
		return got.Status == StatusCompleted
	}) {
		t.Fatal("Job never completed")
	}

	got, _ := svc.Get(job.ID)
	if got.Result != "echo hi" {
		t.Errorf("Expected result %q, got %q", "echo hi", got.Result)
	}
	if got.RetryCount != 0 {
		t.Errorf("Expected zero retries, got %d", got.RetryCount)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("Expected run timestamps set")
	}

	t.Log("✓ Delivered on the first flight")
}

// TestSisyphusRetriesThenSucceeds scripts two failures before success
func TestSisyphusRetriesThenSucceeds(t *testing.T) {
	t.Log("🪨 The boulder slips twice; the third push holds...")

	stub := NewStubExecutor().FailTimes("uphill", 2)
	svc := startService(t, 1, stub)

	job, err := svc.Enqueue(EnqueueRequest{Command: "uphill", MaxRetries: intPtr(2)})
	if err != nil {
		t.Fatal(err)
	}

	if !Eventually(3*time.Second, 10*time.Millisecond, func() bool {
		got, _ := svc.Get(job.ID)
		return got.Status == StatusCompleted
	}) {
		got, _ := svc.Get(job.ID)
		t.Fatalf("Job never completed (status %s, retries %d)", got.Status, got.RetryCount)
	}

	got, _ := svc.Get(job.ID)
	if got.RetryCount != 2 {
		t.Errorf("Expected retry_count 2, got %d", got.RetryCount)
	}
	if stub.Calls("uphill") != 3 {
		t.Errorf("Expected 3 executions, got %d", stub.Calls("uphill"))
	}

	t.Log("✓ Completed with retry_count 2")
}

// TestSisyphusExhaustsRetries scripts permanent failure
func TestSisyphusExhaustsRetries(t *testing.T) {
	t.Log("🪨 This boulder will never stay; the gods allow one retry...")

	stub := NewStubExecutor().FailTimes("cursed", 1000)
	svc := startService(t, 1, stub)

	job, err := svc.Enqueue(EnqueueRequest{Command: "cursed", MaxRetries: intPtr(1)})
	if err != nil {
		t.Fatal(err)
	}

	if !Eventually(3*time.Second, 10*time.Millisecond, func() bool {
		got, _ := svc.Get(job.ID)
		return got.Status == StatusFailed
	}) {
		t.Fatal("Job never reached failed")
	}

	got, _ := svc.Get(job.ID)
	if got.RetryCount != 2 {
		t.Errorf("Expected retry_count 2 (max_retries+1 runs), got %d", got.RetryCount)
	}
	if got.Error == "" {
		t.Error("Expected error populated on terminal failure")
	}
	if got.CompletedAt == nil {
		t.Error("Expected completed_at set on terminal failure")
	}
	if stub.Calls("cursed") != 2 {
		t.Errorf("Expected exactly 2 executions, got %d", stub.Calls("cursed"))
	}

	t.Log("✓ Failed terminally after max_retries + 1 pushes")
}

// TestZeroRetriesMeansOneAttempt tests the max_retries=0 boundary
func TestZeroRetriesMeansOneAttempt(t *testing.T) {
	stub := NewStubExecutor().FailTimes("once", 1000)
	svc := startService(t, 1, stub)

	job, _ := svc.Enqueue(EnqueueRequest{Command: "once", MaxRetries: intPtr(0)})

	if !Eventually(2*time.Second, 10*time.Millisecond, func() bool {
		got, _ := svc.Get(job.ID)
		return got.Status == StatusFailed
	}) {
		t.Fatal("Job never failed")
	}
	if stub.Calls("once") != 1 {
		t.Errorf("Expected exactly one attempt, got %d", stub.Calls("once"))
	}
}

// TestChronosTimesOutJob tests deadline enforcement end to end
func TestChronosTimesOutJob(t *testing.T) {
	t.Log("⏱ A 500 ms job meets a 50 ms deadline...")

	stub := NewStubExecutor().DelayFor("slow", 500*time.Millisecond)
	svc := startService(t, 1, stub)

	start := time.Now()
	job, _ := svc.Enqueue(EnqueueRequest{Command: "slow", TimeoutMS: intPtr(50), MaxRetries: intPtr(0)})

	if !Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		got, _ := svc.Get(job.ID)
		return got.Status == StatusFailed
	}) {
		t.Fatal("Job never failed")
	}
	elapsed := time.Since(start)

	got, _ := svc.Get(job.ID)
	if !strings.Contains(got.Error, "timed out") {
		t.Errorf("Expected timeout reason, got %q", got.Error)
	}
	if elapsed > time.Second {
		t.Errorf("Timeout surfaced too slowly: %v", elapsed)
	}

	t.Log("✓ Chronos collected on time")
}

// TestPriorityDispatchOrder holds one worker busy and checks that the
// backlog drains high, normal, low
func TestPriorityDispatchOrder(t *testing.T) {
	t.Log("🪽 One courier, three waiting parcels of different urgency...")

	var mu sync.Mutex
	var order []string
	started := make(chan struct{}, 1)

	stub := NewStubExecutor()
	stub.RunFunc = func(ctx context.Context, command string) (string, error) {
		mu.Lock()
		order = append(order, command)
		mu.Unlock()
		if command == "block" {
			started <- struct{}{}
			time.Sleep(300 * time.Millisecond)
		}
		return command, nil
	}

	svc := startService(t, 1, stub)

	if _, err := svc.Enqueue(EnqueueRequest{Command: "block"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Blocking job never started")
	}

	// Backlog arrives while the only worker is busy
	svc.Enqueue(EnqueueRequest{Command: "low", Priority: "low"})
	svc.Enqueue(EnqueueRequest{Command: "high", Priority: "high"})
	svc.Enqueue(EnqueueRequest{Command: "normal", Priority: "normal"})

	if !Eventually(3*time.Second, 10*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}) {
		t.Fatal("Backlog never drained")
	}

	mu.Lock()
	defer mu.Unlock()
	expected := []string{"block", "high", "normal", "low"}
	for i, cmd := range expected {
		if order[i] != cmd {
			t.Errorf("Dispatch position %d: expected %s, got %s", i, cmd, order[i])
		}
	}

	t.Log("✓ Urgency decided the order: high, normal, low")
}

// TestAtroposCancelsPendingJob tests immediate cancel with no worker
// capacity (the dispatcher can never pick the job up)
func TestAtroposCancelsPendingJob(t *testing.T) {
	t.Log("✂ Atropos reaches the parcel before any courier can...")

	svc := NewService(ServiceConfig{
		MaxWorkers:        0,
		MinWorkers:        0,
		DefaultTimeoutMS:  30000,
		DefaultMaxRetries: 3,
		Capacity:          1000,
	}, NewStubExecutor(), testLogger())
	// Dispatcher deliberately not started

	job, err := svc.Enqueue(EnqueueRequest{Command: "never"})
	if err != nil {
		t.Fatal(err)
	}

	cancelled, err := svc.Cancel(job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("Expected cancelled, got %s", cancelled.Status)
	}
	if svc.pq.Contains(job.ID) {
		t.Error("Cancelled job still referenced in the queue")
	}
	if cancelled.StartedAt != nil {
		t.Error("Never-run job must not have StartedAt")
	}

	// Starting the dispatcher afterwards must not resurrect it
	svc.Start(context.Background())
	defer svc.Stop()
	time.Sleep(150 * time.Millisecond)

	got, _ := svc.Get(job.ID)
	if got.Status != StatusCancelled {
		t.Errorf("Dispatcher ran a cancelled job: %s", got.Status)
	}

	t.Log("✓ Cut before it ever ran, and it stayed cut")
}

// TestAtroposCancelsRunningJob tests cooperative cancel of an in-flight job
func TestAtroposCancelsRunningJob(t *testing.T) {
	t.Log("✂ Atropos snips a thread already on the loom...")

	stub := NewStubExecutor().DelayFor("longhaul", 5*time.Second)
	svc := startService(t, 1, stub)

	job, _ := svc.Enqueue(EnqueueRequest{Command: "longhaul"})

	if !Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		got, _ := svc.Get(job.ID)
		return got.Status == StatusRunning
	}) {
		t.Fatal("Job never started")
	}

	cancelled, err := svc.Cancel(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("Expected cancelled, got %s", cancelled.Status)
	}

	// The terminal state must survive the worker winding down
	time.Sleep(200 * time.Millisecond)
	got, _ := svc.Get(job.ID)
	if got.Status != StatusCancelled {
		t.Errorf("Worker overwrote the terminal state: %s", got.Status)
	}

	t.Log("✓ The loom stopped; cancelled it stays")
}

// TestCancelIsIdempotent tests cancel(cancel(id)) = cancel(id) and that
// terminal jobs are left unchanged
func TestCancelIsIdempotent(t *testing.T) {
	stub := NewStubExecutor()
	svc := startService(t, 1, stub)

	job, _ := svc.Enqueue(EnqueueRequest{Command: "echo done"})
	if !Eventually(2*time.Second, 10*time.Millisecond, func() bool {
		got, _ := svc.Get(job.ID)
		return got.Status == StatusCompleted
	}) {
		t.Fatal("Job never completed")
	}

	first, err := svc.Cancel(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != StatusCompleted {
		t.Errorf("Cancel mutated a terminal job: %s", first.Status)
	}

	second, err := svc.Cancel(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Error("Repeated cancel changed the record")
	}

	if _, err := svc.Cancel("no-such-job"); !errors.IsNotFoundError(err) {
		t.Errorf("Expected not_found for unknown id, got %v", err)
	}
}

// TestEnqueueValidation covers the invalid_argument boundary
func TestEnqueueValidation(t *testing.T) {
	svc := NewService(testServiceConfig(1), NewStubExecutor(), testLogger())

	cases := []struct {
		name string
		req  EnqueueRequest
	}{
		{"empty command", EnqueueRequest{Command: ""}},
		{"whitespace command", EnqueueRequest{Command: "   "}},
		{"bad priority", EnqueueRequest{Command: "x", Priority: "urgent"}},
		{"zero timeout", EnqueueRequest{Command: "x", TimeoutMS: intPtr(0)}},
		{"negative timeout", EnqueueRequest{Command: "x", TimeoutMS: intPtr(-5)}},
		{"negative retries", EnqueueRequest{Command: "x", MaxRetries: intPtr(-1)}},
	}
	for _, tc := range cases {
		if _, err := svc.Enqueue(tc.req); !errors.IsInvalidArgumentError(err) {
			t.Errorf("%s: expected invalid_argument, got %v", tc.name, err)
		}
	}

	// Defaults apply when fields are omitted
	job, err := svc.Enqueue(EnqueueRequest{Command: "defaults"})
	if err != nil {
		t.Fatal(err)
	}
	if job.Priority != PriorityNormal || job.TimeoutMS != 30000 || job.MaxRetries != 3 {
		t.Errorf("Defaults not applied: %+v", job)
	}
}

// TestListValidationAndClamping covers the list boundary behaviours
func TestListValidationAndClamping(t *testing.T) {
	svc := NewService(testServiceConfig(1), NewStubExecutor(), testLogger())
	svc.Enqueue(EnqueueRequest{Command: "one"})

	if _, err := svc.List(ListRequest{Limit: 0}); !errors.IsInvalidArgumentError(err) {
		t.Error("Expected limit 0 rejected")
	}
	if _, err := svc.List(ListRequest{Limit: -3}); !errors.IsInvalidArgumentError(err) {
		t.Error("Expected negative limit rejected")
	}
	if _, err := svc.List(ListRequest{Limit: 10, Offset: -1}); !errors.IsInvalidArgumentError(err) {
		t.Error("Expected negative offset rejected")
	}
	if _, err := svc.List(ListRequest{Limit: 10, Status: "sleeping"}); !errors.IsInvalidArgumentError(err) {
		t.Error("Expected invalid status filter rejected")
	}

	res, err := svc.List(ListRequest{Limit: 99999})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != MaxListLimit {
		t.Errorf("Expected limit clamped to %d, got %d", MaxListLimit, res.Limit)
	}
}

// TestListFilterAndPaginationEndToEnd seeds a mixed population and pages
// through one status
func TestListFilterAndPaginationEndToEnd(t *testing.T) {
	t.Log("📜 150 parcels: 50 arrived, 50 lost, 50 still waiting...")

	svc := NewService(testServiceConfig(1), NewStubExecutor(), testLogger())
	base := time.Now().UTC()

	seed := func(n int, status Status) {
		for i := 0; i < n; i++ {
			job := NewJob(fmt.Sprintf("%s-%d", status, i), PriorityNormal, 1000, 0)
			job.CreatedAt = base.Add(time.Duration(len(status))*time.Minute + time.Duration(i)*time.Second)
			job.Status = status
			if err := svc.store.Insert(*job); err != nil {
				t.Fatal(err)
			}
		}
	}
	seed(50, StatusCompleted)
	seed(50, StatusFailed)
	seed(50, StatusPending)

	res, err := svc.List(ListRequest{Status: "completed", Limit: 20, Offset: 40})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 50 {
		t.Errorf("Expected total 50, got %d", res.Total)
	}
	if len(res.Jobs) != 10 {
		t.Errorf("Expected 10 items on the last page, got %d", len(res.Jobs))
	}
	for i := 1; i < len(res.Jobs); i++ {
		if res.Jobs[i].CreatedAt.After(res.Jobs[i-1].CreatedAt) {
			t.Error("Page not sorted newest first")
		}
	}

	t.Log("✓ Page 3 of the arrivals ledger: 10 parcels, honest total")
}

// TestConcurrentEnqueueUniqueness fires 1000 parallel submissions
func TestConcurrentEnqueueUniqueness(t *testing.T) {
	t.Log("🪽 A thousand couriers at the counter at once...")

	svc := NewService(testServiceConfig(0), NewStubExecutor(), testLogger())

	var wg sync.WaitGroup
	ids := make(chan string, 1000)
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			job, err := svc.Enqueue(EnqueueRequest{Command: fmt.Sprintf("cmd-%d", n)})
			if err != nil {
				t.Errorf("Enqueue %d failed: %v", n, err)
				return
			}
			ids <- job.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("Duplicate job id: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 1000 {
		t.Errorf("Expected 1000 distinct ids, got %d", len(seen))
	}
	if svc.store.Len() != 1000 {
		t.Errorf("Expected 1000 records, got %d", svc.store.Len())
	}

	t.Log("✓ 1000 submissions, 1000 ids, 1000 records")
}

// TestQueueMatchesPendingSet verifies the queue/store consistency
// invariant while work flows
func TestQueueMatchesPendingSet(t *testing.T) {
	stub := NewStubExecutor()
	svc := NewService(testServiceConfig(0), stub, testLogger())

	for i := 0; i < 20; i++ {
		svc.Enqueue(EnqueueRequest{Command: fmt.Sprintf("job-%d", i)})
	}

	counts := svc.store.CountByStatus()
	if svc.pq.Len() != counts[StatusPending] {
		t.Errorf("Queue depth %d != pending count %d", svc.pq.Len(), counts[StatusPending])
	}

	// Cancel half; the queue must shrink in step
	res, _ := svc.List(ListRequest{Status: "pending", Limit: 10, Offset: 0})
	for _, j := range res.Jobs {
		svc.Cancel(j.ID)
	}

	counts = svc.store.CountByStatus()
	if svc.pq.Len() != counts[StatusPending] {
		t.Errorf("After cancels: queue depth %d != pending count %d", svc.pq.Len(), counts[StatusPending])
	}
}

// TestClearWipesEverything tests the test-only clear operation
func TestClearWipesEverything(t *testing.T) {
	stub := NewStubExecutor()
	svc := startService(t, 1, stub)

	for i := 0; i < 5; i++ {
		svc.Enqueue(EnqueueRequest{Command: fmt.Sprintf("wipe-%d", i)})
	}

	svc.Clear(context.Background())

	if svc.store.Len() != 0 {
		t.Errorf("Expected empty store after clear, got %d", svc.store.Len())
	}
	if svc.pq.Len() != 0 {
		t.Errorf("Expected empty queue after clear, got %d", svc.pq.Len())
	}

	// The service keeps working after a clear
	job, err := svc.Enqueue(EnqueueRequest{Command: "echo back"})
	if err != nil {
		t.Fatal(err)
	}
	if !Eventually(2*time.Second, 10*time.Millisecond, func() bool {
		got, _ := svc.Get(job.ID)
		return got.Status == StatusCompleted
	}) {
		t.Fatal("Service dead after clear")
	}
}

// TestGetStats sanity-checks the gauges
func TestGetStats(t *testing.T) {
	svc := NewService(testServiceConfig(0), NewStubExecutor(), testLogger())
	svc.Enqueue(EnqueueRequest{Command: "a"})
	svc.Enqueue(EnqueueRequest{Command: "b"})

	stats := svc.GetStats()
	if stats.Pending != 2 || stats.Total != 2 || stats.QueueDepth != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.WorkersActive != 0 {
		t.Errorf("Expected no active workers, got %d", stats.WorkersActive)
	}
}
