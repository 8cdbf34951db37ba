package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type funcProcessor struct {
	process func(ctx context.Context, job *Job) error

	mu     sync.Mutex
	failed []string
	errs   []error
}

func (p *funcProcessor) Process(ctx context.Context, job *Job) error {
	return p.process(ctx, job)
}

func (p *funcProcessor) Failed(_ context.Context, job *Job, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, job.ID)
	p.errs = append(p.errs, err)
}

func (p *funcProcessor) failedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failed)
}

func fastConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxWorkers:   2,
		MaxAttempts:  3,
		Backoff:      5 * time.Millisecond,
		JobTimeout:   time.Second,
		PollInterval: 5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func jobState(t *testing.T, store Store, id string) *Job {
	t.Helper()
	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job %s: %v", id, err)
	}
	return job
}

func TestDispatcherCompletesJob(t *testing.T) {
	store := NewMemoryStore()
	var seen atomic.Value
	proc := &funcProcessor{process: func(_ context.Context, job *Job) error {
		var payload map[string]string
		if err := job.Decode(&payload); err != nil {
			return err
		}
		seen.Store(payload["fileId"])
		return nil
	}}
	d := NewDispatcher(store, proc, fastConfig())
	queue := NewQueue(store, 3)
	queue.OnEnqueue(d.Notify)

	d.Start(context.Background())
	defer d.Stop()

	job, err := queue.Enqueue(context.Background(), "process-file", map[string]string{"fileId": "f-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return jobState(t, store, job.ID).State == StateCompleted
	})
	if got, _ := seen.Load().(string); got != "f-1" {
		t.Fatalf("payload not delivered, got %q", got)
	}
	if got := jobState(t, store, job.ID); got.Attempts != 1 || got.FinishedAt == nil {
		t.Fatalf("unexpected completed job: %#v", got)
	}
	if proc.failedCount() != 0 {
		t.Fatalf("failed hook should not run on success")
	}
}

func TestDispatcherRetriesThenFailsOnce(t *testing.T) {
	store := NewMemoryStore()
	var calls atomic.Int32
	proc := &funcProcessor{process: func(context.Context, *Job) error {
		calls.Add(1)
		return errors.New("vision unavailable")
	}}
	d := NewDispatcher(store, proc, fastConfig())
	queue := NewQueue(store, 3)
	queue.OnEnqueue(d.Notify)

	d.Start(context.Background())
	defer d.Stop()

	job, err := queue.Enqueue(context.Background(), "process-file", map[string]string{"fileId": "f-2"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return proc.failedCount() == 1 })

	// give the dispatcher a chance to misbehave
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if got := proc.failedCount(); got != 1 {
		t.Fatalf("failed hook should run exactly once, got %d", got)
	}
	final := jobState(t, store, job.ID)
	if final.State != StateFailed || final.FailedReason != "vision unavailable" {
		t.Fatalf("unexpected final job: %#v", final)
	}
}

func TestDispatcherPermanentErrorSkipsRetry(t *testing.T) {
	store := NewMemoryStore()
	var calls atomic.Int32
	proc := &funcProcessor{process: func(context.Context, *Job) error {
		calls.Add(1)
		return Permanent(errors.New("invalid payload"))
	}}
	d := NewDispatcher(store, proc, fastConfig())
	queue := NewQueue(store, 3)
	queue.OnEnqueue(d.Notify)

	d.Start(context.Background())
	defer d.Stop()

	job, err := queue.Enqueue(context.Background(), "process-file", struct{}{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return proc.failedCount() == 1 })
	if got := calls.Load(); got != 1 {
		t.Fatalf("permanent error should not retry, got %d calls", got)
	}
	if got := jobState(t, store, job.ID); got.State != StateFailed || got.Attempts != 1 {
		t.Fatalf("unexpected job: %#v", got)
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	store := NewMemoryStore()
	proc := &funcProcessor{process: func(context.Context, *Job) error {
		panic("boom")
	}}
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	d := NewDispatcher(store, proc, cfg)
	queue := NewQueue(store, 1)
	queue.OnEnqueue(d.Notify)

	d.Start(context.Background())
	defer d.Stop()

	if _, err := queue.Enqueue(context.Background(), "process-file", struct{}{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return proc.failedCount() == 1 })
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	store := NewMemoryStore()
	var running, peak atomic.Int32
	var done atomic.Int32
	proc := &funcProcessor{process: func(context.Context, *Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		done.Add(1)
		return nil
	}}
	cfg := fastConfig()
	cfg.MaxWorkers = 2
	d := NewDispatcher(store, proc, cfg)
	queue := NewQueue(store, 3)
	queue.OnEnqueue(d.Notify)

	d.Start(context.Background())
	defer d.Stop()

	for i := 0; i < 6; i++ {
		if _, err := queue.Enqueue(context.Background(), "process-file", i); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	waitFor(t, 3*time.Second, func() bool { return done.Load() == 6 })
	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", got)
	}
}

func TestDispatcherStopRequeuesInterruptedJob(t *testing.T) {
	store := NewMemoryStore()
	started := make(chan struct{})
	var once sync.Once
	proc := &funcProcessor{process: func(ctx context.Context, _ *Job) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}}
	d := NewDispatcher(store, proc, fastConfig())
	queue := NewQueue(store, 3)
	queue.OnEnqueue(d.Notify)

	d.Start(context.Background())
	job, err := queue.Enqueue(context.Background(), "process-file", struct{}{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("job never started")
	}
	d.Stop()

	got := jobState(t, store, job.ID)
	if got.State != StateWaiting || got.Attempts != 0 {
		t.Fatalf("interrupted job should be waiting with no attempts used: %#v", got)
	}
	if proc.failedCount() != 0 {
		t.Fatalf("failed hook should not run on shutdown")
	}
}

func TestDispatcherBackoffDoubles(t *testing.T) {
	d := NewDispatcher(NewMemoryStore(), &funcProcessor{}, DispatcherConfig{Backoff: 2 * time.Second})
	cases := map[int]time.Duration{1: 2 * time.Second, 2: 4 * time.Second, 3: 8 * time.Second}
	for attempt, want := range cases {
		if got := d.backoff(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestDispatcherReclaimCountsStalledAttempts(t *testing.T) {
	store := NewMemoryStore()
	proc := &funcProcessor{process: func(context.Context, *Job) error { return nil }}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	d := NewDispatcher(store, proc, cfg)
	d.ctx = context.Background()
	clock := time.Now()
	d.now = func() time.Time { return clock }

	addJob(t, store, "j1", clock)
	if _, err := store.Reserve(context.Background(), clock, d.lease()); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	d.reclaim(context.Background())
	if got := jobState(t, store, "j1"); got.State != StateActive {
		t.Fatalf("job within its lease must stay active, got %s", got.State)
	}

	clock = clock.Add(d.lease() + time.Second)
	d.reclaim(context.Background())
	got := jobState(t, store, "j1")
	if got.State != StateWaiting || got.Attempts != 1 {
		t.Fatalf("expected waiting job with one attempt, got %#v", got)
	}

	// stalls again on its last attempt
	if _, err := store.Reserve(context.Background(), clock, d.lease()); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	clock = clock.Add(d.lease() + time.Second)
	d.reclaim(context.Background())
	got = jobState(t, store, "j1")
	if got.State != StateFailed || got.Attempts != 2 {
		t.Fatalf("expected failed job after two stalls, got %#v", got)
	}
	if proc.failedCount() != 1 || !errors.Is(proc.errs[0], errStalled) {
		t.Fatalf("failed hook should run once with the stall error, got %v", proc.errs)
	}
	counts, _ := store.Counts(context.Background())
	if counts.Active != 0 || counts.Finished != 1 {
		t.Fatalf("unexpected counts %#v", counts)
	}
}
