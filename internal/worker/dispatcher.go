package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
)

// DispatcherConfig controls concurrency, retries and housekeeping.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int // bounded concurrency
	WorkerIdleTimeout time.Duration
	MaxAttempts       int           // used when a job does not carry its own
	Backoff           time.Duration // delay after the first failed attempt, doubled after each one
	JobTimeout        time.Duration
	Retention         time.Duration // how long completed and failed jobs are kept
	PollInterval      time.Duration
	PurgeInterval     time.Duration
	// StalledInterval is how often expired leases are reclaimed. A lease
	// lasts JobTimeout plus a grace period.
	StalledInterval time.Duration
}

const (
	defaultMaxAttempts   = 3
	defaultBackoff       = 2 * time.Second
	defaultJobTimeout    = 5 * time.Minute
	defaultRetention     = 24 * time.Hour
	defaultPollInterval  = time.Second
	defaultPurgeInterval = 10 * time.Minute
	defaultStalledEvery  = 30 * time.Second
	leaseGrace           = 30 * time.Second
	failedHookTimeout    = 10 * time.Second
)

var errStalled = errors.New("job stalled: lease expired before the attempt finished")

func (c *DispatcherConfig) withDefaults() DispatcherConfig {
	out := *c
	if out.MaxWorkers <= 0 {
		out.MaxWorkers = 3
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = defaultMaxAttempts
	}
	if out.Backoff <= 0 {
		out.Backoff = defaultBackoff
	}
	if out.JobTimeout <= 0 {
		out.JobTimeout = defaultJobTimeout
	}
	if out.Retention <= 0 {
		out.Retention = defaultRetention
	}
	if out.PollInterval <= 0 {
		out.PollInterval = defaultPollInterval
	}
	if out.PurgeInterval <= 0 {
		out.PurgeInterval = defaultPurgeInterval
	}
	if out.StalledInterval <= 0 {
		out.StalledInterval = defaultStalledEvery
	}
	return out
}

// Dispatcher pulls ready jobs from the store and runs them on the pool.
type Dispatcher struct {
	cfg       DispatcherConfig
	store     Store
	processor Processor
	pool      *jobChannelPool
	wake      chan struct{}
	now       func() time.Time
	log       *zap.SugaredLogger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	started bool
}

func NewDispatcher(store Store, processor Processor, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg.withDefaults(),
		store:     store,
		processor: processor,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
		log:       zap.S().Named("worker"),
	}
}

// Start warms up the pool and begins polling. It is a no-op when already running.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.pool = newJobChannelPool(d.cfg.MinWorkers, d.cfg.MaxWorkers, d.cfg.WorkerIdleTimeout, d.execute)
	// warm up MinWorkers
	for i := 0; i < d.cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}
	d.loops.Add(3)
	go d.run(d.ctx)
	go d.purgeLoop(d.ctx)
	go d.stalledLoop(d.ctx)
	d.log.Infow("dispatcher started", "max_workers", d.cfg.MaxWorkers, "max_attempts", d.cfg.MaxAttempts)
}

// Stop cancels polling and in-flight jobs and waits for workers to return.
// Jobs interrupted by Stop go back to waiting without using an attempt.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	cancel, pool := d.cancel, d.pool
	d.mu.Unlock()

	cancel()
	pool.close()
	d.loops.Wait()
	d.log.Infow("dispatcher stopped")
}

// Notify wakes the poll loop; Queue calls it after each enqueue.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.loops.Done()
	ticker := jitterbug.New(d.cfg.PollInterval, &jitterbug.Norm{Stdev: d.cfg.PollInterval / 10})
	defer ticker.Stop()

	for {
		workerChan := d.pool.acquire()
		if workerChan == nil {
			return
		}
		if ctx.Err() != nil {
			d.pool.Release(workerChan)
			return
		}
		reserveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		job, err := d.store.Reserve(reserveCtx, d.now(), d.lease())
		cancel()
		if err != nil {
			d.pool.Release(workerChan)
			if !errors.Is(err, ErrNoJob) && ctx.Err() == nil {
				d.log.Warnw("reserve job failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
			case <-ticker.C:
			}
			continue
		}
		d.log.Debugw("assign job", "job_id", job.ID, "name", job.Name, "worker", d.pool.workerID(workerChan))
		select {
		case workerChan <- job:
		case <-ctx.Done():
			d.requeue(job, false)
			return
		}
	}
}

func (d *Dispatcher) purgeLoop(ctx context.Context) {
	defer d.loops.Done()
	ticker := jitterbug.New(d.cfg.PurgeInterval, &jitterbug.Norm{Stdev: d.cfg.PurgeInterval / 20})
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.purge(ctx)
		}
	}
}

func (d *Dispatcher) purge(ctx context.Context) {
	n, err := d.store.Purge(ctx, d.now().Add(-d.cfg.Retention))
	if err != nil {
		d.log.Warnw("purge finished jobs failed", "error", err)
		return
	}
	if n > 0 {
		d.log.Infow("purged finished jobs", "count", n)
	}
}

func (d *Dispatcher) lease() time.Duration {
	return d.cfg.JobTimeout + leaseGrace
}

func (d *Dispatcher) stalledLoop(ctx context.Context) {
	defer d.loops.Done()
	ticker := jitterbug.New(d.cfg.StalledInterval, &jitterbug.Norm{Stdev: d.cfg.StalledInterval / 10})
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reclaim(ctx)
		}
	}
}

// reclaim returns jobs whose holder died or lost its store write. The lost
// attempt counts, so a job that keeps stalling ends up failed.
func (d *Dispatcher) reclaim(ctx context.Context) {
	jobs, err := d.store.Reclaim(ctx, d.now(), d.lease())
	if err != nil {
		d.log.Warnw("reclaim stalled jobs failed", "error", err)
	}
	for _, job := range jobs {
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = d.cfg.MaxAttempts
		}
		job.Attempts++
		jobsTotal.WithLabelValues(job.Name, "stalled").Inc()
		if job.Attempts >= job.MaxAttempts {
			d.fail(job, errStalled)
			continue
		}
		d.log.Warnw("stalled job requeued", "job_id", job.ID, "name", job.Name, "attempt", job.Attempts)
		job.FailedReason = errStalled.Error()
		job.State = StateWaiting
		d.save(job)
	}
	if len(jobs) > 0 {
		d.Notify()
	}
}

// fail files the job as failed and runs the processor's Failed hook.
func (d *Dispatcher) fail(job *Job, err error) {
	finished := d.now()
	job.State = StateFailed
	job.FinishedAt = &finished
	job.FailedReason = err.Error()
	d.save(job)
	jobsTotal.WithLabelValues(job.Name, "failed").Inc()
	d.log.Errorw("job failed", "job_id", job.ID, "name", job.Name, "attempts", job.Attempts, "error", err)

	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(d.ctx), failedHookTimeout)
	d.processor.Failed(hookCtx, job, err)
	cancel()
}

// execute runs one attempt and files the job by its outcome.
func (d *Dispatcher) execute(job *Job) {
	jobsInFlight.Inc()
	defer jobsInFlight.Dec()

	if job.MaxAttempts <= 0 {
		job.MaxAttempts = d.cfg.MaxAttempts
	}
	start := d.now()
	job.Attempts++
	job.ProcessedAt = &start

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.JobTimeout)
	err := d.process(ctx, job)
	cancel()
	jobDuration.WithLabelValues(job.Name).Observe(d.now().Sub(start).Seconds())

	switch {
	case err == nil:
		finished := d.now()
		job.State = StateCompleted
		job.FinishedAt = &finished
		job.FailedReason = ""
		d.save(job)
		jobsTotal.WithLabelValues(job.Name, "completed").Inc()
		d.log.Infow("job completed", "job_id", job.ID, "name", job.Name, "attempt", job.Attempts)

	case d.ctx.Err() != nil:
		// shutting down, the attempt does not count
		d.requeue(job, true)

	case IsPermanent(err) || job.Attempts >= job.MaxAttempts:
		d.fail(job, err)

	default:
		delay := d.backoff(job.Attempts)
		job.State = StateDelayed
		job.RunAt = d.now().Add(delay)
		job.FailedReason = err.Error()
		d.save(job)
		jobsTotal.WithLabelValues(job.Name, "retried").Inc()
		d.log.Warnw("job attempt failed, retrying", "job_id", job.ID, "name", job.Name,
			"attempt", job.Attempts, "retry_in", delay, "error", err)
	}
}

// process calls the processor and turns a panic into a failed attempt.
func (d *Dispatcher) process(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return d.processor.Process(ctx, job)
}

// backoff is Backoff * 2^(attempt-1).
func (d *Dispatcher) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := d.cfg.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (d *Dispatcher) requeue(job *Job, undoAttempt bool) {
	if undoAttempt && job.Attempts > 0 {
		job.Attempts--
	}
	job.State = StateWaiting
	d.save(job)
}

func (d *Dispatcher) save(job *Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(d.ctx), 5*time.Second)
	defer cancel()
	if err := d.store.Save(ctx, job); err != nil {
		d.log.Errorw("save job failed", "job_id", job.ID, "state", job.State, "error", err)
	}
}
