package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Queue is the producer side: it assigns ids and persists jobs.
type Queue struct {
	store       Store
	maxAttempts int
	now         func() time.Time
	onEnqueue   []func()
}

func NewQueue(store Store, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Queue{store: store, maxAttempts: maxAttempts, now: time.Now}
}

// OnEnqueue registers fn to run after each successful enqueue, typically
// Dispatcher.Notify for an in-process worker.
func (q *Queue) OnEnqueue(fn func()) {
	q.onEnqueue = append(q.onEnqueue, fn)
}

// Enqueue stores a waiting job and returns without waiting for it to run.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (*Job, error) {
	if name == "" {
		return nil, errors.New("job name required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode job payload")
	}
	now := q.now()
	job := &Job{
		ID:          uuid.NewString(),
		Name:        name,
		Data:        data,
		MaxAttempts: q.maxAttempts,
		State:       StateWaiting,
		CreatedAt:   now,
		RunAt:       now,
	}
	if err := q.store.Add(ctx, job); err != nil {
		return nil, errors.Wrap(err, "enqueue job")
	}
	jobsEnqueued.WithLabelValues(name).Inc()
	for _, fn := range q.onEnqueue {
		fn()
	}
	return job, nil
}

// Get returns the current state of a job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

// Counts reports queue depth.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	return q.store.Counts(ctx)
}
