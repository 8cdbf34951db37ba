package pipeline

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"smlgpt/internal/apperrors"
	"smlgpt/internal/models"
	"smlgpt/internal/realtime"
	"smlgpt/internal/registry"
	"smlgpt/internal/worker"
)

const (
	// QueueName namespaces the file analysis jobs in the store.
	QueueName = "file-processing"
	// JobName is the queue job name for file analysis.
	JobName = "process-file"
)

// JobProcessor runs process-file jobs for the worker dispatcher.
type JobProcessor struct {
	pipeline  *Pipeline
	validate  *validator.Validate
	publisher realtime.Publisher
	registry  registry.Registry
	log       *zap.SugaredLogger
}

func NewJobProcessor(p *Pipeline) *JobProcessor {
	return &JobProcessor{
		pipeline:  p,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		publisher: p.deps.Publisher,
		registry:  p.deps.Registry,
		log:       zap.S().Named("pipeline"),
	}
}

// Decode reads and validates a job payload.
func (j *JobProcessor) Decode(job *worker.Job) (FilePayload, error) {
	var payload FilePayload
	if err := job.Decode(&payload); err != nil {
		return payload, apperrors.Validation("invalid job payload: %v", err)
	}
	if err := j.validate.Struct(payload); err != nil {
		return payload, apperrors.Validation("invalid job payload: %v", err)
	}
	return payload, nil
}

func (j *JobProcessor) Process(ctx context.Context, job *worker.Job) error {
	if job.Name != JobName {
		return worker.Permanent(errors.Errorf("unknown job %q", job.Name))
	}
	payload, err := j.Decode(job)
	if err != nil {
		return worker.Permanent(err)
	}
	_, err = j.pipeline.Process(ctx, payload)
	return err
}

// Failed tells the session the file could not be processed and marks the
// registry entry failed. It runs once per job, after the last attempt.
func (j *JobProcessor) Failed(ctx context.Context, job *worker.Job, cause error) {
	var payload FilePayload
	_ = job.Decode(&payload)
	log := j.log.With("job_id", job.ID, "file_id", payload.FileID)

	if j.registry != nil && payload.FileID != "" {
		failed := models.PendingAnalysis(payload.FileType, job.ID)
		failed.Status = models.StatusFailed
		failed.Error = cause.Error()
		if err := j.registry.AttachAnalysis(ctx, payload.FileID, failed); err != nil && !errors.Is(err, registry.ErrNotFound) {
			log.Warnw("record failed analysis", "error", err)
		}
	}

	if payload.SessionID == "" {
		log.Warnw("job failed without a session to notify", "error", cause)
		return
	}
	err := j.publisher.Publish(ctx, payload.SessionID, models.EventFileProcessingError, models.FileProcessingErrorEvent{
		FileID:   payload.FileID,
		FileName: payload.FileName,
		JobID:    job.ID,
		Error:    cause.Error(),
	})
	if err != nil {
		log.Warnw("publish processing error failed", "error", err)
	}
}
