package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/cuongbtq/lineageq/internal/executor"
)

// completeTimeout bounds recording an outcome, retries included
const completeTimeout = 30 * time.Second

// newRunID formats a run identifier as scan-<UTC RFC3339>-<8 hex>
func newRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("scan-%s-%s", now.UTC().Format(time.RFC3339), suffix)
}

// processJob executes a claimed job and records its outcome.
// Execution and completion are detached from shutdown so an in-flight job always gets reported.
func (w *Worker) processJob(ctx context.Context, workerName string, job *domain.Job, runID string) {
	w.logger.Info("Processing job",
		slog.String("worker_name", workerName),
		slog.Int64("job_id", job.ID),
		slog.String("run_id", runID),
		slog.Int("attempts", job.Attempts),
	)

	w.publish(domain.JobNotification(job))

	startedAt := w.clock()
	if job.StartedAt != nil {
		startedAt = *job.StartedAt
	}

	outcome := w.execute(context.WithoutCancel(ctx), executor.NewRequest(job, runID, startedAt))
	if outcome.Success {
		w.logger.Info("Job execution succeeded",
			slog.Int64("job_id", job.ID),
			slog.String("run_id", runID),
		)
	} else {
		w.logger.Error("Job execution failed",
			slog.Int64("job_id", job.ID),
			slog.String("run_id", runID),
			slog.String("error", outcome.Message),
		)
	}

	completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()

	updated, err := w.complete(completeCtx, job.ID, outcome)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotRunning) {
			w.logger.Warn("Job no longer running, dropping result",
				slog.Int64("job_id", job.ID),
				slog.String("run_id", runID),
			)
			return
		}
		w.logger.Error("Failed to record job outcome, giving up",
			slog.Int64("job_id", job.ID),
			slog.String("run_id", runID),
			slog.Bool("success", outcome.Success),
			slog.String("error", err.Error()),
		)
		return
	}

	w.publish(domain.JobNotification(updated))
}

// execute runs the adapter with the job timeout, turning errors and panics into a failed outcome
func (w *Worker) execute(ctx context.Context, req executor.Request) (outcome domain.Outcome) {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			outcome = domain.Failed(fmt.Sprintf("adapter panic: %v", r))
		}
	}()

	if err := w.adapter.Execute(jobCtx, req); err != nil {
		msg := err.Error()
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("timed out after %s: %s", w.jobTimeout, msg)
		}
		return domain.Failed(msg)
	}
	return domain.Succeeded()
}

// complete records the outcome, retrying transient store errors with backoff.
// ErrJobNotRunning and ErrJobNotFound are final and returned at once.
func (w *Worker) complete(ctx context.Context, id int64, outcome domain.Outcome) (*domain.Job, error) {
	for attempt := 1; ; attempt++ {
		job, err := w.store.Complete(ctx, id, outcome)
		if err == nil ||
			errors.Is(err, domain.ErrJobNotRunning) ||
			errors.Is(err, domain.ErrJobNotFound) ||
			attempt >= w.completeAttempts {
			return job, err
		}

		delay := w.completeRetry.Delay(attempt)
		w.logger.Warn("Failed to record job outcome, retrying",
			slog.Int64("job_id", id),
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}
