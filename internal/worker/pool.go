package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop polls the store until shutdown. It never exits on a job or store error.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	for {
		if w.stopping(ctx) {
			w.logger.Info("Worker goroutine stopping",
				slog.String("worker_name", workerName),
			)
			return
		}

		claimed, err := w.pollOnce(ctx, workerName)
		if err != nil {
			w.logger.Error("Worker loop iteration failed",
				slog.String("worker_name", workerName),
				slog.String("error", err.Error()),
			)
			w.sleep(ctx)
			continue
		}

		if !claimed {
			w.sleep(ctx)
		}
	}
}

// pollOnce records the queue depth, then claims and processes at most one job.
// It reports whether a job was claimed.
func (w *Worker) pollOnce(ctx context.Context, workerName string) (claimed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in worker loop: %v", r)
		}
	}()

	depth, err := w.store.QueueDepth(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read queue depth: %w", err)
	}
	w.queueDepth.Store(depth)
	w.logger.Debug("Queue depth",
		slog.String("worker_name", workerName),
		slog.Int64("depth", depth),
	)

	runID := newRunID(w.clock())
	job, err := w.store.ClaimNext(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	w.processJob(ctx, workerName, job, runID)
	return true, nil
}

// sleep waits one poll interval, returning early on Wake or shutdown
func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-w.wake:
	case <-w.stopChan:
	case <-ctx.Done():
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-w.stopChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
