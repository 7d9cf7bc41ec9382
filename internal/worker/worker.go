package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/lineageq/internal/backoff"
	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/cuongbtq/lineageq/internal/eventbus"
	"github.com/cuongbtq/lineageq/internal/executor"
)

// Defaults applied when Config leaves a field unset
const (
	DefaultConcurrency  = 1
	DefaultPollInterval = 3 * time.Second
	DefaultJobTimeout   = 30 * time.Minute
)

// Recording an outcome is retried on transient store errors
const (
	completeAttempts = 6
	completeBase     = 100 * time.Millisecond
	completeCap      = 2 * time.Second
)

// JobStore is the part of the job store the worker needs
type JobStore interface {
	ClaimNext(ctx context.Context, runID string) (*domain.Job, error)
	Complete(ctx context.Context, id int64, outcome domain.Outcome) (*domain.Job, error)
	QueueDepth(ctx context.Context) (int64, error)
}

// Publisher receives job status notifications
type Publisher interface {
	Publish(n domain.Notification)
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Store        JobStore
	Adapter      executor.Adapter
	Bus          Publisher
	WorkerID     string
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
	Clock        func() time.Time
}

// Worker runs a pool of loops that claim, execute and complete jobs
type Worker struct {
	logger       *slog.Logger
	store        JobStore
	adapter      executor.Adapter
	bus          Publisher
	workerID     string
	concurrency  int
	pollInterval time.Duration
	jobTimeout   time.Duration
	clock        func() time.Time

	completeRetry    backoff.Policy
	completeAttempts int

	queueDepth atomic.Int64
	wake       chan struct{}
	wg         sync.WaitGroup
	stopChan   chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Store == nil {
		return nil, errors.New("worker requires a job store")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("worker requires an execution adapter")
	}

	w := &Worker{
		logger:       cfg.Logger,
		store:        cfg.Store,
		adapter:      cfg.Adapter,
		bus:          cfg.Bus,
		workerID:     cfg.WorkerID,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		jobTimeout:   cfg.JobTimeout,
		clock:        cfg.Clock,
		stopChan:     make(chan struct{}),

		completeRetry:    backoff.Policy{Base: completeBase, Cap: completeCap, Jitter: backoff.DefaultJitter},
		completeAttempts: completeAttempts,
	}

	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.workerID == "" {
		w.workerID = "worker-" + uuid.NewString()[:8]
	}
	if w.concurrency <= 0 {
		w.concurrency = DefaultConcurrency
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = DefaultJobTimeout
	}
	if w.clock == nil {
		w.clock = time.Now
	}
	w.wake = make(chan struct{}, w.concurrency)

	return w, nil
}

// Start spawns the worker loops and returns. Loops run until Stop or ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.logger.Info("Starting worker",
			slog.String("worker_id", w.workerID),
			slog.Int("concurrency", w.concurrency),
			slog.Duration("poll_interval", w.pollInterval),
			slog.Duration("job_timeout", w.jobTimeout),
		)
		w.spawnWorkerPool(ctx)
	})
}

// Stop signals the loops and waits for in-flight jobs to finish
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...", slog.String("worker_id", w.workerID))
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
}

// Wake cuts one idle loop's sleep short, typically because a job was just queued
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// QueueDepth is the eligible queue length most recently observed by a loop
func (w *Worker) QueueDepth() int64 {
	return w.queueDepth.Load()
}

func (w *Worker) publish(n domain.Notification) {
	if w.bus != nil {
		w.bus.Publish(n)
	}
}

// WakeOnQueued wakes an idle loop whenever the bus announces a newly queued job.
// It returns when ctx is done or the subscription is closed.
func (w *Worker) WakeOnQueued(ctx context.Context, bus *eventbus.Bus) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			if n.Type == domain.NotificationJob && n.Status == domain.JobStatusQueued {
				w.Wake()
			}
		}
	}
}
