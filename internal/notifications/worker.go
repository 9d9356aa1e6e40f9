package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/crewdesk/crewdesk/internal/queue"
)

// WorkerConfig contains worker pool configuration.
type WorkerConfig struct {
	NumWorkers   int
	PollInterval time.Duration
}

// DefaultWorkerConfig returns default worker pool configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:   5,
		PollInterval: time.Second,
	}
}

// Worker is a fixed pool of claim loops. Each worker polls the queue,
// dispatches one entry at a time, and acks the outcome.
type Worker struct {
	config     WorkerConfig
	queue      queue.Queue
	dispatcher *Dispatcher

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a worker pool over the given queue and dispatcher.
func NewWorker(config WorkerConfig, q queue.Queue, dispatcher *Dispatcher) *Worker {
	if config.NumWorkers <= 0 {
		config.NumWorkers = DefaultWorkerConfig().NumWorkers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWorkerConfig().PollInterval
	}
	return &Worker{
		config:     config,
		queue:      q,
		dispatcher: dispatcher,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification workers",
		"workers", w.config.NumWorkers,
		"poll_interval", w.config.PollInterval,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop signals all workers to stop and waits for in-flight dispatches
// to finish. Safe to call more than once.
func (w *Worker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.wg.Wait()
	slog.Info("notification workers stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.drain(ctx, workerID)
		}
	}
}

// drain claims and processes entries until the queue has nothing
// admissible or a stop is requested.
func (w *Worker) drain(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		entry, err := w.queue.ClaimNext(ctx)
		if errors.Is(err, queue.ErrNothingToClaim) {
			return
		}
		if err != nil {
			slog.Error("failed to claim queue entry", "worker", workerID, "error", err)
			return
		}
		recordClaim()

		w.process(ctx, workerID, entry)
	}
}

func (w *Worker) process(ctx context.Context, workerID int, entry *queue.Entry) {
	start := time.Now()

	dispatchErr := w.dispatcher.Dispatch(ctx, entry)
	if dispatchErr != nil {
		slog.Warn("dispatch failed",
			"worker", workerID,
			"entry_id", entry.ID,
			"notification_id", entry.Job.NotificationID,
			"attempt", entry.Attempt,
			"max_attempts", entry.MaxAttempts,
			"error", dispatchErr,
		)
	}

	if err := w.queue.Ack(ctx, entry.ID, dispatchErr); err != nil {
		slog.Error("failed to ack queue entry",
			"worker", workerID,
			"entry_id", entry.ID,
			"error", err,
		)
		return
	}

	if dispatchErr == nil {
		slog.Debug("notification processed",
			"worker", workerID,
			"entry_id", entry.ID,
			"notification_id", entry.Job.NotificationID,
			"duration", time.Since(start),
		)
	}
}
