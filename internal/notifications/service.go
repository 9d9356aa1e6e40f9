package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/queue"
	"github.com/go-playground/validator/v10"
)

// Service is the queue control facade: admission, inspection, bulk
// retry, pause/resume, pruning, and graceful shutdown.
type Service struct {
	queue     queue.Queue
	worker    *Worker
	validator *validator.Validate

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewService creates a notification service over the given queue.
// worker may be nil when the service only admits jobs.
func NewService(q queue.Queue, worker *Worker) *Service {
	return &Service{
		queue:     q,
		worker:    worker,
		validator: validator.New(),
	}
}

// Enqueue validates and admits a notification job. Admission is
// idempotent on the notification ID: a duplicate of a live entry
// returns the existing entry.
func (s *Service) Enqueue(ctx context.Context, job domain.NotificationJob) (*queue.Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := s.validator.Struct(job); err != nil {
		return nil, fmt.Errorf("%w: %v", queue.ErrInvalidJob, err)
	}
	return s.queue.Enqueue(ctx, job)
}

// Stats returns queue entry counts by state.
func (s *Service) Stats(ctx context.Context) (*queue.Stats, error) {
	return s.queue.Stats(ctx)
}

// RetryFailed re-admits all permanently failed entries and returns how
// many were retried.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	count, err := s.queue.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	slog.Info("failed entries re-admitted", "count", count)
	return count, nil
}

// Pause stops new claims from being issued; in-flight dispatches finish.
func (s *Service) Pause(ctx context.Context) error {
	return s.queue.Pause(ctx)
}

// Resume restores claim issuance.
func (s *Service) Resume(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.queue.Resume(ctx)
}

// Prune deletes completed entries older than olderThan.
func (s *Service) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.queue.Prune(ctx, olderThan)
}

// Close shuts the service down: stops new claims, waits up to timeout
// for in-flight dispatches to drain, then returns. Idempotent; repeated
// calls return the first result.
func (s *Service) Close(timeout time.Duration) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.queue.Pause(ctx); err != nil {
			slog.Error("failed to pause queue during close", "error", err)
		}

		if s.worker == nil {
			return
		}

		done := make(chan struct{})
		go func() {
			s.worker.Stop()
			close(done)
		}()

		select {
		case <-done:
			slog.Info("notification service closed")
		case <-ctx.Done():
			s.closeErr = fmt.Errorf("close: workers did not drain within %s", timeout)
		}
	})
	return s.closeErr
}
