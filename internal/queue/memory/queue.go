// Package memory provides a mutex-guarded in-memory queue.Queue, used in
// tests and single-process deployments. Time is read through an injected
// clock so retry and rate-window behavior is deterministic under test.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/queue"
	"github.com/google/uuid"
)

type record struct {
	entry queue.Entry
	seq   uint64
}

// Queue is an in-memory queue.Queue implementation.
type Queue struct {
	cfg   queue.Config
	clock queue.Clock

	mu        sync.Mutex
	records   map[string]*record // by entry ID
	dedup     map[string]string  // notification ID -> live entry ID
	completed []string           // entry IDs in completion order, oldest first
	seq       uint64
	paused    bool

	windowStart time.Time
	windowUsed  int
}

// New creates an in-memory queue. A nil clock falls back to the system
// clock; zero config fields fall back to queue.DefaultConfig.
func New(cfg queue.Config, clock queue.Clock) *Queue {
	def := queue.DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.ClaimHeartbeat <= 0 {
		cfg.ClaimHeartbeat = def.ClaimHeartbeat
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = def.CompletedRetention
	}
	if cfg.CompletedCap <= 0 {
		cfg.CompletedCap = def.CompletedCap
	}
	if clock == nil {
		clock = queue.SystemClock{}
	}
	return &Queue{
		cfg:     cfg,
		clock:   clock,
		records: make(map[string]*record),
		dedup:   make(map[string]string),
	}
}

// Enqueue admits a job, returning the existing entry when one with the
// same notification ID is still live.
func (q *Queue) Enqueue(_ context.Context, job domain.NotificationJob) (*queue.Entry, error) {
	if job.NotificationID == "" {
		return nil, fmt.Errorf("%w: empty notification id", queue.ErrInvalidJob)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if existingID, ok := q.dedup[job.NotificationID]; ok {
		if rec, ok := q.records[existingID]; ok {
			return copyEntry(rec.entry), nil
		}
	}

	q.seq++
	rec := &record{
		seq: q.seq,
		entry: queue.Entry{
			ID:          uuid.New().String(),
			Job:         job,
			Priority:    job.Payload.Priority.Weight(),
			MaxAttempts: q.cfg.MaxAttempts,
			State:       queue.StateWaiting,
			EnqueuedAt:  q.clock.Now(),
		},
	}
	q.records[rec.entry.ID] = rec
	q.dedup[job.NotificationID] = rec.entry.ID

	return copyEntry(rec.entry), nil
}

// ClaimNext checks out the best admissible entry, or reports
// ErrNothingToClaim.
func (q *Queue) ClaimNext(_ context.Context) (*queue.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	q.reapStaleLocked(now)
	q.promoteDelayedLocked(now)

	if q.paused {
		return nil, queue.ErrNothingToClaim
	}

	best := q.bestWaitingLocked()
	if best == nil {
		return nil, queue.ErrNothingToClaim
	}

	if !q.takeRateTokenLocked(now) {
		return nil, queue.ErrNothingToClaim
	}

	best.entry.State = queue.StateActive
	best.entry.Attempt++
	claimedAt := now
	best.entry.ClaimedAt = &claimedAt

	return copyEntry(best.entry), nil
}

// Ack settles a claimed entry: nil completes it, non-nil reschedules or
// permanently fails it.
func (q *Queue) Ack(_ context.Context, entryID string, ackErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[entryID]
	if !ok {
		return queue.ErrEntryNotFound
	}
	if rec.entry.State != queue.StateActive {
		return queue.ErrEntryNotActive
	}

	now := q.clock.Now()
	if ackErr == nil {
		rec.entry.State = queue.StateCompleted
		completedAt := now
		rec.entry.CompletedAt = &completedAt
		rec.entry.ClaimedAt = nil
		delete(q.dedup, rec.entry.Job.NotificationID)
		q.completed = append(q.completed, rec.entry.ID)
		q.enforceRetentionLocked(now)
		return nil
	}

	q.rescheduleLocked(rec, ackErr, now)
	return nil
}

// Stats returns entry counts by state.
func (q *Queue) Stats(_ context.Context) (*queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &queue.Stats{}
	for _, rec := range q.records {
		switch rec.entry.State {
		case queue.StateWaiting:
			stats.Waiting++
		case queue.StateActive:
			stats.Active++
		case queue.StateDelayed:
			stats.Delayed++
		case queue.StateCompleted:
			stats.Completed++
		case queue.StateFailed:
			stats.Failed++
		}
	}
	stats.Total = len(q.records)
	return stats, nil
}

// RetryFailed re-admits failed entries as fresh waiting entries with the
// attempt counter reset. An entry whose notification ID has been
// re-enqueued in the meantime is left failed.
func (q *Queue) RetryFailed(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	retried := 0
	for _, rec := range q.records {
		if rec.entry.State != queue.StateFailed {
			continue
		}
		if _, taken := q.dedup[rec.entry.Job.NotificationID]; taken {
			continue
		}
		q.seq++
		rec.seq = q.seq
		rec.entry.State = queue.StateWaiting
		rec.entry.Attempt = 0
		rec.entry.NextAttemptAt = time.Time{}
		rec.entry.ClaimedAt = nil
		rec.entry.EnqueuedAt = now
		q.dedup[rec.entry.Job.NotificationID] = rec.entry.ID
		retried++
	}
	return retried, nil
}

// Pause stops claim issuance.
func (q *Queue) Pause(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	return nil
}

// Resume restores claim issuance.
func (q *Queue) Resume(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	return nil
}

// Prune deletes completed entries older than olderThan.
func (q *Queue) Prune(_ context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.clock.Now().Add(-olderThan)
	pruned := 0
	kept := q.completed[:0]
	for _, id := range q.completed {
		rec, ok := q.records[id]
		if !ok {
			continue
		}
		if rec.entry.CompletedAt != nil && rec.entry.CompletedAt.Before(cutoff) {
			delete(q.records, id)
			pruned++
			continue
		}
		kept = append(kept, id)
	}
	q.completed = kept
	return pruned, nil
}

// reapStaleLocked reschedules active entries whose claim heartbeat has
// expired, recovering work lost to crashed workers.
func (q *Queue) reapStaleLocked(now time.Time) {
	for _, rec := range q.records {
		if rec.entry.State != queue.StateActive || rec.entry.ClaimedAt == nil {
			continue
		}
		if now.Sub(*rec.entry.ClaimedAt) < q.cfg.ClaimHeartbeat {
			continue
		}
		q.rescheduleLocked(rec, fmt.Errorf("claim heartbeat expired after %s", q.cfg.ClaimHeartbeat), now)
	}
}

func (q *Queue) promoteDelayedLocked(now time.Time) {
	for _, rec := range q.records {
		if rec.entry.State == queue.StateDelayed && !rec.entry.NextAttemptAt.After(now) {
			rec.entry.State = queue.StateWaiting
			rec.entry.NextAttemptAt = time.Time{}
		}
	}
}

// bestWaitingLocked returns the waiting record with the lowest priority
// weight, FIFO within a tier.
func (q *Queue) bestWaitingLocked() *record {
	var best *record
	for _, rec := range q.records {
		if rec.entry.State != queue.StateWaiting {
			continue
		}
		if best == nil ||
			rec.entry.Priority < best.entry.Priority ||
			(rec.entry.Priority == best.entry.Priority && rec.seq < best.seq) {
			best = rec
		}
	}
	return best
}

// takeRateTokenLocked consumes one claim token from the current fixed
// window, starting a new window when the previous one has elapsed.
func (q *Queue) takeRateTokenLocked(now time.Time) bool {
	if q.windowStart.IsZero() || now.Sub(q.windowStart) >= q.cfg.RateWindow {
		q.windowStart = now
		q.windowUsed = 0
	}
	if q.windowUsed >= q.cfg.RateLimit {
		return false
	}
	q.windowUsed++
	return true
}

func (q *Queue) rescheduleLocked(rec *record, ackErr error, now time.Time) {
	rec.entry.LastError = ackErr.Error()
	rec.entry.ClaimedAt = nil

	if rec.entry.Attempt >= rec.entry.MaxAttempts {
		rec.entry.State = queue.StateFailed
		delete(q.dedup, rec.entry.Job.NotificationID)
		return
	}

	rec.entry.State = queue.StateDelayed
	rec.entry.NextAttemptAt = now.Add(q.cfg.Backoff(rec.entry.Attempt))
}

// enforceRetentionLocked evicts completed entries past the retention
// window or beyond the completed cap, oldest first.
func (q *Queue) enforceRetentionLocked(now time.Time) {
	cutoff := now.Add(-q.cfg.CompletedRetention)
	kept := q.completed[:0]
	for _, id := range q.completed {
		rec, ok := q.records[id]
		if !ok {
			continue
		}
		if rec.entry.CompletedAt != nil && rec.entry.CompletedAt.Before(cutoff) {
			delete(q.records, id)
			continue
		}
		kept = append(kept, id)
	}
	q.completed = kept

	for len(q.completed) > q.cfg.CompletedCap {
		oldest := q.completed[0]
		q.completed = q.completed[1:]
		delete(q.records, oldest)
	}
}

func copyEntry(e queue.Entry) *queue.Entry {
	c := e
	if e.ClaimedAt != nil {
		t := *e.ClaimedAt
		c.ClaimedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	c.Job.Channels = append([]domain.Channel(nil), e.Job.Channels...)
	return &c
}
