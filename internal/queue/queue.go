// Package queue defines the notification job queue contract: idempotent
// admission, priority-ordered rate-limited claiming, retry scheduling with
// exponential backoff, and retention of terminal entries.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/crewdesk/crewdesk/internal/domain"
)

// Queue errors.
var (
	// ErrNothingToClaim is returned by ClaimNext when no entry is
	// admissible: the queue is empty, paused, all eligible entries are
	// delayed, or the claim rate window is exhausted.
	ErrNothingToClaim = errors.New("no claimable queue entry")

	// ErrEntryNotFound is returned by Ack for an unknown or already
	// settled entry ID.
	ErrEntryNotFound = errors.New("queue entry not found")

	// ErrEntryNotActive is returned by Ack when the entry is not checked
	// out by a worker.
	ErrEntryNotActive = errors.New("queue entry not active")

	// ErrInvalidJob is returned by Enqueue for jobs that fail validation.
	ErrInvalidJob = errors.New("invalid notification job")
)

// EntryState is the scheduling state of a queue entry.
type EntryState string

// Entry states.
const (
	StateWaiting   EntryState = "waiting"
	StateActive    EntryState = "active"
	StateDelayed   EntryState = "delayed" // waiting on a future retry time
	StateCompleted EntryState = "completed"
	StateFailed    EntryState = "failed"
)

// Entry wraps a NotificationJob with its scheduling state. Entries are
// owned by the queue; a worker holds one only between ClaimNext and Ack.
type Entry struct {
	ID            string                 `json:"id"`
	Job           domain.NotificationJob `json:"job"`
	Priority      int                    `json:"priority"`
	Attempt       int                    `json:"attempt"`
	MaxAttempts   int                    `json:"max_attempts"`
	State         EntryState             `json:"state"`
	LastError     string                 `json:"last_error,omitempty"`
	NextAttemptAt time.Time              `json:"next_attempt_at,omitempty"`
	EnqueuedAt    time.Time              `json:"enqueued_at"`
	ClaimedAt     *time.Time             `json:"claimed_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

// Stats is a snapshot of queue entry counts by state.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Total     int `json:"total"`
}

// Queue is the notification job queue. Implementations must support
// concurrent Enqueue/ClaimNext/Ack without handing the same entry to two
// workers.
type Queue interface {
	// Enqueue admits a job in waiting state. Admission is idempotent on
	// job.NotificationID: if an entry with that ID is already waiting,
	// delayed, or active, the existing entry is returned unchanged.
	Enqueue(ctx context.Context, job domain.NotificationJob) (*Entry, error)

	// ClaimNext atomically checks out the best admissible entry: lowest
	// priority weight first, FIFO within a tier. Returns
	// ErrNothingToClaim when no entry is admissible right now; callers
	// poll. Claiming consumes one rate-limit token.
	ClaimNext(ctx context.Context) (*Entry, error)

	// Ack settles a claimed entry. A nil ackErr completes it. A non-nil
	// ackErr reschedules it with exponential backoff, or marks it failed
	// permanently once attempts are exhausted.
	Ack(ctx context.Context, entryID string, ackErr error) error

	// Stats returns current entry counts by state.
	Stats(ctx context.Context) (*Stats, error)

	// RetryFailed re-admits every failed entry as a fresh waiting entry
	// with its attempt count reset. Returns the number re-admitted.
	RetryFailed(ctx context.Context) (int, error)

	// Pause stops ClaimNext from issuing claims; in-flight entries are
	// unaffected. Resume restores claiming. Both are idempotent.
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	// Prune deletes completed entries older than olderThan and returns
	// the number deleted. Failed entries are never pruned.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}
