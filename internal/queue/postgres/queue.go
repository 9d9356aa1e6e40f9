// Package postgres provides a PostgreSQL-backed queue.Queue. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never check out the same
// entry; admission dedup rides on a partial unique index over live states.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/queue"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queue implements queue.Queue using PostgreSQL.
//
// Pause state and the claim rate window are process-local: they gate this
// process's dispatch loop rather than the shared table.
type Queue struct {
	db    *pgxpool.Pool
	cfg   queue.Config
	clock queue.Clock

	mu          sync.Mutex
	paused      bool
	windowStart time.Time
	windowUsed  int
}

// New creates a PostgreSQL queue. A nil clock falls back to the system
// clock; zero config fields fall back to queue.DefaultConfig.
func New(db *pgxpool.Pool, cfg queue.Config, clock queue.Clock) *Queue {
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
	return &Queue{db: db, cfg: cfg, clock: clock}
}

const entryColumns = `id, notification_id, user_id, channels, payload, priority,
	attempt, max_attempts, state, last_error, next_attempt_at, enqueued_at, claimed_at, completed_at`

// Enqueue admits a job. When an entry with the same notification ID is
// still live (waiting, active, or delayed), the existing entry is
// returned instead of inserting a duplicate.
func (q *Queue) Enqueue(ctx context.Context, job domain.NotificationJob) (*queue.Entry, error) {
	if job.NotificationID == "" {
		return nil, fmt.Errorf("%w: empty notification id", queue.ErrInvalidJob)
	}

	insertQuery := `
		INSERT INTO notification_queue (notification_id, user_id, channels, payload, priority, max_attempts, state, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'waiting', $7)
		ON CONFLICT (notification_id) WHERE state IN ('waiting', 'active', 'delayed') DO NOTHING
		RETURNING ` + entryColumns
	row := q.db.QueryRow(ctx, insertQuery,
		job.NotificationID,
		job.UserID,
		channelStrings(job.Channels),
		job.Payload,
		job.Payload.Priority.Weight(),
		q.cfg.MaxAttempts,
		q.clock.Now(),
	)
	entry, err := scanEntry(row)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	// Conflict with a live entry: return it.
	existingQuery := `
		SELECT ` + entryColumns + `
		FROM notification_queue
		WHERE notification_id = $1 AND state IN ('waiting', 'active', 'delayed')
	`
	entry, err = scanEntry(q.db.QueryRow(ctx, existingQuery, job.NotificationID))
	if err != nil {
		return nil, fmt.Errorf("enqueue: load existing entry: %w", err)
	}
	return entry, nil
}

// ClaimNext checks out the best admissible entry, or reports
// ErrNothingToClaim.
func (q *Queue) ClaimNext(ctx context.Context) (*queue.Entry, error) {
	now := q.clock.Now()

	if err := q.reapStale(ctx, now); err != nil {
		return nil, err
	}
	if err := q.promoteDelayed(ctx, now); err != nil {
		return nil, err
	}

	if q.isPaused() {
		return nil, queue.ErrNothingToClaim
	}
	if !q.takeRateToken(now) {
		return nil, queue.ErrNothingToClaim
	}

	claimQuery := `
		UPDATE notification_queue
		SET state = 'active', attempt = attempt + 1, claimed_at = $1
		WHERE id = (
			SELECT id FROM notification_queue
			WHERE state = 'waiting'
			ORDER BY priority, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + entryColumns
	entry, err := scanEntry(q.db.QueryRow(ctx, claimQuery, now))
	if errors.Is(err, pgx.ErrNoRows) {
		q.refundRateToken(now)
		return nil, queue.ErrNothingToClaim
	}
	if err != nil {
		q.refundRateToken(now)
		return nil, fmt.Errorf("claim next: %w", err)
	}
	return entry, nil
}

// Ack settles a claimed entry: nil completes it, non-nil reschedules or
// permanently fails it.
func (q *Queue) Ack(ctx context.Context, entryID string, ackErr error) error {
	now := q.clock.Now()

	if ackErr == nil {
		completeQuery := `
			UPDATE notification_queue
			SET state = 'completed', completed_at = $2, claimed_at = NULL
			WHERE id = $1 AND state = 'active'
		`
		result, err := q.db.Exec(ctx, completeQuery, entryID, now)
		if err != nil {
			return fmt.Errorf("ack: %w", err)
		}
		if result.RowsAffected() == 0 {
			return q.ackStateError(ctx, entryID)
		}
		return q.enforceRetention(ctx, now)
	}

	var attempt, maxAttempts int
	selectQuery := `SELECT attempt, max_attempts FROM notification_queue WHERE id = $1 AND state = 'active'`
	err := q.db.QueryRow(ctx, selectQuery, entryID).Scan(&attempt, &maxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return q.ackStateError(ctx, entryID)
	}
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}

	if attempt >= maxAttempts {
		failQuery := `
			UPDATE notification_queue
			SET state = 'failed', last_error = $2, claimed_at = NULL
			WHERE id = $1 AND state = 'active'
		`
		if _, err := q.db.Exec(ctx, failQuery, entryID, ackErr.Error()); err != nil {
			return fmt.Errorf("ack: mark failed: %w", err)
		}
		return nil
	}

	delayQuery := `
		UPDATE notification_queue
		SET state = 'delayed', last_error = $2, next_attempt_at = $3, claimed_at = NULL
		WHERE id = $1 AND state = 'active'
	`
	if _, err := q.db.Exec(ctx, delayQuery, entryID, ackErr.Error(), now.Add(q.cfg.Backoff(attempt))); err != nil {
		return fmt.Errorf("ack: reschedule: %w", err)
	}
	return nil
}

func (q *Queue) ackStateError(ctx context.Context, entryID string) error {
	var state string
	err := q.db.QueryRow(ctx, `SELECT state FROM notification_queue WHERE id = $1`, entryID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return queue.ErrEntryNotActive
}

// Stats returns entry counts by state.
func (q *Queue) Stats(ctx context.Context) (*queue.Stats, error) {
	rows, err := q.db.Query(ctx, `SELECT state, COUNT(*) FROM notification_queue GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &queue.Stats{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch queue.EntryState(state) {
		case queue.StateWaiting:
			stats.Waiting = count
		case queue.StateActive:
			stats.Active = count
		case queue.StateDelayed:
			stats.Delayed = count
		case queue.StateCompleted:
			stats.Completed = count
		case queue.StateFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	return stats, nil
}

// RetryFailed re-admits failed entries with the attempt counter reset.
// Entries whose notification ID has been re-enqueued in the meantime are
// left failed.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	query := `
		UPDATE notification_queue qe
		SET state = 'waiting', attempt = 0, next_attempt_at = NULL, claimed_at = NULL,
		    last_error = '', enqueued_at = $1, seq = nextval('notification_queue_seq')
		WHERE qe.state = 'failed'
		  AND NOT EXISTS (
			SELECT 1 FROM notification_queue live
			WHERE live.notification_id = qe.notification_id
			  AND live.state IN ('waiting', 'active', 'delayed')
		  )
	`
	result, err := q.db.Exec(ctx, query, q.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// Pause stops claim issuance for this process.
func (q *Queue) Pause(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	return nil
}

// Resume restores claim issuance for this process.
func (q *Queue) Resume(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	return nil
}

// Prune deletes completed entries older than olderThan.
func (q *Queue) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.clock.Now().Add(-olderThan)
	result, err := q.db.Exec(ctx,
		`DELETE FROM notification_queue WHERE state = 'completed' AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// reapStale reschedules active entries whose claim heartbeat has expired,
// recovering work lost to crashed workers.
func (q *Queue) reapStale(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-q.cfg.ClaimHeartbeat)
	staleQuery := `
		SELECT id, attempt, max_attempts FROM notification_queue
		WHERE state = 'active' AND claimed_at <= $1
		FOR UPDATE SKIP LOCKED
	`

	tx, err := q.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reap stale claims: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, staleQuery, cutoff)
	if err != nil {
		return fmt.Errorf("reap stale claims: %w", err)
	}
	type stale struct {
		id                   string
		attempt, maxAttempts int
	}
	var stales []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.attempt, &s.maxAttempts); err != nil {
			rows.Close()
			return fmt.Errorf("scan stale claim: %w", err)
		}
		stales = append(stales, s)
	}
	rows.Close()

	lastError := fmt.Sprintf("claim heartbeat expired after %s", q.cfg.ClaimHeartbeat)
	for _, s := range stales {
		if s.attempt >= s.maxAttempts {
			_, err = tx.Exec(ctx,
				`UPDATE notification_queue SET state = 'failed', last_error = $2, claimed_at = NULL WHERE id = $1`,
				s.id, lastError)
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE notification_queue SET state = 'delayed', last_error = $2, next_attempt_at = $3, claimed_at = NULL WHERE id = $1`,
				s.id, lastError, now.Add(q.cfg.Backoff(s.attempt)))
		}
		if err != nil {
			return fmt.Errorf("reschedule stale claim %s: %w", s.id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reap stale claims: commit: %w", err)
	}
	return nil
}

func (q *Queue) promoteDelayed(ctx context.Context, now time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE notification_queue SET state = 'waiting', next_attempt_at = NULL WHERE state = 'delayed' AND next_attempt_at <= $1`,
		now)
	if err != nil {
		return fmt.Errorf("promote delayed entries: %w", err)
	}
	return nil
}

// enforceRetention evicts completed entries past the retention window or
// beyond the completed cap, oldest first.
func (q *Queue) enforceRetention(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-q.cfg.CompletedRetention)
	_, err := q.db.Exec(ctx,
		`DELETE FROM notification_queue WHERE state = 'completed' AND completed_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("enforce completed retention: %w", err)
	}

	capQuery := `
		DELETE FROM notification_queue
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE state = 'completed'
			ORDER BY completed_at DESC
			OFFSET $1
		)
	`
	if _, err := q.db.Exec(ctx, capQuery, q.cfg.CompletedCap); err != nil {
		return fmt.Errorf("enforce completed cap: %w", err)
	}
	return nil
}

func (q *Queue) isPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// takeRateToken consumes one claim token from the current fixed window,
// starting a new window when the previous one has elapsed.
func (q *Queue) takeRateToken(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
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

// refundRateToken returns a token taken for a claim that found no entry.
func (q *Queue) refundRateToken(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.windowStart.IsZero() || now.Sub(q.windowStart) >= q.cfg.RateWindow {
		return
	}
	if q.windowUsed > 0 {
		q.windowUsed--
	}
}

func channelStrings(channels []domain.Channel) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}

func scanEntry(row pgx.Row) (*queue.Entry, error) {
	var (
		entry         queue.Entry
		channels      []string
		priority      int
		nextAttemptAt *time.Time
	)
	err := row.Scan(
		&entry.ID,
		&entry.Job.NotificationID,
		&entry.Job.UserID,
		&channels,
		&entry.Job.Payload,
		&priority,
		&entry.Attempt,
		&entry.MaxAttempts,
		&entry.State,
		&entry.LastError,
		&nextAttemptAt,
		&entry.EnqueuedAt,
		&entry.ClaimedAt,
		&entry.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Priority = priority
	entry.Job.Channels = make([]domain.Channel, len(channels))
	for i, c := range channels {
		entry.Job.Channels[i] = domain.Channel(c)
	}
	if nextAttemptAt != nil {
		entry.NextAttemptAt = *nextAttemptAt
	}
	return &entry, nil
}
