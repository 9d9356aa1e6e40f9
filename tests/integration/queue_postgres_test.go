//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/queue"
	queuepostgres "github.com/crewdesk/crewdesk/internal/queue/postgres"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func queueJob(id, priority string) domain.NotificationJob {
	return domain.NotificationJob{
		NotificationID: id,
		UserID:         "u-queue",
		Channels:       []domain.Channel{domain.ChannelEmail},
		Payload: domain.NotificationPayload{
			Category: "billing",
			Title:    "Invoice due",
			Message:  "Invoice #42 is due.",
			Priority: domain.Priority(priority),
		},
	}
}

// newDirectQueue builds a queue instance over the shared test database.
// The app's claim loop is paused by the caller so it cannot steal
// entries from these tests.
func newDirectQueue(t *testing.T, cfg queue.Config) (*queuepostgres.Queue, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Now().UTC()}
	return queuepostgres.New(testDB, cfg, clock), clock
}

func TestPostgresQueue_PriorityOrder(t *testing.T) {
	resetState(t)
	client := newTestClient(t)
	pauseQueue(t, client)
	defer resumeQueue(t, client)

	q, _ := newDirectQueue(t, queue.Config{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, queueJob("pg-prio-low", "low"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queueJob("pg-prio-high", "high"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queueJob("pg-prio-med", "medium"))
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		entry, err := q.ClaimNext(ctx)
		require.NoError(t, err)
		order = append(order, entry.Job.NotificationID)
		require.NoError(t, q.Ack(ctx, entry.ID, nil))
	}
	assert.Equal(t, []string{"pg-prio-high", "pg-prio-med", "pg-prio-low"}, order)
}

func TestPostgresQueue_ClaimEmpty(t *testing.T) {
	resetState(t)
	client := newTestClient(t)
	pauseQueue(t, client)
	defer resumeQueue(t, client)

	q, _ := newDirectQueue(t, queue.Config{})
	_, err := q.ClaimNext(context.Background())
	assert.ErrorIs(t, err, queue.ErrNothingToClaim)
}

func TestPostgresQueue_BackoffThenPermanentFailure(t *testing.T) {
	resetState(t)
	client := newTestClient(t)
	pauseQueue(t, client)
	defer resumeQueue(t, client)

	cfg := queue.Config{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     time.Minute,
	}
	q, clock := newDirectQueue(t, cfg)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, queueJob("pg-backoff-1", "medium"))
	require.NoError(t, err)

	sendErr := errors.New("smtp unavailable")

	// Attempt 1 fails: delayed 2s.
	entry, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Attempt)
	require.NoError(t, q.Ack(ctx, entry.ID, sendErr))

	_, err = q.ClaimNext(ctx)
	assert.ErrorIs(t, err, queue.ErrNothingToClaim)

	// Attempt 2 fails: delayed 4s.
	clock.Advance(2 * time.Second)
	entry, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Attempt)
	require.NoError(t, q.Ack(ctx, entry.ID, sendErr))

	clock.Advance(2 * time.Second)
	_, err = q.ClaimNext(ctx)
	assert.ErrorIs(t, err, queue.ErrNothingToClaim)

	// Attempt 3 fails: permanently failed.
	clock.Advance(2 * time.Second)
	entry, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, entry.Attempt)
	require.NoError(t, q.Ack(ctx, entry.ID, sendErr))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	clock.Advance(time.Hour)
	_, err = q.ClaimNext(ctx)
	assert.ErrorIs(t, err, queue.ErrNothingToClaim)
}

func TestPostgresQueue_RateLimitWindow(t *testing.T) {
	resetState(t)
	client := newTestClient(t)
	pauseQueue(t, client)
	defer resumeQueue(t, client)

	cfg := queue.Config{
		RateLimit:  2,
		RateWindow: time.Minute,
	}
	q, clock := newDirectQueue(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"pg-rate-1", "pg-rate-2", "pg-rate-3"} {
		_, err := q.Enqueue(ctx, queueJob(id, "medium"))
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		entry, err := q.ClaimNext(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, entry.ID, nil))
	}

	_, err := q.ClaimNext(ctx)
	assert.ErrorIs(t, err, queue.ErrNothingToClaim)

	clock.Advance(time.Minute)
	entry, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pg-rate-3", entry.Job.NotificationID)
}

func TestPostgresQueue_StaleClaimReclaimed(t *testing.T) {
	resetState(t)
	client := newTestClient(t)
	pauseQueue(t, client)
	defer resumeQueue(t, client)

	cfg := queue.Config{
		ClaimHeartbeat: time.Minute,
		InitialBackoff: 2 * time.Second,
	}
	q, clock := newDirectQueue(t, cfg)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, queueJob("pg-stale-1", "medium"))
	require.NoError(t, err)

	first, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt)

	// The worker holding the claim dies. Past the heartbeat the entry is
	// rescheduled with backoff and then claimed again.
	clock.Advance(time.Minute)
	_, err = q.ClaimNext(ctx)
	require.ErrorIs(t, err, queue.ErrNothingToClaim)

	clock.Advance(2 * time.Second)
	second, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempt)
}

func TestPostgresQueue_AckStateErrors(t *testing.T) {
	resetState(t)
	client := newTestClient(t)
	pauseQueue(t, client)
	defer resumeQueue(t, client)

	q, _ := newDirectQueue(t, queue.Config{})
	ctx := context.Background()

	err := q.Ack(ctx, uuid.NewString(), nil)
	assert.ErrorIs(t, err, queue.ErrEntryNotFound)

	entry, err := q.Enqueue(ctx, queueJob("pg-ack-1", "medium"))
	require.NoError(t, err)

	err = q.Ack(ctx, entry.ID, nil)
	assert.ErrorIs(t, err, queue.ErrEntryNotActive)
}

func TestPostgresQueue_CompletedRetentionCap(t *testing.T) {
	resetState(t)
	client := newTestClient(t)
	pauseQueue(t, client)
	defer resumeQueue(t, client)

	cfg := queue.Config{CompletedCap: 2}
	q, _ := newDirectQueue(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"pg-cap-1", "pg-cap-2", "pg-cap-3"} {
		_, err := q.Enqueue(ctx, queueJob(id, "medium"))
		require.NoError(t, err)
		entry, err := q.ClaimNext(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, entry.ID, nil))
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
}
