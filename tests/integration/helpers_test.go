//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// resetState clears queue and delivery state between tests. User and
// preference rows are keyed per test, so they are cleared too.
func resetState(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := testDB.Exec(ctx, `TRUNCATE notification_queue`)
	require.NoError(t, err)
	_, err = testDB.Exec(ctx, `TRUNCATE notification_deliveries`)
	require.NoError(t, err)
	_, err = testDB.Exec(ctx, `TRUNCATE users CASCADE`)
	require.NoError(t, err)

	require.NoError(t, mailpitClient.DeleteAllMessages())
}

func createUser(t *testing.T, id, email, phone, displayName string) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO users (id, email, phone, display_name)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
	`, id, email, phone, displayName)
	require.NoError(t, err)
}

func setPreference(t *testing.T, userID, category, channel string, enabled bool) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO notification_preferences (user_id, category, channel, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, category, channel) DO UPDATE SET enabled = EXCLUDED.enabled
	`, userID, category, channel, enabled)
	require.NoError(t, err)
}

type deliveryRow struct {
	Channel           string
	Attempt           int
	Status            string
	ProviderMessageID string
	ErrorMessage      string
}

func deliveryRows(t *testing.T, notificationID string) []deliveryRow {
	t.Helper()
	rows, err := testDB.Query(context.Background(), `
		SELECT channel, attempt, status, provider_message_id, error_message
		FROM notification_deliveries
		WHERE notification_id = $1
		ORDER BY channel, attempt
	`, notificationID)
	require.NoError(t, err)
	defer rows.Close()

	var out []deliveryRow
	for rows.Next() {
		var r deliveryRow
		require.NoError(t, rows.Scan(&r.Channel, &r.Attempt, &r.Status, &r.ProviderMessageID, &r.ErrorMessage))
		out = append(out, r)
	}
	return out
}

// waitForEntryState polls until the queue entry for notificationID
// reaches the wanted state.
func waitForEntryState(t *testing.T, notificationID, state string) {
	t.Helper()
	require.Eventually(t, func() bool {
		var got string
		err := testDB.QueryRow(context.Background(), `
			SELECT state FROM notification_queue
			WHERE notification_id = $1
			ORDER BY enqueued_at DESC LIMIT 1
		`, notificationID).Scan(&got)
		return err == nil && got == state
	}, 10*time.Second, 50*time.Millisecond, "entry %s never reached state %s", notificationID, state)
}

func enqueueBody(notificationID, userID string, channels []string) map[string]interface{} {
	return map[string]interface{}{
		"notification_id": notificationID,
		"user_id":         userID,
		"channels":        channels,
		"payload": map[string]interface{}{
			"category": "billing",
			"title":    "Invoice due",
			"message":  "Your invoice #42 is due tomorrow.",
			"priority": "medium",
		},
	}
}
