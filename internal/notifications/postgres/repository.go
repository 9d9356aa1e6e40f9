// Package postgres provides PostgreSQL implementations of the contact,
// preference, and delivery log collaborators.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/notifications"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements notifications.ContactResolver,
// notifications.PreferenceResolver, and notifications.DeliveryLog using
// PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetContact retrieves contact data for a user.
func (r *Repository) GetContact(ctx context.Context, userID string) (*domain.Contact, error) {
	query := `
		SELECT id, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(display_name, '')
		FROM users
		WHERE id = $1
	`
	var contact domain.Contact
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&contact.UserID,
		&contact.Email,
		&contact.Phone,
		&contact.DisplayName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrContactNotFound
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &contact, nil
}

// GetPreferences retrieves per-channel enablement for a user and
// category. No rows means no preference record exists for the category.
func (r *Repository) GetPreferences(ctx context.Context, userID, category string) (domain.PreferenceSet, error) {
	query := `
		SELECT channel, enabled
		FROM notification_preferences
		WHERE user_id = $1 AND category = $2
	`
	rows, err := r.db.Query(ctx, query, userID, category)
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(domain.PreferenceSet)
	for rows.Next() {
		var channel string
		var enabled bool
		if err := rows.Scan(&channel, &enabled); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs[domain.Channel(channel)] = enabled
	}

	if len(prefs) == 0 {
		return nil, notifications.ErrPreferencesNotFound
	}
	return prefs, nil
}

// Create appends one delivery log row.
func (r *Repository) Create(ctx context.Context, entry *domain.DeliveryLogEntry) error {
	query := `
		INSERT INTO notification_deliveries (id, notification_id, user_id, channel, attempt, status, provider_message_id, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.NotificationID,
		entry.UserID,
		entry.Channel,
		entry.Attempt,
		entry.Status,
		entry.ProviderMessageID,
		entry.ErrorMessage,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create delivery log entry: %w", err)
	}
	return nil
}

// UpdateStatus records the outcome of a delivery attempt.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, providerMessageID, errorMessage string) error {
	query := `
		UPDATE notification_deliveries
		SET status = $2, provider_message_id = $3, error_message = $4, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, status, providerMessageID, errorMessage)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("update delivery status: entry %s not found", id)
	}
	return nil
}
