package notifications

import (
	"context"

	"github.com/crewdesk/crewdesk/internal/domain"
)

// ContactResolver looks up recipient contact data.
type ContactResolver interface {
	// GetContact returns ErrContactNotFound when the user does not exist.
	GetContact(ctx context.Context, userID string) (*domain.Contact, error)
}

// PreferenceResolver looks up per-user channel preferences for a
// notification category.
type PreferenceResolver interface {
	// GetPreferences returns ErrPreferencesNotFound when the user has no
	// preference record for the category. Callers treat that as every
	// channel enabled.
	GetPreferences(ctx context.Context, userID, category string) (domain.PreferenceSet, error)
}
