package notifications

import (
	"context"

	"github.com/crewdesk/crewdesk/internal/domain"
)

// DeliveryLog is the durable audit trail of per-channel delivery
// attempts. Rows are appended and status-updated, never deleted here.
type DeliveryLog interface {
	Create(ctx context.Context, entry *domain.DeliveryLogEntry) error
	UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, providerMessageID, errorMessage string) error
}
