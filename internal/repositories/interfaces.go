package repositories

import (
	"context"
	"time"

	"github.com/chrisdamba/venuesim/internal/models"
)

type VenueAreaRepository interface {
	BulkUpsert(ctx context.Context, areas []models.VenueArea) error
	Count(ctx context.Context) (int, error)
}

// EventRepository appends flat event rows to fact tables.
type EventRepository interface {
	Insert(ctx context.Context, table string, columns []string, values []interface{}) error
	Count(ctx context.Context, table string) (int, error)
}

type AlertRepository interface {
	MarkResponded(ctx context.Context, alertID, email string, at time.Time) error
	MarkResolved(ctx context.Context, alertID string, at time.Time) error
	MarkAcknowledged(ctx context.Context, alertID string, at time.Time) error
	AcknowledgeAll(ctx context.Context, at time.Time) (int64, error)
	GetActive(ctx context.Context) ([]models.AlertEvent, error)
}
