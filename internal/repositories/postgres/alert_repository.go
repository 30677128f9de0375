package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chrisdamba/venuesim/internal/models"
)

type AlertRepository struct {
	pool *pgxpool.Pool
}

func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

// MarkResponded only takes an alert that nobody has responded to yet.
func (r *AlertRepository) MarkResponded(ctx context.Context, alertID, email string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE fact_alert SET responded_by = $2, responded_at = $3 WHERE alert_id = $1 AND responded_by IS NULL AND NOT resolved",
		alertID, email, at)
	return err
}

func (r *AlertRepository) MarkResolved(ctx context.Context, alertID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE fact_alert SET resolved = TRUE, resolved_at = $2 WHERE alert_id = $1", alertID, at)
	return err
}

func (r *AlertRepository) MarkAcknowledged(ctx context.Context, alertID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE fact_alert SET acknowledged_at = $2 WHERE alert_id = $1 AND acknowledged_at IS NULL", alertID, at)
	return err
}

func (r *AlertRepository) AcknowledgeAll(ctx context.Context, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		"UPDATE fact_alert SET acknowledged_at = $1 WHERE acknowledged_at IS NULL", at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetActive returns alerts that are neither acknowledged nor resolved,
// oldest first.
func (r *AlertRepository) GetActive(ctx context.Context) ([]models.AlertEvent, error) {
	query := `
        SELECT alert_id, type, location, latitude, longitude, COALESCE(description, ''),
               severity, source, timestamp, COALESCE(responded_by, '')
        FROM fact_alert
        WHERE acknowledged_at IS NULL AND NOT resolved
        ORDER BY timestamp`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []models.AlertEvent
	for rows.Next() {
		var (
			alert    models.AlertEvent
			lat, lon *float64
			unix     int64
		)
		if err := rows.Scan(&alert.ID, &alert.Type, &alert.Location, &lat, &lon, &alert.Description,
			&alert.Severity, &alert.Source, &unix, &alert.RespondedBy); err != nil {
			return nil, err
		}
		alert.Status = models.AlertStatusActive
		if alert.RespondedBy != "" {
			alert.Status = models.AlertStatusInProgress
		}
		if lat != nil && lon != nil {
			alert.Coordinates = &models.Location{Lat: *lat, Lon: *lon}
		}
		alert.Timestamp = time.Unix(unix, 0).UTC()
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}
