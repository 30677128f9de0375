package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chrisdamba/venuesim/internal/models"
)

type VenueAreaRepository struct {
	pool *pgxpool.Pool
}

func NewVenueAreaRepository(pool *pgxpool.Pool) *VenueAreaRepository {
	return &VenueAreaRepository{pool: pool}
}

func (r *VenueAreaRepository) BulkUpsert(ctx context.Context, areas []models.VenueArea) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	stmt := `
        INSERT INTO dim_venue_area (id, name, lat, lon)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, lat = EXCLUDED.lat, lon = EXCLUDED.lon`

	for _, area := range areas {
		if _, err = tx.Exec(ctx, stmt, area.ID, area.Name, area.Position.Lat, area.Position.Lon); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *VenueAreaRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM dim_venue_area").Scan(&count)
	return count, err
}
