package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS dim_venue_area (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		lat  DOUBLE PRECISION NOT NULL,
		lon  DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fact_density_sample (
		timestamp  BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		tick       BIGINT NOT NULL,
		area_id    TEXT NOT NULL,
		area_name  TEXT NOT NULL,
		density    DOUBLE PRECISION NOT NULL,
		tier       TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fact_alert (
		timestamp       BIGINT NOT NULL,
		event_type      TEXT NOT NULL,
		alert_id        TEXT PRIMARY KEY,
		type            TEXT NOT NULL,
		location        TEXT NOT NULL,
		latitude        DOUBLE PRECISION,
		longitude       DOUBLE PRECISION,
		description     TEXT,
		severity        TEXT NOT NULL,
		source          TEXT NOT NULL,
		resolved        BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_at     TIMESTAMPTZ,
		responded_by    TEXT,
		responded_at    TIMESTAMPTZ,
		acknowledged_at TIMESTAMPTZ
	)`,
	`ALTER TABLE fact_alert ADD COLUMN IF NOT EXISTS responded_by TEXT`,
	`ALTER TABLE fact_alert ADD COLUMN IF NOT EXISTS responded_at TIMESTAMPTZ`,
	`CREATE TABLE IF NOT EXISTS fact_detection (
		timestamp   BIGINT NOT NULL,
		event_type  TEXT NOT NULL,
		mode        TEXT NOT NULL,
		threat      BOOLEAN NOT NULL,
		threat_type TEXT,
		confidence  BIGINT,
		location    TEXT
	)`,
}

// EnsureSchema creates the venue tables if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
