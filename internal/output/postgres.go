package output

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/repositories"
	"github.com/chrisdamba/venuesim/internal/repositories/postgres"
)

const writeTimeout = 5 * time.Second

type PostgresOutput struct {
	pool   *pgxpool.Pool
	areas  repositories.VenueAreaRepository
	events repositories.EventRepository
	alerts repositories.AlertRepository
}

func NewPostgresOutput(ctx context.Context, config *models.DatabaseConfig) (*PostgresOutput, error) {
	pool, err := pgxpool.New(ctx, config.URL)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Str("component", "postgres").Msg("database output ready")
	out := NewPostgresOutputFrom(
		postgres.NewVenueAreaRepository(pool),
		postgres.NewEventRepository(pool),
		postgres.NewAlertRepository(pool),
	)
	out.pool = pool
	return out, nil
}

func NewPostgresOutputFrom(areas repositories.VenueAreaRepository, events repositories.EventRepository, alerts repositories.AlertRepository) *PostgresOutput {
	return &PostgresOutput{areas: areas, events: events, alerts: alerts}
}

func (p *PostgresOutput) WriteMessage(topic string, msg []byte) error {
	var event map[string]interface{}
	if err := json.Unmarshal(msg, &event); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if topic == models.TopicAlertAcknowledgements {
		return p.applyAcknowledgement(ctx, event)
	}

	table := topicToTable(topic)
	cols, vals := buildInsertComponents(event)
	if err := p.events.Insert(ctx, table, cols, vals); err != nil {
		return err
	}
	return nil
}

func (p *PostgresOutput) applyAcknowledgement(ctx context.Context, event map[string]interface{}) error {
	action, _ := event["action"].(string)
	alertID, _ := event["alertId"].(string)
	at := time.Now().UTC()
	if ts, ok := event["timestamp"].(float64); ok {
		at = time.Unix(int64(ts), 0).UTC()
	}

	switch action {
	case "responded":
		actor, _ := event["actor"].(string)
		return p.alerts.MarkResponded(ctx, alertID, actor, at)
	case "acknowledged":
		return p.alerts.MarkAcknowledged(ctx, alertID, at)
	case "resolved":
		return p.alerts.MarkResolved(ctx, alertID, at)
	case "cleared":
		n, err := p.alerts.AcknowledgeAll(ctx, at)
		if err != nil {
			return err
		}
		log.Debug().Int64("rows", n).Msg("acknowledged all stored alerts")
		return nil
	default:
		return fmt.Errorf("unknown acknowledgement action %q", action)
	}
}

// SyncAreas records the venue layout so fact rows can be joined to it.
func (p *PostgresOutput) SyncAreas(ctx context.Context, areas []models.VenueArea) error {
	if err := p.areas.BulkUpsert(ctx, areas); err != nil {
		return err
	}
	stored, err := p.areas.Count(ctx)
	if err != nil {
		return fmt.Errorf("error counting venue areas: %w", err)
	}
	log.Info().Str("component", "postgres").Int("synced", len(areas)).Int("stored", stored).Msg("venue areas synced")
	return nil
}

// RowCounts reports how many rows each fact table holds.
func (p *PostgresOutput) RowCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, table := range []string{"fact_density_sample", "fact_alert", "fact_detection"} {
		n, err := p.events.Count(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("error counting %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// ActiveAlerts returns stored alerts that were never acknowledged or resolved.
func (p *PostgresOutput) ActiveAlerts(ctx context.Context) ([]models.AlertEvent, error) {
	return p.alerts.GetActive(ctx)
}

func (p *PostgresOutput) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if counts, err := p.RowCounts(ctx); err != nil {
		log.Warn().Err(err).Str("component", "postgres").Msg("could not count stored rows")
	} else {
		log.Info().Str("component", "postgres").Interface("rows", counts).Msg("database output closed")
	}

	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func topicToTable(topic string) string {
	tableMap := map[string]string{
		models.TopicDensitySamples:   "fact_density_sample",
		models.TopicAlertEvents:      "fact_alert",
		models.TopicDetectionResults: "fact_detection",
	}

	if table, ok := tableMap[topic]; ok {
		return table
	}
	// if no mapping found, use the topic name as table name
	// after removing the plural suffix
	return "fact_" + strings.TrimSuffix(strings.TrimSuffix(topic, "_events"), "s")
}

func buildInsertComponents(event map[string]interface{}) ([]string, []interface{}) {
	// sorted keys keep the generated statements stable
	keys := make([]string, 0, len(event))
	for k := range event {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	columns := make([]string, 0, len(keys))
	values := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		val := event[key]

		switch v := val.(type) {
		case map[string]interface{}, []interface{}:
			jsonBytes, err := json.Marshal(v)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("error marshaling JSON column")
				continue
			}
			values = append(values, string(jsonBytes))
		case float64:
			// JSON numbers arrive as float64; keep integers integral for BIGINT columns
			if v == float64(int64(v)) && isIntegralColumn(key) {
				values = append(values, int64(v))
			} else {
				values = append(values, v)
			}
		default:
			values = append(values, v)
		}

		columns = append(columns, snakeCaseKey(key))
	}

	return columns, values
}

func isIntegralColumn(key string) bool {
	switch key {
	case "timestamp", "tick", "confidence", "count":
		return true
	}
	return false
}

func snakeCaseKey(key string) string {
	var result strings.Builder
	for i, r := range key {
		if i > 0 && unicode.IsUpper(r) {
			result.WriteRune('_')
		}
		result.WriteRune(unicode.ToLower(r))
	}
	return result.String()
}
