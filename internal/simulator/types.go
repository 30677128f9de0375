package simulator

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xitongsys/parquet-go/schema"

	"github.com/chrisdamba/venuesim/internal/models"
)

// DensitySampleEvent is one area's reading from a refresh tick
type DensitySampleEvent struct {
	Timestamp int64   `json:"timestamp" parquet:"name=timestamp,type=INT64"`
	EventType string  `json:"eventType" parquet:"name=eventType,type=BYTE_ARRAY,convertedtype=UTF8"`
	Tick      int64   `json:"tick" parquet:"name=tick,type=INT64"`
	AreaID    string  `json:"areaId" parquet:"name=areaId,type=BYTE_ARRAY,convertedtype=UTF8"`
	AreaName  string  `json:"areaName" parquet:"name=areaName,type=BYTE_ARRAY,convertedtype=UTF8"`
	Density   float64 `json:"density" parquet:"name=density,type=DOUBLE"`
	Tier      string  `json:"tier" parquet:"name=tier,type=BYTE_ARRAY,convertedtype=UTF8"`
}

// AlertRaisedEvent represents an alert entering the log
type AlertRaisedEvent struct {
	Timestamp   int64    `json:"timestamp" parquet:"name=timestamp,type=INT64"`
	EventType   string   `json:"eventType" parquet:"name=eventType,type=BYTE_ARRAY,convertedtype=UTF8"`
	AlertID     string   `json:"alertId" parquet:"name=alertId,type=BYTE_ARRAY,convertedtype=UTF8"`
	Type        string   `json:"type" parquet:"name=type,type=BYTE_ARRAY,convertedtype=UTF8"`
	Location    string   `json:"location" parquet:"name=location,type=BYTE_ARRAY,convertedtype=UTF8"`
	Latitude    *float64 `json:"latitude,omitempty" parquet:"name=latitude,type=DOUBLE,repetitiontype=OPTIONAL"`
	Longitude   *float64 `json:"longitude,omitempty" parquet:"name=longitude,type=DOUBLE,repetitiontype=OPTIONAL"`
	Description string   `json:"description" parquet:"name=description,type=BYTE_ARRAY,convertedtype=UTF8"`
	Severity    string   `json:"severity" parquet:"name=severity,type=BYTE_ARRAY,convertedtype=UTF8"`
	Source      string   `json:"source" parquet:"name=source,type=BYTE_ARRAY,convertedtype=UTF8"`
	Resolved    bool     `json:"resolved" parquet:"name=resolved,type=BOOLEAN"`
}

// DetectionResultEvent represents a completed analysis
type DetectionResultEvent struct {
	Timestamp  int64  `json:"timestamp" parquet:"name=timestamp,type=INT64"`
	EventType  string `json:"eventType" parquet:"name=eventType,type=BYTE_ARRAY,convertedtype=UTF8"`
	Mode       string `json:"mode" parquet:"name=mode,type=BYTE_ARRAY,convertedtype=UTF8"`
	Threat     bool   `json:"threat" parquet:"name=threat,type=BOOLEAN"`
	ThreatType string `json:"threatType" parquet:"name=threatType,type=BYTE_ARRAY,convertedtype=UTF8"`
	Confidence int64  `json:"confidence" parquet:"name=confidence,type=INT64"`
	Location   string `json:"location" parquet:"name=location,type=BYTE_ARRAY,convertedtype=UTF8"`
}

// AlertAcknowledgementEvent records an operator acting on the alert log
type AlertAcknowledgementEvent struct {
	Timestamp int64  `json:"timestamp" parquet:"name=timestamp,type=INT64"`
	EventType string `json:"eventType" parquet:"name=eventType,type=BYTE_ARRAY,convertedtype=UTF8"`
	AlertID   string `json:"alertId" parquet:"name=alertId,type=BYTE_ARRAY,convertedtype=UTF8"`
	Action    string `json:"action" parquet:"name=action,type=BYTE_ARRAY,convertedtype=UTF8"`
	Count     int64  `json:"count" parquet:"name=count,type=INT64"`
	Actor     string `json:"actor" parquet:"name=actor,type=BYTE_ARRAY,convertedtype=UTF8"`
}

const (
	ActionAcknowledged = "acknowledged"
	ActionResponded    = "responded"
	ActionResolved     = "resolved"
	ActionCleared      = "cleared"
)

func GetSchema(topic string) (*schema.SchemaHandler, error) {
	var sh *schema.SchemaHandler
	var err error

	switch topic {
	case models.TopicDensitySamples:
		sh, err = schema.NewSchemaHandlerFromStruct(new(DensitySampleEvent))
	case models.TopicAlertEvents:
		sh, err = schema.NewSchemaHandlerFromStruct(new(AlertRaisedEvent))
	case models.TopicDetectionResults:
		sh, err = schema.NewSchemaHandlerFromStruct(new(DetectionResultEvent))
	case models.TopicAlertAcknowledgements:
		sh, err = schema.NewSchemaHandlerFromStruct(new(AlertAcknowledgementEvent))
	default:
		return nil, fmt.Errorf("unknown event type: %s", topic)
	}

	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("error creating parquet schema")
		return nil, fmt.Errorf("error creating schema for %s: %w", topic, err)
	}

	return sh, nil
}

func newDensitySampleEvent(tick int, area models.VenueArea, sample models.DensitySample) DensitySampleEvent {
	return DensitySampleEvent{
		Timestamp: sample.Timestamp.Unix(),
		EventType: models.EventRefreshDensity,
		Tick:      int64(tick),
		AreaID:    sample.AreaID,
		AreaName:  area.Name,
		Density:   sample.Density,
		Tier:      sample.Tier().String(),
	}
}

func newAlertRaisedEvent(alert models.AlertEvent) AlertRaisedEvent {
	e := AlertRaisedEvent{
		Timestamp:   alert.Timestamp.Unix(),
		EventType:   "AlertRaised",
		AlertID:     alert.ID,
		Type:        alert.Type,
		Location:    alert.Location,
		Description: alert.Description,
		Severity:    alert.Severity,
		Source:      alert.Source,
		Resolved:    alert.IsResolved(),
	}
	if alert.Coordinates != nil {
		lat, lon := alert.Coordinates.Lat, alert.Coordinates.Lon
		e.Latitude, e.Longitude = &lat, &lon
	}
	return e
}

func newDetectionResultEvent(result models.DetectionResult) DetectionResultEvent {
	return DetectionResultEvent{
		Timestamp:  result.AnalyzedAt.Unix(),
		EventType:  "DetectionCompleted",
		Mode:       result.Mode,
		Threat:     result.Threat,
		ThreatType: result.Type,
		Confidence: int64(result.Confidence),
		Location:   result.Location,
	}
}

func newAcknowledgementEvent(action, alertID string, count int, now time.Time) AlertAcknowledgementEvent {
	return AlertAcknowledgementEvent{
		Timestamp: now.Unix(),
		EventType: acknowledgementEventTypes[action],
		AlertID:   alertID,
		Action:    action,
		Count:     int64(count),
	}
}

var acknowledgementEventTypes = map[string]string{
	ActionAcknowledged: "AlertAcknowledged",
	ActionResponded:    "AlertResponded",
	ActionResolved:     "AlertResolved",
	ActionCleared:      "AlertsCleared",
}

// newRecord returns an empty record for topic that the Parquet writer can
// fill from a JSON message.
func newRecord(topic string) (interface{}, error) {
	switch topic {
	case models.TopicDensitySamples:
		return &DensitySampleEvent{}, nil
	case models.TopicAlertEvents:
		return &AlertRaisedEvent{}, nil
	case models.TopicDetectionResults:
		return &DetectionResultEvent{}, nil
	case models.TopicAlertAcknowledgements:
		return &AlertAcknowledgementEvent{}, nil
	}
	return nil, fmt.Errorf("unknown event type: %s", topic)
}
