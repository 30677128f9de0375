package factories

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/jaswdr/faker"
	"github.com/lucsky/cuid"

	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/random"
)

const venueWideLocation = "All areas"

var alertSeverities = map[string]string{
	models.AlertTypeSuspiciousActivity: models.SeverityMedium,
	models.AlertTypePotentialWeapon:    models.SeverityHigh,
	models.AlertTypeOvercrowding:       models.SeverityMedium,
	models.AlertTypeMedicalEmergency:   models.SeverityHigh,
	models.AlertTypeFight:              models.SeverityHigh,
}

var reportTemplates = map[string]string{
	models.AlertTypeSuspiciousActivity: "Unattended bag reported by %s",
	models.AlertTypePotentialWeapon:    "Possible weapon flagged on camera, steward %s responding",
	models.AlertTypeOvercrowding:       "Crowd pressure building, %s requesting barrier support",
	models.AlertTypeMedicalEmergency:   "Person collapsed in crowd, medic %s dispatched",
	models.AlertTypeFight:              "Altercation between attendees, %s on scene",
}

type AlertFactory struct {
	src  random.Source
	fake faker.Faker
}

// NewAlertFactory builds alerts from src. When src can also drive math/rand
// the faker text is drawn from it too, keeping seeded runs reproducible.
func NewAlertFactory(src random.Source) *AlertFactory {
	af := &AlertFactory{src: src}
	if rs, ok := src.(rand.Source); ok {
		af.fake = faker.NewWithSeed(rs)
	} else {
		af.fake = faker.New()
	}
	return af
}

// CreateSimulatedAlert picks a uniformly random alert type at a uniformly random area.
func (af *AlertFactory) CreateSimulatedAlert(areas []models.VenueArea, now time.Time) models.AlertEvent {
	alertType := random.Pick(af.src, models.AlertTypes)
	area := random.Pick(af.src, areas)
	position := area.Position

	return models.AlertEvent{
		ID:          cuid.New(),
		Type:        alertType,
		Location:    area.Name,
		Coordinates: &position,
		Severity:    alertSeverities[alertType],
		Source:      models.AlertSourceSimulated,
		Timestamp:   now,
		Status:      models.AlertStatusActive,
	}
}

// CreateManualAlert turns a validated form into an alert. The location is
// matched against the venue areas to attach coordinates when possible.
func (af *AlertFactory) CreateManualAlert(req models.CreateAlertRequest, areas []models.VenueArea, now time.Time) models.AlertEvent {
	req = req.WithDefaults()
	alert := models.AlertEvent{
		ID:          cuid.New(),
		Type:        req.Title,
		Location:    req.Location,
		Description: fmt.Sprintf("[%s] %s", req.Category, req.Description),
		Severity:    req.Severity,
		Source:      models.AlertSourceManual,
		Timestamp:   now,
		Status:      models.AlertStatusActive,
	}
	if area, ok := findArea(areas, req.Location); ok {
		position := area.Position
		alert.Location = area.Name
		alert.Coordinates = &position
	}
	return alert
}

func (af *AlertFactory) CreateIncomingAlert(now time.Time) models.AlertEvent {
	return models.AlertEvent{
		ID:        cuid.New(),
		Type:      random.Pick(af.src, models.IncomingAlertMessages),
		Location:  venueWideLocation,
		Severity:  models.SeverityHigh,
		Source:    models.AlertSourceIncoming,
		Timestamp: now,
		Status:    models.AlertStatusActive,
	}
}

// CreateDetectionAlert escalates a positive detection result.
func (af *AlertFactory) CreateDetectionAlert(result models.DetectionResult, location string) models.AlertEvent {
	alertType := models.AlertTypePotentialWeapon
	if result.Type == models.ThreatSuspiciousBehavior {
		alertType = models.AlertTypeSuspiciousActivity
	}
	if location == "" {
		location = result.Location
	}
	return models.AlertEvent{
		ID:          cuid.New(),
		Type:        alertType,
		Location:    location,
		Description: fmt.Sprintf("%s detected via %s (%d%% confidence)", result.Type, result.Mode, result.Confidence),
		Severity:    models.SeverityHigh,
		Source:      models.AlertSourceDetection,
		Timestamp:   result.AnalyzedAt,
		Status:      models.AlertStatusActive,
	}
}

// CreateEmergencyAlert covers both the admin broadcast and a security backup request.
func (af *AlertFactory) CreateEmergencyAlert(role, email, message string, now time.Time) models.AlertEvent {
	alertType := "Emergency broadcast"
	if role == models.RoleSecurity {
		alertType = "Backup requested"
	}
	if message == "" {
		message = "Immediate assistance required"
	}
	return models.AlertEvent{
		ID:          cuid.New(),
		Type:        alertType,
		Location:    venueWideLocation,
		Description: fmt.Sprintf("%s (from %s)", message, email),
		Severity:    models.SeverityHigh,
		Source:      models.AlertSourceEmergency,
		Timestamp:   now,
		Status:      models.AlertStatusActive,
	}
}

// CreateHistoricalAlerts backfills n alerts spread over the preceding window,
// oldest first, roughly two thirds of them already resolved.
func (af *AlertFactory) CreateHistoricalAlerts(n int, areas []models.VenueArea, now time.Time, window time.Duration) []models.AlertEvent {
	history := make([]models.AlertEvent, 0, n)
	for i := 0; i < n; i++ {
		alert := af.CreateSimulatedAlert(areas, af.fake.Time().TimeBetween(now.Add(-window), now))
		alert.Description = fmt.Sprintf(reportTemplates[alert.Type], af.fake.Person().Name())
		if random.Chance(af.src, 0.65) {
			alert.Status = models.AlertStatusResolved
		}
		history = append(history, alert)
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})
	return history
}

func findArea(areas []models.VenueArea, location string) (models.VenueArea, bool) {
	needle := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(location), "_", " "))
	for _, area := range areas {
		if strings.ToLower(area.Name) == needle || strings.ToLower(area.ID) == needle {
			return area, true
		}
	}
	return models.VenueArea{}, false
}
