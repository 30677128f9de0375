package models

import (
	"encoding/json"
	"math"
	"time"
)

// VenueArea is a named physical zone of the monitored venue.
type VenueArea struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Location `json:"position"`
}

// DensitySample is a point-in-time occupancy reading for a VenueArea.
type DensitySample struct {
	AreaID    string    `json:"areaId"`
	Density   float64   `json:"density"`
	Timestamp time.Time `json:"timestamp"`
}

// Tier is derived on every call and never stored.
func (d DensitySample) Tier() RiskTier {
	return Classify(d.Density)
}

// MarshalJSON adds the tier derived at serialization time.
func (d DensitySample) MarshalJSON() ([]byte, error) {
	type sample DensitySample
	return json.Marshal(struct {
		sample
		Tier RiskTier `json:"tier"`
	}{sample(d), d.Tier()})
}

// HeatmapPoint is a weighted position handed to the mapping collaborator.
type HeatmapPoint struct {
	Position Location `json:"position"`
	Weight   float64  `json:"weight"`
	AreaID   string   `json:"areaId,omitempty"`
}

func (p HeatmapPoint) Level() RiskTier {
	return WeightLevel(p.Weight)
}

// DefaultVenueAreas lays out the reference venue around center.
func DefaultVenueAreas(center Location) []VenueArea {
	return []VenueArea{
		{ID: "A1", Name: "Main Stage", Position: center.Offset(0.001, 0)},
		{ID: "A2", Name: "Food Court", Position: center.Offset(-0.001, 0.001)},
		{ID: "A3", Name: "VIP Area", Position: center.Offset(0, 0.0015)},
		{ID: "B1", Name: "Second Stage", Position: center.Offset(-0.0015, -0.001)},
		{ID: "B2", Name: "Merchandise", Position: center.Offset(0.001, -0.001)},
		{ID: "B3", Name: "Restrooms", Position: center.Offset(-0.0005, 0.0005)},
		{ID: "C1", Name: "Entry Gates", Position: center.Offset(0.002, 0.002)},
		{ID: "C2", Name: "Parking Area", Position: center.Offset(-0.002, -0.002)},
		{ID: "C3", Name: "Medical Tent", Position: center.Offset(0, -0.0015)},
	}
}

// NearestArea returns the area closest to loc, or false when areas is empty.
func NearestArea(areas []VenueArea, loc Location) (VenueArea, bool) {
	best := -1
	bestDistance := math.Inf(1)
	for i, area := range areas {
		if d := area.Position.DistanceMeters(loc); d < bestDistance {
			best, bestDistance = i, d
		}
	}
	if best < 0 {
		return VenueArea{}, false
	}
	return areas[best], true
}
