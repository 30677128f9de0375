package simulator

import (
	"math"

	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/random"
)

// HeatmapOptions shape the weighted point cloud handed to the map.
type HeatmapOptions struct {
	Jitter             float64
	CoreRadius         float64
	HotspotProbability float64
	Areas              []models.VenueArea
}

func DefaultHeatmapOptions() HeatmapOptions {
	return HeatmapOptions{Jitter: 0.003, CoreRadius: 0.001, HotspotProbability: 0.15}
}

// GenerateHeatmapPoints scatters count points around center with the
// default options.
func GenerateHeatmapPoints(src random.Source, center models.Location, count int) []models.HeatmapPoint {
	return DefaultHeatmapOptions().Generate(src, center, count)
}

// Generate scatters points uniformly within ±Jitter degrees of center. Base
// weight is uniform in [0,1); points within CoreRadius of the centre are
// lifted into [0.5,1.0) and a HotspotProbability share into [0.7,1.0].
func (o HeatmapOptions) Generate(src random.Source, center models.Location, count int) []models.HeatmapPoint {
	if count <= 0 {
		return []models.HeatmapPoint{}
	}
	points := make([]models.HeatmapPoint, count)
	for i := range points {
		dLat := random.Between(src, -o.Jitter, o.Jitter)
		dLon := random.Between(src, -o.Jitter, o.Jitter)
		weight := src.Float64()

		if math.Hypot(dLat, dLon) < o.CoreRadius {
			weight = random.Between(src, 0.5, 1.0)
		}
		if random.Chance(src, o.HotspotProbability) {
			weight = random.Between(src, 0.7, 1.0)
		}

		position := center.Offset(dLat, dLon)
		points[i] = models.HeatmapPoint{Position: position, Weight: math.Min(weight, 1)}
		if area, ok := models.NearestArea(o.Areas, position); ok {
			points[i].AreaID = area.ID
		}
	}
	return points
}
