package models

import "encoding/json"

// RiskTier is a {Low, Moderate, High} classification derived from density.
type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskModerate
	RiskHigh
)

const (
	highDensityThreshold     = 75.0
	moderateDensityThreshold = 50.0

	highWeightThreshold     = 0.7
	moderateWeightThreshold = 0.4
)

// Classify maps a density in [0,100] to its tier. NaN is Low.
func Classify(density float64) RiskTier {
	switch {
	case density > highDensityThreshold:
		return RiskHigh
	case density > moderateDensityThreshold:
		return RiskModerate
	default:
		return RiskLow
	}
}

// WeightLevel classifies a heatmap weight in [0,1].
func WeightLevel(weight float64) RiskTier {
	switch {
	case weight > highWeightThreshold:
		return RiskHigh
	case weight > moderateWeightThreshold:
		return RiskModerate
	default:
		return RiskLow
	}
}

func (t RiskTier) String() string {
	switch t {
	case RiskHigh:
		return "High"
	case RiskModerate:
		return "Moderate"
	default:
		return "Low"
	}
}

func (t RiskTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}
