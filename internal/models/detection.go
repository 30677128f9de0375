package models

import "time"

type DetectionResult struct {
	Threat     bool      `json:"threat"`
	Type       string    `json:"type,omitempty"`
	Confidence int       `json:"confidence,omitempty"`
	Location   string    `json:"location,omitempty"`
	Mode       string    `json:"mode"`
	AnalyzedAt time.Time `json:"analyzedAt"`
}
