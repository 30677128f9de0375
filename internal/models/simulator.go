package models

import "time"

// Snapshot is a consistent copy of the simulator state handed to readers.
type Snapshot struct {
	Areas       []VenueArea     `json:"areas"`
	Samples     []DensitySample `json:"samples"`
	Alerts      []AlertEvent    `json:"alerts"`
	Ticks       int             `json:"ticks"`
	CurrentTime time.Time       `json:"currentTime"`
}

// EventMessage is a serialized event bound for an output topic.
type EventMessage struct {
	Topic   string
	Message []byte
}
