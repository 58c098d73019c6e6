package main

import (
	"time"

	"meteo-dashboard/services/internal/store"
)

// SensorMessage is the JSON payload published on sensors/<deviceId>.
// Every measurement is optional; values may be numbers or numeric strings.
type SensorMessage struct {
	Temp store.Number `json:"temp"`
	Hum  store.Number `json:"hum"`
	Batt store.Number `json:"batt"`
	Rain store.Number `json:"rain"`

	// Timestamp is when the reading was taken (RFC 3339). The receive time
	// is used when it is missing.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Sample is a validated reading ready to be stored.
type Sample struct {
	DeviceID string
	At       time.Time
	Record   store.Record
}
