package main

// DeviceDTO is one entry of the device list shown in the device picker.
type DeviceDTO struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ErrorDTO is the body of a 4xx answer.
type ErrorDTO struct {
	Error string `json:"error"`
}

// HealthDTO is the body of GET /health.
type HealthDTO struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}
