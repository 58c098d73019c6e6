package main

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"meteo-dashboard/services/internal/store"
)

// Physical bounds of a plausible reading. Anything outside is a sensor fault.
const (
	minTemp = -60.0
	maxTemp = 70.0
	minHum  = 0.0
	maxHum  = 100.0
)

// ErrRejected marks a message that is dropped without being stored.
var ErrRejected = errors.New("message rejected")

func reject(format string, args ...any) error {
	return errors.Wrapf(ErrRejected, format, args...)
}

// deviceFromTopic returns the last topic level, e.g. "salon" for
// "sensors/salon".
func deviceFromTopic(topic string) (string, error) {
	i := strings.LastIndex(topic, "/")
	id := topic[i+1:]
	if id == "" || strings.ContainsAny(id, "+#") {
		return "", reject("no device id in topic %q", topic)
	}
	return id, nil
}

// ProcessMessage turns one MQTT message into a sample. received is used when
// the payload carries no timestamp; either way the sample time is read in loc.
func ProcessMessage(topic string, payload []byte, received time.Time, loc *time.Location) (Sample, error) {
	// 1. Which device
	deviceID, err := deviceFromTopic(topic)
	if err != nil {
		return Sample{}, err
	}

	// 2. Parsing
	var msg SensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Sample{}, reject("payload %q is not valid JSON: %v", string(payload), err)
	}
	if !msg.Temp.Valid && !msg.Hum.Valid && !msg.Batt.Valid && !msg.Rain.Valid {
		return Sample{}, reject("payload from %s carries no measurement", deviceID)
	}

	// 3. Bounds
	if msg.Temp.Valid && (msg.Temp.Value < minTemp || msg.Temp.Value > maxTemp) {
		return Sample{}, reject("temperature %.2f outside [%.0f, %.0f] for %s", msg.Temp.Value, minTemp, maxTemp, deviceID)
	}
	if msg.Hum.Valid && (msg.Hum.Value < minHum || msg.Hum.Value > maxHum) {
		return Sample{}, reject("humidity %.2f outside [%.0f, %.0f] for %s", msg.Hum.Value, minHum, maxHum, deviceID)
	}

	// 4. Sample time
	at := received
	if msg.Timestamp != nil {
		at = *msg.Timestamp
	}
	if loc != nil {
		at = at.In(loc)
	}

	return Sample{
		DeviceID: deviceID,
		At:       at,
		Record: store.Record{
			Temp: msg.Temp,
			Hum:  msg.Hum,
			Batt: msg.Batt,
			Rain: msg.Rain,
		},
	}, nil
}
