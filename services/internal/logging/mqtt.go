package logging

import (
	"bytes"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopicPrefix is where services publish their log lines.
const DefaultTopicPrefix = "logs"

// MQTTClient is the part of mqtt.Client the writer needs.
type MQTTClient interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTWriter forwards each log line to <prefix>/<service>. Publishing is
// fire-and-forget; lines written while the broker is away are dropped.
type MQTTWriter struct {
	client MQTTClient
	topic  string
}

// NewMQTTWriter publishes on prefix/service.
func NewMQTTWriter(client MQTTClient, prefix, service string) *MQTTWriter {
	return &MQTTWriter{client: client, topic: prefix + "/" + service}
}

// Topic is the topic lines are published on.
func (w *MQTTWriter) Topic() string { return w.topic }

// Write publishes p without its trailing newline and never fails.
func (w *MQTTWriter) Write(p []byte) (int, error) {
	if !w.client.IsConnectionOpen() {
		return len(p), nil
	}
	// p is reused by the handler once Write returns.
	payload := bytes.TrimRight(bytes.Clone(p), "\n")
	w.client.Publish(w.topic, 0, false, payload)
	return len(p), nil
}
