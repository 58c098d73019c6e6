package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"meteo-dashboard/services/internal/metrics"
)

// Persister handles the messages of the input topic.
type Persister struct {
	repo         *Repository
	loc          *time.Location
	now          func() time.Time
	logger       *slog.Logger
	writeTimeout time.Duration
}

// NewPersister returns a persister writing through repo; sample hours are
// read in loc.
func NewPersister(repo *Repository, loc *time.Location, logger *slog.Logger) *Persister {
	return &Persister{
		repo:         repo,
		loc:          loc,
		now:          time.Now,
		logger:       logger,
		writeTimeout: 5 * time.Second,
	}
}

// Handle validates and stores one message. A rejected message is logged and
// dropped; it never stops the subscription.
func (p *Persister) Handle(ctx context.Context, topic string, payload []byte) error {
	sample, err := ProcessMessage(topic, payload, p.now(), p.loc)
	if err != nil {
		metrics.SamplesIngested.WithLabelValues("rejected").Inc()
		p.logger.Warn("message rejected", "topic", topic, "reason", err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	if err := p.repo.SaveSample(ctx, sample); err != nil {
		metrics.SamplesIngested.WithLabelValues("failed").Inc()
		p.logger.Error("failed to store sample", "device", sample.DeviceID, "error", err)
		return errors.Wrap(err, "save sample")
	}

	metrics.SamplesIngested.WithLabelValues("stored").Inc()
	p.logger.Debug("sample stored", "device", sample.DeviceID, "at", sample.At)
	return nil
}
