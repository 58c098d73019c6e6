package main

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"meteo-dashboard/services/internal/store"
	"meteo-dashboard/services/internal/timekey"
)

// SampleWriter is the store write path the dashboard reads from.
type SampleWriter interface {
	AddSample(ctx context.Context, deviceID string, at time.Time, rec store.Record) error
}

// Archiver keeps a long-term copy of every sample.
type Archiver interface {
	Archive(ctx context.Context, s Sample) error
}

// Repository writes each sample to the store (hot path for the dashboard)
// and, when configured, to the Postgres archive (cold path).
type Repository struct {
	samples SampleWriter
	archive Archiver
}

// NewRepository wires the writers; archive may be nil.
func NewRepository(samples SampleWriter, archive Archiver) *Repository {
	return &Repository{samples: samples, archive: archive}
}

// SaveSample writes s everywhere. Both writes are attempted even if the
// first fails; the returned error lists every failure.
func (r *Repository) SaveSample(ctx context.Context, s Sample) error {
	var merr *multierror.Error

	// A. Store (what the dashboard reads)
	if err := r.samples.AddSample(ctx, s.DeviceID, s.At, s.Record); err != nil {
		merr = multierror.Append(merr, err)
	}

	// B. Archive
	if r.archive != nil {
		if err := r.archive.Archive(ctx, s); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

const createArchiveTable = `
	CREATE TABLE IF NOT EXISTS sensor_samples (
		time      TIMESTAMPTZ      NOT NULL,
		device_id TEXT             NOT NULL,
		temp      DOUBLE PRECISION,
		hum       DOUBLE PRECISION,
		batt      DOUBLE PRECISION,
		rain      DOUBLE PRECISION,
		PRIMARY KEY (device_id, time)
	)`

// The hour is the identity of a sample, as in the store: a later reading
// for the same hour replaces the earlier one.
const upsertSample = `
	INSERT INTO sensor_samples (time, device_id, temp, hum, batt, rain)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (device_id, time) DO UPDATE
	SET temp = EXCLUDED.temp, hum = EXCLUDED.hum, batt = EXCLUDED.batt, rain = EXCLUDED.rain`

// PostgresArchive stores samples in the sensor_samples table.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

// NewPostgresArchive connects, checks the connection and creates the table
// if needed.
func NewPostgresArchive(ctx context.Context, url string) (*PostgresArchive, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "postgres config")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres unreachable")
	}
	if _, err := pool.Exec(ctx, createArchiveTable); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create sensor_samples")
	}
	return &PostgresArchive{pool: pool}, nil
}

// Archive upserts the sample of its hour.
func (a *PostgresArchive) Archive(ctx context.Context, s Sample) error {
	hour := timekey.Hour(s.At)
	_, err := a.pool.Exec(ctx, upsertSample,
		hour, s.DeviceID,
		s.Record.Temp.Ptr(), s.Record.Hum.Ptr(), s.Record.Batt.Ptr(), s.Record.Rain.Ptr(),
	)
	if err != nil {
		return errors.Wrapf(err, "archive sample of %s", s.DeviceID)
	}
	return nil
}

// Close releases the pool.
func (a *PostgresArchive) Close() {
	a.pool.Close()
}
