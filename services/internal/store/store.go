// Package store is the thin contract over the Redis/Valkey instance that holds
// the samples. Every logical query is batched into as few round trips as
// possible; nothing is cached here.
//
// Layout:
//
//	devices                  SET of device ids
//	<deviceId>               HASH label, tempColor, humColor
//	device:<deviceId>:data   ZSET of JSON samples scored by Unix seconds
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"meteo-dashboard/services/internal/metrics"
	"meteo-dashboard/services/internal/timekey"
)

const (
	// DevicesKey is the set of known device ids.
	DevicesKey = "devices"

	// DefaultFieldBatchSize bounds the number of hashes read per round trip.
	DefaultFieldBatchSize = 50
)

// DataKey returns the sorted set holding a device's samples.
func DataKey(deviceID string) string {
	return "device:" + deviceID + ":data"
}

// MetaKey returns the hash holding a device's display attributes.
func MetaKey(deviceID string) string {
	return deviceID
}

// ErrUnavailable is matched (errors.Is) by every store I/O failure.
var ErrUnavailable = errors.New("store unavailable")

// UnavailableError wraps a failed round trip.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUnavailable) match.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Store batches sample and metadata access over a Redis client.
type Store struct {
	rdb            redis.Cmdable
	fieldBatchSize int
	logger         *slog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithFieldBatchSize sets how many hashes BatchGetFields reads per round trip.
func WithFieldBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.fieldBatchSize = n
		}
	}
}

// WithLogger sets the logger used for debug traces of round trips.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wraps a Redis client (or anything implementing redis.Cmdable).
func New(rdb redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		rdb:            rdb,
		fieldBatchSize: DefaultFieldBatchSize,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	err := s.rdb.Ping(ctx).Err()
	s.observe("ping", err)
	if err != nil {
		return &UnavailableError{Op: "ping", Err: err}
	}
	return nil
}

// ListDevices returns the known device ids, sorted.
func (s *Store) ListDevices(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, DevicesKey).Result()
	s.observe("smembers", err)
	if err != nil {
		return nil, &UnavailableError{Op: "list devices", Err: err}
	}
	sort.Strings(ids)
	s.logger.Debug("store round trip", "op", "smembers", "devices", len(ids))
	return ids, nil
}

// RangeQuery returns one device's raw members with a score in [start, end].
// Absent hours are simply missing.
func (s *Store) RangeQuery(ctx context.Context, deviceID string, start, end time.Time) ([]string, error) {
	members, err := s.rdb.ZRangeByScore(ctx, DataKey(deviceID), scoreRange(start, end)).Result()
	s.observe("zrangebyscore", err)
	if err != nil {
		return nil, &UnavailableError{Op: "range query " + deviceID, Err: err}
	}
	return members, nil
}

// BatchRangeQuery runs RangeQuery for every device in one pipelined round
// trip. Per device, members keep the order the store returned them in.
// Any failed command fails the whole call.
func (s *Store) BatchRangeQuery(ctx context.Context, deviceIDs []string, start, end time.Time) (map[string][]string, error) {
	out := make(map[string][]string, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return out, nil
	}

	rng := scoreRange(start, end)
	cmds := make([]*redis.StringSliceCmd, len(deviceIDs))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range deviceIDs {
			cmds[i] = pipe.ZRangeByScore(ctx, DataKey(id), rng)
		}
		return nil
	})

	var merr *multierror.Error
	for i, cmd := range cmds {
		if cerr := cmd.Err(); cerr != nil {
			merr = multierror.Append(merr, errors.Wrapf(cerr, "device %s", deviceIDs[i]))
		}
	}
	if merr == nil && err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := merr.ErrorOrNil(); err != nil {
		s.observe("pipeline_zrangebyscore", err)
		return nil, &UnavailableError{Op: "batch range query", Err: err}
	}
	s.observe("pipeline_zrangebyscore", nil)

	total := 0
	for i, id := range deviceIDs {
		out[id] = cmds[i].Val()
		total += len(out[id])
	}
	s.logger.Debug("store round trip",
		"op", "pipeline_zrangebyscore",
		"devices", len(deviceIDs),
		"points", total,
		"from", start.Unix(),
		"to", end.Unix(),
	)
	return out, nil
}

// BatchGetFields reads the given fields of every hash in keys. The result is
// positionally aligned with keys; a missing hash or field is simply absent
// from its map. Keys are read in chunks of the configured batch size, one
// round trip per chunk. A failed chunk fails the whole call.
func (s *Store) BatchGetFields(ctx context.Context, keys, fields []string) ([]map[string]string, error) {
	out := make([]map[string]string, 0, len(keys))
	if len(fields) == 0 {
		for range keys {
			out = append(out, map[string]string{})
		}
		return out, nil
	}

	for lo := 0; lo < len(keys); lo += s.fieldBatchSize {
		hi := min(lo+s.fieldBatchSize, len(keys))
		chunk := keys[lo:hi]

		cmds := make([]*redis.SliceCmd, len(chunk))
		_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, key := range chunk {
				cmds[i] = pipe.HMGet(ctx, key, fields...)
			}
			return nil
		})

		var merr *multierror.Error
		for i, cmd := range cmds {
			if cerr := cmd.Err(); cerr != nil {
				merr = multierror.Append(merr, errors.Wrapf(cerr, "hash %s", chunk[i]))
			}
		}
		if merr == nil && err != nil {
			merr = multierror.Append(merr, err)
		}
		if err := merr.ErrorOrNil(); err != nil {
			s.observe("pipeline_hmget", err)
			return nil, &UnavailableError{Op: fmt.Sprintf("batch get fields (keys %d-%d)", lo, hi-1), Err: err}
		}
		s.observe("pipeline_hmget", nil)

		for _, cmd := range cmds {
			values := cmd.Val()
			m := make(map[string]string, len(fields))
			for j, field := range fields {
				if j >= len(values) {
					break
				}
				if v, ok := values[j].(string); ok {
					m[field] = v
				}
			}
			out = append(out, m)
		}
		s.logger.Debug("store round trip", "op", "pipeline_hmget", "keys", len(chunk))
	}
	return out, nil
}

// SetField sets one field of a hash.
func (s *Store) SetField(ctx context.Context, key, field, value string) error {
	err := s.rdb.HSet(ctx, key, field, value).Err()
	s.observe("hset", err)
	if err != nil {
		return &UnavailableError{Op: "set field " + key + "." + field, Err: err}
	}
	return nil
}

// AddSample stores rec as the device's sample for the hour containing at.
// A sample already stored for that hour is replaced. The device is added to
// the device set and gets its id as label if it has none yet. All of it runs
// in one MULTI/EXEC.
func (s *Store) AddSample(ctx context.Context, deviceID string, at time.Time, rec Record) error {
	hour := timekey.Hour(at)
	rec.Datetime = timekey.Encode(hour)
	member, err := rec.Encode()
	if err != nil {
		return err
	}
	score := strconv.FormatInt(hour.Unix(), 10)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, DataKey(deviceID), score, score)
		pipe.ZAdd(ctx, DataKey(deviceID), redis.Z{Score: float64(hour.Unix()), Member: member})
		pipe.SAdd(ctx, DevicesKey, deviceID)
		pipe.HSetNX(ctx, MetaKey(deviceID), "label", deviceID)
		return nil
	})
	s.observe("tx_add_sample", err)
	if err != nil {
		return &UnavailableError{Op: "add sample " + deviceID, Err: err}
	}
	return nil
}

func (s *Store) observe(op string, err error) {
	metrics.StoreRoundTrips.WithLabelValues(op, metrics.Status(err)).Inc()
}

func scoreRange(start, end time.Time) *redis.ZRangeBy {
	return &redis.ZRangeBy{
		Min: strconv.FormatInt(start.Unix(), 10),
		Max: strconv.FormatInt(end.Unix(), 10),
	}
}
