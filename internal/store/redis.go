package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/backlash"
	"github.com/cjeanneret/GuideGo/internal/logic/calibration"
)

// RedisOptions configures RedisStore.
type RedisOptions struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps records in Redis as JSON:
//
//	<prefix>:<key>:calibration:<id>    calibration
//	<prefix>:<key>:calibrations        list of calibration ids, newest last
//	<prefix>:<key>:tracking:<run>      list of tracking records
//	<prefix>:<key>:backlash:<id>       backlash result
//
// A disabled store accepts everything and stores nothing.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and checks the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "guidego"
	}
	if !opts.Enabled {
		debug.Info("Redis store disabled by configuration")
		return &RedisStore{prefix: prefix}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	debug.Info("Connected to Redis at %s", opts.Addr)
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Key formats a Redis key below the store prefix.
func (s *RedisStore) Key(key string, parts ...string) string {
	k := s.prefix + ":" + key
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Enabled reports whether the store talks to a server.
func (s *RedisStore) Enabled() bool {
	return s.client != nil
}

func (s *RedisStore) SaveCalibration(ctx context.Context, key string, c *calibration.Calibration) error {
	if !s.Enabled() {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode calibration: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.Key(key, "calibration", c.ID), data, 0)
	pipe.RPush(ctx, s.Key(key, "calibrations"), c.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store calibration in Redis: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadCalibration(ctx context.Context, key string) (*calibration.Calibration, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("redis store disabled: %w", guideerr.ErrNoCalibration)
	}
	id, err := s.client.LIndex(ctx, s.Key(key, "calibrations"), -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("no calibration for %s: %w", key, guideerr.ErrNoCalibration)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration list: %w", err)
	}
	data, err := s.client.Get(ctx, s.Key(key, "calibration", id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration %s: %w", id, err)
	}
	var c calibration.Calibration
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode calibration %s: %w", id, err)
	}
	return &c, nil
}

func (s *RedisStore) AppendTracking(ctx context.Context, key, run string, records ...TrackingRecord) error {
	if !s.Enabled() || len(records) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	listKey := s.Key(key, "tracking", run)
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode tracking record: %w", err)
		}
		pipe.RPush(ctx, listKey, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append tracking records: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveBacklash(ctx context.Context, key string, r *backlash.Result) error {
	if !s.Enabled() {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode backlash result: %w", err)
	}
	if err := s.client.Set(ctx, s.Key(key, "backlash", NewRunID()), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store backlash result: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	debug.Info("Redis connection closed")
	return nil
}
