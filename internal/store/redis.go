package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"chargeamps/internal/coordinator"
	"chargeamps/internal/metrics"
	"chargeamps/pkg/config"
)

// RedisStore mirrors the last published snapshot into Redis so other
// processes, and `chargepoints list --cached`, can read it without an eAPI
// round trip. Each charge point is a JSON string under <prefix>:chargepoint:<id>
// and <prefix>:chargepoints is the set of ids.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects using the redis section of the configuration
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL)
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "chargeamps"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":chargepoints"
}

func (s *RedisStore) chargePointKey(id string) string {
	return s.prefix + ":chargepoint:" + id
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SaveSnapshot replaces the mirrored snapshot in one MULTI/EXEC transaction.
// Charge points that disappeared since the previous save are deleted.
func (s *RedisStore) SaveSnapshot(ctx context.Context, snap coordinator.Snapshot) error {
	previous, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read snapshot index: %w", err)
	}

	payloads := make(map[string][]byte, len(snap))
	for id, cp := range snap {
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to encode charge point %s: %w", id, err)
		}
		payloads[id] = data
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range previous {
			if _, ok := snap[id]; !ok {
				pipe.Del(ctx, s.chargePointKey(id))
			}
		}
		pipe.Del(ctx, s.indexKey())
		for id, data := range payloads {
			pipe.Set(ctx, s.chargePointKey(id), data, s.ttl)
			pipe.SAdd(ctx, s.indexKey(), id)
		}
		if s.ttl > 0 && len(payloads) > 0 {
			pipe.Expire(ctx, s.indexKey(), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the mirrored snapshot. Entries whose key expired or
// cannot be decoded are left out.
func (s *RedisStore) LoadSnapshot(ctx context.Context) (coordinator.Snapshot, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read snapshot index: %w", err)
	}

	snap := make(coordinator.Snapshot, len(ids))
	if len(ids) == 0 {
		return snap, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.chargePointKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read charge points: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var cp coordinator.ChargePoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			log.Warn().Err(err).Str("charge_point_id", ids[i]).Msg("Skipping undecodable mirrored charge point")
			continue
		}
		snap[cp.ID] = cp
	}
	return snap, nil
}

// Run mirrors every refreshed or patched snapshot until updates is closed or
// ctx is done. Failed refreshes are skipped since the snapshot is unchanged.
func (s *RedisStore) Run(ctx context.Context, updates <-chan coordinator.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Kind == coordinator.UpdateFailed {
				continue
			}
			if err := s.SaveSnapshot(ctx, u.Snapshot); err != nil {
				metrics.StoreWritesTotal.WithLabelValues("failure").Inc()
				log.Warn().Err(err).Msg("Failed to mirror snapshot to redis")
				continue
			}
			metrics.StoreWritesTotal.WithLabelValues("success").Inc()
			log.Debug().Int("charge_points", len(u.Snapshot)).Str("kind", string(u.Kind)).Msg("Snapshot mirrored to redis")
		}
	}
}
