package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldwire/modgate/internal/model"
)

// ValueMirror republishes the gateway core's last-known-value map into
// Redis so multiple façade replicas observe the same (device_id,
// tag_id) -> value state without each replica needing its own worker
// fleet.
type ValueMirror struct {
	client *redis.Client
	prefix string
	ttl time.Duration
}

// RedisMirrorConfig holds the mirror's connection settings.
type RedisMirrorConfig struct {
	Addr string
	Password string
	DB int
	KeyPrefix string
	DefaultTTL time.Duration // 0 = no expiry
}

// NewValueMirror dials Redis and verifies connectivity with a Ping.
func NewValueMirror(cfg RedisMirrorConfig) (*ValueMirror, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "modgate"
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		Password: cfg.Password,
		DB: cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage: connect to redis: %w", err)
	}

	return &ValueMirror{client: client, prefix: cfg.KeyPrefix, ttl: cfg.DefaultTTL}, nil
}

// SetValue mirrors one tag's value.
func (m *ValueMirror) SetValue(ctx context.Context, deviceID, tagID string, v model.Value) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal value: %w", err)
	}
	key := m.key(deviceID, tagID)
	if err := m.client.Set(ctx, key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("storage: set %s: %w", key, err)
	}
	return nil
}

// GetValue retrieves one mirrored tag value. Returns model.Null() with
// no error if the key is absent.
func (m *ValueMirror) GetValue(ctx context.Context, deviceID, tagID string) (model.Value, error) {
	key := m.key(deviceID, tagID)
	raw, err := m.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return model.Null(), nil
	}
	if err != nil {
		return model.Null(), fmt.Errorf("storage: get %s: %w", key, err)
	}
	var v model.Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return model.Null(), fmt.Errorf("storage: unmarshal %s: %w", key, err)
	}
	return v, nil
}

// GetAllForDevice scans every mirrored tag for one device.
func (m *ValueMirror) GetAllForDevice(ctx context.Context, deviceID string) (map[string]model.Value, error) {
	pattern := fmt.Sprintf("%s:value:%s:*", m.prefix, deviceID)
	prefix := fmt.Sprintf("%s:value:%s:", m.prefix, deviceID)

	result := make(map[string]model.Value)
	var cursor uint64
	for {
		keys, next, err := m.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("storage: scan %s: %w", pattern, err)
		}
		for _, key := range keys {
			raw, err := m.client.Get(ctx, key).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("storage: get %s: %w", key, err)
			}
			var v model.Value
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				continue
			}
			result[key[len(prefix):]] = v
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return result, nil
}

// DeleteDevice removes every mirrored tag for a device, used when a
// device is removed from config.
func (m *ValueMirror) DeleteDevice(ctx context.Context, deviceID string) error {
	pattern := fmt.Sprintf("%s:value:%s:*", m.prefix, deviceID)
	var cursor uint64
	for {
		keys, next, err := m.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("storage: scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := m.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("storage: delete keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (m *ValueMirror) key(deviceID, tagID string) string {
	return mirrorKey(m.prefix, deviceID, tagID)
}

func mirrorKey(prefix, deviceID, tagID string) string {
	return fmt.Sprintf("%s:value:%s:%s", prefix, deviceID, tagID)
}

// Close closes the Redis connection.
func (m *ValueMirror) Close() error {
	return m.client.Close()
}

// Ping tests the Redis connection.
func (m *ValueMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
