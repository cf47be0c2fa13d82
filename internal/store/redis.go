package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tge-sentinel/internal/model"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
	// MaxAlerts caps the alert list. Default: 1000.
	MaxAlerts int `yaml:"max_alerts" mapstructure:"max_alerts"`
}

// RedisStore implements Store on Redis. Each namespace's SeenSet is a sorted
// set scored by first-seen unix milliseconds; source records live in one
// hash as JSON; alerts are a capped list, newest first.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	maxAlerts int64
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}
	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "tge:"
	}
	maxAlerts := cfg.MaxAlerts
	if maxAlerts <= 0 {
		maxAlerts = 1000
	}
	return &RedisStore{client: client, prefix: prefix, maxAlerts: int64(maxAlerts)}
}

func (s *RedisStore) seenKey(namespace string) string { return s.prefix + "seen:" + namespace }
func (s *RedisStore) namespacesKey() string         { return s.prefix + "namespaces" }
func (s *RedisStore) sourcesKey() string            { return s.prefix + "sources" }
func (s *RedisStore) alertsKey() string             { return s.prefix + "alerts" }
func (s *RedisStore) alertIDsKey() string           { return s.prefix + "alert_ids" }

func (s *RedisStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.client.Ping(ctx).Err(), "redis: ping")
}

// Migrate is a no-op beyond a connectivity check; Redis needs no schema.
func (s *RedisStore) Migrate(ctx context.Context) error {
	return s.Ping(ctx)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SaveSeen(ctx context.Context, namespace string, entries []model.SeenEntry) error {
	members := make([]redis.Z, len(entries))
	for i, e := range entries {
		members[i] = redis.Z{Score: float64(e.SeenAt.UnixMilli()), Member: e.Key}
	}

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		key := s.seenKey(namespace)
		p.Del(ctx, key)
		if len(members) > 0 {
			p.ZAdd(ctx, key, members...)
		}
		p.SAdd(ctx, s.namespacesKey(), namespace)
		return nil
	})
	return eris.Wrapf(err, "redis: save seen %s", namespace)
}

func (s *RedisStore) LoadSeen(ctx context.Context, namespace string) ([]model.SeenEntry, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.seenKey(namespace), 0, -1).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "redis: load seen %s", namespace)
	}
	entries := make([]model.SeenEntry, 0, len(zs))
	for _, z := range zs {
		key, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, model.SeenEntry{
			Key:    key,
			SeenAt: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return entries, nil
}

func (s *RedisStore) Namespaces(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namespacesKey()).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: list namespaces")
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStore) SaveSources(ctx context.Context, records []model.SourceRecord) error {
	values := make([]any, 0, len(records)*2)
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrapf(err, "redis: marshal source %s", r.SourceID)
		}
		values = append(values, r.SourceID, string(data))
	}

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.sourcesKey())
		if len(values) > 0 {
			p.HSet(ctx, s.sourcesKey(), values...)
		}
		return nil
	})
	return eris.Wrap(err, "redis: save sources")
}

func (s *RedisStore) LoadSources(ctx context.Context) ([]model.SourceRecord, error) {
	raw, err := s.client.HGetAll(ctx, s.sourcesKey()).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: load sources")
	}
	out := make([]model.SourceRecord, 0, len(raw))
	for id, data := range raw {
		var r model.SourceRecord
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, eris.Wrapf(err, "redis: unmarshal source %s", id)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (s *RedisStore) DeleteSource(ctx context.Context, sourceID string) error {
	n, err := s.client.HDel(ctx, s.sourcesKey(), sourceID).Result()
	if err != nil {
		return eris.Wrapf(err, "redis: delete source %s", sourceID)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "source %s", sourceID)
	}
	return nil
}

func (s *RedisStore) SaveAlerts(ctx context.Context, alerts []AlertRecord) error {
	for _, a := range alerts {
		added, err := s.client.SAdd(ctx, s.alertIDsKey(), a.ID).Result()
		if err != nil {
			return eris.Wrapf(err, "redis: record alert id %s", a.ID)
		}
		if added == 0 {
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			return eris.Wrapf(err, "redis: marshal alert %s", a.ID)
		}
		_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LPush(ctx, s.alertsKey(), data)
			p.LTrim(ctx, s.alertsKey(), 0, s.maxAlerts-1)
			return nil
		})
		if err != nil {
			return eris.Wrapf(err, "redis: push alert %s", a.ID)
		}
	}
	return nil
}

func (s *RedisStore) ListAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	raw, err := s.client.LRange(ctx, s.alertsKey(), 0, int64(alertLimit(limit))-1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: list alerts")
	}
	out := make([]AlertRecord, 0, len(raw))
	for i, data := range raw {
		var a AlertRecord
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, eris.Wrapf(err, "redis: unmarshal alert at index %d", i)
		}
		out = append(out, a)
	}
	return out, nil
}
