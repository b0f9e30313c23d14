package cachestore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig mirrors the teacher's connection settings for the data-plane
// Redis client.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisStore implements Store against a single go-redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials Redis and verifies the connection, in the style of
// the teacher's NewRedisRepository.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cachestore: redis connection test failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func wrapTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
}

func (s *RedisStore) HSetAll(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	data := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		data[k] = v
	}
	if err := s.client.HSet(ctx, key, data).Err(); err != nil {
		return wrapTransient("HSetAll", err)
	}
	return nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	data, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapTransient("HGetAll", err)
	}
	return data, nil
}

func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	v, err := s.client.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, wrapTransient("HIncrBy", err)
	}
	return v, nil
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, wrapTransient("SAdd", err)
	}
	return n > 0, nil
}

func (s *RedisStore) SRem(ctx context.Context, key, member string) error {
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return wrapTransient("SRem", err)
	}
	return nil
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrapTransient("SMembers", err)
	}
	return members, nil
}

func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrapTransient("SIsMember", err)
	}
	return ok, nil
}

func (s *RedisStore) LPush(ctx context.Context, key, value string) error {
	if err := s.client.LPush(ctx, key, value).Err(); err != nil {
		return wrapTransient("LPush", err)
	}
	return nil
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := s.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return wrapTransient("LTrim", err)
	}
	return nil
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrapTransient("LRange", err)
	}
	return values, nil
}

func (s *RedisStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapTransient("SetTTL", err)
	}
	return nil
}

func (s *RedisStore) GetDel(ctx context.Context, key string) (string, bool, error) {
	// GET and DEL run inside one MULTI/EXEC transaction, so no other
	// client can set or read the key between the two commands. This works
	// on servers without the native GETDEL command.
	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && err != redis.Nil {
		return "", false, wrapTransient("GetDel", err)
	}
	val, err := get.Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapTransient("GetDel", err)
	}
	return val, true, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapTransient("Exists", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return wrapTransient("Expire", err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapTransient("SetNX", err)
	}
	return ok, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
