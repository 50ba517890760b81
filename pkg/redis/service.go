package redis

import (
	"context"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyType namespaces the keys this process writes so several services
// can share one Redis instance.
type KeyType string

const (
	FUNNEL_CONFIG KeyType = "astra_sip_funnel_config"
	CALL_SESSION  KeyType = "astra_sip_call_session"
)

const dialTimeout = 5 * time.Second

// ErrKeyNotExist is returned by GetValue for missing keys.
var ErrKeyNotExist = redis.Nil

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RedisServiceInterface interface {
	GenerateKey(keyType KeyType, identifier string) string
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key string, value string, ttl time.Duration) error
	DelValue(ctx context.Context, key string) error
}

type RedisService struct {
	client *redis.Client
}

// NewRedisService connects to Redis and verifies the connection with a
// ping before returning.
func NewRedisService(config *RedisConfig) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisService{client: client}, nil
}

func (r *RedisService) GenerateKey(keyType KeyType, identifier string) string {
	return string(keyType) + ":" + identifier
}

func (r *RedisService) GetValue(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

// SetValue stores value under key; ttl 0 means no expiry.
func (r *RedisService) SetValue(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisService) DelValue(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisService) Close() error {
	return r.client.Close()
}
