package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HatiCode/bizcast/pkg/models"
)

const redisKeyPrefix = "bizcast:model:"

// ErrRepositoryClosed is returned by operations on a closed repository.
var ErrRepositoryClosed = errors.New("repository closed")

// RedisRepository stores artifacts in Redis so several forecaster instances
// share trained models. Artifacts do not expire; retraining overwrites them.
type RedisRepository struct {
	client *redis.Client
	mu     sync.RWMutex
}

// NewRedisRepository connects to addr and verifies the connection with a
// ping.
func NewRedisRepository(addr, password string, db int) (*RedisRepository, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisRepository{client: client}, nil
}

// conn returns the live client, or ErrRepositoryClosed after Close.
func (r *RedisRepository) conn() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, ErrRepositoryClosed
	}
	return r.client, nil
}

func redisKey(key models.Key) string {
	return redisKeyPrefix + key.String()
}

func (r *RedisRepository) Exists(ctx context.Context, key models.Key) (bool, error) {
	client, err := r.conn()
	if err != nil {
		return false, err
	}
	n, err := client.Exists(ctx, redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check artifact in redis: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRepository) Save(ctx context.Context, key models.Key, artifact *models.Artifact) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	rk := redisKey(key)
	stored, err := prepare(key, artifact, "redis://"+rk)
	if err != nil {
		return err
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	if err := client.Set(ctx, rk, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store artifact in redis: %w", err)
	}

	artifact.StoragePath = stored.StoragePath
	return nil
}

func (r *RedisRepository) Load(ctx context.Context, key models.Key) (*models.Artifact, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}
	data, err := client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &models.ModelNotFoundError{Key: key}
		}
		return nil, fmt.Errorf("failed to get artifact from redis: %w", err)
	}

	var a models.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
	}
	return &a, nil
}

// Keys scans the model keyspace. Keys that do not parse are skipped.
func (r *RedisRepository) Keys(ctx context.Context) ([]models.Key, error) {
	client, err := r.conn()
	if err != nil {
		return nil, err
	}
	var keys []models.Key
	iter := client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k, err := models.ParseKey(strings.TrimPrefix(iter.Val(), redisKeyPrefix))
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan redis keys: %w", err)
	}
	sortKeys(keys)
	return keys, nil
}

func (r *RedisRepository) Delete(ctx context.Context, key models.Key) (bool, error) {
	client, err := r.conn()
	if err != nil {
		return false, err
	}
	n, err := client.Del(ctx, redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete artifact from redis: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis client connection. It is safe to call multiple
// times.
func (r *RedisRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Ping checks the Redis connection health.
func (r *RedisRepository) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}
