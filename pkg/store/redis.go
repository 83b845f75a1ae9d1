package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xhad/webrag/internal/models"
)

type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration // 0 keeps entries until cleared
}

// RedisStore shares fetched pages between processes.
type RedisStore struct {
	config RedisStoreConfig
	client *redis.Client
}

func NewRedisStore(ctx context.Context, config RedisStoreConfig) (*RedisStore, error) {
	if config.Prefix == "" {
		config.Prefix = "webrag:content"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{config: config, client: client}, nil
}

func (rs *RedisStore) key(url string) string {
	return fmt.Sprintf("%s:%s", rs.config.Prefix, url)
}

func (rs *RedisStore) Get(ctx context.Context, url string) (models.WebContent, bool, error) {
	val, err := rs.client.Get(ctx, rs.key(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.WebContent{}, false, nil
	}
	if err != nil {
		return models.WebContent{}, false, fmt.Errorf("failed to load %s: %w", url, err)
	}

	var content models.WebContent
	if err := json.Unmarshal(val, &content); err != nil {
		return models.WebContent{}, false, fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return content, true, nil
}

func (rs *RedisStore) Put(ctx context.Context, content models.WebContent) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", content.URL, err)
	}
	if err := rs.client.Set(ctx, rs.key(content.URL), data, rs.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", content.URL, err)
	}
	return nil
}

func (rs *RedisStore) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := rs.client.Scan(ctx, 0, rs.config.Prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

func (rs *RedisStore) Clear(ctx context.Context) error {
	keys, err := rs.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := rs.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear content: %w", err)
	}
	return nil
}

// GetAll returns stored pages ordered by fetch time.
func (rs *RedisStore) GetAll(ctx context.Context) ([]models.WebContent, error) {
	keys, err := rs.keys(ctx)
	if err != nil {
		return nil, err
	}

	all := []models.WebContent{}
	if len(keys) == 0 {
		return all, nil
	}

	vals, err := rs.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	for _, val := range vals {
		s, ok := val.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var content models.WebContent
		if err := json.Unmarshal([]byte(s), &content); err != nil {
			return nil, fmt.Errorf("failed to decode content: %w", err)
		}
		all = append(all, content)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

func (rs *RedisStore) Close() {
	rs.client.Close()
}
