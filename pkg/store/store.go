package store

import (
	"context"
	"fmt"
	"time"

	"github.com/xhad/webrag/internal/types"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Backend       string
	DatabaseURL   string
	TableName     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	TTL           time.Duration
}

// New opens the content store named by config.Backend. The returned close
// function releases any connection and is never nil.
func New(ctx context.Context, config Config) (types.ContentStore, func(), error) {
	switch config.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), func() {}, nil
	case BackendPostgres:
		ps, err := NewPostgresStore(ctx, PostgresStoreConfig{
			ConnString: config.DatabaseURL,
			TableName:  config.TableName,
		})
		if err != nil {
			return nil, nil, err
		}
		return ps, ps.Close, nil
	case BackendRedis:
		rs, err := NewRedisStore(ctx, RedisStoreConfig{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
			Prefix:   config.RedisPrefix,
			TTL:      config.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", config.Backend)
	}
}
