package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	logx "anyarchie/pkg/logx"
)

// SeenStore is a durable record of dispatched update ids that survives
// restarts. Ids are marked only after dispatch, so an update interrupted by
// a crash is dispatched again.
type SeenStore interface {
	Seen(ctx context.Context, token string, id int64) (bool, error)
	MarkSeen(ctx context.Context, token string, id int64) error
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisSeenStore keeps one key per dispatched update with a TTL.
type RedisSeenStore struct {
	rdb *redis.Client
	ttl time.Duration
	log logx.Logger
}

// NewRedisSeenStore connects and pings Redis.
func NewRedisSeenStore(ctx context.Context, cfg RedisConfig, log logx.Logger) (*RedisSeenStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisSeenStoreFromClient(rdb, cfg.TTL, log), nil
}

func NewRedisSeenStoreFromClient(rdb *redis.Client, ttl time.Duration, log logx.Logger) *RedisSeenStore {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisSeenStore{rdb: rdb, ttl: ttl, log: log.Component("ingest.redis")}
}

// Keys use the token fingerprint so raw tokens never reach Redis.
func (s *RedisSeenStore) key(token string, id int64) string {
	return fmt.Sprintf("seen:%s:%d", logx.Fingerprint(token), id)
}

func (s *RedisSeenStore) Seen(ctx context.Context, token string, id int64) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(token, id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisSeenStore) MarkSeen(ctx context.Context, token string, id int64) error {
	if err := s.rdb.SetNX(ctx, s.key(token, id), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}

func (s *RedisSeenStore) Close() error { return s.rdb.Close() }
