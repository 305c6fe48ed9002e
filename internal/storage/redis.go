package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"remindbot/internal/clock"
	"remindbot/pkg/logx"
)

type redisStore struct {
	cli    *redis.Client
	prefix string
	ttl    time.Duration
	log    logx.Logger
}

// openRedis accepts either "host:port" or a redis:// URL in cfg.Path.
func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Path)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		o, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		opts = o
	} else {
		opts = &redis.Options{Addr: addr}
	}
	opts.DialTimeout = cfg.ConnectTimeout

	cli := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := cli.Ping(pctx).Err(); err != nil {
		_ = cli.Close()
		return nil, err
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &redisStore{cli: cli, prefix: prefix, ttl: cfg.TTL, log: log}, nil
}

func (s *redisStore) key(date clock.Date) string { return s.prefix + date.String() }

func (s *redisStore) Completed(ctx context.Context, date clock.Date) (bool, error) {
	n, err := s.cli.Exists(ctx, s.key(date)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) MarkCompleted(ctx context.Context, date clock.Date, at time.Time) error {
	// SETNX keeps the first completion time.
	return s.cli.SetNX(ctx, s.key(date), at.UTC().Format(time.RFC3339Nano), s.ttl).Err()
}

func (s *redisStore) Close() error { return s.cli.Close() }
