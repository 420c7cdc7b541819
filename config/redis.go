package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMain publishes deltas; RedisSub holds the relay's pattern subscription.
var (
	RedisMain *redis.Client
	RedisSub  *redis.Client
)

func (s RedisSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func ConnectRedis(ctx context.Context, s RedisSettings) error {
	addr := s.Addr()

	RedisMain = redis.NewClient(&redis.Options{
		Addr:            addr,
		MaxRetries:      5,
		DialTimeout:     10 * time.Second,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		PoolSize:        20,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	// a subscription pins one connection and blocks on reads
	RedisSub = redis.NewClient(&redis.Options{
		Addr:         addr,
		MaxRetries:   3,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  -1,
		MinIdleConns: 1,
	})

	if err := RedisMain.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis main ping: %w", err)
	}
	if err := RedisSub.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis sub ping: %w", err)
	}

	log.Println("✅ Redis connected (Main, Sub)")
	return nil
}

func CloseRedis() {
	if RedisMain != nil {
		RedisMain.Close()
	}
	if RedisSub != nil {
		RedisSub.Close()
	}
	log.Println("✅ Redis connections closed")
}
