package storage

// Redis 连接初始化：会话、刷新令牌、撤销黑名单、限流计数与 feed 缓存共用同一客户端。

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"clonetwitter/internal/config"
)

// InitRedis 通过 go-redis v8 连接 Redis，并做一次带超时的 Ping 验证。
func InitRedis(cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
