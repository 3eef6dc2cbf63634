package redis

import (
	"context"
	"fmt"
	"time"

	"wisefido-attendance/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端类型别名
type Client = redis.Client

// NewRedisClient 创建Redis客户端（本地持久化存储，超时按本机连接设置）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s unreachable: %w", client.Options().Addr, err)
	}
	return nil
}

// WaitReady 设备开机时 redis 可能晚于本进程就绪：在 ctx 截止前按 interval 重试 Ping
func WaitReady(ctx context.Context, client *redis.Client, interval time.Duration) error {
	for {
		err := Ping(ctx, client)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(interval):
		}
	}
}

// Close 关闭Redis连接；nil 安全
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
