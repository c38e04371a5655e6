// 包 utils：SQLite 连接、缓存路径与 Redis 客户端工具
package utils

import (
	"context"
	"net"
	"strconv"
	"time"

	"macdb/internal/logger"

	"github.com/redis/go-redis/v9"
)

// RedisOptions：查询结果共享缓存的连接参数
type RedisOptions struct {
	Host string
	Port string
	Pass string
	DB   int
}

// Addr：host:port，端口缺省 6379
func (o RedisOptions) Addr() string {
	port := o.Port
	if port == "" {
		port = "6379"
	}
	return net.JoinHostPort(o.Host, port)
}

// OpenRedis：按参数打开 Redis 客户端
// 约束：未配置 Host 时返回 nil，调用方据此关闭共享缓存
func OpenRedis(o RedisOptions) *redis.Client {
	if o.Host == "" {
		return nil
	}
	db := o.DB
	if db < 0 {
		db = 0
	}
	logger.L().Debug("redis_open", "addr", o.Addr(), "db", db)
	return redis.NewClient(&redis.Options{
		Addr:        o.Addr(),
		Password:    o.Pass,
		DB:          db,
		DialTimeout: 2 * time.Second,
		ReadTimeout: time.Second,
	})
}

// PingRedis：探活；失败时关闭客户端并返回 nil，CLI 不因共享缓存不可用而失败
func PingRedis(ctx context.Context, c *redis.Client) *redis.Client {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		logger.L().Warn("redis_unavailable", "addr", c.Options().Addr, "err", err)
		_ = c.Close()
		return nil
	}
	return c
}

// ParseRedisDB：REDIS_DB 解析失败或为负时回退 0
func ParseRedisDB(s string) int {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return 0
}
