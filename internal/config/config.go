// 包 config：从环境变量（含 .env）读取运行配置，未设置或非法的值回退到默认
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"macdb/internal/ingest"
	"macdb/internal/logger"
	"macdb/internal/utils"

	"github.com/joho/godotenv"
)

// Config：一次运行所需的全部配置
type Config struct {
	CachePath    string
	FeedURL      string
	FeedMaxBytes int64
	HTTPTimeout  time.Duration
	Redis        utils.RedisOptions
	MemoTTL      time.Duration
	LogLevel     string
	LogFormat    string
}

// Default：不读取环境时的默认值
func Default() Config {
	return Config{
		CachePath:    utils.DefaultCachePath(),
		FeedURL:      ingest.DefaultURL,
		FeedMaxBytes: ingest.MaxFeedBytes,
		HTTPTimeout:  30 * time.Second,
		MemoTTL:      24 * time.Hour,
		LogLevel:     "warn",
		LogFormat:    "text",
	}
}

// Load：加载 .env 文件后读取环境变量
// 背景：与默认缓存目录同处的 .env 便于在不改 shell 环境的情况下固定配置
// 约束：.env 不会覆盖已存在的环境变量；文件缺失不视为错误
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", filepath.Join(filepath.Dir(utils.DefaultCachePath()), ".env")}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			logger.L().Warn("env_file_error", "file", f, "err", err)
		}
	}
	cfg := FromEnv()
	return cfg, cfg.Validate()
}

// FromEnv：只读取当前环境变量
func FromEnv() Config {
	cfg := Default()
	if v := os.Getenv("MACDB_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("MACDB_FEED_URL"); v != "" {
		cfg.FeedURL = v
	}
	if v := os.Getenv("MACDB_FEED_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.FeedMaxBytes = n
		}
	}
	cfg.HTTPTimeout = durationEnv("MACDB_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.MemoTTL = durationEnv("MACDB_MEMO_TTL", cfg.MemoTTL)
	cfg.Redis = utils.RedisOptions{
		Host: os.Getenv("REDIS_HOST"),
		Port: os.Getenv("REDIS_PORT"),
		Pass: os.Getenv("REDIS_PASS"),
		DB:   utils.ParseRedisDB(os.Getenv("REDIS_DB")),
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	return cfg
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return def
}

// Validate：只检查无法回退的项
func (c Config) Validate() error {
	var errs []error
	if c.CachePath == "" {
		errs = append(errs, errors.New("cache path is empty"))
	}
	if c.FeedMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("feed size limit must be positive, got %d", c.FeedMaxBytes))
	}
	return errors.Join(errs...)
}
