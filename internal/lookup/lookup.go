// 包 lookup：查询门面，先查共享结果缓存（Redis），未命中再查本地缓存库并回填
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"macdb/internal/logger"
	"macdb/internal/metrics"
	"macdb/internal/prefix"
	"macdb/internal/vendor"

	"github.com/redis/go-redis/v9"
)

// ErrMiss：结果缓存未命中
var ErrMiss = errors.New("memo miss")

// Finder：store.ReadCache / store.WriteCache 提供的查询能力
type Finder interface {
	FindByAddress(ctx context.Context, addrs ...string) ([]vendor.Vendor, error)
	FindByName(ctx context.Context, names ...string) ([]vendor.Vendor, error)
	Generation() string
}

// Memo：结果缓存
type Memo interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
}

// RedisMemo：基于 go-redis 的 Memo
type RedisMemo struct {
	c *redis.Client
}

// NewRedisMemo：c 为 nil 时返回 nil，调用方据此跳过结果缓存
func NewRedisMemo(c *redis.Client) Memo {
	if c == nil {
		return nil
	}
	return &RedisMemo{c: c}
}

func (m *RedisMemo) Get(ctx context.Context, key string) (string, error) {
	s, err := m.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return s, err
}

func (m *RedisMemo) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return m.c.Set(ctx, key, val, ttl).Err()
}

// Service：对外的查询入口
type Service struct {
	finder Finder
	memo   Memo
	ttl    time.Duration
}

// New：memo 可为 nil
func New(f Finder, memo Memo, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{finder: f, memo: memo, ttl: ttl}
}

// ByAddress：按 MAC 地址查询
func (s *Service) ByAddress(ctx context.Context, addrs ...string) ([]vendor.Vendor, error) {
	norm := make([]string, len(addrs))
	for i, a := range addrs {
		norm[i] = strings.ToUpper(prefix.Strip(a))
	}
	return s.run(ctx, "address", norm, func() ([]vendor.Vendor, error) {
		return s.finder.FindByAddress(ctx, addrs...)
	})
}

// ByName：按名称子串查询
func (s *Service) ByName(ctx context.Context, names ...string) ([]vendor.Vendor, error) {
	return s.run(ctx, "name", names, func() ([]vendor.Vendor, error) {
		return s.finder.FindByName(ctx, names...)
	})
}

// run：结果缓存 → 本地库 → 回填
// 背景：键包含缓存库的代标识，原子替换后旧结果不再命中，无需主动清理
// 约束：结果缓存读写失败只记日志，不影响查询结果；查询出错不回填
func (s *Service) run(ctx context.Context, kind string, terms []string, find func() ([]vendor.Vendor, error)) ([]vendor.Vendor, error) {
	start := time.Now()
	defer func() {
		metrics.LookupDurationMs.WithLabelValues(kind).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()
	metrics.LookupsTotal.WithLabelValues(kind).Inc()
	l := logger.With("lookup")

	var key string
	if s.memo != nil && len(terms) > 0 {
		key = memoKey(s.finder.Generation(), kind, terms)
		raw, err := s.memo.Get(ctx, key)
		switch {
		case err == nil:
			var out []vendor.Vendor
			if jerr := json.Unmarshal([]byte(raw), &out); jerr == nil {
				metrics.MemoHitsTotal.Inc()
				l.Debug("memo_hit", "key", key)
				return out, nil
			}
			l.Warn("memo_decode_error", "key", key)
		case errors.Is(err, ErrMiss):
		default:
			l.Warn("memo_get_error", "err", err)
		}
		metrics.MemoMissesTotal.Inc()
	}

	out, err := find()
	if err != nil {
		metrics.LookupErrorsTotal.WithLabelValues(kind).Inc()
		return nil, err
	}
	if key != "" {
		if b, err := json.Marshal(out); err == nil {
			if err := s.memo.Set(ctx, key, string(b), s.ttl); err != nil {
				l.Warn("memo_set_error", "err", err)
			}
		}
	}
	return out, nil
}

func memoKey(gen, kind string, terms []string) string {
	return "macdb:" + gen + ":" + kind + ":" + strings.Join(terms, "\x1f")
}
