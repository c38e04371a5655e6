package logger

import (
	"log/slog"
	"net/http"
	"time"
)

// loggingTransport：记录出站请求的方法、地址、状态、声明长度与耗时
type loggingTransport struct {
	l    *slog.Logger
	base http.RoundTripper
}

// Transport：为数据源下载包装 RoundTripper
// 约束：不读取响应体，只记录响应头可得的信息；URL 去掉查询串，避免把令牌写进日志
func Transport(l *slog.Logger, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{l: l, base: base}
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(r)
	dur := time.Since(start)
	target := r.URL.Scheme + "://" + r.URL.Host + r.URL.Path
	if err != nil {
		t.l.Warn("http_fetch_error", "method", r.Method, "url", target, "duration_ms", dur.Milliseconds(), "err", err)
		return nil, err
	}
	t.l.Debug("http_fetch",
		"method", r.Method,
		"url", target,
		"status", resp.StatusCode,
		"content_length", resp.ContentLength,
		"duration_ms", dur.Milliseconds(),
	)
	return resp, nil
}
