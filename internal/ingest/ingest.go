// 包 ingest：厂商前缀数据源的获取，支持远端下载与本地文件，透明解压并限制大小
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"macdb/internal/logger"

	"github.com/dustin/go-humanize"
)

// DefaultURL：maclookup.app 提供的完整 CSV 数据库
const DefaultURL = "https://maclookup.app/downloads/csv-database/get-db"

// MaxFeedBytes：数据源大小上限，约为当前数据源的两倍
const MaxFeedBytes int64 = 1 << 23

var (
	ErrFeedTooLarge      = errors.New("feed exceeds size limit")
	ErrLocalFileNotFound = errors.New("local feed file not found")
	ErrBadStatus         = errors.New("unexpected http status")
	ErrNoSource          = errors.New("no feed source configured")
)

// UpdateError：数据源获取失败，Source 为 URL 或本地路径
type UpdateError struct {
	Op     string
	Source string
	Err    error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update %s %s: %v", e.Op, e.Source, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Source：一次更新使用的数据源；Path 非空时优先使用本地文件
type Source struct {
	URL    string
	Path   string
	Limit  int64
	Client *http.Client
}

func (s Source) String() string {
	if s.Path != "" {
		return s.Path
	}
	return s.URL
}

func (s Source) limit() int64 {
	if s.Limit <= 0 {
		return MaxFeedBytes
	}
	return s.Limit
}

// Acquire：读取并解压整份数据源
// 约束：压缩前后的大小都受 Limit 约束；返回的 Reader 已完全在内存中，不再受网络影响
func (s Source) Acquire(ctx context.Context) (io.Reader, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case s.Path != "":
		data, err = ReadFile(s.Path, s.limit())
	case s.URL != "":
		data, err = Download(ctx, s.Client, s.URL, s.limit())
	default:
		return nil, &UpdateError{Op: "acquire", Err: ErrNoSource}
	}
	if err != nil {
		return nil, err
	}
	out, err := Decode(data, s.limit())
	if err != nil {
		return nil, &UpdateError{Op: "decode", Source: s.String(), Err: err}
	}
	logger.L().Info("feed_acquired", "source", s.String(),
		"size", humanize.IBytes(uint64(len(data))), "decoded", humanize.IBytes(uint64(len(out))))
	return bytes.NewReader(out), nil
}

// Download：HTTP GET 拉取数据源
// 异常：网络错误、非 200 状态、超出上限均返回 UpdateError，不做重试
func Download(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger.L().Debug("feed_download_start", "url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UpdateError{Op: "download", Source: url, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &UpdateError{Op: "download", Source: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &UpdateError{Op: "download", Source: url, Err: fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)}
	}
	if resp.ContentLength > limit {
		return nil, &UpdateError{Op: "download", Source: url, Err: tooLarge(limit)}
	}
	data, err := readAllLimit(resp.Body, limit)
	if err != nil {
		return nil, &UpdateError{Op: "download", Source: url, Err: err}
	}
	return data, nil
}

// ReadFile：读取本地数据源文件
func ReadFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &UpdateError{Op: "read", Source: path, Err: ErrLocalFileNotFound}
	}
	if err != nil {
		return nil, &UpdateError{Op: "read", Source: path, Err: err}
	}
	defer f.Close()
	if fi, err := f.Stat(); err == nil && fi.Size() > limit {
		return nil, &UpdateError{Op: "read", Source: path, Err: tooLarge(limit)}
	}
	data, err := readAllLimit(f, limit)
	if err != nil {
		return nil, &UpdateError{Op: "read", Source: path, Err: err}
	}
	return data, nil
}

func readAllLimit(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, tooLarge(limit)
	}
	return data, nil
}

func tooLarge(limit int64) error {
	return fmt.Errorf("%w of %s", ErrFeedTooLarge, humanize.IBytes(uint64(limit)))
}
