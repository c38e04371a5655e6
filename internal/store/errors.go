package store

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotCacheFile     = errors.New("not a cache file")
	ErrVersionMismatch  = errors.New("cache schema version mismatch")
	ErrMissingCacheData = errors.New("cache holds no data")
	ErrCacheAbsent      = errors.New("cache file does not exist")
	ErrTxOpen           = errors.New("transaction already open")
	ErrTxDone           = errors.New("transaction already finished")
	ErrEmptyName        = errors.New("empty vendor name")
	ErrNoQuery          = errors.New("no query terms")
	ErrClosed           = errors.New("cache closed")
)

// CacheError：缓存访问失败，Code 为 SQLite 扩展错误码（非驱动错误时为 0）
type CacheError struct {
	Op   string
	Code int
	Err  error
}

func (e *CacheError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("cache %s: %v (sqlite %d)", e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// Retryable：锁等待超时（BUSY/LOCKED）可由调用方稍后重试
func (e *CacheError) Retryable() bool {
	switch e.Code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// IsRetryable 报告 err 链上是否存在可重试的 CacheError
func IsRetryable(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce) && ce.Retryable()
}

// wrap：统一把驱动错误转换为 CacheError；已是 CacheError 的原样返回
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CacheError
	if errors.As(err, &ce) {
		return err
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code&0xff == sqlite3.SQLITE_NOTADB {
			return &CacheError{Op: op, Code: code, Err: fmt.Errorf("%w: %w", ErrNotCacheFile, err)}
		}
		return &CacheError{Op: op, Code: code, Err: err}
	}
	return &CacheError{Op: op, Err: err}
}
