package utils

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// BusyTimeoutMs：跨进程锁等待上限
const BusyTimeoutMs = 5000

// MemoryPath：进程内临时库
const MemoryPath = ":memory:"

var uriEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// BuildSQLiteDSN：生成 modernc sqlite 使用的 file: URI
// 背景：只有 file: 前缀的 DSN 会把 mode 等参数交给 SQLite 本身处理；_pragma/_txlock 由驱动解析
// 约束：只读句柄使用 mode=ro，不会创建文件；写入句柄使用 IMMEDIATE 事务，提前拿到写锁
func BuildSQLiteDSN(path string, readOnly bool) string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(uriEscaper.Replace(filepath.ToSlash(path)))
	b.WriteString("?_pragma=busy_timeout(5000)")
	if readOnly {
		b.WriteString("&mode=ro")
	} else {
		b.WriteString("&mode=rwc&_txlock=immediate")
	}
	return b.String()
}

// OpenSQLite：打开单连接的 SQLite 句柄
// 约束：SQLite 单文件写入天然串行，单连接避免同句柄内的锁竞争；连接延迟建立，错误在首次访问时出现
func OpenSQLite(path string, readOnly bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite", BuildSQLiteDSN(path, readOnly))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// DefaultCachePath：<用户缓存目录>/macdb/mac.db
// 约束：无法确定缓存目录时回退到当前目录下的 mac.db
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		return "mac.db"
	}
	return filepath.Join(dir, "macdb", "mac.db")
}

// EnsureParentDir：为库文件创建父目录
func EnsureParentDir(path string) error {
	if path == MemoryPath {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
