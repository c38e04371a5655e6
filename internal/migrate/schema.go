// 包 migrate：缓存库表结构与 user_version 版本协商
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"macdb/internal/logger"
)

// Version：当前表结构版本，写入 PRAGMA user_version
// 约束：表结构任何变化都必须递增，旧版本缓存在读取时被拒绝、在写入时被重建
const Version = 2

// Table：记录表名
const Table = "vendors"

const createTable = `CREATE TABLE vendors (
	prefix  INTEGER PRIMARY KEY,
	name    TEXT,
	private BOOLEAN NOT NULL,
	block   INTEGER,
	updated TEXT
)`

// Execer：*sql.DB、*sql.Conn、*sql.Tx 的公共子集
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UserVersion：读取库文件记录的结构版本；新建空库为 0
func UserVersion(ctx context.Context, db Execer) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// SetUserVersion：PRAGMA 不支持参数绑定，只接受整数拼接
func SetUserVersion(ctx context.Context, db Execer, v int) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v))
	return err
}

// TableExists：vendors 表是否存在
func TableExists(ctx context.Context, db Execer) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", Table).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EnsureSchema：建表（已存在则跳过）
func EnsureSchema(ctx context.Context, db Execer) error {
	ok, err := TableExists(ctx, db)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	logger.L().Debug("schema_exec", "table", Table)
	_, err = db.ExecContext(ctx, createTable)
	return err
}

// DropSchema：删除 vendors 表
func DropSchema(ctx context.Context, db Execer) error {
	_, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+Table)
	return err
}

// Prepare：写入端打开时的版本协商
// 背景：旧版本缓存的列布局不可复用，直接丢弃重建，由后续更新重新填充
// 约束：版本不一致时删表、重建并写入当前版本；版本一致但缺表时仅建表
// 返回值 reset 表示是否丢弃了旧数据
func Prepare(ctx context.Context, db Execer) (reset bool, err error) {
	v, err := UserVersion(ctx, db)
	if err != nil {
		return false, err
	}
	if v != Version {
		logger.L().Info("schema_version_reset", "found", v, "want", Version)
		if err := DropSchema(ctx, db); err != nil {
			return false, err
		}
		if err := SetUserVersion(ctx, db, Version); err != nil {
			return false, err
		}
		reset = true
	}
	if err := EnsureSchema(ctx, db); err != nil {
		return reset, err
	}
	logger.L().Debug("schema_done", "version", Version)
	return reset, nil
}
