// 包 store：MAC 厂商前缀缓存的 SQLite 存取层，包含只读/读写句柄、事务批量导入、原子替换与查询
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"

	"macdb/internal/logger"
	"macdb/internal/migrate"
	"macdb/internal/utils"
	"macdb/internal/vendor"
)

const selectColumns = "SELECT prefix, name, private, block, updated FROM vendors"

var (
	initOnce sync.Once
	initErr  error
)

// initialize：进程级一次性驱动自检，失败结果会被记住
// 背景：驱动以 init 注册；在首次打开缓存前确认可用，避免错误延迟到查询阶段
func initialize() error {
	initOnce.Do(func() {
		if !slices.Contains(sql.Drivers(), "sqlite") {
			initErr = &CacheError{Op: "init", Err: errors.New("sqlite driver not registered")}
			return
		}
		db, err := sql.Open("sqlite", utils.MemoryPath)
		if err != nil {
			initErr = wrap("init", err)
			return
		}
		defer db.Close()
		var ver string
		if err := db.QueryRow("SELECT sqlite_version()").Scan(&ver); err != nil {
			initErr = wrap("init", err)
			return
		}
		logger.L().Debug("sqlite_init", "version", ver)
	})
	return initErr
}

// conn：读写两种句柄共用的连接状态
// 约束：mu 保护 db 替换、语句池与事务标志；同一句柄同一时刻至多一个事务
type conn struct {
	mu     sync.Mutex
	path   string
	db     *sql.DB
	stmts  map[int]*sql.Stmt
	txOpen bool
}

// ReadCache：只读句柄，只暴露查询
type ReadCache struct {
	*conn
}

// WriteCache：读写句柄，额外提供事务、导入与原子替换
type WriteCache struct {
	*conn
	tx *Tx
	// detached：由 Update 创建，失败后不重新打开原文件
	detached bool
}

// OpenRead：打开已存在且已填充的缓存
// 约束：文件不存在 ErrCacheAbsent；版本不符 ErrVersionMismatch；缺表或无记录 ErrMissingCacheData
func OpenRead(ctx context.Context, path string) (*ReadCache, error) {
	if err := initialize(); err != nil {
		return nil, err
	}
	if path != utils.MemoryPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, &CacheError{Op: "open", Err: fmt.Errorf("%w: %s", ErrCacheAbsent, path)}
		}
	}
	db, err := utils.OpenSQLite(path, true)
	if err != nil {
		return nil, wrap("open", err)
	}
	if err := checkReadable(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	logger.L().Debug("cache_open_ok", "path", path, "mode", "ro")
	return &ReadCache{conn: &conn{path: path, db: db}}, nil
}

func checkReadable(ctx context.Context, db *sql.DB) error {
	v, err := migrate.UserVersion(ctx, db)
	if err != nil {
		return wrap("open", err)
	}
	if v != migrate.Version {
		return &CacheError{Op: "open", Err: fmt.Errorf("%w: found %d, want %d", ErrVersionMismatch, v, migrate.Version)}
	}
	ok, err := migrate.TableExists(ctx, db)
	if err != nil {
		return wrap("open", err)
	}
	if !ok {
		return &CacheError{Op: "open", Err: fmt.Errorf("%w: table %s missing", ErrMissingCacheData, migrate.Table)}
	}
	var has bool
	if err := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM vendors)").Scan(&has); err != nil {
		return wrap("open", err)
	}
	if !has {
		return &CacheError{Op: "open", Err: fmt.Errorf("%w: no records", ErrMissingCacheData)}
	}
	return nil
}

// OpenWrite：打开或创建缓存，并完成表结构版本协商
func OpenWrite(ctx context.Context, path string) (*WriteCache, error) {
	if err := initialize(); err != nil {
		return nil, err
	}
	db, err := openWriteDB(ctx, path)
	if err != nil {
		return nil, err
	}
	logger.L().Debug("cache_open_ok", "path", path, "mode", "rw")
	return &WriteCache{conn: &conn{path: path, db: db}}, nil
}

func openWriteDB(ctx context.Context, path string) (*sql.DB, error) {
	if err := utils.EnsureParentDir(path); err != nil {
		return nil, &CacheError{Op: "open", Err: err}
	}
	db, err := utils.OpenSQLite(path, false)
	if err != nil {
		return nil, wrap("open", err)
	}
	if _, err := migrate.Prepare(ctx, db); err != nil {
		db.Close()
		return nil, wrap("prepare", err)
	}
	return db, nil
}

// Path：库文件路径
func (c *conn) Path() string { return c.path }

// Close：释放语句池与连接；重复调用安全
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *conn) closeLocked() error {
	for n, st := range c.stmts {
		st.Close()
		delete(c.stmts, n)
	}
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return wrap("close", err)
}

// handle：取得可用于查询的连接
// 约束：读写句柄事务未结束时拒绝查询，单连接下查询会与事务互相等待
func (c *conn) handle() (*sql.DB, error) {
	if c.db == nil {
		return nil, ErrClosed
	}
	if c.txOpen {
		return nil, &CacheError{Op: "query", Err: ErrTxOpen}
	}
	return c.db, nil
}

// Count：记录总数
func (c *conn) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := c.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM vendors").Scan(&n); err != nil {
		return 0, wrap("count", err)
	}
	return n, nil
}

// Version：库文件记录的表结构版本
func (c *conn) Version(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := c.handle()
	if err != nil {
		return 0, err
	}
	v, err := migrate.UserVersion(ctx, db)
	return v, wrap("version", err)
}

// Generation：标识缓存内容的一代，原子替换后必然变化
// 背景：外部结果缓存以此作为键前缀，替换后旧结果自然失效
func (c *conn) Generation() string {
	if c.path == utils.MemoryPath {
		return fmt.Sprintf("v%d-mem", migrate.Version)
	}
	fi, err := os.Stat(c.path)
	if err != nil {
		return fmt.Sprintf("v%d-unknown", migrate.Version)
	}
	return fmt.Sprintf("v%d-%d-%d", migrate.Version, fi.ModTime().UnixNano(), fi.Size())
}

// Export：按前缀升序返回全部记录
func (c *conn) Export(ctx context.Context) ([]vendor.Vendor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := c.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, selectColumns+" ORDER BY prefix")
	if err != nil {
		return nil, wrap("export", err)
	}
	return scanVendors(rows, nil)
}

// scanVendors：逐行读取，NULL 列还原为空串与 Unknown；into 非空时按前缀去重合并
func scanVendors(rows *sql.Rows, into map[uint64]vendor.Vendor) ([]vendor.Vendor, error) {
	defer rows.Close()
	var out []vendor.Vendor
	for rows.Next() {
		var (
			pfx     int64
			name    sql.NullString
			private bool
			block   sql.NullInt64
			updated sql.NullString
		)
		if err := rows.Scan(&pfx, &name, &private, &block, &updated); err != nil {
			return nil, wrap("scan", err)
		}
		v := vendor.Vendor{
			Prefix:  uint64(pfx),
			Name:    name.String,
			Private: private,
			Updated: updated.String,
		}
		if block.Valid {
			if r := vendor.Registry(block.Int64); r.Valid() {
				v.Block = r
			}
		}
		if into != nil {
			into[v.Prefix] = v
			continue
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("scan", err)
	}
	return out, nil
}
