package store

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"macdb/internal/logger"
	"macdb/internal/migrate"
	"macdb/internal/utils"
)

// AtomicUpdate：用 r 的内容整体替换缓存
// 背景：导入过程可能因数据源损坏中途失败，替换必须要么全部生效要么完全不变
// 约束：旧文件先改名为 <path>.bak，在原路径上重建并导入；失败时删除新文件并把备份改回原名，
// 句柄重新指向原文件；成功后删除备份。内存库直接在单个事务内替换
func (w *WriteCache) AtomicUpdate(ctx context.Context, r io.Reader) (LoadResult, error) {
	if w.path == utils.MemoryPath {
		return w.Load(ctx, r, true)
	}
	l := logger.With("store")

	w.mu.Lock()
	if w.txOpen {
		w.mu.Unlock()
		return LoadResult{}, &CacheError{Op: "update", Err: ErrTxOpen}
	}
	if err := w.closeLocked(); err != nil {
		l.Warn("atomic_update_close_error", "err", err)
	}
	w.mu.Unlock()

	bak := w.path + ".bak"
	existed := true
	if _, err := os.Stat(w.path); errors.Is(err, fs.ErrNotExist) {
		existed = false
	}
	if existed {
		_ = os.Remove(bak)
		if err := os.Rename(w.path, bak); err != nil {
			return LoadResult{}, w.reopen(ctx, &CacheError{Op: "update", Err: err})
		}
	}

	restore := func(cause error) error {
		w.mu.Lock()
		_ = w.closeLocked()
		w.mu.Unlock()
		removeDBFiles(w.path)
		if existed {
			if err := os.Rename(bak, w.path); err != nil {
				l.Error("atomic_update_restore_error", "path", w.path, "err", err)
				return errors.Join(cause, &CacheError{Op: "restore", Err: err})
			}
		}
		l.Warn("atomic_update_restore", "path", w.path, "err", cause)
		return w.reopen(ctx, cause)
	}

	db, err := openWriteDB(ctx, w.path)
	if err != nil {
		return LoadResult{}, restore(err)
	}
	w.mu.Lock()
	w.db = db
	w.mu.Unlock()

	res, err := w.Load(ctx, r, true)
	if err != nil {
		return res, restore(err)
	}
	if existed {
		if err := os.Remove(bak); err != nil {
			l.Warn("atomic_update_backup_remove_error", "path", bak, "err", err)
		}
	}
	l.Info("atomic_update_ok", "path", w.path, "inserted", res.Inserted, "skipped", res.Skipped)
	return res, nil
}

// Update：不预先打开旧文件，直接原子替换 path 处的缓存，完成后关闭
// 背景：OpenWrite 会在版本不符时清空旧表；更新失败时旧文件应保持原字节，包括版本过旧的旧文件
func Update(ctx context.Context, path string, r io.Reader) (LoadResult, error) {
	if err := initialize(); err != nil {
		return LoadResult{}, err
	}
	if path == utils.MemoryPath {
		w, err := OpenWrite(ctx, path)
		if err != nil {
			return LoadResult{}, err
		}
		defer w.Close()
		return w.AtomicUpdate(ctx, r)
	}
	if err := checkCacheFile(ctx, path); err != nil {
		return LoadResult{}, err
	}
	w := &WriteCache{conn: &conn{path: path}, detached: true}
	defer w.Close()
	return w.AtomicUpdate(ctx, r)
}

// checkCacheFile：已存在的文件必须是 SQLite 库，避免把无关文件当作旧缓存替换掉
func checkCacheFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	db, err := utils.OpenSQLite(path, true)
	if err != nil {
		return wrap("open", err)
	}
	defer db.Close()
	_, err = migrate.UserVersion(ctx, db)
	return wrap("open", err)
}

// reopen：失败路径上把句柄重新指向磁盘上的当前文件，原错误始终返回给调用方
// 约束：原路径不存在时保持句柄关闭，不再创建空库
func (w *WriteCache) reopen(ctx context.Context, cause error) error {
	if w.detached {
		return cause
	}
	if _, err := os.Stat(w.path); errors.Is(err, fs.ErrNotExist) {
		return cause
	}
	db, err := openWriteDB(ctx, w.path)
	if err != nil {
		return errors.Join(cause, err)
	}
	w.mu.Lock()
	w.db = db
	w.mu.Unlock()
	return cause
}

func removeDBFiles(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}
