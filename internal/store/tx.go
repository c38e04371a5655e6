package store

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"macdb/internal/logger"
	"macdb/internal/vendor"
)

const insertStmt = "INSERT INTO vendors (prefix, name, private, block, updated) VALUES (?, ?, ?, ?, ?)"

// LoadStats：一次批量导入的统计
type LoadStats struct {
	Inserted int
	Skipped  int
}

// Correction：未按预期只影响一行的修正项
type Correction struct {
	Desc    string
	Changes int64
}

func (c Correction) String() string {
	return fmt.Sprintf("%s: %d rows changed", c.Desc, c.Changes)
}

// Tx：读写句柄上的事务
// 约束：Commit/Rollback 后再次调用 Rollback 为空操作，可放心 defer
type Tx struct {
	wc     *WriteCache
	tx     *sql.Tx
	insert *sql.Stmt
	done   bool
}

// Begin：开启事务；句柄已有未结束事务时返回 ErrTxOpen
func (w *WriteCache) Begin(ctx context.Context) (*Tx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return nil, ErrClosed
	}
	if w.txOpen {
		return nil, &CacheError{Op: "begin", Err: ErrTxOpen}
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("begin", err)
	}
	w.txOpen = true
	t := &Tx{wc: w, tx: tx}
	w.tx = t
	return t, nil
}

func (t *Tx) finish() {
	t.done = true
	t.wc.mu.Lock()
	t.wc.txOpen = false
	if t.wc.tx == t {
		t.wc.tx = nil
	}
	t.wc.mu.Unlock()
}

// Commit：提交；失败时事务已由驱动回滚
func (t *Tx) Commit() error {
	if t.done {
		return &CacheError{Op: "commit", Err: ErrTxDone}
	}
	defer t.finish()
	if t.insert != nil {
		t.insert.Close()
	}
	return wrap("commit", t.tx.Commit())
}

// Rollback：回滚；已结束的事务上为空操作
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	defer t.finish()
	if t.insert != nil {
		t.insert.Close()
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return wrap("rollback", err)
	}
	return nil
}

func (t *Tx) check() error {
	if t.done {
		return &CacheError{Op: "tx", Err: ErrTxDone}
	}
	return nil
}

// Insert：写入一条记录；前缀重复时返回约束错误
// 约束：空名称、空日期与 Unknown 块类型以 NULL 落库
func (t *Tx) Insert(ctx context.Context, v vendor.Vendor) error {
	if err := t.check(); err != nil {
		return err
	}
	if t.insert == nil {
		st, err := t.tx.PrepareContext(ctx, insertStmt)
		if err != nil {
			return wrap("prepare", err)
		}
		t.insert = st
	}
	_, err := t.insert.ExecContext(ctx, insertArgs(v)...)
	return wrap("insert", err)
}

func insertArgs(v vendor.Vendor) []any {
	var block any
	if v.Block != vendor.RegistryUnknown {
		block = int64(v.Block)
	}
	return []any{int64(v.Prefix), nullable(v.Name), v.Private, block, nullable(v.Updated)}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// BulkInsert：读取整份数据源并逐行写入
// 背景：数据源首行为表头；个别超长行来自上游脏数据，跳过即可
// 约束：空行与超过 vendor.MaxLineLength 的行跳过，其余行解析失败立即返回错误，由调用方回滚
func (t *Tx) BulkInsert(ctx context.Context, r io.Reader) (LoadStats, error) {
	var stats LoadStats
	if err := t.check(); err != nil {
		return stats, err
	}
	l := logger.With("store")
	br := bufio.NewReaderSize(r, 4096)

	header := true
	lineNo := 0
	for {
		raw, tooLong, err := readLine(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, &CacheError{Op: "read", Err: err}
		}
		lineNo++
		if header {
			header = false
			if raw != vendor.Header {
				l.Debug("bulk_insert_header_unexpected", "header", truncate(raw))
			}
			continue
		}
		if raw == "" && !tooLong {
			continue
		}
		if tooLong || len(raw) > vendor.MaxLineLength {
			stats.Skipped++
			l.Warn("bulk_insert_skip_line", "line_no", lineNo, "prefix", truncate(raw))
			continue
		}
		v, err := vendor.Parse(raw)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := t.Insert(ctx, v); err != nil {
			return stats, fmt.Errorf("line %d: %w", lineNo, err)
		}
		stats.Inserted++
	}
	l.Info("bulk_insert_done", "inserted", stats.Inserted, "skipped", stats.Skipped)
	return stats, nil
}

// readLine：返回去掉行尾 \r\n 的一行；超出缓冲的部分直接丢弃并以 tooLong 标记
func readLine(br *bufio.Reader) (string, bool, error) {
	line, isPrefix, err := br.ReadLine()
	if err != nil {
		return "", false, err
	}
	if !isPrefix {
		return string(line), false, nil
	}
	head := string(line)
	for isPrefix {
		_, isPrefix, err = br.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", true, err
		}
	}
	return head, true, nil
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}

// Clear：删除全部记录
func (t *Tx) Clear(ctx context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, "DELETE FROM vendors")
	return wrap("clear", err)
}

type correction struct {
	desc  string
	query string
	args  []any
}

var corrections = []correction{
	{
		desc:  "rename 52:54:00 to QEMU/KVM",
		query: "UPDATE vendors SET name = ? WHERE prefix = ?",
		args:  []any{"QEMU/KVM", int64(0x525400)},
	},
	{
		desc:  "mark 08:00:27 as VirtualBox",
		query: "UPDATE vendors SET name = name || ? WHERE prefix = ?",
		args:  []any{" (VirtualBox)", int64(0x080027)},
	},
	{
		desc:  "add Docker 02:42:00",
		query: "INSERT OR IGNORE INTO vendors (prefix, name, private, block, updated) VALUES (?, ?, ?, NULL, NULL)",
		args:  []any{int64(0x024200), "Docker container interface (02:42)", true},
	},
}

// Customize：对常见虚拟化前缀做人工修正
// 背景：数据源对这些前缀的命名对使用者不直观；Docker 前缀不在数据源中
// 约束：每项预期恰好影响一行；不符合时记录告警并返回该项，不中断导入
func (t *Tx) Customize(ctx context.Context) ([]Correction, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var issues []Correction
	for _, c := range corrections {
		res, err := t.tx.ExecContext(ctx, c.query, c.args...)
		if err != nil {
			return issues, wrap("customize", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return issues, wrap("customize", err)
		}
		if n != 1 {
			logger.With("store").Warn("customize_mismatch", "correction", c.desc, "changes", n)
			issues = append(issues, Correction{Desc: c.desc, Changes: n})
		}
	}
	return issues, nil
}

// LoadResult：Load 的结果
type LoadResult struct {
	LoadStats
	Corrections []Correction
}

// Load：在单个事务内导入数据源；replace 为真时先清表、导入后执行修正
// 约束：任何一步失败都回滚，缓存保持导入前状态
func (w *WriteCache) Load(ctx context.Context, r io.Reader, replace bool) (LoadResult, error) {
	var res LoadResult
	tx, err := w.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	if replace {
		if err := tx.Clear(ctx); err != nil {
			return res, err
		}
	}
	res.LoadStats, err = tx.BulkInsert(ctx, r)
	if err != nil {
		return res, err
	}
	if replace {
		if res.Corrections, err = tx.Customize(ctx); err != nil {
			return res, err
		}
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

// Close：关闭前回滚未提交的事务
func (w *WriteCache) Close() error {
	w.mu.Lock()
	t := w.tx
	w.mu.Unlock()
	if t != nil {
		if err := t.Rollback(); err != nil {
			logger.With("store").Warn("close_rollback_error", "err", err)
		}
	}
	return w.conn.Close()
}
