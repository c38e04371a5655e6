package store

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"

	"macdb/internal/prefix"
	"macdb/internal/vendor"
)

// likeEscaper：使 %、_ 与转义符本身按字面匹配
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

const findByNameQuery = selectColumns + ` WHERE name LIKE '%' || ? || '%' ESCAPE '\'`

func buildFindByPrefixQuery(n int) string {
	var b strings.Builder
	b.WriteString(selectColumns)
	b.WriteString(" WHERE prefix IN (?")
	for i := 1; i < n; i++ {
		b.WriteString(",?")
	}
	b.WriteByte(')')
	return b.String()
}

// prefixStmt：按占位符个数复用预编译语句
func (c *conn) prefixStmt(ctx context.Context, db *sql.DB, n int) (*sql.Stmt, error) {
	if st, ok := c.stmts[n]; ok {
		return st, nil
	}
	st, err := db.PrepareContext(ctx, buildFindByPrefixQuery(n))
	if err != nil {
		return nil, wrap("prepare", err)
	}
	if c.stmts == nil {
		c.stmts = make(map[int]*sql.Stmt)
	}
	c.stmts[n] = st
	return st, nil
}

// FindByAddress：按完整或部分 MAC 地址查找所属厂商
// 背景：地址可能属于 24/28/36 位任一注册块，逐一截取候选前缀后一次查询
// 约束：多个地址的结果按前缀去重并升序返回；任一地址非法时整体返回错误
func (c *conn) FindByAddress(ctx context.Context, addrs ...string) ([]vendor.Vendor, error) {
	if len(addrs) == 0 {
		return nil, ErrNoQuery
	}
	queries := make([][]uint64, 0, len(addrs))
	for _, a := range addrs {
		cands, err := prefix.CandidateBlocks(prefix.Strip(a))
		if err != nil {
			var ae *prefix.AddressError
			if errors.As(err, &ae) {
				ae.Input = a
			}
			return nil, err
		}
		queries = append(queries, cands)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := c.handle()
	if err != nil {
		return nil, err
	}
	found := make(map[uint64]vendor.Vendor)
	for _, cands := range queries {
		st, err := c.prefixStmt(ctx, db, len(cands))
		if err != nil {
			return nil, err
		}
		args := make([]any, len(cands))
		for i, p := range cands {
			args[i] = int64(p)
		}
		rows, err := st.QueryContext(ctx, args...)
		if err != nil {
			return nil, wrap("find_by_address", err)
		}
		if _, err := scanVendors(rows, found); err != nil {
			return nil, err
		}
	}
	return sorted(found), nil
}

// FindByName：按名称子串查找，ASCII 大小写不敏感
// 约束：输入中的 %、_ 不作通配符；空白名称返回 ErrEmptyName
func (c *conn) FindByName(ctx context.Context, names ...string) ([]vendor.Vendor, error) {
	if len(names) == 0 {
		return nil, ErrNoQuery
	}
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			return nil, ErrEmptyName
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := c.handle()
	if err != nil {
		return nil, err
	}
	found := make(map[uint64]vendor.Vendor)
	for _, n := range names {
		rows, err := db.QueryContext(ctx, findByNameQuery, likeEscaper.Replace(n))
		if err != nil {
			return nil, wrap("find_by_name", err)
		}
		if _, err := scanVendors(rows, found); err != nil {
			return nil, err
		}
	}
	return sorted(found), nil
}

func sorted(m map[uint64]vendor.Vendor) []vendor.Vendor {
	out := make([]vendor.Vendor, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b vendor.Vendor) int {
		switch {
		case a.Prefix < b.Prefix:
			return -1
		case a.Prefix > b.Prefix:
			return 1
		}
		return 0
	})
	return out
}
