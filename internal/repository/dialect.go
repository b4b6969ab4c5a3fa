package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Querier *sql.DB 和 *sql.Tx 的公共方法
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect 记录器数据库方言
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
	MySQL
)

// DialectFor 根据 database/sql 驱动名返回方言
func DialectFor(driver string) Dialect {
	switch driver {
	case "postgres":
		return Postgres
	case "mysql":
		return MySQL
	default:
		return SQLite
	}
}

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// Rebind 将 ? 占位符转换为方言的占位符（PostgreSQL 使用 $1, $2...）
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tablesQuery 查询已存在的表名
func (d Dialect) tablesQuery() string {
	switch d {
	case Postgres:
		return `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name IN ('states', 'state_attributes')`
	case MySQL:
		return `SELECT table_name FROM information_schema.tables
			WHERE table_schema = DATABASE() AND table_name IN ('states', 'state_attributes')`
	default:
		return `SELECT name FROM sqlite_master
			WHERE type = 'table' AND name IN ('states', 'state_attributes')`
	}
}

// attributesLookupQuery 按 shared_attrs 字节内容查找属性行
// MySQL 默认排序规则忽略大小写和尾部空格，需按二进制比较
func (d Dialect) attributesLookupQuery() string {
	if d == MySQL {
		return `SELECT attributes_id FROM state_attributes
			WHERE CAST(shared_attrs AS BINARY) = CAST(? AS BINARY) LIMIT 1`
	}
	return d.Rebind(`SELECT attributes_id FROM state_attributes WHERE shared_attrs = ? LIMIT 1`)
}

// insertReturningID 执行 INSERT 并返回自增主键
// PostgreSQL 不支持 LastInsertId，使用 RETURNING
func (d Dialect) insertReturningID(ctx context.Context, q Querier, query, idColumn string, args ...any) (int64, error) {
	if d == Postgres {
		var id int64
		err := q.QueryRowContext(ctx, d.Rebind(query)+" RETURNING "+idColumn, args...).Scan(&id)
		if err != nil {
			return 0, err
		}
		return id, nil
	}

	res, err := q.ExecContext(ctx, d.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return id, nil
}
