package adapter

import (
	"fmt"
	"strings"
)

// Dialect SQL 方言
type Dialect interface {
	Name() string
	DriverName() string
	// QuoteIdent 引用标识符
	QuoteIdent(name string) string
	// Placeholder 第 n 个参数占位符（从 1 开始）
	Placeholder(n int) string
	// SelectLimit 生成带行数上限的 SELECT
	SelectLimit(selectList, rest string, n int) string

	catalog() catalogQueries
}

// catalogQueries 元数据查询
type catalogQueries struct {
	// columns: schema, table, column, type, length, nullable, is_pk, ordinal
	columns string
	// rowCounts: schema, table, rows
	rowCounts string
	// stats: schema, table, column, distinct, null_rate（可选）
	stats string
}

// QualifyTable 引用 schema.table
func QualifyTable(d Dialect, schema, table string) string {
	if schema == "" {
		return d.QuoteIdent(table)
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}

// DialectByName 按名称获取方言
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql":
		return mysqlDialect{}, nil
	case "sqlserver", "mssql", "tsql":
		return sqlserverDialect{}, nil
	case "postgres", "postgresql", "pg":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

func quoteWith(name, open, close string) string {
	return open + strings.ReplaceAll(name, close, close+close) + close
}
