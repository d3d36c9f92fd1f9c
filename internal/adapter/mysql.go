package adapter

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return "mysql" }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) QuoteIdent(name string) string { return quoteWith(name, "`", "`") }

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) SelectLimit(selectList, rest string, n int) string {
	return fmt.Sprintf("SELECT %s %s LIMIT %d", selectList, rest, n)
}

func (mysqlDialect) catalog() catalogQueries {
	return catalogQueries{
		columns: `
		SELECT
			c.TABLE_SCHEMA,
			c.TABLE_NAME,
			c.COLUMN_NAME,
			c.DATA_TYPE,
			c.CHARACTER_MAXIMUM_LENGTH,
			IF(c.IS_NULLABLE = 'YES', 1, 0),
			IF(c.COLUMN_KEY = 'PRI', 1, 0),
			c.ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t
			ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		WHERE c.TABLE_SCHEMA = ? AND t.TABLE_TYPE = 'BASE TABLE'
		ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`,
		rowCounts: `
		SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_ROWS
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'`,
	}
}

// NewMySQLAdapter 创建 MySQL 数据源（schema 必填）
func NewMySQLAdapter(ctx context.Context, id, connStr, schema string) (*Source, error) {
	if schema == "" {
		return nil, fmt.Errorf("mysql source %s: schema is required", id)
	}
	src, err := openSource(ctx, id, mysqlDialect{}, connStr, schema)
	if err != nil {
		return nil, err
	}
	return src.WithDatabase(schema), nil
}
