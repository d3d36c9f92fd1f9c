package adapter

import (
	"context"
	"fmt"

	_ "github.com/denisenkom/go-mssqldb"
)

type sqlserverDialect struct{}

func (sqlserverDialect) Name() string       { return "sqlserver" }
func (sqlserverDialect) DriverName() string { return "sqlserver" }

func (sqlserverDialect) QuoteIdent(name string) string { return quoteWith(name, "[", "]") }

func (sqlserverDialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (sqlserverDialect) SelectLimit(selectList, rest string, n int) string {
	return fmt.Sprintf("SELECT TOP (%d) %s %s", n, selectList, rest)
}

func (sqlserverDialect) catalog() catalogQueries {
	return catalogQueries{
		columns: `
		SELECT
			c.TABLE_SCHEMA,
			c.TABLE_NAME,
			c.COLUMN_NAME,
			c.DATA_TYPE,
			c.CHARACTER_MAXIMUM_LENGTH,
			CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
			CASE WHEN pk.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END,
			c.ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t
			ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		LEFT JOIN (
			SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
			FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
				ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
			WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		) pk ON c.TABLE_SCHEMA = pk.TABLE_SCHEMA
			AND c.TABLE_NAME = pk.TABLE_NAME
			AND c.COLUMN_NAME = pk.COLUMN_NAME
		WHERE t.TABLE_TYPE = 'BASE TABLE' AND (@p1 = '' OR c.TABLE_SCHEMA = @p1)
		ORDER BY c.TABLE_SCHEMA, c.TABLE_NAME, c.ORDINAL_POSITION`,
		rowCounts: `
		SELECT s.name, t.name, SUM(p.rows)
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.partitions p ON p.object_id = t.object_id AND p.index_id IN (0, 1)
		WHERE (@p1 = '' OR s.name = @p1)
		GROUP BY s.name, t.name`,
	}
}

// NewSQLServerAdapter 创建 SQL Server 数据源（schema 为空时扫描全部）
func NewSQLServerAdapter(ctx context.Context, id, connStr, schema string) (*Source, error) {
	return openSource(ctx, id, sqlserverDialect{}, connStr, schema)
}
