package adapter

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresDialect struct{}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) QuoteIdent(name string) string { return quoteWith(name, `"`, `"`) }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) SelectLimit(selectList, rest string, n int) string {
	return fmt.Sprintf("SELECT %s %s LIMIT %d", selectList, rest, n)
}

func (postgresDialect) catalog() catalogQueries {
	return catalogQueries{
		columns: `
		SELECT
			c.table_schema,
			c.table_name,
			c.column_name,
			c.data_type,
			c.character_maximum_length,
			CASE WHEN c.is_nullable = 'YES' THEN 1 ELSE 0 END,
			CASE WHEN pk.column_name IS NOT NULL THEN 1 ELSE 0 END,
			c.ordinal_position
		FROM information_schema.columns c
		JOIN information_schema.tables t
			ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		LEFT JOIN (
			SELECT ku.table_schema, ku.table_name, ku.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage ku
				ON tc.constraint_name = ku.constraint_name AND tc.table_schema = ku.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
		) pk ON c.table_schema = pk.table_schema
			AND c.table_name = pk.table_name
			AND c.column_name = pk.column_name
		WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position`,
		rowCounts: `
		SELECT n.nspname, c.relname, GREATEST(c.reltuples, 0)::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r' AND n.nspname = $1`,
		stats: `
		SELECT schemaname, tablename, attname, n_distinct::float8, null_frac::float8
		FROM pg_stats
		WHERE schemaname = $1`,
	}
}

// NewPostgresAdapter 创建 PostgreSQL 数据源（默认 public）
func NewPostgresAdapter(ctx context.Context, id, connStr, schema string) (*Source, error) {
	if schema == "" {
		schema = "public"
	}
	return openSource(ctx, id, postgresDialect{}, connStr, schema)
}
