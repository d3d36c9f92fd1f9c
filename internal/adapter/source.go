package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Source 基于 database/sql 的数据源，同时提供元数据和在线查询
type Source struct {
	id           string
	db           *sql.DB
	dialect      Dialect
	schema       string
	database     string
	collectStats bool
}

// NewSource 使用已有连接创建数据源
func NewSource(id string, db *sql.DB, dialect Dialect, schema string) *Source {
	return &Source{id: id, db: db, dialect: dialect, schema: schema}
}

func openSource(ctx context.Context, id string, dialect Dialect, connStr, schema string) (*Source, error) {
	db, err := sql.Open(dialect.DriverName(), connStr)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return NewSource(id, db, dialect, schema), nil
}

// WithStats 开启 COUNT(DISTINCT) 统计采集
func (s *Source) WithStats(enabled bool) *Source {
	s.collectStats = enabled
	return s
}

// WithDatabase 设置数据库名（用于全名）
func (s *Source) WithDatabase(name string) *Source {
	s.database = name
	return s
}

// ID 数据源标识
func (s *Source) ID() string { return s.id }

// Dialect 方言
func (s *Source) Dialect() Dialect { return s.dialect }

// Schema 默认 schema
func (s *Source) Schema() string { return s.schema }

// QueryContext 执行查询
func (s *Source) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRowContext 执行单行查询
func (s *Source) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Snapshot 获取元数据快照
func (s *Source) Snapshot(ctx context.Context) (*Snapshot, error) {
	q := s.dialect.catalog()

	columns, err := s.getColumns(ctx, q.columns)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}

	rowCounts, err := s.getRowCounts(ctx, q.rowCounts)
	if err != nil {
		return nil, fmt.Errorf("estimate row counts: %w", err)
	}

	var stats map[string]catalogStat
	var warnings []string
	if q.stats != "" {
		// 统计视图可能无权限，记为警告，不影响主流程
		if stats, err = s.getCatalogStats(ctx, q.stats); err != nil {
			warnings = append(warnings, fmt.Sprintf("catalog statistics unavailable: %v", err))
		}
	}

	for i := range columns {
		c := &columns[i]
		rows, ok := rowCounts[c.TableID]
		if !ok {
			continue
		}
		st := &ColumnStats{RowCount: rows}
		if cs, ok := stats[c.ID]; ok {
			st.NullRate = cs.nullRate
			// pg_stats 用负数表示占行数的比例
			if cs.distinct < 0 {
				st.DistinctCount = int64(-cs.distinct * float64(rows))
			} else {
				st.DistinctCount = int64(cs.distinct)
			}
		}
		if s.collectStats && st.DistinctCount == 0 && rows > 0 {
			if err := s.countDistinct(ctx, c, st); err != nil {
				return nil, fmt.Errorf("collect stats for %s: %w", c.ID, err)
			}
		}
		c.Stats = st
	}

	return &Snapshot{
		DataSourceID: s.id,
		Database:     s.database,
		Columns:      columns,
		TakenAt:      time.Now().UTC(),
		Warnings:     warnings,
	}, nil
}

func (s *Source) getColumns(ctx context.Context, query string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, query, s.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var c Column
		var length sql.NullInt64
		var nullable, isPK int
		if err := rows.Scan(&c.Schema, &c.Table, &c.Name, &c.DataType, &length, &nullable, &isPK, &c.Ordinal); err != nil {
			return nil, err
		}
		c.Length = length.Int64
		c.Nullable = nullable == 1
		c.IsPrimaryKey = isPK == 1
		c.TableID = TableID(s.id, c.Schema, c.Table)
		c.ID = ColumnID(s.id, c.Schema, c.Table, c.Name)
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func (s *Source) getRowCounts(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, s.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var schema, table string
		var count sql.NullInt64
		if err := rows.Scan(&schema, &table, &count); err != nil {
			return nil, err
		}
		if count.Valid {
			counts[TableID(s.id, schema, table)] = count.Int64
		}
	}
	return counts, rows.Err()
}

type catalogStat struct {
	distinct float64
	nullRate float64
}

// getCatalogStats 读取数据库自带的统计视图
func (s *Source) getCatalogStats(ctx context.Context, query string) (map[string]catalogStat, error) {
	rows, err := s.db.QueryContext(ctx, query, s.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]catalogStat)
	for rows.Next() {
		var schema, table, column string
		var cs catalogStat
		if err := rows.Scan(&schema, &table, &column, &cs.distinct, &cs.nullRate); err != nil {
			return nil, err
		}
		stats[ColumnID(s.id, schema, table, column)] = cs
	}
	return stats, rows.Err()
}

func (s *Source) countDistinct(ctx context.Context, c *Column, st *ColumnStats) error {
	col := s.dialect.QuoteIdent(c.Name)
	query := fmt.Sprintf(
		"SELECT COUNT(DISTINCT %s), SUM(CASE WHEN %s IS NULL THEN 1 ELSE 0 END) FROM %s",
		col, col, QualifyTable(s.dialect, c.Schema, c.Table),
	)
	var distinct int64
	var nulls sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query).Scan(&distinct, &nulls); err != nil {
		return err
	}
	st.DistinctCount = distinct
	if st.RowCount > 0 {
		st.NullRate = float64(nulls.Int64) / float64(st.RowCount)
	}
	return nil
}

// Close 关闭连接
func (s *Source) Close() error {
	return s.db.Close()
}
