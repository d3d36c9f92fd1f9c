package adapter

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnknownSource 未注册的数据源
	ErrUnknownSource = errors.New("unknown data source")
	// ErrNotQueryable 数据源不支持在线查询（例如静态目录文件）
	ErrNotQueryable = errors.New("data source does not support live queries")
)

// MetadataProvider 元数据提供者接口
type MetadataProvider interface {
	// Snapshot 获取一次完整的元数据快照
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// RowQuerier 在线数据查询接口（采样、校验）
type RowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// LiveSource 可在线查询的数据源
type LiveSource interface {
	RowQuerier
	Dialect() Dialect
	Schema() string
}

// Snapshot 元数据快照
type Snapshot struct {
	DataSourceID string    `json:"data_source_id"`
	Database     string    `json:"database"`
	Columns      []Column  `json:"columns"`
	TakenAt      time.Time `json:"taken_at"`
	// Warnings 不影响快照可用性的问题（如统计视图无权限）
	Warnings []string `json:"warnings,omitempty"`
}

// Column 列描述（ColumnDescriptor）
type Column struct {
	ID           string       `json:"id"`
	TableID      string       `json:"table_id"`
	Schema       string       `json:"schema"`
	Table        string       `json:"table"`
	Name         string       `json:"name"`
	DataType     string       `json:"data_type"`
	Ordinal      int          `json:"ordinal_position"`
	Length       int64        `json:"length"`
	Nullable     bool         `json:"nullable"`
	IsPrimaryKey bool         `json:"is_primary_key"`
	IsPII        bool         `json:"is_pii"`
	Stats        *ColumnStats `json:"stats,omitempty"`
}

// ColumnStats 列统计（由外部 profiling 提供，可选）
type ColumnStats struct {
	RowCount      int64   `json:"row_count"`
	DistinctCount int64   `json:"distinct_count"`
	NullRate      float64 `json:"null_rate"`
}

// SourceConfig 数据源配置
type SourceConfig struct {
	ID           string `koanf:"id"`
	Type         string `koanf:"type"` // mysql/sqlserver/postgres/file
	DSN          string `koanf:"dsn"`
	Schema       string `koanf:"schema"`
	Path         string `koanf:"path"`
	CollectStats bool   `koanf:"collect_stats"`
}

// TableID 表标识（数据源内稳定）
func TableID(dataSourceID, schema, table string) string {
	if schema == "" {
		return dataSourceID + ":" + table
	}
	return dataSourceID + ":" + schema + "." + table
}

// ColumnID 列标识（数据源内稳定）
func ColumnID(dataSourceID, schema, table, column string) string {
	return TableID(dataSourceID, schema, table) + "." + column
}

// SchemaID 模式标识
func SchemaID(dataSourceID, schema string) string {
	return dataSourceID + ":" + schema
}

// QualifiedName 点分全名 db.schema.table.column
func (c Column) QualifiedName(database string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{database, c.Schema, c.Table, c.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Normalize 补齐列标识
func (s *Snapshot) Normalize() {
	for i := range s.Columns {
		c := &s.Columns[i]
		if c.TableID == "" {
			c.TableID = TableID(s.DataSourceID, c.Schema, c.Table)
		}
		if c.ID == "" {
			c.ID = ColumnID(s.DataSourceID, c.Schema, c.Table, c.Name)
		}
	}
}

// HasStats 快照中是否存在任何统计信息
func (s *Snapshot) HasStats() bool {
	for _, c := range s.Columns {
		if c.Stats != nil && c.Stats.RowCount > 0 {
			return true
		}
	}
	return false
}
