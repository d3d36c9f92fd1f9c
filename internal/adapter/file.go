package adapter

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// catalogFile YAML 目录快照格式
type catalogFile struct {
	DataSource string         `yaml:"data_source"`
	Database   string         `yaml:"database"`
	Tables     []catalogTable `yaml:"tables"`
}

type catalogTable struct {
	Schema   string          `yaml:"schema"`
	Name     string          `yaml:"name"`
	RowCount int64           `yaml:"row_count"`
	Columns  []catalogColumn `yaml:"columns"`
}

type catalogColumn struct {
	Name          string  `yaml:"name"`
	Type          string  `yaml:"type"`
	PrimaryKey    bool    `yaml:"primary_key"`
	Nullable      bool    `yaml:"nullable"`
	PII           bool    `yaml:"pii"`
	DistinctCount int64   `yaml:"distinct_count"`
	NullRate      float64 `yaml:"null_rate"`
}

// FileProvider 从 YAML 目录文件读取元数据（无在线查询能力）
type FileProvider struct {
	id   string
	path string
}

// NewFileProvider 创建文件元数据提供者
func NewFileProvider(id, path string) *FileProvider {
	return &FileProvider{id: id, path: path}
}

// Snapshot 读取并解析目录文件
func (p *FileProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(p.id, data)
}

// ParseCatalog 解析 YAML 目录内容
func ParseCatalog(id string, data []byte) (*Snapshot, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if id == "" {
		id = cf.DataSource
	}
	if id == "" {
		return nil, fmt.Errorf("parse catalog: data_source is required")
	}

	snap := &Snapshot{
		DataSourceID: id,
		Database:     cf.Database,
		TakenAt:      time.Now().UTC(),
	}
	for _, t := range cf.Tables {
		for i, c := range t.Columns {
			col := Column{
				Schema:       t.Schema,
				Table:        t.Name,
				Name:         c.Name,
				DataType:     c.Type,
				Ordinal:      i + 1,
				Nullable:     c.Nullable,
				IsPrimaryKey: c.PrimaryKey,
				IsPII:        c.PII,
			}
			if t.RowCount > 0 || c.DistinctCount > 0 {
				col.Stats = &ColumnStats{
					RowCount:      t.RowCount,
					DistinctCount: c.DistinctCount,
					NullRate:      c.NullRate,
				}
			}
			snap.Columns = append(snap.Columns, col)
		}
	}
	snap.Normalize()
	return snap, nil
}
