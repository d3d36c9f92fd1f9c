package graph

import "time"

// NodeKind 节点类型
type NodeKind string

const (
	NodeKindDatabase NodeKind = "database"
	NodeKindSchema   NodeKind = "schema"
	NodeKindTable    NodeKind = "table"
	NodeKindColumn   NodeKind = "column"
)

// Node 图节点（由元数据提供者拥有，引擎只按 ID 引用）
type Node struct {
	ID            string    `json:"id"`
	DataSourceID  string    `json:"data_source_id"`
	Kind          NodeKind  `json:"kind"`
	Name          string    `json:"name"`
	QualifiedName string    `json:"qualified_name"`
	ParentID      string    `json:"parent_id,omitempty"`
	DataType      string    `json:"data_type,omitempty"`
	IsPrimaryKey  bool      `json:"is_primary_key,omitempty"`
	IsPII         bool      `json:"is_pii,omitempty"`
	RowCount      *int64    `json:"row_count,omitempty"`
	DistinctCount *int64    `json:"distinct_count,omitempty"`
	NullRate      *float64  `json:"null_rate,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone 复制节点
func (n *Node) Clone() *Node {
	c := *n
	if n.RowCount != nil {
		v := *n.RowCount
		c.RowCount = &v
	}
	if n.DistinctCount != nil {
		v := *n.DistinctCount
		c.DistinctCount = &v
	}
	if n.NullRate != nil {
		v := *n.NullRate
		c.NullRate = &v
	}
	return &c
}
