package graph

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound 节点或边不存在
var ErrNotFound = errors.New("not found")

// EdgeFilter 边查询条件
type EdgeFilter struct {
	DataSourceID string
	IncludeStale bool
	// IncludeInvalidated 包含被人工作废的边
	IncludeInvalidated bool
}

func (f EdgeFilter) match(e *Edge) bool {
	if f.DataSourceID != "" && e.DataSourceID != f.DataSourceID {
		return false
	}
	if e.Stale && !f.IncludeStale {
		return false
	}
	if e.Invalidated && !f.IncludeInvalidated {
		return false
	}
	return true
}

// Store 图存储接口
type Store interface {
	UpsertNodes(ctx context.Context, nodes []Node) error
	GetNode(ctx context.Context, id string) (*Node, error)
	ListNodes(ctx context.Context, dataSourceID string) ([]*Node, error)

	// UpsertEdge 按 (source, target) 幂等写入
	UpsertEdge(ctx context.Context, e *Edge, now time.Time) (UpsertResult, error)
	// MarkStale 将数据源内未被本次运行复现的边标记为过期，返回新标记数量
	MarkStale(ctx context.Context, dataSourceID string, keep map[EdgeKey]bool, now time.Time) (int, error)
	InvalidateEdge(ctx context.Context, id string) error
	GetEdge(ctx context.Context, id string) (*Edge, error)
	ListEdges(ctx context.Context, f EdgeFilter) ([]*Edge, error)
	// OutEdges 以该列为源的边（下游方向）
	OutEdges(ctx context.Context, columnID string) ([]*Edge, error)
	// InEdges 以该列为目标的边（上游方向）
	InEdges(ctx context.Context, columnID string) ([]*Edge, error)
}

// Graph 导出视图
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Load 读取数据源的节点和边
func Load(ctx context.Context, s Store, f EdgeFilter) (*Graph, error) {
	nodes, err := s.ListNodes(ctx, f.DataSourceID)
	if err != nil {
		return nil, err
	}
	edges, err := s.ListEdges(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Graph{Nodes: nodes, Edges: edges}, nil
}

// ToJSON 导出为JSON
func (g *Graph) ToJSON() ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}
