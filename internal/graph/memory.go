package graph

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 内存图存储
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	edges    map[string]*Edge // id -> edge
	byKey    map[EdgeKey]string
	bySource map[string]map[string]struct{} // source column -> edge ids
	byTarget map[string]map[string]struct{} // target column -> edge ids
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]*Node),
		edges:    make(map[string]*Edge),
		byKey:    make(map[EdgeKey]string),
		bySource: make(map[string]map[string]struct{}),
		byTarget: make(map[string]map[string]struct{}),
	}
}

// UpsertNodes 写入节点
func (s *MemoryStore) UpsertNodes(_ context.Context, nodes []Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range nodes {
		n := nodes[i]
		s.nodes[n.ID] = n.Clone()
	}
	return nil
}

// GetNode 获取节点
func (s *MemoryStore) GetNode(_ context.Context, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

// ListNodes 列出数据源节点，dataSourceID 为空时返回全部
func (s *MemoryStore) ListNodes(_ context.Context, dataSourceID string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Node
	for _, n := range s.nodes {
		if dataSourceID == "" || n.DataSourceID == dataSourceID {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertEdge 幂等写入边
func (s *MemoryStore) UpsertEdge(_ context.Context, e *Edge, now time.Time) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := e.Key()
	var existing *Edge
	if id, ok := s.byKey[key]; ok {
		existing = s.edges[id]
	}
	merged, res := MergeEdge(existing, e, now)
	s.edges[merged.ID] = merged
	if existing == nil {
		s.byKey[key] = merged.ID
		addIndex(s.bySource, merged.SourceColumnID, merged.ID)
		addIndex(s.byTarget, merged.TargetColumnID, merged.ID)
	}
	return res, nil
}

func addIndex(idx map[string]map[string]struct{}, col, id string) {
	set, ok := idx[col]
	if !ok {
		set = make(map[string]struct{})
		idx[col] = set
	}
	set[id] = struct{}{}
}

// MarkStale 标记未复现的边
func (s *MemoryStore) MarkStale(_ context.Context, dataSourceID string, keep map[EdgeKey]bool, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.edges {
		if e.DataSourceID != dataSourceID || e.Stale || e.Invalidated {
			continue
		}
		if keep[e.Key()] {
			continue
		}
		e.Stale = true
		n++
	}
	return n, nil
}

// InvalidateEdge 人工作废边
func (s *MemoryStore) InvalidateEdge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[id]
	if !ok {
		return ErrNotFound
	}
	e.Invalidated = true
	return nil
}

// GetEdge 获取边
func (s *MemoryStore) GetEdge(_ context.Context, id string) (*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// ListEdges 按条件列出边
func (s *MemoryStore) ListEdges(_ context.Context, f EdgeFilter) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Edge
	for _, e := range s.edges {
		if f.match(e) {
			out = append(out, e.Clone())
		}
	}
	SortEdges(out)
	return out, nil
}

// OutEdges 下游方向的边
func (s *MemoryStore) OutEdges(_ context.Context, columnID string) ([]*Edge, error) {
	return s.indexed(s.bySource, columnID), nil
}

// InEdges 上游方向的边
func (s *MemoryStore) InEdges(_ context.Context, columnID string) ([]*Edge, error) {
	return s.indexed(s.byTarget, columnID), nil
}

func (s *MemoryStore) indexed(idx map[string]map[string]struct{}, col string) []*Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Edge
	for id := range idx[col] {
		out = append(out, s.edges[id].Clone())
	}
	SortEdges(out)
	return out
}

// SortEdges 按 (source, target) 排序，保证输出稳定
func SortEdges(edges []*Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceColumnID != edges[j].SourceColumnID {
			return edges[i].SourceColumnID < edges[j].SourceColumnID
		}
		return edges[i].TargetColumnID < edges[j].TargetColumnID
	})
}
