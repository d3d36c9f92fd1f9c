package renderer

import (
	"fmt"
	"sort"
	"strings"

	"lineage-analyzer/internal/graph"
)

// Renderer 图渲染器
type Renderer interface {
	Render(g *graph.Graph) string
}

// ByFormat 按格式获取渲染器
func ByFormat(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "mermaid":
		return NewMermaidRenderer(), nil
	case "markdown", "md":
		return NewMarkdownRenderer(), nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// tableView 按表组织的节点和边
type tableView struct {
	id      string
	label   string
	node    *graph.Node
	columns []*graph.Node
	out     []*graph.Edge
	in      []*graph.Edge
}

// tables 按表 ID 排序的视图；只出现在边上的表也会列出
func tables(g *graph.Graph) []*tableView {
	byID := make(map[string]*tableView)
	get := func(id string) *tableView {
		t, ok := byID[id]
		if !ok {
			t = &tableView{id: id, label: tableLabel(id)}
			byID[id] = t
		}
		return t
	}

	for _, n := range g.Nodes {
		if n.Kind == graph.NodeKindTable {
			get(n.ID).node = n
		}
	}
	for _, n := range g.Nodes {
		if n.Kind == graph.NodeKindColumn {
			t := get(n.ParentID)
			t.columns = append(t.columns, n)
		}
	}
	for _, e := range g.Edges {
		get(e.SourceTableID).out = append(get(e.SourceTableID).out, e)
		get(e.TargetTableID).in = append(get(e.TargetTableID).in, e)
	}

	out := make([]*tableView, 0, len(byID))
	for _, t := range byID {
		sort.Slice(t.columns, func(i, j int) bool { return t.columns[i].ID < t.columns[j].ID })
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// tableLabel 去掉数据源前缀：ds:schema.table -> schema.table
func tableLabel(id string) string {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// columnName 列 ID 的最后一段
func columnName(id string) string {
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[i+1:]
	}
	return id
}

func edgeStatus(e *graph.Edge) string {
	switch {
	case e.Invalidated:
		return "invalidated"
	case e.Stale:
		return "stale"
	}
	return "active"
}
