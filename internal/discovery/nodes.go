package discovery

import (
	"sort"
	"strings"
	"time"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/graph"
)

// NodesFromSnapshot 展开快照为 database/schema/table/column 节点
func NodesFromSnapshot(snap *adapter.Snapshot, now time.Time) []graph.Node {
	dbName := snap.Database
	if dbName == "" {
		dbName = snap.DataSourceID
	}
	nodes := []graph.Node{{
		ID:            snap.DataSourceID,
		DataSourceID:  snap.DataSourceID,
		Kind:          graph.NodeKindDatabase,
		Name:          dbName,
		QualifiedName: dbName,
		UpdatedAt:     now,
	}}

	seen := make(map[string]bool)
	tables := make(map[string]int)
	for _, c := range snap.Columns {
		parent := snap.DataSourceID
		if c.Schema != "" {
			parent = adapter.SchemaID(snap.DataSourceID, c.Schema)
			if !seen[parent] {
				seen[parent] = true
				nodes = append(nodes, graph.Node{
					ID:            parent,
					DataSourceID:  snap.DataSourceID,
					Kind:          graph.NodeKindSchema,
					Name:          c.Schema,
					QualifiedName: joinName(snap.Database, c.Schema),
					ParentID:      snap.DataSourceID,
					UpdatedAt:     now,
				})
			}
		}

		ti, ok := tables[c.TableID]
		if !ok {
			ti = len(nodes)
			tables[c.TableID] = ti
			nodes = append(nodes, graph.Node{
				ID:            c.TableID,
				DataSourceID:  snap.DataSourceID,
				Kind:          graph.NodeKindTable,
				Name:          c.Table,
				QualifiedName: joinName(snap.Database, c.Schema, c.Table),
				ParentID:      parent,
				UpdatedAt:     now,
			})
		}
		// 表的行数取列统计中的最大值
		if c.Stats != nil && c.Stats.RowCount > 0 {
			if t := &nodes[ti]; t.RowCount == nil || *t.RowCount < c.Stats.RowCount {
				rows := c.Stats.RowCount
				t.RowCount = &rows
			}
		}

		n := graph.Node{
			ID:            c.ID,
			DataSourceID:  snap.DataSourceID,
			Kind:          graph.NodeKindColumn,
			Name:          c.Name,
			QualifiedName: c.QualifiedName(snap.Database),
			ParentID:      c.TableID,
			DataType:      c.DataType,
			IsPrimaryKey:  c.IsPrimaryKey,
			IsPII:         c.IsPII,
			UpdatedAt:     now,
		}
		if c.Stats != nil {
			rows, distinct, rate := c.Stats.RowCount, c.Stats.DistinctCount, c.Stats.NullRate
			n.RowCount, n.DistinctCount, n.NullRate = &rows, &distinct, &rate
		}
		nodes = append(nodes, n)
	}

	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

func joinName(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}
