package discovery

import (
	"sort"

	"lineage-analyzer/internal/graph"
)

// Reconcile 按列对分组，取最高置信度为规范方法，其余记入 alternateMethods
func Reconcile(dataSourceID string, cands []graph.Candidate) []*graph.Edge {
	groups := make(map[graph.EdgeKey][]graph.Candidate)
	for _, c := range cands {
		groups[c.Key()] = append(groups[c.Key()], c)
	}

	edges := make([]*graph.Edge, 0, len(groups))
	for key, group := range groups {
		sort.SliceStable(group, func(i, j int) bool { return better(group[i], group[j]) })
		canonical := group[0]

		meta := canonical.Metadata
		meta.AlternateMethods = nil
		seen := map[graph.DiscoveryMethod]bool{canonical.Method: true}
		for _, c := range group[1:] {
			if seen[c.Method] {
				continue
			}
			seen[c.Method] = true
			meta.AlternateMethods = append(meta.AlternateMethods, graph.AlternateMethod{
				Method:     c.Method,
				Confidence: c.Confidence,
			})
		}

		edges = append(edges, &graph.Edge{
			ID:             graph.EdgeID(key),
			DataSourceID:   dataSourceID,
			SourceColumnID: canonical.SourceColumnID,
			TargetColumnID: canonical.TargetColumnID,
			SourceTableID:  canonical.SourceTableID,
			TargetTableID:  canonical.TargetTableID,
			Method:         canonical.Method,
			Confidence:     canonical.Confidence,
			Metadata:       meta,
		})
	}
	graph.SortEdges(edges)
	return edges
}

// better 置信度优先，相同时按方法等级
func better(a, b graph.Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Method.Rank() > b.Method.Rank()
}
