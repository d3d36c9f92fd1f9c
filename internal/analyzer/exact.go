package analyzer

import (
	"strings"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/graph"
)

const (
	exactPreferredConfidence = 0.95
	exactConfidence          = 0.90
)

// ExactMatch 完全同名的键列：从非键表指向键表
func ExactMatch(idx *Index) []graph.Candidate {
	out := collector{}

	byName := make(map[string][]*adapter.Column)
	for _, t := range idx.tables {
		for _, k := range t.keys {
			byName[k.Name] = append(byName[k.Name], k)
		}
	}

	for _, c := range idx.columns {
		if !isKeyShaped(c.Name) {
			continue
		}
		src := idx.table(c)
		srcIsKey := src.isKey(c)

		var preferred, others []*adapter.Column
		for _, k := range byName[c.Name] {
			if k.TableID == c.TableID || !typesCompatible(c.DataType, k.DataType) {
				continue
			}
			pref := prefixMatchesTable(c.Name, idx.table(k))
			// 两边都是键时只能依靠表名判断方向
			if srcIsKey && (!pref || prefixMatchesTable(c.Name, src)) {
				continue
			}
			if pref {
				preferred = append(preferred, k)
			} else {
				others = append(others, k)
			}
		}

		switch {
		case len(preferred) > 0:
			for _, k := range preferred {
				out.add(c, k, graph.MethodExactMatch, exactPreferredConfidence, graph.MatchMetadata{
					MatchedTokens: splitWords(c.Name),
					Reason:        "identical key column, table name matches prefix",
				})
			}
		case len(others) == 1 || (len(others) > 1 && normalize(c.Name) != "id"):
			for _, k := range others {
				out.add(c, k, graph.MethodExactMatch, exactConfidence, graph.MatchMetadata{
					MatchedTokens: splitWords(c.Name),
					Reason:        "identical key column",
				})
			}
		}
	}
	return out.list()
}

// prefixMatchesTable customer_id 的前缀是否为表名（单数或原样）
func prefixMatchesTable(colName string, t *tableInfo) bool {
	base, _, ok := splitKey(colName)
	if !ok {
		return false
	}
	return base == t.singular || base == t.normalized || strings.HasSuffix(base, "_"+t.singular)
}
