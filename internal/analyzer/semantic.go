package analyzer

import (
	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/graph"
)

// semanticMinLength 过短的名字编辑距离没有意义
const semanticMinLength = 4

// semanticConfidence 距离越小置信度越高：0-1 上段，2-3 下段
func semanticConfidence(distance int) float64 {
	switch distance {
	case 0:
		return 0.80
	case 1:
		return 0.78
	case 2:
		return 0.74
	default:
		return 0.70
	}
}

type semanticTarget struct {
	col  *adapter.Column
	name string
}

// SemanticMatch 规范化名称的有界编辑距离匹配
func SemanticMatch(idx *Index, scorer SimilarityScorer, maxDistance int) ([]graph.Candidate, error) {
	if scorer == nil {
		return nil, ErrStrategyDegraded
	}
	if maxDistance <= 0 || maxDistance > DefaultSemanticMaxDistance {
		maxDistance = DefaultSemanticMaxDistance
	}

	var targets []semanticTarget
	for _, t := range idx.tables {
		for _, k := range t.keys {
			name := normalize(k.Name)
			// 裸 id 用表名补全后再比较
			if name == "id" {
				name = t.singular + "_id"
			}
			targets = append(targets, semanticTarget{col: k, name: name})
		}
	}

	out := collector{}
	for _, c := range idx.columns {
		if c.IsPrimaryKey {
			continue
		}
		name := normalize(c.Name)
		if len(name) < semanticMinLength {
			continue
		}

		best := maxDistance + 1
		var hits []*adapter.Column
		for _, tgt := range targets {
			if tgt.col.TableID == c.TableID || tgt.col.Name == c.Name {
				continue
			}
			if !typesCompatible(c.DataType, tgt.col.DataType) {
				continue
			}
			if diff := len(name) - len(tgt.name); diff > maxDistance || -diff > maxDistance {
				continue
			}
			d := scorer.Distance(name, tgt.name)
			switch {
			case d < best:
				best = d
				hits = []*adapter.Column{tgt.col}
			case d == best:
				hits = append(hits, tgt.col)
			}
		}

		for _, k := range hits {
			d := best
			out.add(c, k, graph.MethodSemanticMatch, semanticConfidence(d), graph.MatchMetadata{
				EditDistance: &d,
				Reason:       "normalized name edit distance",
			})
		}
	}
	return out.list(), nil
}
