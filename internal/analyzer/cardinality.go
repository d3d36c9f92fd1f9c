package analyzer

import (
	"math"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/graph"
)

const (
	cardinalityLexicalConfidence = 0.60
	cardinalityConfidence        = 0.50
)

// CardinalityMatch 基于统计的父子推断：子列基数与父表行数接近
func CardinalityMatch(idx *Index, tolerance float64) ([]graph.Candidate, error) {
	if !idx.HasStats() {
		return nil, ErrStrategyDegraded
	}
	if tolerance <= 0 {
		tolerance = DefaultCardinalityTolerance
	}

	out := collector{}
	for _, c := range idx.columns {
		if c.IsPrimaryKey || c.Stats == nil || c.Stats.DistinctCount <= 0 {
			continue
		}
		child := idx.table(c)

		var best *adapter.Column
		var bestParent *tableInfo
		var bestLexical bool
		bestDev := math.MaxFloat64
		for _, parent := range idx.tables {
			if parent.id == child.id || parent.rowCount <= 0 || child.rowCount <= parent.rowCount {
				continue
			}
			dev := math.Abs(float64(c.Stats.DistinctCount-parent.rowCount)) / float64(parent.rowCount)
			if dev > tolerance {
				continue
			}
			k := parent.keyFor(c.Name)
			if k == nil || !typesCompatible(c.DataType, k.DataType) {
				continue
			}
			lexical := lexicalRelation(c, parent)
			// 词法关联优先，其次偏差更小
			if best == nil || (lexical && !bestLexical) || (lexical == bestLexical && dev < bestDev) {
				best, bestParent, bestLexical, bestDev = k, parent, lexical, dev
			}
		}
		if best == nil {
			continue
		}

		conf := cardinalityConfidence
		if bestLexical {
			conf = cardinalityLexicalConfidence
		}
		out.add(c, best, graph.MethodCardinalityMatch, conf, graph.MatchMetadata{
			ChildDistinct:    c.Stats.DistinctCount,
			ParentRows:       bestParent.rowCount,
			CardinalityRatio: float64(c.Stats.DistinctCount) / float64(bestParent.rowCount),
			LexicalRelation:  bestLexical,
			Reason:           "child distinct count within tolerance of parent row count",
		})
	}
	return out.list(), nil
}
