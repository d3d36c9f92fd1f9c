package analyzer

import (
	"strings"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/graph"
)

const (
	fkExactTableConfidence    = 0.90
	fkPluralConfidence        = 0.88
	fkFallbackConfidence      = 0.85
	fkSelfReferenceConfidence = 0.85
)

// selfReferenceRoles 层级自引用的角色前缀
var selfReferenceRoles = map[string]bool{
	"parent":     true,
	"manager":    true,
	"supervisor": true,
	"reports_to": true,
}

// FKPattern 外键命名约定：去后缀、大小写风格统一、表名单复数归一
func FKPattern(idx *Index) []graph.Candidate {
	out := collector{}

	for _, c := range idx.columns {
		base, suffix, ok := splitKey(c.Name)
		if !ok {
			continue
		}
		src := idx.table(c)

		if selfReferenceRoles[base] {
			if k := src.keyFor(c.Name); k != nil && k.ID != c.ID && typesCompatible(c.DataType, k.DataType) {
				out.add(c, k, graph.MethodFKPattern, fkSelfReferenceConfidence, graph.MatchMetadata{
					MatchedTokens: []string{base, suffix},
					Reason:        "hierarchical self reference",
				})
			}
			continue
		}

		// 本表自己的主键
		if src.isKey(c) && (base == src.singular || base == src.normalized) {
			continue
		}

		for _, t := range idx.tables {
			if t.id == src.id {
				continue
			}
			conf, reason := matchTableName(base, t)
			if conf == 0 {
				continue
			}
			k := t.keyFor(c.Name)
			if k == nil || !typesCompatible(c.DataType, k.DataType) {
				continue
			}
			if !k.IsPrimaryKey && conf > fkFallbackConfidence {
				conf = fkFallbackConfidence
				reason += ", id-shaped fallback column"
			}
			out.add(c, k, graph.MethodFKPattern, conf, graph.MatchMetadata{
				MatchedTokens: append(strings.Split(base, "_"), suffix),
				Reason:        reason,
			})
		}
	}
	return out.list()
}

// matchTableName 键前缀与表名的匹配程度
func matchTableName(base string, t *tableInfo) (float64, string) {
	switch {
	case base == t.normalized:
		return fkExactTableConfidence, "prefix equals table name"
	case base == t.singular:
		return fkPluralConfidence, "prefix equals singularized table name"
	case strings.HasSuffix(base, "_"+t.singular):
		return fkFallbackConfidence, "role-prefixed table name"
	}
	return 0, ""
}

// lexicalRelation 列名与父表名是否存在弱词法关联
func lexicalRelation(c *adapter.Column, parent *tableInfo) bool {
	name := normalize(c.Name)
	if base, _, ok := splitKey(c.Name); ok {
		name = base
	}
	if name == "" {
		return false
	}
	if conf, _ := matchTableName(name, parent); conf > 0 {
		return true
	}
	return strings.Contains(name, parent.singular) || strings.Contains(parent.singular, name)
}
