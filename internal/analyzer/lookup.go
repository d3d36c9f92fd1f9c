package analyzer

import (
	"sort"

	"lineage-analyzer/internal/graph"
)

// MaxLookupRows 码表行数上限
const MaxLookupRows = 1000

// LookupTable 枚举/码表
type LookupTable struct {
	TableID      string   `json:"table_id"`
	RowCount     int64    `json:"row_count"`
	KeyColumn    string   `json:"key_column"`
	ValueColumn  string   `json:"value_column,omitempty"`
	Confidence   float64  `json:"confidence"`
	ReferencedBy []string `json:"referenced_by,omitempty"` // 引用它的表
}

var (
	lookupKeyWords   = map[string]bool{"code": true, "id": true, "key": true, "type": true}
	lookupValueWords = map[string]bool{"name": true, "label": true, "desc": true, "description": true, "value": true, "title": true}
)

// DetectLookupTables 检测码表：行数少，有 code/id 键列和 name/label 值列。
// 没有行数统计的表不参与判断。
func DetectLookupTables(idx *Index, cands []graph.Candidate) []LookupTable {
	refs := make(map[string]map[string]bool)
	for _, c := range cands {
		if c.SourceTableID == c.TargetTableID {
			continue
		}
		if refs[c.TargetTableID] == nil {
			refs[c.TargetTableID] = make(map[string]bool)
		}
		refs[c.TargetTableID][c.SourceTableID] = true
	}

	var out []LookupTable
	for _, t := range idx.tables {
		if t.rowCount <= 0 || t.rowCount > MaxLookupRows {
			continue
		}
		keyCol, valueCol := lookupColumns(t)
		if keyCol == "" {
			continue
		}
		conf := lookupConfidence(t, keyCol, valueCol)
		if conf <= 0.6 {
			continue
		}
		lt := LookupTable{
			TableID:     t.id,
			RowCount:    t.rowCount,
			KeyColumn:   keyCol,
			ValueColumn: valueCol,
			Confidence:  conf,
		}
		for src := range refs[t.id] {
			lt.ReferencedBy = append(lt.ReferencedBy, src)
		}
		sort.Strings(lt.ReferencedBy)
		out = append(out, lt)
	}
	return out
}

// lookupColumns 主键优先作为键列
func lookupColumns(t *tableInfo) (keyCol, valueCol string) {
	if len(t.keys) == 1 {
		keyCol = t.keys[0].Name
	}
	for _, c := range t.columns {
		words := splitWords(c.Name)
		if len(words) == 0 {
			continue
		}
		last := words[len(words)-1]
		if keyCol == "" && lookupKeyWords[last] {
			keyCol = c.Name
		}
		if valueCol == "" && lookupValueWords[last] {
			valueCol = c.Name
		}
	}
	return keyCol, valueCol
}

func lookupConfidence(t *tableInfo, keyCol, valueCol string) float64 {
	score := 0.0

	// 行数越少越像码表
	switch {
	case t.rowCount < 100:
		score += 0.4
	case t.rowCount < 500:
		score += 0.3
	default:
		score += 0.2
	}

	if keyCol != "" && valueCol != "" {
		score += 0.4
	} else if keyCol != "" {
		score += 0.2
	}

	// 典型码表 2-5 列
	if len(t.columns) <= 5 {
		score += 0.2
	}
	return score
}
