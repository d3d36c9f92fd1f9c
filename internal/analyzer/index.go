package analyzer

import (
	"sort"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/graph"
)

// tableInfo 表级索引
type tableInfo struct {
	id         string
	name       string
	normalized string
	singular   string
	columns    []*adapter.Column
	keys       []*adapter.Column // 主键；无主键时为 id 形状列
	rowCount   int64
}

func (t *tableInfo) isKey(c *adapter.Column) bool {
	for _, k := range t.keys {
		if k.ID == c.ID {
			return true
		}
	}
	return false
}

// keyFor 选择被引用的键列；复合主键时按名称挑选，无法确定时返回 nil
func (t *tableInfo) keyFor(refName string) *adapter.Column {
	if len(t.keys) == 1 {
		return t.keys[0]
	}
	ref := normalize(refName)
	for _, want := range []string{ref, "id", t.singular + "_id"} {
		for _, k := range t.keys {
			if normalize(k.Name) == want {
				return k
			}
		}
	}
	return nil
}

// Index 只读的元数据快照索引，供各策略并发读取
type Index struct {
	tables   []*tableInfo
	byID     map[string]*tableInfo
	columns  []*adapter.Column
	hasStats bool
}

// NewIndex 构建索引
func NewIndex(snap *adapter.Snapshot, cfg RunConfig) *Index {
	idx := &Index{byID: make(map[string]*tableInfo)}
	for i := range snap.Columns {
		c := &snap.Columns[i]
		if cfg.ExcludePII && c.IsPII {
			continue
		}
		t, ok := idx.byID[c.TableID]
		if !ok {
			t = &tableInfo{
				id:         c.TableID,
				name:       c.Table,
				normalized: normalize(c.Table),
				singular:   singularize(c.Table),
			}
			idx.byID[c.TableID] = t
			idx.tables = append(idx.tables, t)
		}
		t.columns = append(t.columns, c)
		if c.Stats != nil && c.Stats.RowCount > t.rowCount {
			t.rowCount = c.Stats.RowCount
		}
		idx.columns = append(idx.columns, c)
	}

	for _, t := range idx.tables {
		for _, c := range t.columns {
			if c.IsPrimaryKey {
				t.keys = append(t.keys, c)
			}
		}
		if len(t.keys) == 0 {
			for _, c := range t.columns {
				n := normalize(c.Name)
				if n == "id" || n == t.singular+"_id" {
					t.keys = append(t.keys, c)
				}
			}
		}
	}

	// 基数分析需要父表行数和非主键列的基数，二者缺一即视为无统计
	var rows, distinct bool
	for _, t := range idx.tables {
		rows = rows || t.rowCount > 0
	}
	for _, c := range idx.columns {
		if !c.IsPrimaryKey && c.Stats != nil && c.Stats.DistinctCount > 0 {
			distinct = true
			break
		}
	}
	idx.hasStats = rows && distinct

	sort.Slice(idx.tables, func(i, j int) bool { return idx.tables[i].id < idx.tables[j].id })
	sort.Slice(idx.columns, func(i, j int) bool { return idx.columns[i].ID < idx.columns[j].ID })
	return idx
}

// HasStats 是否有可供基数分析的统计（行数及非主键列基数）
func (idx *Index) HasStats() bool { return idx.hasStats }

func (idx *Index) table(c *adapter.Column) *tableInfo {
	return idx.byID[c.TableID]
}

// collector 单次策略内按列对去重，保留最高置信度
type collector map[graph.EdgeKey]graph.Candidate

func (c collector) add(src, tgt *adapter.Column, m graph.DiscoveryMethod, conf float64, md graph.MatchMetadata) {
	cand := graph.Candidate{
		SourceColumnID: src.ID,
		TargetColumnID: tgt.ID,
		SourceTableID:  src.TableID,
		TargetTableID:  tgt.TableID,
		Method:         m,
		Confidence:     conf,
		Metadata:       md,
	}
	cand.Metadata.SourceName = src.Name
	cand.Metadata.TargetName = tgt.Name
	if old, ok := c[cand.Key()]; ok && old.Confidence >= conf {
		return
	}
	c[cand.Key()] = cand
}

func (c collector) list() []graph.Candidate {
	out := make([]graph.Candidate, 0, len(c))
	for _, cand := range c {
		out = append(out, cand)
	}
	SortCandidates(out)
	return out
}

// SortCandidates 按 (source, target) 排序
func SortCandidates(cands []graph.Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].SourceColumnID != cands[j].SourceColumnID {
			return cands[i].SourceColumnID < cands[j].SourceColumnID
		}
		return cands[i].TargetColumnID < cands[j].TargetColumnID
	})
}
