package graph

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// DiscoveryMethod 发现方法
type DiscoveryMethod string

const (
	MethodExactMatch       DiscoveryMethod = "exact_match"
	MethodFKPattern        DiscoveryMethod = "fk_pattern"
	MethodSemanticMatch    DiscoveryMethod = "semantic_match"
	MethodCardinalityMatch DiscoveryMethod = "cardinality_match"
)

// Rank 置信度带排序，置信度相同时用于确定性取舍
func (m DiscoveryMethod) Rank() int {
	switch m {
	case MethodExactMatch:
		return 4
	case MethodFKPattern:
		return 3
	case MethodSemanticMatch:
		return 2
	case MethodCardinalityMatch:
		return 1
	}
	return 0
}

// edgeNamespace 边 ID 命名空间（基于键的确定性 UUID）
var edgeNamespace = uuid.MustParse("6f2c8a4e-3b1d-5e7f-9a0b-1c2d3e4f5a6b")

// EdgeKey 边唯一键
type EdgeKey struct {
	SourceColumnID string
	TargetColumnID string
}

func (k EdgeKey) String() string {
	return k.SourceColumnID + "->" + k.TargetColumnID
}

// EdgeID 由键派生的稳定 ID
func EdgeID(k EdgeKey) string {
	return uuid.NewSHA1(edgeNamespace, []byte(k.String())).String()
}

// AlternateMethod 其他策略的发现结果
type AlternateMethod struct {
	Method     DiscoveryMethod `json:"method"`
	Confidence float64         `json:"confidence"`
}

// MatchMetadata 匹配细节
type MatchMetadata struct {
	SourceName       string            `json:"source_name,omitempty"`
	TargetName       string            `json:"target_name,omitempty"`
	MatchedTokens    []string          `json:"matched_tokens,omitempty"`
	EditDistance     *int              `json:"edit_distance,omitempty"`
	ChildDistinct    int64             `json:"child_distinct,omitempty"`
	ParentRows       int64             `json:"parent_rows,omitempty"`
	CardinalityRatio float64           `json:"cardinality_ratio,omitempty"`
	LexicalRelation  bool              `json:"lexical_relation,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	AlternateMethods []AlternateMethod `json:"alternate_methods,omitempty"`
}

func (m MatchMetadata) clone() MatchMetadata {
	c := m
	if m.MatchedTokens != nil {
		c.MatchedTokens = append([]string(nil), m.MatchedTokens...)
	}
	if m.EditDistance != nil {
		d := *m.EditDistance
		c.EditDistance = &d
	}
	if m.AlternateMethods != nil {
		c.AlternateMethods = append([]AlternateMethod(nil), m.AlternateMethods...)
	}
	return c
}

// Candidate 策略产出的候选边
type Candidate struct {
	SourceColumnID string
	TargetColumnID string
	SourceTableID  string
	TargetTableID  string
	Method         DiscoveryMethod
	Confidence     float64
	Metadata       MatchMetadata
}

// Key 候选边键
func (c Candidate) Key() EdgeKey {
	return EdgeKey{SourceColumnID: c.SourceColumnID, TargetColumnID: c.TargetColumnID}
}

// Edge 持久化的有向边
type Edge struct {
	ID                string          `json:"id"`
	DataSourceID      string          `json:"data_source_id"`
	SourceColumnID    string          `json:"source_column_id"`
	TargetColumnID    string          `json:"target_column_id"`
	SourceTableID     string          `json:"source_table_id"`
	TargetTableID     string          `json:"target_table_id"`
	Method            DiscoveryMethod `json:"discovery_method"`
	Confidence        float64         `json:"confidence"`
	Metadata          MatchMetadata   `json:"match_metadata"`
	Stale             bool            `json:"stale"`
	Invalidated       bool            `json:"invalidated"`
	FirstDiscoveredAt time.Time       `json:"first_discovered_at"`
	LastConfirmedAt   time.Time       `json:"last_confirmed_at"`
}

// Key 边键
func (e *Edge) Key() EdgeKey {
	return EdgeKey{SourceColumnID: e.SourceColumnID, TargetColumnID: e.TargetColumnID}
}

// Clone 深拷贝
func (e *Edge) Clone() *Edge {
	c := *e
	c.Metadata = e.Metadata.clone()
	return &c
}

// Traversable 是否参与影响分析
func (e *Edge) Traversable(includeStale bool) bool {
	if e.Invalidated {
		return false
	}
	return includeStale || !e.Stale
}

// UpsertResult 幂等写入结果
type UpsertResult int

const (
	UpsertCreated   UpsertResult = iota // 新建
	UpsertUpgraded                      // 置信度提升
	UpsertRevived                       // 过期边被重新确认
	UpsertConfirmed                     // 仅刷新确认时间
)

// MergeEdge 计算写入后的边：只允许严格提升置信度，绝不降级
func MergeEdge(existing, incoming *Edge, now time.Time) (*Edge, UpsertResult) {
	if existing == nil {
		e := incoming.Clone()
		if e.ID == "" {
			e.ID = EdgeID(e.Key())
		}
		e.FirstDiscoveredAt = now
		e.LastConfirmedAt = now
		e.Stale = false
		return e, UpsertCreated
	}

	merged := existing.Clone()
	merged.LastConfirmedAt = now
	wasStale := merged.Stale
	merged.Stale = false

	if incoming.Confidence > existing.Confidence {
		merged.Method = incoming.Method
		merged.Confidence = incoming.Confidence
		merged.Metadata = incoming.Metadata.clone()
	}
	// 备选方法取两次结果的并集，同一方法保留较高置信度
	merged.Metadata.AlternateMethods = mergeAlternates(merged.Method,
		existing.Metadata.AlternateMethods, incoming.Metadata.AlternateMethods,
		[]AlternateMethod{
			{Method: existing.Method, Confidence: existing.Confidence},
			{Method: incoming.Method, Confidence: incoming.Confidence},
		})

	switch {
	case incoming.Confidence > existing.Confidence:
		return merged, UpsertUpgraded
	case wasStale:
		return merged, UpsertRevived
	default:
		return merged, UpsertConfirmed
	}
}

// mergeAlternates 按方法去重，排除规范方法，按置信度降序
func mergeAlternates(canonical DiscoveryMethod, lists ...[]AlternateMethod) []AlternateMethod {
	best := make(map[DiscoveryMethod]float64)
	for _, l := range lists {
		for _, a := range l {
			if a.Method == canonical || a.Method == "" {
				continue
			}
			if c, ok := best[a.Method]; !ok || a.Confidence > c {
				best[a.Method] = a.Confidence
			}
		}
	}
	if len(best) == 0 {
		return nil
	}
	out := make([]AlternateMethod, 0, len(best))
	for m, c := range best {
		out = append(out, AlternateMethod{Method: m, Confidence: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Method.Rank() > out[j].Method.Rank()
	})
	return out
}

func hasAlternate(alts []AlternateMethod, m DiscoveryMethod) bool {
	for _, a := range alts {
		if a.Method == m {
			return true
		}
	}
	return false
}
