package analyzer

const (
	// DefaultSemanticMaxDistance 语义匹配的最大编辑距离
	DefaultSemanticMaxDistance = 3
	// DefaultCardinalityTolerance 基数匹配允许的偏差
	DefaultCardinalityTolerance = 0.20
)

// RunConfig 单次发现运行的显式配置
type RunConfig struct {
	ExactMatch  bool
	FKPattern   bool
	Semantic    bool
	Cardinality bool

	SemanticMaxDistance  int
	CardinalityTolerance float64
	// Scorer 为 nil 时语义匹配降级
	Scorer SimilarityScorer
	// ExcludePII 不在 PII 列上推断关系
	ExcludePII bool
}

// DefaultRunConfig 默认全部策略开启
func DefaultRunConfig() RunConfig {
	return RunConfig{
		ExactMatch:           true,
		FKPattern:            true,
		Semantic:             true,
		Cardinality:          true,
		SemanticMaxDistance:  DefaultSemanticMaxDistance,
		CardinalityTolerance: DefaultCardinalityTolerance,
		Scorer:               LevenshteinScorer{},
	}
}
