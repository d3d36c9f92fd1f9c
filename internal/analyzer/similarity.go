package analyzer

import "github.com/texttheater/golang-levenshtein/levenshtein"

// SimilarityScorer 模糊匹配能力（可插拔，部署中可能不可用）
type SimilarityScorer interface {
	// Distance 编辑距离
	Distance(a, b string) int
}

// LevenshteinScorer 基于 Levenshtein 距离的实现
type LevenshteinScorer struct{}

// Distance 插入、删除、替换代价均为 1
func (LevenshteinScorer) Distance(a, b string) int {
	return levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptionsWithSub)
}
