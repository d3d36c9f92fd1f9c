package renderer

import (
	"fmt"
	"strings"

	"lineage-analyzer/internal/graph"
)

// MarkdownRenderer Markdown 血缘报告渲染器
type MarkdownRenderer struct{}

// NewMarkdownRenderer 创建渲染器
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{}
}

// Render 渲染为 Markdown 格式
func (m *MarkdownRenderer) Render(g *graph.Graph) string {
	var sb strings.Builder

	sb.WriteString("# 数据血缘报告\n\n")
	sb.WriteString(fmt.Sprintf("节点 %d 个，关系 %d 条\n\n", len(g.Nodes), len(g.Edges)))
	sb.WriteString("## 表结构\n\n")

	for _, t := range tables(g) {
		sb.WriteString(fmt.Sprintf("### %s\n\n", t.label))
		if t.node != nil && t.node.RowCount != nil {
			sb.WriteString(fmt.Sprintf("行数: %d\n\n", *t.node.RowCount))
		}

		if len(t.columns) > 0 {
			sb.WriteString("| 列名 | 类型 | 主键 | PII | 唯一值数 | Null率 |\n")
			sb.WriteString("|------|------|------|-----|----------|--------|\n")
			for _, col := range t.columns {
				pk, pii := "", ""
				if col.IsPrimaryKey {
					pk = "✓"
				}
				if col.IsPII {
					pii = "✓"
				}
				distinct, nullRate := "-", "-"
				if col.DistinctCount != nil {
					distinct = fmt.Sprintf("%d", *col.DistinctCount)
				}
				if col.NullRate != nil {
					nullRate = fmt.Sprintf("%.1f%%", *col.NullRate*100)
				}
				sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
					col.Name, col.DataType, pk, pii, distinct, nullRate))
			}
			sb.WriteString("\n")
		}

		m.renderTableRelations(&sb, t)
	}

	return sb.String()
}

// renderTableRelations 渲染表关系
func (m *MarkdownRenderer) renderTableRelations(sb *strings.Builder, t *tableView) {
	if len(t.out) == 0 && len(t.in) == 0 {
		return
	}

	sb.WriteString("#### 关系\n\n")

	for _, e := range t.out {
		writeRelation(sb, "引用", e)
	}
	for _, e := range t.in {
		writeRelation(sb, "被引用", e)
	}

	sb.WriteString("\n")
}

func writeRelation(sb *strings.Builder, kind string, e *graph.Edge) {
	sb.WriteString(fmt.Sprintf("- **%s** `%s` → `%s` (%s, 置信度: %.2f, %s)\n",
		kind, tableLabel(e.SourceColumnID), tableLabel(e.TargetColumnID),
		e.Method, e.Confidence, edgeStatus(e)))

	// 其他策略的结果
	if alts := e.Metadata.AlternateMethods; len(alts) > 0 {
		sb.WriteString("  - 其他方法:")
		for _, a := range alts {
			sb.WriteString(fmt.Sprintf(" %s (%.2f)", a.Method, a.Confidence))
		}
		sb.WriteString("\n")
	}
}
