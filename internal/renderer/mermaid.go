package renderer

import (
	"fmt"
	"strings"

	"lineage-analyzer/internal/graph"
)

// MermaidRenderer Mermaid ER 图渲染器
type MermaidRenderer struct{}

// NewMermaidRenderer 创建渲染器
func NewMermaidRenderer() *MermaidRenderer {
	return &MermaidRenderer{}
}

// Render 渲染为 Mermaid 格式
func (m *MermaidRenderer) Render(g *graph.Graph) string {
	var sb strings.Builder

	sb.WriteString("erDiagram\n")

	views := tables(g)
	for _, t := range views {
		if len(t.columns) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("    %s {\n", entity(t.label)))
		for _, col := range t.columns {
			dataType := col.DataType
			if dataType == "" {
				dataType = "unknown"
			}
			keys := ""
			if col.IsPrimaryKey {
				keys = " PK"
			}
			sb.WriteString(fmt.Sprintf("        %s %s%s\n", entity(dataType), entity(col.Name), keys))
		}
		sb.WriteString("    }\n")
	}

	sb.WriteString("\n")

	// 关系：父表在左，子表在右
	for _, t := range views {
		for _, e := range t.out {
			if e.Invalidated {
				continue
			}
			relType := "||--o{"
			if e.Stale || (e.Method != graph.MethodExactMatch && e.Method != graph.MethodFKPattern) {
				relType = "||..o{" // 虚线表示弱推断或已过期
			}
			label := fmt.Sprintf("\"%s %s %.2f\"", columnName(e.SourceColumnID), e.Method, e.Confidence)
			sb.WriteString(fmt.Sprintf("    %s %s %s : %s\n",
				entity(tableLabel(e.TargetTableID)), relType, entity(t.label), label))
		}
	}

	return sb.String()
}

// entity Mermaid 标识符只允许字母数字和下划线
func entity(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
