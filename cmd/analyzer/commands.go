package main

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lineage-analyzer/internal/discovery"
	"lineage-analyzer/internal/evidence"
	"lineage-analyzer/internal/graph"
	"lineage-analyzer/internal/impact"
	"lineage-analyzer/internal/renderer"
	"lineage-analyzer/internal/sqlparse"
)

func newDiscoverCmd() *cobra.Command {
	var (
		source string
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "对数据源执行一次关系发现",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ids := a.Registry.IDs()
			if source != "" {
				ids = []string{source}
			}
			if len(ids) == 0 {
				return errors.New("没有配置数据源")
			}

			var failed []error
			for _, id := range ids {
				if !jsonOutput {
					printf(cmd, "🔍 开始发现: %s\n", id)
				}
				sum, err := a.Engine.Run(ctxOf(cmd), discovery.RunRequest{DataSourceID: id, Wait: wait})
				if err != nil {
					printf(cmd, "⚠️  %s 发现失败: %v\n", id, err)
					failed = append(failed, err)
					continue
				}
				if jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
						return err
					}
					continue
				}
				printf(cmd, "✓ %d 个表, %d 个列, %d 个候选\n", sum.Tables, sum.Columns, sum.Candidates)
				printf(cmd, "  - 新建 %d, 更新 %d, 确认 %d, 过期 %d\n",
					sum.EdgesCreated, sum.EdgesUpdated, sum.EdgesConfirmed, sum.EdgesMarkedStale)
				for _, lt := range sum.LookupTables {
					printf(cmd, "  📋 码表 %s (行数: %d, 置信度: %.2f)\n", lt.TableID, lt.RowCount, lt.Confidence)
				}
				for _, m := range sum.StrategiesDegraded {
					printf(cmd, "  ⚠️  策略降级: %s\n", m)
				}
				for _, w := range sum.Warnings {
					printf(cmd, "  ⚠️  %s\n", w)
				}
			}
			if len(failed) > 0 {
				return errors.Join(failed...)
			}
			if !jsonOutput {
				printf(cmd, "\n✅ 发现完成！\n")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "数据源标识（默认全部）")
	cmd.Flags().BoolVar(&wait, "wait", false, "已有运行时排队等待")
	return cmd
}

func newImpactCmd() *cobra.Command {
	var (
		direction    string
		maxDepth     int
		includeStale bool
	)
	cmd := &cobra.Command{
		Use:   "impact <node-id>",
		Short: "影响分析（下游或上游）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := impact.ParseDirection(direction)
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			res, err := a.Impact.Traverse(ctxOf(cmd), args[0], impact.Options{
				Direction:    dir,
				MaxDepth:     maxDepth,
				IncludeStale: includeStale,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}

			printf(cmd, "🔗 %s (%s, 最大深度 %d)\n", res.StartID, res.Direction, res.MaxDepth)
			for _, t := range res.Tables {
				printf(cmd, "  %s  深度 %d  置信度 %.2f\n", t.TableID, t.Depth, t.Confidence)
				for _, n := range res.Nodes {
					if n.TableID == t.TableID {
						printf(cmd, "    - %s (%d, %.2f)\n", n.NodeID, n.Depth, n.Confidence)
					}
				}
			}
			if res.Truncated {
				printf(cmd, "⚠️  已达到深度上限，结果被截断\n")
			}
			printf(cmd, "✓ 影响 %d 个列, %d 个表\n", len(res.Nodes), len(res.Tables))
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "downstream", "方向 (downstream/upstream)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", impact.MaxDepthLimit, "最大深度")
	cmd.Flags().BoolVar(&includeStale, "include-stale", false, "包含过期的边")
	return cmd
}

func newPathCmd() *cobra.Command {
	var includeStale bool
	cmd := &cobra.Command{
		Use:   "path <from> <to>",
		Short: "两列之间置信度最高的路径",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			p, err := a.Impact.ShortestPath(ctxOf(cmd), args[0], args[1], includeStale)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), p)
			}
			printf(cmd, "🔗 %s\n", strings.Join(p.Nodes, " → "))
			printf(cmd, "✓ %d 跳, 置信度 %.2f\n", p.Hops, p.Confidence)
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeStale, "include-stale", false, "包含过期的边")
	return cmd
}

func newTraceCmd() *cobra.Command {
	var req evidence.TraceRequest
	cmd := &cobra.Command{
		Use:   "trace <edge-id>",
		Short: "对一条边采样取证",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			req.EdgeID = args[0]
			ev, err := a.Evidence.GetTraceEvidence(ctxOf(cmd), req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), ev)
			}
			printf(cmd, "📊 %s → %s\n", ev.SourceColumnID, ev.TargetColumnID)
			for _, p := range ev.SamplePairs {
				mark := "✗"
				if p.Matched {
					mark = "✓"
				}
				printf(cmd, "  %s %s %v\n", mark, p.SourceRowKey, p.SourceValues)
			}
			printf(cmd, "✓ 采样 %d 行, 匹配 %d 行, 覆盖率 %.1f%%\n", ev.SampledRows, ev.MatchedRows, ev.CoveragePct*100)
			return nil
		},
	}
	cmd.Flags().IntVar(&req.SampleSize, "sample", 0, "采样行数（默认取配置）")
	cmd.Flags().IntVar(&req.TimeWindowDays, "days", 0, "只采样最近 N 天的数据")
	cmd.Flags().BoolVar(&req.MaskPII, "mask", true, "对 PII 列脱敏")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var req evidence.ValidateRequest
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "全量校验连接条件",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			res, err := a.Evidence.ValidateJoin(ctxOf(cmd), req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printf(cmd, "📋 %s.%s → %s.%s\n", res.SourceTable, res.SourceColumn, res.TargetTable, res.TargetColumn)
			printf(cmd, "  总行数 %d, 匹配 %d, 孤儿 %d, 空键 %d, 匹配率 %.1f%%\n",
				res.TotalRows, res.MatchedRows, res.OrphanRows, res.NullKeys, res.MatchRate*100)
			for _, d := range res.Discrepancies {
				printf(cmd, "  ⚠️  [%s] %s\n", d.Severity, d.Message)
			}
			if res.Incomplete {
				printf(cmd, "⚠️  结果不完整 (%d/%d): %s\n", res.PhasesCompleted, res.PhasesTotal, res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.DataSourceID, "source", "", "数据源标识")
	cmd.Flags().StringVar(&req.SourceTable, "source-table", "", "子表")
	cmd.Flags().StringVar(&req.TargetTable, "target-table", "", "父表")
	cmd.Flags().StringVar(&req.JoinColumn, "join", "", "连接列 (col 或 src=tgt)")
	cmd.Flags().BoolVar(&req.AllowFullScan, "full-scan", false, "允许超过行数上限的全表校验")
	cmd.MarkFlagRequired("source-table")
	cmd.MarkFlagRequired("target-table")
	cmd.MarkFlagRequired("join")
	return cmd
}

func newAnalyzeSQLCmd() *cobra.Command {
	var (
		dialect string
		file    string
	)
	cmd := &cobra.Command{
		Use:   "analyze-sql [query]",
		Short: "从 SQL 文本提取表、列和连接条件",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(cmd, args, file)
			if err != nil {
				return err
			}
			res, err := sqlparse.AnalyzeSQL(query, dialect)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printf(cmd, "📋 表:\n")
			for _, t := range res.Tables {
				if t.Alias != "" {
					printf(cmd, "  - %s (%s)\n", t.FullName(), t.Alias)
				} else {
					printf(cmd, "  - %s\n", t.FullName())
				}
			}
			printf(cmd, "🔗 连接条件:\n")
			for _, j := range res.JoinConditions {
				printf(cmd, "  - %s = %s [%s]\n", j.Left, j.Right, j.JoinType)
			}
			for _, w := range res.Warnings {
				printf(cmd, "⚠️  %s\n", w)
			}
			printf(cmd, "✓ 置信度 %.2f\n", res.Confidence)
			return nil
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "ansi", "方言 (ansi/mysql/postgres/sqlserver)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "从文件读取查询，- 为标准输入")
	return cmd
}

func readQuery(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	case file != "":
		b, err := os.ReadFile(file)
		return string(b), err
	}
	return "", errors.New("需要提供查询文本或 --file")
}

func newGraphCmd() *cobra.Command {
	var (
		source       string
		format       string
		output       string
		includeStale bool
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "导出血缘图 (json/mermaid/markdown)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rend renderer.Renderer
			if format != "json" {
				var err error
				if rend, err = renderer.ByFormat(format); err != nil {
					return err
				}
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			g, err := graph.Load(ctxOf(cmd), a.Store, graph.EdgeFilter{DataSourceID: source, IncludeStale: includeStale})
			if err != nil {
				return err
			}
			var content []byte
			if rend != nil {
				content = []byte(rend.Render(g))
			} else if content, err = g.ToJSON(); err != nil {
				return err
			}

			if output == "" {
				_, err := cmd.OutOrStdout().Write(content)
				return err
			}
			if err := os.WriteFile(output, content, 0644); err != nil {
				return err
			}
			printf(cmd, "✓ %s (%d 个节点, %d 条边)\n", output, len(g.Nodes), len(g.Edges))
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "数据源标识（默认全部）")
	cmd.Flags().StringVar(&format, "format", "json", "格式 (json/mermaid/markdown)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "输出文件（默认标准输出）")
	cmd.Flags().BoolVar(&includeStale, "include-stale", false, "包含过期的边")
	return cmd
}
