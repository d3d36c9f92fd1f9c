package evidence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/graph"
)

// TraceRequest 取证请求
type TraceRequest struct {
	EdgeID         string
	SampleSize     int
	TimeWindowDays int
	MaskPII        bool
}

// SamplePair 一条采样行及其匹配结果
type SamplePair struct {
	SourceRowKey string            `json:"source_row_key"`
	TargetRowKey string            `json:"target_row_key,omitempty"`
	SourceValues map[string]string `json:"source_values"`
	TargetValues map[string]string `json:"target_values,omitempty"`
	Matched      bool              `json:"matched"`
	MatchedAt    *time.Time        `json:"matched_at,omitempty"`
}

// TimeWindow 采样时间窗口
type TimeWindow struct {
	Days   int        `json:"days"`
	Column string     `json:"column,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	// Applied 源表没有时间列时窗口无法生效
	Applied bool `json:"applied"`
}

// TraceEvidence 边的行级证据（不持久化）
type TraceEvidence struct {
	EdgeID          string                  `json:"edge_id"`
	SourceColumnID  string                  `json:"source_column_id"`
	TargetColumnID  string                  `json:"target_column_id"`
	SampleSize      int                     `json:"sample_size"`
	SampledRows     int                     `json:"sampled_rows"`
	MatchedRows     int                     `json:"matched_rows"`
	CoveragePct     float64                 `json:"coverage_pct"`
	SamplePairs     []SamplePair            `json:"sample_pairs"`
	EvidenceSources []graph.DiscoveryMethod `json:"evidence_sources"`
	TimeWindow      TimeWindow              `json:"time_window"`
	Masked          bool                    `json:"masked"`
	GeneratedAt     time.Time               `json:"generated_at"`
}

type sampledRow struct {
	key   string
	value interface{}
	text  string
}

// GetTraceEvidence 从源表采样，再批量到目标表执行连接条件，计算覆盖率
func (s *Service) GetTraceEvidence(ctx context.Context, req TraceRequest) (*TraceEvidence, error) {
	edge, err := s.store.GetEdge(ctx, req.EdgeID)
	if err != nil {
		return nil, err
	}
	live, err := s.live(edge.DataSourceID)
	if err != nil {
		return nil, err
	}
	cat, err := s.loadCatalog(ctx, edge.DataSourceID, live.Schema())
	if err != nil {
		return nil, err
	}
	src := cat.column(edge.SourceColumnID, edge.SourceTableID)
	tgt := cat.column(edge.TargetColumnID, edge.TargetTableID)

	now := s.now().UTC()
	ev := &TraceEvidence{
		EdgeID:          edge.ID,
		SourceColumnID:  edge.SourceColumnID,
		TargetColumnID:  edge.TargetColumnID,
		SampleSize:      s.sampleSize(req.SampleSize),
		EvidenceSources: evidenceSources(edge),
		TimeWindow:      TimeWindow{Days: req.TimeWindowDays},
		Masked:          req.MaskPII,
		GeneratedAt:     now,
		SamplePairs:     []SamplePair{},
	}

	qctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	rows, err := s.sample(qctx, live, src, ev, now)
	if err != nil {
		s.logger.Warn("sample source failed", zap.String("edge_id", edge.ID), zap.Error(err))
		return nil, queryError(ctx, "sample "+src.Table.ID, err)
	}
	matched, err := s.lookup(qctx, live, tgt, rows)
	if err != nil {
		s.logger.Warn("lookup target failed", zap.String("edge_id", edge.ID), zap.Error(err))
		return nil, queryError(ctx, "lookup "+tgt.Table.ID, err)
	}

	maskSrc := req.MaskPII && src.PII
	maskTgt := req.MaskPII && tgt.PII
	matchedAt := s.now().UTC()
	for _, r := range rows {
		p := SamplePair{
			SourceRowKey: r.key,
			SourceValues: map[string]string{src.Name: maskIf(maskSrc, r.text)},
		}
		if p.SourceRowKey == "" {
			p.SourceRowKey = p.SourceValues[src.Name]
		}
		if m, ok := matched[r.text]; ok {
			at := matchedAt
			p.Matched = true
			p.MatchedAt = &at
			p.TargetValues = map[string]string{tgt.Name: maskIf(maskTgt, r.text)}
			if m.keyColumn == "" {
				p.TargetRowKey = p.TargetValues[tgt.Name]
			} else {
				p.TargetRowKey = maskIf(req.MaskPII && m.keyPII, m.key)
				p.TargetValues[m.keyColumn] = p.TargetRowKey
			}
			ev.MatchedRows++
		}
		ev.SamplePairs = append(ev.SamplePairs, p)
	}
	ev.SampledRows = len(rows)
	if ev.SampledRows > 0 {
		ev.CoveragePct = float64(ev.MatchedRows) / float64(ev.SampledRows)
	}

	s.logger.Debug("trace evidence",
		zap.String("edge_id", edge.ID),
		zap.Int("sampled", ev.SampledRows),
		zap.Int("matched", ev.MatchedRows))
	return ev, nil
}

func (s *Service) sampleSize(n int) int {
	if n <= 0 {
		n = s.opts.DefaultSampleSize
	}
	if n > s.opts.MaxSampleSize {
		n = s.opts.MaxSampleSize
	}
	return n
}

// sample 采样源列的非空值，若有主键一并取出作为行键
func (s *Service) sample(ctx context.Context, live adapter.LiveSource, src columnRef, ev *TraceEvidence, now time.Time) ([]sampledRow, error) {
	d := live.Dialect()
	col := d.QuoteIdent(src.Name)
	selectList := col
	pk := src.Table.primaryKey(src.Name)
	if pk != nil {
		selectList += ", " + d.QuoteIdent(pk.Name)
	}

	where := col + " IS NOT NULL"
	var args []interface{}
	if ev.TimeWindow.Days > 0 {
		for _, name := range s.opts.TimeColumns {
			if tc := src.Table.column(name); tc != nil {
				since := now.AddDate(0, 0, -ev.TimeWindow.Days)
				where += fmt.Sprintf(" AND %s >= %s", d.QuoteIdent(tc.Name), d.Placeholder(1))
				args = append(args, since)
				ev.TimeWindow.Column = tc.Name
				ev.TimeWindow.Since = &since
				ev.TimeWindow.Applied = true
				break
			}
		}
	}

	query := d.SelectLimit(selectList, "FROM "+src.Table.qualified(d)+" WHERE "+where, ev.SampleSize)
	rows, err := live.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sampledRow
	for rows.Next() {
		var value, key interface{}
		dest := []interface{}{&value}
		if pk != nil {
			dest = append(dest, &key)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		r := sampledRow{value: value, text: valueString(value)}
		if pk != nil {
			r.key = maskIf(ev.Masked && pk.IsPII, valueString(key))
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// targetMatch 目标表中匹配到的行；keyColumn 为空表示连接列本身就是行键
type targetMatch struct {
	key       string
	keyColumn string
	keyPII    bool
}

// lookup 在目标表批量执行连接条件，返回 连接值 → 首个匹配行的主键
func (s *Service) lookup(ctx context.Context, live adapter.LiveSource, tgt columnRef, sampled []sampledRow) (map[string]targetMatch, error) {
	found := make(map[string]targetMatch)
	if len(sampled) == 0 {
		return found, nil
	}

	seen := make(map[string]bool)
	var args []interface{}
	var marks []string
	d := live.Dialect()
	for _, r := range sampled {
		if seen[r.text] {
			continue
		}
		seen[r.text] = true
		args = append(args, r.value)
		marks = append(marks, d.Placeholder(len(args)))
	}

	col := d.QuoteIdent(tgt.Name)
	in := fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", "))
	pk := tgt.Table.primaryKey(tgt.Name)
	var query string
	if pk == nil {
		query = fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s", col, tgt.Table.qualified(d), in)
	} else {
		key := d.QuoteIdent(pk.Name)
		query = fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s ORDER BY %s",
			col, key, tgt.Table.qualified(d), in, key)
	}

	rows, err := live.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v, k interface{}
		dest := []interface{}{&v}
		if pk != nil {
			dest = append(dest, &k)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		text := valueString(v)
		if _, ok := found[text]; ok {
			continue
		}
		m := targetMatch{}
		if pk != nil {
			m = targetMatch{key: valueString(k), keyColumn: pk.Name, keyPII: pk.IsPII}
		}
		found[text] = m
	}
	return found, rows.Err()
}

// evidenceSources 主方法在前，其余来自 alternateMethods
func evidenceSources(e *graph.Edge) []graph.DiscoveryMethod {
	out := []graph.DiscoveryMethod{e.Method}
	for _, alt := range e.Metadata.AlternateMethods {
		if alt.Method != e.Method {
			out = append(out, alt.Method)
		}
	}
	return out
}

func valueString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
