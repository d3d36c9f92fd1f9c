package evidence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"lineage-analyzer/internal/adapter"
)

// Severity 差异严重程度
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Discrepancy 校验发现的问题
type Discrepancy struct {
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
	Rows     int64    `json:"rows"`
}

// ValidateRequest 校验请求；表可以是 ds:schema.table，也可以配合 DataSourceID 使用 schema.table
type ValidateRequest struct {
	DataSourceID string `json:"data_source_id"`
	SourceTable  string `json:"source_table"`
	TargetTable  string `json:"target_table"`
	// JoinColumn "col" 表示两侧同名，"src=tgt" 分别指定
	JoinColumn    string `json:"join_column"`
	AllowFullScan bool   `json:"allow_full_scan"`
}

// ValidationResult 全量连接校验结果
type ValidationResult struct {
	DataSourceID        string        `json:"data_source_id"`
	SourceTable         string        `json:"source_table"`
	TargetTable         string        `json:"target_table"`
	SourceColumn        string        `json:"source_column"`
	TargetColumn        string        `json:"target_column"`
	TotalRows           int64         `json:"total_rows"`
	MatchedRows         int64         `json:"matched_rows"`
	OrphanRows          int64         `json:"orphan_rows"`
	NullKeys            int64         `json:"null_keys"`
	DuplicateParentKeys int64         `json:"duplicate_parent_keys"`
	MatchRate           float64       `json:"match_rate"`
	Discrepancies       []Discrepancy `json:"discrepancies"`
	// Incomplete 结果只覆盖了部分阶段
	Incomplete      bool          `json:"incomplete"`
	TimedOut        bool          `json:"timed_out"`
	Reason          string        `json:"reason,omitempty"`
	PhasesCompleted int           `json:"phases_completed"`
	PhasesTotal     int           `json:"phases_total"`
	Elapsed         time.Duration `json:"elapsed"`
}

type phase struct {
	name  string
	query string
	dst   *int64
}

// ValidateJoin 对子表执行全量连接检查，超时返回部分结果而不是错误
func (s *Service) ValidateJoin(ctx context.Context, req ValidateRequest) (*ValidationResult, error) {
	dsID, srcID, tgtID, err := tableIDs(req)
	if err != nil {
		return nil, err
	}
	srcCol, tgtCol, err := splitJoinColumn(req.JoinColumn)
	if err != nil {
		return nil, err
	}
	live, err := s.live(dsID)
	if err != nil {
		return nil, err
	}
	cat, err := s.loadCatalog(ctx, dsID, live.Schema())
	if err != nil {
		return nil, err
	}
	child, parent := cat.table(srcID), cat.table(tgtID)

	res := &ValidationResult{
		DataSourceID:  dsID,
		SourceTable:   srcID,
		TargetTable:   tgtID,
		SourceColumn:  srcCol,
		TargetColumn:  tgtCol,
		Discrepancies: []Discrepancy{},
	}

	d := live.Dialect()
	ct, pt := child.qualified(d), parent.qualified(d)
	cc, pc := d.QuoteIdent(srcCol), d.QuoteIdent(tgtCol)
	phases := []phase{
		{"total", fmt.Sprintf("SELECT COUNT(*) FROM %s", ct), &res.TotalRows},
		{"null_keys", fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", ct, cc), &res.NullKeys},
		{"matched", fmt.Sprintf("SELECT COUNT(*) FROM %s c WHERE EXISTS (SELECT 1 FROM %s p WHERE p.%s = c.%s)", ct, pt, pc, cc), &res.MatchedRows},
		{"duplicate_parent_keys", fmt.Sprintf("SELECT COUNT(*) FROM (SELECT %s FROM %s WHERE %s IS NOT NULL GROUP BY %s HAVING COUNT(*) > 1) d", pc, pt, pc, pc), &res.DuplicateParentKeys},
	}
	res.PhasesTotal = len(phases)

	start := time.Now()
	qctx, cancel := context.WithTimeout(ctx, s.opts.ValidationTimeout)
	defer cancel()

	for _, p := range phases {
		if err := live.QueryRowContext(qctx, p.query).Scan(p.dst); err != nil {
			if perr := ctx.Err(); perr != nil {
				return nil, perr
			}
			if qctx.Err() != nil {
				res.Incomplete, res.TimedOut = true, true
				res.Reason = fmt.Sprintf("validation timed out after %s during %s", s.opts.ValidationTimeout, p.name)
				s.logger.Warn("validation timed out",
					zap.String("source_table", srcID),
					zap.String("target_table", tgtID),
					zap.String("phase", p.name))
				break
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrEvidenceUnavailable, p.name, err)
		}
		res.PhasesCompleted++

		if p.name == "total" && res.TotalRows > s.opts.MaxValidationRows && !req.AllowFullScan {
			res.Incomplete = true
			res.Reason = fmt.Sprintf("source table has %d rows, above the %d row validation limit; full scan not allowed",
				res.TotalRows, s.opts.MaxValidationRows)
			break
		}
	}
	res.Elapsed = time.Since(start)

	assess(res)
	return res, nil
}

// assess 只根据已完成阶段的数据给出差异
func assess(res *ValidationResult) {
	done := res.PhasesCompleted
	add := func(sev Severity, kind string, rows int64, format string, args ...interface{}) {
		res.Discrepancies = append(res.Discrepancies, Discrepancy{
			Severity: sev, Kind: kind, Rows: rows, Message: fmt.Sprintf(format, args...),
		})
	}

	if done >= 1 && res.TotalRows == 0 {
		add(SeverityLow, "empty_source", 0, "source table %s has no rows", res.SourceTable)
		return
	}
	if done >= 2 && res.NullKeys > 0 {
		add(SeverityLow, "null_keys", res.NullKeys, "%d source rows have a NULL %s", res.NullKeys, res.SourceColumn)
	}
	if done >= 3 {
		res.MatchRate = float64(res.MatchedRows) / float64(res.TotalRows)
		res.OrphanRows = res.TotalRows - res.NullKeys - res.MatchedRows
		switch {
		case res.MatchedRows == 0:
			add(SeverityCritical, "no_matches", res.OrphanRows, "join %s = %s matched no rows", res.SourceColumn, res.TargetColumn)
		case res.OrphanRows > 0:
			sev := SeverityMedium
			if res.OrphanRows*2 > res.TotalRows {
				sev = SeverityHigh
			}
			add(sev, "orphan_rows", res.OrphanRows, "%d of %d source rows have no matching row in %s",
				res.OrphanRows, res.TotalRows, res.TargetTable)
		}
	}
	if done >= 4 && res.DuplicateParentKeys > 0 {
		add(SeverityHigh, "duplicate_parent_keys", res.DuplicateParentKeys,
			"%d values of %s appear more than once in %s; the join fans out",
			res.DuplicateParentKeys, res.TargetColumn, res.TargetTable)
	}
}

// tableIDs 解析两张表的标识，要求属于同一数据源
func tableIDs(req ValidateRequest) (string, string, string, error) {
	if req.SourceTable == "" || req.TargetTable == "" {
		return "", "", "", fmt.Errorf("%w: source_table and target_table are required", ErrInvalidRequest)
	}
	ds := req.DataSourceID
	var ids [2]string
	for i, ref := range []string{req.SourceTable, req.TargetTable} {
		refDS, rest, ok := strings.Cut(ref, ":")
		if !ok {
			if ds == "" {
				return "", "", "", fmt.Errorf("%w: table %q needs a data source", ErrInvalidRequest, ref)
			}
			ids[i] = ds + ":" + ref
			continue
		}
		if ds == "" {
			ds = refDS
		} else if ds != refDS {
			return "", "", "", fmt.Errorf("%w: tables must belong to one data source", ErrInvalidRequest)
		}
		ids[i] = adapter.TableID(ds, "", rest)
	}
	return ds, ids[0], ids[1], nil
}

func splitJoinColumn(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", fmt.Errorf("%w: join_column is required", ErrInvalidRequest)
	}
	src, tgt, ok := strings.Cut(s, "=")
	if !ok {
		return s, s, nil
	}
	src, tgt = strings.TrimSpace(src), strings.TrimSpace(tgt)
	if src == "" || tgt == "" {
		return "", "", fmt.Errorf("%w: bad join_column %q", ErrInvalidRequest, s)
	}
	return src, tgt, nil
}
