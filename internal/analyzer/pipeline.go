package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/graph"
)

// ErrStrategyDegraded 策略依赖的可选能力缺失（模糊匹配、统计信息）
var ErrStrategyDegraded = errors.New("strategy degraded")

// StrategyState 策略执行状态
type StrategyState string

const (
	StrategyOK       StrategyState = "ok"
	StrategyDegraded StrategyState = "degraded"
	StrategyDisabled StrategyState = "disabled"
	StrategyFailed   StrategyState = "failed"
)

// StrategyStatus 单个策略的执行结果
type StrategyStatus struct {
	Method     graph.DiscoveryMethod `json:"method"`
	State      StrategyState         `json:"state"`
	Candidates int                   `json:"candidates"`
	Error      string                `json:"error,omitempty"`
	Duration   time.Duration         `json:"duration"`
}

// Result 流水线输出
type Result struct {
	Candidates   []graph.Candidate
	Statuses     []StrategyStatus
	LookupTables []LookupTable
}

// Degraded 降级或失败的策略
func (r *Result) Degraded() []graph.DiscoveryMethod {
	var out []graph.DiscoveryMethod
	for _, s := range r.Statuses {
		if s.State == StrategyDegraded || s.State == StrategyFailed {
			out = append(out, s.Method)
		}
	}
	return out
}

type strategy struct {
	method  graph.DiscoveryMethod
	enabled func(RunConfig) bool
	run     func(*Index, RunConfig) ([]graph.Candidate, error)
}

// strategies 固定顺序
var strategies = []strategy{
	{
		method:  graph.MethodExactMatch,
		enabled: func(c RunConfig) bool { return c.ExactMatch },
		run: func(idx *Index, _ RunConfig) ([]graph.Candidate, error) {
			return ExactMatch(idx), nil
		},
	},
	{
		method:  graph.MethodFKPattern,
		enabled: func(c RunConfig) bool { return c.FKPattern },
		run: func(idx *Index, _ RunConfig) ([]graph.Candidate, error) {
			return FKPattern(idx), nil
		},
	},
	{
		method:  graph.MethodSemanticMatch,
		enabled: func(c RunConfig) bool { return c.Semantic },
		run: func(idx *Index, c RunConfig) ([]graph.Candidate, error) {
			return SemanticMatch(idx, c.Scorer, c.SemanticMaxDistance)
		},
	},
	{
		method:  graph.MethodCardinalityMatch,
		enabled: func(c RunConfig) bool { return c.Cardinality },
		run: func(idx *Index, c RunConfig) ([]graph.Candidate, error) {
			return CardinalityMatch(idx, c.CardinalityTolerance)
		},
	},
}

// Pipeline 策略流水线
type Pipeline struct {
	logger *zap.Logger
}

// NewPipeline 创建流水线
func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{logger: logger}
}

// Run 在同一快照上并发执行所有策略，单个策略失败不影响整体
func (p *Pipeline) Run(ctx context.Context, snap *adapter.Snapshot, cfg RunConfig) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx := NewIndex(snap, cfg)

	statuses := make([]StrategyStatus, len(strategies))
	outputs := make([][]graph.Candidate, len(strategies))

	var wg sync.WaitGroup
	for i, s := range strategies {
		i, s := i, s
		statuses[i].Method = s.method
		if !s.enabled(cfg) {
			statuses[i].State = StrategyDisabled
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			cands, err := runIsolated(s, idx, cfg)
			statuses[i].Duration = time.Since(start)
			switch {
			case errors.Is(err, ErrStrategyDegraded):
				statuses[i].State = StrategyDegraded
				statuses[i].Error = err.Error()
			case err != nil:
				statuses[i].State = StrategyFailed
				statuses[i].Error = err.Error()
			default:
				statuses[i].State = StrategyOK
				statuses[i].Candidates = len(cands)
				outputs[i] = cands
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Statuses: statuses}
	for i, cands := range outputs {
		res.Candidates = append(res.Candidates, cands...)
		st := statuses[i]
		if st.State == StrategyDegraded || st.State == StrategyFailed {
			p.logger.Warn("strategy unavailable",
				zap.String("data_source", snap.DataSourceID),
				zap.String("method", string(st.Method)),
				zap.String("state", string(st.State)),
				zap.String("error", st.Error))
			continue
		}
		p.logger.Debug("strategy finished",
			zap.String("data_source", snap.DataSourceID),
			zap.String("method", string(st.Method)),
			zap.Int("candidates", st.Candidates),
			zap.Duration("duration", st.Duration))
	}
	res.LookupTables = DetectLookupTables(idx, res.Candidates)
	return res, nil
}

func runIsolated(s strategy, idx *Index, cfg RunConfig) (cands []graph.Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", s.method, r)
		}
	}()
	return s.run(idx, cfg)
}
