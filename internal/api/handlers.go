package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"lineage-analyzer/internal/discovery"
	"lineage-analyzer/internal/evidence"
	"lineage-analyzer/internal/graph"
	"lineage-analyzer/internal/impact"
	"lineage-analyzer/internal/renderer"
	"lineage-analyzer/internal/sqlparse"
)

// Health 存活检查
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListSources 已注册的数据源
func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	if h.sources != nil {
		ids = append(ids, h.sources()...)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sources": ids})
}

// Graph 节点和边，format=json|mermaid|markdown
func (h *Handlers) Graph(w http.ResponseWriter, r *http.Request) {
	includeStale, err := queryBool(r, "includeStale", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	includeInvalidated, err := queryBool(r, "includeInvalidated", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	var rend renderer.Renderer
	if format != "" && format != "json" {
		if rend, err = renderer.ByFormat(format); err != nil {
			h.writeError(w, r, badRequest("%v", err))
			return
		}
	}

	g, err := graph.Load(r.Context(), h.store, graph.EdgeFilter{
		DataSourceID:       r.URL.Query().Get("dataSourceId"),
		IncludeStale:       includeStale,
		IncludeInvalidated: includeInvalidated,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if rend == nil {
		writeJSON(w, http.StatusOK, g)
		return
	}
	contentType := "text/markdown; charset=utf-8"
	if format == "mermaid" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write([]byte(rend.Render(g)))
}

// Impact 从节点出发的下游或上游影响
func (h *Handlers) Impact(w http.ResponseWriter, r *http.Request) {
	nodeID, err := pathParam(r, "nodeId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dir, err := impact.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		h.writeError(w, r, badRequest("%v", err))
		return
	}
	maxDepth, err := queryInt(r, "maxDepth", impact.MaxDepthLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	includeStale, err := queryBool(r, "includeStale", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.impact.Traverse(r.Context(), nodeID, impact.Options{
		Direction:    dir,
		MaxDepth:     maxDepth,
		IncludeStale: includeStale,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Path 两列之间置信度最高的下游路径
func (h *Handlers) Path(w http.ResponseWriter, r *http.Request) {
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		h.writeError(w, r, badRequest("from and to are required"))
		return
	}
	includeStale, err := queryBool(r, "includeStale", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.impact.ShortestPath(r.Context(), from, to, includeStale)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type discoverRequest struct {
	DataSourceID string `json:"dataSourceId"`
	Wait         bool   `json:"wait"`
}

// Discover 同步执行一次发现运行
func (h *Handlers) Discover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.DataSourceID == "" {
		h.writeError(w, r, badRequest("dataSourceId is required"))
		return
	}
	sum, err := h.engine.Run(r.Context(), discovery.RunRequest{DataSourceID: req.DataSourceID, Wait: req.Wait})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetEdge 单条边
func (h *Handlers) GetEdge(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "edgeId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.store.GetEdge(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// InvalidateEdge 人工作废
func (h *Handlers) InvalidateEdge(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "edgeId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.Invalidate(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("edge invalidated via api", zap.String("edge_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// Trace 一条边的采样证据
func (h *Handlers) Trace(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "edgeId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sampleSize, err := queryInt(r, "sampleSize", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	days, err := queryInt(r, "timeWindowDays", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	maskPII, err := queryBool(r, "maskPII", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ev, err := h.evidence.GetTraceEvidence(r.Context(), evidence.TraceRequest{
		EdgeID:         id,
		SampleSize:     sampleSize,
		TimeWindowDays: days,
		MaskPII:        maskPII,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type validateRequest struct {
	DataSourceID  string `json:"dataSourceId"`
	SourceTable   string `json:"sourceTable"`
	TargetTable   string `json:"targetTable"`
	JoinColumn    string `json:"joinColumn"`
	AllowFullScan bool   `json:"allowFullScan"`
}

// Validate 全量连接校验
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.evidence.ValidateJoin(r.Context(), evidence.ValidateRequest{
		DataSourceID:  req.DataSourceID,
		SourceTable:   req.SourceTable,
		TargetTable:   req.TargetTable,
		JoinColumn:    req.JoinColumn,
		AllowFullScan: req.AllowFullScan,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type analyzeSQLRequest struct {
	Query   string `json:"query"`
	Dialect string `json:"dialect"`
}

// AnalyzeSQL 从查询文本提取血缘线索
func (h *Handlers) AnalyzeSQL(w http.ResponseWriter, r *http.Request) {
	var req analyzeSQLRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := sqlparse.AnalyzeSQL(req.Query, req.Dialect)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
