// Package api 血缘查询、发现触发和证据追踪的 HTTP 接口
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"lineage-analyzer/internal/discovery"
	"lineage-analyzer/internal/evidence"
	"lineage-analyzer/internal/graph"
	"lineage-analyzer/internal/impact"
)

// Deps 处理器依赖
type Deps struct {
	Store    graph.Store
	Engine   *discovery.Engine
	Evidence *evidence.Service
	Impact   *impact.Analyzer
	// Sources 已注册的数据源标识
	Sources func() []string
	// Events 实时事件推送（/ws），可为 nil
	Events http.Handler
	Logger *zap.Logger
}

// Handlers HTTP 处理器
type Handlers struct {
	store    graph.Store
	engine   *discovery.Engine
	evidence *evidence.Service
	impact   *impact.Analyzer
	sources  func() []string
	logger   *zap.Logger
}

// NewRouter 注册全部路由
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &Handlers{
		store:    d.Store,
		engine:   d.Engine,
		evidence: d.Evidence,
		impact:   d.Impact,
		sources:  d.Sources,
		logger:   d.Logger,
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(d.Logger),
		middleware.Recoverer,
	)

	r.Get("/health", h.Health)

	r.Route("/lineage", func(r chi.Router) {
		r.Get("/sources", h.ListSources)
		r.Get("/graph", h.Graph)
		r.Get("/impact/{nodeId}", h.Impact)
		r.Get("/path", h.Path)
		r.Post("/discover", h.Discover)
		r.Get("/edges/{edgeId}", h.GetEdge)
		r.Post("/edges/{edgeId}/invalidate", h.InvalidateEdge)
	})

	r.Route("/trace", func(r chi.Router) {
		r.Post("/validate", h.Validate)
		r.Post("/analyze-sql", h.AnalyzeSQL)
		r.Get("/{edgeId}", h.Trace)
	})

	if d.Events != nil {
		r.Handle("/ws", d.Events)
	}
	return r
}

// requestLogger 访问日志
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
