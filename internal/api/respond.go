package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/discovery"
	"lineage-analyzer/internal/evidence"
	"lineage-analyzer/internal/graph"
	"lineage-analyzer/internal/impact"
	"lineage-analyzer/internal/sqlparse"
)

// errBadRequest 参数错误
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor 错误到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, evidence.ErrInvalidRequest),
		errors.Is(err, sqlparse.ErrUnsupportedDialect),
		errors.Is(err, sqlparse.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, graph.ErrNotFound),
		errors.Is(err, impact.ErrNoPath),
		errors.Is(err, adapter.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, discovery.ErrDiscoveryInProgress):
		return http.StatusConflict
	case errors.Is(err, discovery.ErrMetadataUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, evidence.ErrEvidenceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid body: %v", err)
	}
	return nil
}

// pathParam 节点和边的标识可能被转义
func pathParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	v, err := url.PathUnescape(raw)
	if err != nil || v == "" {
		return "", badRequest("invalid %s %q", name, raw)
	}
	return v, nil
}

func queryBool(r *http.Request, name string, def bool) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, badRequest("%s must be a boolean", name)
	}
	return b, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}
