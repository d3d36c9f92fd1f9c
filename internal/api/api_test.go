package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/analyzer"
	"lineage-analyzer/internal/discovery"
	"lineage-analyzer/internal/evidence"
	"lineage-analyzer/internal/graph"
	"lineage-analyzer/internal/impact"
	"lineage-analyzer/internal/lock"
	"lineage-analyzer/internal/sqlparse"
)

const (
	ordersCustomer = "sales:shop.orders.customer_id"
	ordersID       = "sales:shop.orders.id"
	customersID    = "sales:shop.customers.id"
	paymentsOrder  = "sales:shop.payments.order_id"
)

const crmCatalog = `
database: crm
tables:
  - name: accounts
    row_count: 100
    columns:
      - name: id
        type: int
        primary_key: true
        distinct_count: 100
  - name: contacts
    row_count: 1000
    columns:
      - name: id
        type: int
        primary_key: true
        distinct_count: 1000
      - name: account_id
        type: int
        distinct_count: 90
`

type fixture struct {
	handler http.Handler
	store   *graph.MemoryStore
	mock    sqlmock.Sqlmock
	locker  *lock.Local
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	d, err := adapter.DialectByName("mysql")
	require.NoError(t, err)

	catalogPath := filepath.Join(t.TempDir(), "crm.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(crmCatalog), 0o644))

	reg := adapter.NewRegistry()
	reg.Register("sales", adapter.NewSource("sales", db, d, "shop"))
	reg.Register("crm", adapter.NewFileProvider("crm", catalogPath))

	s := graph.NewMemoryStore()
	node := func(id, kind, name, parent string, pk bool) graph.Node {
		return graph.Node{ID: id, DataSourceID: "sales", Kind: graph.NodeKind(kind), Name: name, ParentID: parent, IsPrimaryKey: pk}
	}
	require.NoError(t, s.UpsertNodes(ctx, []graph.Node{
		node("sales", "database", "sales", "", false),
		node("sales:shop", "schema", "shop", "sales", false),
		node("sales:shop.orders", "table", "orders", "sales:shop", false),
		node(ordersID, "column", "id", "sales:shop.orders", true),
		node(ordersCustomer, "column", "customer_id", "sales:shop.orders", false),
		node("sales:shop.customers", "table", "customers", "sales:shop", false),
		node(customersID, "column", "id", "sales:shop.customers", true),
		node("sales:shop.payments", "table", "payments", "sales:shop", false),
		node("sales:shop.payments.id", "column", "id", "sales:shop.payments", true),
		node(paymentsOrder, "column", "order_id", "sales:shop.payments", false),
	}))
	for _, e := range []*graph.Edge{
		{SourceColumnID: ordersCustomer, TargetColumnID: customersID, SourceTableID: "sales:shop.orders", TargetTableID: "sales:shop.customers", Method: graph.MethodFKPattern, Confidence: 0.88},
		{SourceColumnID: paymentsOrder, TargetColumnID: ordersID, SourceTableID: "sales:shop.payments", TargetTableID: "sales:shop.orders", Method: graph.MethodFKPattern, Confidence: 0.9},
	} {
		e.DataSourceID = "sales"
		_, err := s.UpsertEdge(ctx, e, time.Now())
		require.NoError(t, err)
	}

	locker := lock.NewLocal()
	engine := discovery.NewEngine(s, reg, locker, nil, logger, discovery.Options{RunConfig: analyzer.DefaultRunConfig()})

	return &fixture{
		handler: NewRouter(Deps{
			Store:    s,
			Engine:   engine,
			Evidence: evidence.NewService(s, reg, logger, evidence.Options{}),
			Impact:   impact.NewAnalyzer(s),
			Sources:  reg.IDs,
			Logger:   logger,
		}),
		store:  s,
		mock:   mock,
		locker: locker,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func edgeID(src, tgt string) string {
	return graph.EdgeID(graph.EdgeKey{SourceColumnID: src, TargetColumnID: tgt})
}

func TestHealthAndSources(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/lineage/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string][]string
	decode(t, rec, &out)
	assert.Equal(t, []string{"crm", "sales"}, out["sources"])
}

func TestGraph(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/lineage/graph?dataSourceId=sales", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var g graph.Graph
	decode(t, rec, &g)
	assert.Len(t, g.Edges, 2)
	assert.Len(t, g.Nodes, 10)

	rec = f.do(t, http.MethodGet, "/lineage/graph?dataSourceId=sales&format=mermaid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "erDiagram")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	rec = f.do(t, http.MethodGet, "/lineage/graph?format=markdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")

	rec = f.do(t, http.MethodGet, "/lineage/graph?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/lineage/graph?includeStale=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImpact(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/lineage/impact/"+paymentsOrder+"?direction=downstream", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res impact.Result
	decode(t, rec, &res)
	assert.Equal(t, impact.Downstream, res.Direction)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, ordersID, res.Nodes[0].NodeID)
	assert.InDelta(t, 0.9, res.Nodes[0].Confidence, 1e-9)

	rec = f.do(t, http.MethodGet, "/lineage/impact/"+customersID+"?direction=upstream&maxDepth=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.Equal(t, 3, res.MaxDepth)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, ordersCustomer, res.Nodes[0].NodeID)

	tests := []struct {
		path string
		code int
	}{
		{"/lineage/impact/" + paymentsOrder + "?direction=sideways", http.StatusBadRequest},
		{"/lineage/impact/" + paymentsOrder + "?maxDepth=-1", http.StatusBadRequest},
		{"/lineage/impact/sales:shop.nope.x", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := f.do(t, http.MethodGet, tt.path, "")
		assert.Equal(t, tt.code, rec.Code, tt.path)
	}
}

func TestPath(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/lineage/path?from="+paymentsOrder+"&to="+ordersID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p impact.Path
	decode(t, rec, &p)
	assert.Equal(t, 1, p.Hops)
	assert.Equal(t, []string{paymentsOrder, ordersID}, p.Nodes)

	rec = f.do(t, http.MethodGet, "/lineage/path?from="+customersID+"&to="+ordersID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/lineage/path?from="+customersID, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiscover(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/lineage/discover", `{"dataSourceId":"crm"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sum discovery.Summary
	decode(t, rec, &sum)
	assert.Equal(t, "crm", sum.DataSourceID)
	assert.Equal(t, 2, sum.Tables)
	assert.Positive(t, sum.EdgesCreated)

	_, err := f.store.GetEdge(context.Background(), edgeID("crm:contacts.account_id", "crm:accounts.id"))
	assert.NoError(t, err)

	rec = f.do(t, http.MethodPost, "/lineage/discover", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/lineage/discover", `{"dataSourceId":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/lineage/discover", `{"dataSource":"crm"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiscover_InProgress(t *testing.T) {
	f := newFixture(t)
	release, err := f.locker.TryAcquire(context.Background(), "crm")
	require.NoError(t, err)
	defer release(context.Background())

	rec := f.do(t, http.MethodPost, "/lineage/discover", `{"dataSourceId":"crm"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInvalidateEdge(t *testing.T) {
	f := newFixture(t)
	id := edgeID(paymentsOrder, ordersID)

	rec := f.do(t, http.MethodPost, "/lineage/edges/"+id+"/invalidate", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/lineage/edges/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var e graph.Edge
	decode(t, rec, &e)
	assert.True(t, e.Invalidated)

	// 作废的边不再参与影响分析
	rec = f.do(t, http.MethodGet, "/lineage/impact/"+paymentsOrder, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res impact.Result
	decode(t, rec, &res)
	assert.Empty(t, res.Nodes)

	rec = f.do(t, http.MethodPost, "/lineage/edges/missing/invalidate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrace(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT `customer_id`, `id` FROM `shop`.`orders` WHERE `customer_id` IS NOT NULL LIMIT 10")).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id", "id"}).
			AddRow(int64(1), int64(10)).
			AddRow(int64(2), int64(11)).
			AddRow(int64(3), int64(12)))
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT `id` FROM `shop`.`customers` WHERE `id` IN (?, ?, ?)")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	rec := f.do(t, http.MethodGet, "/trace/"+edgeID(ordersCustomer, customersID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ev evidence.TraceEvidence
	decode(t, rec, &ev)
	assert.Equal(t, 3, ev.SampledRows)
	assert.Equal(t, 2, ev.MatchedRows)
	assert.InDelta(t, 2.0/3.0, ev.CoveragePct, 1e-9)
	assert.True(t, ev.Masked)
	assert.NoError(t, f.mock.ExpectationsWereMet())

	rec = f.do(t, http.MethodGet, "/trace/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/trace/"+edgeID(ordersCustomer, customersID)+"?sampleSize=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrace_EvidenceUnavailable(t *testing.T) {
	f := newFixture(t)
	e := &graph.Edge{
		DataSourceID:   "crm",
		SourceColumnID: "crm:contacts.account_id",
		TargetColumnID: "crm:accounts.id",
		SourceTableID:  "crm:contacts",
		TargetTableID:  "crm:accounts",
		Method:         graph.MethodFKPattern,
		Confidence:     0.88,
	}
	_, err := f.store.UpsertEdge(context.Background(), e, time.Now())
	require.NoError(t, err)

	// 文件数据源不能在线查询
	rec := f.do(t, http.MethodGet, "/trace/"+edgeID(e.SourceColumnID, e.TargetColumnID), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `shop`.`orders`$").WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(int64(10000)))
	f.mock.ExpectQuery("WHERE `customer_id` IS NULL").WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(int64(0)))
	f.mock.ExpectQuery("WHERE EXISTS").WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(int64(8000)))
	f.mock.ExpectQuery("HAVING COUNT").WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(int64(0)))

	rec := f.do(t, http.MethodPost, "/trace/validate",
		`{"sourceTable":"sales:shop.orders","targetTable":"sales:shop.customers","joinColumn":"customer_id=id"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res evidence.ValidationResult
	decode(t, rec, &res)
	assert.Equal(t, int64(8000), res.MatchedRows)
	assert.Equal(t, int64(2000), res.OrphanRows)
	assert.False(t, res.Incomplete)
	assert.NoError(t, f.mock.ExpectationsWereMet())

	rec = f.do(t, http.MethodPost, "/trace/validate", `{"sourceTable":"sales:shop.orders"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/trace/validate", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeSQL(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/trace/analyze-sql",
		`{"query":"SELECT o.id FROM orders o JOIN customers c ON o.customer_id = c.id","dialect":"mysql"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var a sqlparse.Analysis
	decode(t, rec, &a)
	assert.Len(t, a.Tables, 2)
	require.Len(t, a.JoinConditions, 1)
	assert.InDelta(t, 1.0, a.Confidence, 1e-9)

	rec = f.do(t, http.MethodPost, "/trace/analyze-sql", `{"query":"SELECT 1","dialect":"oracle"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/trace/analyze-sql", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{graph.ErrNotFound, http.StatusNotFound},
		{impact.ErrNoPath, http.StatusNotFound},
		{discovery.ErrDiscoveryInProgress, http.StatusConflict},
		{discovery.ErrMetadataUnavailable, http.StatusBadGateway},
		{evidence.ErrEvidenceUnavailable, http.StatusServiceUnavailable},
		{evidence.ErrInvalidRequest, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, statusFor(tt.err), tt.err.Error())
	}
}
