package evidence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/graph"
)

const (
	ordersCustomer = "sales:shop.orders.customer_id"
	customersID    = "sales:shop.customers.id"
)

func newMockSource(t *testing.T) (*adapter.Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d, err := adapter.DialectByName("mysql")
	require.NoError(t, err)
	reg := adapter.NewRegistry()
	reg.Register("sales", adapter.NewSource("sales", db, d, "shop"))
	return reg, mock
}

func seedStore(t *testing.T) *graph.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := graph.NewMemoryStore()
	require.NoError(t, s.UpsertNodes(ctx, []graph.Node{
		{ID: "sales:shop", DataSourceID: "sales", Kind: graph.NodeKindSchema, Name: "shop", ParentID: "sales"},
		{ID: "sales:shop.orders", DataSourceID: "sales", Kind: graph.NodeKindTable, Name: "orders", ParentID: "sales:shop"},
		{ID: "sales:shop.orders.id", DataSourceID: "sales", Kind: graph.NodeKindColumn, Name: "id", ParentID: "sales:shop.orders", IsPrimaryKey: true},
		{ID: ordersCustomer, DataSourceID: "sales", Kind: graph.NodeKindColumn, Name: "customer_id", ParentID: "sales:shop.orders"},
		{ID: "sales:shop.orders.created_at", DataSourceID: "sales", Kind: graph.NodeKindColumn, Name: "created_at", ParentID: "sales:shop.orders"},
		{ID: "sales:shop.customers", DataSourceID: "sales", Kind: graph.NodeKindTable, Name: "customers", ParentID: "sales:shop"},
		{ID: customersID, DataSourceID: "sales", Kind: graph.NodeKindColumn, Name: "id", ParentID: "sales:shop.customers", IsPrimaryKey: true},
	}))
	_, err := s.UpsertEdge(ctx, &graph.Edge{
		DataSourceID:   "sales",
		SourceColumnID: ordersCustomer,
		TargetColumnID: customersID,
		SourceTableID:  "sales:shop.orders",
		TargetTableID:  "sales:shop.customers",
		Method:         graph.MethodFKPattern,
		Confidence:     0.88,
		Metadata: graph.MatchMetadata{AlternateMethods: []graph.AlternateMethod{
			{Method: graph.MethodSemanticMatch, Confidence: 0.80},
			{Method: graph.MethodCardinalityMatch, Confidence: 0.60},
		}},
	}, time.Now())
	require.NoError(t, err)
	return s
}

func edgeID() string {
	return graph.EdgeID(graph.EdgeKey{SourceColumnID: ordersCustomer, TargetColumnID: customersID})
}

func TestGetTraceEvidence(t *testing.T) {
	reg, mock := newMockSource(t)
	svc := NewService(seedStore(t), reg, zaptest.NewLogger(t), Options{})

	sample := sqlmock.NewRows([]string{"customer_id", "id"})
	for i := 1; i <= 10; i++ {
		sample.AddRow(int64(i%5+1), int64(i))
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `customer_id`, `id` FROM `shop`.`orders` WHERE `customer_id` IS NOT NULL LIMIT 10")).
		WillReturnRows(sample)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT `id` FROM `shop`.`customers` WHERE `id` IN (?, ?, ?, ?, ?)")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)))

	ev, err := svc.GetTraceEvidence(context.Background(), TraceRequest{EdgeID: edgeID(), SampleSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 10, ev.SampledRows)
	assert.LessOrEqual(t, len(ev.SamplePairs), 10)
	assert.Equal(t, 6, ev.MatchedRows)
	assert.InDelta(t, 0.6, ev.CoveragePct, 1e-9)
	assert.GreaterOrEqual(t, ev.CoveragePct, 0.0)
	assert.LessOrEqual(t, ev.CoveragePct, 1.0)
	assert.Equal(t, []graph.DiscoveryMethod{
		graph.MethodFKPattern, graph.MethodSemanticMatch, graph.MethodCardinalityMatch,
	}, ev.EvidenceSources)

	first := ev.SamplePairs[0]
	assert.Equal(t, "1", first.SourceRowKey)
	assert.Equal(t, "2", first.SourceValues["customer_id"])
	assert.True(t, first.Matched)
	assert.NotNil(t, first.MatchedAt)
	assert.Equal(t, "2", first.TargetValues["id"])
	assert.Equal(t, "2", first.TargetRowKey)

	unmatched := ev.SamplePairs[2] // customer_id 4
	assert.False(t, unmatched.Matched)
	assert.Nil(t, unmatched.MatchedAt)
	assert.Empty(t, unmatched.TargetRowKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTraceEvidence_TargetRowKeyFromPrimaryKey(t *testing.T) {
	ctx := context.Background()
	reg, mock := newMockSource(t)
	s := graph.NewMemoryStore()
	require.NoError(t, s.UpsertNodes(ctx, []graph.Node{
		{ID: "sales:shop.orders", DataSourceID: "sales", Kind: graph.NodeKindTable, Name: "orders", ParentID: "sales:shop"},
		{ID: "sales:shop.orders.id", DataSourceID: "sales", Kind: graph.NodeKindColumn, Name: "id", ParentID: "sales:shop.orders", IsPrimaryKey: true},
		{ID: "sales:shop.orders.customer_code", DataSourceID: "sales", Kind: graph.NodeKindColumn, Name: "customer_code", ParentID: "sales:shop.orders"},
		{ID: "sales:shop.customers", DataSourceID: "sales", Kind: graph.NodeKindTable, Name: "customers", ParentID: "sales:shop"},
		{ID: "sales:shop.customers.id", DataSourceID: "sales", Kind: graph.NodeKindColumn, Name: "id", ParentID: "sales:shop.customers", IsPrimaryKey: true},
		{ID: "sales:shop.customers.code", DataSourceID: "sales", Kind: graph.NodeKindColumn, Name: "code", ParentID: "sales:shop.customers"},
	}))
	key := graph.EdgeKey{SourceColumnID: "sales:shop.orders.customer_code", TargetColumnID: "sales:shop.customers.code"}
	_, err := s.UpsertEdge(ctx, &graph.Edge{
		DataSourceID:   "sales",
		SourceColumnID: key.SourceColumnID,
		TargetColumnID: key.TargetColumnID,
		Method:         graph.MethodSemanticMatch,
		Confidence:     0.8,
	}, time.Now())
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `customer_code`, `id` FROM `shop`.`orders` WHERE `customer_code` IS NOT NULL LIMIT 2")).
		WillReturnRows(sqlmock.NewRows([]string{"customer_code", "id"}).
			AddRow("C-01", int64(100)).
			AddRow("C-09", int64(101)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `code`, `id` FROM `shop`.`customers` WHERE `code` IN (?, ?) ORDER BY `id`")).
		WithArgs("C-01", "C-09").
		WillReturnRows(sqlmock.NewRows([]string{"code", "id"}).
			AddRow("C-01", int64(7)).
			AddRow("C-01", int64(8)))

	svc := NewService(s, reg, zaptest.NewLogger(t), Options{})
	ev, err := svc.GetTraceEvidence(ctx, TraceRequest{EdgeID: graph.EdgeID(key), SampleSize: 2})
	require.NoError(t, err)
	require.Len(t, ev.SamplePairs, 2)

	p := ev.SamplePairs[0]
	assert.True(t, p.Matched)
	assert.Equal(t, "100", p.SourceRowKey)
	assert.Equal(t, "7", p.TargetRowKey)
	assert.Equal(t, map[string]string{"code": "C-01", "id": "7"}, p.TargetValues)
	assert.False(t, ev.SamplePairs[1].Matched)
	assert.Equal(t, 1, ev.MatchedRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTraceEvidence_TimeWindow(t *testing.T) {
	reg, mock := newMockSource(t)
	svc := NewService(seedStore(t), reg, zaptest.NewLogger(t), Options{})
	fixed := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	mock.ExpectQuery(regexp.QuoteMeta("WHERE `customer_id` IS NOT NULL AND `created_at` >= ? LIMIT 10")).
		WithArgs(fixed.AddDate(0, 0, -7)).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id", "id"}))

	ev, err := svc.GetTraceEvidence(context.Background(), TraceRequest{EdgeID: edgeID(), TimeWindowDays: 7})
	require.NoError(t, err)
	assert.True(t, ev.TimeWindow.Applied)
	assert.Equal(t, "created_at", ev.TimeWindow.Column)
	assert.Equal(t, DefaultSampleSize, ev.SampleSize)
	assert.Zero(t, ev.SampledRows)
	assert.Zero(t, ev.CoveragePct)
	assert.Empty(t, ev.SamplePairs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTraceEvidence_MaskPII(t *testing.T) {
	ctx := context.Background()
	reg, mock := newMockSource(t)
	s := graph.NewMemoryStore()
	require.NoError(t, s.UpsertNodes(ctx, []graph.Node{
		{ID: "sales:shop.users", DataSourceID: "sales", Kind: graph.NodeKindTable, Name: "users", ParentID: "sales:shop"},
		{ID: "sales:shop.users.email", DataSourceID: "sales", Kind: graph.NodeKindColumn, Name: "email", ParentID: "sales:shop.users", IsPII: true},
		{ID: "sales:shop.subscribers.email", DataSourceID: "sales", Kind: graph.NodeKindColumn, Name: "email", ParentID: "sales:shop.subscribers", IsPII: true},
	}))
	_, err := s.UpsertEdge(ctx, &graph.Edge{
		DataSourceID:   "sales",
		SourceColumnID: "sales:shop.users.email",
		TargetColumnID: "sales:shop.subscribers.email",
		Method:         graph.MethodExactMatch,
		Confidence:     0.9,
	}, time.Now())
	require.NoError(t, err)
	id := graph.EdgeID(graph.EdgeKey{SourceColumnID: "sales:shop.users.email", TargetColumnID: "sales:shop.subscribers.email"})

	svc := NewService(s, reg, zaptest.NewLogger(t), Options{})
	expect := func() {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT `email` FROM `shop`.`users` WHERE `email` IS NOT NULL LIMIT 1")).
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("alice@example.com"))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT `email` FROM `shop`.`subscribers` WHERE `email` IN (?)")).
			WithArgs("alice@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("alice@example.com"))
	}

	expect()
	ev, err := svc.GetTraceEvidence(ctx, TraceRequest{EdgeID: id, SampleSize: 1, MaskPII: true})
	require.NoError(t, err)
	require.Len(t, ev.SamplePairs, 1)
	p := ev.SamplePairs[0]
	assert.Equal(t, "a***************m", p.SourceValues["email"])
	assert.Equal(t, "a***************m", p.SourceRowKey)
	assert.Equal(t, "a***************m", p.TargetValues["email"])
	assert.True(t, ev.Masked)

	expect()
	ev, err = svc.GetTraceEvidence(ctx, TraceRequest{EdgeID: id, SampleSize: 1})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", ev.SamplePairs[0].SourceValues["email"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTraceEvidence_Unavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("query fails", func(t *testing.T) {
		reg, mock := newMockSource(t)
		svc := NewService(seedStore(t), reg, zaptest.NewLogger(t), Options{})
		mock.ExpectQuery("FROM `shop`.`orders`").WillReturnError(errors.New("access denied"))

		ev, err := svc.GetTraceEvidence(ctx, TraceRequest{EdgeID: edgeID()})
		assert.Nil(t, ev)
		assert.ErrorIs(t, err, ErrEvidenceUnavailable)
	})

	t.Run("not queryable", func(t *testing.T) {
		reg := adapter.NewRegistry()
		reg.Register("sales", adapter.NewFileProvider("sales", "catalog.yaml"))
		svc := NewService(seedStore(t), reg, zaptest.NewLogger(t), Options{})

		_, err := svc.GetTraceEvidence(ctx, TraceRequest{EdgeID: edgeID()})
		assert.ErrorIs(t, err, ErrEvidenceUnavailable)
	})

	t.Run("unknown edge", func(t *testing.T) {
		reg, _ := newMockSource(t)
		svc := NewService(seedStore(t), reg, zaptest.NewLogger(t), Options{})
		_, err := svc.GetTraceEvidence(ctx, TraceRequest{EdgeID: "nope"})
		assert.ErrorIs(t, err, graph.ErrNotFound)
	})
}

func TestSampleSizeBounds(t *testing.T) {
	svc := NewService(graph.NewMemoryStore(), adapter.NewRegistry(), nil, Options{MaxSampleSize: 50})
	assert.Equal(t, DefaultSampleSize, svc.sampleSize(0))
	assert.Equal(t, 20, svc.sampleSize(20))
	assert.Equal(t, 50, svc.sampleSize(5000))
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":    "",
		"a":   "*",
		"ab":  "**",
		"abc": "a*c",
		"张三丰": "张*丰",
	}
	for in, want := range tests {
		assert.Equal(t, want, Mask(in), in)
	}
}
