package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/graph"
)

func col(table, name, dataType string, pk bool) adapter.Column {
	return adapter.Column{Table: table, Name: name, DataType: dataType, IsPrimaryKey: pk}
}

func withStats(c adapter.Column, rows, distinct int64) adapter.Column {
	c.Stats = &adapter.ColumnStats{RowCount: rows, DistinctCount: distinct}
	return c
}

func snapshot(cols ...adapter.Column) *adapter.Snapshot {
	s := &adapter.Snapshot{DataSourceID: "ds", Columns: cols}
	s.Normalize()
	return s
}

func index(cols ...adapter.Column) *Index {
	return NewIndex(snapshot(cols...), DefaultRunConfig())
}

func find(cands []graph.Candidate, src, tgt string) (graph.Candidate, bool) {
	for _, c := range cands {
		if c.SourceColumnID == src && c.TargetColumnID == tgt {
			return c, true
		}
	}
	return graph.Candidate{}, false
}

func TestFKPattern_OrdersCustomers(t *testing.T) {
	idx := index(
		withStats(col("Orders", "CustomerId", "int", false), 10000, 480),
		withStats(col("Customers", "Id", "int", true), 500, 500),
	)

	cands := FKPattern(idx)
	require.Len(t, cands, 1)
	c := cands[0]
	assert.Equal(t, "ds:Orders.CustomerId", c.SourceColumnID)
	assert.Equal(t, "ds:Customers.Id", c.TargetColumnID)
	assert.Equal(t, "ds:Orders", c.SourceTableID)
	assert.Equal(t, "ds:Customers", c.TargetTableID)
	assert.Equal(t, graph.MethodFKPattern, c.Method)
	assert.InDelta(t, 0.88, c.Confidence, 1e-9)
	assert.Equal(t, []string{"customer", "id"}, c.Metadata.MatchedTokens)
}

func TestFKPattern_TableNameForms(t *testing.T) {
	idx := index(
		col("addresses", "country_id", "int", false),
		col("countries", "id", "int", true),
		col("shipments", "carrier_id", "int", false),
		col("carrier", "id", "int", true),
		col("shipments", "region_id", "int", false),
		col("regions", "id", "int", false),
		col("regions", "name", "varchar", false),
	)
	cands := FKPattern(idx)

	c, ok := find(cands, "ds:addresses.country_id", "ds:countries.id")
	require.True(t, ok)
	assert.InDelta(t, 0.88, c.Confidence, 1e-9)

	c, ok = find(cands, "ds:shipments.carrier_id", "ds:carrier.id")
	require.True(t, ok)
	assert.InDelta(t, 0.90, c.Confidence, 1e-9)

	// regions 没有声明主键，回退到 id 形状列
	c, ok = find(cands, "ds:shipments.region_id", "ds:regions.id")
	require.True(t, ok)
	assert.InDelta(t, 0.85, c.Confidence, 1e-9)
}

func TestFKPattern_SelfReference(t *testing.T) {
	idx := index(
		col("employees", "employee_id", "int", true),
		col("employees", "manager_id", "int", false),
		col("employees", "name", "varchar", false),
	)
	cands := FKPattern(idx)
	require.Len(t, cands, 1)
	assert.Equal(t, "ds:employees.manager_id", cands[0].SourceColumnID)
	assert.Equal(t, "ds:employees.employee_id", cands[0].TargetColumnID)
}

func TestFKPattern_TypeMismatch(t *testing.T) {
	idx := index(
		col("orders", "customer_id", "varchar", false),
		col("customers", "id", "int", true),
	)
	assert.Empty(t, FKPattern(idx))
}

func TestExactMatch_PrefersNamedTable(t *testing.T) {
	idx := index(
		col("orders", "customer_id", "int", false),
		col("customers", "customer_id", "int", true),
		col("customer_archive", "customer_id", "bigint", true),
	)
	cands := ExactMatch(idx)

	c, ok := find(cands, "ds:orders.customer_id", "ds:customers.customer_id")
	require.True(t, ok)
	assert.Equal(t, graph.MethodExactMatch, c.Method)
	assert.InDelta(t, 0.95, c.Confidence, 1e-9)

	_, ok = find(cands, "ds:orders.customer_id", "ds:customer_archive.customer_id")
	assert.False(t, ok, "tie-break should prefer customers")

	// 两边都是主键时按表名判断方向
	_, ok = find(cands, "ds:customer_archive.customer_id", "ds:customers.customer_id")
	assert.True(t, ok)
	_, ok = find(cands, "ds:customers.customer_id", "ds:customer_archive.customer_id")
	assert.False(t, ok)
}

func TestExactMatch_SkipsBareIDAndNonKeys(t *testing.T) {
	idx := index(
		col("orders", "id", "int", true),
		col("orders", "status", "varchar", false),
		col("customers", "id", "int", true),
		col("customers", "status", "varchar", false),
	)
	assert.Empty(t, ExactMatch(idx))
}

func TestExactMatch_SingleUnpreferredTarget(t *testing.T) {
	idx := index(
		col("orders", "ref_key", "varchar", false),
		col("lookups", "ref_key", "varchar", true),
	)
	cands := ExactMatch(idx)
	require.Len(t, cands, 1)
	assert.InDelta(t, 0.90, cands[0].Confidence, 1e-9)
}

func TestSemanticMatch_DistanceBoundary(t *testing.T) {
	idx := index(
		col("accounts", "account_code", "varchar", true),
		col("invoices", "acct_code", "varchar", false),
		col("customers", "customer_no", "varchar", true),
		col("payments", "cust_no", "varchar", false),
		col("users", "user_code", "varchar", true),
		col("logins", "usr_code", "varchar", false),
	)
	cands, err := SemanticMatch(idx, LevenshteinScorer{}, 3)
	require.NoError(t, err)

	c, ok := find(cands, "ds:invoices.acct_code", "ds:accounts.account_code")
	require.True(t, ok, "distance 3 should match")
	assert.Equal(t, graph.MethodSemanticMatch, c.Method)
	require.NotNil(t, c.Metadata.EditDistance)
	assert.Equal(t, 3, *c.Metadata.EditDistance)
	assert.InDelta(t, 0.70, c.Confidence, 1e-9)

	c, ok = find(cands, "ds:logins.usr_code", "ds:users.user_code")
	require.True(t, ok)
	assert.InDelta(t, 0.78, c.Confidence, 1e-9)

	for _, c := range cands {
		assert.NotEqual(t, "ds:payments.cust_no", c.SourceColumnID, "distance 4 must not match")
	}
}

func TestSemanticMatch_BareIDUsesTableName(t *testing.T) {
	idx := index(
		col("Orders", "CustomerId", "int", false),
		col("Customers", "Id", "int", true),
	)
	cands, err := SemanticMatch(idx, LevenshteinScorer{}, 3)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.InDelta(t, 0.80, cands[0].Confidence, 1e-9)
}

func TestSemanticMatch_Degraded(t *testing.T) {
	idx := index(col("a", "abcd", "int", false))
	_, err := SemanticMatch(idx, nil, 3)
	assert.ErrorIs(t, err, ErrStrategyDegraded)
}

func TestCardinalityMatch_Tolerance(t *testing.T) {
	idx := index(
		withStats(col("customers", "id", "int", true), 500, 500),
		withStats(col("devices", "id", "int", true), 10000, 10000),
		withStats(col("orders", "id", "int", true), 20000, 20000),
		withStats(col("orders", "buyer", "int", false), 20000, 450),
		withStats(col("orders", "cust", "int", false), 20000, 520),
		withStats(col("events", "id", "int", true), 50000, 50000),
		withStats(col("events", "region_code", "int", false), 50000, 50),
	)
	cands, err := CardinalityMatch(idx, 0.20)
	require.NoError(t, err)

	c, ok := find(cands, "ds:orders.buyer", "ds:customers.id")
	require.True(t, ok)
	assert.InDelta(t, 0.50, c.Confidence, 1e-9)
	assert.False(t, c.Metadata.LexicalRelation)
	assert.Equal(t, int64(500), c.Metadata.ParentRows)

	c, ok = find(cands, "ds:orders.cust", "ds:customers.id")
	require.True(t, ok)
	assert.InDelta(t, 0.60, c.Confidence, 1e-9)
	assert.True(t, c.Metadata.LexicalRelation)

	for _, c := range cands {
		assert.NotEqual(t, "ds:events.region_code", c.SourceColumnID, "50 distinct vs 10000 rows must be rejected")
	}
}

func TestCardinalityMatch_NoStats(t *testing.T) {
	idx := index(col("orders", "customer_id", "int", false), col("customers", "id", "int", true))
	_, err := CardinalityMatch(idx, 0.20)
	assert.ErrorIs(t, err, ErrStrategyDegraded)
}

func TestStrategies_NoUnexpectedSelfReference(t *testing.T) {
	idx := index(
		withStats(col("nodes", "id", "int", true), 100, 100),
		withStats(col("nodes", "node_id", "int", false), 100, 100),
		withStats(col("nodes", "node_key", "int", false), 100, 90),
	)
	all := ExactMatch(idx)
	all = append(all, FKPattern(idx)...)
	sem, _ := SemanticMatch(idx, LevenshteinScorer{}, 3)
	all = append(all, sem...)
	card, _ := CardinalityMatch(idx, 0.2)
	all = append(all, card...)
	for _, c := range all {
		assert.NotEqual(t, c.SourceTableID, c.TargetTableID, "%s -> %s", c.SourceColumnID, c.TargetColumnID)
	}
}

func TestPipeline_RunsAllStrategies(t *testing.T) {
	snap := snapshot(
		withStats(col("Orders", "CustomerId", "int", false), 10000, 480),
		withStats(col("Orders", "OrderId", "int", true), 10000, 10000),
		withStats(col("Customers", "Id", "int", true), 500, 500),
	)
	p := NewPipeline(nil)

	res, err := p.Run(context.Background(), snap, DefaultRunConfig())
	require.NoError(t, err)
	require.Len(t, res.Statuses, 4)
	for _, s := range res.Statuses {
		assert.Equal(t, StrategyOK, s.State, s.Method)
	}
	assert.Empty(t, res.Degraded())

	methods := map[graph.DiscoveryMethod]float64{}
	for _, c := range res.Candidates {
		if c.SourceColumnID == "ds:Orders.CustomerId" && c.TargetColumnID == "ds:Customers.Id" {
			methods[c.Method] = c.Confidence
		}
	}
	assert.InDelta(t, 0.88, methods[graph.MethodFKPattern], 1e-9)
	assert.InDelta(t, 0.80, methods[graph.MethodSemanticMatch], 1e-9)
	assert.InDelta(t, 0.60, methods[graph.MethodCardinalityMatch], 1e-9)

	again, err := p.Run(context.Background(), snap, DefaultRunConfig())
	require.NoError(t, err)
	assert.Equal(t, res.Candidates, again.Candidates)
}

func TestPipeline_DegradedAndDisabled(t *testing.T) {
	snap := snapshot(
		col("orders", "customer_id", "int", false),
		col("customers", "id", "int", true),
	)
	cfg := DefaultRunConfig()
	cfg.Scorer = nil
	cfg.ExactMatch = false

	res, err := NewPipeline(nil).Run(context.Background(), snap, cfg)
	require.NoError(t, err)

	states := map[graph.DiscoveryMethod]StrategyState{}
	for _, s := range res.Statuses {
		states[s.Method] = s.State
	}
	assert.Equal(t, StrategyDisabled, states[graph.MethodExactMatch])
	assert.Equal(t, StrategyOK, states[graph.MethodFKPattern])
	assert.Equal(t, StrategyDegraded, states[graph.MethodSemanticMatch])
	assert.Equal(t, StrategyDegraded, states[graph.MethodCardinalityMatch])
	assert.ElementsMatch(t, []graph.DiscoveryMethod{graph.MethodSemanticMatch, graph.MethodCardinalityMatch}, res.Degraded())
	assert.Len(t, res.Candidates, 1)
}

func TestPipeline_RowCountsWithoutDistinctDegradeCardinality(t *testing.T) {
	// 只有行数、没有基数的快照（如未开启统计采集的 MySQL）
	snap := snapshot(
		withStats(col("Orders", "CustomerId", "int", false), 10000, 0),
		withStats(col("Orders", "OrderId", "int", true), 10000, 0),
		withStats(col("Customers", "Id", "int", true), 500, 0),
	)

	res, err := NewPipeline(nil).Run(context.Background(), snap, DefaultRunConfig())
	require.NoError(t, err)

	states := map[graph.DiscoveryMethod]StrategyState{}
	for _, s := range res.Statuses {
		states[s.Method] = s.State
	}
	assert.Equal(t, StrategyDegraded, states[graph.MethodCardinalityMatch])
	assert.Equal(t, StrategyOK, states[graph.MethodFKPattern])
	assert.Equal(t, []graph.DiscoveryMethod{graph.MethodCardinalityMatch}, res.Degraded())
}

func TestPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPipeline(nil).Run(ctx, snapshot(), DefaultRunConfig())
	assert.ErrorIs(t, err, context.Canceled)
}
