package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/config"
	"lineage-analyzer/internal/discovery"
	"lineage-analyzer/internal/graph"
	"lineage-analyzer/internal/store"
)

const catalog = `
database: salesdb
tables:
  - schema: dbo
    name: Orders
    row_count: 10000
    columns:
      - name: Id
        type: int
        primary_key: true
        distinct_count: 10000
      - name: CustomerId
        type: int
        distinct_count: 480
  - schema: dbo
    name: Customers
    row_count: 500
    columns:
      - name: Id
        type: int
        primary_key: true
        distinct_count: 500
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))
	return &config.Config{
		Store: config.StoreConfig{Driver: "memory"},
		Discovery: config.DiscoveryConfig{
			ExactMatch: true, FKPattern: true, Semantic: true, Cardinality: true,
			UpsertWorkers: 2,
		},
		Evidence: config.EvidenceConfig{DefaultSampleSize: 10, MaxSampleSize: 100},
		Sources: []adapter.SourceConfig{
			{ID: "sales", Type: "file", Path: path},
			{ID: "broken", Type: "file", Path: filepath.Join(t.TempDir(), "missing.yaml")},
		},
	}
}

func TestNewAndDiscover(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &graph.MemoryStore{}, a.Store)
	assert.Equal(t, []string{"broken", "sales"}, a.Registry.IDs())

	sum, err := a.Engine.Run(ctx, discovery.RunRequest{DataSourceID: "sales"})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Tables)
	assert.Positive(t, sum.EdgesCreated)

	edges, err := a.Store.OutEdges(ctx, "sales:dbo.Orders.CustomerId")
	require.NoError(t, err)
	require.NotEmpty(t, edges)
	assert.Equal(t, "sales:dbo.Customers.Id", edges[0].TargetColumnID)

	res, err := a.Impact.Upstream(ctx, "sales:dbo.Customers.Id", 0, false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Nodes)
}

func TestNew_UnavailableSource(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Engine.Run(ctx, discovery.RunRequest{DataSourceID: "broken"})
	assert.ErrorIs(t, err, discovery.ErrMetadataUnavailable)

	_, err = a.Engine.Run(ctx, discovery.RunRequest{DataSourceID: "nope"})
	assert.ErrorIs(t, err, adapter.ErrUnknownSource)
}

func TestNew_SQLiteAndRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "lineage.db")}
	cfg.Redis = config.RedisConfig{Enabled: true, Addr: mr.Addr(), LockTTL: time.Minute, Channel: "lineage:test"}

	ctx := context.Background()
	a, err := New(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &store.SQLiteStore{}, a.Store)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	sub := client.Subscribe(ctx, "lineage:test")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	_, err = a.Engine.Run(ctx, discovery.RunRequest{DataSourceID: "sales"})
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, "discovery.completed")
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis = config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"}

	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNew_UnknownStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "bolt"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
