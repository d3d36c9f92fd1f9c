package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceSnapshot_MySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.COLUMNS`).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"schema", "table", "column", "type", "len", "nullable", "pk", "ordinal"}).
			AddRow("shop", "customers", "id", "int", nil, 0, 1, 1).
			AddRow("shop", "orders", "id", "int", nil, 0, 1, 1).
			AddRow("shop", "orders", "customer_id", "int", nil, 1, 0, 2))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"schema", "table", "rows"}).
			AddRow("shop", "customers", 500).
			AddRow("shop", "orders", 10000))

	src := NewSource("sales", db, mysqlDialect{}, "shop")
	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Columns, 3)

	fk := snap.Columns[2]
	assert.Equal(t, "sales:shop.orders.customer_id", fk.ID)
	assert.Equal(t, "sales:shop.orders", fk.TableID)
	assert.True(t, fk.Nullable)
	assert.False(t, fk.IsPrimaryKey)
	require.NotNil(t, fk.Stats)
	assert.Equal(t, int64(10000), fk.Stats.RowCount)
	assert.True(t, snap.Columns[0].IsPrimaryKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceSnapshot_CollectStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.COLUMNS`).
		WillReturnRows(sqlmock.NewRows([]string{"schema", "table", "column", "type", "len", "nullable", "pk", "ordinal"}).
			AddRow("shop", "orders", "customer_id", "int", nil, 1, 0, 1))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).
		WillReturnRows(sqlmock.NewRows([]string{"schema", "table", "rows"}).
			AddRow("shop", "orders", 1000))
	mock.ExpectQuery("SELECT COUNT\\(DISTINCT `customer_id`\\)").
		WillReturnRows(sqlmock.NewRows([]string{"distinct", "nulls"}).AddRow(480, 100))

	src := NewSource("sales", db, mysqlDialect{}, "shop").WithStats(true)
	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	st := snap.Columns[0].Stats
	require.NotNil(t, st)
	assert.Equal(t, int64(480), st.DistinctCount)
	assert.InDelta(t, 0.1, st.NullRate, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDialects(t *testing.T) {
	tests := []struct {
		name        string
		quoted      string
		placeholder string
		limited     string
	}{
		{"mysql", "`a``b`", "?", "SELECT x FROM t LIMIT 5"},
		{"sqlserver", "[a]]b]", "@p2", "SELECT TOP (5) x FROM t"},
		{"postgres", `"a""b"`, "$2", "SELECT x FROM t LIMIT 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DialectByName(tt.name)
			require.NoError(t, err)
			quoteChar := map[string]string{"mysql": "`", "sqlserver": "]", "postgres": `"`}[tt.name]
			assert.Equal(t, tt.quoted, d.QuoteIdent("a"+quoteChar+"b"))
			assert.Equal(t, tt.placeholder, d.Placeholder(2))
			assert.Equal(t, tt.limited, d.SelectLimit("x", "FROM t", 5))
		})
	}

	_, err := DialectByName("oracle")
	assert.Error(t, err)
}

func TestSourceSnapshot_StatsViewDenied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"schema", "table", "column", "type", "len", "nullable", "pk", "ordinal"}).
			AddRow("public", "orders", "customer_id", "integer", nil, 1, 0, 1))
	mock.ExpectQuery(`FROM pg_class`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"schema", "table", "rows"}).
			AddRow("public", "orders", 1000))
	mock.ExpectQuery(`FROM pg_stats`).
		WithArgs("public").
		WillReturnError(errors.New("permission denied for view pg_stats"))

	src := NewSource("wh", db, postgresDialect{}, "public")
	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Columns, 1)
	assert.Equal(t, int64(1000), snap.Columns[0].Stats.RowCount)
	require.Len(t, snap.Warnings, 1)
	assert.Contains(t, snap.Warnings[0], "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}
