package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"lineage-analyzer/internal/graph"
)

// SQLiteStore 基于 SQLite 的图存储
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ graph.Store = (*SQLiteStore)(nil)

// Open 打开数据库并执行迁移，":memory:" 为内存库
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// 单写连接：同键 upsert 串行，内存库也只存在于一个连接上
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Close 关闭连接
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB 底层连接
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// --- 节点 ---

// UpsertNodes 批量写入节点
func (s *SQLiteStore) UpsertNodes(ctx context.Context, nodes []graph.Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, data_source_id, kind, name, qualified_name, parent_id, data_type,
			is_primary_key, is_pii, row_count, distinct_count, null_rate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data_source_id = excluded.data_source_id,
			kind = excluded.kind,
			name = excluded.name,
			qualified_name = excluded.qualified_name,
			parent_id = excluded.parent_id,
			data_type = excluded.data_type,
			is_primary_key = excluded.is_primary_key,
			is_pii = excluded.is_pii,
			row_count = excluded.row_count,
			distinct_count = excluded.distinct_count,
			null_rate = excluded.null_rate,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, n := range nodes {
		_, err := stmt.ExecContext(ctx,
			n.ID, n.DataSourceID, string(n.Kind), n.Name, n.QualifiedName,
			nullString(n.ParentID), nullString(n.DataType),
			boolInt(n.IsPrimaryKey), boolInt(n.IsPII),
			nullInt(n.RowCount), nullInt(n.DistinctCount), nullFloat(n.NullRate),
			formatTime(n.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert node %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

const nodeColumns = `id, data_source_id, kind, name, qualified_name, parent_id, data_type,
	is_primary_key, is_pii, row_count, distinct_count, null_rate, updated_at`

// GetNode 获取节点
func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNotFound
	}
	return n, err
}

// ListNodes 列出节点
func (s *SQLiteStore) ListNodes(ctx context.Context, dataSourceID string) ([]*graph.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes`
	var args []interface{}
	if dataSourceID != "" {
		query += ` WHERE data_source_id = ?`
		args = append(args, dataSourceID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*graph.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(sc scanner) (*graph.Node, error) {
	var n graph.Node
	var kind, updated string
	var parent, dataType sql.NullString
	var isPK, isPII int
	var rowCount, distinct sql.NullInt64
	var nullRate sql.NullFloat64
	if err := sc.Scan(&n.ID, &n.DataSourceID, &kind, &n.Name, &n.QualifiedName, &parent, &dataType,
		&isPK, &isPII, &rowCount, &distinct, &nullRate, &updated); err != nil {
		return nil, err
	}
	n.Kind = graph.NodeKind(kind)
	n.ParentID = parent.String
	n.DataType = dataType.String
	n.IsPrimaryKey = isPK == 1
	n.IsPII = isPII == 1
	if rowCount.Valid {
		n.RowCount = &rowCount.Int64
	}
	if distinct.Valid {
		n.DistinctCount = &distinct.Int64
	}
	if nullRate.Valid {
		n.NullRate = &nullRate.Float64
	}
	t, err := parseTime(updated)
	if err != nil {
		return nil, err
	}
	n.UpdatedAt = t
	return &n, nil
}

// --- 边 ---

const edgeColumns = `id, data_source_id, source_column_id, target_column_id, source_table_id, target_table_id,
	discovery_method, confidence, match_metadata, stale, invalidated, first_discovered_at, last_confirmed_at`

// UpsertEdge 在事务内读取-合并-写入，保证不降级
func (s *SQLiteStore) UpsertEdge(ctx context.Context, e *graph.Edge, now time.Time) (graph.UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE source_column_id = ? AND target_column_id = ?`,
		e.SourceColumnID, e.TargetColumnID)
	existing, err := scanEdge(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	merged, res := graph.MergeEdge(existing, e, now)
	meta, err := json.Marshal(merged.Metadata)
	if err != nil {
		return 0, err
	}

	switch res {
	case graph.UpsertCreated:
		_, err = tx.ExecContext(ctx, `INSERT INTO edges (`+edgeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			merged.ID, merged.DataSourceID, merged.SourceColumnID, merged.TargetColumnID,
			merged.SourceTableID, merged.TargetTableID, string(merged.Method), merged.Confidence,
			string(meta), boolInt(merged.Stale), boolInt(merged.Invalidated),
			formatTime(merged.FirstDiscoveredAt), formatTime(merged.LastConfirmedAt))
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE edges SET discovery_method = ?, confidence = ?, match_metadata = ?, stale = ?, last_confirmed_at = ?
			WHERE id = ?`,
			string(merged.Method), merged.Confidence, string(meta), boolInt(merged.Stale),
			formatTime(merged.LastConfirmedAt), merged.ID)
	}
	if err != nil {
		return 0, fmt.Errorf("upsert edge %s: %w", merged.Key(), err)
	}
	return res, tx.Commit()
}

// MarkStale 标记未复现的边
func (s *SQLiteStore) MarkStale(ctx context.Context, dataSourceID string, keep map[graph.EdgeKey]bool, _ time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, source_column_id, target_column_id FROM edges
		WHERE data_source_id = ? AND stale = 0 AND invalidated = 0`, dataSourceID)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		var k graph.EdgeKey
		if err := rows.Scan(&id, &k.SourceColumnID, &k.TargetColumnID); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep[k] {
			ids = append(ids, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE edges SET stale = 1 WHERE id = ?`, id); err != nil {
			return 0, err
		}
	}
	return len(ids), tx.Commit()
}

// InvalidateEdge 人工作废
func (s *SQLiteStore) InvalidateEdge(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE edges SET invalidated = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return graph.ErrNotFound
	}
	return nil
}

// GetEdge 获取边
func (s *SQLiteStore) GetEdge(ctx context.Context, id string) (*graph.Edge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNotFound
	}
	return e, err
}

// ListEdges 按条件列出边
func (s *SQLiteStore) ListEdges(ctx context.Context, f graph.EdgeFilter) ([]*graph.Edge, error) {
	var where []string
	var args []interface{}
	if f.DataSourceID != "" {
		where = append(where, "data_source_id = ?")
		args = append(args, f.DataSourceID)
	}
	if !f.IncludeStale {
		where = append(where, "stale = 0")
	}
	if !f.IncludeInvalidated {
		where = append(where, "invalidated = 0")
	}
	query := `SELECT ` + edgeColumns + ` FROM edges`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY source_column_id, target_column_id`
	return s.queryEdges(ctx, query, args...)
}

// OutEdges 下游方向
func (s *SQLiteStore) OutEdges(ctx context.Context, columnID string) ([]*graph.Edge, error) {
	return s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges WHERE source_column_id = ?
		ORDER BY source_column_id, target_column_id`, columnID)
}

// InEdges 上游方向
func (s *SQLiteStore) InEdges(ctx context.Context, columnID string) ([]*graph.Edge, error) {
	return s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges WHERE target_column_id = ?
		ORDER BY source_column_id, target_column_id`, columnID)
}

func (s *SQLiteStore) queryEdges(ctx context.Context, query string, args ...interface{}) ([]*graph.Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*graph.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEdge(sc scanner) (*graph.Edge, error) {
	var e graph.Edge
	var method, meta, first, last string
	var stale, invalidated int
	if err := sc.Scan(&e.ID, &e.DataSourceID, &e.SourceColumnID, &e.TargetColumnID,
		&e.SourceTableID, &e.TargetTableID, &method, &e.Confidence, &meta,
		&stale, &invalidated, &first, &last); err != nil {
		return nil, err
	}
	e.Method = graph.DiscoveryMethod(method)
	e.Stale = stale == 1
	e.Invalidated = invalidated == 1
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return nil, fmt.Errorf("decode match metadata of %s: %w", e.ID, err)
	}
	var err error
	if e.FirstDiscoveredAt, err = parseTime(first); err != nil {
		return nil, err
	}
	if e.LastConfirmedAt, err = parseTime(last); err != nil {
		return nil, err
	}
	return &e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
