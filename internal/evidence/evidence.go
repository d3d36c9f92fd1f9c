package evidence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/graph"
)

var (
	// ErrEvidenceUnavailable 无法连接或查询数据源，不会被折算成 0% 覆盖率
	ErrEvidenceUnavailable = errors.New("evidence unavailable")
	// ErrInvalidRequest 请求参数不合法
	ErrInvalidRequest = errors.New("invalid request")
)

// 默认值
const (
	DefaultSampleSize        = 10
	DefaultMaxSampleSize     = 1000
	DefaultTimeout           = 30 * time.Second
	DefaultValidationTimeout = 60 * time.Second
	DefaultMaxValidationRows = 100000
)

// DefaultTimeColumns 时间窗口过滤使用的候选列（按优先级）
var DefaultTimeColumns = []string{"updated_at", "modified_at", "created_at"}

// Sources 在线数据源
type Sources interface {
	Live(id string) (adapter.LiveSource, error)
}

// Options 采样与校验的预算
type Options struct {
	DefaultSampleSize int
	MaxSampleSize     int
	Timeout           time.Duration
	ValidationTimeout time.Duration
	// MaxValidationRows 超过该行数的子表需要显式允许全表校验
	MaxValidationRows int64
	TimeColumns       []string
}

func (o Options) withDefaults() Options {
	if o.DefaultSampleSize <= 0 {
		o.DefaultSampleSize = DefaultSampleSize
	}
	if o.MaxSampleSize <= 0 {
		o.MaxSampleSize = DefaultMaxSampleSize
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ValidationTimeout <= 0 {
		o.ValidationTimeout = DefaultValidationTimeout
	}
	if o.MaxValidationRows <= 0 {
		o.MaxValidationRows = DefaultMaxValidationRows
	}
	if len(o.TimeColumns) == 0 {
		o.TimeColumns = DefaultTimeColumns
	}
	return o
}

// Service 证据与校验服务，只读
type Service struct {
	store   graph.Store
	sources Sources
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// NewService 创建服务
func NewService(store graph.Store, sources Sources, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		sources: sources,
		opts:    opts.withDefaults(),
		logger:  logger.Named("evidence"),
		now:     time.Now,
	}
}

func (s *Service) live(id string) (adapter.LiveSource, error) {
	live, err := s.sources.Live(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvidenceUnavailable, err)
	}
	return live, nil
}

// queryError 调用方取消直接返回；其余都是数据源不可用
func queryError(parent context.Context, op string, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	return fmt.Errorf("%w: %s: %v", ErrEvidenceUnavailable, op, err)
}

// tableRef 已解析的表
type tableRef struct {
	ID      string
	Schema  string
	Name    string
	columns []*graph.Node
}

func (t tableRef) qualified(d adapter.Dialect) string {
	return adapter.QualifyTable(d, t.Schema, t.Name)
}

// primaryKey 表的主键列（排除 except）
func (t tableRef) primaryKey(except string) *graph.Node {
	for _, c := range t.columns {
		if c.IsPrimaryKey && c.Name != except {
			return c
		}
	}
	return nil
}

func (t tableRef) column(name string) *graph.Node {
	for _, c := range t.columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// columnRef 已解析的列
type columnRef struct {
	ID    string
	Name  string
	PII   bool
	Table tableRef
}

// catalog 图存储中的节点目录，用于把 ID 还原成库表列名
type catalog struct {
	dataSourceID  string
	defaultSchema string
	byID          map[string]*graph.Node
	children      map[string][]*graph.Node
}

func (s *Service) loadCatalog(ctx context.Context, dataSourceID, defaultSchema string) (*catalog, error) {
	nodes, err := s.store.ListNodes(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	c := &catalog{
		dataSourceID:  dataSourceID,
		defaultSchema: defaultSchema,
		byID:          make(map[string]*graph.Node, len(nodes)),
		children:      make(map[string][]*graph.Node),
	}
	for _, n := range nodes {
		c.byID[n.ID] = n
		c.children[n.ParentID] = append(c.children[n.ParentID], n)
	}
	return c, nil
}

func (c *catalog) table(id string) tableRef {
	t := tableRef{ID: id, columns: c.children[id]}
	if n, ok := c.byID[id]; ok {
		t.Name = n.Name
		if n.ParentID != c.dataSourceID {
			t.Schema = strings.TrimPrefix(n.ParentID, c.dataSourceID+":")
		}
	} else {
		// 未登记时按 ds:schema.table 解析
		rest := strings.TrimPrefix(id, c.dataSourceID+":")
		if i := strings.Index(rest, "."); i >= 0 {
			t.Schema, t.Name = rest[:i], rest[i+1:]
		} else {
			t.Name = rest
		}
	}
	if t.Schema == "" {
		t.Schema = c.defaultSchema
	}
	return t
}

func (c *catalog) column(id, tableID string) columnRef {
	if n, ok := c.byID[id]; ok {
		return columnRef{ID: id, Name: n.Name, PII: n.IsPII, Table: c.table(n.ParentID)}
	}
	if tableID == "" {
		if i := strings.LastIndex(id, "."); i > 0 {
			tableID = id[:i]
		}
	}
	return columnRef{ID: id, Name: strings.TrimPrefix(id, tableID+"."), Table: c.table(tableID)}
}
