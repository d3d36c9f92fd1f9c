package impact

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"lineage-analyzer/internal/graph"
)

// MaxDepthLimit 遍历安全上限，防止环和扇出失控
const MaxDepthLimit = 50

// Direction 遍历方向
type Direction string

const (
	Downstream Direction = "downstream"
	Upstream   Direction = "upstream"
)

// ParseDirection 解析方向，空值为下游
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", Downstream:
		return Downstream, nil
	case Upstream:
		return Upstream, nil
	}
	return "", fmt.Errorf("invalid direction %q", s)
}

// Options 遍历参数
type Options struct {
	Direction Direction
	// MaxDepth <= 0 表示不限（仍受 MaxDepthLimit 约束）
	MaxDepth     int
	IncludeStale bool
}

// Node 可达节点
type Node struct {
	NodeID  string `json:"node_id"`
	TableID string `json:"table_id"`
	// Depth 最少跳数，与置信度所在路径无关
	Depth int `json:"depth"`
	// Confidence 最弱边置信度（所有路径中取最大）
	Confidence float64 `json:"confidence"`
	// PathDepth 与 ViaEdgeID 描述得出 Confidence 的那条路径
	PathDepth int    `json:"path_depth"`
	ViaEdgeID string `json:"via_edge_id"`
}

// Table 按表汇总
type Table struct {
	TableID    string  `json:"table_id"`
	Depth      int     `json:"depth"`
	Confidence float64 `json:"confidence"`
	Columns    int     `json:"columns"`
}

// Result 影响分析结果
type Result struct {
	StartID   string    `json:"start_id"`
	Direction Direction `json:"direction"`
	MaxDepth  int       `json:"max_depth"`
	Nodes     []Node    `json:"nodes"`
	Tables    []Table   `json:"tables"`
	// Truncated 达到深度上限时仍有未展开的节点
	Truncated bool `json:"truncated"`
}

// Analyzer 影响分析器
type Analyzer struct {
	store graph.Store
}

// NewAnalyzer 创建分析器
func NewAnalyzer(store graph.Store) *Analyzer {
	return &Analyzer{store: store}
}

// Downstream 下游影响
func (a *Analyzer) Downstream(ctx context.Context, nodeID string, maxDepth int, includeStale bool) (*Result, error) {
	return a.Traverse(ctx, nodeID, Options{Direction: Downstream, MaxDepth: maxDepth, IncludeStale: includeStale})
}

// Upstream 上游溯源
func (a *Analyzer) Upstream(ctx context.Context, nodeID string, maxDepth int, includeStale bool) (*Result, error) {
	return a.Traverse(ctx, nodeID, Options{Direction: Upstream, MaxDepth: maxDepth, IncludeStale: includeStale})
}

func clampDepth(d int) int {
	if d <= 0 || d > MaxDepthLimit {
		return MaxDepthLimit
	}
	return d
}

// Traverse 逐层松弛：每层只展开上一层置信度有提升的节点
func (a *Analyzer) Traverse(ctx context.Context, nodeID string, opts Options) (*Result, error) {
	dir, err := ParseDirection(string(opts.Direction))
	if err != nil {
		return nil, err
	}
	maxDepth := clampDepth(opts.MaxDepth)

	seeds, err := a.seeds(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	isSeed := make(map[string]bool, len(seeds))
	frontier := make(map[string]float64, len(seeds))
	for _, s := range seeds {
		isSeed[s] = true
		frontier[s] = 1.0
	}

	n := newNeighbors(a.store, dir, opts.IncludeStale)
	best := make(map[string]*Node)

	depth := 1
	for ; depth <= maxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := make(map[string]float64)
		for _, u := range sortedKeys(frontier) {
			conf := frontier[u]
			edges, err := n.of(ctx, u)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				v, table := n.far(e)
				if isSeed[v] {
					continue
				}
				c := conf
				if e.Confidence < c {
					c = e.Confidence
				}
				cur, seen := best[v]
				if !seen {
					cur = &Node{NodeID: v, TableID: table, Depth: depth}
					best[v] = cur
				} else if c <= cur.Confidence {
					continue
				}
				cur.Confidence = c
				cur.PathDepth = depth
				cur.ViaEdgeID = e.ID
				if c > next[v] {
					next[v] = c
				}
			}
		}
		frontier = next
	}

	res := &Result{StartID: nodeID, Direction: dir, MaxDepth: maxDepth}
	if len(frontier) > 0 {
		// 检查是否真的还有可展开的边
		for _, u := range sortedKeys(frontier) {
			edges, err := n.of(ctx, u)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if v, _ := n.far(e); !isSeed[v] {
					res.Truncated = true
					break
				}
			}
			if res.Truncated {
				break
			}
		}
	}

	res.Nodes = make([]Node, 0, len(best))
	for _, node := range best {
		res.Nodes = append(res.Nodes, *node)
	}
	sort.Slice(res.Nodes, func(i, j int) bool {
		x, y := res.Nodes[i], res.Nodes[j]
		if x.Confidence != y.Confidence {
			return x.Confidence > y.Confidence
		}
		if x.Depth != y.Depth {
			return x.Depth < y.Depth
		}
		return x.NodeID < y.NodeID
	})
	res.Tables = summarizeTables(res.Nodes)
	return res, nil
}

// seeds 起点：列本身，或表下的全部列
func (a *Analyzer) seeds(ctx context.Context, nodeID string) ([]string, error) {
	node, err := a.store.GetNode(ctx, nodeID)
	switch {
	case err == nil && (node.Kind == graph.NodeKindTable || node.Kind == graph.NodeKindSchema || node.Kind == graph.NodeKindDatabase):
		return a.columnsUnder(ctx, node)
	case err == nil:
		return []string{nodeID}, nil
	case !errors.Is(err, graph.ErrNotFound):
		return nil, err
	}

	// 节点未登记时，只要图中有相关的边也可以作为起点
	out, err := a.store.OutEdges(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	in, err := a.store.InEdges(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 && len(in) == 0 {
		return nil, fmt.Errorf("%w: node %s", graph.ErrNotFound, nodeID)
	}
	return []string{nodeID}, nil
}

func (a *Analyzer) columnsUnder(ctx context.Context, root *graph.Node) ([]string, error) {
	nodes, err := a.store.ListNodes(ctx, root.DataSourceID)
	if err != nil {
		return nil, err
	}
	children := make(map[string][]*graph.Node)
	for _, n := range nodes {
		children[n.ParentID] = append(children[n.ParentID], n)
	}
	var cols []string
	stack := []string{root.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range children[id] {
			if c.Kind == graph.NodeKindColumn {
				cols = append(cols, c.ID)
			} else {
				stack = append(stack, c.ID)
			}
		}
	}
	sort.Strings(cols)
	return cols, nil
}

func summarizeTables(nodes []Node) []Table {
	byID := make(map[string]*Table)
	for _, n := range nodes {
		t, ok := byID[n.TableID]
		if !ok {
			t = &Table{TableID: n.TableID, Depth: n.Depth}
			byID[n.TableID] = t
		}
		t.Columns++
		if n.Confidence > t.Confidence {
			t.Confidence = n.Confidence
		}
		if n.Depth < t.Depth {
			t.Depth = n.Depth
		}
	}
	out := make([]Table, 0, len(byID))
	for _, t := range byID {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].TableID < out[j].TableID
	})
	return out
}

// neighbors 带缓存的邻接查询
type neighbors struct {
	store        graph.Store
	dir          Direction
	includeStale bool
	cache        map[string][]*graph.Edge
}

func newNeighbors(store graph.Store, dir Direction, includeStale bool) *neighbors {
	return &neighbors{store: store, dir: dir, includeStale: includeStale, cache: make(map[string][]*graph.Edge)}
}

func (n *neighbors) of(ctx context.Context, id string) ([]*graph.Edge, error) {
	if edges, ok := n.cache[id]; ok {
		return edges, nil
	}
	var all []*graph.Edge
	var err error
	if n.dir == Upstream {
		all, err = n.store.InEdges(ctx, id)
	} else {
		all, err = n.store.OutEdges(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	edges := make([]*graph.Edge, 0, len(all))
	for _, e := range all {
		if e.Traversable(n.includeStale) {
			edges = append(edges, e)
		}
	}
	n.cache[id] = edges
	return edges, nil
}

// far 边的另一端
func (n *neighbors) far(e *graph.Edge) (string, string) {
	if n.dir == Upstream {
		return e.SourceColumnID, e.SourceTableID
	}
	return e.TargetColumnID, e.TargetTableID
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
