package impact

import (
	"container/heap"
	"context"
	"errors"

	"lineage-analyzer/internal/graph"
)

// ErrNoPath 两点之间不可达
var ErrNoPath = errors.New("no path")

// Path 最宽路径
type Path struct {
	From  string        `json:"from"`
	To    string        `json:"to"`
	Nodes []string      `json:"nodes"`
	Edges []*graph.Edge `json:"edges"`
	Hops  int           `json:"hops"`
	// Confidence 路径上最弱边
	Confidence float64 `json:"confidence"`
}

type label struct {
	node string
	conf float64
	hops int
}

// better 最弱边更强优先，相同时跳数更少
func (l label) better(o label) bool {
	if l.conf != o.conf {
		return l.conf > o.conf
	}
	if l.hops != o.hops {
		return l.hops < o.hops
	}
	return l.node < o.node
}

type labelHeap []label

func (h labelHeap) Len() int            { return len(h) }
func (h labelHeap) Less(i, j int) bool  { return h[i].better(h[j]) }
func (h labelHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *labelHeap) Push(x interface{}) { *h = append(*h, x.(label)) }
func (h *labelHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// ShortestPath 沿下游方向寻找最弱边最强的路径，而不是跳数最少的路径
func (a *Analyzer) ShortestPath(ctx context.Context, from, to string, includeStale bool) (*Path, error) {
	if from == to {
		return &Path{From: from, To: to, Nodes: []string{from}, Confidence: 1.0}, nil
	}

	n := newNeighbors(a.store, Downstream, includeStale)
	best := map[string]label{from: {node: from, conf: 1.0}}
	prev := make(map[string]*graph.Edge)
	done := make(map[string]bool)

	h := &labelHeap{best[from]}
	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := heap.Pop(h).(label)
		if done[cur.node] {
			continue
		}
		done[cur.node] = true
		if cur.node == to {
			break
		}
		if cur.hops >= MaxDepthLimit {
			continue
		}

		edges, err := n.of(ctx, cur.node)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			v := e.TargetColumnID
			if done[v] {
				continue
			}
			c := cur.conf
			if e.Confidence < c {
				c = e.Confidence
			}
			cand := label{node: v, conf: c, hops: cur.hops + 1}
			if old, ok := best[v]; !ok || cand.better(old) {
				best[v] = cand
				prev[v] = e
				heap.Push(h, cand)
			}
		}
	}

	if !done[to] {
		return nil, ErrNoPath
	}

	p := &Path{From: from, To: to, Confidence: best[to].conf, Hops: best[to].hops}
	for node := to; node != from; node = prev[node].SourceColumnID {
		p.Edges = append(p.Edges, prev[node])
	}
	for i, j := 0, len(p.Edges)-1; i < j; i, j = i+1, j-1 {
		p.Edges[i], p.Edges[j] = p.Edges[j], p.Edges[i]
	}
	p.Nodes = append(p.Nodes, from)
	for _, e := range p.Edges {
		p.Nodes = append(p.Nodes, e.TargetColumnID)
	}
	return p, nil
}
