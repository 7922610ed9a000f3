// Package pathfind computes shortest paths over the mesh graph.
//
// ShortestPaths is classic Dijkstra over non-negative weights using a
// binary heap with lazy decrease-key. Failed nodes, failed links and an
// optional excluded node are skipped. The same runner serves batch callers
// and animated callers: passing WithObserver only adds notifications, so
// both modes produce identical distances and predecessors.
//
// Complexity: O((V + E) log V) time, O(V + E) space.
package pathfind

import (
	"container/heap"
	"context"
	"fmt"
	"math"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/graph"
)

// Result holds final distances and predecessors from one source.
// Unreachable nodes have Dist = +Inf and no Prev entry.
type Result struct {
	Source  string
	Exclude string
	Dist    map[string]float64
	Prev    map[string]string
}

// Reachable reports whether id has a finite distance
func (r *Result) Reachable(id string) bool {
	d, ok := r.Dist[id]
	return ok && !math.IsInf(d, 1)
}

// Distance returns the distance to id, +Inf when unreachable or unknown
func (r *Result) Distance(id string) float64 {
	if d, ok := r.Dist[id]; ok {
		return d
	}
	return math.Inf(1)
}

// ShortestPaths runs Dijkstra from source. The only errors are an unknown
// source, cancellation of ctx, or an error returned by the observer.
// A failed or excluded source yields an all-infinite result, not an error.
func ShortestPaths(ctx context.Context, g *graph.Graph, source string, opts ...Option) (*Result, error) {
	if g == nil || !g.HasNode(source) {
		return nil, fmt.Errorf("%w: source %q", domain.ErrUnknownNode, source)
	}

	r := &runner{
		ctx:     ctx,
		g:       g,
		source:  source,
		opts:    buildOptions(opts),
		scratch: graph.NewScratch(g),
		visited: make(map[string]bool, g.Len()),
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	if err := r.process(); err != nil {
		return nil, err
	}

	return &Result{
		Source:  source,
		Exclude: r.opts.Exclude,
		Dist:    r.scratch.Dist,
		Prev:    r.scratch.Prev,
	}, nil
}

type runner struct {
	ctx     context.Context
	g       *graph.Graph
	source  string
	opts    Options
	scratch *graph.Scratch
	visited map[string]bool
	pq      nodePQ
	seq     int
}

func (r *runner) eligible(id string) bool {
	if id == r.opts.Exclude {
		return false
	}
	n, ok := r.g.Node(id)
	return ok && !n.Failed()
}

func (r *runner) init() error {
	heap.Init(&r.pq)
	if !r.eligible(r.source) {
		return nil
	}
	r.scratch.Dist[r.source] = 0
	heap.Push(&r.pq, &nodeItem{id: r.source, dist: 0})
	return r.emit(domain.StepEvent{Kind: domain.StepNodeStart, NodeID: r.source})
}

func (r *runner) process() error {
	for r.pq.Len() > 0 {
		if err := r.ctx.Err(); err != nil {
			return err
		}

		item := heap.Pop(&r.pq).(*nodeItem)
		u := item.id
		if r.visited[u] || item.dist > r.scratch.Dist[u] {
			continue
		}
		r.visited[u] = true

		if err := r.emit(domain.StepEvent{
			Kind:     domain.StepNodeFinalized,
			NodeID:   u,
			Distance: item.dist,
		}); err != nil {
			return err
		}
		if err := r.relax(u); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) relax(u string) error {
	du := r.scratch.Dist[u]
	for _, adj := range r.g.Neighbors(u, graph.NeighborFilter{ExcludeFailed: true}) {
		v := adj.Neighbor
		if r.visited[v] || v == r.opts.Exclude {
			continue
		}

		cand := du + adj.Link.Weight
		if err := r.emit(domain.StepEvent{
			Kind:       domain.StepEdgeExplored,
			NodeID:     u,
			NeighborID: v,
			LinkID:     adj.Link.ID,
			Distance:   cand,
		}); err != nil {
			return err
		}

		if cand >= r.scratch.Dist[v] {
			continue
		}
		r.scratch.Dist[v] = cand
		r.scratch.Prev[v] = u
		heap.Push(&r.pq, &nodeItem{id: v, dist: cand})

		if err := r.emit(domain.StepEvent{
			Kind:       domain.StepDistanceUpdated,
			NodeID:     v,
			NeighborID: u,
			LinkID:     adj.Link.ID,
			Distance:   cand,
		}); err != nil {
			return err
		}
	}
	return nil
}

// emit is a yield point: cancellation is checked before the observer runs
// so a superseded computation never reports another step.
func (r *runner) emit(ev domain.StepEvent) error {
	if r.opts.Observer == nil {
		return nil
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}
	r.seq++
	ev.Seq = r.seq
	return r.opts.Observer.Observe(r.ctx, ev)
}

type nodeItem struct {
	id   string
	dist float64
}

// nodePQ is a min-heap ordered by (dist, id) so equal-distance ties are
// resolved the same way on every run.
type nodePQ []*nodeItem

func (pq nodePQ) Len() int { return len(pq) }

func (pq nodePQ) Less(i, j int) bool {
	if pq[i].dist != pq[j].dist {
		return pq[i].dist < pq[j].dist
	}
	return pq[i].id < pq[j].id
}

func (pq nodePQ) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *nodePQ) Push(x any) { *pq = append(*pq, x.(*nodeItem)) }

func (pq *nodePQ) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}
