package pathfind

import (
	"context"
	"math"

	"github.com/automesh/meshheal/internal/graph"
)

const weightEpsilon = 1e-9

// EqualCostPaths enumerates every simple path from source to target tied
// with the shortest one. By default "tied" means the same hop count as the
// path Dijkstra reconstructs, which matches total weight only on
// uniform-weight graphs; WithWeightEquality compares total weight instead.
// No path at all yields an empty slice. Paths come out in DFS order with
// neighbors visited by ascending ID. Paths are node sequences, so parallel
// links between two nodes yield one path, priced by the cheapest link.
func EqualCostPaths(ctx context.Context, g *graph.Graph, source, target string, opts ...Option) ([][]string, error) {
	o := buildOptions(opts)

	res, err := ShortestPaths(ctx, g, source, WithExclude(o.Exclude))
	if err != nil {
		return nil, err
	}
	best, ok := res.PathTo(target)
	if !ok {
		return [][]string{}, nil
	}

	e := &enumerator{
		ctx:      ctx,
		g:        g,
		target:   target,
		exclude:  o.Exclude,
		byWeight: o.WeightEquality,
		hops:     len(best) - 1,
		weight:   res.Dist[target],
		visited:  map[string]bool{source: true},
		path:     []string{source},
		found:    [][]string{},
	}
	if err := e.dfs(source, 0); err != nil {
		return nil, err
	}
	return e.found, nil
}

type enumerator struct {
	ctx      context.Context
	g        *graph.Graph
	target   string
	exclude  string
	byWeight bool
	hops     int
	weight   float64

	visited map[string]bool
	path    []string
	found   [][]string
}

func (e *enumerator) dfs(cur string, w float64) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}

	if cur == e.target {
		if e.matches(w) {
			e.found = append(e.found, append([]string(nil), e.path...))
		}
		return nil
	}
	if e.pruned(w) {
		return nil
	}

	next, cost := e.expand(cur)
	for _, v := range next {
		e.visited[v] = true
		e.path = append(e.path, v)

		err := e.dfs(v, w+cost[v])

		e.path = e.path[:len(e.path)-1]
		e.visited[v] = false
		if err != nil {
			return err
		}
	}
	return nil
}

// expand lists the unvisited, eligible neighbors of cur once each, in
// adjacency order. Parallel links collapse onto the cheapest one.
func (e *enumerator) expand(cur string) ([]string, map[string]float64) {
	var next []string
	cost := map[string]float64{}
	for _, adj := range e.g.Neighbors(cur, graph.NeighborFilter{ExcludeFailed: true}) {
		v := adj.Neighbor
		if e.visited[v] || v == e.exclude {
			continue
		}
		if c, seen := cost[v]; seen {
			cost[v] = min(c, adj.Link.Weight)
			continue
		}
		next = append(next, v)
		cost[v] = adj.Link.Weight
	}
	return next, cost
}

func (e *enumerator) matches(w float64) bool {
	if e.byWeight {
		return math.Abs(w-e.weight) <= weightEpsilon
	}
	return len(e.path)-1 == e.hops
}

// pruned stops a branch that can no longer end on a tied path
func (e *enumerator) pruned(w float64) bool {
	if e.byWeight {
		return w > e.weight+weightEpsilon
	}
	return len(e.path)-1 >= e.hops
}
