package pathfind

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"slices"
	"testing"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/graph"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// randomGraph builds a small graph (2..8 nodes) with integer weights and a
// sprinkling of failed nodes and links, fully determined by seed.
func randomGraph(seed int64) *graph.Graph {
	rng := rand.New(rand.NewSource(seed))
	n := 2 + rng.Intn(7)

	nodes := make([]domain.Node, n)
	for i := range nodes {
		nodes[i] = domain.Node{ID: fmt.Sprintf("n%d", i), Kind: domain.KindRouter}
		if i > 0 && rng.Intn(8) == 0 {
			nodes[i].Status = domain.StatusFailed
		}
	}

	var links []domain.Link
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Intn(2) == 0 {
				continue
			}
			l := domain.Link{
				ID:     fmt.Sprintf("l%d-%d", i, j),
				Source: nodes[i].ID,
				Target: nodes[j].ID,
				Kind:   domain.LinkCore,
				Weight: float64(rng.Intn(10)),
			}
			if rng.Intn(6) == 0 {
				l.Status = domain.StatusFailed
			}
			links = append(links, l)
		}
	}

	g, err := graph.New(nodes, links)
	if err != nil {
		panic(err)
	}
	return g
}

// bruteForce returns the minimum total weight over all simple paths from
// source to target that avoid failed elements and exclude.
func bruteForce(g *graph.Graph, source, target, exclude string) float64 {
	best := math.Inf(1)
	if n, _ := g.Node(source); n.Failed() || source == exclude {
		return best
	}

	visited := map[string]bool{source: true}
	var walk func(cur string, w float64)
	walk = func(cur string, w float64) {
		if cur == target {
			best = math.Min(best, w)
			return
		}
		for _, adj := range g.Neighbors(cur, graph.NeighborFilter{ExcludeFailed: true}) {
			v := adj.Neighbor
			if visited[v] || v == exclude {
				continue
			}
			visited[v] = true
			walk(v, w+adj.Link.Weight)
			visited[v] = false
		}
	}
	walk(source, 0)
	return best
}

// withoutNode rebuilds g with id and every link touching it removed
func withoutNode(g *graph.Graph, id string) *graph.Graph {
	var nodes []domain.Node
	for _, n := range g.Nodes() {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	var links []domain.Link
	for _, l := range g.Links() {
		if !l.Touches(id) {
			links = append(links, l)
		}
	}
	out, err := graph.New(nodes, links)
	if err != nil {
		panic(err)
	}
	return out
}

func newProperties() *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	return gopter.NewProperties(parameters)
}

func TestShortestPathProperties(t *testing.T) {
	properties := newProperties()

	properties.Property("batch distances match brute force", prop.ForAll(
		func(seed int64) bool {
			g := randomGraph(seed)
			res, err := ShortestPaths(context.Background(), g, "n0")
			if err != nil {
				return false
			}
			for _, id := range g.NodeIDs() {
				if res.Distance(id) != bruteForce(g, "n0", id, "") {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.Property("observed mode equals batch mode", prop.ForAll(
		func(seed int64) bool {
			g := randomGraph(seed)
			batch, err := ShortestPaths(context.Background(), g, "n0")
			if err != nil {
				return false
			}

			last := 0
			ordered := true
			obs := ObserverFunc(func(_ context.Context, ev domain.StepEvent) error {
				ordered = ordered && ev.Seq == last+1
				last = ev.Seq
				return nil
			})
			observed, err := ShortestPaths(context.Background(), g, "n0", WithObserver(obs))
			if err != nil {
				return false
			}
			return ordered &&
				reflect.DeepEqual(batch.Dist, observed.Dist) &&
				reflect.DeepEqual(batch.Prev, observed.Prev)
		},
		gen.Int64(),
	))

	properties.Property("excluding a node equals removing it", prop.ForAll(
		func(seed int64, pick int) bool {
			g := randomGraph(seed)
			ids := g.NodeIDs()
			exclude := ids[pick%len(ids)]

			res, err := ShortestPaths(context.Background(), g, "n0", WithExclude(exclude))
			if err != nil || res.Reachable(exclude) {
				return false
			}
			if exclude == "n0" {
				for _, id := range ids {
					if res.Reachable(id) {
						return false
					}
				}
				return true
			}

			removed, err := ShortestPaths(context.Background(), withoutNode(g, exclude), "n0")
			if err != nil {
				return false
			}
			for _, id := range ids {
				if id == exclude {
					continue
				}
				if res.Distance(id) != removed.Distance(id) {
					return false
				}
				if path, ok := res.PathTo(id); ok && slices.Contains(path, exclude) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(0, 64),
	))

	properties.Property("reconstructed path cost equals distance", prop.ForAll(
		func(seed int64) bool {
			g := randomGraph(seed)
			res, err := ShortestPaths(context.Background(), g, "n0")
			if err != nil {
				return false
			}
			for _, id := range g.NodeIDs() {
				path, ok := res.PathTo(id)
				if ok != res.Reachable(id) {
					return false
				}
				if ok && pathCost(g, path) != res.Dist[id] {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.Property("weighted ECMP paths all cost the shortest distance", prop.ForAll(
		func(seed int64) bool {
			g := randomGraph(seed)
			ids := g.NodeIDs()
			target := ids[len(ids)-1]

			paths, err := EqualCostPaths(context.Background(), g, "n0", target, WithWeightEquality())
			if err != nil {
				return false
			}
			want := bruteForce(g, "n0", target, "")
			if math.IsInf(want, 1) {
				return len(paths) == 0
			}
			if len(paths) == 0 {
				return false
			}
			for _, p := range paths {
				if pathCost(g, p) != want {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// pathCost sums the cheapest non-failed link between each consecutive pair
func pathCost(g *graph.Graph, path []string) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		step := math.Inf(1)
		for _, adj := range g.Neighbors(path[i-1], graph.NeighborFilter{ExcludeFailed: true}) {
			if adj.Neighbor == path[i] {
				step = math.Min(step, adj.Link.Weight)
			}
		}
		total += step
	}
	return total
}
