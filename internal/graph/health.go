package graph

import (
	"math"
	"sort"

	"github.com/automesh/meshheal/internal/domain"
)

// Components returns the connected components of the surviving topology
// (non-failed nodes joined by non-failed links). Each component is sorted,
// and components are ordered by their smallest ID.
func (g *Graph) Components() [][]string {
	seen := make(map[string]bool, len(g.nodeOrder))
	var comps [][]string

	for _, start := range g.nodeOrder {
		if seen[start] || g.nodes[start].Failed() {
			continue
		}
		seen[start] = true
		queue := []string{start}
		comp := []string{start}

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, adj := range g.Neighbors(cur, NeighborFilter{ExcludeFailed: true}) {
				if seen[adj.Neighbor] {
					continue
				}
				seen[adj.Neighbor] = true
				queue = append(queue, adj.Neighbor)
				comp = append(comp, adj.Neighbor)
			}
		}
		sort.Strings(comp)
		comps = append(comps, comp)
	}
	return comps
}

// Health summarizes surviving capacity and connectivity
func (g *Graph) Health() domain.NetworkHealth {
	h := domain.NetworkHealth{
		TotalNodes:  len(g.nodeOrder),
		FailedNodes: []string{},
		FailedLinks: []string{},
	}
	for _, id := range g.nodeOrder {
		if g.nodes[id].Failed() {
			h.FailedNodes = append(h.FailedNodes, id)
		} else {
			h.ActiveNodes++
		}
	}
	for _, id := range g.linkOrder {
		if g.links[id].Failed() {
			h.FailedLinks = append(h.FailedLinks, id)
		}
	}
	if h.TotalNodes > 0 {
		pct := float64(h.ActiveNodes) / float64(h.TotalNodes) * 100
		h.ActivePercentage = math.Round(pct*10) / 10
	}
	h.Components = len(g.Components())
	h.Connected = h.Components == 1
	return h
}
