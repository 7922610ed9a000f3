package graph

import "math"

// Scratch is the per-computation arena holding tentative distances and
// predecessors. Keeping it outside the nodes lets concurrent shortest-path
// runs share one graph without clobbering each other.
type Scratch struct {
	Dist map[string]float64
	Prev map[string]string

	ids []string
}

// NewScratch allocates a reset arena sized for g
func NewScratch(g *Graph) *Scratch {
	s := &Scratch{
		Dist: make(map[string]float64, g.Len()),
		Prev: make(map[string]string, g.Len()),
		ids:  g.NodeIDs(),
	}
	s.Reset()
	return s
}

// Reset sets every distance to +Inf and clears every predecessor.
// Idempotent.
func (s *Scratch) Reset() {
	clear(s.Prev)
	for _, id := range s.ids {
		s.Dist[id] = math.Inf(1)
	}
}
