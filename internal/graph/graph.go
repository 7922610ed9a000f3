// Package graph holds the mutable mesh topology: nodes, undirected links
// and their normal/failed/healing status.
//
// A Graph is not safe for concurrent mutation. The healing orchestrator
// serializes access to the live graph and hands Clone()s to background
// computations.
package graph

import (
	"fmt"
	"math"
	"sort"

	"github.com/automesh/meshheal/internal/domain"
)

// Adjacency pairs an incident link with the node on its far side
type Adjacency struct {
	Link     domain.Link
	Neighbor string
}

// NeighborFilter controls which adjacencies Neighbors returns
type NeighborFilter struct {
	// ExcludeFailed drops failed links and links leading to failed nodes
	ExcludeFailed bool
}

// Graph is an undirected multigraph keyed by node and link ID. Parallel
// links are kept; path queries treat them as one hop over the cheapest
// working link.
type Graph struct {
	name      string
	nodes     map[string]*domain.Node
	nodeOrder []string
	links     map[string]*domain.Link
	linkOrder []string
	adj       map[string][]string
}

// New builds a graph and fails fast on dangling link endpoints, duplicate
// IDs and negative or NaN weights. Empty statuses default to normal.
func New(nodes []domain.Node, links []domain.Link) (*Graph, error) {
	g := &Graph{
		nodes:     make(map[string]*domain.Node, len(nodes)),
		nodeOrder: make([]string, 0, len(nodes)),
		links:     make(map[string]*domain.Link, len(links)),
		linkOrder: make([]string, 0, len(links)),
		adj:       make(map[string][]string, len(nodes)),
	}

	for i := range nodes {
		n := nodes[i]
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node at index %d has an empty id", domain.ErrUnknownNode, i)
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("%w: node %s", domain.ErrDuplicateID, n.ID)
		}
		if n.Status == "" {
			n.Status = domain.StatusNormal
		}
		g.nodes[n.ID] = &n
		g.nodeOrder = append(g.nodeOrder, n.ID)
	}
	sort.Strings(g.nodeOrder)

	for i := range links {
		l := links[i]
		if _, dup := g.links[l.ID]; dup || l.ID == "" {
			return nil, fmt.Errorf("%w: link %q", domain.ErrDuplicateID, l.ID)
		}
		if _, ok := g.nodes[l.Source]; !ok {
			return nil, fmt.Errorf("%w: link %s references source %q", domain.ErrUnknownNode, l.ID, l.Source)
		}
		if _, ok := g.nodes[l.Target]; !ok {
			return nil, fmt.Errorf("%w: link %s references target %q", domain.ErrUnknownNode, l.ID, l.Target)
		}
		if l.Weight < 0 || math.IsNaN(l.Weight) {
			return nil, fmt.Errorf("%w: link %s weight=%v", domain.ErrNegativeWeight, l.ID, l.Weight)
		}
		if l.Status == "" {
			l.Status = domain.StatusNormal
		}
		g.links[l.ID] = &l
		g.linkOrder = append(g.linkOrder, l.ID)
		g.adj[l.Source] = append(g.adj[l.Source], l.ID)
		if l.Target != l.Source {
			g.adj[l.Target] = append(g.adj[l.Target], l.ID)
		}
	}

	// Deterministic traversal: neighbors ordered by (neighbor id, link id).
	for id, ids := range g.adj {
		sort.Slice(ids, func(a, b int) bool {
			na, nb := g.links[ids[a]].Other(id), g.links[ids[b]].Other(id)
			if na != nb {
				return na < nb
			}
			return ids[a] < ids[b]
		})
	}

	return g, nil
}

// FromTopology builds a graph from its serializable form
func FromTopology(t domain.Topology) (*Graph, error) {
	g, err := New(t.Nodes, t.Links)
	if err != nil {
		return nil, err
	}
	g.name = t.Name
	return g, nil
}

// Name returns the topology name the graph was built from
func (g *Graph) Name() string { return g.name }

// Len returns the number of nodes
func (g *Graph) Len() int { return len(g.nodeOrder) }

// HasNode reports whether id exists
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns a copy of the node with the given ID
func (g *Graph) Node(id string) (domain.Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return domain.Node{}, false
	}
	return *n, true
}

// Link returns a copy of the link with the given ID
func (g *Graph) Link(id string) (domain.Link, bool) {
	l, ok := g.links[id]
	if !ok {
		return domain.Link{}, false
	}
	return *l, true
}

// NodeIDs returns all node IDs sorted ascending
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.nodeOrder))
	copy(out, g.nodeOrder)
	return out
}

// Nodes returns copies of all nodes sorted by ID
func (g *Graph) Nodes() []domain.Node {
	out := make([]domain.Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, *g.nodes[id])
	}
	return out
}

// Links returns copies of all links in construction order
func (g *Graph) Links() []domain.Link {
	out := make([]domain.Link, 0, len(g.linkOrder))
	for _, id := range g.linkOrder {
		out = append(out, *g.links[id])
	}
	return out
}

// NodesOfKind returns the nodes of one tier sorted by ID
func (g *Graph) NodesOfKind(kind domain.NodeKind) []domain.Node {
	var out []domain.Node
	for _, id := range g.nodeOrder {
		if n := g.nodes[id]; n.Kind == kind {
			out = append(out, *n)
		}
	}
	return out
}

// CountActive returns how many nodes of a kind are not failed
func (g *Graph) CountActive(kind domain.NodeKind) int {
	count := 0
	for _, n := range g.nodes {
		if n.Kind == kind && !n.Failed() {
			count++
		}
	}
	return count
}

// IncidentLinks returns every link touching id, regardless of status
func (g *Graph) IncidentLinks(id string) []domain.Link {
	ids := g.adj[id]
	out := make([]domain.Link, 0, len(ids))
	for _, lid := range ids {
		out = append(out, *g.links[lid])
	}
	return out
}

// Neighbors lists the adjacencies of id in (neighbor id, link id) order.
// Unknown IDs yield nil.
func (g *Graph) Neighbors(id string, f NeighborFilter) []Adjacency {
	ids := g.adj[id]
	out := make([]Adjacency, 0, len(ids))
	for _, lid := range ids {
		l := g.links[lid]
		other := l.Other(id)
		if f.ExcludeFailed && (l.Failed() || g.nodes[other].Failed()) {
			continue
		}
		out = append(out, Adjacency{Link: *l, Neighbor: other})
	}
	return out
}

// SetNodeStatus updates a node's status
func (g *Graph) SetNodeStatus(id string, s domain.Status) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownNode, id)
	}
	n.Status = s
	return nil
}

// SetLinkStatus updates a link's status
func (g *Graph) SetLinkStatus(id string, s domain.Status) error {
	l, ok := g.links[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownLink, id)
	}
	l.Status = s
	return nil
}

// SetPrimaryUplink repoints a node's preferred parent
func (g *Graph) SetPrimaryUplink(id, uplink string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownNode, id)
	}
	if uplink != "" {
		if _, ok := g.nodes[uplink]; !ok {
			return fmt.Errorf("%w: uplink %s", domain.ErrUnknownNode, uplink)
		}
	}
	n.PrimaryUplink = uplink
	return nil
}

// LinkBetween returns the cheapest non-failed link joining a and b, ties
// going to the lowest link ID
func (g *Graph) LinkBetween(a, b string) (domain.Link, bool) {
	var best *domain.Link
	for _, lid := range g.adj[a] {
		l := g.links[lid]
		if l.Failed() || l.Other(a) != b {
			continue
		}
		if best == nil || l.Weight < best.Weight {
			best = l
		}
	}
	if best == nil {
		return domain.Link{}, false
	}
	return *best, true
}

// FailNode marks a node failed together with all of its incident links and
// returns the IDs of links whose status changed.
func (g *Graph) FailNode(id string) ([]string, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNode, id)
	}
	n.Status = domain.StatusFailed

	var changed []string
	for _, lid := range g.adj[id] {
		l := g.links[lid]
		if l.Status != domain.StatusFailed {
			l.Status = domain.StatusFailed
			changed = append(changed, lid)
		}
	}
	return changed, nil
}

// ResetStatuses returns every node and link to normal
func (g *Graph) ResetStatuses() {
	for _, n := range g.nodes {
		n.Status = domain.StatusNormal
	}
	for _, l := range g.links {
		l.Status = domain.StatusNormal
	}
}

// Clone returns a deep copy sharing no mutable state with g
func (g *Graph) Clone() *Graph {
	c := &Graph{
		name:      g.name,
		nodes:     make(map[string]*domain.Node, len(g.nodes)),
		nodeOrder: append([]string(nil), g.nodeOrder...),
		links:     make(map[string]*domain.Link, len(g.links)),
		linkOrder: append([]string(nil), g.linkOrder...),
		adj:       make(map[string][]string, len(g.adj)),
	}
	for id, n := range g.nodes {
		cp := *n
		c.nodes[id] = &cp
	}
	for id, l := range g.links {
		cp := *l
		c.links[id] = &cp
	}
	for id, ids := range g.adj {
		c.adj[id] = append([]string(nil), ids...)
	}
	return c
}

// Topology exports the graph in its serializable form
func (g *Graph) Topology() domain.Topology {
	return domain.Topology{Name: g.name, Nodes: g.Nodes(), Links: g.Links()}
}
