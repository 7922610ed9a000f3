// Package fallback builds device-to-gateway paths tier by tier
// (device, access point, switch, router, firewall, gateway), sidestepping
// failures with mesh links at each tier. It is greedy and
// connectivity-first: no weights, no global search.
package fallback

import (
	"math"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/graph"
)

// DefaultMaxRange is the furthest a device may roam to reach another AP
const DefaultMaxRange = 150.0

// Options configures BuildFallbackPath
type Options struct {
	Exclude  string
	MaxRange float64
}

// Option mutates Options
type Option func(*Options)

// WithExclude treats id as unusable even if it is not failed
func WithExclude(id string) Option {
	return func(o *Options) { o.Exclude = id }
}

// WithMaxRange overrides the device-to-AP roaming range
func WithMaxRange(r float64) Option {
	return func(o *Options) { o.MaxRange = r }
}

// BuildFallbackPath returns the longest path prefix from deviceID toward
// the gateway that current failures allow. A path that does not end at a
// gateway (see IsComplete) means no complete route; that is a result, not
// an error. Unknown or non-device IDs yield nil.
func BuildFallbackPath(g *graph.Graph, deviceID string, opts ...Option) []string {
	o := Options{MaxRange: DefaultMaxRange}
	for _, opt := range opts {
		opt(&o)
	}

	dev, ok := g.Node(deviceID)
	if !ok || dev.Kind != domain.KindDevice {
		return nil
	}

	b := &builder{g: g, opts: o, path: []string{deviceID}}
	b.run(dev)
	return b.path
}

// IsComplete reports whether path reaches a gateway
func IsComplete(g *graph.Graph, path []string) bool {
	if len(path) == 0 {
		return false
	}
	n, ok := g.Node(path[len(path)-1])
	return ok && n.Kind == domain.KindGateway
}

type builder struct {
	g    *graph.Graph
	opts Options
	path []string
}

func (b *builder) push(ids ...string) { b.path = append(b.path, ids...) }

func (b *builder) run(dev domain.Node) {
	ap := b.attach(dev)
	if ap == "" {
		return
	}
	b.push(ap)

	sw := b.toSwitch(ap)
	if sw == "" {
		return
	}

	router := b.toRouter(sw)
	if router == "" {
		return
	}
	b.push(router)

	fw := b.up(router, domain.KindFirewall)
	if fw == "" {
		return
	}
	b.push(fw)

	if gw := b.up(fw, domain.KindGateway); gw != "" {
		b.push(gw)
	}
}

// usable reports whether id is a non-failed, non-excluded node of kind
func (b *builder) usable(id string, kind domain.NodeKind) bool {
	if id == "" || id == b.opts.Exclude {
		return false
	}
	n, ok := b.g.Node(id)
	return ok && n.Kind == kind && !n.Failed()
}

// up returns the first usable neighbor of kind over a non-failed link
func (b *builder) up(from string, kind domain.NodeKind) string {
	for _, adj := range b.g.Neighbors(from, graph.NeighborFilter{ExcludeFailed: true}) {
		if adj.Link.Kind != domain.LinkMesh && b.usable(adj.Neighbor, kind) {
			return adj.Neighbor
		}
	}
	return ""
}

// lateral returns usable same-kind neighbors reachable over mesh links
func (b *builder) lateral(from string, kind domain.NodeKind) []string {
	var out []string
	for _, adj := range b.g.Neighbors(from, graph.NeighborFilter{ExcludeFailed: true}) {
		if adj.Link.Kind == domain.LinkMesh && b.usable(adj.Neighbor, kind) {
			out = append(out, adj.Neighbor)
		}
	}
	return out
}

// original returns the node of kind this one is normally homed on. The
// far node may be failed or excluded, but the link to it must still work:
// a down uplink leaves no home to fall back from.
func (b *builder) original(from string, kind domain.NodeKind) string {
	for _, adj := range b.g.Neighbors(from, graph.NeighborFilter{}) {
		if adj.Link.Kind == domain.LinkMesh || adj.Link.Failed() {
			continue
		}
		if n, ok := b.g.Node(adj.Neighbor); ok && n.Kind == kind {
			return n.ID
		}
	}
	return ""
}

// attach picks the device's AP: its primary uplink when usable, otherwise
// the nearest usable AP in range that still has a working switch uplink.
func (b *builder) attach(dev domain.Node) string {
	if b.usable(dev.PrimaryUplink, domain.KindAccessPoint) {
		return dev.PrimaryUplink
	}

	best, bestDist := "", math.Inf(1)
	for _, ap := range b.g.NodesOfKind(domain.KindAccessPoint) {
		if !b.usable(ap.ID, domain.KindAccessPoint) {
			continue
		}
		d := math.Hypot(dev.Position.X-ap.Position.X, dev.Position.Y-ap.Position.Y)
		if d > b.opts.MaxRange || d >= bestDist {
			continue
		}
		if b.up(ap.ID, domain.KindSwitch) == "" {
			continue
		}
		best, bestDist = ap.ID, d
	}
	return best
}

// toSwitch extends the path from ap to a working switch, pushing every
// hop it takes, and returns that switch.
func (b *builder) toSwitch(ap string) string {
	if sw := b.up(ap, domain.KindSwitch); sw != "" {
		b.push(sw)
		return sw
	}

	if hops, sw := b.meshToSwitch(ap); sw != "" {
		b.push(hops...)
		b.push(sw)
		return sw
	}

	if orig := b.original(ap, domain.KindSwitch); orig != "" {
		if alts := b.lateral(orig, domain.KindSwitch); len(alts) > 0 {
			b.push(alts[0])
			return alts[0]
		}
	}
	return ""
}

// meshToSwitch searches the AP mesh breadth-first for any AP with a
// working switch uplink. It returns the APs traversed (ending with the
// one found) and that switch.
func (b *builder) meshToSwitch(start string) ([]string, string) {
	type entry struct {
		ap   string
		hops []string
	}
	visited := map[string]bool{start: true}
	queue := []entry{{ap: start}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, next := range b.lateral(cur.ap, domain.KindAccessPoint) {
			if visited[next] {
				continue
			}
			visited[next] = true

			hops := append(append([]string(nil), cur.hops...), next)
			if sw := b.up(next, domain.KindSwitch); sw != "" {
				return hops, sw
			}
			queue = append(queue, entry{ap: next, hops: hops})
		}
	}
	return nil, ""
}

// toRouter finds a working router for sw: directly, through a neighboring
// switch (pushed onto the path), or across the router mesh from sw's home
// router. The router itself is not pushed.
func (b *builder) toRouter(sw string) string {
	if r := b.up(sw, domain.KindRouter); r != "" {
		return r
	}

	for _, alt := range b.lateral(sw, domain.KindSwitch) {
		if r := b.up(alt, domain.KindRouter); r != "" {
			b.push(alt)
			return r
		}
	}

	if home := b.original(sw, domain.KindRouter); home != "" {
		if alts := b.lateral(home, domain.KindRouter); len(alts) > 0 {
			return alts[0]
		}
	}
	return ""
}
