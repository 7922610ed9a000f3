// Package topology provides the built-in network presets and loads
// user-supplied topologies from YAML.
package topology

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/automesh/meshheal/internal/domain"
)

const (
	PresetAutomesh = "automesh"
	PresetCampus   = "campus"

	// CampusSeed fixes the pseudo-random parts of the campus layout
	CampusSeed int64 = 42
)

// Presets lists the built-in topology names
func Presets() []string { return []string{PresetAutomesh, PresetCampus} }

// Preset returns a built-in topology by name
func Preset(name string) (domain.Topology, bool) {
	switch name {
	case PresetAutomesh:
		return Automesh(), true
	case PresetCampus:
		return Campus(CampusSeed), true
	}
	return domain.Topology{}, false
}

type builder struct {
	t domain.Topology
}

func (b *builder) node(id string, kind domain.NodeKind, label string, x, y float64) {
	b.t.Nodes = append(b.t.Nodes, domain.Node{
		ID:       id,
		Kind:     kind,
		Label:    label,
		Status:   domain.StatusNormal,
		Position: domain.Position{X: x, Y: y},
	})
}

func (b *builder) device(id, label, uplink string, x, y float64) {
	b.node(id, domain.KindDevice, label, x, y)
	b.t.Nodes[len(b.t.Nodes)-1].PrimaryUplink = uplink
	b.link("client-"+id, uplink, id, domain.LinkClient, false)
}

func (b *builder) link(id, source, target string, kind domain.LinkKind, redundant bool) {
	b.t.Links = append(b.t.Links, domain.Link{
		ID:        id,
		Source:    source,
		Target:    target,
		Kind:      kind,
		Weight:    1,
		Status:    domain.StatusNormal,
		Redundant: redundant,
	})
}

// Automesh is the dual-core demo network: routers R-A and R-B cross-linked
// to switches S-C and S-D (the ECMP core), 30 APs dual-homed on both
// switches and 100 clients spread over the APs. A firewall and gateway sit
// above both routers so device fallback paths can complete.
func Automesh() domain.Topology {
	b := &builder{t: domain.Topology{Name: PresetAutomesh}}

	b.node("GW", domain.KindGateway, "Internet Gateway", 800, 20)
	b.node("FW", domain.KindFirewall, "Firewall", 800, 80)
	b.node("R-A", domain.KindRouter, "Router A", 300, 150)
	b.node("R-B", domain.KindRouter, "Router B", 1300, 150)
	b.node("S-C", domain.KindSwitch, "Switch C", 500, 450)
	b.node("S-D", domain.KindSwitch, "Switch D", 1100, 450)

	b.link("backbone-GW-FW", "GW", "FW", domain.LinkBackbone, false)
	b.link("backbone-FW-R-A", "FW", "R-A", domain.LinkBackbone, false)
	b.link("backbone-FW-R-B", "FW", "R-B", domain.LinkBackbone, false)

	for _, r := range []string{"R-A", "R-B"} {
		for _, s := range []string{"S-C", "S-D"} {
			b.link(fmt.Sprintf("core-%s-%s", r, s), r, s, domain.LinkCore, true)
		}
	}
	b.link("mesh-S-C-S-D", "S-C", "S-D", domain.LinkMesh, false)

	const apCols = 6
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("AP-%d", i+1)
		b.node(id, domain.KindAccessPoint, id,
			150+float64(i%apCols)*250, 700+float64(i/apCols)*50)
		b.link("access-"+id+"-S-C", "S-C", id, domain.LinkAccess, false)
		b.link("access-"+id+"-S-D", "S-D", id, domain.LinkAccess, false)
	}

	const clientCols = 10
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("C-%d", i+1)
		ap := fmt.Sprintf("AP-%d", int(float64(i)/3.33)+1)
		b.device(id, id, ap,
			100+float64(i%clientCols)*140, 950+float64(i/clientCols)*5)
	}

	return b.t
}

type building struct {
	sw           string
	baseX, baseY float64
	width        float64
	height       float64
}

// Campus is the tiered enterprise network: gateway, firewall, two meshed
// routers, four meshed switches and four buildings of six APs with four or
// five devices each. AP mesh links inside a building and device placement
// are drawn from seed; the same seed always yields the same topology.
func Campus(seed int64) domain.Topology {
	rng := rand.New(rand.NewSource(seed))
	b := &builder{t: domain.Topology{Name: PresetCampus}}

	b.node("gateway", domain.KindGateway, "Internet Gateway", 700, 45)
	b.node("firewall", domain.KindFirewall, "Firewall", 700, 105)
	b.node("router-1", domain.KindRouter, "Router 1", 540, 175)
	b.node("router-2", domain.KindRouter, "Router 2", 860, 175)
	b.node("switch-a", domain.KindSwitch, "Switch A", 200, 260)
	b.node("switch-b", domain.KindSwitch, "Switch B", 520, 260)
	b.node("switch-c", domain.KindSwitch, "Switch C", 840, 260)
	b.node("switch-d", domain.KindSwitch, "Switch D", 1160, 260)

	b.link("l1", "gateway", "firewall", domain.LinkBackbone, false)
	b.link("l2", "firewall", "router-1", domain.LinkBackbone, true)
	b.link("l3", "firewall", "router-2", domain.LinkBackbone, true)
	b.link("l4", "router-1", "router-2", domain.LinkMesh, false)
	b.link("l5", "router-1", "switch-a", domain.LinkDistribution, false)
	b.link("l6", "router-1", "switch-b", domain.LinkDistribution, false)
	b.link("l7", "router-2", "switch-c", domain.LinkDistribution, false)
	b.link("l8", "router-2", "switch-d", domain.LinkDistribution, false)

	b.link("sm1", "switch-a", "switch-b", domain.LinkMesh, false)
	b.link("sm2", "switch-b", "switch-c", domain.LinkMesh, false)
	b.link("sm3", "switch-c", "switch-d", domain.LinkMesh, false)
	b.link("sm4", "switch-a", "switch-c", domain.LinkMesh, false)
	b.link("sm5", "switch-b", "switch-d", domain.LinkMesh, false)

	buildings := []building{
		{sw: "switch-a", baseX: 60, baseY: 330, width: 300, height: 200},
		{sw: "switch-b", baseX: 380, baseY: 330, width: 300, height: 200},
		{sw: "switch-c", baseX: 700, baseY: 330, width: 300, height: 200},
		{sw: "switch-d", baseX: 1020, baseY: 330, width: 300, height: 200},
	}
	offsets := []domain.Position{{X: 50, Y: 50}, {X: 150, Y: 50}, {X: 250, Y: 50}, {X: 50, Y: 130}, {X: 150, Y: 130}, {X: 250, Y: 130}}

	for bi, bld := range buildings {
		for ai, off := range offsets {
			n := bi*len(offsets) + ai + 1
			apID := fmt.Sprintf("ap-%d", n)
			x, y := bld.baseX+off.X, bld.baseY+off.Y
			b.node(apID, domain.KindAccessPoint, fmt.Sprintf("AP%d", n), x, y)
			b.link("access-"+apID, bld.sw, apID, domain.LinkAccess, false)

			count := 4 + rng.Intn(2)
			for d := 0; d < count; d++ {
				angle := float64(d)/float64(count)*2*math.Pi + rng.Float64()*0.5
				dist := 20 + rng.Float64()*15
				dx := clamp(x+math.Cos(angle)*dist, bld.baseX+15, bld.baseX+bld.width-15)
				dy := clamp(y+math.Sin(angle)*dist, bld.baseY+45, bld.baseY+bld.height-15)
				b.device(fmt.Sprintf("device-%d-%d-%d", bi, ai, d),
					fmt.Sprintf("D%d", bi*30+ai*5+d+1), apID, dx, dy)
			}
		}

		for i := 0; i < len(offsets); i++ {
			for j := i + 1; j < len(offsets); j++ {
				if rng.Float64() > 0.4 {
					b.link(fmt.Sprintf("mesh-ap-%d-%d-%d", bi, i, j),
						fmt.Sprintf("ap-%d", bi*len(offsets)+i+1),
						fmt.Sprintf("ap-%d", bi*len(offsets)+j+1),
						domain.LinkMesh, false)
				}
			}
		}
	}

	cross := [][2]string{
		{"ap-3", "ap-7"}, {"ap-6", "ap-10"},
		{"ap-9", "ap-13"}, {"ap-12", "ap-16"},
		{"ap-15", "ap-19"}, {"ap-18", "ap-22"},
	}
	for i, pair := range cross {
		b.link(fmt.Sprintf("cross-mesh-%d", i), pair[0], pair[1], domain.LinkMesh, false)
	}

	return b.t
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
