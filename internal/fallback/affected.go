package fallback

import (
	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/graph"
)

// AffectedDevices lists the devices homed under failedID: devices on a
// failed AP, devices on APs of a failed switch, or devices on APs of
// switches served by a failed router. Other kinds affect no device
// directly. The result is sorted by device ID.
func AffectedDevices(g *graph.Graph, failedID string) []string {
	n, ok := g.Node(failedID)
	if !ok {
		return nil
	}

	aps := map[string]bool{}
	switch n.Kind {
	case domain.KindAccessPoint:
		aps[failedID] = true
	case domain.KindSwitch:
		for _, ap := range homedOn(g, failedID, domain.KindAccessPoint) {
			aps[ap] = true
		}
	case domain.KindRouter:
		for _, sw := range homedOn(g, failedID, domain.KindSwitch) {
			for _, ap := range homedOn(g, sw, domain.KindAccessPoint) {
				aps[ap] = true
			}
		}
	default:
		return nil
	}

	var out []string
	for _, dev := range g.NodesOfKind(domain.KindDevice) {
		if aps[dev.PrimaryUplink] {
			out = append(out, dev.ID)
		}
	}
	return out
}

// homedOn returns neighbors of kind attached to parent over non-mesh
// links, regardless of status
func homedOn(g *graph.Graph, parent string, kind domain.NodeKind) []string {
	var out []string
	for _, adj := range g.Neighbors(parent, graph.NeighborFilter{}) {
		if adj.Link.Kind == domain.LinkMesh {
			continue
		}
		if n, ok := g.Node(adj.Neighbor); ok && n.Kind == kind {
			out = append(out, n.ID)
		}
	}
	return out
}
