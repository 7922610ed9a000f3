package domain

// NodeKind identifies the network tier a node belongs to
type NodeKind string

const (
	KindGateway     NodeKind = "gateway"
	KindFirewall    NodeKind = "firewall"
	KindRouter      NodeKind = "router"
	KindSwitch      NodeKind = "switch"
	KindAccessPoint NodeKind = "access_point"
	KindDevice      NodeKind = "device"
)

// Status is the health of a node or link
type Status string

const (
	StatusNormal  Status = "normal"
	StatusFailed  Status = "failed"
	StatusHealing Status = "healing"
)

// LinkKind classifies a link by the tiers it connects
type LinkKind string

const (
	LinkCore         LinkKind = "core"
	LinkBackbone     LinkKind = "backbone"
	LinkDistribution LinkKind = "distribution"
	LinkAccess       LinkKind = "access"
	LinkMesh         LinkKind = "mesh"
	LinkClient       LinkKind = "client"
)

// Position is a 2D coordinate used for AP range checks
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a vertex in the mesh topology
type Node struct {
	ID            string   `json:"id" yaml:"id" validate:"required,max=64"`
	Kind          NodeKind `json:"kind" yaml:"kind" validate:"required,oneof=gateway firewall router switch access_point device"`
	Label         string   `json:"label,omitempty" yaml:"label,omitempty"`
	Status        Status   `json:"status" yaml:"status,omitempty" validate:"omitempty,oneof=normal failed healing"`
	Position      Position `json:"position" yaml:"position"`
	PrimaryUplink string   `json:"primary_uplink,omitempty" yaml:"primary_uplink,omitempty"`
}

// Failed reports whether the node is down
func (n Node) Failed() bool { return n.Status == StatusFailed }

// Link is an undirected edge between two nodes, referenced by ID
type Link struct {
	ID        string   `json:"id" yaml:"id" validate:"required,max=64"`
	Source    string   `json:"source" yaml:"source" validate:"required"`
	Target    string   `json:"target" yaml:"target" validate:"required,nefield=Source"`
	Kind      LinkKind `json:"kind" yaml:"kind" validate:"required,oneof=core backbone distribution access mesh client"`
	Weight    float64  `json:"weight" yaml:"weight" validate:"gte=0"`
	Status    Status   `json:"status" yaml:"status,omitempty" validate:"omitempty,oneof=normal failed healing"`
	Redundant bool     `json:"redundant,omitempty" yaml:"redundant,omitempty"`
}

// Failed reports whether the link is down
func (l Link) Failed() bool { return l.Status == StatusFailed }

// Touches reports whether id is one of the link's endpoints
func (l Link) Touches(id string) bool { return l.Source == id || l.Target == id }

// Other returns the endpoint opposite id, or "" if id is not an endpoint
func (l Link) Other(id string) string {
	switch id {
	case l.Source:
		return l.Target
	case l.Target:
		return l.Source
	}
	return ""
}

// CoreTier reports whether the link carries infrastructure traffic
// (everything except access and client links)
func (l Link) CoreTier() bool {
	switch l.Kind {
	case LinkCore, LinkBackbone, LinkDistribution, LinkMesh:
		return true
	}
	return false
}

// Topology is the serializable form of a graph
type Topology struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []Node `json:"nodes" yaml:"nodes" validate:"required,min=1,dive"`
	Links []Link `json:"links" yaml:"links" validate:"dive"`
}

// NetworkHealth summarizes how much of the topology is still up
type NetworkHealth struct {
	ActiveNodes      int      `json:"active_nodes"`
	TotalNodes       int      `json:"total_nodes"`
	ActivePercentage float64  `json:"active_percentage"`
	Connected        bool     `json:"connected"`
	Components       int      `json:"components"`
	FailedNodes      []string `json:"failed_nodes"`
	FailedLinks      []string `json:"failed_links"`
}
