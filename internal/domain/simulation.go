package domain

import "time"

// SimulationState is the orchestrator lifecycle state
type SimulationState string

const (
	StateIdle        SimulationState = "idle"
	StateNormal      SimulationState = "normal"
	StateFailure     SimulationState = "failure"
	StateHealing     SimulationState = "healing"
	StateCalculating SimulationState = "calculating"
)

// StepKind identifies a shortest-path engine step
type StepKind string

const (
	StepNodeStart       StepKind = "node-start"
	StepNodeFinalized   StepKind = "node-finalized"
	StepEdgeExplored    StepKind = "edge-explored"
	StepDistanceUpdated StepKind = "distance-updated"
)

// StepEvent is a single observable step of a shortest-path run.
// Distance is always finite: the engine never finalizes or explores
// from an unreachable node.
type StepEvent struct {
	Seq        int      `json:"seq"`
	Kind       StepKind `json:"kind"`
	NodeID     string   `json:"node_id"`
	NeighborID string   `json:"neighbor_id,omitempty"`
	LinkID     string   `json:"link_id,omitempty"`
	Distance   float64  `json:"distance"`
}

// EventKind classifies orchestrator events published to subscribers
type EventKind string

const (
	EventState    EventKind = "state"
	EventFailure  EventKind = "failure"
	EventWarning  EventKind = "warning"
	EventDetected EventKind = "detected"
	EventStep     EventKind = "step"
	EventReroute  EventKind = "reroute"
	EventHealed   EventKind = "healed"
	EventReset    EventKind = "reset"
)

// Event is published by the orchestrator on every observable change
type Event struct {
	Kind    EventKind       `json:"kind"`
	RunID   string          `json:"run_id,omitempty"`
	State   SimulationState `json:"state"`
	NodeID  string          `json:"node_id,omitempty"`
	LinkIDs []string        `json:"link_ids,omitempty"`
	Message string          `json:"message,omitempty"`
	Step    *StepEvent      `json:"step,omitempty"`
	At      time.Time       `json:"at"`
}

// FailureResult is the outcome of a failure request. Rejections are
// values, not errors.
type FailureResult struct {
	Accepted    bool     `json:"accepted"`
	Reason      string   `json:"reason,omitempty"`
	NodeID      string   `json:"node_id,omitempty"`
	LinkID      string   `json:"link_id,omitempty"`
	FailedLinks []string `json:"failed_links,omitempty"`
}

// HealingMetrics are the illustrative convergence figures reported
// after a heal
type HealingMetrics struct {
	DetectionMs    int64   `json:"detection_ms"`
	RerouteMs      int64   `json:"reroute_ms"`
	PacketLossPct  float64 `json:"packet_loss_pct"`
	DegradationPct float64 `json:"degradation_pct"`
}

// Route is an alternate path discovered while healing
type Route struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Path     []string `json:"path"`
	Distance float64  `json:"distance"`
	Found    bool     `json:"found"`
}

// Reroute is a device's fallback path toward the gateway
type Reroute struct {
	DeviceID string   `json:"device_id"`
	Path     []string `json:"path"`
	Complete bool     `json:"complete"`
}

// ProbeOutcome is the summarized result of a post-heal reachability probe
type ProbeOutcome struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// SimulationView is a consistent snapshot of orchestrator state
type SimulationView struct {
	RunID        string          `json:"run_id,omitempty"`
	State        SimulationState `json:"state"`
	FailedNode   string          `json:"failed_node,omitempty"`
	FailedLink   string          `json:"failed_link,omitempty"`
	HealingLinks []string        `json:"healing_links"`
	Routes       []Route         `json:"routes"`
	Reroutes     []Reroute       `json:"reroutes"`
	Probes       []ProbeOutcome  `json:"probes,omitempty"`
	Metrics      *HealingMetrics `json:"metrics,omitempty"`
	Health       NetworkHealth   `json:"health"`
	Topology     Topology        `json:"topology"`
}

// HealingRun is the persisted record of one start..reset cycle
type HealingRun struct {
	ID           string          `json:"id"`
	Topology     string          `json:"topology"`
	State        SimulationState `json:"state"`
	FailedNode   string          `json:"failed_node,omitempty"`
	HealingLinks []string        `json:"healing_links"`
	Metrics      *HealingMetrics `json:"metrics,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	HealedAt     *time.Time      `json:"healed_at,omitempty"`
	ResetAt      *time.Time      `json:"reset_at,omitempty"`
}

// RollbackFunc undoes a single injected failure
type RollbackFunc func() (map[string]any, error)
