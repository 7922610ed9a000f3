package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/automesh/meshheal/internal/db"
	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/logging"
)

const maxSnapshots = 1000

// SnapshotStore persists captured topologies
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, p db.SnapshotParams) error
}

// Snapshot is a topology captured before any failure was injected
type Snapshot struct {
	RunID      string          `json:"run_id"`
	Topology   domain.Topology `json:"topology"`
	CapturedAt time.Time       `json:"captured_at"`
}

// Drift is one difference between a snapshot and the live topology
type Drift struct {
	Element  string        `json:"element"` // node or link
	ID       string        `json:"id"`
	Action   string        `json:"action"`
	Snapshot domain.Status `json:"snapshot_status,omitempty"`
	Current  domain.Status `json:"current_status,omitempty"`
}

// Drift actions
const (
	DriftMissing = "missing"
	DriftStatus  = "status_drift"
)

// SnapshotManager captures the topology at run start so a reset can restore
// it exactly
type SnapshotManager struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	order     []string
	store     SnapshotStore
	log       logging.Logger
}

// NewSnapshotManager creates a new SnapshotManager. store may be nil.
func NewSnapshotManager(store SnapshotStore, log logging.Logger) *SnapshotManager {
	if log == nil {
		log = logging.Noop()
	}
	return &SnapshotManager{
		snapshots: make(map[string]Snapshot),
		store:     store,
		log:       log,
	}
}

// Capture stores a deep copy of topo under runID and persists it when a
// store is configured
func (sm *SnapshotManager) Capture(ctx context.Context, runID string, topo domain.Topology) Snapshot {
	snap := Snapshot{
		RunID:      runID,
		Topology:   copyTopology(topo),
		CapturedAt: time.Now().UTC(),
	}

	sm.mu.Lock()
	if _, exists := sm.snapshots[runID]; !exists {
		sm.evictIfNeeded()
		sm.order = append(sm.order, runID)
	}
	sm.snapshots[runID] = snap
	sm.mu.Unlock()

	sm.persist(ctx, snap)
	return snap
}

// evictIfNeeded drops the oldest snapshot at capacity. Caller holds sm.mu.
func (sm *SnapshotManager) evictIfNeeded() {
	if len(sm.order) < maxSnapshots {
		return
	}
	oldest := sm.order[0]
	sm.order = sm.order[1:]
	delete(sm.snapshots, oldest)
}

// Get returns a copy of the snapshot for runID
func (sm *SnapshotManager) Get(runID string) (Snapshot, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	snap, ok := sm.snapshots[runID]
	if !ok {
		return Snapshot{}, false
	}
	snap.Topology = copyTopology(snap.Topology)
	return snap, true
}

// Delete removes the snapshot for runID
func (sm *SnapshotManager) Delete(runID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.snapshots, runID)
	sm.order = slices.DeleteFunc(sm.order, func(id string) bool { return id == runID })
}

// Len returns the number of stored snapshots
func (sm *SnapshotManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.snapshots)
}

// Restore returns the snapshot topology for runID together with every
// node and link whose status drifted from it in current
func (sm *SnapshotManager) Restore(runID string, current domain.Topology) (domain.Topology, []Drift, error) {
	snap, ok := sm.Get(runID)
	if !ok {
		return domain.Topology{}, nil, fmt.Errorf("no snapshot found for run %s", runID)
	}
	return snap.Topology, DetectDrift(snap.Topology, current), nil
}

// DetectDrift lists nodes and links of want that are missing from got or
// carry a different status there, in want's order
func DetectDrift(want, got domain.Topology) []Drift {
	nodes := make(map[string]domain.Status, len(got.Nodes))
	for _, n := range got.Nodes {
		nodes[n.ID] = n.Status
	}
	links := make(map[string]domain.Status, len(got.Links))
	for _, l := range got.Links {
		links[l.ID] = l.Status
	}

	drifts := []Drift{}
	check := func(element, id string, was domain.Status, index map[string]domain.Status) {
		now, ok := index[id]
		switch {
		case !ok:
			drifts = append(drifts, Drift{Element: element, ID: id, Action: DriftMissing, Snapshot: was})
		case normalize(now) != normalize(was):
			drifts = append(drifts, Drift{Element: element, ID: id, Action: DriftStatus, Snapshot: was, Current: now})
		}
	}
	for _, n := range want.Nodes {
		check("node", n.ID, n.Status, nodes)
	}
	for _, l := range want.Links {
		check("link", l.ID, l.Status, links)
	}
	return drifts
}

func normalize(s domain.Status) domain.Status {
	if s == "" {
		return domain.StatusNormal
	}
	return s
}

func (sm *SnapshotManager) persist(ctx context.Context, snap Snapshot) {
	if sm.store == nil {
		return
	}

	data, err := json.Marshal(snap.Topology)
	if err != nil {
		sm.log.Error(ctx, "marshal snapshot", logging.String("run_id", snap.RunID), logging.Err(err))
		return
	}

	err = sm.store.CreateSnapshot(ctx, db.SnapshotParams{
		RunID:      snap.RunID,
		Name:       snap.Topology.Name,
		Data:       data,
		CapturedAt: snap.CapturedAt,
	})
	if err != nil {
		sm.log.Warn(ctx, "snapshot persistence skipped", logging.String("run_id", snap.RunID), logging.Err(err))
	}
}

func copyTopology(t domain.Topology) domain.Topology {
	return domain.Topology{
		Name:  t.Name,
		Nodes: slices.Clone(t.Nodes),
		Links: slices.Clone(t.Links),
	}
}
