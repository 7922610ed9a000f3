// Package healing drives the failure/healing state machine over the live
// mesh graph: idle -> normal -> failure -> (calculating) -> healing -> normal.
//
// The orchestrator mutex guards the live graph and every piece of run
// state. Healing computations run on a private clone; each failure, heal
// or reset starts a new generation and cancels the previous one, and
// results are applied to the live graph only while their generation is
// still current.
package healing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/graph"
	"github.com/automesh/meshheal/internal/logging"
	"github.com/automesh/meshheal/internal/observability"
	"github.com/automesh/meshheal/internal/probe"
	"github.com/automesh/meshheal/internal/safety"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Illustrative convergence figures reported after every heal
const (
	PacketLossPct  = 5.0
	DegradationPct = 20.0
)

const persistTimeout = 5 * time.Second

// Config tunes the healing timeline and guardrails
type Config struct {
	DetectionDelay time.Duration
	RerouteDelay   time.Duration
	// StepDelay paces engine steps for animated subscribers; zero runs
	// the engine flat out
	StepDelay time.Duration

	MaxBlastRadius       float64
	ProtectedNodePattern string

	// MonitorInterval of zero disables the connectivity monitor
	MonitorInterval         time.Duration
	MonitorFailureThreshold int
}

// DefaultConfig mirrors the server defaults
func DefaultConfig() Config {
	return Config{
		DetectionDelay:          100 * time.Millisecond,
		RerouteDelay:            400 * time.Millisecond,
		StepDelay:               150 * time.Millisecond,
		MaxBlastRadius:          0.5,
		MonitorInterval:         10 * time.Second,
		MonitorFailureThreshold: 3,
	}
}

// Recorder receives orchestrator metrics. *observability.Metrics
// satisfies it.
type Recorder interface {
	RecordFailure(kind string, accepted bool)
	RecordHeal(seconds float64, healingLinks int)
	RecordRunStart()
	RecordRunEnd()
	RecordPath(mode string)
	RecordStep(kind string)
	RecordDroppedEvent()
	RecordProbe(probeType string, passed bool)
	RecordRollback(status string)
}

// RunStore persists healing runs. *db.Store satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, run domain.HealingRun) error
	UpdateRun(ctx context.Context, run domain.HealingRun) error
}

// Deps are the orchestrator's collaborators. Nil fields get working
// in-memory defaults; Store may stay nil to disable persistence.
type Deps struct {
	Store         RunStore
	Snapshots     *safety.SnapshotManager
	Rollback      *safety.RollbackManager
	EmergencyStop *safety.EmergencyStopManager
	Metrics       Recorder
	Log           logging.Logger
}

// FailOptions qualifies a failure request
type FailOptions struct {
	// Confirm allows failing a node that matches the protected pattern
	Confirm bool
}

// Orchestrator owns the live topology and the healing lifecycle
type Orchestrator struct {
	cfg       Config
	base      domain.Topology
	store     RunStore
	snapshots *safety.SnapshotManager
	rollback  *safety.RollbackManager
	esm       *safety.EmergencyStopManager
	metrics   Recorder
	log       logging.Logger
	broker    *Broker

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu           sync.Mutex
	g            *graph.Graph
	state        domain.SimulationState
	run          *domain.HealingRun
	failedNode   string
	failedLink   string
	healingLinks []string
	routes       []domain.Route
	reroutes     []domain.Reroute
	probes       []domain.ProbeOutcome
	healMetrics  *domain.HealingMetrics
	failureAt    time.Time
	gen          uint64
	cancel       context.CancelFunc
	monitor      *safety.HealthCheckLoop
}

// New builds an idle orchestrator over topo
func New(topo domain.Topology, cfg Config, deps Deps) (*Orchestrator, error) {
	g, err := graph.FromTopology(topo)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	log := deps.Log
	if log == nil {
		log = logging.Noop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}
	if deps.Snapshots == nil {
		deps.Snapshots = safety.NewSnapshotManager(nil, log)
	}
	if deps.Rollback == nil {
		deps.Rollback = safety.NewRollbackManager(log)
	}
	if deps.EmergencyStop == nil {
		deps.EmergencyStop = safety.NewEmergencyStopManager(log)
	}

	root, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		base:       g.Topology(),
		store:      deps.Store,
		snapshots:  deps.Snapshots,
		rollback:   deps.Rollback,
		esm:        deps.EmergencyStop,
		metrics:    metrics,
		log:        log.With(logging.String("component", "healing")),
		broker:     NewBroker(DefaultSubscriberBuffer, metrics.RecordDroppedEvent),
		root:       root,
		rootCancel: cancel,
		g:          g,
		state:      domain.StateIdle,
	}, nil
}

// Subscribe streams every subsequent event. Call the returned function to
// unsubscribe.
func (o *Orchestrator) Subscribe() (<-chan domain.Event, func()) {
	return o.broker.Subscribe()
}

// Start opens a run: idle -> normal. The current topology is captured so
// Reset can restore it.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.esm.CheckEmergencyStop(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.state != domain.StateIdle {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: start from %s", domain.ErrInvalidTransition, state)
	}

	runID := uuid.NewString()
	o.snapshots.Capture(ctx, runID, o.g.Topology())
	o.run = &domain.HealingRun{
		ID:           runID,
		Topology:     o.g.Name(),
		State:        domain.StateNormal,
		HealingLinks: []string{},
		StartedAt:    time.Now().UTC(),
	}
	o.monitor = o.newMonitorLocked(runID)
	monitor := o.monitor
	run := *o.run
	o.setStateLocked(domain.StateNormal, "simulation started")
	o.mu.Unlock()

	o.metrics.RecordRunStart()
	o.log.Info(ctx, "simulation started",
		logging.String("run_id", runID),
		logging.String("topology", run.Topology))

	if o.store != nil {
		if err := o.store.CreateRun(ctx, run); err != nil {
			o.log.Error(ctx, "failed to persist run", logging.String("run_id", runID), logging.Err(err))
		}
	}
	if monitor != nil {
		monitor.Start()
	}
	return nil
}

// Fail takes a node down. Rejections are reported in the result, never as
// errors, and leave the topology untouched.
func (o *Orchestrator) Fail(ctx context.Context, nodeID string, opts FailOptions) domain.FailureResult {
	ctx, span := observability.Tracer().Start(ctx, "healing.Fail",
		trace.WithAttributes(attribute.String("node.id", nodeID)))
	defer span.End()

	o.mu.Lock()
	kind := "unknown"
	if n, ok := o.g.Node(nodeID); ok {
		kind = string(n.Kind)
	}
	if err := o.checkNodeFailureLocked(nodeID, opts); err != nil {
		o.mu.Unlock()
		span.SetAttributes(attribute.Bool("accepted", false))
		return o.reject(ctx, kind, domain.FailureResult{NodeID: nodeID}, err)
	}

	runID := o.run.ID
	o.clearHealingLocked()
	prior := o.statusesLocked(nodeID)
	failedLinks, _ := o.g.FailNode(nodeID)
	o.rollback.Push(runID, o.restoreFunc(prior), "fail node "+nodeID)

	o.failedNode, o.failedLink = nodeID, ""
	o.run.FailedNode = nodeID
	o.failureAt = time.Now()
	genCtx, gen := o.nextGenerationLocked()
	o.setStateLocked(domain.StateFailure, "node failed")
	o.publishLocked(domain.Event{
		Kind:    domain.EventFailure,
		NodeID:  nodeID,
		LinkIDs: failedLinks,
		Message: fmt.Sprintf("%s %s failed", kind, nodeID),
	})
	o.mu.Unlock()

	o.metrics.RecordFailure(kind, true)
	o.log.Info(ctx, "node failed",
		logging.String("run_id", runID),
		logging.String("node_id", nodeID),
		logging.String("kind", kind),
		logging.Strings("failed_links", failedLinks))

	o.startTimeline(carry(ctx, genCtx), gen, target{nodeID: nodeID})
	return domain.FailureResult{Accepted: true, NodeID: nodeID, FailedLinks: failedLinks}
}

// FailLink takes a single link down and heals by rerouting between its
// endpoints
func (o *Orchestrator) FailLink(ctx context.Context, linkID string) domain.FailureResult {
	ctx, span := observability.Tracer().Start(ctx, "healing.FailLink",
		trace.WithAttributes(attribute.String("link.id", linkID)))
	defer span.End()

	o.mu.Lock()
	l, err := o.checkLinkFailureLocked(linkID)
	if err != nil {
		o.mu.Unlock()
		return o.reject(ctx, "link", domain.FailureResult{LinkID: linkID}, err)
	}

	runID := o.run.ID
	o.clearHealingLocked()
	l, _ = o.g.Link(linkID)
	prior := map[string]domain.Status{"link:" + linkID: l.Status}
	_ = o.g.SetLinkStatus(linkID, domain.StatusFailed)
	o.rollback.Push(runID, o.restoreFunc(prior), "fail link "+linkID)

	o.failedNode, o.failedLink = "", linkID
	o.failureAt = time.Now()
	genCtx, gen := o.nextGenerationLocked()
	o.setStateLocked(domain.StateFailure, "link failed")
	o.publishLocked(domain.Event{
		Kind:    domain.EventFailure,
		LinkIDs: []string{linkID},
		Message: fmt.Sprintf("link %s (%s-%s) failed", linkID, l.Source, l.Target),
	})
	o.mu.Unlock()

	o.metrics.RecordFailure("link", true)
	o.log.Info(ctx, "link failed", logging.String("run_id", runID), logging.String("link_id", linkID))

	o.startTimeline(carry(ctx, genCtx), gen, target{linkID: linkID, source: l.Source, dest: l.Target})
	return domain.FailureResult{Accepted: true, LinkID: linkID, FailedLinks: []string{linkID}}
}

// Reset cancels in-flight work, unwinds every injected failure and restores
// the topology captured at Start: any state -> idle. Resetting an idle
// orchestrator does nothing.
func (o *Orchestrator) Reset(ctx context.Context) error {
	return o.reset(ctx, "")
}

// reset restores the run identified by runID, or whatever run is active
// when runID is empty
func (o *Orchestrator) reset(ctx context.Context, runID string) error {
	o.mu.Lock()
	if o.state == domain.StateIdle || o.run == nil || (runID != "" && o.run.ID != runID) {
		o.mu.Unlock()
		return nil
	}
	runID = o.run.ID

	o.cancelLocked()
	o.gen++
	results := o.rollback.Rollback(runID)

	restored, drifts, err := o.snapshots.Restore(runID, o.g.Topology())
	if err != nil {
		o.log.Warn(ctx, "snapshot missing, restoring initial topology", logging.Err(err))
		restored = o.base
	}
	g, err := graph.FromTopology(restored)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("restore topology: %w", err)
	}
	o.g = g
	o.snapshots.Delete(runID)

	now := time.Now().UTC()
	o.run.State = domain.StateIdle
	o.run.ResetAt = &now
	run := *o.run
	o.run = nil
	monitor := o.monitor
	o.monitor = nil
	o.clearRunStateLocked()
	o.setStateLocked(domain.StateIdle, "simulation reset")
	o.publishLocked(domain.Event{Kind: domain.EventReset, RunID: runID, Message: "topology restored"})
	o.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}
	for _, r := range results {
		o.metrics.RecordRollback(r.Status)
	}
	o.metrics.RecordRunEnd()
	o.log.Info(ctx, "simulation reset",
		logging.String("run_id", runID),
		logging.Int("rollbacks", len(results)),
		logging.Int("drift", len(drifts)))

	o.persist(ctx, run)
	return nil
}

// State returns a consistent copy of the orchestrator's view
func (o *Orchestrator) State() domain.SimulationView {
	o.mu.Lock()
	defer o.mu.Unlock()

	v := domain.SimulationView{
		State:        o.state,
		FailedNode:   o.failedNode,
		FailedLink:   o.failedLink,
		HealingLinks: append([]string{}, o.healingLinks...),
		Routes:       append([]domain.Route{}, o.routes...),
		Reroutes:     append([]domain.Reroute{}, o.reroutes...),
		Probes:       append([]domain.ProbeOutcome(nil), o.probes...),
		Health:       o.g.Health(),
		Topology:     o.g.Topology(),
	}
	if o.run != nil {
		v.RunID = o.run.ID
	}
	if o.healMetrics != nil {
		m := *o.healMetrics
		v.Metrics = &m
	}
	return v
}

// Graph returns a private copy of the live graph for read-only queries
func (o *Orchestrator) Graph() *graph.Graph {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.g.Clone()
}

// Close cancels all background work and waits for it to finish
func (o *Orchestrator) Close() {
	o.rootCancel()

	o.mu.Lock()
	o.cancelLocked()
	monitor := o.monitor
	o.monitor = nil
	o.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}
	o.wg.Wait()
	o.broker.Shutdown()
}

func (o *Orchestrator) checkNodeFailureLocked(nodeID string, opts FailOptions) error {
	if o.state == domain.StateIdle {
		return domain.ErrNotStarted
	}
	if err := o.esm.CheckEmergencyStop(); err != nil {
		return err
	}
	n, ok := o.g.Node(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownNode, nodeID)
	}
	if n.Failed() {
		return fmt.Errorf("%w: node %s", domain.ErrAlreadyFailed, nodeID)
	}
	if err := safety.ValidateRouterQuorum(o.g, nodeID); err != nil {
		return err
	}
	if err := safety.ValidateNodeBlastRadius(o.g, nodeID, o.cfg.MaxBlastRadius); err != nil {
		return err
	}
	return safety.RequireConfirmation(nodeID, o.cfg.ProtectedNodePattern, opts.Confirm)
}

func (o *Orchestrator) checkLinkFailureLocked(linkID string) (domain.Link, error) {
	if o.state == domain.StateIdle {
		return domain.Link{}, domain.ErrNotStarted
	}
	if err := o.esm.CheckEmergencyStop(); err != nil {
		return domain.Link{}, err
	}
	l, ok := o.g.Link(linkID)
	if !ok {
		return domain.Link{}, fmt.Errorf("%w: %s", domain.ErrUnknownLink, linkID)
	}
	if l.Failed() {
		return domain.Link{}, fmt.Errorf("%w: link %s", domain.ErrAlreadyFailed, linkID)
	}
	return l, nil
}

func (o *Orchestrator) reject(ctx context.Context, kind string, res domain.FailureResult, err error) domain.FailureResult {
	res.Accepted = false
	res.Reason = err.Error()

	o.metrics.RecordFailure(kind, false)
	o.log.Warn(ctx, "failure rejected",
		logging.String("node_id", res.NodeID),
		logging.String("link_id", res.LinkID),
		logging.Err(err))

	o.mu.Lock()
	o.publishLocked(domain.Event{
		Kind:    domain.EventWarning,
		NodeID:  res.NodeID,
		LinkIDs: nonEmpty(res.LinkID),
		Message: res.Reason,
	})
	o.mu.Unlock()
	return res
}

// statusesLocked records the status of nodeID and its incident links,
// keyed "node:<id>" and "link:<id>"
func (o *Orchestrator) statusesLocked(nodeID string) map[string]domain.Status {
	prior := map[string]domain.Status{}
	if n, ok := o.g.Node(nodeID); ok {
		prior["node:"+nodeID] = n.Status
	}
	for _, l := range o.g.IncidentLinks(nodeID) {
		prior["link:"+l.ID] = l.Status
	}
	return prior
}

// restoreFunc undoes a failure by reapplying prior statuses. It runs from
// Reset with o.mu held.
func (o *Orchestrator) restoreFunc(prior map[string]domain.Status) domain.RollbackFunc {
	return func() (map[string]any, error) {
		var errs []error
		for key, status := range prior {
			var err error
			switch kind, id, _ := strings.Cut(key, ":"); kind {
			case "node":
				err = o.g.SetNodeStatus(id, status)
			case "link":
				err = o.g.SetLinkStatus(id, status)
			}
			errs = append(errs, err)
		}
		return map[string]any{"restored": len(prior)}, errors.Join(errs...)
	}
}

// clearHealingLocked returns links marked healing by a previous heal to
// normal so a new failure starts from a clean slate
func (o *Orchestrator) clearHealingLocked() {
	for _, id := range o.healingLinks {
		if l, ok := o.g.Link(id); ok && l.Status == domain.StatusHealing {
			_ = o.g.SetLinkStatus(id, domain.StatusNormal)
		}
	}
	o.healingLinks = nil
	o.routes = nil
	o.reroutes = nil
	o.probes = nil
	o.healMetrics = nil
}

func (o *Orchestrator) clearRunStateLocked() {
	o.healingLinks = nil
	o.routes = nil
	o.reroutes = nil
	o.probes = nil
	o.healMetrics = nil
	o.failedNode = ""
	o.failedLink = ""
	o.failureAt = time.Time{}
}

// nextGenerationLocked cancels the current generation and opens a new one
// derived from the orchestrator's root context
func (o *Orchestrator) nextGenerationLocked() (context.Context, uint64) {
	o.cancelLocked()
	o.gen++
	ctx, cancel := context.WithCancel(o.root)
	o.cancel = cancel
	return ctx, o.gen
}

func (o *Orchestrator) cancelLocked() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

func (o *Orchestrator) setStateLocked(s domain.SimulationState, msg string) {
	o.state = s
	if o.run != nil {
		o.run.State = s
	}
	o.publishLocked(domain.Event{Kind: domain.EventState, Message: msg})
}

// publishLocked stamps ev with the current run and state and hands it to
// the broker, which never blocks
func (o *Orchestrator) publishLocked(ev domain.Event) {
	if o.run != nil && ev.RunID == "" {
		ev.RunID = o.run.ID
	}
	ev.State = o.state
	ev.At = time.Now().UTC()
	o.broker.Publish(ev)
}

func (o *Orchestrator) newMonitorLocked(runID string) *safety.HealthCheckLoop {
	if o.cfg.MonitorInterval <= 0 {
		return nil
	}
	connectivity := &probe.ConnectivityProbe{
		MinActive: (1 - o.cfg.MaxBlastRadius) * 100,
		ProbeMode: probe.ModeContinuous,
		Graph:     o.Graph,
	}
	loop := safety.NewHealthCheckLoop(runID,
		[]safety.HealthProbe{probe.Health{Probe: connectivity, Log: o.log}},
		o.cfg.MonitorInterval, o.cfg.MonitorFailureThreshold, o.rollback, o.log)
	loop.OnFailure(func(runID string) {
		o.log.Warn(o.root, "connectivity monitor tripped, resetting", logging.String("run_id", runID))
		if err := o.reset(o.root, runID); err != nil {
			o.log.Error(o.root, "automatic reset failed", logging.Err(err))
		}
	})
	return loop
}

// persist writes run outside any request lifetime so a cancelled request
// does not lose the record
func (o *Orchestrator) persist(ctx context.Context, run domain.HealingRun) {
	if o.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	err := safety.WithTimeout(ctx, persistTimeout, func(ctx context.Context) error {
		return o.store.UpdateRun(ctx, run)
	})
	if err != nil {
		o.log.Error(ctx, "failed to update run", logging.String("run_id", run.ID), logging.Err(err))
	}
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

type noopRecorder struct{}

func (noopRecorder) RecordFailure(string, bool) {}
func (noopRecorder) RecordHeal(float64, int)    {}
func (noopRecorder) RecordRunStart()            {}
func (noopRecorder) RecordRunEnd()              {}
func (noopRecorder) RecordPath(string)          {}
func (noopRecorder) RecordStep(string)          {}
func (noopRecorder) RecordDroppedEvent()        {}
func (noopRecorder) RecordProbe(string, bool)   {}
func (noopRecorder) RecordRollback(string)      {}
