package healing

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/fallback"
	"github.com/automesh/meshheal/internal/graph"
	"github.com/automesh/meshheal/internal/logging"
	"github.com/automesh/meshheal/internal/observability"
	"github.com/automesh/meshheal/internal/pathfind"
	"github.com/automesh/meshheal/internal/probe"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// target is the failed element a heal reroutes around: a node, or a link
// with its endpoints
type target struct {
	nodeID string
	linkID string
	source string
	dest   string
}

func (t target) id() string {
	if t.nodeID != "" {
		return t.nodeID
	}
	return t.linkID
}

// plan lists the sources to run the engine from and the targets whose
// routes are read off each run
type plan struct {
	sources []string
	targets []string
	exclude string
}

// planFor derives the reroute pairs. A failed router or switch is bridged
// by routing every surviving switch to every surviving router; a failed
// link by routing between its endpoints. Other kinds need no core reroute.
func planFor(g *graph.Graph, t target) plan {
	if t.linkID != "" {
		return plan{sources: []string{t.source}, targets: []string{t.dest}}
	}
	p := plan{exclude: t.nodeID}
	n, ok := g.Node(t.nodeID)
	if !ok {
		return p
	}
	switch n.Kind {
	case domain.KindRouter, domain.KindSwitch:
		p.sources = surviving(g, domain.KindSwitch, t.nodeID)
		p.targets = surviving(g, domain.KindRouter, t.nodeID)
	}
	return p
}

func surviving(g *graph.Graph, kind domain.NodeKind, exclude string) []string {
	var out []string
	for _, n := range g.NodesOfKind(kind) {
		if n.ID != exclude && !n.Failed() {
			out = append(out, n.ID)
		}
	}
	return out
}

// Heal reroutes around failedID (a failed node or link) right away,
// superseding any pending detection timeline, and returns the IDs of the
// links now carrying rerouted traffic. No alternate route is a valid
// outcome: the result is then empty, not an error.
func (o *Orchestrator) Heal(ctx context.Context, failedID string) ([]string, error) {
	o.mu.Lock()
	if o.state == domain.StateIdle {
		o.mu.Unlock()
		return nil, domain.ErrNotStarted
	}
	t, err := o.targetLocked(failedID)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	genCtx, gen := o.nextGenerationLocked()
	cancel := o.cancel
	o.mu.Unlock()

	// The generation ends when the caller gives up or a newer one starts
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return o.heal(carry(ctx, genCtx), gen, t)
}

func (o *Orchestrator) targetLocked(id string) (target, error) {
	if n, ok := o.g.Node(id); ok {
		if !n.Failed() {
			return target{}, fmt.Errorf("%w: node %s is not failed", domain.ErrInvalidTransition, id)
		}
		return target{nodeID: id}, nil
	}
	if l, ok := o.g.Link(id); ok {
		if !l.Failed() {
			return target{}, fmt.Errorf("%w: link %s is not failed", domain.ErrInvalidTransition, id)
		}
		return target{linkID: id, source: l.Source, dest: l.Target}, nil
	}
	return target{}, fmt.Errorf("%w: %s", domain.ErrUnknownNode, id)
}

// carry moves the caller's span and request id onto a generation context,
// which is not derived from the caller's
func carry(from, to context.Context) context.Context {
	to = trace.ContextWithSpanContext(to, trace.SpanContextFromContext(from))
	if id := logging.RequestIDFromContext(from); id != "" {
		to = logging.ContextWithRequestID(to, id)
	}
	return to
}

func (o *Orchestrator) startTimeline(ctx context.Context, gen uint64, t target) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.timeline(ctx, gen, t)
	}()
}

// timeline simulates detection and reroute latency before healing
func (o *Orchestrator) timeline(ctx context.Context, gen uint64, t target) {
	if !sleep(ctx, o.cfg.DetectionDelay) {
		return
	}

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.publishLocked(domain.Event{
		Kind:    domain.EventDetected,
		NodeID:  t.nodeID,
		LinkIDs: nonEmpty(t.linkID),
		Message: fmt.Sprintf("failure of %s detected", t.id()),
	})
	o.mu.Unlock()

	if !sleep(ctx, o.cfg.RerouteDelay) {
		return
	}
	if _, err := o.heal(ctx, gen, t); err != nil && ctx.Err() == nil {
		o.log.Error(ctx, "heal failed", logging.String("failed_id", t.id()), logging.Err(err))
	}
}

// heal computes routes on a clone and applies them to the live graph if
// gen is still current
func (o *Orchestrator) heal(ctx context.Context, gen uint64, t target) ([]string, error) {
	ctx, span := observability.Tracer().Start(ctx, "healing.Heal",
		trace.WithAttributes(attribute.String("failed.id", t.id())))
	defer span.End()

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return nil, context.Canceled
	}
	work := o.g.Clone()
	failureAt := o.failureAt
	o.setStateLocked(domain.StateCalculating, "computing alternate routes")
	o.mu.Unlock()

	p := planFor(work, t)
	routes, err := o.computeRoutes(ctx, work, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "route computation aborted")
		o.abandon(gen)
		return nil, err
	}
	links := healingLinks(work, routes)
	reroutes := computeReroutes(work, t)
	metrics := o.healingMetrics()

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return nil, context.Canceled
	}
	o.setStateLocked(domain.StateHealing, "applying alternate routes")
	for _, id := range links {
		_ = o.g.SetLinkStatus(id, domain.StatusHealing)
	}
	for _, r := range reroutes {
		if len(r.Path) > 1 {
			_ = o.g.SetPrimaryUplink(r.DeviceID, r.Path[1])
		}
	}
	o.healingLinks = links
	o.routes = routes
	o.reroutes = reroutes
	o.healMetrics = &metrics
	post := o.g.Clone()
	o.publishLocked(domain.Event{
		Kind:    domain.EventReroute,
		NodeID:  t.nodeID,
		LinkIDs: links,
		Message: fmt.Sprintf("%d routes found, %d devices rerouted", countFound(routes), len(reroutes)),
	})
	o.mu.Unlock()

	outcomes := o.runProbes(ctx, post, p, routes, reroutes)

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return nil, context.Canceled
	}
	now := time.Now().UTC()
	o.probes = outcomes
	o.run.HealingLinks = links
	o.run.Metrics = &metrics
	o.run.HealedAt = &now
	o.setStateLocked(domain.StateNormal, "network healed")
	run := *o.run
	o.publishLocked(domain.Event{
		Kind:    domain.EventHealed,
		NodeID:  t.nodeID,
		LinkIDs: links,
		Message: fmt.Sprintf("healed around %s over %d links", t.id(), len(links)),
	})
	o.mu.Unlock()

	o.metrics.RecordHeal(time.Since(failureAt).Seconds(), len(links))
	span.SetAttributes(attribute.Int("healing.links", len(links)))
	o.log.Info(ctx, "network healed",
		logging.String("run_id", run.ID),
		logging.String("failed_id", t.id()),
		logging.Strings("healing_links", links),
		logging.Int("reroutes", len(reroutes)))

	o.persist(ctx, run)
	return links, nil
}

// abandon returns a still-current generation to the failure state after
// its computation was cut short
func (o *Orchestrator) abandon(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen == o.gen {
		o.setStateLocked(domain.StateFailure, "healing abandoned")
	}
}

func (o *Orchestrator) computeRoutes(ctx context.Context, g *graph.Graph, p plan) ([]domain.Route, error) {
	obs := o.stepObserver()
	routes := make([]domain.Route, 0, len(p.sources)*len(p.targets))

	for _, src := range p.sources {
		res, err := pathfind.ShortestPaths(ctx, g, src,
			pathfind.WithExclude(p.exclude), pathfind.WithObserver(obs))
		if err != nil {
			return nil, err
		}
		o.metrics.RecordPath("observed")

		for _, dst := range p.targets {
			r := domain.Route{Source: src, Target: dst, Path: []string{}}
			if path, ok := res.PathTo(dst); ok {
				r.Path, r.Distance, r.Found = path, res.Distance(dst), true
			}
			routes = append(routes, r)
		}
	}
	return routes, nil
}

// stepObserver publishes every engine step and paces the run by StepDelay
func (o *Orchestrator) stepObserver() pathfind.Observer {
	return pathfind.ObserverFunc(func(ctx context.Context, ev domain.StepEvent) error {
		o.metrics.RecordStep(string(ev.Kind))

		o.mu.Lock()
		o.publishLocked(domain.Event{Kind: domain.EventStep, NodeID: ev.NodeID, Step: &ev})
		o.mu.Unlock()

		if !sleep(ctx, o.cfg.StepDelay) {
			return ctx.Err()
		}
		return nil
	})
}

// healingLinks picks, for every hop of every found route, the link the
// traffic takes, keeping infrastructure and redundant links. The result
// is sorted.
func healingLinks(g *graph.Graph, routes []domain.Route) []string {
	seen := map[string]bool{}
	for _, r := range routes {
		for i := 1; i < len(r.Path); i++ {
			l, ok := g.LinkBetween(r.Path[i-1], r.Path[i])
			if ok && (l.CoreTier() || l.Redundant) {
				seen[l.ID] = true
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// computeReroutes builds fallback paths for every device homed under a
// failed node
func computeReroutes(g *graph.Graph, t target) []domain.Reroute {
	if t.nodeID == "" {
		return nil
	}
	devices := fallback.AffectedDevices(g, t.nodeID)
	out := make([]domain.Reroute, 0, len(devices))
	for _, dev := range devices {
		path := fallback.BuildFallbackPath(g, dev, fallback.WithExclude(t.nodeID))
		out = append(out, domain.Reroute{
			DeviceID: dev,
			Path:     path,
			Complete: fallback.IsComplete(g, path),
		})
	}
	return out
}

func (o *Orchestrator) runProbes(ctx context.Context, g *graph.Graph, p plan, routes []domain.Route, reroutes []domain.Reroute) []domain.ProbeOutcome {
	src := func() *graph.Graph { return g }

	var probes []probe.Probe
	for _, r := range routes {
		if r.Found {
			probes = append(probes, &probe.RouteProbe{
				Source: r.Source, Target: r.Target, Exclude: p.exclude,
				ProbeMode: probe.ModePostHeal, Graph: src,
			})
		}
	}
	for _, r := range reroutes {
		probes = append(probes, &probe.GatewayProbe{DeviceID: r.DeviceID, ProbeMode: probe.ModePostHeal, Graph: src})
	}

	results := probe.RunAll(ctx, probes, o.log)
	outcomes := make([]domain.ProbeOutcome, 0, len(results))
	for _, res := range results {
		o.metrics.RecordProbe(res.ProbeType, res.Passed)
		outcomes = append(outcomes, res.Outcome())
	}
	return outcomes
}

func (o *Orchestrator) healingMetrics() domain.HealingMetrics {
	return domain.HealingMetrics{
		DetectionMs:    o.cfg.DetectionDelay.Milliseconds(),
		RerouteMs:      (o.cfg.DetectionDelay + o.cfg.RerouteDelay).Milliseconds(),
		PacketLossPct:  PacketLossPct,
		DegradationPct: DegradationPct,
	}
}

func countFound(routes []domain.Route) int {
	n := 0
	for _, r := range routes {
		if r.Found {
			n++
		}
	}
	return n
}

// sleep waits d or until ctx ends, reporting whether to carry on
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
