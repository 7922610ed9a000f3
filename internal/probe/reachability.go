package probe

import (
	"context"
	"fmt"

	"github.com/automesh/meshheal/internal/fallback"
	"github.com/automesh/meshheal/internal/pathfind"
)

// GatewayProbe passes when a device still has a complete fallback path to
// the gateway
type GatewayProbe struct {
	DeviceID  string
	ProbeMode Mode
	Graph     GraphSource
}

func (p *GatewayProbe) Name() string { return "gateway:" + p.DeviceID }
func (p *GatewayProbe) Type() string { return "gateway" }
func (p *GatewayProbe) Mode() Mode   { return p.ProbeMode }

func (p *GatewayProbe) Execute(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g := p.Graph()
	path := fallback.BuildFallbackPath(g, p.DeviceID)
	if path == nil {
		return nil, fmt.Errorf("device %s not in topology", p.DeviceID)
	}
	return newResult(p, fallback.IsComplete(g, path), map[string]any{"path": path}), nil
}

// RouteProbe passes when Target is reachable from Source, avoiding Exclude
type RouteProbe struct {
	Source    string
	Target    string
	Exclude   string
	ProbeMode Mode
	Graph     GraphSource
}

func (p *RouteProbe) Name() string { return fmt.Sprintf("route:%s->%s", p.Source, p.Target) }
func (p *RouteProbe) Type() string { return "route" }
func (p *RouteProbe) Mode() Mode   { return p.ProbeMode }

func (p *RouteProbe) Execute(ctx context.Context) (*Result, error) {
	res, err := pathfind.ShortestPaths(ctx, p.Graph(), p.Source, pathfind.WithExclude(p.Exclude))
	if err != nil {
		return nil, err
	}
	path, ok := res.PathTo(p.Target)
	if !ok {
		return newResult(p, false, nil), nil
	}
	return newResult(p, true, map[string]any{
		"path":     path,
		"distance": res.Distance(p.Target),
	}), nil
}

// ConnectivityProbe passes while the non-failed topology forms a single
// component and at least MinActive of its nodes are up
type ConnectivityProbe struct {
	MinActive float64 // percentage, 0..100
	ProbeMode Mode
	Graph     GraphSource
}

func (p *ConnectivityProbe) Name() string { return "connectivity" }
func (p *ConnectivityProbe) Type() string { return "connectivity" }
func (p *ConnectivityProbe) Mode() Mode   { return p.ProbeMode }

func (p *ConnectivityProbe) Execute(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := p.Graph().Health()
	passed := h.Connected && h.ActivePercentage >= p.MinActive
	return newResult(p, passed, map[string]any{
		"components":        h.Components,
		"active_percentage": h.ActivePercentage,
	}), nil
}
