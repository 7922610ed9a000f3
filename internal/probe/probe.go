// Package probe checks reachability properties of the topology after a
// heal and on every connectivity-monitor tick.
package probe

import (
	"context"
	"time"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/graph"
	"github.com/automesh/meshheal/internal/logging"
)

// Mode says when a probe fires
type Mode string

const (
	ModePostHeal   Mode = "post_heal"
	ModeContinuous Mode = "continuous"
)

// GraphSource returns a graph the probe may read freely, usually a clone
// of the live topology
type GraphSource func() *graph.Graph

// Result holds the outcome of a single probe execution
type Result struct {
	ProbeName  string         `json:"probe_name"`
	ProbeType  string         `json:"probe_type"`
	Mode       Mode           `json:"mode"`
	Passed     bool           `json:"passed"`
	Detail     map[string]any `json:"detail,omitempty"`
	Error      *string        `json:"error,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// Outcome condenses r for a simulation view
func (r *Result) Outcome() domain.ProbeOutcome {
	return domain.ProbeOutcome{Name: r.ProbeName, Passed: r.Passed}
}

// Probe is the interface all probe implementations must satisfy
type Probe interface {
	Execute(ctx context.Context) (*Result, error)
	Name() string
	// Type returns the probe type (gateway, route, connectivity)
	Type() string
	Mode() Mode
}

// SafeExecute runs a probe and folds any error into a failed Result
func SafeExecute(ctx context.Context, p Probe, log logging.Logger) *Result {
	result, err := p.Execute(ctx)
	if err == nil && result != nil {
		return result
	}

	errStr := "probe returned no result"
	if err != nil {
		errStr = err.Error()
	}
	if log != nil {
		log.Warn(ctx, "probe failed", logging.String("probe", p.Name()), logging.String("error", errStr))
	}
	return &Result{
		ProbeName:  p.Name(),
		ProbeType:  p.Type(),
		Mode:       p.Mode(),
		Passed:     false,
		Error:      &errStr,
		ExecutedAt: time.Now().UTC(),
	}
}

// RunAll executes probes in order with SafeExecute
func RunAll(ctx context.Context, probes []Probe, log logging.Logger) []*Result {
	out := make([]*Result, 0, len(probes))
	for _, p := range probes {
		out = append(out, SafeExecute(ctx, p, log))
	}
	return out
}

// Health adapts a Probe to the pass/fail shape the connectivity monitor
// polls
type Health struct {
	Probe Probe
	Log   logging.Logger
}

func (h Health) Name() string { return h.Probe.Name() }

func (h Health) Execute(ctx context.Context) (bool, error) {
	r := SafeExecute(ctx, h.Probe, h.Log)
	return r.Passed, nil
}

func newResult(p Probe, passed bool, detail map[string]any) *Result {
	return &Result{
		ProbeName:  p.Name(),
		ProbeType:  p.Type(),
		Mode:       p.Mode(),
		Passed:     passed,
		Detail:     detail,
		ExecutedAt: time.Now().UTC(),
	}
}
