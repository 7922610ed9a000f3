package pathfind

import (
	"context"

	"github.com/automesh/meshheal/internal/domain"
)

// Observer receives engine steps in strict chronological order. A non-nil
// error aborts the run and is returned to the caller. Observe may block;
// that is how callers pace an animated run.
type Observer interface {
	Observe(ctx context.Context, ev domain.StepEvent) error
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(ctx context.Context, ev domain.StepEvent) error

// Observe calls f(ctx, ev)
func (f ObserverFunc) Observe(ctx context.Context, ev domain.StepEvent) error { return f(ctx, ev) }

// Options configures a shortest-path or ECMP computation
type Options struct {
	// Exclude is treated as absent from the graph for this run
	Exclude string
	// Observer switches the engine into step-observable mode
	Observer Observer
	// WeightEquality makes the ECMP finder compare total weight instead
	// of hop count
	WeightEquality bool
}

// Option mutates Options
type Option func(*Options)

// WithExclude pretends id does not exist for this run
func WithExclude(id string) Option {
	return func(o *Options) { o.Exclude = id }
}

// WithObserver streams every engine step to obs
func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observer = obs }
}

// WithWeightEquality enumerates ECMP paths whose total weight equals the
// shortest distance, rather than paths with the same hop count
func WithWeightEquality() Option {
	return func(o *Options) { o.WeightEquality = true }
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
