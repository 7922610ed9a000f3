package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/fallback"
	"github.com/automesh/meshheal/internal/graph"
	"github.com/automesh/meshheal/internal/healing"
	"github.com/automesh/meshheal/internal/logging"
	"github.com/automesh/meshheal/internal/pathfind"
	"github.com/automesh/meshheal/internal/topology"
	"github.com/spf13/cobra"
)

// cliOptions are the flags shared by every subcommand
type cliOptions struct {
	topology string
	json     bool
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:   "meshctl",
		Short: "Query and exercise a self-healing mesh topology",
		Long: `meshctl loads a topology preset or YAML file and answers path
queries or runs a scripted failure through the healing engine.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.topology, "topology", "t", topology.PresetAutomesh,
		fmt.Sprintf("preset name (%s) or YAML path", strings.Join(topology.Presets(), ", ")))
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print machine-readable JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log engine activity to stderr")

	root.AddCommand(
		newPathCmd(opts),
		newECMPCmd(opts),
		newFallbackCmd(opts),
		newSimulateCmd(opts),
		newHealthCmd(opts),
	)
	return root
}

func (o *cliOptions) graph() (*graph.Graph, error) {
	topo, err := topology.Load(o.topology)
	if err != nil {
		return nil, err
	}
	return graph.FromTopology(topo)
}

func (o *cliOptions) logger(w io.Writer) logging.Logger {
	if !o.verbose {
		return logging.Noop()
	}
	return logging.New(logging.Config{Level: "debug", Output: w})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPathCmd(opts *cliOptions) *cobra.Command {
	var exclude string
	var observe bool
	cmd := &cobra.Command{
		Use:   "path SOURCE TARGET",
		Short: "Shortest path between two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := opts.graph()
			if err != nil {
				return err
			}
			source, target := args[0], args[1]
			if !g.HasNode(target) {
				return fmt.Errorf("%w: target %q", domain.ErrUnknownNode, target)
			}

			out := cmd.OutOrStdout()
			popts := []pathfind.Option{pathfind.WithExclude(exclude)}
			if observe && !opts.json {
				popts = append(popts, pathfind.WithObserver(pathfind.ObserverFunc(
					func(_ context.Context, ev domain.StepEvent) error {
						_, err := fmt.Fprintf(out, "%4d %-18s %s %s %g\n",
							ev.Seq, ev.Kind, ev.NodeID, ev.NeighborID, ev.Distance)
						return err
					})))
			}

			res, err := pathfind.ShortestPaths(cmd.Context(), g, source, popts...)
			if err != nil {
				return err
			}
			path, found := res.PathTo(target)
			route := domain.Route{Source: source, Target: target, Path: path, Found: found}
			if found {
				route.Distance = res.Distance(target)
			} else {
				route.Path = []string{}
			}

			if opts.json {
				return printJSON(out, route)
			}
			if !found {
				_, err = fmt.Fprintf(out, "no path from %s to %s\n", source, target)
				return err
			}
			_, err = fmt.Fprintf(out, "%s (distance %g)\n", strings.Join(path, " -> "), route.Distance)
			return err
		},
	}
	cmd.Flags().StringVar(&exclude, "exclude", "", "node to route around")
	cmd.Flags().BoolVar(&observe, "observe", false, "print every engine step")
	return cmd
}

func newECMPCmd(opts *cliOptions) *cobra.Command {
	var exclude string
	var weighted bool
	cmd := &cobra.Command{
		Use:   "ecmp SOURCE TARGET",
		Short: "All equal-cost paths between two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := opts.graph()
			if err != nil {
				return err
			}
			popts := []pathfind.Option{pathfind.WithExclude(exclude)}
			if weighted {
				popts = append(popts, pathfind.WithWeightEquality())
			}
			paths, err := pathfind.EqualCostPaths(cmd.Context(), g, args[0], args[1], popts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, paths)
			}
			if len(paths) == 0 {
				_, err = fmt.Fprintf(out, "no path from %s to %s\n", args[0], args[1])
				return err
			}
			for i, p := range paths {
				if _, err := fmt.Fprintf(out, "%d: %s\n", i+1, strings.Join(p, " -> ")); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&exclude, "exclude", "", "node to route around")
	cmd.Flags().BoolVar(&weighted, "weighted", false, "compare total link weight instead of hop count")
	return cmd
}

func newFallbackCmd(opts *cliOptions) *cobra.Command {
	var exclude string
	var maxRange float64
	cmd := &cobra.Command{
		Use:   "fallback DEVICE",
		Short: "Tiered fallback path from a device toward the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := opts.graph()
			if err != nil {
				return err
			}
			fopts := []fallback.Option{fallback.WithMaxRange(maxRange)}
			if exclude != "" {
				fopts = append(fopts, fallback.WithExclude(exclude))
			}
			path := fallback.BuildFallbackPath(g, args[0], fopts...)
			if path == nil {
				return fmt.Errorf("%w: device %q", domain.ErrUnknownNode, args[0])
			}
			rr := domain.Reroute{DeviceID: args[0], Path: path, Complete: fallback.IsComplete(g, path)}

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, rr)
			}
			status := "complete"
			if !rr.Complete {
				status = "partial"
			}
			_, err = fmt.Fprintf(out, "%s (%s)\n", strings.Join(path, " -> "), status)
			return err
		},
	}
	cmd.Flags().StringVar(&exclude, "exclude", "", "node to route around")
	cmd.Flags().Float64Var(&maxRange, "max-range", fallback.DefaultMaxRange, "furthest a device may roam to reach another access point")
	return cmd
}

func newSimulateCmd(opts *cliOptions) *cobra.Command {
	var (
		link      bool
		confirm   bool
		blast     float64
		protected string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate ID",
		Short: "Fail a node (or link with --link) and print the healed state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := topology.Load(opts.topology)
			if err != nil {
				return err
			}
			orch, err := healing.New(topo, healing.Config{
				MaxBlastRadius:       blast,
				ProtectedNodePattern: protected,
			}, healing.Deps{Log: opts.logger(cmd.ErrOrStderr())})
			if err != nil {
				return err
			}
			defer orch.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			view, err := simulate(ctx, orch, args[0], link, confirm)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, view)
			}
			return printView(out, view)
		},
	}
	cmd.Flags().BoolVar(&link, "link", false, "treat ID as a link")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "allow failing a protected node")
	cmd.Flags().Float64Var(&blast, "max-blast-radius", healing.DefaultConfig().MaxBlastRadius, "largest fraction of nodes one failure may take down")
	cmd.Flags().StringVar(&protected, "protected", "", "glob of node ids that need --confirm")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up waiting for the heal after this long")
	return cmd
}

// simulate starts a run, injects one failure and waits for the heal.
// Step events may be dropped under load, so the state is polled as well.
func simulate(ctx context.Context, orch *healing.Orchestrator, id string, link, confirm bool) (domain.SimulationView, error) {
	events, unsubscribe := orch.Subscribe()
	defer unsubscribe()

	if err := orch.Start(ctx); err != nil {
		return domain.SimulationView{}, err
	}

	var res domain.FailureResult
	if link {
		res = orch.FailLink(ctx, id)
	} else {
		res = orch.Fail(ctx, id, healing.FailOptions{Confirm: confirm})
	}
	if !res.Accepted {
		return domain.SimulationView{}, fmt.Errorf("failure rejected: %s", res.Reason)
	}

	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return domain.SimulationView{}, fmt.Errorf("%w: waiting for heal", domain.ErrTimeout)
		case _, ok := <-events:
			if !ok {
				return domain.SimulationView{}, errors.New("event stream closed before heal")
			}
		case <-poll.C:
		}
		if view := orch.State(); view.State == domain.StateNormal {
			return view, nil
		}
	}
}

func printView(w io.Writer, v domain.SimulationView) error {
	failed := v.FailedNode
	if failed == "" {
		failed = v.FailedLink
	}
	fmt.Fprintf(w, "failed:        %s\n", failed)
	fmt.Fprintf(w, "healing links: %s\n", strings.Join(v.HealingLinks, ", "))
	for _, r := range v.Routes {
		if r.Found {
			fmt.Fprintf(w, "route:         %s (distance %g)\n", strings.Join(r.Path, " -> "), r.Distance)
		} else {
			fmt.Fprintf(w, "route:         %s -> %s unreachable\n", r.Source, r.Target)
		}
	}
	complete := 0
	for _, rr := range v.Reroutes {
		if rr.Complete {
			complete++
		}
	}
	fmt.Fprintf(w, "reroutes:      %d (%d complete)\n", len(v.Reroutes), complete)
	if m := v.Metrics; m != nil {
		fmt.Fprintf(w, "detection:     %dms\n", m.DetectionMs)
		fmt.Fprintf(w, "reroute:       %dms\n", m.RerouteMs)
		fmt.Fprintf(w, "packet loss:   %.1f%%\n", m.PacketLossPct)
		fmt.Fprintf(w, "degradation:   %.1f%%\n", m.DegradationPct)
	}
	_, err := fmt.Fprintf(w, "health:        %d/%d nodes active, %d component(s)\n",
		v.Health.ActiveNodes, v.Health.TotalNodes, v.Health.Components)
	return err
}

func newHealthCmd(opts *cliOptions) *cobra.Command {
	var fail []string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Summarize topology health, optionally after failing nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := opts.graph()
			if err != nil {
				return err
			}
			for _, id := range fail {
				if _, err := g.FailNode(id); err != nil {
					return err
				}
			}
			h := g.Health()

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, h)
			}
			fmt.Fprintf(out, "topology:   %s\n", g.Name())
			fmt.Fprintf(out, "active:     %d/%d (%.1f%%)\n", h.ActiveNodes, h.TotalNodes, h.ActivePercentage)
			fmt.Fprintf(out, "components: %d\n", h.Components)
			if len(h.FailedNodes) > 0 {
				fmt.Fprintf(out, "failed:     %s\n", strings.Join(h.FailedNodes, ", "))
			}
			_, err = fmt.Fprintf(out, "connected:  %t\n", h.Connected)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&fail, "fail", nil, "node ids to fail before reporting")
	return cmd
}
