// Package windowgraph carves the per-window sub-graph out of the base graph
// in two stages: a temporal filter, then a structural filter that drops
// isolated nodes except those of always-retained labels.
package windowgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/rollwin/engine/basegraph"
	"github.com/WessleyAI/rollwin/engine/gds"
	"github.com/WessleyAI/rollwin/engine/window"
)

// DegreeProperty is written on the temporal view and read by the structural
// filter. It stays on the final view and is exported with it.
const DegreeProperty = "participation_degree"

// TemporalSuffix names the intermediate temporal view.
const TemporalSuffix = "_temporal"

// Spec is everything the filter needs besides the window.
type Spec struct {
	BaseGraph      string
	NodeLabels     []string
	RelTypes       []string
	ImputedRelType string
	IncludeImputed bool
	AlwaysRetain   []string
	Logger         *slog.Logger
}

// View is the filtered graph for one window. Release drops it together with
// its temporal staging view.
type View struct {
	Name     string
	Window   window.Window
	Temporal gds.GraphStats
	Final    gds.GraphStats
	eng      gds.Engine
	acquired []string
	logger   *slog.Logger
	released bool
}

// Empty reports whether the final view has no nodes. An empty view may not
// exist in the engine's catalog and must not be queried.
func (v *View) Empty() bool { return v.Final.NodeCount == 0 }

// NodeFilter keeps nodes of the configured labels whose validity interval
// overlaps [$start, $end).
func (s Spec) NodeFilter() gds.Expr {
	return gds.And(
		gds.AnyLabel(s.NodeLabels...),
		gds.Lt(gds.Prop(basegraph.PropStart), gds.Param("end")),
		gds.Gt(gds.Prop(basegraph.PropEnd), gds.Param("start")),
	)
}

// RelFilter keeps relationships of the configured types overlapping the
// window. Imputed relationships pass only when included by configuration.
func (s Spec) RelFilter() gds.Expr {
	return gds.And(
		gds.AnyLabel(s.RelTypes...),
		gds.Lt(gds.Prop(basegraph.PropStart), gds.Param("end")),
		gds.Gt(gds.Prop(basegraph.PropEnd), gds.Param("start")),
		gds.Or(
			gds.Not(gds.Label(s.ImputedRelType)),
			gds.Eq(gds.Param("includeImputed"), gds.Num(1)),
			gds.Eq(gds.Prop(basegraph.PropImputed), gds.Num(0)),
		),
	)
}

// StructuralFilter keeps participating nodes and every always-retained node.
func (s Spec) StructuralFilter() gds.Expr {
	xs := []gds.Expr{gds.Gt(gds.Prop(DegreeProperty), gds.Num(0))}
	for _, l := range s.AlwaysRetain {
		xs = append(xs, gds.Label(l))
	}
	return gds.Or(xs...)
}

// Params binds the filter parameters for w.
func (s Spec) Params(w window.Window) map[string]any {
	inc := 0.0
	if s.IncludeImputed {
		inc = 1.0
	}
	return map[string]any{"start": w.Start, "end": w.End, "includeImputed": inc}
}

// Acquire builds the view for w. On error every view created so far has
// already been dropped.
func Acquire(ctx context.Context, eng gds.Engine, s Spec, w window.Window) (v *View, err error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := w.ID()
	temporal := name + TemporalSuffix
	v = &View{Name: name, Window: w, eng: eng, logger: logger}
	defer func() {
		if err != nil {
			if rerr := v.Release(ctx); rerr != nil {
				err = errors.Join(err, rerr)
			}
			v = nil
		}
	}()

	// Leftovers from an interrupted attempt.
	for _, g := range []string{name, temporal} {
		if err := eng.Drop(ctx, g); err != nil {
			return nil, err
		}
	}

	params := s.Params(w)
	v.Temporal, err = eng.Filter(ctx, gds.FilterSpec{
		Name:   temporal,
		From:   s.BaseGraph,
		Nodes:  s.NodeFilter(),
		Rels:   s.RelFilter(),
		Params: params,
	})
	if err != nil {
		return v, fmt.Errorf("windowgraph: temporal filter %s: %w", name, err)
	}
	v.acquired = append(v.acquired, temporal)

	if v.Temporal.NodeCount == 0 {
		v.Final = gds.GraphStats{Name: name}
		logger.Debug("window graph empty", "window", name)
		return v, nil
	}

	_, err = eng.Mutate(ctx, gds.MutateCall{
		Procedure: "gds.degree.mutate",
		Graph:     temporal,
		Config:    map[string]any{"mutateProperty": DegreeProperty, "orientation": "UNDIRECTED"},
	})
	if err != nil {
		return v, fmt.Errorf("windowgraph: participation degree %s: %w", name, err)
	}

	v.Final, err = eng.Filter(ctx, gds.FilterSpec{
		Name:   name,
		From:   temporal,
		Nodes:  s.StructuralFilter(),
		Rels:   gds.All(),
		Params: params,
	})
	if err != nil {
		return v, fmt.Errorf("windowgraph: structural filter %s: %w", name, err)
	}
	v.acquired = append(v.acquired, name)

	logger.Debug("window graph ready", "window", name,
		"temporal_nodes", v.Temporal.NodeCount, "nodes", v.Final.NodeCount,
		"relationships", v.Final.RelationshipCount)
	return v, nil
}

// Release drops the views in reverse order of creation. It is safe to call
// more than once.
func (v *View) Release(ctx context.Context) error {
	if v == nil || v.released {
		return nil
	}
	v.released = true
	var errs []error
	for i := len(v.acquired) - 1; i >= 0; i-- {
		if err := v.eng.Drop(ctx, v.acquired[i]); err != nil {
			v.logger.Warn("drop window view", "graph", v.acquired[i], "error", err)
			errs = append(errs, fmt.Errorf("windowgraph: drop %s: %w", v.acquired[i], err))
		}
	}
	return errors.Join(errs...)
}

// With runs fn on the view for w and releases it on every exit path. A
// release failure is joined to fn's error and never replaces it.
func With(ctx context.Context, eng gds.Engine, s Spec, w window.Window, fn func(context.Context, *View) error) (err error) {
	v, err := Acquire(ctx, eng, s, w)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := v.Release(ctx); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn(ctx, v)
}
