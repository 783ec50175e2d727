package windowgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/rollwin/engine/basegraph"
	"github.com/WessleyAI/rollwin/engine/config"
	"github.com/WessleyAI/rollwin/engine/gds"
	"github.com/WessleyAI/rollwin/engine/gds/gdstest"
	"github.com/WessleyAI/rollwin/engine/window"
)

func setup(t *testing.T) (*gdstest.Server, gds.Engine, Spec) {
	t.Helper()
	ctx := context.Background()
	s := gdstest.NewServer()
	gdstest.SixNodes(s)
	eng, err := s.Connect(ctx)
	require.NoError(t, err)

	cfg := config.Default()
	require.NoError(t, basegraph.New(basegraph.SpecFor(&cfg), nil).Ensure(ctx, eng, false))
	return s, eng, Spec{
		BaseGraph:      cfg.BaseGraphName,
		NodeLabels:     cfg.NodeLabels,
		RelTypes:       cfg.RelTypes,
		ImputedRelType: cfg.ImputedRelType,
		AlwaysRetain:   cfg.AlwaysRetainLabels,
	}
}

func yearly(from, size int) window.Window {
	return window.New(window.Yearly, window.Period{Year: from, Sub: 1}, size)
}

func TestFilterRender(t *testing.T) {
	s := Spec{NodeLabels: []string{"Bank", "Person"}, RelTypes: []string{"FAMILY"}, ImputedRelType: "FAMILY", AlwaysRetain: []string{"Bank", "Company"}}
	assert.Equal(t, "((n:Bank OR n:Person) AND n.tStart < $end AND n.tEnd > $start)", s.NodeFilter().Render("n"))
	assert.Equal(t,
		"(r:FAMILY AND r.tStart < $end AND r.tEnd > $start AND (NOT r:FAMILY OR $includeImputed = 1.0 OR r.imputedFlag = 0.0))",
		s.RelFilter().Render("r"))
	assert.Equal(t, "(n.participation_degree > 0.0 OR n:Bank OR n:Company)", s.StructuralFilter().Render("n"))

	s.AlwaysRetain = nil
	assert.Equal(t, "n.participation_degree > 0.0", s.StructuralFilter().Render("n"))
}

func TestWithRetainsIsolatesAndReleases(t *testing.T) {
	ctx := context.Background()
	s, eng, spec := setup(t)

	var seen *View
	err := With(ctx, eng, spec, yearly(2000, 10), func(_ context.Context, v *View) error {
		seen = v
		assert.Equal(t, []string{"base_temporal", "rw_2000_10y", "rw_2000_10y_temporal"}, s.Graphs())
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 6, seen.Temporal.NodeCount)
	assert.EqualValues(t, 6, seen.Final.NodeCount)
	assert.EqualValues(t, 3, seen.Final.RelationshipCount, "imputed tie excluded")
	assert.Equal(t, []string{"base_temporal"}, s.Graphs())
}

func TestIsolatedPersonsAreDropped(t *testing.T) {
	ctx := context.Background()
	s := gdstest.NewServer()
	ids := gdstest.SixNodes(s)
	lonely := s.AddNode([]string{"Person"}, gdstest.With(gdstest.Interval(2000, 2010), "Id", "lonely"))
	s.AddRel(ids[0], lonely, "OWNERSHIP", gdstest.Interval(1990, 1995))
	eng, _ := s.Connect(ctx)
	cfg := config.Default()
	require.NoError(t, basegraph.New(basegraph.SpecFor(&cfg), nil).Ensure(ctx, eng, false))
	spec := Spec{BaseGraph: cfg.BaseGraphName, NodeLabels: cfg.NodeLabels, RelTypes: cfg.RelTypes,
		ImputedRelType: cfg.ImputedRelType, AlwaysRetain: cfg.AlwaysRetainLabels}

	v, err := Acquire(ctx, eng, spec, yearly(2001, 3))
	require.NoError(t, err)
	defer v.Release(ctx)
	assert.EqualValues(t, 7, v.Temporal.NodeCount)
	assert.EqualValues(t, 6, v.Final.NodeCount)
}

func TestIncludeImputed(t *testing.T) {
	ctx := context.Background()
	_, eng, spec := setup(t)
	spec.IncludeImputed = true
	v, err := Acquire(ctx, eng, spec, yearly(2000, 10))
	require.NoError(t, err)
	defer v.Release(ctx)
	assert.EqualValues(t, 4, v.Final.RelationshipCount)
}

func TestWindowOutsideValidityIsEmpty(t *testing.T) {
	ctx := context.Background()
	s, eng, spec := setup(t)
	var empty bool
	err := With(ctx, eng, spec, yearly(2015, 2), func(_ context.Context, v *View) error {
		empty = v.Empty()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, empty)
	assert.Zero(t, s.Calls("mutate:gds.degree.mutate"))
	assert.Equal(t, []string{"base_temporal"}, s.Graphs())
}

func TestViewsReleasedWhenWorkFails(t *testing.T) {
	ctx := context.Background()
	s, eng, spec := setup(t)
	boom := errors.New("algorithm blew up")
	err := With(ctx, eng, spec, yearly(2000, 3), func(context.Context, *View) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"base_temporal"}, s.Graphs())
}

func TestViewsReleasedWhenStructuralStageFails(t *testing.T) {
	ctx := context.Background()
	s, eng, spec := setup(t)
	boom := errors.New("filter failed")
	s.Inject(func(op, graph string) error {
		if op == "filter" && graph == "rw_2000_3y" {
			return boom
		}
		return nil
	})
	ran := false
	err := With(ctx, eng, spec, yearly(2000, 3), func(context.Context, *View) error { ran = true; return nil })
	require.ErrorIs(t, err, boom)
	assert.False(t, ran)
	assert.Equal(t, []string{"base_temporal"}, s.Graphs())
}

func TestReleaseErrorDoesNotMaskPrimary(t *testing.T) {
	ctx := context.Background()
	s, eng, spec := setup(t)
	primary := errors.New("primary")
	dropFailed := errors.New("drop failed")
	err := With(ctx, eng, spec, yearly(2000, 3), func(context.Context, *View) error {
		s.Inject(func(op, _ string) error {
			if op == "drop" {
				return dropFailed
			}
			return nil
		})
		return primary
	})
	require.ErrorIs(t, err, primary)
	require.ErrorIs(t, err, dropFailed)
}

func TestStaleViewsAreReplaced(t *testing.T) {
	ctx := context.Background()
	s, eng, spec := setup(t)
	_, err := eng.Filter(ctx, gds.FilterSpec{Name: "rw_2000_3y_temporal", From: "base_temporal", Nodes: gds.All(), Rels: gds.All()})
	require.NoError(t, err)

	v, err := Acquire(ctx, eng, spec, yearly(2000, 3))
	require.NoError(t, err)
	require.NoError(t, v.Release(ctx))
	require.NoError(t, v.Release(ctx))
	assert.Equal(t, []string{"base_temporal"}, s.Graphs())
}
