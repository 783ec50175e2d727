package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/rollwin/engine/algo"
	"github.com/WessleyAI/rollwin/engine/basegraph"
	"github.com/WessleyAI/rollwin/engine/config"
	"github.com/WessleyAI/rollwin/engine/domain"
	"github.com/WessleyAI/rollwin/engine/gds"
	"github.com/WessleyAI/rollwin/engine/gds/gdstest"
	"github.com/WessleyAI/rollwin/engine/window"
	"github.com/WessleyAI/rollwin/engine/windowgraph"
)

func TestPartitionTable(t *testing.T) {
	pt, err := NewPartitionTable(6, []config.Block{
		{Name: "a", Indices: []int{4, 1}},
		{Name: "b", Indices: []int{0}},
	}, "rest")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "rest"}, pt.Names())
	assert.Equal(t, []int{2, 3, 5}, pt.Remainder.Indices)

	parts, err := pt.Split([]float64{10, 11, 12, 13, 14, 15})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{11, 14}, {10}, {12, 13, 15}}, parts)

	_, err = pt.Split([]float64{1, 2})
	assert.True(t, errors.Is(err, domain.ErrSchemaDrift))
}

func TestPartitionTableRejects(t *testing.T) {
	tests := []struct {
		name   string
		dim    int
		blocks []config.Block
		rest   string
	}{
		{"out of range", 4, []config.Block{{Name: "a", Indices: []int{4}}}, "rest"},
		{"negative", 4, []config.Block{{Name: "a", Indices: []int{-1}}}, "rest"},
		{"overlap", 4, []config.Block{{Name: "a", Indices: []int{1}}, {Name: "b", Indices: []int{1, 2}}}, "rest"},
		{"empty name", 4, []config.Block{{Indices: []int{1}}}, "rest"},
		{"duplicate name", 4, []config.Block{{Name: "a", Indices: []int{1}}, {Name: "a", Indices: []int{2}}}, "rest"},
		{"clashes with remainder", 4, []config.Block{{Name: "rest", Indices: []int{1}}}, "rest"},
		{"no remainder name", 4, nil, ""},
		{"zero dimension", 0, nil, "rest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPartitionTable(tt.dim, tt.blocks, tt.rest)
			assert.True(t, errors.Is(err, domain.ErrConfiguration), "got %v", err)
		})
	}
}

func TestDefaultBlocksFitDefaultDimension(t *testing.T) {
	cfg := config.Default()
	pt, err := NewPartitionTable(cfg.Export.FeatureDimension, cfg.Export.Blocks, cfg.Export.RemainderBlock)
	require.NoError(t, err)
	n := len(pt.Remainder.Indices)
	for _, b := range pt.Blocks {
		n += len(b.Indices)
	}
	assert.Equal(t, 60, n)
}

func TestFrameAppendChecksKinds(t *testing.T) {
	f := NewFrame(Field{"id", String}, Field{"score", Float64}, Field{"vec", Float64List})
	require.NoError(t, f.Append("a", 1.5, []float64{1, 2}))
	require.NoError(t, f.Append("b", nil, []float64{}))
	assert.Equal(t, []float64{}, f.Value(1, "vec"))
	assert.Error(t, f.Append("c", int64(1), nil))
	assert.Error(t, f.Append("c"))
	assert.Equal(t, []string{"missing"}, f.Missing([]string{"id", "missing"}))
	assert.Panics(t, func() { NewFrame(Field{"x", String}, Field{"x", Int64}) })
}

func TestParquetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := NewFrame(
		Field{"id", String},
		Field{"n", Int64},
		Field{"x", Float64},
		Field{"ok", Bool},
		Field{"communities", Int64List},
		Field{"vec", Float64List},
		Field{"labels", StringList},
	)
	require.NoError(t, f.Append("a", int64(1), 0.5, true, []int64{3, 3}, []float64{1, 2, 3}, []string{"Bank"}))
	require.NoError(t, f.Append("b", nil, nil, nil, nil, nil, nil))
	require.NoError(t, f.Append("c", int64(-7), 2.25, false, []int64{9}, []float64{4}, []string{"Person", "Company"}))

	path := filepath.Join(dir, "nodes", "frame.parquet")
	require.NoError(t, WriteAll(Output{Path: path, Frame: f, Meta: map[string]string{ColParamsHash: "abc"}}))

	info, err := Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 3, info.Rows)
	assert.Equal(t, f.Names(), info.Columns)
	assert.Equal(t, "abc", info.Meta[ColParamsHash])

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, 3, got.Len())
	for i := 0; i < 3; i++ {
		for _, name := range f.Names() {
			assert.Equal(t, f.Value(i, name), got.Value(i, name), "row %d column %s", i, name)
		}
	}
}

func TestParquetKeepsEmptyListsAndColumnOrder(t *testing.T) {
	f := NewFrame(
		Field{"zeta", String},
		Field{"communities", Int64List},
		Field{"alpha", Float64List},
		Field{"labels", StringList},
	)
	require.NoError(t, f.Append("empty", []int64{}, []float64{}, []string{}))
	require.NoError(t, f.Append("single", []int64{4}, []float64{0.5}, []string{"Bank"}))
	require.NoError(t, f.Append("null", nil, nil, nil))

	path := filepath.Join(t.TempDir(), "lists.parquet")
	require.NoError(t, WriteAll(Output{Path: path, Frame: f}))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "communities", "alpha", "labels"}, got.Names())
	assert.True(t, f.Equal(got))

	assert.Equal(t, []int64{}, got.Value(0, "communities"))
	assert.Equal(t, []float64{}, got.Value(0, "alpha"))
	assert.Equal(t, []string{}, got.Value(0, "labels"))
	assert.Equal(t, []int64{4}, got.Value(1, "communities"))
	assert.Equal(t, []float64{0.5}, got.Value(1, "alpha"))
	assert.Equal(t, []string{"Bank"}, got.Value(1, "labels"))
	assert.Nil(t, got.Value(2, "communities"))
	assert.Nil(t, got.Value(2, "alpha"))
	assert.Nil(t, got.Value(2, "labels"))
}

func TestWriteAllLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	good := NewFrame(Field{"id", String})
	require.NoError(t, good.Append("a"))

	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("file, not a dir"), 0o644))

	err := WriteAll(
		Output{Path: filepath.Join(dir, "nodes", "a.parquet"), Frame: good},
		Output{Path: filepath.Join(blocked, "b.parquet"), Frame: good},
	)
	require.Error(t, err)
	entries, err := os.ReadDir(filepath.Join(dir, "nodes"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLayout(t *testing.T) {
	l := Layout{Dir: "out/run1"}
	assert.Equal(t, filepath.Join("out", "run1", "nodes", "node_features_rw_2004_3y.parquet"), l.Nodes("rw_2004_3y"))
	assert.Equal(t, filepath.Join("out", "run1", "edges", "edge_list_rw_2004_3y.parquet"), l.Edges("rw_2004_3y"))
	assert.Equal(t, filepath.Join("out", "run1", "predictions", "predicted_edges_rw_2004_3y.parquet"), l.Predictions("rw_2004_3y"))
	assert.Equal(t, filepath.Join("out", "run1", "manifest", "manifest_abc.parquet"), l.Manifest("abc"))
}

func exportFixture(t *testing.T, cfg *config.Config) (*gdstest.Server, gds.Engine, *windowgraph.View, algo.Produced) {
	t.Helper()
	ctx := context.Background()
	s := gdstest.NewServer()
	gdstest.SixNodes(s)
	eng, err := s.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, basegraph.New(basegraph.SpecFor(cfg), nil).Ensure(ctx, eng, false))

	spec := windowgraph.Spec{
		BaseGraph: cfg.BaseGraphName, NodeLabels: cfg.NodeLabels, RelTypes: cfg.RelTypes,
		ImputedRelType: cfg.ImputedRelType, AlwaysRetain: cfg.AlwaysRetainLabels,
	}
	v, err := windowgraph.Acquire(ctx, eng, spec, window.New(window.Yearly, window.Period{Year: 2000, Sub: 1}, 10))
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Release(ctx) })

	produced, err := algo.NewRunner(cfg.Algorithms, nil).Run(ctx, eng, v.Name, v.Final.NodeCount)
	require.NoError(t, err)
	return s, eng, v, produced
}

func TestExportNodesAndEdges(t *testing.T) {
	cfg := config.Default()
	cfg.Algorithms.FastRP.Dimension = 4
	cfg.Export.ExpandEmbeddings = true
	_, eng, v, produced := exportFixture(t, &cfg)

	e, err := NewExporter(&cfg, nil)
	require.NoError(t, err)
	snap, err := e.Export(context.Background(), eng, v.Name, v.Final.NodeCount, produced, Meta{Window: v.Window, ParamsHash: "h"})
	require.NoError(t, err)

	nodes := snap.Nodes
	require.Equal(t, 6, nodes.Len())
	assert.Equal(t, e.NodeColumns(), nodes.Names())
	assert.Equal(t, "bank1", nodes.Value(0, ColEntityID))
	assert.Equal(t, "rw_2000_10y", nodes.Value(0, ColWindowID))
	assert.Equal(t, int64(2009), nodes.Value(0, ColEndYear))
	assert.Equal(t, "h", nodes.Value(0, ColParamsHash))
	assert.Equal(t, 0.0, nodes.Value(0, windowgraph.DegreeProperty))
	assert.Equal(t, 1.0, nodes.Value(1, "is_dead"))
	assert.Nil(t, nodes.Value(0, "network_feats"))
	assert.Len(t, nodes.Value(0, "bank_feats"), 60)
	assert.Len(t, nodes.Value(0, "state_feats"), 7)
	assert.IsType(t, []int64{}, nodes.Value(2, algo.Louvain))
	assert.IsType(t, int64(0), nodes.Value(2, algo.WCC))
	assert.Equal(t, nodes.Value(2, algo.FastRP).([]float64)[3], nodes.Value(2, "emb_3"))

	in := nodes.Value(2, algo.InDegree).(float64)
	out := nodes.Value(2, algo.OutDegree).(float64)
	assert.Equal(t, in+out, nodes.Value(2, ColDegree))

	edges := snap.Edges
	require.Equal(t, 3, edges.Len())
	assert.Equal(t, []string{"source_Id", "target_Id", ColRelationship}, edges.Names()[:3])
	assert.Equal(t, "company1", edges.Value(0, "source_Id"))
	assert.Equal(t, "company2", edges.Value(0, "target_Id"))
}

func TestExportEmptyWindowMakesNoCalls(t *testing.T) {
	cfg := config.Default()
	e, err := NewExporter(&cfg, nil)
	require.NoError(t, err)
	w := window.New(window.Yearly, window.Period{Year: 2030, Sub: 1}, 1)
	snap, err := e.Export(context.Background(), nil, w.ID(), 0, nil, Meta{Window: w})
	require.NoError(t, err)
	assert.Zero(t, snap.Nodes.Len())
	assert.Equal(t, e.NodeColumns(), snap.Nodes.Names())
	assert.Equal(t, e.EdgeColumns(), snap.Edges.Names())
}

func TestExportMissingIdentifierIsSchemaDrift(t *testing.T) {
	cfg := config.Default()
	cfg.IDProperty = "uid"
	cfg.EdgeIDProperty = "uid"
	_, eng, v, produced := exportFixture(t, &cfg)
	e, err := NewExporter(&cfg, nil)
	require.NoError(t, err)
	_, err = e.Export(context.Background(), eng, v.Name, v.Final.NodeCount, produced, Meta{Window: v.Window})
	assert.True(t, errors.Is(err, domain.ErrSchemaDrift))
}

func TestNewExporterRejectsColumnClash(t *testing.T) {
	cfg := config.Default()
	cfg.Export.ExtraProperties = []string{"page_rank"}
	_, err := NewExporter(&cfg, nil)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
