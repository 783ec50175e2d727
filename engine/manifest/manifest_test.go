package manifest

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/rollwin/engine/snapshot"
	"github.com/WessleyAI/rollwin/engine/window"
)

func frameWith(t *testing.T, rows int, names ...string) *snapshot.Frame {
	t.Helper()
	fields := make([]snapshot.Field, len(names))
	for i, n := range names {
		fields[i] = snapshot.Field{Name: n, Kind: snapshot.String}
	}
	f := snapshot.NewFrame(fields...)
	for r := 0; r < rows; r++ {
		cells := make([]any, len(names))
		for i := range cells {
			cells[i] = "x"
		}
		require.NoError(t, f.Append(cells...))
	}
	return f
}

func newTracker(dir string) *Tracker {
	l := snapshot.Layout{Dir: dir}
	return &Tracker{
		Layout:       l,
		Fingerprint:  "0123456789abcdef0123",
		ShortHash:    "0123456789abcdef",
		RunID:        "run-1",
		RelTypes:     []string{"OWNERSHIP", "FAMILY"},
		Algorithms:   []string{"page_rank"},
		SkipExisting: true,
		Expect: []Expected{
			{Kind: KindNodes, Path: l.Nodes, Columns: []string{"entity_id", "page_rank"}},
			{Kind: KindEdges, Path: l.Edges, Columns: []string{"source_Id", "target_Id"}},
		},
	}
}

func stamped(path string, f *snapshot.Frame, hash string) snapshot.Output {
	return snapshot.Output{Path: path, Frame: f, Meta: map[string]string{snapshot.ColParamsHash: hash}}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	tr := newTracker(dir)
	w := window.New(window.Yearly, window.Period{Year: 2004, Sub: 1}, 3)

	_, ok := tr.Check(w)
	assert.False(t, ok, "nothing written yet")

	require.NoError(t, snapshot.WriteAll(
		stamped(tr.Layout.Nodes(w.ID()), frameWith(t, 5, "entity_id", "page_rank", "extra"), tr.ShortHash),
	))
	_, ok = tr.Check(w)
	assert.False(t, ok, "edges missing")

	require.NoError(t, snapshot.WriteAll(
		stamped(tr.Layout.Edges(w.ID()), frameWith(t, 2, "source_Id", "target_Id"), tr.ShortHash),
	))
	ex, ok := tr.Check(w)
	require.True(t, ok)
	assert.Equal(t, Existing{Nodes: 5, Edges: 2}, ex)

	tr.SkipExisting = false
	_, ok = tr.Check(w)
	assert.False(t, ok)
}

func TestCheckMissingColumnRecomputes(t *testing.T) {
	dir := t.TempDir()
	tr := newTracker(dir)
	w := window.New(window.Yearly, window.Period{Year: 2004, Sub: 1}, 3)
	require.NoError(t, snapshot.WriteAll(
		snapshot.Output{Path: tr.Layout.Nodes(w.ID()), Frame: frameWith(t, 1, "entity_id")},
		snapshot.Output{Path: tr.Layout.Edges(w.ID()), Frame: frameWith(t, 1, "source_Id", "target_Id")},
	))
	_, ok := tr.Check(w)
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, missingColumns([]string{"a"}, []string{"a", "b"}))
}

func TestCheckOtherParamsHashRecomputes(t *testing.T) {
	dir := t.TempDir()
	tr := newTracker(dir)
	w := window.New(window.Yearly, window.Period{Year: 2004, Sub: 1}, 3)
	nodes := frameWith(t, 2, "entity_id", "page_rank")
	edges := frameWith(t, 1, "source_Id", "target_Id")

	require.NoError(t, snapshot.WriteAll(
		stamped(tr.Layout.Nodes(w.ID()), nodes, "fedcba9876543210"),
		stamped(tr.Layout.Edges(w.ID()), edges, tr.ShortHash),
	))
	_, ok := tr.Check(w)
	assert.False(t, ok, "nodes written under other parameters")

	require.NoError(t, snapshot.WriteAll(
		snapshot.Output{Path: tr.Layout.Nodes(w.ID()), Frame: nodes},
	))
	_, ok = tr.Check(w)
	assert.False(t, ok, "no params hash at all")
}

func TestCheckFallsBackToParamsHashColumn(t *testing.T) {
	dir := t.TempDir()
	tr := newTracker(dir)
	w := window.New(window.Yearly, window.Period{Year: 2004, Sub: 1}, 3)
	f := snapshot.NewFrame(
		snapshot.Field{Name: "entity_id", Kind: snapshot.String},
		snapshot.Field{Name: "page_rank", Kind: snapshot.String},
		snapshot.Field{Name: snapshot.ColParamsHash, Kind: snapshot.String},
	)
	require.NoError(t, f.Append("a", "x", tr.ShortHash))
	require.NoError(t, snapshot.WriteAll(
		snapshot.Output{Path: tr.Layout.Nodes(w.ID()), Frame: f},
		stamped(tr.Layout.Edges(w.ID()), frameWith(t, 1, "source_Id", "target_Id"), tr.ShortHash),
	))
	ex, ok := tr.Check(w)
	require.True(t, ok)
	assert.Equal(t, Existing{Nodes: 1, Edges: 1}, ex)

	f.Rows[0][2] = "fedcba9876543210"
	require.NoError(t, snapshot.WriteAll(snapshot.Output{Path: tr.Layout.Nodes(w.ID()), Frame: f}))
	_, ok = tr.Check(w)
	assert.False(t, ok)
}

func TestFlush(t *testing.T) {
	dir := t.TempDir()
	tr := newTracker(dir)
	w1 := window.New(window.Yearly, window.Period{Year: 2004, Sub: 1}, 3)
	w2 := window.New(window.Quarterly, window.Period{Year: 2010, Sub: 4}, 1)
	tr.Record(Row{Window: w1, NodeCount: 6, EdgeCount: 3, Status: StatusDone, Attempts: 2, Duration: 1500 * time.Millisecond})
	tr.Record(Row{Window: w2, Status: StatusFailed, Attempts: 3, Err: errors.New("boom")})

	require.NoError(t, tr.Flush())
	assert.Equal(t, filepath.Join(dir, "manifest", "manifest_0123456789abcdef.parquet"), tr.Path())

	f, err := Load(tr.Path())
	require.NoError(t, err)
	require.Equal(t, 2, f.Len())
	info, err := snapshot.Stat(tr.Path())
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", info.Meta[snapshot.ColParamsHash])
	assert.Equal(t, "rw_2004_3y", f.Value(0, snapshot.ColWindowID))
	assert.Equal(t, int64(6), f.Value(0, ColNodeCount))
	assert.Equal(t, int64(1500), f.Value(0, ColDurationMS))
	assert.Equal(t, "done", f.Value(0, ColStatus))
	assert.Nil(t, f.Value(0, ColError))
	assert.Equal(t, []string{"OWNERSHIP", "FAMILY"}, f.Value(0, ColRelTypes))
	assert.Equal(t, "0123456789abcdef", f.Value(0, snapshot.ColParamsHash))
	assert.Equal(t, "rw_2010_q4_1q", f.Value(1, snapshot.ColWindowID))
	assert.Equal(t, "boom", f.Value(1, ColError))
	assert.Equal(t, "run-1", f.Value(1, ColRunID))
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.parquet"))
	assert.ErrorIs(t, err, ErrNoManifest)
}
