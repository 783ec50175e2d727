package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/rollwin/engine/algo"
	"github.com/WessleyAI/rollwin/engine/config"
	"github.com/WessleyAI/rollwin/engine/domain"
	"github.com/WessleyAI/rollwin/engine/gds"
	"github.com/WessleyAI/rollwin/engine/window"
	"github.com/WessleyAI/rollwin/engine/windowgraph"
)

// Column names shared by every frame.
const (
	ColEntityID     = "entity_id"
	ColLabels       = "labels"
	ColWindowID     = "window_id"
	ColWindowStart  = "window_start"
	ColWindowEnd    = "window_end"
	ColStartYear    = "start_year"
	ColEndYear      = "end_year"
	ColGranularity  = "granularity"
	ColParamsHash   = "params_hash"
	ColDegree       = "degree"
	ColRelationship = "relationship_type"
)

// Meta is attached to every row of a window's frames.
type Meta struct {
	Window     window.Window
	ParamsHash string
}

// MetaFields are the window metadata columns every frame carries.
func MetaFields() []Field {
	return []Field{
		{ColWindowID, String},
		{ColWindowStart, Int64},
		{ColWindowEnd, Int64},
		{ColStartYear, Int64},
		{ColEndYear, Int64},
		{ColGranularity, String},
		{ColParamsHash, String},
	}
}

// Cells returns the values of MetaFields.
func (m Meta) Cells() []any {
	w := m.Window
	return []any{
		w.ID(),
		w.Start,
		w.End,
		int64(w.StartYear()),
		int64(w.EndYearInclusive()),
		w.Granularity.String(),
		m.ParamsHash,
	}
}

// Exporter streams a window graph into node and edge frames.
type Exporter struct {
	IDProperty     string
	EdgeIDProperty string
	Opts           config.ExportConfig
	Partition      PartitionTable
	// Steps are the planned algorithms. Their columns exist in every frame,
	// null where a window produced nothing.
	Steps        []algo.Step
	EmbeddingDim int
	Logger       *slog.Logger
}

// NewExporter builds an exporter for cfg. The partition table is validated
// here, once, against the configured feature dimension.
func NewExporter(cfg *config.Config, logger *slog.Logger) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Exporter{
		IDProperty:     cfg.IDProperty,
		EdgeIDProperty: cfg.EdgeIDProperty,
		Opts:           cfg.Export,
		Steps:          algo.Plan(cfg.Algorithms),
		EmbeddingDim:   cfg.Algorithms.FastRP.Dimension,
		Logger:         logger,
	}
	if cfg.Export.FeatureBlocks {
		pt, err := NewPartitionTable(cfg.Export.FeatureDimension, cfg.Export.Blocks, cfg.Export.RemainderBlock)
		if err != nil {
			return nil, err
		}
		e.Partition = pt
	}
	seen := map[string]bool{}
	for _, f := range e.nodeFields(nil) {
		if seen[f.Name] {
			return nil, domain.Configf("export", f.Name, "column name is used twice")
		}
		seen[f.Name] = true
	}
	return e, nil
}

func (e *Exporter) hasStep(prop string) bool {
	for _, s := range e.Steps {
		if s.Property == prop {
			return true
		}
	}
	return false
}

func (e *Exporter) expand() bool {
	return e.Opts.ExpandEmbeddings && e.hasStep(algo.FastRP) && e.EmbeddingDim > 0
}

// NodeFields returns the node frame layout. Extra property kinds are
// decided per frame from the data; here they default to float64.
func (e *Exporter) NodeFields() []Field {
	return e.nodeFields(nil)
}

func (e *Exporter) nodeFields(extraKinds map[string]Kind) []Field {
	fields := []Field{{ColEntityID, String}, {ColLabels, StringList}}
	fields = append(fields, MetaFields()...)
	fields = append(fields, Field{windowgraph.DegreeProperty, Float64})
	for _, s := range e.Steps {
		fields = append(fields, Field{s.Property, stepKind(s.Kind)})
	}
	if e.hasStep(algo.InDegree) && e.hasStep(algo.OutDegree) {
		fields = append(fields, Field{ColDegree, Float64})
	}
	if e.Opts.FeatureVectors {
		fields = append(fields, Field{e.Opts.FeatureProperty, Float64List})
		for _, p := range e.Opts.ExtraProperties {
			k, ok := extraKinds[p]
			if !ok {
				k = Float64
			}
			fields = append(fields, Field{p, k})
		}
	}
	if e.Opts.FeatureBlocks {
		for _, n := range e.Partition.Names() {
			fields = append(fields, Field{n, Float64List})
		}
	}
	if e.expand() {
		for i := 0; i < e.EmbeddingDim; i++ {
			fields = append(fields, Field{fmt.Sprintf("emb_%d", i), Float64})
		}
	}
	return fields
}

// NodeColumns is the column set a node file must have to be reused.
func (e *Exporter) NodeColumns() []string { return NewFrame(e.NodeFields()...).Names() }

func (e *Exporter) edgeSource() string { return "source_" + e.EdgeIDProperty }
func (e *Exporter) edgeTarget() string { return "target_" + e.EdgeIDProperty }

// EdgeFields returns the edge frame layout.
func (e *Exporter) EdgeFields() []Field {
	fields := []Field{{e.edgeSource(), String}, {e.edgeTarget(), String}, {ColRelationship, String}}
	return append(fields, MetaFields()...)
}

// EdgeColumns is the column set an edge file must have to be reused.
func (e *Exporter) EdgeColumns() []string { return NewFrame(e.EdgeFields()...).Names() }

func stepKind(k algo.Kind) Kind {
	switch k {
	case algo.Integer:
		return Int64
	case algo.IntegerList:
		return Int64List
	case algo.Vector:
		return Float64List
	default:
		return Float64
	}
}

// Snapshot is what one window exports.
type Snapshot struct {
	Nodes *Frame
	// Edges is nil when edge export is off.
	Edges *Frame
	// IDs maps engine node ids to stable ids for this projection only.
	IDs map[int64]string
}

func drift(source, format string, args ...any) error {
	return &domain.SchemaDriftError{Source: source, Detail: fmt.Sprintf(format, args...)}
}

// Export streams graph. An empty graph yields empty frames without any
// engine call.
func (e *Exporter) Export(ctx context.Context, eng gds.Engine, graph string, nodeCount int64, produced algo.Produced, meta Meta) (*Snapshot, error) {
	snap := &Snapshot{IDs: map[int64]string{}}
	if nodeCount == 0 {
		snap.Nodes = NewFrame(e.NodeFields()...)
		if e.Opts.Edges {
			snap.Edges = NewFrame(e.EdgeFields()...)
		}
		return snap, nil
	}

	props := append([]string{windowgraph.DegreeProperty}, produced.Properties()...)
	if e.Opts.FeatureVectors || e.Opts.FeatureBlocks {
		props = append(props, e.Opts.FeatureProperty)
	}
	if e.Opts.FeatureVectors {
		props = append(props, e.Opts.ExtraProperties...)
	}
	keys := []string{e.IDProperty}
	if e.EdgeIDProperty != e.IDProperty {
		keys = append(keys, e.EdgeIDProperty)
	}

	rows, err := eng.StreamNodeProperties(ctx, gds.NodeStream{Graph: graph, Properties: dedupe(props), Keys: keys})
	if err != nil {
		return nil, fmt.Errorf("snapshot: stream nodes %s: %w", graph, err)
	}
	nodes, edgeKeys, err := e.nodeFrame(rows, meta, snap.IDs)
	if err != nil {
		return nil, err
	}
	snap.Nodes = nodes

	if e.Opts.Edges {
		rels, err := eng.StreamRelationships(ctx, graph)
		if err != nil {
			return nil, fmt.Errorf("snapshot: stream relationships %s: %w", graph, err)
		}
		if snap.Edges, err = e.edgeFrame(rels, edgeKeys, meta); err != nil {
			return nil, err
		}
	}
	e.Logger.Debug("window exported", "graph", graph, "nodes", snap.Nodes.Len(), "edges", edgeCount(snap.Edges))
	return snap, nil
}

func edgeCount(f *Frame) int {
	if f == nil {
		return 0
	}
	return f.Len()
}

func dedupe(xs []string) []string {
	seen := make(map[string]bool, len(xs))
	out := xs[:0:0]
	for _, x := range xs {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}

func (e *Exporter) nodeFrame(rows []gds.NodeRow, meta Meta, ids map[int64]string) (*Frame, map[int64]string, error) {
	const src = "node stream"
	extraKinds := map[string]Kind{}
	if e.Opts.FeatureVectors {
		for _, p := range e.Opts.ExtraProperties {
			for _, r := range rows {
				if v := r.Values[p]; v != nil {
					if isList(v) {
						extraKinds[p] = Float64List
					} else {
						extraKinds[p] = Float64
					}
					break
				}
			}
		}
	}

	frame := NewFrame(e.nodeFields(extraKinds)...)
	edgeKeys := make(map[int64]string, len(rows))
	mc := meta.Cells()
	for _, r := range rows {
		id, err := stableID(r.Keys[e.IDProperty])
		if err != nil {
			return nil, nil, drift(src, "node %d: %s: %v", r.ID, e.IDProperty, err)
		}
		ids[r.ID] = id
		if e.EdgeIDProperty == e.IDProperty {
			edgeKeys[r.ID] = id
		} else if edgeKeys[r.ID], err = stableID(r.Keys[e.EdgeIDProperty]); err != nil {
			return nil, nil, drift(src, "node %d: %s: %v", r.ID, e.EdgeIDProperty, err)
		}

		cells := make([]any, 0, len(frame.Fields))
		cells = append(cells, id, append([]string(nil), r.Labels...))
		cells = append(cells, mc...)

		deg, err := asFloat(r.Values[windowgraph.DegreeProperty])
		if err != nil {
			return nil, nil, drift(src, "%s: %v", windowgraph.DegreeProperty, err)
		}
		cells = append(cells, deg)

		values := make(map[string]any, len(e.Steps))
		for _, s := range e.Steps {
			v, err := coerceStep(s.Kind, r.Values[s.Property])
			if err != nil {
				return nil, nil, drift(src, "%s: %v", s.Property, err)
			}
			values[s.Property] = v
			cells = append(cells, v)
		}
		if e.hasStep(algo.InDegree) && e.hasStep(algo.OutDegree) {
			in, okIn := values[algo.InDegree].(float64)
			out, okOut := values[algo.OutDegree].(float64)
			if okIn && okOut {
				cells = append(cells, in+out)
			} else {
				cells = append(cells, nil)
			}
		}

		var feats []float64
		if e.Opts.FeatureVectors || e.Opts.FeatureBlocks {
			if feats, err = asFloats(r.Values[e.Opts.FeatureProperty]); err != nil {
				return nil, nil, drift(src, "%s: %v", e.Opts.FeatureProperty, err)
			}
		}
		if e.Opts.FeatureVectors {
			cells = append(cells, feats)
			for _, p := range e.Opts.ExtraProperties {
				var v any
				if extraKinds[p] == Float64List {
					v, err = asFloats(r.Values[p])
				} else {
					v, err = asFloat(r.Values[p])
				}
				if err != nil {
					return nil, nil, drift(src, "%s: %v", p, err)
				}
				cells = append(cells, v)
			}
		}
		if e.Opts.FeatureBlocks {
			if feats == nil {
				for range e.Partition.Names() {
					cells = append(cells, nil)
				}
			} else {
				blocks, err := e.Partition.Split(feats)
				if err != nil {
					return nil, nil, err
				}
				for _, b := range blocks {
					cells = append(cells, b)
				}
			}
		}
		if e.expand() {
			emb, _ := values[algo.FastRP].([]float64)
			if emb != nil && len(emb) != e.EmbeddingDim {
				return nil, nil, drift(src, "%s: length %d, want %d", algo.FastRP, len(emb), e.EmbeddingDim)
			}
			for i := 0; i < e.EmbeddingDim; i++ {
				if emb == nil {
					cells = append(cells, nil)
				} else {
					cells = append(cells, emb[i])
				}
			}
		}

		if err := frame.Append(cells...); err != nil {
			return nil, nil, drift(src, "%v", err)
		}
	}
	return frame, edgeKeys, nil
}

func coerceStep(k algo.Kind, v any) (any, error) {
	switch k {
	case algo.Integer:
		return asInt(v)
	case algo.IntegerList:
		xs, err := asInts(v)
		if err != nil || xs == nil {
			return nil, err
		}
		return xs, nil
	case algo.Vector:
		xs, err := asFloats(v)
		if err != nil || xs == nil {
			return nil, err
		}
		return xs, nil
	default:
		return asFloat(v)
	}
}

func (e *Exporter) edgeFrame(rels []gds.RelRow, keys map[int64]string, meta Meta) (*Frame, error) {
	frame := NewFrame(e.EdgeFields()...)
	mc := meta.Cells()
	for _, r := range rels {
		src, okS := keys[r.Source]
		dst, okT := keys[r.Target]
		if !okS || !okT {
			return nil, drift("relationship stream", "relationship %d->%d references a node outside the stream", r.Source, r.Target)
		}
		cells := append([]any{src, dst, r.Type}, mc...)
		if err := frame.Append(cells...); err != nil {
			return nil, drift("relationship stream", "%v", err)
		}
	}
	return frame, nil
}
