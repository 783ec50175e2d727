package linkpred

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/WessleyAI/rollwin/engine/algo"
	"github.com/WessleyAI/rollwin/engine/snapshot"
)

// Variant is one feature combination in the horse race.
type Variant struct {
	Name      string
	Strings   bool
	Embedding bool
	Louvain   bool
	WCC       bool
	Network   bool
}

// Variants in race order. Ties on AUC go to the earlier one.
var Variants = []Variant{
	{Name: "baseline_fastrp", Embedding: true},
	{Name: "string_only", Strings: true},
	{Name: "fastrp_string", Strings: true, Embedding: true},
	{Name: "fastrp_string_louvain", Strings: true, Embedding: true, Louvain: true},
	{Name: "fastrp_string_wcc", Strings: true, Embedding: true, WCC: true},
	{Name: "fastrp_string_full", Strings: true, Embedding: true, Network: true},
}

// networkColumns feed the sum and absolute difference features of the full
// variant.
var networkColumns = []string{snapshot.ColDegree, algo.PageRank, algo.Betweenness, algo.Closeness}

// NodeTable indexes a window's node frame by entity id.
type NodeTable struct {
	embedding map[string][]float64
	louvain   map[string]int64
	wcc       map[string]int64
	network   map[string][]float64
}

// NewNodeTable reads the columns link prediction needs from nodes. Absent
// columns leave the corresponding lookups empty.
func NewNodeTable(nodes *snapshot.Frame) *NodeTable {
	t := &NodeTable{
		embedding: map[string][]float64{},
		louvain:   map[string]int64{},
		wcc:       map[string]int64{},
		network:   map[string][]float64{},
	}
	if nodes == nil {
		return t
	}
	has := func(c string) bool { return len(nodes.Missing([]string{c})) == 0 }
	for i := 0; i < nodes.Len(); i++ {
		id, _ := nodes.Value(i, snapshot.ColEntityID).(string)
		if id == "" {
			continue
		}
		if has(algo.FastRP) {
			if v, ok := nodes.Value(i, algo.FastRP).([]float64); ok && len(v) > 0 {
				t.embedding[id] = v
			}
		}
		if has(algo.Louvain) {
			switch v := nodes.Value(i, algo.Louvain).(type) {
			case []int64:
				if len(v) > 0 {
					t.louvain[id] = v[len(v)-1]
				}
			case int64:
				t.louvain[id] = v
			}
		}
		if has(algo.WCC) {
			if v, ok := nodes.Value(i, algo.WCC).(int64); ok {
				t.wcc[id] = v
			}
		}
		net := make([]float64, len(networkColumns))
		for j, c := range networkColumns {
			if has(c) {
				if v, ok := nodes.Value(i, c).(float64); ok {
					net[j] = v
				}
			}
		}
		t.network[id] = net
	}
	return t
}

// Features builds the feature row of one pair for v. ok is false when v
// needs embeddings the pair lacks.
func (t *NodeTable) Features(v Variant, p Pair) (row []float64, ok bool) {
	if v.Strings {
		row = append(row, p.LevLastName, p.LevPatronymic, p.CommonSurname)
	}
	if v.Embedding {
		a, okA := t.embedding[p.Source]
		b, okB := t.embedding[p.Target]
		if !okA || !okB || len(a) != len(b) {
			return nil, false
		}
		row = append(row, embeddingFeatures(a, b)...)
	}
	if v.Louvain {
		row = append(row, sameCommunity(t.louvain, p))
	}
	if v.WCC {
		row = append(row, sameCommunity(t.wcc, p))
	}
	if v.Network {
		a := t.networkOf(p.Source)
		b := t.networkOf(p.Target)
		for j := range networkColumns {
			row = append(row, a[j]+b[j], math.Abs(a[j]-b[j]))
		}
	}
	return row, true
}

func (t *NodeTable) networkOf(id string) []float64 {
	if v, ok := t.network[id]; ok {
		return v
	}
	return make([]float64, len(networkColumns))
}

// embeddingFeatures is the hadamard product followed by L2 distance and
// cosine similarity.
func embeddingFeatures(a, b []float64) []float64 {
	out := make([]float64, len(a), len(a)+2)
	floats.MulTo(out, a, b)
	l2 := floats.Distance(a, b, 2)
	cos := 0.0
	if denom := floats.Norm(a, 2) * floats.Norm(b, 2); denom > 0 {
		cos = floats.Dot(a, b) / denom
	}
	return append(out, l2, cos)
}

func sameCommunity(m map[string]int64, p Pair) float64 {
	a, okA := m[p.Source]
	b, okB := m[p.Target]
	if okA && okB && a == b && a != -1 {
		return 1
	}
	return 0
}

// Dataset is a labelled feature matrix for one variant. Index maps each
// row back to its pair.
type Dataset struct {
	X     [][]float64
	Y     []bool
	Index []int
}

// Build assembles a dataset for v, dropping pairs the variant cannot
// describe. labels may be nil for unlabelled candidates.
func (t *NodeTable) Build(v Variant, pairs []Pair, labels []bool) (Dataset, error) {
	if labels != nil && len(labels) != len(pairs) {
		return Dataset{}, fmt.Errorf("linkpred: %d labels for %d pairs", len(labels), len(pairs))
	}
	var ds Dataset
	for i, p := range pairs {
		row, ok := t.Features(v, p)
		if !ok {
			continue
		}
		ds.X = append(ds.X, row)
		ds.Index = append(ds.Index, i)
		if labels != nil {
			ds.Y = append(ds.Y, labels[i])
		}
	}
	return ds, nil
}
