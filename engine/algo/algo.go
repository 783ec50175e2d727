// Package algo runs the configured graph algorithms against a window graph
// in a fixed order, each writing one node property.
package algo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/rollwin/engine/config"
	"github.com/WessleyAI/rollwin/engine/domain"
	"github.com/WessleyAI/rollwin/engine/gds"
)

// Kind is the value type an algorithm writes.
type Kind int

const (
	Scalar Kind = iota
	Integer
	IntegerList
	Vector
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Integer:
		return "integer"
	case IntegerList:
		return "integer_list"
	case Vector:
		return "vector"
	default:
		return "unknown"
	}
}

// Output property names.
const (
	PageRank    = "page_rank"
	InDegree    = "in_degree"
	OutDegree   = "out_degree"
	Betweenness = "betweenness"
	Closeness   = "closeness"
	Eigenvector = "eigenvector"
	WCC         = "wcc"
	Louvain     = "community_louvain"
	FastRP      = "fastrp_embedding"
	HashGNN     = "hash_gnn_embedding"
	Node2Vec    = "node2vec_embedding"
)

// Step is one algorithm call.
type Step struct {
	Property  string
	Procedure string
	Kind      Kind
	Config    map[string]any
}

// Call returns the mutate call for graph.
func (s Step) Call(graph string) gds.MutateCall {
	cfg := make(map[string]any, len(s.Config)+1)
	for k, v := range s.Config {
		cfg[k] = v
	}
	cfg["mutateProperty"] = s.Property
	return gds.MutateCall{Procedure: s.Procedure, Graph: graph, Config: cfg}
}

// Plan returns the enabled steps in run order.
func Plan(c config.AlgorithmsConfig) []Step {
	var steps []Step
	add := func(on bool, s Step) {
		if on {
			steps = append(steps, s)
		}
	}
	weight := c.WeightProperty

	add(c.PageRank.Enabled, Step{PageRank, "gds.pageRank.mutate", Scalar, map[string]any{
		"maxIterations":              c.PageRank.MaxIterations,
		"dampingFactor":              c.PageRank.Damping,
		"relationshipWeightProperty": weight,
	}})
	add(c.InDegree.Enabled, Step{InDegree, "gds.degree.mutate", Scalar, map[string]any{
		"orientation":                "REVERSE",
		"relationshipWeightProperty": weight,
	}})
	add(c.OutDegree.Enabled, Step{OutDegree, "gds.degree.mutate", Scalar, map[string]any{
		"orientation":                "NATURAL",
		"relationshipWeightProperty": weight,
	}})
	add(c.Betweenness.Enabled, Step{Betweenness, "gds.betweenness.mutate", Scalar, map[string]any{}})
	add(c.Closeness.Enabled, Step{Closeness, "gds.closeness.mutate", Scalar, map[string]any{}})
	add(c.Eigenvector.Enabled, Step{Eigenvector, "gds.eigenvector.mutate", Scalar, map[string]any{
		"maxIterations":              c.Eigenvector.MaxIterations,
		"relationshipWeightProperty": weight,
	}})
	add(c.WCC.Enabled, Step{WCC, "gds.wcc.mutate", Integer, map[string]any{}})

	louvainKind := Integer
	if c.Louvain.IncludeIntermediateCommunities {
		louvainKind = IntegerList
	}
	add(c.Louvain.Enabled, Step{Louvain, "gds.louvain.mutate", louvainKind, map[string]any{
		"maxIterations":                  c.Louvain.MaxIterations,
		"includeIntermediateCommunities": c.Louvain.IncludeIntermediateCommunities,
		"relationshipWeightProperty":     weight,
	}})
	add(c.FastRP.Enabled, Step{FastRP, "gds.fastRP.mutate", Vector, map[string]any{
		"embeddingDimension":         c.FastRP.Dimension,
		"iterationWeights":           c.FastRP.IterationWeights,
		"nodeSelfInfluence":          c.FastRP.NodeSelfInfluence,
		"randomSeed":                 c.FastRP.Seed,
		"relationshipWeightProperty": weight,
	}})
	add(c.HashGNN.Enabled, Step{HashGNN, "gds.hashgnn.mutate", Vector, map[string]any{
		"featureProperties": c.HashGNN.FeatureProperties,
		"iterations":        c.HashGNN.Iterations,
		"outputDimension":   c.HashGNN.OutputDimension,
		"embeddingDensity":  c.HashGNN.EmbeddingDensity,
		"binarizeFeatures": map[string]any{
			"dimension": c.HashGNN.BinarizeDimension,
			"threshold": c.HashGNN.BinarizeThreshold,
		},
		"heterogeneous": true,
		"randomSeed":    c.HashGNN.Seed,
	}})
	add(c.Node2Vec.Enabled, Step{Node2Vec, "gds.node2vec.mutate", Vector, map[string]any{
		"embeddingDimension":         c.Node2Vec.Dimension,
		"iterations":                 c.Node2Vec.Iterations,
		"randomSeed":                 c.Node2Vec.Seed,
		"relationshipWeightProperty": weight,
	}})
	return steps
}

// Runner issues the steps.
type Runner struct {
	Steps  []Step
	Logger *slog.Logger
	// Observe, when set, receives each call's duration.
	Observe func(property string, d time.Duration)
}

// NewRunner plans the enabled algorithms of c.
func NewRunner(c config.AlgorithmsConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Steps: Plan(c), Logger: logger}
}

// Produced is the ordered list of properties a run wrote.
type Produced []Step

// Properties returns the property names.
func (p Produced) Properties() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = s.Property
	}
	return out
}

// Run mutates graph with every step in order and returns what was written.
// An empty graph produces nothing and makes no calls. The first failing
// call aborts the run with an AlgorithmFailure.
func (r *Runner) Run(ctx context.Context, eng gds.Engine, graph string, nodeCount int64) (Produced, error) {
	if nodeCount == 0 {
		return nil, nil
	}
	produced := make(Produced, 0, len(r.Steps))
	for _, s := range r.Steps {
		if err := ctx.Err(); err != nil {
			return produced, err
		}
		start := time.Now()
		written, err := eng.Mutate(ctx, s.Call(graph))
		if r.Observe != nil {
			r.Observe(s.Property, time.Since(start))
		}
		if err != nil {
			return produced, &domain.AlgorithmFailure{
				Algorithm: s.Property,
				Graph:     graph,
				Wrapped:   fmt.Errorf("%s: %w", s.Procedure, err),
			}
		}
		r.Logger.Debug("algorithm done", "graph", graph, "property", s.Property,
			"written", written, "duration", time.Since(start))
		produced = append(produced, s)
	}
	return produced, nil
}
