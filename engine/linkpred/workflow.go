// Package linkpred imputes missing family ties of a window. It trains a set
// of logistic-regression variants on known ties among similar-name pairs,
// keeps the best by held-out AUC, scores the remaining pairs and writes the
// confident ones back as tagged relationships.
package linkpred

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/rollwin/engine/config"
	"github.com/WessleyAI/rollwin/engine/snapshot"
	"github.com/WessleyAI/rollwin/engine/window"
)

// SourceTag is the prediction_source of every relationship written for a
// window.
func SourceTag(windowID string) string { return "linkpred:" + windowID }

// Workflow runs link prediction for one window at a time.
type Workflow struct {
	Cfg      config.LinkPredictionConfig
	Variants []Variant
	RunID    string
	Logger   *slog.Logger
	// Observe receives the evaluation of every variant that trained.
	Observe func(windowID, variant string, m Metrics)
}

// New returns a workflow racing every variant.
func New(cfg config.LinkPredictionConfig, runID string, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{Cfg: cfg, Variants: Variants, RunID: runID, Logger: logger}
}

// VariantResult is the outcome of one variant.
type VariantResult struct {
	Variant Variant
	Metrics Metrics
	Model   *Model
	Err     error
}

// Result is what a window's link prediction produced.
type Result struct {
	WindowID    string
	Positives   int
	Negatives   int
	Candidates  int
	Skipped     string
	Best        *VariantResult
	Variants    []VariantResult
	Threshold   float64
	Predictions []Prediction
	Deleted     int64
	Written     int64
	Duration    time.Duration
}

type pairKey struct{ a, b string }

func unordered(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Run predicts ties for window w from its exported nodes and writes them
// back through store. Earlier predictions of the window are always removed
// first, so repeating a run never duplicates them.
func (wf *Workflow) Run(ctx context.Context, store Store, w window.Window, nodes *snapshot.Frame) (*Result, error) {
	start := time.Now()
	id := w.ID()
	log := wf.Logger.With("window", id)
	res := &Result{WindowID: id}

	similar, err := store.SimilarPairs(ctx, w)
	if err != nil {
		return nil, err
	}
	known, err := store.KnownEdges(ctx, w)
	if err != nil {
		return nil, err
	}

	knownSet := make(map[pairKey]bool, len(known))
	for _, e := range known {
		knownSet[unordered(e.Source, e.Target)] = true
	}
	var positives, negatives, candidates []Pair
	seen := make(map[pairKey]bool, len(similar))
	for _, p := range similar {
		k := unordered(p.Source, p.Target)
		if p.Source == p.Target || seen[k] {
			continue
		}
		seen[k] = true
		if knownSet[k] {
			positives = append(positives, p)
		} else {
			negatives = append(negatives, p)
			candidates = append(candidates, p)
		}
	}
	negatives = wf.sampleNegatives(negatives, len(positives))
	res.Positives, res.Negatives, res.Candidates = len(positives), len(negatives), len(candidates)

	switch {
	case len(positives) == 0:
		res.Skipped = "no known ties among similar pairs"
	case len(positives)+len(negatives) < wf.Cfg.MinTrainingSamples:
		res.Skipped = fmt.Sprintf("%d training samples, need %d", len(positives)+len(negatives), wf.Cfg.MinTrainingSamples)
	}

	if res.Skipped == "" {
		table := NewNodeTable(nodes)
		train := append(append([]Pair(nil), positives...), negatives...)
		labels := make([]bool, len(train))
		for i := range positives {
			labels[i] = true
		}
		res.Variants = wf.race(ctx, table, train, labels)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range res.Variants {
			v := &res.Variants[i]
			if v.Err != nil {
				log.Warn("variant failed", "variant", v.Variant.Name, "error", v.Err)
				continue
			}
			if wf.Observe != nil {
				wf.Observe(id, v.Variant.Name, v.Metrics)
			}
			if res.Best == nil || v.Metrics.AUC > res.Best.Metrics.AUC {
				res.Best = v
			}
		}
		if res.Best == nil {
			log.Error("every variant failed, no predictions for window")
		} else {
			res.Threshold = wf.Cfg.Threshold
			if res.Threshold <= 0 {
				res.Threshold = res.Best.Metrics.Threshold
			}
			if res.Predictions, err = wf.score(table, res.Best, candidates, res.Threshold); err != nil {
				return nil, err
			}
			log.Info("best variant", "variant", res.Best.Variant.Name, "auc", res.Best.Metrics.AUC,
				"threshold", res.Threshold, "predictions", len(res.Predictions))
		}
	} else {
		log.Info("link prediction skipped", "reason", res.Skipped)
	}

	if res.Deleted, err = store.DeletePredictions(ctx, SourceTag(id)); err != nil {
		return nil, err
	}
	if len(res.Predictions) > 0 {
		res.Written, err = store.InsertPredictions(ctx, WriteBack{
			Source:   SourceTag(id),
			WindowID: id,
			RunID:    wf.RunID,
			Rows:     res.Predictions,
		})
		if err != nil {
			return nil, err
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}

// sampleNegatives keeps at most NegativeRatio negatives per positive,
// chosen with the configured seed and returned in their original order.
func (wf *Workflow) sampleNegatives(neg []Pair, positives int) []Pair {
	limit := int(wf.Cfg.NegativeRatio * float64(positives))
	if len(neg) <= limit {
		return neg
	}
	r := rand.New(rand.NewPCG(uint64(wf.Cfg.RandomSeed), 1))
	idx := r.Perm(len(neg))[:limit]
	sort.Ints(idx)
	return take(neg, idx)
}

func (wf *Workflow) race(ctx context.Context, table *NodeTable, train []Pair, labels []bool) []VariantResult {
	out := make([]VariantResult, len(wf.Variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, wf.Cfg.MaxParallelVariants))
	for i, v := range wf.Variants {
		out[i].Variant = v
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Model, out[i].Metrics, out[i].Err = wf.trainVariant(table, v, train, labels)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (wf *Workflow) trainVariant(table *NodeTable, v Variant, pairs []Pair, labels []bool) (*Model, Metrics, error) {
	ds, err := table.Build(v, pairs, labels)
	if err != nil {
		return nil, Metrics{}, err
	}
	if dropped := len(pairs) - len(ds.X); dropped > 0 {
		wf.Logger.Debug("rows without embeddings dropped", "variant", v.Name, "dropped", dropped)
	}
	split, err := StratifiedSplit(ds.Y, wf.Cfg.TestSplit, wf.Cfg.RandomSeed)
	if err != nil {
		return nil, Metrics{}, err
	}
	model, err := Fit(take(ds.X, split.Train), take(ds.Y, split.Train), wf.Cfg.L2)
	if err != nil {
		return nil, Metrics{}, err
	}
	testY := take(ds.Y, split.Test)
	m := Evaluate(model.Probs(take(ds.X, split.Test)), testY, wf.Cfg.FBeta)
	m.Train = len(split.Train)
	wf.Logger.Debug("variant trained", "variant", v.Name, "auc", m.AUC, "accuracy", m.Accuracy,
		"precision", m.Precision, "recall", m.Recall, "f1", m.F1)
	return model, m, nil
}

func (wf *Workflow) score(table *NodeTable, best *VariantResult, candidates []Pair, threshold float64) ([]Prediction, error) {
	ds, err := table.Build(best.Variant, candidates, nil)
	if err != nil {
		return nil, err
	}
	var out []Prediction
	for i, row := range ds.X {
		p := best.Model.Prob(row)
		if p >= threshold {
			c := candidates[ds.Index[i]]
			out = append(out, Prediction{Source: c.Source, Target: c.Target, Probability: p, Variant: best.Variant.Name})
		}
	}
	return out, nil
}
