package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/WessleyAI/rollwin/engine/algo"
	"github.com/WessleyAI/rollwin/engine/gds"
	"github.com/WessleyAI/rollwin/engine/linkpred"
	"github.com/WessleyAI/rollwin/engine/manifest"
	"github.com/WessleyAI/rollwin/engine/progress"
	"github.com/WessleyAI/rollwin/engine/snapshot"
	"github.com/WessleyAI/rollwin/engine/window"
	"github.com/WessleyAI/rollwin/engine/windowgraph"
	"github.com/WessleyAI/rollwin/pkg/fn"
	"github.com/WessleyAI/rollwin/pkg/resilience"
)

// Outcome is how the processing of one window ended.
type Outcome int

const (
	Done Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	return string(o.Status())
}

// Status maps o to its manifest status.
func (o Outcome) Status() manifest.Status {
	switch o {
	case Done:
		return manifest.StatusDone
	case Skipped:
		return manifest.StatusSkipped
	default:
		return manifest.StatusFailed
	}
}

// WindowResult is what processing one window returns to the run loop.
type WindowResult struct {
	Outcome     Outcome
	Window      window.Window
	Nodes       int64
	Edges       int64
	Predictions int64
	// Predicted counts relationships written back to the graph.
	Predicted int64
	Attempts  int
	Duration  time.Duration
	Files     []string
	Err       error
}

// work is the state one attempt builds up.
type work struct {
	eng      gds.Engine
	view     *windowgraph.View
	meta     snapshot.Meta
	produced algo.Produced
	snap     *snapshot.Snapshot
	lp       *linkpred.Result
	preds    *snapshot.Frame
}

func (r *Runner) process(ctx context.Context, ctrl *resilience.Controller[gds.Engine], w window.Window) WindowResult {
	start := time.Now()
	res := WindowResult{Window: w}
	id := w.ID()
	if ex, ok := r.tracker.Check(w); ok {
		r.log.Info("window skipped, outputs exist", "window", id)
		res.Outcome = Skipped
		res.Nodes, res.Edges, res.Predictions = ex.Nodes, ex.Edges, ex.Predictions
		res.Duration = time.Since(start)
		return res
	}

	r.current, r.attempt = id, 0
	r.deps.Metrics.Current(w.Start)
	var wk *work
	err := ctrl.Do(ctx, func(ctx context.Context, eng gds.Engine) error {
		r.emit(ctx, progress.Event{Stage: progress.StageAttempt, Window: id, Attempt: r.attempt})
		out, err := r.compute(ctx, eng, w)
		if err != nil {
			return err
		}
		wk = out
		return nil
	})
	res.Attempts = r.attempt
	if err == nil {
		res.Files, err = r.write(wk)
	}
	res.Duration = time.Since(start)
	if err != nil {
		res.Outcome, res.Err = Failed, err
		return res
	}

	res.Outcome = Done
	res.Nodes = int64(wk.snap.Nodes.Len())
	if wk.snap.Edges != nil {
		res.Edges = int64(wk.snap.Edges.Len())
	}
	if wk.preds != nil {
		res.Predictions = int64(wk.preds.Len())
	}
	if wk.lp != nil {
		res.Predicted = wk.lp.Written
	}
	r.log.Info("window done", "window", id, "nodes", res.Nodes, "edges", res.Edges,
		"predictions", res.Predictions, "attempts", res.Attempts, "duration", res.Duration)
	r.sideOutputs(ctx, wk, res.Files)
	return res
}

// compute runs filter, algorithms, export and link prediction for w on eng.
// The window views are gone when it returns.
func (r *Runner) compute(ctx context.Context, eng gds.Engine, w window.Window) (*work, error) {
	wk := &work{eng: eng, meta: snapshot.Meta{Window: w, ParamsHash: r.short}}
	filterStart := time.Now()
	err := windowgraph.With(ctx, eng, r.view, w, func(ctx context.Context, v *windowgraph.View) error {
		r.deps.Metrics.Stage("filter", time.Since(filterStart))
		wk.view = v
		run := fn.Pipeline(
			r.stage(w, "algorithms", r.runAlgorithms),
			r.stage(w, "export", r.export),
			r.stage(w, "linkpred", r.predict),
		)
		return run(ctx, wk).Error()
	})
	if err != nil {
		return nil, err
	}
	return wk, nil
}

func (r *Runner) stage(w window.Window, name string, f func(context.Context, *work) error) fn.Stage[*work, *work] {
	timed := fn.Step(func(ctx context.Context, wk *work) error {
		start := time.Now()
		err := f(ctx, wk)
		r.deps.Metrics.Stage(name, time.Since(start))
		return err
	})
	return fn.Traced("window."+name, timed,
		attribute.String("window.id", w.ID()),
		attribute.Int("window.attempt", r.attempt),
	)
}

func (r *Runner) runAlgorithms(ctx context.Context, wk *work) error {
	produced, err := r.algos.Run(ctx, wk.eng, wk.view.Name, wk.view.Final.NodeCount)
	wk.produced = produced
	return err
}

func (r *Runner) export(ctx context.Context, wk *work) error {
	snap, err := r.exporter.Export(ctx, wk.eng, wk.view.Name, wk.view.Final.NodeCount, wk.produced, wk.meta)
	wk.snap = snap
	return err
}

func (r *Runner) predict(ctx context.Context, wk *work) error {
	if r.linkpred == nil {
		return nil
	}
	res, err := r.linkpred.Run(ctx, r.deps.LinkStore(wk.eng), wk.meta.Window, wk.snap.Nodes)
	if err != nil {
		return err
	}
	wk.lp = res
	r.deps.Metrics.Predictions(res.Written)
	wk.preds, err = linkpred.Frame(res, r.cfg.EdgeIDProperty, wk.meta)
	return err
}

// write stores every output of the window or none of them.
func (r *Runner) write(wk *work) ([]string, error) {
	id := wk.meta.Window.ID()
	meta := map[string]string{snapshot.ColParamsHash: r.short}
	outs := []snapshot.Output{{Path: r.layout.Nodes(id), Frame: wk.snap.Nodes, Meta: meta}}
	kinds := []string{manifest.KindNodes}
	if r.cfg.Export.Edges && wk.snap.Edges != nil {
		outs = append(outs, snapshot.Output{Path: r.layout.Edges(id), Frame: wk.snap.Edges, Meta: meta})
		kinds = append(kinds, manifest.KindEdges)
	}
	if r.linkpred != nil {
		if wk.preds == nil {
			wk.preds = snapshot.NewFrame(linkpred.PredictionFields(r.cfg.EdgeIDProperty)...)
		}
		outs = append(outs, snapshot.Output{Path: r.layout.Predictions(id), Frame: wk.preds, Meta: meta})
		kinds = append(kinds, manifest.KindPredictions)
	}
	if err := snapshot.WriteAll(outs...); err != nil {
		return nil, err
	}
	files := make([]string, len(outs))
	for i, o := range outs {
		files[i] = o.Path
		r.deps.Metrics.Rows(kinds[i], o.Frame.Len())
	}
	return files, nil
}

// sideOutputs feeds the optional sinks. Their failures are logged and never
// fail the window.
func (r *Runner) sideOutputs(ctx context.Context, wk *work, files []string) {
	if r.deps.Embeddings != nil {
		n, err := r.deps.Embeddings.WriteWindow(ctx, wk.meta, wk.snap.Nodes)
		if err != nil {
			r.log.Warn("embedding sink", "window", wk.meta.Window.ID(), "error", err)
		} else if n > 0 {
			r.log.Debug("embeddings stored", "window", wk.meta.Window.ID(), "points", n)
		}
	}
	r.mirror(ctx, files...)
}
