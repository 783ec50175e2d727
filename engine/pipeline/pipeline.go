// Package pipeline drives a run: it plans the windows, skips those whose
// outputs already exist, computes the rest one at a time under the retry
// controller and records every outcome in the manifest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/rollwin/engine/algo"
	"github.com/WessleyAI/rollwin/engine/basegraph"
	"github.com/WessleyAI/rollwin/engine/config"
	"github.com/WessleyAI/rollwin/engine/domain"
	"github.com/WessleyAI/rollwin/engine/gds"
	"github.com/WessleyAI/rollwin/engine/linkpred"
	"github.com/WessleyAI/rollwin/engine/manifest"
	"github.com/WessleyAI/rollwin/engine/progress"
	"github.com/WessleyAI/rollwin/engine/snapshot"
	"github.com/WessleyAI/rollwin/engine/window"
	"github.com/WessleyAI/rollwin/engine/windowgraph"
	"github.com/WessleyAI/rollwin/pkg/metrics"
	"github.com/WessleyAI/rollwin/pkg/resilience"
)

// EmbeddingSink receives the node frame of every computed window.
type EmbeddingSink interface {
	WriteWindow(ctx context.Context, meta snapshot.Meta, nodes *snapshot.Frame) (int, error)
}

// Mirror copies written files elsewhere.
type Mirror interface {
	Upload(ctx context.Context, files ...string) error
}

// Deps are the collaborators of a run. Only Connect is required; nil
// side outputs are disabled.
type Deps struct {
	Connect    resilience.Connector[gds.Engine]
	Logger     *slog.Logger
	Metrics    *metrics.Pipeline
	Progress   progress.Sink
	Embeddings EmbeddingSink
	Mirror     Mirror
	// LinkStore opens the link-prediction store on a connection. Defaults
	// to a Cypher store.
	LinkStore func(gds.Engine) linkpred.Store
	// Sleep replaces the backoff timer.
	Sleep func(context.Context, time.Duration) error
	RunID string
}

// Connector returns a Connect function for the engine settings of cfg.
func Connector(cfg *config.Config, logger *slog.Logger) resilience.Connector[gds.Engine] {
	e := cfg.Engine
	return func(ctx context.Context) (gds.Engine, error) {
		c, err := gds.Connect(ctx, gds.Conn{
			URI:                          e.URI,
			User:                         e.User,
			Password:                     e.Password,
			Database:                     e.Database,
			MaxConnectionLifetime:        e.MaxConnectionLifetime,
			MaxConnectionPoolSize:        e.MaxConnectionPoolSize,
			ConnectionAcquisitionTimeout: e.ConnectionAcquisitionTimeout,
			CallsPerSecond:               e.CallsPerSecond,
			Logger:                       logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// PlanWindows returns the windows cfg describes.
func PlanWindows(cfg *config.Config) ([]window.Window, error) {
	g, err := window.ParseGranularity(cfg.Window.Granularity)
	if err != nil {
		return nil, err
	}
	return window.Plan(window.Spec{
		StartYear:     cfg.Window.StartYear,
		LastStartYear: cfg.Window.EndStartYear,
		Size:          cfg.Window.Size,
		Step:          cfg.Window.Step,
		Granularity:   g,
	})
}

// Runner executes one run.
type Runner struct {
	cfg         *config.Config
	deps        Deps
	log         *slog.Logger
	windows     []window.Window
	fingerprint string
	short       string
	runID       string

	base     *basegraph.Manager
	view     windowgraph.Spec
	algos    *algo.Runner
	exporter *snapshot.Exporter
	linkpred *linkpred.Workflow
	tracker  *manifest.Tracker
	layout   snapshot.Layout

	// attempt is the controller's attempt number for the current window.
	attempt int
	current string
}

// New validates cfg and prepares a run. Every configuration problem is
// reported here, before any remote call.
func New(cfg *config.Config, deps Deps) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Connect == nil {
		return nil, errors.New("pipeline: no engine connector")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	windows, err := PlanWindows(cfg)
	if err != nil {
		return nil, err
	}
	fp, err := cfg.Fingerprint()
	if err != nil {
		return nil, err
	}
	exporter, err := snapshot.NewExporter(cfg, log)
	if err != nil {
		return nil, err
	}
	if deps.RunID == "" {
		deps.RunID = uuid.NewString()
	}
	if deps.Progress == nil {
		deps.Progress = progress.LogSink{Logger: log}
	}
	if deps.LinkStore == nil {
		lp := cfg.LinkPrediction
		deps.LinkStore = func(eng gds.Engine) linkpred.Store {
			return linkpred.NewCypherStore(eng, linkpred.StoreConfig{
				IDProperty:      cfg.EdgeIDProperty,
				PersonLabel:     lp.PersonLabel,
				SimilarRelType:  lp.SimilarRelType,
				TargetRelType:   cfg.ImputedRelType,
				BatchSize:       lp.BatchSize,
				WritesPerSecond: lp.WritesPerSecond,
			})
		}
	}

	r := &Runner{
		cfg:         cfg,
		deps:        deps,
		log:         log,
		windows:     windows,
		fingerprint: fp,
		short:       config.ShortHash(fp),
		runID:       deps.RunID,
		base:        basegraph.New(basegraph.SpecFor(cfg), log),
		view: windowgraph.Spec{
			BaseGraph:      cfg.BaseGraphName,
			NodeLabels:     cfg.NodeLabels,
			RelTypes:       cfg.RelTypes,
			ImputedRelType: cfg.ImputedRelType,
			IncludeImputed: cfg.IncludeImputed,
			AlwaysRetain:   cfg.AlwaysRetainLabels,
			Logger:         log,
		},
		algos:    algo.NewRunner(cfg.Algorithms, log),
		exporter: exporter,
		layout:   snapshot.Layout{Dir: cfg.RunDir()},
	}
	r.algos.Observe = deps.Metrics.Algorithm
	if cfg.LinkPrediction.Enabled {
		r.linkpred = linkpred.New(cfg.LinkPrediction, r.runID, log)
		r.linkpred.Observe = func(_, variant string, m linkpred.Metrics) {
			deps.Metrics.VariantAUC(variant, m.AUC)
		}
	}
	r.tracker = &manifest.Tracker{
		Layout:         r.layout,
		Fingerprint:    fp,
		ShortHash:      r.short,
		RunID:          r.runID,
		RelTypes:       cfg.RelTypes,
		IncludeImputed: cfg.IncludeImputed,
		Algorithms:     algo.Produced(r.algos.Steps).Properties(),
		SkipExisting:   cfg.SkipExisting,
		Expect:         r.expected(),
		Logger:         log,
	}
	return r, nil
}

func (r *Runner) expected() []manifest.Expected {
	out := []manifest.Expected{{
		Kind: manifest.KindNodes, Path: r.layout.Nodes, Columns: r.exporter.NodeColumns(),
	}}
	if r.cfg.Export.Edges {
		out = append(out, manifest.Expected{
			Kind: manifest.KindEdges, Path: r.layout.Edges, Columns: r.exporter.EdgeColumns(),
		})
	}
	if r.linkpred != nil {
		out = append(out, manifest.Expected{
			Kind: manifest.KindPredictions, Path: r.layout.Predictions,
			Columns: linkpred.PredictionColumns(r.cfg.EdgeIDProperty),
		})
	}
	return out
}

// Windows returns the planned windows.
func (r *Runner) Windows() []window.Window { return r.windows }

// Fingerprint returns the configuration fingerprint.
func (r *Runner) Fingerprint() string { return r.fingerprint }

// RunID returns the id recorded in the manifest and on predicted edges.
func (r *Runner) RunID() string { return r.runID }

// Summary is the result of a run.
type Summary struct {
	RunID       string
	Fingerprint string
	Manifest    string
	Windows     int
	Succeeded   int
	Skipped     int
	Failed      int
	Attempts    int
	Reconnects  int
	Predicted   int64
	Duration    time.Duration
}

// Run processes every window in order. It stops at the first failed window
// and returns its error; the manifest is written on every exit path.
// Cancelling ctx stops the run before the next window. The window in flight
// is finished first.
func (r *Runner) Run(ctx context.Context) (sum Summary, err error) {
	start := time.Now()
	sum = Summary{RunID: r.runID, Fingerprint: r.fingerprint, Manifest: r.tracker.Path(), Windows: len(r.windows)}

	opts := []resilience.Option[gds.Engine]{
		resilience.WithPrepare(func(ctx context.Context, eng gds.Engine) error {
			return r.base.Ensure(ctx, eng, false)
		}),
		resilience.WithClose(func(ctx context.Context, eng gds.Engine) error { return eng.Close(ctx) }),
		resilience.WithClassifier[gds.Engine](domain.Retryable),
		resilience.WithObserver[gds.Engine](r.observe),
	}
	if r.deps.Sleep != nil {
		opts = append(opts, resilience.WithSleep[gds.Engine](r.deps.Sleep))
	}
	ctrl := resilience.New(resilience.Opts{MaxRetries: r.cfg.MaxRetries, BackoffBase: r.cfg.RetryBackoff}, r.deps.Connect, opts...)

	defer func() {
		bg := context.WithoutCancel(ctx)
		if cerr := ctrl.Close(bg); cerr != nil {
			r.log.Warn("close engine connection", "error", cerr)
		}
		if ferr := r.tracker.Flush(); ferr != nil {
			err = errors.Join(err, ferr)
		} else {
			r.mirror(bg, r.tracker.Path())
		}
		sum.Reconnects = ctrl.Reconnects()
		sum.Duration = time.Since(start)
		r.emit(bg, progress.Event{
			Stage: progress.StageSummary, Total: sum.Windows,
			Succeeded: sum.Succeeded, Skipped: sum.Skipped, Failed: sum.Failed,
			Predicted: sum.Predicted, ElapsedMS: sum.Duration.Milliseconds(), Error: errString(err),
		})
	}()

	r.emit(ctx, progress.Event{Stage: progress.StageStart, Total: len(r.windows)})
	for i, w := range r.windows {
		if err := ctx.Err(); err != nil {
			r.log.Warn("run cancelled", "next_window", w.ID(), "error", err)
			return sum, err
		}
		res := r.process(context.WithoutCancel(ctx), ctrl, w)
		r.record(ctx, i, res)
		sum.Attempts += res.Attempts
		sum.Predicted += res.Predicted
		switch res.Outcome {
		case Done:
			sum.Succeeded++
		case Skipped:
			sum.Skipped++
		case Failed:
			sum.Failed++
			return sum, fmt.Errorf("pipeline: window %s: %w", w.ID(), res.Err)
		}
	}
	return sum, nil
}

func (r *Runner) observe(t resilience.Transition) {
	log := r.log.With("window", r.current, "attempt", t.Attempt)
	switch t.To {
	case resilience.StateAttempting:
		r.attempt = t.Attempt
		r.deps.Metrics.Attempt()
		if t.Attempt > 1 {
			r.deps.Metrics.Reconnect()
		}
	case resilience.StateBackoff:
		kind := domain.KindOf(t.Err).String()
		r.deps.Metrics.Retry(kind)
		log.Warn("window attempt failed, retrying", "kind", kind, "wait", t.Wait, "error", t.Err)
		r.emit(context.Background(), progress.Event{
			Stage: progress.StageRetry, Window: r.current, Attempt: t.Attempt, Error: errString(t.Err),
		})
	case resilience.StateFatal:
		log.Error("window failed", "error", t.Err)
	}
}

func (r *Runner) emit(ctx context.Context, e progress.Event) {
	e.RunID = r.runID
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := r.deps.Progress.Emit(ctx, e); err != nil {
		r.log.Warn("progress sink", "stage", e.Stage, "error", err)
	}
}

func (r *Runner) record(ctx context.Context, i int, res WindowResult) {
	row := manifest.Row{
		Window:          res.Window,
		NodeCount:       res.Nodes,
		EdgeCount:       res.Edges,
		PredictionCount: res.Predictions,
		SkippedExisting: res.Outcome == Skipped,
		Status:          res.Outcome.Status(),
		Attempts:        res.Attempts,
		Duration:        res.Duration,
		Err:             res.Err,
	}
	r.tracker.Record(row)
	r.deps.Metrics.Window(res.Outcome.String())
	r.emit(ctx, progress.Event{
		Stage:     progress.StageWindow,
		Window:    res.Window.ID(),
		Index:     i + 1,
		Total:     len(r.windows),
		Outcome:   res.Outcome.String(),
		Attempt:   res.Attempts,
		Nodes:     res.Nodes,
		Edges:     res.Edges,
		Predicted: res.Predicted,
		Error:     errString(res.Err),
		ElapsedMS: res.Duration.Milliseconds(),
	})
}

func (r *Runner) mirror(ctx context.Context, files ...string) {
	if r.deps.Mirror == nil || len(files) == 0 {
		return
	}
	if err := r.deps.Mirror.Upload(ctx, files...); err != nil {
		r.log.Warn("mirror upload", "files", len(files), "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
