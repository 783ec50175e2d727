// Package manifest decides which windows can be skipped because their
// outputs already exist, and records one row per window for the run.
package manifest

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/WessleyAI/rollwin/engine/domain"
	"github.com/WessleyAI/rollwin/engine/snapshot"
	"github.com/WessleyAI/rollwin/engine/window"
)

// Status is how a window ended.
type Status string

const (
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Row is one manifest entry.
type Row struct {
	Window          window.Window
	NodeCount       int64
	EdgeCount       int64
	PredictionCount int64
	SkippedExisting bool
	Status          Status
	Attempts        int
	Duration        time.Duration
	Err             error
}

// Output kinds.
const (
	KindNodes       = "nodes"
	KindEdges       = "edges"
	KindPredictions = "predictions"
)

// Expected is one output file a finished window must have.
type Expected struct {
	Kind    string
	Path    func(windowID string) string
	Columns []string
}

// Tracker holds the run's manifest rows until Flush.
type Tracker struct {
	Layout         snapshot.Layout
	Fingerprint    string
	ShortHash      string
	RunID          string
	RelTypes       []string
	IncludeImputed bool
	Algorithms     []string
	SkipExisting   bool
	Expect         []Expected
	Logger         *slog.Logger

	mu   sync.Mutex
	rows []Row
}

// Existing is what Check found on disk for a window.
type Existing struct {
	Nodes, Edges, Predictions int64
}

// Check reports whether every expected output of w already exists with the
// full column set and was written under the same parameters. A file with
// missing columns is schema drift and a file with another params hash is
// stale: both are logged and the window is recomputed.
func (t *Tracker) Check(w window.Window) (Existing, bool) {
	var ex Existing
	if !t.SkipExisting {
		return ex, false
	}
	id := w.ID()
	for _, e := range t.Expect {
		path := e.Path(id)
		if !snapshot.Exists(path) {
			return ex, false
		}
		info, err := snapshot.Stat(path)
		if err != nil {
			t.logger().Warn("unreadable output, recomputing", "window", id, "file", path, "error", err)
			return ex, false
		}
		if missing := missingColumns(info.Columns, e.Columns); len(missing) > 0 {
			drift := &domain.SchemaDriftError{Source: path, Missing: missing, Detail: "existing output lacks columns"}
			t.logger().Warn("schema drift, recomputing", "window", id, "error", drift)
			return ex, false
		}
		if got := storedHash(path, info); got != t.ShortHash {
			t.logger().Warn("parameters changed, recomputing", "window", id, "file", path,
				"file_hash", got, "params_hash", t.ShortHash)
			return ex, false
		}
		switch e.Kind {
		case KindNodes:
			ex.Nodes = info.Rows
		case KindEdges:
			ex.Edges = info.Rows
		case KindPredictions:
			ex.Predictions = info.Rows
		}
	}
	return ex, true
}

// storedHash returns the params hash a file was written under: the footer
// metadata, else the params_hash cell of its first row. Empty when neither
// is present.
func storedHash(path string, info snapshot.Info) string {
	if h, ok := info.Meta[snapshot.ColParamsHash]; ok {
		return h
	}
	if info.Rows == 0 || !slices.Contains(info.Columns, snapshot.ColParamsHash) {
		return ""
	}
	f, err := snapshot.Read(path)
	if err != nil {
		return ""
	}
	h, _ := f.Value(0, snapshot.ColParamsHash).(string)
	return h
}

func missingColumns(have, want []string) []string {
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	var missing []string
	for _, c := range want {
		if !set[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// Record appends a row.
func (t *Tracker) Record(r Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, r)
}

// Rows returns a copy of the recorded rows.
func (t *Tracker) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Row(nil), t.rows...)
}

// Path is where Flush writes.
func (t *Tracker) Path() string { return t.Layout.Manifest(t.ShortHash) }

func (t *Tracker) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

// Columns of the manifest file.
const (
	ColNodeCount       = "node_count"
	ColEdgeCount       = "edge_count"
	ColPredictionCount = "prediction_count"
	ColRelTypes        = "rel_types"
	ColIncludeImputed  = "include_imputed"
	ColAlgorithms      = "algorithms"
	ColFingerprint     = "fingerprint"
	ColSkippedExisting = "skipped_existing"
	ColStatus          = "status"
	ColRunID           = "run_id"
	ColAttempts        = "attempts"
	ColDurationMS      = "duration_ms"
	ColError           = "error"
)

// Frame renders the recorded rows.
func (t *Tracker) Frame() (*snapshot.Frame, error) {
	f := snapshot.NewFrame(
		snapshot.Field{Name: snapshot.ColWindowID, Kind: snapshot.String},
		snapshot.Field{Name: snapshot.ColWindowStart, Kind: snapshot.Int64},
		snapshot.Field{Name: snapshot.ColWindowEnd, Kind: snapshot.Int64},
		snapshot.Field{Name: snapshot.ColStartYear, Kind: snapshot.Int64},
		snapshot.Field{Name: snapshot.ColEndYear, Kind: snapshot.Int64},
		snapshot.Field{Name: snapshot.ColGranularity, Kind: snapshot.String},
		snapshot.Field{Name: ColNodeCount, Kind: snapshot.Int64},
		snapshot.Field{Name: ColEdgeCount, Kind: snapshot.Int64},
		snapshot.Field{Name: ColPredictionCount, Kind: snapshot.Int64},
		snapshot.Field{Name: ColRelTypes, Kind: snapshot.StringList},
		snapshot.Field{Name: ColIncludeImputed, Kind: snapshot.Bool},
		snapshot.Field{Name: ColAlgorithms, Kind: snapshot.StringList},
		snapshot.Field{Name: snapshot.ColParamsHash, Kind: snapshot.String},
		snapshot.Field{Name: ColFingerprint, Kind: snapshot.String},
		snapshot.Field{Name: ColSkippedExisting, Kind: snapshot.Bool},
		snapshot.Field{Name: ColStatus, Kind: snapshot.String},
		snapshot.Field{Name: ColRunID, Kind: snapshot.String},
		snapshot.Field{Name: ColAttempts, Kind: snapshot.Int64},
		snapshot.Field{Name: ColDurationMS, Kind: snapshot.Int64},
		snapshot.Field{Name: ColError, Kind: snapshot.String},
	)
	for _, r := range t.Rows() {
		w := r.Window
		var msg any
		if r.Err != nil {
			msg = r.Err.Error()
		}
		err := f.Append(
			w.ID(), w.Start, w.End, int64(w.StartYear()), int64(w.EndYearInclusive()), w.Granularity.String(),
			r.NodeCount, r.EdgeCount, r.PredictionCount,
			append([]string(nil), t.RelTypes...), t.IncludeImputed, append([]string(nil), t.Algorithms...),
			t.ShortHash, t.Fingerprint,
			r.SkippedExisting, string(r.Status), t.RunID,
			int64(r.Attempts), r.Duration.Milliseconds(), msg,
		)
		if err != nil {
			return nil, fmt.Errorf("manifest: row %s: %w", w.ID(), err)
		}
	}
	return f, nil
}

// Flush writes the manifest file, replacing any earlier one of the same
// configuration.
func (t *Tracker) Flush() error {
	f, err := t.Frame()
	if err != nil {
		return err
	}
	if err := snapshot.WriteAll(snapshot.Output{
		Path:  t.Path(),
		Frame: f,
		Meta:  map[string]string{snapshot.ColParamsHash: t.ShortHash, ColFingerprint: t.Fingerprint},
	}); err != nil {
		return fmt.Errorf("manifest: flush: %w", err)
	}
	t.logger().Info("manifest written", "path", t.Path(), "rows", f.Len())
	return nil
}

// ErrNoManifest is returned by Load when the run has no manifest yet.
var ErrNoManifest = errors.New("manifest: not found")

// Load reads a manifest file back.
func Load(path string) (*snapshot.Frame, error) {
	if !snapshot.Exists(path) {
		return nil, ErrNoManifest
	}
	return snapshot.Read(path)
}
