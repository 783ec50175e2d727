package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout names every file a run writes under its run directory.
type Layout struct {
	Dir string
}

func (l Layout) Nodes(windowID string) string {
	return filepath.Join(l.Dir, "nodes", "node_features_"+windowID+".parquet")
}

func (l Layout) Edges(windowID string) string {
	return filepath.Join(l.Dir, "edges", "edge_list_"+windowID+".parquet")
}

func (l Layout) Predictions(windowID string) string {
	return filepath.Join(l.Dir, "predictions", "predicted_edges_"+windowID+".parquet")
}

func (l Layout) Manifest(shortHash string) string {
	return filepath.Join(l.Dir, "manifest", "manifest_"+shortHash+".parquet")
}

// Output is one frame bound for one path. Meta goes into the file footer.
type Output struct {
	Path  string
	Frame *Frame
	Meta  map[string]string
}

// WriteAll writes every output or none. Each frame is encoded to a
// temporary file next to its destination and synced; only when all of
// them succeed are they renamed into place.
func WriteAll(outputs ...Output) (err error) {
	temps := make([]string, 0, len(outputs))
	defer func() {
		if err != nil {
			for _, t := range temps {
				_ = os.Remove(t)
			}
		}
	}()

	for _, o := range outputs {
		tmp, err := writeTemp(o)
		if tmp != "" {
			temps = append(temps, tmp)
		}
		if err != nil {
			return err
		}
	}
	for i, o := range outputs {
		if err := os.Rename(temps[i], o.Path); err != nil {
			return fmt.Errorf("snapshot: rename %s: %w", filepath.Base(o.Path), err)
		}
	}
	return nil
}

func writeTemp(o Output) (string, error) {
	dir := filepath.Dir(o.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(o.Path)
	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return "", err
	}
	name := strings.TrimSuffix(base, filepath.Ext(base))
	werr := o.Frame.Write(f, name, o.Meta)
	if werr == nil {
		werr = f.Sync()
	}
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return f.Name(), fmt.Errorf("snapshot: write %s: %w", base, err)
	}
	return f.Name(), nil
}

// Exists reports whether path is a regular file.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
