// Package snapshot turns the properties of a window graph into in-memory
// frames and writes them as parquet files.
package snapshot

import (
	"fmt"
	"slices"
)

// Kind is a column type.
type Kind int

const (
	Int64 Kind = iota
	Float64
	String
	Bool
	Int64List
	Float64List
	StringList
)

func (k Kind) String() string {
	switch k {
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case String:
		return "string"
	case Bool:
		return "bool"
	case Int64List:
		return "list<int64>"
	case Float64List:
		return "list<float64>"
	case StringList:
		return "list<string>"
	default:
		return "unknown"
	}
}

// IsList reports whether k is a list kind.
func (k Kind) IsList() bool { return k >= Int64List }

// Field is a named column.
type Field struct {
	Name string
	Kind Kind
}

// Frame is a table held in memory. Row cells hold int64, float64, string,
// bool, []int64, []float64, []string or nil, matching the column kind.
type Frame struct {
	Fields []Field
	Rows   [][]any
	index  map[string]int
}

// NewFrame creates an empty frame. Duplicate column names panic.
func NewFrame(fields ...Field) *Frame {
	f := &Frame{Fields: fields, index: make(map[string]int, len(fields))}
	for i, fd := range fields {
		if _, dup := f.index[fd.Name]; dup {
			panic(fmt.Sprintf("snapshot: duplicate column %q", fd.Name))
		}
		f.index[fd.Name] = i
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Rows) }

// Names returns the column names in order.
func (f *Frame) Names() []string {
	out := make([]string, len(f.Fields))
	for i, fd := range f.Fields {
		out[i] = fd.Name
	}
	return out
}

// Column returns the position of name, or -1.
func (f *Frame) Column(name string) int {
	if i, ok := f.index[name]; ok {
		return i
	}
	return -1
}

// Append adds a row after checking every cell against its column kind.
func (f *Frame) Append(row ...any) error {
	if len(row) != len(f.Fields) {
		return fmt.Errorf("snapshot: row has %d cells, frame has %d columns", len(row), len(f.Fields))
	}
	for i, v := range row {
		if !fits(f.Fields[i].Kind, v) {
			return fmt.Errorf("snapshot: column %s: %T is not %s", f.Fields[i].Name, v, f.Fields[i].Kind)
		}
	}
	f.Rows = append(f.Rows, row)
	return nil
}

// Value returns the cell of column name in row i, or nil.
func (f *Frame) Value(i int, name string) any {
	c := f.Column(name)
	if c < 0 || i < 0 || i >= len(f.Rows) {
		return nil
	}
	return f.Rows[i][c]
}

// Missing returns the names that are not columns of the frame.
func (f *Frame) Missing(names []string) []string {
	var out []string
	for _, n := range names {
		if f.Column(n) < 0 {
			out = append(out, n)
		}
	}
	return out
}

// Equal reports whether both frames hold the same columns and rows.
func (f *Frame) Equal(o *Frame) bool {
	if !slices.Equal(f.Fields, o.Fields) || len(f.Rows) != len(o.Rows) {
		return false
	}
	for i := range f.Rows {
		for j := range f.Rows[i] {
			if !cellEqual(f.Rows[i][j], o.Rows[i][j]) {
				return false
			}
		}
	}
	return true
}

func cellEqual(a, b any) bool {
	switch x := a.(type) {
	case []int64:
		y, ok := b.([]int64)
		return ok && slices.Equal(x, y)
	case []float64:
		y, ok := b.([]float64)
		return ok && slices.Equal(x, y)
	case []string:
		y, ok := b.([]string)
		return ok && slices.Equal(x, y)
	default:
		return a == b
	}
}

func fits(k Kind, v any) bool {
	if v == nil {
		return true
	}
	switch k {
	case Int64:
		_, ok := v.(int64)
		return ok
	case Float64:
		_, ok := v.(float64)
		return ok
	case String:
		_, ok := v.(string)
		return ok
	case Bool:
		_, ok := v.(bool)
		return ok
	case Int64List:
		_, ok := v.([]int64)
		return ok
	case Float64List:
		_, ok := v.([]float64)
		return ok
	case StringList:
		_, ok := v.([]string)
		return ok
	}
	return false
}
