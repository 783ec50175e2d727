package snapshot

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"slices"

	"github.com/parquet-go/parquet-go"
)

// Schema returns the parquet schema of the frame with the columns in frame
// order. Scalars are optional columns. Lists are optional LIST groups, so a
// null list and an empty one stay distinct.
func (f *Frame) Schema(name string) *parquet.Schema {
	root := columns{
		Group:  make(parquet.Group, len(f.Fields)),
		fields: make([]parquet.Field, len(f.Fields)),
	}
	for i, fd := range f.Fields {
		n := node(fd.Kind)
		root.Group[fd.Name] = n
		root.fields[i] = &column{Node: n, name: fd.Name}
	}
	return parquet.NewSchema(name, root)
}

// columns is a group whose fields keep their declared order. A plain
// parquet.Group lays them out by name.
type columns struct {
	parquet.Group
	fields []parquet.Field
}

func (c columns) Fields() []parquet.Field { return c.fields }

type column struct {
	parquet.Node
	name string
}

func (c *column) Name() string { return c.name }

func (c *column) Value(base reflect.Value) reflect.Value {
	if base.Kind() == reflect.Interface {
		if base.IsNil() {
			return reflect.ValueOf(nil)
		}
		base = base.Elem()
	}
	return base.MapIndex(reflect.ValueOf(c.name))
}

func node(k Kind) parquet.Node {
	switch k {
	case Int64:
		return parquet.Optional(parquet.Int(64))
	case Float64:
		return parquet.Optional(parquet.Leaf(parquet.DoubleType))
	case String:
		return parquet.Optional(parquet.String())
	case Bool:
		return parquet.Optional(parquet.Leaf(parquet.BooleanType))
	case Int64List:
		return parquet.Optional(parquet.List(parquet.Int(64)))
	case Float64List:
		return parquet.Optional(parquet.List(parquet.Leaf(parquet.DoubleType)))
	case StringList:
		return parquet.Optional(parquet.List(parquet.String()))
	}
	panic(fmt.Sprintf("snapshot: no parquet node for %s", k))
}

// Definition levels of a list column: null list, empty list, element.
const (
	listNull  = 0
	listEmpty = 1
	listItem  = 2
)

// lookupLeaf finds the leaf of a top-level column, descending into the
// element of a LIST group.
func lookupLeaf(schema *parquet.Schema, name string) (parquet.LeafColumn, bool) {
	if leaf, ok := schema.Lookup(name); ok {
		return leaf, true
	}
	return schema.Lookup(name, "list", "element")
}

// rows encodes the frame, placing each cell at the leaf index the schema
// assigns to its column.
func (f *Frame) rows(schema *parquet.Schema) ([]parquet.Row, error) {
	cols := make([]int, len(f.Fields))
	order := make([]int, len(f.Fields))
	for i, fd := range f.Fields {
		leaf, ok := lookupLeaf(schema, fd.Name)
		if !ok {
			return nil, fmt.Errorf("snapshot: column %s missing from schema", fd.Name)
		}
		cols[i] = leaf.ColumnIndex
		order[leaf.ColumnIndex] = i
	}

	out := make([]parquet.Row, 0, len(f.Rows))
	for _, r := range f.Rows {
		row := make(parquet.Row, 0, len(r))
		for _, i := range order {
			row = appendCell(row, f.Fields[i].Kind, r[i], cols[i])
		}
		out = append(out, row)
	}
	return out, nil
}

func appendCell(row parquet.Row, k Kind, v any, col int) parquet.Row {
	if v == nil {
		return append(row, parquet.NullValue().Level(0, listNull, col))
	}
	switch k {
	case Int64:
		return append(row, parquet.Int64Value(v.(int64)).Level(0, 1, col))
	case Float64:
		return append(row, parquet.DoubleValue(v.(float64)).Level(0, 1, col))
	case String:
		return append(row, parquet.ByteArrayValue([]byte(v.(string))).Level(0, 1, col))
	case Bool:
		return append(row, parquet.BooleanValue(v.(bool)).Level(0, 1, col))
	case Int64List:
		return appendList(row, v.([]int64), col, parquet.Int64Value)
	case Float64List:
		return appendList(row, v.([]float64), col, parquet.DoubleValue)
	case StringList:
		return appendList(row, v.([]string), col, func(s string) parquet.Value {
			return parquet.ByteArrayValue([]byte(s))
		})
	}
	return row
}

func appendList[T any](row parquet.Row, xs []T, col int, value func(T) parquet.Value) parquet.Row {
	if len(xs) == 0 {
		return append(row, parquet.NullValue().Level(0, listEmpty, col))
	}
	for j, x := range xs {
		row = append(row, value(x).Level(min(j, 1), listItem, col))
	}
	return row
}

// Write encodes the frame as parquet into w. meta is stored as footer
// key/value metadata.
func (f *Frame) Write(w io.Writer, name string, meta map[string]string) error {
	schema := f.Schema(name)
	rows, err := f.rows(schema)
	if err != nil {
		return err
	}
	opts := []parquet.WriterOption{schema, parquet.Compression(&parquet.Snappy)}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		opts = append(opts, parquet.KeyValueMetadata(k, meta[k]))
	}
	pw := parquet.NewWriter(w, opts...)
	if _, err := pw.WriteRows(rows); err != nil {
		return fmt.Errorf("snapshot: write rows: %w", err)
	}
	return pw.Close()
}

// Info is what a reader learns from a file footer.
type Info struct {
	Columns []string
	Rows    int64
	Meta    map[string]string
}

// Stat reads the column names, row count and key/value metadata of a
// parquet file without decoding any rows.
func Stat(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer file.Close()
	st, err := file.Stat()
	if err != nil {
		return Info{}, err
	}
	pf, err := parquet.OpenFile(file, st.Size())
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: open %s: %w", filepath.Base(path), err)
	}
	fields := pf.Schema().Fields()
	info := Info{Columns: make([]string, len(fields)), Rows: pf.NumRows(), Meta: map[string]string{}}
	for i, fd := range fields {
		info.Columns[i] = fd.Name()
	}
	for _, kv := range pf.Metadata().KeyValueMetadata {
		info.Meta[kv.Key] = kv.Value
	}
	return info, nil
}

// Read decodes a parquet file written by Write. Columns come back in file
// order.
func Read(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	st, err := file.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(file, st.Size())
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", filepath.Base(path), err)
	}

	schema := pf.Schema()
	var fields []Field
	byCol := map[int]int{}
	for _, fd := range schema.Fields() {
		leaf, ok := lookupLeaf(schema, fd.Name())
		if !ok {
			return nil, fmt.Errorf("snapshot: %s: nested column %s is not supported", filepath.Base(path), fd.Name())
		}
		k, err := kindOf(leaf)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %s: column %s: %w", filepath.Base(path), fd.Name(), err)
		}
		byCol[leaf.ColumnIndex] = len(fields)
		fields = append(fields, Field{Name: fd.Name(), Kind: k})
	}

	frame := NewFrame(fields...)
	buf := make([]parquet.Row, 64)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				frame.Rows = append(frame.Rows, decodeRow(row, fields, byCol))
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("snapshot: read %s: %w", filepath.Base(path), err)
			}
		}
		rows.Close()
	}
	return frame, nil
}

func kindOf(leaf parquet.LeafColumn) (Kind, error) {
	list := leaf.MaxRepetitionLevel > 0
	switch leaf.Node.Type().Kind() {
	case parquet.Int64:
		if list {
			return Int64List, nil
		}
		return Int64, nil
	case parquet.Double:
		if list {
			return Float64List, nil
		}
		return Float64, nil
	case parquet.ByteArray:
		if list {
			return StringList, nil
		}
		return String, nil
	case parquet.Boolean:
		if !list {
			return Bool, nil
		}
	}
	return 0, fmt.Errorf("unsupported type %s", leaf.Node.Type())
}

func decodeRow(row parquet.Row, fields []Field, byCol map[int]int) []any {
	out := make([]any, len(fields))
	for _, v := range row {
		i := byCol[v.Column()]
		if v.IsNull() {
			if fields[i].Kind.IsList() && v.DefinitionLevel() == listEmpty {
				out[i] = emptyList(fields[i].Kind)
			}
			continue
		}
		switch fields[i].Kind {
		case Int64:
			out[i] = v.Int64()
		case Float64:
			out[i] = v.Double()
		case String:
			out[i] = string(v.ByteArray())
		case Bool:
			out[i] = v.Boolean()
		case Int64List:
			xs, _ := out[i].([]int64)
			out[i] = append(xs, v.Int64())
		case Float64List:
			xs, _ := out[i].([]float64)
			out[i] = append(xs, v.Double())
		case StringList:
			xs, _ := out[i].([]string)
			out[i] = append(xs, string(v.ByteArray()))
		}
	}
	return out
}

func emptyList(k Kind) any {
	switch k {
	case Int64List:
		return []int64{}
	case Float64List:
		return []float64{}
	default:
		return []string{}
	}
}
