package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// --- Mock infrastructure ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (m *mockResult) Next(ctx context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return m.err }

type mockRunner struct {
	result  *mockResult
	err     error
	cyphers []string
	params  []map[string]any
	closed  int
}

func (m *mockRunner) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockRunner) Close(ctx context.Context) error { m.closed++; return nil }

func opener(r *mockRunner) Opener {
	return OpenerFunc(func(context.Context) Runner { return r })
}

func record(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

// --- Tests ---

func TestRowsCollectsRecords(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{
		record([]string{"graphName", "nodeCount"}, "base", int64(6)),
		record([]string{"graphName", "nodeCount"}, "rw_2004_3y", int64(4)),
	}}}
	rows, err := Rows(context.Background(), opener(r), "CALL gds.graph.list()", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 || rows[1]["graphName"] != "rw_2004_3y" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if r.closed != 1 {
		t.Fatalf("expected session closed once, got %d", r.closed)
	}
	if r.params[0]["x"] != 1 {
		t.Fatalf("expected params passed through, got %v", r.params[0])
	}
}

func TestRowsPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	r := &mockRunner{err: boom}
	if _, err := Rows(context.Background(), opener(r), "RETURN 1", nil); !errors.Is(err, boom) {
		t.Fatalf("expected run error, got %v", err)
	}
	if r.closed != 1 {
		t.Fatal("expected session closed on error")
	}

	late := errors.New("stream broke")
	r = &mockRunner{result: &mockResult{err: late}}
	if _, err := Rows(context.Background(), opener(r), "RETURN 1", nil); !errors.Is(err, late) {
		t.Fatalf("expected result error, got %v", err)
	}
}

func TestSingle(t *testing.T) {
	r := &mockRunner{result: &mockResult{}}
	if _, err := Single(context.Background(), opener(r), "RETURN 1", nil); !errors.Is(err, ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
	r = &mockRunner{result: &mockResult{records: []*neo4j.Record{record([]string{"exists"}, true)}}}
	row, err := Single(context.Background(), opener(r), "RETURN true AS exists", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := Bool(row, "exists"); !ok {
		t.Fatalf("expected exists=true, got %v", row)
	}
}

func TestTypedAccessors(t *testing.T) {
	row := map[string]any{
		"n":      int64(3),
		"f":      1.5,
		"s":      "x",
		"labels": []any{"Bank", "Company"},
		"m":      map[string]any{"a": 1},
	}
	if v, err := Int(row, "n"); err != nil || v != 3 {
		t.Fatalf("Int: %v %v", v, err)
	}
	if v, err := Float(row, "n"); err != nil || v != 3 {
		t.Fatalf("Float from int: %v %v", v, err)
	}
	if v, err := Float(row, "f"); err != nil || v != 1.5 {
		t.Fatalf("Float: %v %v", v, err)
	}
	if v, err := Strings(row, "labels"); err != nil || len(v) != 2 || v[1] != "Company" {
		t.Fatalf("Strings: %v %v", v, err)
	}
	if _, err := Map(row, "m"); err != nil {
		t.Fatalf("Map: %v", err)
	}

	_, err := Int(row, "s")
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Key != "s" {
		t.Fatalf("expected FieldError for s, got %v", err)
	}
	if _, err := String(row, "missing"); err == nil || err.Error() != `field "missing": missing, want string` {
		t.Fatalf("unexpected error %v", err)
	}
}
