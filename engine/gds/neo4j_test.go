package gds

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/rollwin/engine/domain"
	"github.com/WessleyAI/rollwin/pkg/repo"
)

type stubResult struct {
	records []*neo4j.Record
	idx     int
}

func (r *stubResult) Next(context.Context) bool {
	if r.idx < len(r.records) {
		r.idx++
		return true
	}
	return false
}
func (r *stubResult) Record() *neo4j.Record { return r.records[r.idx-1] }
func (r *stubResult) Err() error            { return nil }

type call struct {
	cypher string
	params map[string]any
}

// stubSession answers every Run with the next scripted reply.
type stubSession struct {
	replies []reply
	calls   []call
}

type reply struct {
	records []*neo4j.Record
	err     error
}

func (s *stubSession) Run(_ context.Context, cypher string, params map[string]any) (repo.Result, error) {
	s.calls = append(s.calls, call{cypher, params})
	if len(s.replies) == 0 {
		return &stubResult{}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &stubResult{records: r.records}, nil
}

func (s *stubSession) Close(context.Context) error { return nil }

func newStub(replies ...reply) (*stubSession, *Client) {
	s := &stubSession{replies: replies}
	return s, NewClient(repo.OpenerFunc(func(context.Context) repo.Runner { return s }))
}

func rec(kv ...any) *neo4j.Record {
	r := &neo4j.Record{}
	for i := 0; i < len(kv); i += 2 {
		r.Keys = append(r.Keys, kv[i].(string))
		r.Values = append(r.Values, kv[i+1])
	}
	return r
}

func TestGraphExists(t *testing.T) {
	s, c := newStub(reply{records: []*neo4j.Record{rec("exists", true)}})
	ok, err := c.GraphExists(context.Background(), "base_temporal")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "base_temporal", s.calls[0].params["name"])
	assert.Contains(t, s.calls[0].cypher, "gds.graph.exists")
}

func TestGraphSchemaReadsNestedProperties(t *testing.T) {
	schema := map[string]any{
		"nodes": map[string]any{
			"Bank": map[string]any{"tStart": "Float", "tEnd": "Float"},
		},
		"relationships": map[string]any{
			"OWNERSHIP": map[string]any{
				"direction":  "DIRECTED",
				"properties": map[string]any{"weight": "Float", "tStart": "Float"},
			},
		},
	}
	_, c := newStub(reply{records: []*neo4j.Record{rec("schema", schema)}})
	got, err := c.GraphSchema(context.Background(), "base_temporal")
	require.NoError(t, err)
	assert.Equal(t, []string{"tEnd", "tStart"}, got.NodeProperties["Bank"])
	assert.Equal(t, []string{"tStart", "weight"}, got.RelProperties["OWNERSHIP"])
}

func TestProjectBuildsProjections(t *testing.T) {
	s, c := newStub(reply{records: []*neo4j.Record{rec("graphName", "g", "nodeCount", int64(6), "relationshipCount", int64(3))}})
	stats, err := c.Project(context.Background(), ProjectionSpec{
		Name:            "g",
		NodeLabels:      []string{"Bank"},
		RelTypes:        []string{"OWNERSHIP"},
		NodeProperties:  []PropertyMapping{{Name: "tStart", Default: -1e18}},
		RelProperties:   []PropertyMapping{{Name: "weight", Default: 1.0}},
		ReadConcurrency: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, GraphStats{Name: "g", NodeCount: 6, RelationshipCount: 3}, stats)

	p := s.calls[0].params
	nodes := p["nodes"].(map[string]any)["Bank"].(map[string]any)
	props := nodes["properties"].(map[string]any)["tStart"].(map[string]any)
	assert.Equal(t, -1e18, props["defaultValue"])
	rels := p["rels"].(map[string]any)["OWNERSHIP"].(map[string]any)
	assert.Equal(t, "NATURAL", rels["orientation"])
	assert.Equal(t, 4, p["readConcurrency"])
}

func TestFilterRendersPredicates(t *testing.T) {
	s, c := newStub(reply{records: []*neo4j.Record{rec("graphName", "w", "nodeCount", int64(2), "relationshipCount", int64(1))}})
	_, err := c.Filter(context.Background(), FilterSpec{
		Name:   "w",
		From:   "base",
		Nodes:  Lt(Prop("tStart"), Param("end")),
		Rels:   All(),
		Params: map[string]any{"end": int64(10)},
	})
	require.NoError(t, err)
	p := s.calls[0].params
	assert.Equal(t, "n.tStart < $end", p["nodeFilter"])
	assert.Equal(t, "*", p["relFilter"])
	assert.Equal(t, map[string]any{"end": int64(10)}, p["params"])
}

func TestMutateRejectsNonMutateProcedures(t *testing.T) {
	s, c := newStub()
	_, err := c.Mutate(context.Background(), MutateCall{Procedure: "gds.graph.drop", Graph: "g"})
	require.Error(t, err)
	_, err = c.Mutate(context.Background(), MutateCall{Procedure: "gds.pageRank.mutate; MATCH (n) DETACH DELETE n //", Graph: "g"})
	require.Error(t, err)
	assert.Empty(t, s.calls)
}

func TestMutateReturnsWritten(t *testing.T) {
	s, c := newStub(reply{records: []*neo4j.Record{rec("nodePropertiesWritten", int64(6))}})
	n, err := c.Mutate(context.Background(), MutateCall{
		Procedure: "gds.pageRank.mutate",
		Graph:     "g",
		Config:    map[string]any{"mutateProperty": "page_rank"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)
	assert.True(t, strings.HasPrefix(s.calls[0].cypher, "CALL gds.pageRank.mutate($graph, $config)"))
}

func TestStreamNodeProperties(t *testing.T) {
	_, c := newStub(reply{records: []*neo4j.Record{
		rec("nodeId", int64(0), "labels", []any{"Bank"}, "keys", []any{"B1"},
			"pairs", []any{[]any{"page_rank", 0.5}, []any{"wcc", int64(0)}}),
	}})
	rows, err := c.StreamNodeProperties(context.Background(), NodeStream{
		Graph: "g", Properties: []string{"page_rank", "wcc"}, Keys: []string{"Id"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"Bank"}, rows[0].Labels)
	assert.Equal(t, "B1", rows[0].Keys["Id"])
	assert.Equal(t, 0.5, rows[0].Values["page_rank"])
}

func TestStreamNodePropertiesShapeIsSchemaDrift(t *testing.T) {
	_, c := newStub(reply{records: []*neo4j.Record{
		rec("nodeId", int64(0), "labels", []any{"Bank"}, "keys", []any{}, "pairs", []any{}),
	}})
	_, err := c.StreamNodeProperties(context.Background(), NodeStream{Graph: "g", Keys: []string{"Id"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSchemaDrift))
}

func TestStreamRelationships(t *testing.T) {
	_, c := newStub(reply{records: []*neo4j.Record{
		rec("sourceNodeId", int64(0), "targetNodeId", int64(1), "relationshipType", "OWNERSHIP"),
	}})
	rels, err := c.StreamRelationships(context.Background(), "g")
	require.NoError(t, err)
	assert.Equal(t, []RelRow{{Source: 0, Target: 1, Type: "OWNERSHIP"}}, rels)
}

func TestCallsClassifyTransientFailures(t *testing.T) {
	_, c := newStub(reply{err: &neo4j.Neo4jError{Code: "Neo.ClientError.Procedure.ProcedureCallFailed", Msg: "Graph with name `w` does not exist on database `neo4j`."}})
	err := c.Drop(context.Background(), "w")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransient))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("x", nil))

	drift := Classify("x", &repo.FieldError{Key: "k", Want: "int", Got: "s"})
	assert.Equal(t, domain.KindSchemaDrift, domain.KindOf(drift))

	transient := Classify("x", &neo4j.Neo4jError{Code: "Neo.TransientError.General.DatabaseUnavailable"})
	assert.Equal(t, domain.KindTransient, domain.KindOf(transient))

	plain := Classify("x", errors.New("syntax error"))
	assert.Equal(t, domain.KindUnknown, domain.KindOf(plain))

	cfg := domain.Configf("f", "v", "bad")
	assert.Same(t, cfg, Classify("x", cfg))
}
