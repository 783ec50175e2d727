// Package gdstest is an in-memory graph engine for tests. It holds a small
// property graph, a graph catalog and emulations of the GDS procedures the
// pipeline calls, and it counts every call.
package gdstest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/WessleyAI/rollwin/engine/domain"
	"github.com/WessleyAI/rollwin/engine/gds"
)

// Node is a database node.
type Node struct {
	ID     int64
	Labels []string
	Props  map[string]any
}

// Rel is a database relationship.
type Rel struct {
	Source int64
	Target int64
	Type   string
	Props  map[string]any
}

type edge struct {
	src, dst int64
	typ      string
	props    map[string]any
}

type graph struct {
	nodes     map[int64]map[string]any
	labels    map[int64][]string
	edges     []edge
	nodeProps map[string][]string
	relProps  map[string][]string
}

// Server is the shared state behind every connection.
type Server struct {
	mu       sync.Mutex
	nodes    []Node
	rels     []Rel
	graphs   map[string]*graph
	calls    map[string]int
	connects int
	inject   func(op, graph string) error
	onQuery  func(cypher string, params map[string]any) ([]map[string]any, error)
}

// NewServer returns an empty server.
func NewServer() *Server {
	return &Server{graphs: map[string]*graph{}, calls: map[string]int{}}
}

// AddNode stores a node and returns its internal id.
func (s *Server) AddNode(labels []string, props map[string]any) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.nodes))
	s.nodes = append(s.nodes, Node{ID: id, Labels: labels, Props: props})
	return id
}

// AddRel stores a relationship.
func (s *Server) AddRel(src, dst int64, typ string, props map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rels = append(s.rels, Rel{Source: src, Target: dst, Type: typ, Props: props})
}

// Inject installs a hook consulted before every call, including "connect".
// A non-nil return fails the call with that error.
func (s *Server) Inject(f func(op, graph string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inject = f
}

// OnQuery answers Engine.Query calls.
func (s *Server) OnQuery(f func(cypher string, params map[string]any) ([]map[string]any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onQuery = f
}

// Calls returns how many times op was called. Mutations count as
// "mutate:<procedure>".
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of engine calls across all connections.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// Connects returns how many connections were opened.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// ResetCalls clears the call counters.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = map[string]int{}
	s.connects = 0
}

// Graphs lists the catalog.
func (s *Server) Graphs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graphNames()
}

func (s *Server) graphNames() []string {
	names := make([]string, 0, len(s.graphs))
	for n := range s.graphs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DropAll empties the catalog, as a server restart would.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs = map[string]*graph{}
}

// Connect opens a connection. Its signature fits a resilience.Connector.
func (s *Server) Connect(context.Context) (gds.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.inject != nil {
		if err := s.inject("connect", ""); err != nil {
			return nil, gds.Classify("connect", err)
		}
	}
	return &Conn{s: s}, nil
}

// Conn is one connection to a Server.
type Conn struct {
	s      *Server
	closed bool
}

var _ gds.Engine = (*Conn)(nil)

var errSessionExpired = errors.New("session expired")

// enter locks the server, records the call and runs the injection hook.
// The caller must unlock.
func (c *Conn) enter(op, graph string) error {
	c.s.mu.Lock()
	c.s.calls[op]++
	if c.closed {
		return &domain.TransientEngineError{Op: op, Wrapped: errSessionExpired}
	}
	if c.s.inject != nil {
		if err := c.s.inject(op, graph); err != nil {
			return gds.Classify(op, err)
		}
	}
	return nil
}

func (c *Conn) leave() { c.s.mu.Unlock() }

func (c *Conn) lookup(op, name string) (*graph, error) {
	g, ok := c.s.graphs[name]
	if !ok {
		return nil, gds.Classify(op, fmt.Errorf("Graph with name `%s` does not exist on database `neo4j`", name))
	}
	return g, nil
}

func (c *Conn) Close(context.Context) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) GraphExists(_ context.Context, name string) (bool, error) {
	defer c.leave()
	if err := c.enter("exists", name); err != nil {
		return false, err
	}
	_, ok := c.s.graphs[name]
	return ok, nil
}

func (c *Conn) ListGraphs(context.Context) ([]string, error) {
	defer c.leave()
	if err := c.enter("list", ""); err != nil {
		return nil, err
	}
	return c.s.graphNames(), nil
}

func (c *Conn) GraphSchema(_ context.Context, name string) (gds.Schema, error) {
	defer c.leave()
	if err := c.enter("schema", name); err != nil {
		return gds.Schema{}, err
	}
	g, err := c.lookup("schema", name)
	if err != nil {
		return gds.Schema{}, err
	}
	return gds.Schema{NodeProperties: copySchema(g.nodeProps), RelProperties: copySchema(g.relProps)}, nil
}

func (c *Conn) Project(_ context.Context, spec gds.ProjectionSpec) (gds.GraphStats, error) {
	defer c.leave()
	if err := c.enter("project", spec.Name); err != nil {
		return gds.GraphStats{}, err
	}
	if _, ok := c.s.graphs[spec.Name]; ok {
		return gds.GraphStats{}, fmt.Errorf("gds: graph.project: a graph with name '%s' already exists", spec.Name)
	}

	g := &graph{
		nodes:     map[int64]map[string]any{},
		labels:    map[int64][]string{},
		nodeProps: map[string][]string{},
		relProps:  map[string][]string{},
	}
	for _, n := range c.s.nodes {
		labels := intersect(n.Labels, spec.NodeLabels)
		if len(labels) == 0 {
			continue
		}
		g.nodes[n.ID] = project(n.Props, spec.NodeProperties)
		g.labels[n.ID] = labels
		for _, l := range labels {
			g.nodeProps[l] = mappingNames(spec.NodeProperties)
		}
	}
	for _, r := range c.s.rels {
		if !contains(spec.RelTypes, r.Type) {
			continue
		}
		_, okS := g.nodes[r.Source]
		_, okT := g.nodes[r.Target]
		if !okS || !okT {
			continue
		}
		g.edges = append(g.edges, edge{src: r.Source, dst: r.Target, typ: r.Type, props: project(r.Props, spec.RelProperties)})
		g.relProps[r.Type] = mappingNames(spec.RelProperties)
	}
	c.s.graphs[spec.Name] = g
	return gds.GraphStats{Name: spec.Name, NodeCount: int64(len(g.nodes)), RelationshipCount: int64(len(g.edges))}, nil
}

// project copies mapped properties, falling back to defaults. A property
// with neither a value nor a default is left unset.
func project(src map[string]any, ms []gds.PropertyMapping) map[string]any {
	out := make(map[string]any, len(ms))
	for _, m := range ms {
		v, ok := src[m.Name]
		if !ok || v == nil {
			if m.Default == nil {
				continue
			}
			v = m.Default
		}
		out[m.Name] = wire(v)
	}
	return out
}

func (c *Conn) Filter(_ context.Context, spec gds.FilterSpec) (gds.GraphStats, error) {
	defer c.leave()
	if err := c.enter("filter", spec.Name); err != nil {
		return gds.GraphStats{}, err
	}
	if _, ok := c.s.graphs[spec.Name]; ok {
		return gds.GraphStats{}, fmt.Errorf("gds: graph.filter: a graph with name '%s' already exists", spec.Name)
	}
	from, err := c.lookup("graph.filter", spec.From)
	if err != nil {
		return gds.GraphStats{}, err
	}

	g := &graph{
		nodes:     map[int64]map[string]any{},
		labels:    map[int64][]string{},
		nodeProps: map[string][]string{},
		relProps:  map[string][]string{},
	}
	for id, props := range from.nodes {
		labels := from.labels[id]
		if !spec.Nodes.Eval(gds.Env{Labels: labels, Props: props, Params: spec.Params}) {
			continue
		}
		g.nodes[id] = copyProps(props)
		g.labels[id] = labels
		for _, l := range labels {
			g.nodeProps[l] = append([]string(nil), from.nodeProps[l]...)
		}
	}
	for _, e := range from.edges {
		_, okS := g.nodes[e.src]
		_, okT := g.nodes[e.dst]
		if !okS || !okT {
			continue
		}
		if !spec.Rels.Eval(gds.Env{Labels: []string{e.typ}, Props: e.props, Params: spec.Params}) {
			continue
		}
		g.edges = append(g.edges, edge{src: e.src, dst: e.dst, typ: e.typ, props: copyProps(e.props)})
		g.relProps[e.typ] = append([]string(nil), from.relProps[e.typ]...)
	}
	c.s.graphs[spec.Name] = g
	return gds.GraphStats{Name: spec.Name, NodeCount: int64(len(g.nodes)), RelationshipCount: int64(len(g.edges))}, nil
}

func (c *Conn) Drop(_ context.Context, name string) error {
	defer c.leave()
	if err := c.enter("drop", name); err != nil {
		return err
	}
	delete(c.s.graphs, name)
	return nil
}

func (c *Conn) Mutate(_ context.Context, call gds.MutateCall) (int64, error) {
	op := "mutate:" + call.Procedure
	defer c.leave()
	if err := c.enter(op, call.Graph); err != nil {
		return 0, err
	}
	g, err := c.lookup(call.Procedure, call.Graph)
	if err != nil {
		return 0, err
	}
	prop := call.MutateProperty()
	if prop == "" {
		return 0, fmt.Errorf("gds: %s: mutateProperty is required", call.Procedure)
	}
	values, err := emulate(g, call)
	if err != nil {
		return 0, err
	}
	for id, v := range values {
		g.nodes[id][prop] = v
	}
	for l := range g.nodeProps {
		if !contains(g.nodeProps[l], prop) {
			g.nodeProps[l] = append(g.nodeProps[l], prop)
			sort.Strings(g.nodeProps[l])
		}
	}
	return int64(len(values)), nil
}

func (c *Conn) StreamNodeProperties(_ context.Context, req gds.NodeStream) ([]gds.NodeRow, error) {
	defer c.leave()
	if err := c.enter("streamNodes", req.Graph); err != nil {
		return nil, err
	}
	g, err := c.lookup("graph.nodeProperties.stream", req.Graph)
	if err != nil {
		return nil, err
	}
	known := map[string]bool{}
	for _, props := range g.nodeProps {
		for _, p := range props {
			known[p] = true
		}
	}
	for _, p := range req.Properties {
		if len(g.nodes) > 0 && !known[p] {
			return nil, fmt.Errorf("gds: graph.nodeProperties.stream: could not find property key(s) ['%s']", p)
		}
	}

	ids := sortedIDs(g.nodes)
	rows := make([]gds.NodeRow, 0, len(ids))
	for _, id := range ids {
		db := c.s.nodes[id]
		row := gds.NodeRow{
			ID:     id,
			Labels: append([]string(nil), db.Labels...),
			Keys:   make(map[string]any, len(req.Keys)),
			Values: make(map[string]any, len(req.Properties)),
		}
		for _, k := range req.Keys {
			row.Keys[k] = wire(db.Props[k])
		}
		for _, p := range req.Properties {
			if v, ok := g.nodes[id][p]; ok {
				row.Values[p] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Conn) StreamRelationships(_ context.Context, name string) ([]gds.RelRow, error) {
	defer c.leave()
	if err := c.enter("streamRels", name); err != nil {
		return nil, err
	}
	g, err := c.lookup("graph.relationships.stream", name)
	if err != nil {
		return nil, err
	}
	rows := make([]gds.RelRow, 0, len(g.edges))
	for _, e := range g.edges {
		rows = append(rows, gds.RelRow{Source: e.src, Target: e.dst, Type: e.typ})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Type < b.Type
	})
	return rows, nil
}

func (c *Conn) Query(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	defer c.leave()
	if err := c.enter("query", ""); err != nil {
		return nil, err
	}
	if c.s.onQuery == nil {
		return nil, fmt.Errorf("gdstest: no query handler for %q", strings.TrimSpace(cypher))
	}
	return c.s.onQuery(cypher, params)
}

func sortedIDs(m map[int64]map[string]any) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func intersect(have, want []string) []string {
	var out []string
	for _, h := range have {
		if contains(want, h) {
			out = append(out, h)
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func mappingNames(ms []gds.PropertyMapping) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	sort.Strings(out)
	return out
}

func copyProps(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copySchema(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// wire converts a Go value to the shape the Bolt driver decodes it into.
func wire(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case []float64:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out
	case []int64:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	default:
		return v
	}
}

func intOf(v any, def int) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		if !math.IsNaN(x) {
			return int(x)
		}
	}
	return def
}
