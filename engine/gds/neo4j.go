package gds

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"golang.org/x/time/rate"

	"github.com/WessleyAI/rollwin/pkg/repo"
)

// Conn holds what Connect needs to reach the server.
type Conn struct {
	URI                          string
	User                         string
	Password                     string
	Database                     string
	MaxConnectionLifetime        time.Duration
	MaxConnectionPoolSize        int
	ConnectionAcquisitionTimeout time.Duration
	// CallsPerSecond paces engine calls. Zero disables pacing.
	CallsPerSecond float64
	Logger         *slog.Logger
}

// Client is the Neo4j GDS implementation of Engine.
type Client struct {
	driver  neo4j.DriverWithContext
	opener  repo.Opener
	limiter *rate.Limiter
	log     *slog.Logger
}

var _ Engine = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLimiter paces every call through l.
func WithLimiter(l *rate.Limiter) Option { return func(c *Client) { c.limiter = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// NewClient builds a client on an existing session opener.
func NewClient(opener repo.Opener, opts ...Option) *Client {
	c := &Client{opener: opener, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect opens a driver, verifies connectivity and returns a client on it.
// Socket keep-alive, lifetime and acquisition timeouts are the only timeouts
// engine calls are subject to.
func Connect(ctx context.Context, cn Conn) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(cn.URI, neo4j.BasicAuth(cn.User, cn.Password, ""),
		func(c *config.Config) {
			c.SocketKeepalive = true
			if cn.MaxConnectionLifetime > 0 {
				c.MaxConnectionLifetime = cn.MaxConnectionLifetime
			}
			if cn.MaxConnectionPoolSize > 0 {
				c.MaxConnectionPoolSize = cn.MaxConnectionPoolSize
			}
			if cn.ConnectionAcquisitionTimeout > 0 {
				c.ConnectionAcquisitionTimeout = cn.ConnectionAcquisitionTimeout
			}
		})
	if err != nil {
		return nil, Classify("connect", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, Classify("verify connectivity", err)
	}

	opts := []Option{}
	if cn.Logger != nil {
		opts = append(opts, WithLogger(cn.Logger))
	}
	if cn.CallsPerSecond > 0 {
		opts = append(opts, WithLimiter(rate.NewLimiter(rate.Limit(cn.CallsPerSecond), 1)))
	}
	c := NewClient(repo.NewDriverOpener(driver, cn.Database), opts...)
	c.driver = driver
	return c, nil
}

// Close closes the underlying driver.
func (c *Client) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

func (c *Client) rows(ctx context.Context, op, cypher string, params map[string]any) ([]map[string]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	start := time.Now()
	rows, err := repo.Rows(ctx, c.opener, cypher, params)
	c.log.Debug("gds call", "op", op, "rows", len(rows), "duration", time.Since(start), "error", err)
	return rows, Classify(op, err)
}

func (c *Client) single(ctx context.Context, op, cypher string, params map[string]any) (map[string]any, error) {
	rows, err := c.rows(ctx, op, cypher, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, Classify(op, repo.ErrNoRows)
	}
	return rows[0], nil
}

func (c *Client) GraphExists(ctx context.Context, name string) (bool, error) {
	row, err := c.single(ctx, "graph.exists",
		"CALL gds.graph.exists($name) YIELD exists RETURN exists",
		map[string]any{"name": name})
	if err != nil {
		return false, err
	}
	ok, err := repo.Bool(row, "exists")
	return ok, Classify("graph.exists", err)
}

func (c *Client) ListGraphs(ctx context.Context) ([]string, error) {
	rows, err := c.rows(ctx, "graph.list",
		"CALL gds.graph.list() YIELD graphName RETURN graphName ORDER BY graphName", nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		n, err := repo.String(row, "graphName")
		if err != nil {
			return nil, Classify("graph.list", err)
		}
		names = append(names, n)
	}
	return names, nil
}

func (c *Client) GraphSchema(ctx context.Context, name string) (Schema, error) {
	row, err := c.single(ctx, "graph.schema",
		"CALL gds.graph.list($name) YIELD schemaWithOrientation RETURN schemaWithOrientation AS schema",
		map[string]any{"name": name})
	if err != nil {
		return Schema{}, err
	}
	raw, err := repo.Map(row, "schema")
	if err != nil {
		return Schema{}, Classify("graph.schema", err)
	}
	nodes, _ := raw["nodes"].(map[string]any)
	rels, _ := raw["relationships"].(map[string]any)
	return Schema{NodeProperties: propertyKeys(nodes), RelProperties: propertyKeys(rels)}, nil
}

// propertyKeys reads {label: {prop: type}} and, for relationships,
// {type: {direction: ..., properties: {prop: type}}}.
func propertyKeys(by map[string]any) map[string][]string {
	out := make(map[string][]string, len(by))
	for key, v := range by {
		props, _ := v.(map[string]any)
		if nested, ok := props["properties"].(map[string]any); ok {
			props = nested
		}
		keys := make([]string, 0, len(props))
		for p := range props {
			if p == "direction" || p == "orientation" {
				continue
			}
			keys = append(keys, p)
		}
		sort.Strings(keys)
		out[key] = keys
	}
	return out
}

func mappings(ms []PropertyMapping) map[string]any {
	out := make(map[string]any, len(ms))
	for _, m := range ms {
		p := map[string]any{"property": m.Name}
		if m.Default != nil {
			p["defaultValue"] = m.Default
		}
		out[m.Name] = p
	}
	return out
}

func (c *Client) Project(ctx context.Context, spec ProjectionSpec) (GraphStats, error) {
	nodeProps := mappings(spec.NodeProperties)
	nodes := make(map[string]any, len(spec.NodeLabels))
	for _, l := range spec.NodeLabels {
		nodes[l] = map[string]any{"label": l, "properties": nodeProps}
	}
	relProps := mappings(spec.RelProperties)
	rels := make(map[string]any, len(spec.RelTypes))
	for _, t := range spec.RelTypes {
		rels[t] = map[string]any{"type": t, "orientation": "NATURAL", "properties": relProps}
	}
	row, err := c.single(ctx, "graph.project",
		`CALL gds.graph.project($name, $nodes, $rels, {readConcurrency: $readConcurrency})
YIELD graphName, nodeCount, relationshipCount
RETURN graphName, nodeCount, relationshipCount`,
		map[string]any{"name": spec.Name, "nodes": nodes, "rels": rels, "readConcurrency": spec.ReadConcurrency})
	if err != nil {
		return GraphStats{}, err
	}
	return c.stats("graph.project", row)
}

func (c *Client) stats(op string, row map[string]any) (GraphStats, error) {
	name, err := repo.String(row, "graphName")
	if err != nil {
		return GraphStats{}, Classify(op, err)
	}
	nodes, err := repo.Int(row, "nodeCount")
	if err != nil {
		return GraphStats{}, Classify(op, err)
	}
	rels, err := repo.Int(row, "relationshipCount")
	if err != nil {
		return GraphStats{}, Classify(op, err)
	}
	return GraphStats{Name: name, NodeCount: nodes, RelationshipCount: rels}, nil
}

func (c *Client) Filter(ctx context.Context, spec FilterSpec) (GraphStats, error) {
	params := spec.Params
	if params == nil {
		params = map[string]any{}
	}
	row, err := c.single(ctx, "graph.filter",
		`CALL gds.graph.filter($name, $from, $nodeFilter, $relFilter, {parameters: $params})
YIELD graphName, nodeCount, relationshipCount
RETURN graphName, nodeCount, relationshipCount`,
		map[string]any{
			"name":       spec.Name,
			"from":       spec.From,
			"nodeFilter": spec.Nodes.Render("n"),
			"relFilter":  spec.Rels.Render("r"),
			"params":     params,
		})
	if err != nil {
		return GraphStats{}, err
	}
	return c.stats("graph.filter", row)
}

func (c *Client) Drop(ctx context.Context, name string) error {
	_, err := c.rows(ctx, "graph.drop",
		"CALL gds.graph.drop($name, false) YIELD graphName RETURN graphName",
		map[string]any{"name": name})
	return err
}

var procedureName = regexp.MustCompile(`^gds(\.[A-Za-z0-9]+)+\.mutate$`)

func (c *Client) Mutate(ctx context.Context, call MutateCall) (int64, error) {
	if !procedureName.MatchString(call.Procedure) {
		return 0, fmt.Errorf("gds: %q is not a mutate procedure", call.Procedure)
	}
	op := call.Procedure
	row, err := c.single(ctx, op,
		"CALL "+call.Procedure+"($graph, $config) YIELD nodePropertiesWritten RETURN nodePropertiesWritten",
		map[string]any{"graph": call.Graph, "config": call.Config})
	if err != nil {
		return 0, err
	}
	n, err := repo.Int(row, "nodePropertiesWritten")
	return n, Classify(op, err)
}

func (c *Client) StreamNodeProperties(ctx context.Context, req NodeStream) ([]NodeRow, error) {
	const op = "graph.nodeProperties.stream"
	keys := req.Keys
	if keys == nil {
		keys = []string{}
	}
	rows, err := c.rows(ctx, op,
		`CALL gds.graph.nodeProperties.stream($graph, $properties)
YIELD nodeId, nodeProperty, propertyValue
WITH nodeId, collect([nodeProperty, propertyValue]) AS pairs
WITH nodeId, pairs, gds.util.asNode(nodeId) AS n
RETURN nodeId, labels(n) AS labels, [k IN $keys | n[k]] AS keys, pairs
ORDER BY nodeId`,
		map[string]any{"graph": req.Graph, "properties": req.Properties, "keys": keys})
	if err != nil {
		return nil, err
	}

	out := make([]NodeRow, 0, len(rows))
	for _, row := range rows {
		nr, err := decodeNodeRow(row, keys)
		if err != nil {
			return nil, Classify(op, err)
		}
		out = append(out, nr)
	}
	return out, nil
}

func decodeNodeRow(row map[string]any, keys []string) (NodeRow, error) {
	id, err := repo.Int(row, "nodeId")
	if err != nil {
		return NodeRow{}, err
	}
	labels, err := repo.Strings(row, "labels")
	if err != nil {
		return NodeRow{}, err
	}
	keyVals, ok := row["keys"].([]any)
	if !ok || len(keyVals) != len(keys) {
		return NodeRow{}, &repo.FieldError{Key: "keys", Want: fmt.Sprintf("list of %d values", len(keys)), Got: row["keys"]}
	}
	pairs, ok := row["pairs"].([]any)
	if !ok {
		return NodeRow{}, &repo.FieldError{Key: "pairs", Want: "list of [property, value]", Got: row["pairs"]}
	}

	nr := NodeRow{ID: id, Labels: labels, Keys: make(map[string]any, len(keys)), Values: make(map[string]any, len(pairs))}
	for i, k := range keys {
		nr.Keys[k] = keyVals[i]
	}
	for _, p := range pairs {
		pair, ok := p.([]any)
		if !ok || len(pair) != 2 {
			return NodeRow{}, &repo.FieldError{Key: "pairs", Want: "[property, value]", Got: p}
		}
		name, ok := pair[0].(string)
		if !ok {
			return NodeRow{}, &repo.FieldError{Key: "pairs", Want: "property name", Got: pair[0]}
		}
		nr.Values[name] = pair[1]
	}
	return nr, nil
}

func (c *Client) StreamRelationships(ctx context.Context, graph string) ([]RelRow, error) {
	const op = "graph.relationships.stream"
	rows, err := c.rows(ctx, op,
		`CALL gds.graph.relationships.stream($graph)
YIELD sourceNodeId, targetNodeId, relationshipType
RETURN sourceNodeId, targetNodeId, relationshipType
ORDER BY sourceNodeId, targetNodeId, relationshipType`,
		map[string]any{"graph": graph})
	if err != nil {
		return nil, err
	}
	out := make([]RelRow, 0, len(rows))
	for _, row := range rows {
		src, err := repo.Int(row, "sourceNodeId")
		if err != nil {
			return nil, Classify(op, err)
		}
		dst, err := repo.Int(row, "targetNodeId")
		if err != nil {
			return nil, Classify(op, err)
		}
		typ, err := repo.String(row, "relationshipType")
		if err != nil {
			return nil, Classify(op, err)
		}
		out = append(out, RelRow{Source: src, Target: dst, Type: typ})
	}
	return out, nil
}

// Query runs arbitrary Cypher, read or write, on a fresh session.
func (c *Client) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return c.rows(ctx, "cypher", cypher, params)
}
