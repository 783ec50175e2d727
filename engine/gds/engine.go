// Package gds is the boundary to the remote graph engine: a Neo4j server
// with the Graph Data Science library. Every catalog, algorithm and Cypher
// call the pipeline makes goes through Engine.
package gds

import (
	"context"
	"sort"
)

// Engine is one connection to the graph engine. Implementations classify
// failures that are expected to clear after reconnecting as
// domain.TransientEngineError.
type Engine interface {
	GraphExists(ctx context.Context, name string) (bool, error)
	GraphSchema(ctx context.Context, name string) (Schema, error)
	ListGraphs(ctx context.Context) ([]string, error)
	Project(ctx context.Context, spec ProjectionSpec) (GraphStats, error)
	Filter(ctx context.Context, spec FilterSpec) (GraphStats, error)
	Drop(ctx context.Context, name string) error
	Mutate(ctx context.Context, call MutateCall) (int64, error)
	StreamNodeProperties(ctx context.Context, req NodeStream) ([]NodeRow, error)
	StreamRelationships(ctx context.Context, graph string) ([]RelRow, error)
	Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Close(ctx context.Context) error
}

// GraphStats is what the engine reports after creating a graph.
type GraphStats struct {
	Name              string
	NodeCount         int64
	RelationshipCount int64
}

// Schema lists property keys per node label and per relationship type.
type Schema struct {
	NodeProperties map[string][]string
	RelProperties  map[string][]string
}

// MissingNodeProperties returns, per label, the required keys the schema
// lacks. An empty result means every label carries every key.
func (s Schema) MissingNodeProperties(required []string) map[string][]string {
	return missing(s.NodeProperties, required)
}

// MissingRelProperties is MissingNodeProperties for relationship types.
func (s Schema) MissingRelProperties(required []string) map[string][]string {
	return missing(s.RelProperties, required)
}

func missing(by map[string][]string, required []string) map[string][]string {
	out := make(map[string][]string)
	for key, props := range by {
		have := make(map[string]bool, len(props))
		for _, p := range props {
			have[p] = true
		}
		for _, r := range required {
			if !have[r] {
				out[key] = append(out[key], r)
			}
		}
		sort.Strings(out[key])
		if len(out[key]) == 0 {
			delete(out, key)
		}
	}
	return out
}

// PropertyMapping projects one property with a fallback for entities that
// lack it, so missing data never silently drops a node or relationship.
type PropertyMapping struct {
	Name    string
	Default any
}

// ProjectionSpec describes the full-history base graph.
type ProjectionSpec struct {
	Name            string
	NodeLabels      []string
	RelTypes        []string
	NodeProperties  []PropertyMapping
	RelProperties   []PropertyMapping
	ReadConcurrency int
}

// FilterSpec derives graph Name from graph From.
type FilterSpec struct {
	Name   string
	From   string
	Nodes  Expr
	Rels   Expr
	Params map[string]any
}

// MutateCall runs one algorithm in mutate mode. Config must carry
// mutateProperty.
type MutateCall struct {
	Procedure string
	Graph     string
	Config    map[string]any
}

// MutateProperty returns the property the call writes.
func (c MutateCall) MutateProperty() string {
	s, _ := c.Config["mutateProperty"].(string)
	return s
}

// NodeStream asks for node properties of a graph plus database properties
// used as stable identifiers.
type NodeStream struct {
	Graph      string
	Properties []string
	Keys       []string
}

// NodeRow is one streamed node. ID is the engine's internal id, only valid
// within the current projection.
type NodeRow struct {
	ID     int64
	Labels []string
	Keys   map[string]any
	Values map[string]any
}

// RelRow is one streamed relationship.
type RelRow struct {
	Source int64
	Target int64
	Type   string
}
