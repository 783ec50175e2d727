package gdstest

import (
	"fmt"
	"math"

	"github.com/WessleyAI/rollwin/engine/gds"
)

// emulate computes deterministic stand-ins for the algorithms. The values
// only need to be stable and well-typed; they are not the real measures.
func emulate(g *graph, call gds.MutateCall) (map[int64]any, error) {
	cfg := call.Config
	out := make(map[int64]any, len(g.nodes))
	switch call.Procedure {
	case "gds.degree.mutate":
		orientation, _ := cfg["orientation"].(string)
		deg := degrees(g, orientation)
		for id := range g.nodes {
			out[id] = float64(deg[id])
		}
	case "gds.pageRank.mutate", "gds.betweenness.mutate", "gds.closeness.mutate", "gds.eigenvector.mutate":
		deg := degrees(g, "UNDIRECTED")
		salt := float64(len(call.Procedure))
		for id := range g.nodes {
			out[id] = (float64(deg[id]) + 1) / (float64(len(g.nodes)) + salt)
		}
	case "gds.wcc.mutate":
		for id, c := range components(g) {
			out[id] = c
		}
	case "gds.louvain.mutate":
		intermediate, _ := cfg["includeIntermediateCommunities"].(bool)
		for id, c := range components(g) {
			if intermediate {
				out[id] = []any{c, c}
			} else {
				out[id] = c
			}
		}
	case "gds.fastRP.mutate", "gds.node2vec.mutate":
		dim := intOf(cfg["embeddingDimension"], 0)
		if dim <= 0 {
			return nil, fmt.Errorf("gds: %s: embeddingDimension must be positive", call.Procedure)
		}
		for id := range g.nodes {
			out[id] = vector(id, dim, intOf(cfg["randomSeed"], 0))
		}
	case "gds.hashgnn.mutate":
		dim := intOf(cfg["outputDimension"], 0)
		if dim <= 0 {
			return nil, fmt.Errorf("gds: %s: outputDimension must be positive", call.Procedure)
		}
		for id := range g.nodes {
			out[id] = vector(id, dim, intOf(cfg["randomSeed"], 0))
		}
	default:
		return nil, fmt.Errorf("gds: there is no procedure with the name `%s` registered for this database instance", call.Procedure)
	}
	return out, nil
}

func degrees(g *graph, orientation string) map[int64]int {
	deg := make(map[int64]int, len(g.nodes))
	for _, e := range g.edges {
		switch orientation {
		case "REVERSE":
			deg[e.dst]++
		case "UNDIRECTED":
			deg[e.src]++
			deg[e.dst]++
		default:
			deg[e.src]++
		}
	}
	return deg
}

// components labels each node with the smallest id in its weakly connected
// component.
func components(g *graph) map[int64]int64 {
	parent := make(map[int64]int64, len(g.nodes))
	for id := range g.nodes {
		parent[id] = id
	}
	var find func(int64) int64
	find = func(x int64) int64 {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, e := range g.edges {
		a, b := find(e.src), find(e.dst)
		if a == b {
			continue
		}
		if a < b {
			parent[b] = a
		} else {
			parent[a] = b
		}
	}
	out := make(map[int64]int64, len(parent))
	for id := range parent {
		out[id] = find(id)
	}
	return out
}

func vector(id int64, dim, seed int) []any {
	v := make([]any, dim)
	for i := range v {
		v[i] = math.Sin(float64(id+1)*float64(i+1) + float64(seed))
	}
	return v
}
