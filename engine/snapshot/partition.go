package snapshot

import (
	"fmt"
	"sort"

	"github.com/WessleyAI/rollwin/engine/config"
	"github.com/WessleyAI/rollwin/engine/domain"
)

// Block is a named set of vector indices.
type Block struct {
	Name    string
	Indices []int
}

// PartitionTable splits a fixed-length vector into disjoint named blocks.
// Indices no block claims form the remainder block, so every index lands in
// exactly one block.
type PartitionTable struct {
	Dimension int
	Blocks    []Block
	Remainder Block
}

// NewPartitionTable validates blocks against dim and derives the remainder.
func NewPartitionTable(dim int, blocks []config.Block, remainder string) (PartitionTable, error) {
	if dim <= 0 {
		return PartitionTable{}, domain.Configf("export.feature_dimension", fmt.Sprint(dim), "must be positive")
	}
	if remainder == "" {
		return PartitionTable{}, domain.Configf("export.remainder_block", "", "name is required")
	}
	owner := make(map[int]string, dim)
	names := map[string]bool{remainder: true}
	pt := PartitionTable{Dimension: dim}
	for _, b := range blocks {
		if b.Name == "" {
			return PartitionTable{}, domain.Configf("export.blocks", "", "block name is required")
		}
		if names[b.Name] {
			return PartitionTable{}, domain.Configf("export.blocks", b.Name, "duplicate block name")
		}
		names[b.Name] = true
		if len(b.Indices) == 0 {
			return PartitionTable{}, domain.Configf("export.blocks", b.Name, "block has no indices")
		}
		for _, i := range b.Indices {
			if i < 0 || i >= dim {
				return PartitionTable{}, domain.Configf("export.blocks", b.Name,
					"index %d outside feature vector of dimension %d", i, dim)
			}
			if prev, ok := owner[i]; ok {
				return PartitionTable{}, domain.Configf("export.blocks", b.Name,
					"index %d already belongs to %s", i, prev)
			}
			owner[i] = b.Name
		}
		idx := append([]int(nil), b.Indices...)
		sort.Ints(idx)
		pt.Blocks = append(pt.Blocks, Block{Name: b.Name, Indices: idx})
	}

	pt.Remainder.Name = remainder
	for i := 0; i < dim; i++ {
		if _, ok := owner[i]; !ok {
			pt.Remainder.Indices = append(pt.Remainder.Indices, i)
		}
	}
	return pt, nil
}

// Names returns the block names followed by the remainder name.
func (p PartitionTable) Names() []string {
	out := make([]string, 0, len(p.Blocks)+1)
	for _, b := range p.Blocks {
		out = append(out, b.Name)
	}
	return append(out, p.Remainder.Name)
}

// Split slices vec into one sub-vector per name of Names. A vector of the
// wrong length is schema drift in the source data.
func (p PartitionTable) Split(vec []float64) ([][]float64, error) {
	if len(vec) != p.Dimension {
		return nil, &domain.SchemaDriftError{
			Source: "feature vector",
			Detail: fmt.Sprintf("length %d, partition expects %d", len(vec), p.Dimension),
		}
	}
	out := make([][]float64, 0, len(p.Blocks)+1)
	for _, b := range p.Blocks {
		out = append(out, gather(vec, b.Indices))
	}
	return append(out, gather(vec, p.Remainder.Indices)), nil
}

func gather(vec []float64, idx []int) []float64 {
	sub := make([]float64, len(idx))
	for j, i := range idx {
		sub[j] = vec[i]
	}
	return sub
}
