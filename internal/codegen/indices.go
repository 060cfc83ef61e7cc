package codegen

import (
	"github.com/llir/llvm/ir/value"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

// elemIndex is the coordinate tuple of one tile element, one i32 per
// dimension. Coordinates are canonical values, so equal tuples compare equal
// by identity.
type elemIndex []value.Value

// elemKey is the comparable form of an elemIndex, nil-padded to max rank.
type elemKey [3]value.Value

func keyOf(idx elemIndex) elemKey {
	var k elemKey
	copy(k[:], idx)
	return k
}

// coordAxis is one materialized distribution axis: the coordinates a lane
// covers along one dimension, how many of them are consecutive, and the
// lane's position on the axis.
type coordAxis struct {
	contiguous int
	values     []value.Value
	threadID   value.Value
}

// initIndices enumerates the element coordinates of v, fastest dimension
// innermost. Scalars get the single empty tuple; shared-resident values have
// no per-lane elements at all.
func (g *generator) initIndices(v tir.Value) error {
	if _, done := g.idxs[v.ID()]; done {
		return nil
	}
	bt, ok := v.Type().(*tir.TileType)
	if !ok {
		g.idxs[v.ID()] = []elemIndex{{}}
		return nil
	}
	l := g.info.LayoutOf(v)
	if l == nil {
		return g.preconditionf("tile %s has no layout", v.Name())
	}
	if _, shared := l.(*layout.Shared); shared {
		g.idxs[v.ID()] = nil
		return nil
	}
	rank := bt.Rank()
	axes := make([]coordAxis, rank)
	for d := 0; d < rank; d++ {
		if bt.Shape[d] > 1 {
			a, ok := g.axes[g.info.AxisOf(v, d)]
			if !ok {
				return g.internalf("dimension %d of %s has no materialized axis", d, v.Name())
			}
			axes[d] = a
		} else {
			axes[d] = coordAxis{contiguous: 1, values: []value.Value{g.i32(0)}}
		}
	}
	ord := ordOf(l, rank)
	g.ords[v.ID()] = ord
	total := 1
	for d := 0; d < rank; d++ {
		total *= len(axes[d].values)
	}
	out := make([]elemIndex, 0, total)
	for i := 0; i < total; i++ {
		idx := make(elemIndex, rank)
		rem := i
		for _, d := range ord {
			n := len(axes[d].values)
			idx[d] = axes[d].values[rem%n]
			rem /= n
		}
		out = append(out, idx)
	}
	g.idxs[v.ID()] = out
	return nil
}

func ordOf(l layout.Layout, rank int) []int {
	ord := layout.OrderOf(l)
	out := make([]int, rank)
	if len(ord) == rank {
		copy(out, ord)
		return out
	}
	for i := range out {
		out[i] = i
	}
	return out
}
