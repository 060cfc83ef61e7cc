package codegen

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"tilegen/internal/layout"
)

// laneEval interprets the straight-line integer prologue of one lane. The
// coordinate materialization only ever emits thread id reads and i32
// arithmetic, so this is enough to read coordinates back as numbers.
type laneEval struct {
	vals map[value.Value]int64
}

func evalBlock(t *testing.T, blk *ir.Block, tid int64) *laneEval {
	t.Helper()
	e := &laneEval{vals: make(map[value.Value]int64)}
	for _, inst := range blk.Insts {
		switch i := inst.(type) {
		case *ir.InstCall:
			e.vals[i] = tid
		case *ir.InstAdd:
			e.vals[i] = e.value(t, i.X) + e.value(t, i.Y)
		case *ir.InstMul:
			e.vals[i] = e.value(t, i.X) * e.value(t, i.Y)
		case *ir.InstUDiv:
			e.vals[i] = e.value(t, i.X) / e.value(t, i.Y)
		case *ir.InstURem:
			e.vals[i] = e.value(t, i.X) % e.value(t, i.Y)
		case *ir.InstAnd:
			e.vals[i] = e.value(t, i.X) & e.value(t, i.Y)
		case *ir.InstXor:
			e.vals[i] = e.value(t, i.X) ^ e.value(t, i.Y)
		default:
			t.Fatalf("prologue holds a %T, which the lane evaluator cannot run", inst)
		}
	}
	return e
}

func (e *laneEval) value(t *testing.T, v value.Value) int64 {
	t.Helper()
	if c, ok := v.(*constant.Int); ok {
		return c.X.Int64()
	}
	x, ok := e.vals[v]
	if !ok {
		t.Fatalf("value %v was never defined", v)
	}
	return x
}

func probeGenerator(t *testing.T, info *layout.Info, tgt Target) *generator {
	t.Helper()
	g := newGenerator(info, tgt)
	g.mod = ir.NewModule()
	g.fn = g.mod.NewFunc("probe", types.Void)
	g.resetFunction()
	g.cur = g.fn.NewBlock("entry")
	return g
}

func TestScanlineCoversRankOneTile(t *testing.T) {
	info := layout.NewInfo()
	g := probeGenerator(t, info, Target{SM: 80, NumWarps: 4})
	l := layout.FitDistributed([]int64{128}, []int{0}, 128, nil)
	g.initScanline(l)
	ax := g.axes[info.LayoutAxis(l, 0)]
	if len(ax.values) != 1 {
		t.Fatalf("each lane should own one coordinate, got %d", len(ax.values))
	}
	seen := make(map[int64]int)
	for tid := int64(0); tid < 128; tid++ {
		e := evalBlock(t, g.fn.Blocks[0], tid)
		for _, v := range ax.values {
			seen[e.value(t, v)]++
		}
	}
	if len(seen) != 128 {
		t.Fatalf("coordinates cover %d of 128 cells", len(seen))
	}
	for c, n := range seen {
		if n != 1 {
			t.Fatalf("coordinate %d owned by %d lanes", c, n)
		}
	}
}

func TestScanlineCoversRankTwoTile(t *testing.T) {
	info := layout.NewInfo()
	g := probeGenerator(t, info, Target{SM: 80, NumWarps: 2})
	l := &layout.Distributed{
		Shape:   []int64{64, 4},
		Order:   []int{0, 1},
		Lanes:   []int{16, 4},
		PerLane: []int{2, 1},
	}
	g.initScanline(l)
	ax0 := g.axes[info.LayoutAxis(l, 0)]
	ax1 := g.axes[info.LayoutAxis(l, 1)]
	if ax0.contiguous != 2 {
		t.Fatalf("dimension 0 keeps %d elements contiguous, want 2", ax0.contiguous)
	}
	if len(ax0.values) != 4 || len(ax1.values) != 1 {
		t.Fatalf("per-lane footprint is %dx%d, want 4x1", len(ax0.values), len(ax1.values))
	}
	type cell struct{ c0, c1 int64 }
	seen := make(map[cell]int)
	for tid := int64(0); tid < 64; tid++ {
		e := evalBlock(t, g.fn.Blocks[0], tid)
		for _, v0 := range ax0.values {
			for _, v1 := range ax1.values {
				seen[cell{e.value(t, v0), e.value(t, v1)}]++
			}
		}
	}
	if len(seen) != 64*4 {
		t.Fatalf("coordinates cover %d of %d cells", len(seen), 64*4)
	}
	for c, n := range seen {
		if n != 1 {
			t.Fatalf("cell %v owned by %d lanes", c, n)
		}
	}
}

func TestScanlinePairsAdjacentElements(t *testing.T) {
	info := layout.NewInfo()
	g := probeGenerator(t, info, Target{SM: 80, NumWarps: 1})
	l := layout.FitDistributed([]int64{128}, []int{0}, 32, []int{2})
	g.initScanline(l)
	ax := g.axes[info.LayoutAxis(l, 0)]
	if len(ax.values) != 4 {
		t.Fatalf("each lane should own 4 coordinates, got %d", len(ax.values))
	}
	e := evalBlock(t, g.fn.Blocks[0], 5)
	got := make([]int64, len(ax.values))
	for i, v := range ax.values {
		got[i] = e.value(t, v)
	}
	// lane 5 owns two adjacent elements, then strides by a block of 64
	want := []int64{10, 11, 74, 75}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("lane 5 owns %v, want %v", got, want)
		}
	}
}

func TestMatrixUnitCoversAccumulatorSM80(t *testing.T) {
	info := layout.NewInfo()
	g := probeGenerator(t, info, Target{SM: 80, NumWarps: 1})
	l := layout.NewMatrixUnit([]int64{16, 8}, []int{1, 1}, 80)
	g.initMatrixUnit(l)
	axM := g.axes[info.LayoutAxis(l, 0)]
	axN := g.axes[info.LayoutAxis(l, 1)]
	if len(axM.values) != 2 || len(axN.values) != 2 {
		t.Fatalf("fragment footprint is %dx%d, want 2x2", len(axM.values), len(axN.values))
	}
	checkCellCoverage(t, g, axM, axN, 32, 16, 8)
}

func TestMatrixUnitCoversAccumulatorSM70(t *testing.T) {
	info := layout.NewInfo()
	g := probeGenerator(t, info, Target{SM: 70, NumWarps: 1})
	l := layout.NewMatrixUnit([]int64{16, 16}, []int{1, 1}, 70)
	g.initMatrixUnit(l)
	axM := g.axes[info.LayoutAxis(l, 0)]
	axN := g.axes[info.LayoutAxis(l, 1)]
	if len(axM.values) != 2 || len(axN.values) != 4 {
		t.Fatalf("fragment footprint is %dx%d, want 2x4", len(axM.values), len(axN.values))
	}
	checkCellCoverage(t, g, axM, axN, 32, 16, 16)
}

func checkCellCoverage(t *testing.T, g *generator, axM, axN coordAxis, threads, rows, cols int64) {
	t.Helper()
	type cell struct{ m, n int64 }
	seen := make(map[cell]int)
	for tid := int64(0); tid < threads; tid++ {
		e := evalBlock(t, g.fn.Blocks[0], tid)
		for _, vm := range axM.values {
			for _, vn := range axN.values {
				c := cell{e.value(t, vm), e.value(t, vn)}
				if c.m < 0 || c.m >= rows || c.n < 0 || c.n >= cols {
					t.Fatalf("cell %v is outside the %dx%d tile", c, rows, cols)
				}
				seen[c]++
			}
		}
	}
	if int64(len(seen)) != rows*cols {
		t.Fatalf("fragments cover %d of %d cells", len(seen), rows*cols)
	}
	for c, n := range seen {
		if n != 1 {
			t.Fatalf("cell %v owned by %d lanes", c, n)
		}
	}
}
