package codegen

import (
	"errors"
	"strings"
	"testing"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

func TestRowStrides(t *testing.T) {
	if s := rowStrides([]int64{16, 8}, []int{0, 1}); s != [2]int64{1, 16} {
		t.Fatalf("row-major strides wrong: %v", s)
	}
	if s := rowStrides([]int64{16, 8}, []int{1, 0}); s != [2]int64{8, 1} {
		t.Fatalf("column-major strides wrong: %v", s)
	}
}

func buildStagedDot(t *testing.T, elem *tir.ScalarType, accum *tir.ScalarType) (*tir.Module, *layout.Info, *layout.Shared, *layout.Shared) {
	t.Helper()
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	info := layout.NewInfo()
	dist := layout.FitDistributed([]int64{8, 8}, []int{0, 1}, 32, nil)
	b.Func("matmul8", tir.Void)
	b.Block("entry")
	av := b.SplatFloat(tir.Tile(elem, 8, 8), 1)
	bv := b.SplatFloat(tir.Tile(elem, 8, 8), 2)
	csA := b.CopyToShared(av)
	csB := b.CopyToShared(bv)
	b.Barrier()
	c0 := b.SplatFloat(tir.Tile(accum, 8, 8), 0)
	d := b.Dot(csA, csB, c0)
	b.Return(nil)
	for _, v := range []tir.Value{av, bv, c0, d} {
		info.SetLayout(v, dist)
	}
	shA := info.NewShared([]int64{8, 8}, []int{0, 1}, elem)
	shB := info.NewShared([]int64{8, 8}, []int{0, 1}, elem)
	info.SetLayout(csA, shA)
	info.SetLayout(csB, shB)
	info.Alloc.Place(shA)
	info.Alloc.Place(shB)
	return mod, info, shA, shB
}

func TestDotAccumulatesThroughFMA(t *testing.T) {
	mod, info, _, _ := buildStagedDot(t, tir.FP32, tir.FP32)
	got := lowerKernel(t, mod, info, Target{SM: 80, NumWarps: 1})
	// 2 accumulator elements per lane, 8 steps along k
	if n := strings.Count(got, "call float @llvm.fmuladd.f32("); n != 16 {
		t.Fatalf("expected 16 fused multiply-adds, got %d:\n%s", n, got)
	}
	// 8 row reads shared across the lane, 16 column reads
	if n := strings.Count(got, "load float, float addrspace(3)*"); n != 24 {
		t.Fatalf("expected 24 operand reads, got %d:\n%s", n, got)
	}
	if !strings.Contains(got, "declare float @llvm.fmuladd.f32(float, float, float)") {
		t.Fatalf("missing the fma declaration:\n%s", got)
	}
}

func TestDotNeedsStagedOperands(t *testing.T) {
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	info := layout.NewInfo()
	dist := layout.FitDistributed([]int64{8, 8}, []int{0, 1}, 32, nil)
	b.Func("matmul8", tir.Void)
	b.Block("entry")
	av := b.SplatFloat(tir.Tile(tir.FP32, 8, 8), 1)
	bv := b.SplatFloat(tir.Tile(tir.FP32, 8, 8), 2)
	c0 := b.SplatFloat(tir.Tile(tir.FP32, 8, 8), 0)
	d := b.Dot(av, bv, c0)
	b.Return(nil)
	for _, v := range []tir.Value{av, bv, c0, d} {
		info.SetLayout(v, dist)
	}
	_, err := Generate(mod, info, Target{SM: 80, NumWarps: 1})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected an unsupported failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "staged in shared memory") {
		t.Fatalf("unexpected message %q", err)
	}
}

func TestDotRejectsSwizzledOperands(t *testing.T) {
	mod, info, shA, _ := buildStagedDot(t, tir.FP32, tir.FP32)
	shA.MaxPhase = 2
	_, err := Generate(mod, info, Target{SM: 80, NumWarps: 1})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected an unsupported failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "unswizzled") {
		t.Fatalf("unexpected message %q", err)
	}
}

func TestDotRejectsMixedPrecision(t *testing.T) {
	mod, info, _, _ := buildStagedDot(t, tir.FP16, tir.FP32)
	_, err := Generate(mod, info, Target{SM: 80, NumWarps: 1})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected an unsupported failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "mixes operand and accumulator precision") {
		t.Fatalf("unexpected message %q", err)
	}
}

func TestDotRejectsIntElements(t *testing.T) {
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	info := layout.NewInfo()
	dist := layout.FitDistributed([]int64{8, 8}, []int{0, 1}, 32, nil)
	b.Func("matmul8", tir.Void)
	b.Block("entry")
	av := b.SplatInt(tir.Tile(tir.I32, 8, 8), 1)
	bv := b.SplatInt(tir.Tile(tir.I32, 8, 8), 2)
	csA := b.CopyToShared(av)
	csB := b.CopyToShared(bv)
	c0 := b.SplatInt(tir.Tile(tir.I32, 8, 8), 0)
	d := b.Dot(csA, csB, c0)
	b.Return(nil)
	for _, v := range []tir.Value{av, bv, c0, d} {
		info.SetLayout(v, dist)
	}
	shA := info.NewShared([]int64{8, 8}, []int{0, 1}, tir.I32)
	shB := info.NewShared([]int64{8, 8}, []int{0, 1}, tir.I32)
	info.SetLayout(csA, shA)
	info.SetLayout(csB, shB)
	info.Alloc.Place(shA)
	info.Alloc.Place(shB)
	_, err := Generate(mod, info, Target{SM: 80, NumWarps: 1})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected an unsupported failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "dot over") {
		t.Fatalf("unexpected message %q", err)
	}
}
